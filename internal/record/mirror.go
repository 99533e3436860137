package record

import (
	"context"
	"time"

	"github.com/edgewatch/edgewatch-core/internal/infrastructure/influxdb"
)

// PointWriter receives copies of stored records as time-series points.
// *influxdb.Client satisfies it; writes are queued and never block.
type PointWriter interface {
	WritePerformance(p influxdb.Performance)
	WriteDetection(deviceID string, code int, resourceType string, at time.Time)
}

// MirroredPerformanceRepository stores samples in the wrapped repository
// and then mirrors them to a PointWriter. Only stored samples are mirrored.
type MirroredPerformanceRepository struct {
	PerformanceRepository
	points PointWriter
}

func NewMirroredPerformanceRepository(repo PerformanceRepository, points PointWriter) *MirroredPerformanceRepository {
	return &MirroredPerformanceRepository{PerformanceRepository: repo, points: points}
}

func (r *MirroredPerformanceRepository) Create(ctx context.Context, s *PerformanceSample) error {
	if err := r.PerformanceRepository.Create(ctx, s); err != nil {
		return err
	}
	r.points.WritePerformance(influxdb.Performance{
		DeviceID:    s.DeviceID,
		CPUUsedRate: s.CPUUsedRate,
		MemUsedRate: s.MemUsedRate,
		DiskIORead:  s.DiskIORead,
		DiskIOWrite: s.DiskIOWrite,
		At:          s.CreatedAt,
	})
	return nil
}

// MirroredEventLogRepository does the same for detection events.
type MirroredEventLogRepository struct {
	EventLogRepository
	points PointWriter
}

func NewMirroredEventLogRepository(repo EventLogRepository, points PointWriter) *MirroredEventLogRepository {
	return &MirroredEventLogRepository{EventLogRepository: repo, points: points}
}

func (r *MirroredEventLogRepository) Create(ctx context.Context, e *EventLog) error {
	if err := r.EventLogRepository.Create(ctx, e); err != nil {
		return err
	}
	r.points.WriteDetection(e.DeviceID, e.Code, string(e.ResourceType), e.CreatedAt)
	return nil
}
