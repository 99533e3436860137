package session

import (
	"context"
	"fmt"

	"github.com/edgewatch/edgewatch-core/internal/device"
	"github.com/edgewatch/edgewatch-core/internal/media"
	"github.com/edgewatch/edgewatch-core/internal/notify"
	"github.com/edgewatch/edgewatch-core/internal/protocol"
	"github.com/edgewatch/edgewatch-core/internal/record"
)

// Detection event log fields.
const (
	detectionAction  = "enter mode"
	detectionMessage = "Intruder event %d"
)

var _ protocol.Handler = (*Session)(nil)

// HandleProfiler stores one performance sample.
func (s *Session) HandleProfiler(ctx context.Context, f protocol.ProfilerFrame) error {
	sample := &record.PerformanceSample{
		DeviceID:    s.deviceID,
		CPUUsedRate: f.CPUUsedRate,
		MemUsedRate: f.MemUsedRate,
		DiskIORead:  f.DiskIORead,
		DiskIOWrite: f.DiskIOWrite,
	}
	err := s.do(ctx, func(ctx context.Context) error {
		return s.deps.Samples.Create(ctx, sample)
	})
	if err != nil {
		return fmt.Errorf("%w: storing performance sample: %w", ErrPersistence, err)
	}
	return nil
}

// HandleDetectEvent stores the attached media, then logs the event and
// alerts the owner by email and in-app. Nothing after the media write
// happens if it fails. Incomplete frames are ignored.
func (s *Session) HandleDetectEvent(ctx context.Context, f protocol.DetectEventFrame) error {
	if !f.Complete() {
		s.logger.Debug("incomplete detect event ignored", "device_id", s.deviceID)
		return nil
	}

	data, err := f.Media()
	if err != nil {
		return err
	}
	path, err := media.DetectionPath(f.DataFileName)
	if err != nil {
		return err
	}

	err = s.do(ctx, func(ctx context.Context) error {
		return s.deps.Media.Put(ctx, path, data)
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrBlobWrite, path, err)
	}

	event := &record.EventLog{
		DeviceID:     s.deviceID,
		UserID:       s.userID,
		Code:         f.IntruderType,
		Message:      fmt.Sprintf(detectionMessage, f.IntruderType),
		Action:       detectionAction,
		ResourceType: record.ResourceType(f.ResourceType()),
		ResourcePath: path,
	}
	err = s.do(ctx, func(ctx context.Context) error {
		return s.deps.Events.Create(ctx, event)
	})
	if err != nil {
		return fmt.Errorf("%w: storing event log: %w", ErrPersistence, err)
	}

	detailURL := s.cfg.DetailURL(s.deviceID)
	err = s.do(ctx, func(ctx context.Context) error {
		mediaURL, err := s.deps.Media.URL(ctx, path)
		if err != nil {
			return err
		}
		return s.deps.Notifier.EmailDetection(ctx, s.userID, notify.DetectionAlert{
			DeviceName: s.name,
			Code:       f.IntruderType,
			MediaURL:   mediaURL,
			DetailURL:  detailURL,
		})
	})
	if err != nil {
		s.logger.Warn("detection email failed", "device_id", s.deviceID, "error", err)
	}

	s.notify(ctx, notify.IntruderDetected(f.IntruderType, detailURL))
	s.logger.Info("intruder event recorded",
		"device_id", s.deviceID,
		"code", f.IntruderType,
		"resource_type", event.ResourceType,
		"path", path,
	)
	return nil
}

// HandleOperationFeedback applies a feature toggle the device confirmed
// and tells the owner. A restart only notifies.
func (s *Session) HandleOperationFeedback(ctx context.Context, f protocol.OperationFeedbackFrame) error {
	var feature device.Feature
	switch f.OperationType {
	case protocol.OperationProfiler:
		feature = device.FeatureProfiler
	case protocol.OperationIntruderDetection:
		feature = device.FeatureIntruderDetection
	case protocol.OperationRestart:
	}

	toggle := feature != ""
	if toggle {
		err := s.do(ctx, func(ctx context.Context) error {
			return s.deps.Devices.SetFeature(ctx, s.deviceID, feature, f.Enabled())
		})
		if err != nil {
			return fmt.Errorf("%w: setting %s: %w", ErrPersistence, feature, err)
		}
	}

	s.notify(ctx, notify.OperationFeedback(s.name, string(f.Operation), string(f.OperationType), f.Enabled(), toggle))
	return nil
}
