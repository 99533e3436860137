package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementPerformance = "device_performance"
	MeasurementDetection   = "detection_events"
)

// Performance is one profiler reading as mirrored to InfluxDB.
type Performance struct {
	DeviceID    string
	CPUUsedRate float64
	MemUsedRate float64
	DiskIORead  float64
	DiskIOWrite float64
	At          time.Time
}

// WritePerformance queues a device_performance point tagged by device.
func (c *Client) WritePerformance(p Performance) {
	if !c.IsConnected() {
		return
	}

	at := p.At
	if at.IsZero() {
		at = time.Now()
	}

	c.writeAPI.WritePoint(write.NewPoint(
		MeasurementPerformance,
		map[string]string{"device_id": p.DeviceID},
		map[string]any{
			"cpu_used_rate": p.CPUUsedRate,
			"mem_used_rate": p.MemUsedRate,
			"disk_io_read":  p.DiskIORead,
			"disk_io_write": p.DiskIOWrite,
		},
		at,
	))
}

// WriteDetection queues a detection_events point so intrusion frequency
// can be charted next to performance data.
func (c *Client) WriteDetection(deviceID string, code int, resourceType string, at time.Time) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(
		MeasurementDetection,
		map[string]string{
			"device_id":     deviceID,
			"resource_type": resourceType,
		},
		map[string]any{"code": code},
		at,
	))
}
