// Package influxdb mirrors edgewatch telemetry into InfluxDB.
//
// SQLite keeps the authoritative append-only performance_samples table;
// InfluxDB receives a copy of every profiler reading (and detection event
// counts) for dashboards and retention policies.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // mirror off
//	}
//	defer client.Close()
//
//	client.WritePerformance(influxdb.Performance{DeviceID: "42", CPUUsedRate: 12.5})
package influxdb
