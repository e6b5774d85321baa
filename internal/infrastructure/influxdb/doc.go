// Package influxdb records water heater telemetry in InfluxDB v2.
//
// It wraps influxdb-client-go with connection management, health checks
// and a single domain write: WriteDeviceStatus turns a navilink.Snapshot
// into a "water_heater" point (plus one "water_heater_unit" point per
// Legacy burner unit).
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry is optional
//	} else if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.SetOnError(func(err error) { log.Warn("influx write failed", "error", err) })
//	client.WriteDeviceStatus(session.Snapshot())
//
// # Thread Safety
//
// All methods are safe for concurrent use. Writes are batched according to
// batch_size and flush_interval and never block the caller.
package influxdb
