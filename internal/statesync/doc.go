// Package statesync moves device updates from the navilink registry to
// the rest of navilinkd: SQLite history, InfluxDB, Prometheus gauges, the
// WebSocket hub and NATS.
//
// # Usage
//
//	worker := statesync.New(statesync.Options{
//	    Registry:    coordinator.Registry(),
//	    History:     history,
//	    Telemetry:   influxClient,
//	    Broadcaster: hub,
//	    Retention:   cfg.Database.GetHistoryRetention(),
//	})
//	worker.Start(ctx)
//	defer worker.Stop()
package statesync
