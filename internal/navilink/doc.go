// Package navilink is the NaviLink water-heater session engine.
//
// A Coordinator signs in to the account server, discovers gateways and
// opens one Link: a single AWS IoT MQTT session shared by every monitored
// gateway. Each gateway speaks one of two dialects, Legacy (channels with
// units behind them) or MGPP (one heat-pump unit), chosen from its device
// type. The Link subscribes to every gateway's topic set, handshakes,
// polls status, correlates responses by session id and reconnects with a
// fixed backoff when the connection goes silent or drops.
//
// Controllable heaters are exposed as DeviceSession values, looked up by a
// stable id in the Registry:
//
//	coord, _ := navilink.NewCoordinator(navilink.CoordinatorOptions{...})
//	if err := coord.Start(ctx); err != nil { ... }
//	dev, _ := coord.Device("04786332fca0")
//	err := dev.SetTemperature(ctx, 50)
//
// Transport is abstract; the daemon plugs in the paho-based client from
// internal/infrastructure/mqtt.
package navilink
