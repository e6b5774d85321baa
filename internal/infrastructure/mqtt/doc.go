// Package mqtt provides the AWS IoT MQTT transport for navilinkd.
//
// This package manages:
//   - SigV4-presigned wss:// URLs from temporary IAM credentials
//   - One clean MQTT 3.1.1 session per Client, with a last will
//   - QoS-acknowledged publish and subscribe
//   - Connection-lost notification
//
// # Architecture
//
// A Client is single-use. It does not reconnect or restore subscriptions;
// the NaviLink link owns the reconnect policy and dials a new Client with
// refreshed credentials and a new client id.
//
//	navilink.Link → mqtt.Client → wss://<endpoint>/mqtt (AWS IoT)
//
// # Usage
//
//	client, err := mqtt.Dial(ctx, cfg.Navilink.Broker, mqtt.Session{
//	    ClientID:    uuid.NewString(),
//	    Credentials: creds,
//	})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(filter, 1, func(topic string, payload []byte) error {
//	    return nil
//	})
package mqtt
