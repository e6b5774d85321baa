package main

import (
	"context"

	"github.com/kbuck1/navilink/internal/api"
	"github.com/kbuck1/navilink/internal/infrastructure/config"
	"github.com/kbuck1/navilink/internal/infrastructure/mqtt"
	"github.com/kbuck1/navilink/internal/navilink"
)

// navilinkQoS is the QoS used for every NaviLink publish and subscribe.
const navilinkQoS = 1

// mqttTransport adapts the infrastructure MQTT client to navilink.Transport.
// The differences are the fixed QoS and the handler signature:
//   - Infrastructure mqtt: func(topic, payload []byte) error
//   - navilink expects:    func(topic, payload []byte)
type mqttTransport struct {
	client *mqtt.Client
}

// Publish implements navilink.Transport.
func (t *mqttTransport) Publish(topic string, payload []byte) error {
	return t.client.Publish(topic, payload, navilinkQoS, false)
}

// Subscribe implements navilink.Transport.
func (t *mqttTransport) Subscribe(filter string, handler func(topic string, payload []byte)) error {
	return t.client.Subscribe(filter, navilinkQoS, func(topic string, payload []byte) error {
		handler(topic, payload)
		return nil
	})
}

// Close implements navilink.Transport.
func (t *mqttTransport) Close() {
	//nolint:errcheck // Close on a dropped session only reports the drop
	t.client.Close()
}

// dialTransport returns the factory the link uses for every (re)connect.
func dialTransport(broker config.Broker, logger mqtt.Logger) navilink.TransportFactory {
	return func(ctx context.Context, cfg navilink.TransportConfig) (navilink.Transport, error) {
		client, err := mqtt.Dial(ctx, broker, mqtt.Session{
			ClientID: cfg.ClientID,
			Credentials: mqtt.Credentials{
				AccessKeyID:  cfg.Credentials.AccessKeyID,
				SecretKey:    cfg.Credentials.SecretKey,
				SessionToken: cfg.Credentials.SessionToken,
			},
			WillTopic:        cfg.WillTopic,
			WillPayload:      cfg.WillPayload,
			OnConnectionLost: cfg.OnConnectionLost,
		})
		if err != nil {
			return nil, err
		}
		client.SetLogger(logger)
		return &mqttTransport{client: client}, nil
	}
}

// coordinator is the part of *navilink.Coordinator the API adapter uses.
type coordinator interface {
	Registry() *navilink.Registry
	Device(id string) (*navilink.DeviceSession, error)
	Status() navilink.LinkStatus
	IsPollingDisabled(id string) bool
	SetPollingDisabled(ctx context.Context, id string, disabled bool) error
	HealthCheck(ctx context.Context) error
}

// deviceService adapts the coordinator to api.DeviceService. The only
// change is widening *navilink.DeviceSession to api.Device.
type deviceService struct {
	coordinator
}

// Devices implements api.DeviceService.
func (s deviceService) Devices() []api.Device {
	sessions := s.Registry().Devices()
	out := make([]api.Device, 0, len(sessions))
	for _, d := range sessions {
		out = append(out, d)
	}
	return out
}

// Device implements api.DeviceService.
func (s deviceService) Device(id string) (api.Device, error) {
	d, err := s.coordinator.Device(id)
	if err != nil {
		return nil, err
	}
	return d, nil
}
