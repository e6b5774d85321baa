package forwarder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kbuck1/navilink/internal/infrastructure/config"
	"github.com/kbuck1/navilink/internal/navilink"
)

var (
	// ErrDisabled indicates NATS forwarding is disabled in the configuration.
	ErrDisabled = errors.New("forwarder: disabled in configuration")

	// ErrNotConnected is reported by HealthCheck while the server is unreachable.
	ErrNotConnected = errors.New("forwarder: not connected")
)

// Event types carried in the envelope.
const (
	EventStateChanged = "device.state_changed"
	EventLinkStatus   = "link.status"
)

// Publisher is the subset of *nats.Conn the forwarder needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Logger is the logging surface used by the connection handlers.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Event is the JSON envelope published for every update.
type Event struct {
	Type      string    `json:"type"`
	DeviceID  string    `json:"device_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// Forwarder publishes device state to NATS subjects of the form
// <prefix>.<device_id> and link status to <prefix>.link.
type Forwarder struct {
	pub    Publisher
	prefix string
	now    func() time.Time
}

// Connect dials the NATS server described by cfg.
//
// Returns:
//   - *nats.Conn: Connection with reconnect handling configured
//   - error: ErrDisabled, or the dial error
func Connect(cfg config.NATSConfig, logger Logger) (*nats.Conn, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	opts := []nats.Option{
		nats.Name("navilinkd"),
		nats.ReconnectWait(cfg.GetReconnectWait()),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			logger.Warn("nats async error", "error", err)
		}),
	}
	if cfg.Username != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	return nc, nil
}

// New creates a Forwarder publishing under prefix.
func New(pub Publisher, prefix string) *Forwarder {
	return &Forwarder{
		pub:    pub,
		prefix: strings.TrimSuffix(prefix, "."),
		now:    time.Now,
	}
}

// PublishState publishes a device session snapshot.
func (f *Forwarder) PublishState(snap navilink.Snapshot) error {
	if snap.ID == "" {
		return fmt.Errorf("forwarder: snapshot has no device id")
	}
	return f.publish(f.subject(snap.ID), Event{
		Type:     EventStateChanged,
		DeviceID: snap.ID,
		Payload:  snap,
	})
}

// PublishLinkStatus publishes the shared link status.
func (f *Forwarder) PublishLinkStatus(status navilink.LinkStatus) error {
	return f.publish(f.subject("link"), Event{
		Type:    EventLinkStatus,
		Payload: status,
	})
}

// HealthCheck reports ErrNotConnected when the publisher tracks its
// connection state and is currently disconnected.
func (f *Forwarder) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c, ok := f.pub.(interface{ IsConnected() bool }); ok && !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

func (f *Forwarder) publish(subject string, ev Event) error {
	ev.Timestamp = f.now().UTC()
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshalling %s event: %w", ev.Type, err)
	}
	if err := f.pub.Publish(subject, data); err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	return nil
}

// subject joins the prefix and a token. NATS tokens cannot contain dots,
// spaces or wildcards.
func (f *Forwarder) subject(token string) string {
	token = strings.Map(func(r rune) rune {
		switch r {
		case '.', ' ', '*', '>':
			return '_'
		}
		return r
	}, token)
	if f.prefix == "" {
		return token
	}
	return f.prefix + "." + token
}
