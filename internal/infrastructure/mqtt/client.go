package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/kbuck1/navilink/internal/infrastructure/config"
)

// Client is one AWS IoT session over a presigned wss:// connection.
//
// A Client never reconnects. When the connection drops, the session's
// OnConnectionLost callback fires and the owner dials a replacement with
// fresh credentials and a fresh client id. All methods are safe for
// concurrent use.
type Client struct {
	client    pahomqtt.Client
	connected atomic.Bool
	logger    atomic.Pointer[Logger]
	closeOnce sync.Once
}

// Logger receives handler failures and connection loss.
// *logging.Logger and *slog.Logger both satisfy it.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// MessageHandler receives one inbound message. It runs on paho's delivery
// goroutine and should not block. A returned error is logged only.
type MessageHandler func(topic string, payload []byte) error

// Dial loads the CA bundle, presigns the broker URL with the session
// credentials and connects. It returns once CONNACK arrives or ctx ends.
//
// Errors wrap ErrInvalidCredentials, ErrInvalidCA or ErrConnectionFailed.
func Dial(ctx context.Context, broker config.Broker, session Session) (*Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	rootCAs, err := loadRootCAs(broker.CACertPath)
	if err != nil {
		return nil, err
	}
	brokerURL, err := PresignURL(ctx, broker.Endpoint, broker.Region, session.Credentials, time.Now())
	if err != nil {
		return nil, err
	}

	c := &Client{}
	opts := buildClientOptions(brokerURL, session, rootCAs)
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(err, session.OnConnectionLost)
	})
	c.client = pahomqtt.NewClient(opts)

	token := c.client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
		}
	case <-ctx.Done():
		c.client.Disconnect(0)
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, ctx.Err())
	}

	c.connected.Store(true)
	return c, nil
}

func (c *Client) handleDisconnect(err error, callback func(error)) {
	c.connected.Store(false)
	if l := c.getLogger(); l != nil {
		l.Warn("MQTT connection lost", "error", err)
	}
	if callback != nil {
		callback(err)
	}
}

// Close disconnects from the broker. It is idempotent, and the
// connection-lost callback does not fire for it.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.connected.Store(false)
		if c.client != nil {
			c.client.Disconnect(defaultDisconnectQuiesce)
		}
	})
	return nil
}

// HealthCheck reports ErrNotConnected once the session has dropped.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports whether the session is up.
func (c *Client) IsConnected() bool {
	return c.connected.Load() && c.client != nil && c.client.IsConnected()
}

// SetLogger sets where handler errors and panics are reported. Without
// one they are dropped.
func (c *Client) SetLogger(logger Logger) {
	c.logger.Store(&logger)
}

func (c *Client) getLogger() Logger {
	if l := c.logger.Load(); l != nil {
		return *l
	}
	return nil
}

// wrapHandler adapts a MessageHandler to paho, recovering panics so one
// bad message cannot kill the delivery goroutine.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		topic := msg.Topic()
		defer func() {
			if r := recover(); r != nil {
				if l := c.getLogger(); l != nil {
					l.Error("MQTT handler panic recovered", "topic", topic, "panic", r)
				}
			}
		}()

		if err := handler(topic, msg.Payload()); err != nil {
			if l := c.getLogger(); l != nil {
				l.Warn("MQTT handler returned error", "topic", topic, "error", err)
			}
		}
	}
}

// SetLibraryLoggers routes paho's package-level log output. A nil
// argument leaves that level unchanged.
func SetLibraryLoggers(errorLog, warnLog pahomqtt.Logger) {
	if errorLog != nil {
		pahomqtt.CRITICAL = errorLog
		pahomqtt.ERROR = errorLog
	}
	if warnLog != nil {
		pahomqtt.WARN = warnLog
	}
}
