package navilink

import "context"

// Credentials are the short-lived IoT credentials issued at login.
type Credentials struct {
	AccessKeyID  string
	SecretKey    string
	SessionToken string
}

// Complete reports whether all three parts are present.
func (c Credentials) Complete() bool {
	return c.AccessKeyID != "" && c.SecretKey != "" && c.SessionToken != ""
}

// TransportConfig is what a Link hands the transport factory per connect.
type TransportConfig struct {
	ClientID    string
	Credentials Credentials
	WillTopic   string
	WillPayload []byte

	// OnConnectionLost is called from the transport's own goroutine.
	OnConnectionLost func(err error)
}

// Transport is one MQTT session. Publish and Subscribe use QoS 1 and block
// until acknowledged. Handlers run on the transport's goroutine and must
// only hand the message off.
type Transport interface {
	Publish(topic string, payload []byte) error
	Subscribe(filter string, handler func(topic string, payload []byte)) error
	Close()
}

// TransportFactory opens a connected Transport.
type TransportFactory func(ctx context.Context, cfg TransportConfig) (Transport, error)

// Observer receives link lifecycle events, typically for metrics.
type Observer interface {
	LinkConnected(connected bool)
	PollCompleted(ok bool)
	Reconnecting(cause error)
	MessageReceived(route string)
	CommandCompleted(command string, err error)
}

type nopObserver struct{}

func (nopObserver) LinkConnected(bool)             {}
func (nopObserver) PollCompleted(bool)             {}
func (nopObserver) Reconnecting(error)             {}
func (nopObserver) MessageReceived(string)         {}
func (nopObserver) CommandCompleted(string, error) {}
