package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Connection constants.
const (
	// defaultConnectTimeout bounds the websocket dial and CONNACK.
	defaultConnectTimeout = 5 * time.Second

	// defaultPublishTimeout is the maximum time to wait for PUBACK or SUBACK.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 250 // milliseconds

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 60 * time.Second

	// protocolVersion311 selects MQTT 3.1.1.
	protocolVersion311 = 4

	// sdkUsername identifies the client to the NaviLink IoT policy.
	sdkUsername = "?SDK=Android&Version=2.16.12"

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// Session holds the per-connect values. A fresh ClientID is used for
// every attempt.
type Session struct {
	ClientID    string
	Credentials Credentials
	WillTopic   string
	WillPayload []byte

	// OnConnectionLost is called from paho's goroutine. Optional.
	OnConnectionLost func(err error)
}

// buildClientOptions creates paho options for one AWS IoT session.
//
// This configures:
//   - the presigned wss:// broker URL
//   - a clean session with no automatic reconnect; the caller owns retry
//   - the last will at QoS 1, not retained
//   - the CA pool for the broker certificate
func buildClientOptions(brokerURL string, session Session, rootCAs *x509.CertPool) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	opts.AddBroker(brokerURL)
	opts.SetClientID(session.ClientID)
	opts.SetUsername(sdkUsername)
	opts.SetProtocolVersion(protocolVersion311)

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)

	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetWriteTimeout(defaultPublishTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	opts.SetTLSConfig(&tls.Config{
		MinVersion: tlsMinVersion,
		RootCAs:    rootCAs,
	})

	if session.WillTopic != "" {
		opts.SetBinaryWill(session.WillTopic, session.WillPayload, 1, false)
	}

	return opts
}

// loadRootCAs reads a PEM bundle into a certificate pool.
func loadRootCAs(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCA, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("%w: no certificates in %s", ErrInvalidCA, path)
	}
	return pool, nil
}
