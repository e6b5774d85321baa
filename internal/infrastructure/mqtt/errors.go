package mqtt

import "errors"

// Session errors.
var (
	ErrNotConnected     = errors.New("mqtt: session is not connected")
	ErrConnectionFailed = errors.New("mqtt: connect failed")
	ErrPublishFailed    = errors.New("mqtt: publish failed")
	ErrSubscribeFailed  = errors.New("mqtt: subscribe failed")
)

// Argument and setup errors. These are never worth retrying.
var (
	ErrInvalidTopic = errors.New("mqtt: empty topic")
	ErrInvalidQoS   = errors.New("mqtt: qos must be 0, 1 or 2")

	// ErrInvalidCredentials means the STS triple was incomplete.
	ErrInvalidCredentials = errors.New("mqtt: access key, secret key and session token are required")

	// ErrInvalidCA means the CA bundle was unreadable or held no certificates.
	ErrInvalidCA = errors.New("mqtt: invalid CA bundle")
)
