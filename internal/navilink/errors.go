package navilink

import "errors"

// Sentinel errors for the NaviLink session engine.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrAuth is the parent of every account-server authentication failure.
	ErrAuth = errors.New("navilink: authentication failed")

	// ErrUnableToConnect is returned when the account server answers with a non-200 status.
	ErrUnableToConnect = fmtSentinel(ErrAuth, "unable to connect to account server")

	// ErrUserNotFound is returned when the account server reports USER_NOT_FOUND.
	ErrUserNotFound = fmtSentinel(ErrAuth, "user not found")

	// ErrNoResponseData is returned when a REST response lacks its data object.
	ErrNoResponseData = errors.New("navilink: no response data")

	// ErrMissingCredentials is returned when the IoT access key, secret or session token is absent.
	ErrMissingCredentials = errors.New("navilink: missing IoT credentials")

	// ErrNoChannelInformation is returned when a gateway handshake yields no channels.
	ErrNoChannelInformation = errors.New("navilink: no channel information")

	// ErrNoDevicesFound is returned when discovery or connect leaves no devices to manage.
	ErrNoDevicesFound = errors.New("navilink: no devices found")

	// ErrStaleConnection ends a connected epoch when data stops arriving or polls keep failing.
	ErrStaleConnection = errors.New("navilink: stale connection")

	// ErrDisconnected ends a connected epoch when the transport reports the connection lost.
	ErrDisconnected = errors.New("navilink: transport disconnected")

	// ErrPollingStopped ends a connected epoch when the poll loop exits without a shutdown.
	ErrPollingStopped = errors.New("navilink: polling stopped")

	// ErrResponseTimeout is returned when no response arrives for a session id in time.
	ErrResponseTimeout = errors.New("navilink: timed out waiting for response")

	// ErrDuplicateSession is returned when a session id is already pending.
	ErrDuplicateSession = errors.New("navilink: session id already pending")

	// ErrNotConnected is returned for commands issued while the link is down.
	ErrNotConnected = errors.New("navilink: not connected")

	// ErrUnsupported is returned for commands the device dialect cannot express.
	ErrUnsupported = errors.New("navilink: command not supported by device")

	// ErrUnknownDevice is returned when a device id is not in the registry.
	ErrUnknownDevice = errors.New("navilink: unknown device")

	// ErrAlreadyStarted is returned by Coordinator.Start while a link is running.
	ErrAlreadyStarted = errors.New("navilink: coordinator already started")

	// ErrShuttingDown is returned when an operation races an explicit disconnect.
	ErrShuttingDown = errors.New("navilink: shutting down")
)

// IsFatal reports whether a connect failure must be surfaced to the caller
// instead of being retried after the backoff.
func IsFatal(err error) bool {
	return errors.Is(err, ErrMissingCredentials) ||
		errors.Is(err, ErrAuth) ||
		errors.Is(err, ErrNoResponseData) ||
		errors.Is(err, ErrNoChannelInformation)
}

// sentinelError is a sentinel that also matches its parent with errors.Is.
type sentinelError struct {
	parent error
	msg    string
}

func fmtSentinel(parent error, msg string) error {
	return &sentinelError{parent: parent, msg: msg}
}

func (e *sentinelError) Error() string { return e.parent.Error() + ": " + e.msg }

func (e *sentinelError) Unwrap() error { return e.parent }
