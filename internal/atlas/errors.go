package atlas

import "errors"

// Sentinel errors for client operations. Callers match with errors.Is.
var (
	// ErrNotConnected indicates a command was attempted while the control
	// channel is down. Commands fail fast rather than queueing for an
	// eventual reconnect.
	ErrNotConnected = errors.New("atlas: not connected")

	// ErrClosed indicates the client has been shut down permanently.
	ErrClosed = errors.New("atlas: client closed")

	// ErrTimeout indicates the device did not acknowledge a command within
	// the command timeout. The connection is considered suspect after this.
	ErrTimeout = errors.New("atlas: command timed out")

	// ErrDeviceRejected indicates the device returned an error response,
	// typically for an unknown parameter name or out-of-range value.
	ErrDeviceRejected = errors.New("atlas: device rejected command")

	// ErrDecode indicates an inbound frame could not be parsed. The frame
	// is dropped; the connection stays up.
	ErrDecode = errors.New("atlas: malformed frame")

	// ErrStaleDatagram indicates a meter datagram arrived out of order and
	// was discarded.
	ErrStaleDatagram = errors.New("atlas: stale meter datagram")
)
