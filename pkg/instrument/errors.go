package instrument

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by operations called before Initialize
	// or after Finalize.
	ErrNotConnected = errors.New("device is not connected")

	// ErrTimeout is returned when no read terminator was observed within
	// the configured read timeout. There is no built-in retry.
	ErrTimeout = errors.New("timeout waiting for device response")

	// ErrIdentity is returned when the identity handshake during
	// Initialize yields an empty reply. This usually means an existing
	// but wrong port, or the wrong identification request for this
	// device type.
	ErrIdentity = errors.New("device did not identify itself")

	// ErrNotSupported is returned for capabilities a model does not
	// offer, such as SetOutput on an input-only instrument.
	ErrNotSupported = errors.New("not supported by this device")
)

// ChannelError reports a channel number outside the device's range. It
// is raised before any wire traffic.
type ChannelError struct {
	Channel int
	Max     int
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("this device does not support channel %d (valid range 1..%d)", e.Channel, e.Max)
}
