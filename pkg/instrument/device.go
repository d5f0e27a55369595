// Package instrument defines the device contract shared by all bench
// instrument drivers: the uniform verb set, the message framing codec,
// channel validation and the output engage/disengage engine.
package instrument

// Reading is one measured quantity. Value and Unit are kept as the raw
// strings returned by the instrument; numeric parsing is left to the
// caller because formatting varies per model.
type Reading struct {
	Value string
	Unit  string
}

// OutputParams carries the set-point limits applied by SetOutput.
// Sending new set-points to an already engaged channel is permitted and
// takes effect immediately.
type OutputParams struct {
	Voltage float64
	Current float64
}

// Device is the uniform surface exposed by every instrument driver.
type Device interface {
	// Initialize opens the transport, performs the identity handshake
	// and leaves the device ready for operation calls.
	Initialize() error

	// IDN asks the device to introduce itself.
	IDN() (string, error)

	// Beep asks the device to make itself stand out from the physical
	// test setup by making a sound. Returns ErrNotSupported on models
	// that can only beep while measuring.
	Beep() error

	// GetInput reads the given measurement channel.
	GetInput(channel int) ([]Reading, error)

	// SetOutput applies set-point limits on the given output channel.
	// Returns ErrNotSupported on input-only instruments.
	SetOutput(channel int, p OutputParams) error

	// Finalize releases the transport. Safe to call more than once.
	Finalize() error
}

// OutputDevice is implemented by instruments with switchable outputs
// (programmable power supplies).
type OutputDevice interface {
	Device

	// EngageOutput brings exactly the requested channels to the engaged
	// state. It returns 1 when the engage command was sent and 0 when
	// the operation was declined at the authorization gate.
	EngageOutput(channels []int, seekPermission bool) (int, error)

	// DisengageOutput removes power from the named channels, or from
	// all channels when called with no arguments.
	DisengageOutput(channels ...int) error
}

// ConfirmFunc is the authorization boundary consulted before outputs
// are energized. It blocks until a decision arrives and reports whether
// permission was granted.
type ConfirmFunc func(prompt string) bool

// TraceFunc receives the human-readable trace of what a state-changing
// operation is about to do. It is a safety feature, not debug logging.
type TraceFunc func(msg string)
