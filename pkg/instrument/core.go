package instrument

import (
	"errors"
	"fmt"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	// unknownID is the identity of a device before the handshake.
	unknownID = "UNKNOWN"

	// settleDelay is the pause between opening the transport and the
	// identity handshake, giving the instrument time to settle.
	settleDelay = 100 * time.Millisecond
)

// Core carries the state and shared machinery common to every driver:
// the device descriptor, the open session, identity, channel validation
// and the injected logger, trace sink and authorization gate. Drivers
// embed a *Core and supply only their model-specific command grammar.
type Core struct {
	name     string
	channels int
	framing  Framing

	dial    Dialer
	session *Session
	id      string
	logger  log.FieldLogger
	trace   TraceFunc
	confirm ConfirmFunc
}

// Option configures a Core.
type Option func(*Core)

// WithDialer overrides how the transport is opened. Tests use this to
// substitute a scripted transport.
func WithDialer(d Dialer) Option {
	return func(c *Core) { c.dial = d }
}

// WithLogger sets the logger used for lifecycle messages and, unless a
// trace sink is installed, the safety trace.
func WithLogger(l log.FieldLogger) Option {
	return func(c *Core) { c.logger = l }
}

// WithConfirm installs the authorization gate consulted before outputs
// are energized.
func WithConfirm(f ConfirmFunc) Option {
	return func(c *Core) { c.confirm = f }
}

// WithTrace redirects the human-readable safety trace.
func WithTrace(t TraceFunc) Option {
	return func(c *Core) { c.trace = t }
}

func NewCore(name string, channels int, framing Framing, opts ...Option) *Core {
	c := &Core{
		name:     name,
		channels: channels,
		framing:  framing,
		id:       unknownID,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = log.WithField("device", name)
	}
	return c
}

// Name returns the model name of this device.
func (c *Core) Name() string { return c.name }

// ChannelCount returns the number of independently addressable channels.
func (c *Core) ChannelCount() int { return c.channels }

// Framing returns the per-model communication constants.
func (c *Core) Framing() Framing { return c.framing }

// Identity returns the string obtained during the identity handshake,
// or "UNKNOWN" before Initialize.
func (c *Core) Identity() string { return c.id }

func (c *Core) String() string {
	return fmt.Sprintf("%s (%s)", c.name, c.id)
}

// Connected reports whether the transport is currently open.
func (c *Core) Connected() bool { return c.session != nil }

// Startup opens the transport and performs the identity handshake. The
// idn function is supplied by the driver so that models with a
// non-standard identification exchange can override it. beep is called
// best-effort after a successful handshake and may be nil.
//
// An empty identity reply (or a read timeout on it) is reclassified as
// ErrIdentity: it is a strong signal of a wrong port or wrong protocol
// rather than a transport fault. The transport is closed before the
// error is returned, leaving no partial state.
func (c *Core) Startup(idn func() (string, error), beep func() error) error {
	if c.session != nil {
		return nil
	}
	if c.dial == nil {
		return fmt.Errorf("%s: no transport dialer configured", c.name)
	}

	tr, err := c.dial(c.framing)
	if err != nil {
		return err
	}
	c.session = NewSession(tr, c.framing)
	time.Sleep(settleDelay)

	id, err := idn()
	if err != nil {
		c.session.Close()
		c.session = nil
		if errors.Is(err, ErrTimeout) {
			return fmt.Errorf("%w: no reply to the identity query. Most likely an existing but "+
				"incorrect port was specified, or this device needs a different identification request", ErrIdentity)
		}
		return err
	}
	if id == "" {
		c.session.Close()
		c.session = nil
		return fmt.Errorf("%w: empty reply to the identity query. Most likely an existing but "+
			"incorrect port was specified, or this device needs a different identification request", ErrIdentity)
	}

	c.id = id
	c.logger.Infof("initialized resource: %s", id)

	if beep != nil {
		if err := beep(); err != nil {
			c.logger.Debugf("beep after initialize failed: %v", err)
		}
	}
	return nil
}

// Finalize closes the transport and clears the handle. Calling it on an
// already finalized device is a no-op.
func (c *Core) Finalize() error {
	if c.session == nil {
		return nil
	}
	err := c.session.Close()
	c.session = nil
	c.logger.Infof("released resource: %s", c.id)
	return err
}

// IDN issues the default identity request. Models whose identity
// exchange differs override this on the driver.
func (c *Core) IDN() (string, error) {
	return c.Query("*IDN?")
}

// Beep issues the default audible confirmation request.
func (c *Core) Beep() error {
	// The reply, if any, is read out and discarded to keep the message
	// buffer aligned.
	_, err := c.Query("SYST:BEEP")
	if errors.Is(err, ErrTimeout) {
		return nil
	}
	return err
}

// Write sends one framed command.
func (c *Core) Write(cmd string) error {
	if c.session == nil {
		return ErrNotConnected
	}
	return c.session.Write(cmd)
}

// ReadReply reads one framed reply without writing first. Used by
// models that push unsolicited frames.
func (c *Core) ReadReply() (string, error) {
	if c.session == nil {
		return "", ErrNotConnected
	}
	return c.session.Read()
}

// Query writes a command and reads the reply.
func (c *Core) Query(cmd string) (string, error) {
	if c.session == nil {
		return "", ErrNotConnected
	}
	return c.session.Query(cmd)
}

// Trace emits one line of the safety trace.
func (c *Core) Trace(msg string) {
	if c.trace != nil {
		c.trace(msg)
		return
	}
	c.logger.Info(msg)
}

// ChannelExists reports whether the 1-based channel number is valid for
// this device.
func (c *Core) ChannelExists(channel int) bool {
	return channel > 0 && channel <= c.channels
}

// ValidateChannels rejects the whole request if any member is out of
// range. It never produces wire traffic, so a failed validation leaves
// the instrument untouched.
func (c *Core) ValidateChannels(channels ...int) error {
	for _, ch := range channels {
		if !c.ChannelExists(ch) {
			return &ChannelError{Channel: ch, Max: c.channels}
		}
	}
	return nil
}

// AllChannels returns the full channel range, computed fresh from the
// instance channel count on every call.
func (c *Core) AllChannels() []int {
	all := make([]int, c.channels)
	for i := range all {
		all[i] = i + 1
	}
	return all
}

// sortedChannelSet returns the channels in ascending order with
// duplicates removed, so that wire traces and permission prompts are
// deterministic regardless of the order the caller supplied.
func sortedChannelSet(channels []int) []int {
	set := append([]int(nil), channels...)
	sort.Ints(set)
	out := set[:0]
	for i, ch := range set {
		if i == 0 || ch != set[i-1] {
			out = append(out, ch)
		}
	}
	return out
}
