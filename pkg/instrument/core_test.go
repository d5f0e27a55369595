package instrument

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCore(tr *scriptTransport, channels int, opts ...Option) *Core {
	opts = append([]Option{WithDialer(scriptDialer(tr))}, opts...)
	return NewCore("Test Device", channels, testFraming, opts...)
}

func TestStartupStoresIdentity(t *testing.T) {
	tr := &scriptTransport{replies: []string{"ACME,MODEL-1,123\r\n"}}
	c := newTestCore(tr, 2)

	require.NoError(t, c.Startup(c.IDN, nil))
	assert.Equal(t, "ACME,MODEL-1,123", c.Identity())
	assert.True(t, c.Connected())
	assert.Equal(t, []string{"*IDN?\r\n"}, tr.writes)
}

func TestStartupEmptyIdentityFails(t *testing.T) {
	// The device acknowledges with a bare terminator, which decodes to
	// an empty identity.
	tr := &scriptTransport{replies: []string{"\r\n"}}
	c := newTestCore(tr, 2)

	err := c.Startup(c.IDN, nil)
	assert.ErrorIs(t, err, ErrIdentity)
	assert.True(t, tr.closed, "transport must be closed before the error is returned")
	assert.False(t, c.Connected())
	assert.Equal(t, "UNKNOWN", c.Identity())
}

func TestStartupIdentityTimeoutReclassified(t *testing.T) {
	// No reply at all surfaces from the transport as a timeout but is a
	// protocol mismatch signal during the handshake.
	tr := &scriptTransport{}
	c := newTestCore(tr, 2)

	err := c.Startup(c.IDN, nil)
	assert.ErrorIs(t, err, ErrIdentity)
	assert.NotErrorIs(t, err, ErrTimeout)
	assert.True(t, tr.closed)
	assert.False(t, c.Connected())
}

func TestStartupBeepFailureIsNotFatal(t *testing.T) {
	tr := &scriptTransport{replies: []string{"ACME\r\n"}}
	c := newTestCore(tr, 1)

	require.NoError(t, c.Startup(c.IDN, c.Beep))
	assert.True(t, c.Connected())
}

func TestFinalizeIsIdempotent(t *testing.T) {
	tr := &scriptTransport{replies: []string{"ACME\r\n"}}
	c := newTestCore(tr, 1)
	require.NoError(t, c.Startup(c.IDN, nil))

	require.NoError(t, c.Finalize())
	assert.True(t, tr.closed)
	require.NoError(t, c.Finalize())
}

func TestOperationsBeforeInitialize(t *testing.T) {
	c := newTestCore(&scriptTransport{}, 1)

	_, err := c.Query("*IDN?")
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, c.Write("OUTP:GEN 0"), ErrNotConnected)
	_, err = c.ReadReply()
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestValidateChannels(t *testing.T) {
	c := newTestCore(&scriptTransport{}, 3)

	tests := []struct {
		name     string
		channels []int
		wantErr  bool
		wantCh   int
	}{
		{name: "single valid", channels: []int{2}},
		{name: "all valid", channels: []int{1, 2, 3}},
		{name: "empty set", channels: nil},
		{name: "zero", channels: []int{0}, wantErr: true, wantCh: 0},
		{name: "negative", channels: []int{-1}, wantErr: true, wantCh: -1},
		{name: "too high", channels: []int{4}, wantErr: true, wantCh: 4},
		{name: "one bad member rejects the whole set", channels: []int{1, 2, 7}, wantErr: true, wantCh: 7},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := c.ValidateChannels(tc.channels...)
			if !tc.wantErr {
				assert.NoError(t, err)
				return
			}
			var chErr *ChannelError
			require.ErrorAs(t, err, &chErr)
			assert.Equal(t, tc.wantCh, chErr.Channel)
			assert.Equal(t, 3, chErr.Max)
		})
	}
}

func TestAllChannelsComputedFresh(t *testing.T) {
	c := newTestCore(&scriptTransport{}, 4)

	all := c.AllChannels()
	assert.Equal(t, []int{1, 2, 3, 4}, all)

	// Mutating a returned slice must not leak into later calls.
	all[0] = 99
	assert.Equal(t, []int{1, 2, 3, 4}, c.AllChannels())
}

func TestSortedChannelSet(t *testing.T) {
	assert.Equal(t, []int{1, 3, 4}, sortedChannelSet([]int{4, 1, 3}))
	assert.Equal(t, []int{2}, sortedChannelSet([]int{2, 2, 2}))
	assert.Empty(t, sortedChannelSet(nil))
}
