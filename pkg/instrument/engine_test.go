package instrument

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubDialect is a minimal grammar for exercising the engine's
// sequencing independent of any real PSU model.
type stubDialect struct{}

func (stubDialect) ArmCommands(channel int) []string {
	return []string{fmt.Sprintf("ARM %d", channel)}
}

func (stubDialect) DisarmMessage(channels []int, term string) string {
	tokens := make([]string, len(channels))
	for i, ch := range channels {
		tokens[i] = fmt.Sprintf("DISARM %d", ch)
	}
	return strings.Join(tokens, ";")
}

func (stubDialect) EngageMessage(channels []int, term string) string {
	if len(channels) == 0 {
		return ""
	}
	return "ENGAGE ALL"
}

func (stubDialect) DisengageAllCommand() string { return "SHUTDOWN" }

func (stubDialect) DisarmAfterShutdown() bool { return true }

func (stubDialect) Setpoint(q Querier, channel int) (string, string, error) {
	v, err := q.Query(fmt.Sprintf("V? %d", channel))
	if err != nil {
		return "", "", err
	}
	c, err := q.Query(fmt.Sprintf("C? %d", channel))
	if err != nil {
		return "", "", err
	}
	return v, c, nil
}

func newTestEngine(t *testing.T, tr *scriptTransport, channels int, opts ...Option) (*Engine, *Core) {
	t.Helper()
	tr.replies = append([]string{"STUB PSU\r\n"}, tr.replies...)
	c := newTestCore(tr, channels, opts...)
	require.NoError(t, c.Startup(c.IDN, nil))
	tr.writes = nil
	return NewEngine(c, stubDialect{}), c
}

func TestEngageResetsArmsAndEngages(t *testing.T) {
	tr := &scriptTransport{}
	e, _ := newTestEngine(t, tr, 4)

	result, err := e.Engage([]int{3, 1}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, result)

	assert.Equal(t, []string{
		"SHUTDOWN\r\n",
		"DISARM 1;DISARM 2;DISARM 3;DISARM 4\r\n",
		"ARM 1\r\n", // ascending order regardless of the caller's ordering
		"ARM 3\r\n",
		"ENGAGE ALL\r\n",
	}, tr.writes)
}

func TestEngageInvalidChannelProducesNoTraffic(t *testing.T) {
	tr := &scriptTransport{}
	e, _ := newTestEngine(t, tr, 2)

	result, err := e.Engage([]int{1, 5}, false)
	assert.Equal(t, 0, result)

	var chErr *ChannelError
	require.ErrorAs(t, err, &chErr)
	assert.Equal(t, 5, chErr.Channel)
	assert.Empty(t, tr.writes)
}

func TestEngageEmptySetEndsDisengaged(t *testing.T) {
	tr := &scriptTransport{}
	e, _ := newTestEngine(t, tr, 2)

	result, err := e.Engage(nil, false)
	require.NoError(t, err)
	assert.Equal(t, 1, result)

	// Reset happens, nothing is armed and no engage message goes out.
	assert.Equal(t, []string{
		"SHUTDOWN\r\n",
		"DISARM 1;DISARM 2\r\n",
	}, tr.writes)
}

func TestEngageDeclinedReDisengages(t *testing.T) {
	tr := &scriptTransport{replies: []string{"1.5\r\n", "0.1\r\n"}}
	var prompts []string
	var trace []string
	e, _ := newTestEngine(t, tr, 2,
		WithConfirm(func(prompt string) bool {
			prompts = append(prompts, prompt)
			return false
		}),
		WithTrace(func(msg string) { trace = append(trace, msg) }),
	)

	result, err := e.Engage([]int{1}, true)
	require.NoError(t, err, "declining permission is an expected outcome, not an error")
	assert.Equal(t, 0, result)

	require.Len(t, prompts, 1)
	assert.Contains(t, strings.Join(trace, "\n"), "ch:1 @: 1.5 Volt / 0.1 Amp")

	// The channel was armed before the gate, so the engine must reset
	// again after the decline.
	assert.Equal(t, "DISARM 1;DISARM 2\r\n", tr.writes[len(tr.writes)-1])
	for _, w := range tr.writes {
		assert.NotContains(t, w, "ENGAGE")
	}
}

func TestEngageGrantedSendsEngage(t *testing.T) {
	tr := &scriptTransport{replies: []string{"5\r\n", "1\r\n"}}
	e, _ := newTestEngine(t, tr, 1,
		WithConfirm(func(string) bool { return true }),
		WithTrace(func(string) {}),
	)

	result, err := e.Engage([]int{1}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, result)
	assert.Equal(t, "ENGAGE ALL\r\n", tr.writes[len(tr.writes)-1])
}

func TestEngageWithoutGateRefuses(t *testing.T) {
	tr := &scriptTransport{replies: []string{"5\r\n", "1\r\n"}}
	e, _ := newTestEngine(t, tr, 1, WithTrace(func(string) {}))

	result, err := e.Engage([]int{1}, true)
	require.NoError(t, err)
	assert.Equal(t, 0, result, "no installed gate must fail safe")
	for _, w := range tr.writes {
		assert.NotContains(t, w, "ENGAGE")
	}
}

func TestDisengageNoArgsShutsDownEverything(t *testing.T) {
	tr := &scriptTransport{}
	e, _ := newTestEngine(t, tr, 3)

	require.NoError(t, e.Disengage())
	assert.Equal(t, []string{
		"SHUTDOWN\r\n",
		"DISARM 1;DISARM 2;DISARM 3\r\n",
	}, tr.writes)
}

func TestDisengageFullRangeInAnyOrderIsAll(t *testing.T) {
	tr := &scriptTransport{}
	e, _ := newTestEngine(t, tr, 3)

	require.NoError(t, e.Disengage(3, 1, 2))
	assert.Equal(t, "SHUTDOWN\r\n", tr.writes[0])
}

func TestDisengageSubsetLeavesOthersUntouched(t *testing.T) {
	tr := &scriptTransport{}
	e, _ := newTestEngine(t, tr, 3)

	require.NoError(t, e.Disengage(2, 3))
	assert.Equal(t, []string{"DISARM 2;DISARM 3\r\n"}, tr.writes)
}

func TestDisengageIsIdempotent(t *testing.T) {
	tr := &scriptTransport{}
	e, _ := newTestEngine(t, tr, 2)

	require.NoError(t, e.Disengage())
	require.NoError(t, e.Disengage())
	assert.Len(t, tr.writes, 4, "the shutdown commands are simply re-sent")
}

func TestDisengageInvalidChannel(t *testing.T) {
	tr := &scriptTransport{}
	e, _ := newTestEngine(t, tr, 2)

	err := e.Disengage(7)
	var chErr *ChannelError
	require.ErrorAs(t, err, &chErr)
	assert.Empty(t, tr.writes)
}
