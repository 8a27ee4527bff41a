package dialer

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeNumberFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "numbers.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadNumbersFromFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Dial.OutboundNumberFile = writeNumberFile(t, "15551234\r\n\n 15555678 \nabc123\n+4915551111\n")

	numbers, err := LoadNumbers(cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"15551234", "15555678", "+4915551111"}, numbers)
}

func TestLoadNumbersFileWinsOverInline(t *testing.T) {
	cfg := testConfig(t)
	cfg.Dial.OutboundNumber = "19998887777"
	cfg.Dial.OutboundNumberFile = writeNumberFile(t, "15551234\n")

	numbers, err := LoadNumbers(cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"15551234"}, numbers)
}

func TestLoadNumbersInline(t *testing.T) {
	cfg := testConfig(t)
	cfg.Dial.OutboundNumber = " 15551234 "

	numbers, err := LoadNumbers(cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"15551234"}, numbers)
}

func TestLoadNumbersEmptyIsError(t *testing.T) {
	cfg := testConfig(t)
	cfg.Dial.OutboundNumberFile = writeNumberFile(t, "not-a-number\n\n")

	_, err := LoadNumbers(cfg)
	assert.Error(t, err)
}

func TestLoadNumbersMissingFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Dial.OutboundNumberFile = "/nonexistent/numbers.txt"

	_, err := LoadNumbers(cfg)
	assert.Error(t, err)
}

func TestValidateNumberFile(t *testing.T) {
	path := writeNumberFile(t, "15551234\nbogus\n")
	numbers, err := ValidateNumberFile(path)
	require.NoError(t, err)
	assert.Len(t, numbers, 1)

	empty := writeNumberFile(t, "bogus\n")
	_, err = ValidateNumberFile(empty)
	assert.Error(t, err)
}

func TestWatchdogDelay(t *testing.T) {
	assert.Equal(t, 45*time.Second, watchdogDelay(10))
	assert.Equal(t, 45*time.Second, watchdogDelay(30))
	assert.Equal(t, 75*time.Second, watchdogDelay(60))
}

func TestMaxConcurrentHonored(t *testing.T) {
	fc := &fakeClient{}
	e := testEngine(t, fc)
	e.cfg.Dial.MaxConcurrent = 2

	e.queue = []string{"100", "200", "300"}
	e.maybeOriginateNext()

	assert.Len(t, e.inFlight, 2)
	assert.Len(t, e.queue, 1)
	assert.Equal(t, 2, e.store.Count())

	callID := oneOf(e.inFlight)
	e.markCallCompleted(callID)

	assert.Len(t, e.inFlight, 2)
	assert.Empty(t, e.queue)
	assert.Len(t, fc.originates, 3)
}

func oneOf(m map[string]string) string {
	for k := range m {
		return k
	}
	return ""
}

func TestOriginateFailureReleasesSlot(t *testing.T) {
	fc := &fakeClient{originateErr: errors.New("endpoint offline")}
	e := testEngine(t, fc)

	e.queue = []string{"15551234"}
	e.maybeOriginateNext()

	assert.Empty(t, e.inFlight)
	assert.Equal(t, 0, e.store.Count())
	assert.Empty(t, fc.originates)
}

func TestReloadRejectedWhileBusy(t *testing.T) {
	fc := &fakeClient{}
	e := testEngine(t, fc)

	e.Start(nil)
	defer e.Stop()

	assert.True(t, e.Reload(testConfig(t), []string{"15551234"}))
	// The first reload left one call in flight.
	assert.False(t, e.Reload(testConfig(t), []string{"15555678"}))

	stats := e.CurrentStats()
	assert.Equal(t, 1, stats.InFlight)
	assert.Equal(t, 0, stats.Queued)
}

func TestReloadAppliesNewConfig(t *testing.T) {
	fc := &fakeClient{}
	e := testEngine(t, fc)

	e.Start(nil)

	next := testConfig(t)
	next.Dial.MaxConcurrent = 2
	next.ARI.Trunk = "trunk-b"
	require.True(t, e.Reload(next, []string{"100", "200", "300"}))

	// The reloaded limit governs the new run, not the boot-time one.
	stats := e.CurrentStats()
	assert.Equal(t, 2, stats.InFlight)
	assert.Equal(t, 1, stats.Queued)

	e.Stop()
	assert.Same(t, next, e.cfg)
	require.Len(t, fc.originates, 2)
	assert.Equal(t, "PJSIP/100@trunk-b", fc.originates[0].Endpoint)
}
