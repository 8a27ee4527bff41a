package dialer

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aridialer/internal/ari"
	"aridialer/internal/call"
	"aridialer/internal/config"
)

// fakeClient records every ARI command the engine issues.
type fakeClient struct {
	mu sync.Mutex

	originates   []ari.OriginateRequest
	originateErr error
	answered     []string
	hangups      []string
	bridgeSeq    int
	added        [][2]string
	destroyed    []string
	recordings   []string
	stoppedMedia []string
	stoppedRecs  []string
}

func (f *fakeClient) Originate(req ari.OriginateRequest) (*ari.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.originateErr != nil {
		return nil, f.originateErr
	}
	f.originates = append(f.originates, req)
	return &ari.Channel{ID: fmt.Sprintf("orig-%d", len(f.originates))}, nil
}

func (f *fakeClient) Answer(channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answered = append(f.answered, channelID)
	return nil
}

func (f *fakeClient) Hangup(channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hangups = append(f.hangups, channelID)
	return nil
}

func (f *fakeClient) CreateBridge(name string) (*ari.Bridge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bridgeSeq++
	return &ari.Bridge{ID: fmt.Sprintf("br-%d", f.bridgeSeq), Name: name}, nil
}

func (f *fakeClient) AddChannel(bridgeID, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, [2]string{bridgeID, channelID})
	return nil
}

func (f *fakeClient) DestroyBridge(bridgeID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed = append(f.destroyed, bridgeID)
	return nil
}

func (f *fakeClient) RecordBridge(bridgeID string, req ari.RecordRequest) (*ari.LiveRecording, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recordings = append(f.recordings, req.Name)
	return &ari.LiveRecording{Name: req.Name, Format: req.Format, State: "recording"}, nil
}

func (f *fakeClient) StopBridgeMedia(bridgeID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stoppedMedia = append(f.stoppedMedia, bridgeID)
	return nil
}

func (f *fakeClient) StopRecording(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stoppedRecs = append(f.stoppedRecs, name)
	return nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		ARI: config.ARIConfig{
			URL:      "http://127.0.0.1:8088",
			Username: "ari",
			Password: "secret",
			Trunk:    "trunk-out",
			App:      "outbound_dialer",
		},
		Dial: config.DialConfig{
			TargetExtension: "777",
			TargetContext:   "default2",
			CallTimeout:     30,
			MaxConcurrent:   1,
		},
		Recording: config.RecordingConfig{
			Dir:    t.TempDir(),
			Format: "wav",
		},
	}
}

// testEngine builds an engine whose handlers are invoked directly; the
// loop goroutine is never started so the test stays single threaded.
func testEngine(t *testing.T, fc *fakeClient) *Engine {
	t.Helper()
	e := NewEngine(testConfig(t), fc, nil, nil)
	fixed := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return fixed }
	return e
}

// oneCallID returns the single in-flight call id.
func oneCallID(t *testing.T, e *Engine) string {
	t.Helper()
	require.Len(t, e.inFlight, 1)
	for id := range e.inFlight {
		return id
	}
	return ""
}

func TestFullCallLifecycle(t *testing.T) {
	fc := &fakeClient{}
	e := testEngine(t, fc)

	e.queue = []string{"15551234"}
	e.maybeOriginateNext()
	callID := oneCallID(t, e)

	require.Len(t, fc.originates, 1)
	assert.Equal(t, "PJSIP/15551234@trunk-out", fc.originates[0].Endpoint)
	assert.Equal(t, "dialer,"+callID, fc.originates[0].AppArgs)

	// Trunk leg enters Stasis already answered.
	e.handleEvent(&ari.StasisStart{
		Args: []string{"dialer," + callID},
		Channel: ari.Channel{
			ID: "c1", Name: "PJSIP/15551234-00000001", State: "Up", Linkedid: "lk-1",
		},
	})

	c := e.store.Get(callID)
	require.NotNil(t, c)
	assert.Equal(t, call.RoleDialer, c.RoleOf("c1"))
	assert.True(t, c.DialerUp)
	assert.NotEmpty(t, c.BridgeID)
	assert.True(t, c.RecordingStarted)
	require.Len(t, fc.originates, 2)
	assert.Equal(t, "Local/777@default2", fc.originates[1].Endpoint)
	assert.Equal(t, "dialed,"+callID, fc.originates[1].AppArgs)
	assert.Equal(t, "15551234", fc.originates[1].CallerID)

	// Partner leg arrives, gets answered and joins the bridge.
	e.handleEvent(&ari.StasisStart{
		Args: []string{"dialed," + callID},
		Channel: ari.Channel{
			ID: "c2", Name: "Local/777@default2-0001;2", State: "Down", Linkedid: "lk-2",
		},
	})
	assert.Contains(t, fc.answered, "c2")
	assert.Equal(t, call.RoleDialed, c.RoleOf("c2"))

	e.handleEvent(&ari.ChannelStateChange{
		Channel: ari.Channel{ID: "c2", Name: "Local/777@default2-0001;2", State: "Up", Linkedid: "lk-2"},
	})
	assert.False(t, c.DialedConnectedAt.IsZero())
	assert.False(t, c.CallConnectedAt.IsZero())

	// The agent endpoint answers the local extension's dial.
	e.handleEvent(&ari.Dial{
		Caller:     &ari.Channel{ID: "c2", Name: "Local/777@default2-0001;2", Linkedid: "lk-2"},
		Peer:       &ari.Channel{ID: "a1", Name: "PJSIP/agent-00000002", Caller: ari.CallerID{Name: "Alice"}, Linkedid: "lk-2"},
		Dialstatus: "ANSWER",
	})
	assert.Equal(t, call.RoleAgent, c.RoleOf("a1"))
	require.NotNil(t, c.AgentLegs["a1"])
	assert.Equal(t, "Alice", c.AgentLegs["a1"].Identity)

	e.handleEvent(&ari.ChannelEnteredBridge{
		Bridge:  ari.Bridge{ID: c.BridgeID},
		Channel: ari.Channel{ID: "a1", Name: "PJSIP/agent-00000002", Connected: ari.CallerID{Name: "Alice"}, Linkedid: "lk-2"},
	})
	assert.Equal(t, "Alice", c.AnsweredBy)
	assert.Equal(t, call.AnsweredByAgent, c.AnsweredBySource)
	assert.False(t, c.AgentAnsweredAt.IsZero())

	// Teardown: every channel is destroyed, the call completes.
	bridgeID := c.BridgeID
	e.handleEvent(&ari.ChannelDestroyed{
		Channel: ari.Channel{ID: "c1", Name: "PJSIP/15551234-00000001", Linkedid: "lk-1"}, Cause: 16, CauseTxt: "Normal Clearing",
	})
	assert.Equal(t, "Normal Clearing", c.DialerHangupCause)
	assert.NotNil(t, e.store.Get(callID))

	e.handleEvent(&ari.ChannelDestroyed{
		Channel: ari.Channel{ID: "c2", Name: "Local/777@default2-0001;2", Linkedid: "lk-2"}, Cause: 16, CauseTxt: "Normal Clearing",
	})
	e.handleEvent(&ari.ChannelDestroyed{
		Channel: ari.Channel{ID: "a1", Name: "PJSIP/agent-00000002", Linkedid: "lk-2"}, Cause: 16, CauseTxt: "Normal Clearing",
	})

	assert.Nil(t, e.store.Get(callID))
	assert.Empty(t, e.inFlight)
	assert.True(t, c.SummaryLogged)
	assert.Contains(t, fc.destroyed, bridgeID)
	assert.Contains(t, fc.stoppedMedia, bridgeID)
}

func TestStasisStartUnknownCallDropped(t *testing.T) {
	fc := &fakeClient{}
	e := testEngine(t, fc)

	e.handleEvent(&ari.StasisStart{
		Args:    []string{"dialer,missing"},
		Channel: ari.Channel{ID: "c9", Name: "PJSIP/x-0009"},
	})

	assert.Equal(t, 0, e.store.Count())
	assert.Empty(t, fc.originates)
}

func TestPartnerOriginatedOnce(t *testing.T) {
	fc := &fakeClient{}
	e := testEngine(t, fc)

	e.queue = []string{"15551234"}
	e.maybeOriginateNext()
	callID := oneCallID(t, e)

	start := &ari.StasisStart{
		Args:    []string{"dialer," + callID},
		Channel: ari.Channel{ID: "c1", Name: "PJSIP/15551234-00000001", State: "Ring", Linkedid: "lk-1"},
	}
	e.handleEvent(start)
	e.handleEvent(start)

	assert.Len(t, fc.originates, 2) // the trunk leg plus one partner
}

func TestDialstringAmbiguityNotAssociated(t *testing.T) {
	fc := &fakeClient{}
	e := testEngine(t, fc)
	e.cfg.Dial.MaxConcurrent = 2

	e.queue = []string{"15551234", "15551234"}
	e.maybeOriginateNext()
	require.Len(t, e.inFlight, 2)

	e.handleEvent(&ari.Dial{
		Peer:       &ari.Channel{ID: "p1", Name: "PJSIP/15551234-0003"},
		Dialstring: "15551234@trunk-out",
		Dialstatus: "RINGING",
	})

	// Two in-flight calls share the number, so the event must not bind.
	for _, c := range e.store.All() {
		assert.NotContains(t, c.Channels, "p1")
	}
}

func TestAnsweredByDialedThenAgent(t *testing.T) {
	fc := &fakeClient{}
	e := testEngine(t, fc)

	e.queue = []string{"15551234"}
	e.maybeOriginateNext()
	callID := oneCallID(t, e)

	e.handleEvent(&ari.StasisStart{
		Args:    []string{"dialer," + callID},
		Channel: ari.Channel{ID: "c1", Name: "PJSIP/15551234-00000001", State: "Up", Linkedid: "lk-1"},
	})
	e.handleEvent(&ari.StasisStart{
		Args:    []string{"dialed," + callID},
		Channel: ari.Channel{ID: "c2", Name: "Local/777@default2-0001;2", State: "Up", Connected: ari.CallerID{Name: "777"}, Linkedid: "lk-2"},
	})

	c := e.store.Get(callID)
	require.NotNil(t, c)
	assert.Equal(t, "777", c.AnsweredBy)
	assert.Equal(t, call.AnsweredByDialed, c.AnsweredBySource)

	e.handleEvent(&ari.ChannelStateChange{
		Channel: ari.Channel{ID: "a1", Name: "PJSIP/agent-0002", State: "Up", Connected: ari.CallerID{Name: "Alice"}, Linkedid: "lk-2"},
	})

	// The agent channel resolved through the linked id and took over.
	assert.Equal(t, "Alice", c.AnsweredBy)
	assert.Equal(t, call.AnsweredByAgent, c.AnsweredBySource)
}

func TestDialRolesBothLocalHalvesAsDialed(t *testing.T) {
	fc := &fakeClient{}
	e := testEngine(t, fc)

	e.queue = []string{"15551234"}
	e.maybeOriginateNext()
	callID := oneCallID(t, e)

	e.handleEvent(&ari.StasisStart{
		Args:    []string{"dialer," + callID},
		Channel: ari.Channel{ID: "c1", Name: "PJSIP/15551234-00000001", State: "Up", Linkedid: "lk-1"},
	})

	// The local pair dials out before either half is indexed; both halves
	// belong to the dialed leg.
	e.handleEvent(&ari.Dial{
		Caller: &ari.Channel{ID: "h1", Name: "Local/777@default2-0001;1", Linkedid: "lk-2"},
		Peer:   &ari.Channel{ID: "h2", Name: "Local/777@default2-0001;2", Linkedid: "lk-2"},
	})

	c := e.store.Get(callID)
	require.NotNil(t, c)
	assert.Equal(t, call.RoleDialed, c.RoleOf("h1"))
	assert.Equal(t, call.RoleDialed, c.RoleOf("h2"))
	assert.Equal(t, "h1", c.LegB.ChannelID)
	assert.Equal(t, "h2", c.LegB.PairedChannelID)
}

func TestConcreteDialedChannelDisplacesLocalHalf(t *testing.T) {
	fc := &fakeClient{}
	e := testEngine(t, fc)

	e.queue = []string{"15551234"}
	e.maybeOriginateNext()
	callID := oneCallID(t, e)

	e.handleEvent(&ari.StasisStart{
		Args:    []string{"dialer," + callID},
		Channel: ari.Channel{ID: "c1", Name: "PJSIP/15551234-00000001", State: "Up", Linkedid: "lk-1"},
	})

	// Only the ";1" half shows up first and takes the dialed role.
	e.handleEvent(&ari.Dial{
		Peer: &ari.Channel{ID: "h1", Name: "Local/777@default2-0001;1", Linkedid: "lk-2"},
	})
	c := e.store.Get(callID)
	require.NotNil(t, c)
	require.Equal(t, "h1", c.DialedChannelID)

	// The half that carries media enters Stasis with the role tag and
	// must take the dialed role over from the placeholder.
	e.handleEvent(&ari.StasisStart{
		Args:    []string{"dialed," + callID},
		Channel: ari.Channel{ID: "c2", Name: "Local/777@default2-0001;2", State: "Up", Linkedid: "lk-2"},
	})

	assert.Equal(t, "c2", c.DialedChannelID)
	assert.Equal(t, call.RoleDialed, c.RoleOf("c2"))
	assert.Equal(t, "c2", c.LegB.ChannelID)
	assert.Equal(t, "h1", c.LegB.PairedChannelID)
	assert.Equal(t, "Local/777@default2-0001;1", c.LegB.PairedChannelName)
}

func TestStasisEndResolvesThroughBridge(t *testing.T) {
	fc := &fakeClient{}
	e := testEngine(t, fc)

	e.queue = []string{"15551234"}
	e.maybeOriginateNext()
	callID := oneCallID(t, e)

	e.handleEvent(&ari.StasisStart{
		Args:    []string{"dialer," + callID},
		Channel: ari.Channel{ID: "c1", Name: "PJSIP/15551234-00000001", State: "Up", Linkedid: "lk-1"},
	})
	e.handleEvent(&ari.StasisStart{
		Args:    []string{"dialed," + callID},
		Channel: ari.Channel{ID: "c2", Name: "Local/777@default2-0001;2", State: "Up", Linkedid: "lk-2"},
	})
	c := e.store.Get(callID)
	require.NotNil(t, c)

	// An agent channel the indexes never learned about leaves Stasis; the
	// bridge reference on the event is the only way back to the call.
	e.handleEvent(&ari.StasisEnd{
		Channel: ari.Channel{ID: "x9", Name: "PJSIP/agent-0009"},
		Bridge:  &ari.Bridge{ID: c.BridgeID},
	})

	assert.Equal(t, call.RoleAgent, c.RoleOf("x9"))
	require.NotNil(t, c.AgentLegs["x9"])
	assert.False(t, c.AgentLegs["x9"].HangupAt.IsZero())
	assert.Contains(t, c.Channels, "x9")
}

func TestStasisEndHangsUpRemainingLegs(t *testing.T) {
	fc := &fakeClient{}
	e := testEngine(t, fc)

	e.queue = []string{"15551234"}
	e.maybeOriginateNext()
	callID := oneCallID(t, e)

	e.handleEvent(&ari.StasisStart{
		Args:    []string{"dialer," + callID},
		Channel: ari.Channel{ID: "c1", Name: "PJSIP/15551234-00000001", State: "Up", Linkedid: "lk-1"},
	})
	e.handleEvent(&ari.StasisStart{
		Args:    []string{"dialed," + callID},
		Channel: ari.Channel{ID: "c2", Name: "Local/777@default2-0001;2", State: "Up", Linkedid: "lk-2"},
	})

	e.handleEvent(&ari.StasisEnd{
		Channel: ari.Channel{ID: "c1", Name: "PJSIP/15551234-00000001", Linkedid: "lk-1"},
	})

	assert.Contains(t, fc.hangups, "c2")
	assert.NotContains(t, fc.hangups, "c1")
}
