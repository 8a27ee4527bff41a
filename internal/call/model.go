package call

import (
	"time"
)

// Role classifies a channel inside a call.
type Role string

const (
	RoleUnknown Role = "unknown"
	RoleDialer  Role = "dialer" // outbound trunk leg (leg A)
	RoleDialed  Role = "dialed" // local extension leg (leg B)
	RoleAgent   Role = "agent"  // concrete agent endpoint behind leg B
)

// Source priorities for the answered-by identity. Agent dominates dialed.
const (
	AnsweredByDialed = "dialed"
	AnsweredByAgent  = "agent"
)

// LegTimeline is the per-leg record persisted at the end of a call.
// Leg A timestamps are truncated to whole seconds to match the trunk
// platform's granularity; leg B keeps millisecond precision.
type LegTimeline struct {
	Role              string // "legA" or "legB"
	ChannelID         string
	PeerName          string
	CallerName        string
	PairedChannelName string
	PairedChannelID   string
	DialString        string
	TargetNumber      string
	AnsweredBy        string
	StartedAt         time.Time
	AnsweredAt        time.Time
	EndedAt           time.Time
	LastStatus        string
}

func (l *LegTimeline) clamp(t time.Time) time.Time {
	if l.Role == "legA" {
		return t.Truncate(time.Second)
	}
	return t
}

// SetStarted stamps the leg start once; the first value wins.
func (l *LegTimeline) SetStarted(t time.Time) {
	if l.StartedAt.IsZero() && !t.IsZero() {
		l.StartedAt = l.clamp(t)
	}
}

// SetAnswered stamps the leg answer once; the first value wins.
func (l *LegTimeline) SetAnswered(t time.Time) {
	if l.AnsweredAt.IsZero() && !t.IsZero() {
		l.AnsweredAt = l.clamp(t)
	}
}

// SetEnded stamps the leg end once; the first value wins.
func (l *LegTimeline) SetEnded(t time.Time) {
	if l.EndedAt.IsZero() && !t.IsZero() {
		l.EndedAt = l.clamp(t)
	}
}

// AgentLeg is the sub-timeline of one agent channel, distinct from the
// aggregate leg B record.
type AgentLeg struct {
	ChannelID  string
	Identity   string
	DialedAt   time.Time
	AnsweredAt time.Time
	HangupAt   time.Time
	LastStatus string
}

// Call is one logical outbound attempt with all of its legs.
type Call struct {
	ID        string
	Number    string
	CreatedAt time.Time

	BridgeID string              // the mixing bridge, at most one
	Bridges  map[string]struct{} // every bridge id ever associated
	Channels map[string]struct{} // channel ids currently active in the call

	ChannelRoles    map[string]Role
	DialerChannelID string
	DialedChannelID string
	AgentChannelID  string
	AgentChannels   map[string]struct{}
	AgentLegs       map[string]*AgentLeg
	LinkedIDs       map[string]struct{}

	OriginatedPartner bool
	DialerUp          bool

	DialerConnectedAt    time.Time
	DialedConnectedAt    time.Time
	DialerHangupAt       time.Time
	DialedHangupAt       time.Time
	AgentAnsweredAt      time.Time
	AgentDialedAt        time.Time
	CallConnectedAt      time.Time
	EffectiveConnectedAt time.Time
	CompletedAt          time.Time

	DialerHangupCause string
	DialedHangupCause string

	AnsweredBy       string
	AnsweredBySource string

	RecordingName    string
	RecordingPath    string
	RecordingFormat  string
	RecordingStarted bool
	RecordingMode    string // "bridge" when recorded via bridges.record

	LegA LegTimeline
	LegB LegTimeline

	SummaryLogged bool
	Watchdog      *time.Timer
}

// New creates a call for a destination number.
func New(id, number string, now time.Time) *Call {
	c := &Call{
		ID:            id,
		Number:        number,
		CreatedAt:     now,
		Bridges:       make(map[string]struct{}),
		Channels:      make(map[string]struct{}),
		ChannelRoles:  make(map[string]Role),
		AgentChannels: make(map[string]struct{}),
		AgentLegs:     make(map[string]*AgentLeg),
		LinkedIDs:     make(map[string]struct{}),
		LegA:          LegTimeline{Role: "legA", TargetNumber: number},
		LegB:          LegTimeline{Role: "legB"},
	}
	c.LegA.SetStarted(now)
	return c
}

// RoleOf returns the recorded role of a channel, RoleUnknown if none.
func (c *Call) RoleOf(channelID string) Role {
	if r, ok := c.ChannelRoles[channelID]; ok {
		return r
	}
	return RoleUnknown
}

// SetRole assigns a role to a channel. A channel moves away from
// RoleUnknown exactly once; later calls with a different role are
// ignored so an established identification is never flipped.
func (c *Call) SetRole(channelID string, role Role) {
	if existing, ok := c.ChannelRoles[channelID]; ok && existing != RoleUnknown {
		return
	}
	c.ChannelRoles[channelID] = role
	switch role {
	case RoleDialer:
		if c.DialerChannelID == "" {
			c.DialerChannelID = channelID
		}
	case RoleDialed:
		if c.DialedChannelID == "" {
			c.DialedChannelID = channelID
		}
	case RoleAgent:
		c.AgentChannels[channelID] = struct{}{}
		if c.AgentChannelID == "" {
			c.AgentChannelID = channelID
		}
	}
}

// PromoteDialed replaces a placeholder dialed channel (a Local/... peer)
// with a concrete one. This is the only path that overwrites an already
// assigned dialed channel id.
func (c *Call) PromoteDialed(channelID string) {
	old := c.DialedChannelID
	if old == channelID {
		return
	}
	if old != "" {
		delete(c.ChannelRoles, old)
	}
	c.DialedChannelID = channelID
	c.ChannelRoles[channelID] = RoleDialed
}

// SetAnsweredBy records who answered the call. Agent-sourced identities
// dominate dialed-sourced ones and are never overwritten by them.
func (c *Call) SetAnsweredBy(identity, source string) {
	if identity == "" {
		return
	}
	if c.AnsweredBySource == AnsweredByAgent && source != AnsweredByAgent {
		return
	}
	c.AnsweredBy = identity
	c.AnsweredBySource = source
}

// Agent returns the AgentLeg for a channel, creating it when absent.
func (c *Call) Agent(channelID string) *AgentLeg {
	if leg, ok := c.AgentLegs[channelID]; ok {
		return leg
	}
	leg := &AgentLeg{ChannelID: channelID}
	c.AgentLegs[channelID] = leg
	return leg
}

// RecomputeConnected refreshes the aggregate connection timestamps from
// the per-leg ones. callConnectedAt is the earliest moment both sides
// could talk; effectiveConnectedAt only ever moves backwards.
func (c *Call) RecomputeConnected() {
	talkStart := maxTime(c.DialerConnectedAt, c.DialedConnectedAt)
	c.CallConnectedAt = minTime(c.AgentAnsweredAt, c.CallConnectedAt, talkStart)

	if c.CallConnectedAt.IsZero() && c.EffectiveConnectedAt.IsZero() {
		c.EffectiveConnectedAt = c.DialerConnectedAt
		return
	}
	c.EffectiveConnectedAt = minTime(c.EffectiveConnectedAt, c.CallConnectedAt)
}

// ObserveAgentAnswered keeps the minimum agent answer time across legs.
func (c *Call) ObserveAgentAnswered(t time.Time) {
	if t.IsZero() {
		return
	}
	if c.AgentAnsweredAt.IsZero() || t.Before(c.AgentAnsweredAt) {
		c.AgentAnsweredAt = t
	}
	c.RecomputeConnected()
}

// minTime returns the earliest non-zero time, zero when all are zero.
func minTime(ts ...time.Time) time.Time {
	var min time.Time
	for _, t := range ts {
		if t.IsZero() {
			continue
		}
		if min.IsZero() || t.Before(min) {
			min = t
		}
	}
	return min
}

// maxTime returns the latest time, but zero when any input is zero: a
// talk start needs both sides up.
func maxTime(a, b time.Time) time.Time {
	if a.IsZero() || b.IsZero() {
		return time.Time{}
	}
	if a.After(b) {
		return a
	}
	return b
}
