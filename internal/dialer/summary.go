package dialer

import (
	"log"
	"math"
	"time"

	"aridialer/internal/call"
	"aridialer/internal/database"
)

// completeCall finishes a call exactly once: stamp the completion time,
// emit the summary, persist the row and tear everything down. Runs on
// the engine loop.
func (e *Engine) completeCall(c *call.Call) {
	if c.CompletedAt.IsZero() {
		c.CompletedAt = e.now()
	}
	e.writeSummary(c)
	e.cleanup(c)
}

// roundSeconds converts a duration to whole seconds, clamped at zero.
func roundSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Round(d.Seconds()))
}

type legSummary struct {
	status string
	wait   int
	talk   int
}

// summarizeLegA derives the trunk leg's final status and wait/talk
// durations. The leg counts as answered only when both the trunk side
// and the local side actually connected.
func summarizeLegA(c *call.Call) legSummary {
	var s legSummary

	if !c.DialerConnectedAt.IsZero() && !c.DialedConnectedAt.IsZero() {
		s.status = "ANSWERED"
	} else {
		s.status = pickStatus(c.DialerHangupCause, c.DialedHangupCause, c.LegA.LastStatus)
		if s.status == "" {
			s.status = "NO ANSWER"
		}
	}

	if !c.DialerConnectedAt.IsZero() {
		s.wait = roundSeconds(c.DialerConnectedAt.Sub(c.CreatedAt))
	} else {
		s.wait = roundSeconds(c.CompletedAt.Sub(c.CreatedAt))
	}

	talkStart := c.AgentAnsweredAt
	if talkStart.IsZero() {
		talkStart = c.CallConnectedAt
	}
	if !talkStart.IsZero() {
		end := c.DialerHangupAt
		if end.IsZero() {
			end = c.CompletedAt
		}
		s.talk = roundSeconds(end.Sub(talkStart))
	}
	return s
}

// summarizeLegB derives the local leg's final status and durations. Its
// wait runs from the partner originate to the agent answer; its talk
// from the agent answer to the agent hangup.
func summarizeLegB(c *call.Call) legSummary {
	var s legSummary

	if !c.DialedConnectedAt.IsZero() && !c.AgentAnsweredAt.IsZero() {
		s.status = "ANSWERED"
	} else {
		s.status = pickStatus(c.DialedHangupCause, c.LegB.LastStatus)
		if s.status == "" {
			s.status = "NO ANSWER"
		}
	}

	if !c.AgentDialedAt.IsZero() {
		if !c.AgentAnsweredAt.IsZero() {
			s.wait = roundSeconds(c.AgentAnsweredAt.Sub(c.AgentDialedAt))
		} else {
			s.wait = roundSeconds(c.CompletedAt.Sub(c.AgentDialedAt))
		}
	}

	if !c.AgentAnsweredAt.IsZero() {
		end := agentHangupTime(c)
		if end.IsZero() {
			end = c.DialedHangupAt
		}
		if end.IsZero() {
			end = c.CompletedAt
		}
		s.talk = roundSeconds(end.Sub(c.AgentAnsweredAt))
	}
	return s
}

// agentHangupTime picks the hangup time of the agent leg that answered,
// falling back to any agent leg with a hangup.
func agentHangupTime(c *call.Call) time.Time {
	var fallback time.Time
	for _, leg := range c.AgentLegs {
		if leg.HangupAt.IsZero() {
			continue
		}
		if !leg.AnsweredAt.IsZero() {
			return leg.HangupAt
		}
		if fallback.IsZero() {
			fallback = leg.HangupAt
		}
	}
	return fallback
}

// agentIdentity resolves the agent name for the summary line.
func agentIdentity(c *call.Call) string {
	if c.AnsweredBySource == call.AnsweredByAgent && c.AnsweredBy != "" {
		return c.AnsweredBy
	}
	for _, leg := range c.AgentLegs {
		if !leg.AnsweredAt.IsZero() && leg.Identity != "" {
			return leg.Identity
		}
	}
	for _, leg := range c.AgentLegs {
		if leg.Identity != "" {
			return leg.Identity
		}
	}
	return "unknown"
}

// writeSummary emits the one-line call record and enqueues the database
// row. Guarded so retries and watchdogs cannot double-log a call.
func (e *Engine) writeSummary(c *call.Call) {
	if c.SummaryLogged {
		return
	}
	c.SummaryLogged = true

	legA := summarizeLegA(c)
	legB := summarizeLegB(c)
	agent := agentIdentity(c)

	log.Printf("[Summary] %s;%s;%s;%d;%d;%s;%s;%d;%d;%s",
		c.CreatedAt.Format(time.RFC3339),
		c.Number,
		legA.status, legA.wait, legA.talk,
		legB.status, agent, legB.wait, legB.talk,
		c.RecordingPath)

	if e.writer == nil {
		return
	}

	row := &database.CallRow{
		CallID:        c.ID,
		RecordingPath: c.RecordingPath,
		LegA: database.LegRow{
			Status:        legA.status,
			Number:        c.Number,
			Channel:       firstNonEmpty(c.LegA.PeerName, c.LegA.ChannelID),
			PairedChannel: firstNonEmpty(c.LegA.PairedChannelName, c.LegA.PairedChannelID),
			Peer:          c.LegA.PeerName,
			Caller:        c.LegA.CallerName,
			DialString:    c.LegA.DialString,
			AnsweredBy:    c.LegA.AnsweredBy,
			Start:         c.LegA.StartedAt,
			Answer:        c.LegA.AnsweredAt,
			End:           c.LegA.EndedAt,
		},
		LegB: database.LegRow{
			Status:        legB.status,
			Number:        c.LegB.TargetNumber,
			Channel:       firstNonEmpty(c.LegB.PeerName, c.LegB.ChannelID),
			PairedChannel: firstNonEmpty(c.LegB.PairedChannelName, c.LegB.PairedChannelID),
			Peer:          c.LegB.PeerName,
			Caller:        c.LegB.CallerName,
			DialString:    c.LegB.DialString,
			AnsweredBy:    firstNonEmpty(c.LegB.AnsweredBy, agentIfKnown(agent)),
			Start:         c.LegB.StartedAt,
			Answer:        c.LegB.AnsweredAt,
			End:           c.LegB.EndedAt,
		},
	}
	e.writer.Enqueue(row)
}

func agentIfKnown(agent string) string {
	if agent == "unknown" {
		return ""
	}
	return agent
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// cleanup tears down a finished call: watchdog, recording, bridge,
// leftover channels and every index entry, then frees the concurrency
// slot.
func (e *Engine) cleanup(c *call.Call) {
	if c.Watchdog != nil {
		c.Watchdog.Stop()
		c.Watchdog = nil
	}

	e.rec.StopAndCollect(c)

	if c.BridgeID != "" {
		if err := e.client.DestroyBridge(c.BridgeID); err != nil {
			log.Printf("[Engine] Destroy bridge %s failed: %v", c.BridgeID, err)
		}
		c.BridgeID = ""
	}

	for ch := range c.Channels {
		if err := e.client.Hangup(ch); err != nil {
			log.Printf("[Engine] Hangup %s failed: %v", ch, err)
		}
	}

	e.store.Purge(c.ID)
	e.markCallCompleted(c.ID)
}
