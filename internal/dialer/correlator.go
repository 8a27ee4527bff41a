package dialer

import (
	"log"
	"strings"
	"time"

	"aridialer/internal/ari"
	"aridialer/internal/call"
)

// handleEvent dispatches one ARI event. Runs on the engine loop.
func (e *Engine) handleEvent(ev ari.Event) {
	ts := ev.When()
	if ts.IsZero() {
		ts = e.now()
	}

	switch v := ev.(type) {
	case *ari.StasisStart:
		e.handleStasisStart(v, ts)
	case *ari.StasisEnd:
		e.handleChannelDown(&v.Channel, v.Bridge, false, "", ts)
	case *ari.ChannelDestroyed:
		e.handleChannelDown(&v.Channel, nil, true, v.CauseTxt, ts)
	case *ari.ChannelStateChange:
		e.handleStateChange(&v.Channel, ts)
	case *ari.Dial:
		e.handleDial(v, ts)
	case *ari.ChannelEnteredBridge:
		e.handleBridgeEnter(v, ts)
	case *ari.RecordingFinished:
		e.rec.HandleFinished(v.Recording.Name)
	default:
		log.Printf("[Correlator] Ignoring event %s", ev.Kind())
	}
}

// resolve finds the call a channel belongs to: direct channel index,
// then linked id (index plus mirror-set scan).
func (e *Engine) resolve(ch *ari.Channel) *call.Call {
	if c := e.store.ByChannel(ch.ID); c != nil {
		return c
	}
	return e.store.ByLinkedID(ch.Linkedid)
}

// adopt (re)populates every index relevant for a resolved channel.
func (e *Engine) adopt(c *call.Call, ch *ari.Channel) {
	e.store.BindChannel(c, ch.ID)
	e.store.BindLinkedID(c, ch.Linkedid)
}

// identityOf extracts a human-usable identity from a channel's connected
// party, falling back to its caller id.
func identityOf(ch *ari.Channel) string {
	if ch.Connected.Name != "" {
		return ch.Connected.Name
	}
	if ch.Connected.Number != "" {
		return ch.Connected.Number
	}
	if ch.Caller.Name != "" {
		return ch.Caller.Name
	}
	return ch.Caller.Number
}

// parseAppArgs decodes the comma-separated [role, callId] pair handed to
// the Stasis app. Asterisk may deliver it as one comma string or as two
// separate args.
func parseAppArgs(args []string) (role, callID string) {
	joined := strings.Join(args, ",")
	parts := strings.Split(joined, ",")
	if len(parts) >= 1 {
		role = strings.TrimSpace(parts[0])
	}
	if len(parts) >= 2 {
		callID = strings.TrimSpace(parts[1])
	}
	return role, callID
}

// ensureBridge creates the call's mixing bridge on first use and puts
// the channel into it.
func (e *Engine) ensureBridge(c *call.Call, channelID string) {
	if c.BridgeID == "" {
		br, err := e.client.CreateBridge("bridge-" + c.ID)
		if err != nil {
			log.Printf("[Correlator] Failed to create bridge for call %s: %v", c.ID, err)
			return
		}
		c.BridgeID = br.ID
		e.store.BindBridge(c, br.ID)
	}
	if err := e.client.AddChannel(c.BridgeID, channelID); err != nil {
		log.Printf("[Correlator] Failed to add %s to bridge %s: %v", channelID, c.BridgeID, err)
	}
}

func (e *Engine) handleStasisStart(ev *ari.StasisStart, ts time.Time) {
	role, callID := parseAppArgs(ev.Args)
	ch := &ev.Channel

	var c *call.Call
	if callID != "" {
		c = e.store.Get(callID)
	}
	if c == nil {
		c = e.resolve(ch)
	}
	if c == nil {
		log.Printf("[Correlator] StasisStart for unknown call (channel %s, args %v), dropping", ch.Name, ev.Args)
		return
	}
	e.adopt(c, ch)

	switch role {
	case "dialer":
		e.stasisStartDialer(c, ch, ts)
	case "dialed":
		e.stasisStartDialed(c, ch, ts)
	default:
		// A channel entering Stasis without a role tag is usually the
		// concrete endpoint behind a Local pair; the Dial and
		// BridgeEnter handlers will classify it.
		log.Printf("[Correlator] StasisStart without role for channel %s (call %s)", ch.Name, c.ID)
	}
}

func (e *Engine) stasisStartDialer(c *call.Call, ch *ari.Channel, ts time.Time) {
	c.SetRole(ch.ID, call.RoleDialer)

	c.LegA.ChannelID = ch.ID
	c.LegA.PeerName = ch.Name
	if ch.Caller.Name != "" {
		c.LegA.CallerName = ch.Caller.Name
	}
	c.LegA.SetStarted(ts)

	e.ensureBridge(c, ch.ID)

	if ch.State == "Up" {
		c.DialerUp = true
		c.LegA.SetAnswered(ts)
		if c.DialerConnectedAt.IsZero() {
			c.DialerConnectedAt = ts
		}
		c.RecomputeConnected()
		e.rec.Start(c, ts)
	}

	if !c.OriginatedPartner {
		c.OriginatedPartner = true
		e.originatePartner(c, ts)
	}
}

// originatePartner places the single leg-B originate toward the local
// extension (or explicit target endpoint). Issued exactly once per call;
// failure forces cleanup.
func (e *Engine) originatePartner(c *call.Call, ts time.Time) {
	endpoint := e.cfg.PartnerEndpoint()

	callerID := c.Number
	if callerID == "" {
		callerID = e.cfg.Dial.CallerID
	}

	c.LegB.DialString = endpoint
	c.LegB.TargetNumber = targetFromDialString(endpoint)
	c.LegB.SetStarted(ts)
	if c.AgentDialedAt.IsZero() {
		c.AgentDialedAt = ts
	}

	req := ari.OriginateRequest{
		Endpoint: endpoint,
		App:      e.cfg.ARI.App,
		AppArgs:  "dialed," + c.ID,
		CallerID: callerID,
		Timeout:  e.cfg.Dial.CallTimeout,
	}

	log.Printf("[Correlator] Originating partner %s for call %s", endpoint, c.ID)
	if _, err := e.client.Originate(req); err != nil {
		log.Printf("[Correlator] Partner originate failed for call %s: %v", c.ID, err)
		e.completeCall(c)
	}
}

// promoteDialedIfPlaceholder replaces a Local-half channel holding the
// dialed role with a channel that proved itself the concrete dialed leg
// (explicit role tag, or target-local membership in the call's bridge).
// Returns true when a promotion happened.
func (e *Engine) promoteDialedIfPlaceholder(c *call.Call, ch *ari.Channel) bool {
	old := c.DialedChannelID
	if old == "" || old == ch.ID {
		return false
	}
	var oldName string
	switch old {
	case c.LegB.ChannelID:
		oldName = c.LegB.PeerName
	case c.LegB.PairedChannelID:
		oldName = c.LegB.PairedChannelName
	}
	if !strings.HasPrefix(oldName, "Local/") {
		return false
	}

	c.PromoteDialed(ch.ID)
	if c.LegB.ChannelID == old {
		c.LegB.PairedChannelID = old
		c.LegB.PairedChannelName = oldName
		c.LegB.ChannelID = ch.ID
		c.LegB.PeerName = ch.Name
	}
	log.Printf("[Correlator] Dialed channel for call %s promoted %s -> %s", c.ID, old, ch.ID)
	return true
}

func (e *Engine) stasisStartDialed(c *call.Call, ch *ari.Channel, ts time.Time) {
	e.promoteDialedIfPlaceholder(c, ch)
	c.SetRole(ch.ID, call.RoleDialed)

	if err := e.client.Answer(ch.ID); err != nil {
		log.Printf("[Correlator] Answer failed for %s: %v", ch.ID, err)
	}

	if c.LegB.ChannelID == "" {
		c.LegB.ChannelID = ch.ID
	}
	c.LegB.PeerName = ch.Name
	if ch.Caller.Name != "" {
		c.LegB.CallerName = ch.Caller.Name
	}
	c.LegB.SetStarted(ts)

	e.ensureBridge(c, ch.ID)

	if ch.State == "Up" {
		c.LegB.SetAnswered(ts)
		if c.DialedConnectedAt.IsZero() {
			c.DialedConnectedAt = ts
		}
		c.RecomputeConnected()
	}

	c.SetAnsweredBy(identityOf(ch), call.AnsweredByDialed)
	e.rec.Start(c, ts)
}

// inferRole classifies a channel whose role was never recorded: the
// canonical ids and leg timelines are checked first, then the local
// channel naming heuristic, then the first unfilled canonical role.
func (e *Engine) inferRole(c *call.Call, ch *ari.Channel) call.Role {
	if r := c.RoleOf(ch.ID); r != call.RoleUnknown {
		return r
	}
	switch ch.ID {
	case c.DialerChannelID, c.LegA.ChannelID:
		return call.RoleDialer
	case c.DialedChannelID, c.LegB.ChannelID, c.LegB.PairedChannelID:
		return call.RoleDialed
	}
	if isTargetLocalName(ch.Name, e.cfg) {
		return call.RoleDialed
	}
	if c.DialerChannelID == "" {
		return call.RoleDialer
	}
	if c.DialedChannelID == "" {
		return call.RoleDialed
	}
	return call.RoleAgent
}

// handleChannelDown services both StasisEnd and ChannelDestroyed.
// StasisEnd may carry the bridge the channel was in, which resolves
// channels the indexes never learned about.
func (e *Engine) handleChannelDown(ch *ari.Channel, bridge *ari.Bridge, destroyed bool, causeTxt string, ts time.Time) {
	c := e.resolve(ch)
	if c == nil && bridge != nil {
		c = e.store.ByBridge(bridge.ID)
	}
	if c == nil {
		log.Printf("[Correlator] %s for unresolved channel %s, dropping",
			map[bool]string{true: "ChannelDestroyed", false: "StasisEnd"}[destroyed], ch.Name)
		return
	}
	e.adopt(c, ch)

	role := e.inferRole(c, ch)
	c.SetRole(ch.ID, role)

	switch role {
	case call.RoleDialer:
		if c.DialerHangupAt.IsZero() {
			c.DialerHangupAt = ts
		}
		c.LegA.SetEnded(ts)
		if causeTxt != "" {
			c.DialerHangupCause = causeTxt
			if s := normalizeStatus(c.LegA.LastStatus); s != "ANSWERED" && s != "ANSWER" {
				c.LegA.LastStatus = causeTxt
			}
		}
		if !destroyed {
			e.hangupOthers(c, ch.ID)
		}
	case call.RoleDialed:
		if c.DialedHangupAt.IsZero() {
			c.DialedHangupAt = ts
		}
		c.LegB.SetEnded(ts)
		if causeTxt != "" {
			c.DialedHangupCause = causeTxt
			if s := normalizeStatus(c.LegB.LastStatus); s != "ANSWERED" && s != "ANSWER" {
				c.LegB.LastStatus = causeTxt
			}
		}
		if !destroyed {
			e.hangupOthers(c, ch.ID)
		}
	case call.RoleAgent:
		leg := c.Agent(ch.ID)
		if leg.HangupAt.IsZero() {
			leg.HangupAt = ts
		}
		if causeTxt != "" {
			leg.LastStatus = causeTxt
		}
	}

	if destroyed {
		e.store.UnbindChannel(c, ch.ID)
		if len(c.Channels) == 0 {
			e.completeCall(c)
		}
	}
}

func (e *Engine) handleStateChange(ch *ari.Channel, ts time.Time) {
	c := e.resolve(ch)
	if c == nil {
		log.Printf("[Correlator] ChannelStateChange for unresolved channel %s, dropping", ch.Name)
		return
	}
	e.adopt(c, ch)

	role := c.RoleOf(ch.ID)
	if role == call.RoleUnknown && ch.State == "Up" {
		// A channel answering mid-call that matches no known leg is an
		// agent endpoint reached through the local extension.
		role = e.inferRole(c, ch)
		c.SetRole(ch.ID, role)
	}

	switch role {
	case call.RoleDialer:
		if ch.State == "Up" {
			c.DialerUp = true
			c.LegA.SetAnswered(ts)
			if c.DialerConnectedAt.IsZero() {
				c.DialerConnectedAt = ts
			}
			c.RecomputeConnected()
			e.rec.Start(c, ts)
		}
	case call.RoleDialed:
		if ch.State == "Up" {
			c.LegB.SetAnswered(ts)
			if c.DialedConnectedAt.IsZero() {
				c.DialedConnectedAt = ts
			}
			c.SetAnsweredBy(identityOf(ch), call.AnsweredByDialed)
			c.RecomputeConnected()
			e.rec.Start(c, ts)
		}
	case call.RoleAgent:
		leg := c.Agent(ch.ID)
		leg.LastStatus = ch.State
		switch ch.State {
		case "Up":
			if leg.AnsweredAt.IsZero() {
				leg.AnsweredAt = ts
			}
			if leg.Identity == "" {
				leg.Identity = identityOf(ch)
			}
			if c.AgentChannelID == "" {
				c.AgentChannelID = ch.ID
			}
			c.SetAnsweredBy(identityOf(ch), call.AnsweredByAgent)
			c.ObserveAgentAnswered(leg.AnsweredAt)
		case "Down", "Hungup":
			if leg.HangupAt.IsZero() {
				leg.HangupAt = ts
			}
		}
	}
}

func (e *Engine) handleBridgeEnter(ev *ari.ChannelEnteredBridge, ts time.Time) {
	ch := &ev.Channel

	c := e.store.ByBridge(ev.Bridge.ID)
	if c == nil {
		c = e.resolve(ch)
	}
	if c == nil {
		log.Printf("[Correlator] BridgeEnter for unresolved channel %s (bridge %s), dropping", ch.Name, ev.Bridge.ID)
		return
	}
	e.store.BindBridge(c, ev.Bridge.ID)
	e.adopt(c, ch)

	switch c.RoleOf(ch.ID) {
	case call.RoleDialer, call.RoleDialed:
		return
	}

	if isTargetLocalName(ch.Name, e.cfg) {
		if c.DialedChannelID == "" {
			c.SetRole(ch.ID, call.RoleDialed)
			if c.LegB.ChannelID == "" {
				c.LegB.ChannelID = ch.ID
				c.LegB.PeerName = ch.Name
			}
			return
		}
		// A ";1" half never carries media, so only the other half may
		// displace a placeholder that holds the dialed role.
		if !isLocalHalfOne(ch.Name) && e.promoteDialedIfPlaceholder(c, ch) {
			return
		}
	}

	// Anyone else joining the bridge is an agent endpoint.
	c.SetRole(ch.ID, call.RoleAgent)
	leg := c.Agent(ch.ID)
	if leg.Identity == "" {
		leg.Identity = identityOf(ch)
	}
	if leg.AnsweredAt.IsZero() {
		leg.AnsweredAt = ts
	}
	c.SetAnsweredBy(identityOf(ch), call.AnsweredByAgent)
	c.ObserveAgentAnswered(leg.AnsweredAt)
}

// resolveDial finds the call for a Dial event, using the extra
// Dial-only heuristics when the indexes come up empty.
func (e *Engine) resolveDial(ev *ari.Dial) *call.Call {
	candidates := dialCandidates(ev)

	for _, ch := range candidates {
		if c := e.resolve(ch); c != nil {
			return c
		}
	}

	// Dialstring prefix against in-flight numbers; only an unambiguous
	// match associates.
	if ev.Dialstring != "" {
		var matched *call.Call
		matches := 0
		for callID, number := range e.inFlight {
			if strings.HasPrefix(ev.Dialstring, number+"@") || targetFromDialString(ev.Dialstring) == number {
				if c := e.store.Get(callID); c != nil {
					matched = c
					matches++
				}
			}
		}
		if matches == 1 {
			return matched
		}
		if matches > 1 {
			log.Printf("[Correlator] Dialstring %q matches %d in-flight calls, not associating", ev.Dialstring, matches)
			return nil
		}
	}

	// Local channel toward the target extension: associate when exactly
	// one call is waiting for its partner leg to materialise.
	for _, ch := range candidates {
		if !isTargetLocalName(ch.Name, e.cfg) {
			continue
		}
		var matched *call.Call
		matches := 0
		for _, c := range e.store.All() {
			if !c.OriginatedPartner || c.LegB.ChannelID != "" || c.DialedChannelID != "" {
				continue
			}
			if hasRoledDialed(c) {
				continue
			}
			matched = c
			matches++
		}
		if matches == 1 {
			matched.SetRole(ch.ID, call.RoleDialed)
			// Both halves of the Local pair belong to the dialed leg.
			if alt := swapHalfSuffix(ch.Name); alt != "" {
				for _, sib := range candidates {
					if sib.ID != ch.ID && sib.Name == alt {
						matched.SetRole(sib.ID, call.RoleDialed)
					}
				}
			}
			return matched
		}
	}

	// Name variants (";1" <-> ";2") against known leg channel names.
	for _, ch := range candidates {
		names := []string{ch.Name}
		if alt := swapHalfSuffix(ch.Name); alt != "" {
			names = append(names, alt)
		}
		for _, c := range e.store.All() {
			for _, n := range names {
				if n == "" {
					continue
				}
				if n == c.LegA.PeerName || n == c.LegA.PairedChannelName ||
					n == c.LegB.PeerName || n == c.LegB.PairedChannelName {
					return c
				}
			}
		}
	}

	return nil
}

func hasRoledDialed(c *call.Call) bool {
	for _, r := range c.ChannelRoles {
		if r == call.RoleDialed {
			return true
		}
	}
	return false
}

func dialCandidates(ev *ari.Dial) []*ari.Channel {
	var out []*ari.Channel
	if ev.Caller != nil {
		out = append(out, ev.Caller)
	}
	if ev.Peer != nil {
		out = append(out, ev.Peer)
	}
	return out
}

func (e *Engine) handleDial(ev *ari.Dial, ts time.Time) {
	status := normalizeStatus(ev.Dialstatus)

	c := e.resolveDial(ev)
	if c == nil {
		log.Printf("[Correlator] Dial event unresolved (dialstring %q, status %q), dropping", ev.Dialstring, ev.Dialstatus)
		return
	}

	for _, ch := range dialCandidates(ev) {
		e.adopt(c, ch)
	}

	// A real agent endpoint is only trusted once a channel that is not
	// the ";1" half of a Local pair has been seen; the ";1" half never
	// reaches an endpoint.
	terminalSeen := false
	for _, ch := range dialCandidates(ev) {
		if !isLocalHalfOne(ch.Name) {
			terminalSeen = true
		}
	}

	for _, ch := range dialCandidates(ev) {
		switch e.dialLegOf(c, ch) {
		case call.RoleDialer:
			e.dialUpdateLegA(c, ch, ev, status, ts)
		case call.RoleDialed:
			e.dialUpdateLegB(c, ch, ev, status, ts)
		default:
			if ch == ev.Peer && (terminalSeen || !isLocalHalfOne(ch.Name)) {
				e.dialUpdateAgent(c, ch, ev, status, ts)
			}
		}
	}
}

// dialLegOf maps a Dial candidate onto a leg, including the paired
// ";1"/";2" half of the leg-B local channel.
func (e *Engine) dialLegOf(c *call.Call, ch *ari.Channel) call.Role {
	if r := c.RoleOf(ch.ID); r == call.RoleDialer || r == call.RoleDialed {
		return r
	}
	switch ch.ID {
	case c.LegA.ChannelID, c.LegA.PairedChannelID:
		return call.RoleDialer
	case c.LegB.ChannelID, c.LegB.PairedChannelID:
		return call.RoleDialed
	}
	if alt := swapHalfSuffix(ch.Name); alt != "" {
		if alt == c.LegB.PeerName || alt == c.LegB.PairedChannelName {
			return call.RoleDialed
		}
	}
	if isTargetLocalName(ch.Name, e.cfg) {
		return call.RoleDialed
	}
	return call.RoleUnknown
}

func (e *Engine) dialUpdateLegA(c *call.Call, ch *ari.Channel, ev *ari.Dial, status string, ts time.Time) {
	c.SetRole(ch.ID, call.RoleDialer)
	if c.LegA.ChannelID == "" {
		c.LegA.ChannelID = ch.ID
	}
	if c.LegA.PeerName == "" {
		c.LegA.PeerName = ch.Name
	}
	if ev.Dialstring != "" && c.LegA.DialString == "" {
		c.LegA.DialString = ev.Dialstring
	}
	if ev.Peer != nil && ev.Peer.ID != ch.ID {
		c.LegA.PairedChannelID = ev.Peer.ID
		c.LegA.PairedChannelName = ev.Peer.Name
	}

	switch {
	case status == "ANSWERED":
		c.LegA.SetAnswered(ts)
	case status == "":
		c.LegA.SetStarted(ts)
	}
	if status != "" {
		c.LegA.LastStatus = pickStatus(c.LegA.LastStatus, status)
	}
}

func (e *Engine) dialUpdateLegB(c *call.Call, ch *ari.Channel, ev *ari.Dial, status string, ts time.Time) {
	c.SetRole(ch.ID, call.RoleDialed)
	if c.LegB.ChannelID == "" {
		c.LegB.ChannelID = ch.ID
		c.LegB.PeerName = ch.Name
	} else if c.LegB.ChannelID != ch.ID && c.LegB.PairedChannelID == "" {
		c.LegB.PairedChannelID = ch.ID
		c.LegB.PairedChannelName = ch.Name
	}
	if ev.Dialstring != "" && c.LegB.DialString == "" {
		c.LegB.DialString = ev.Dialstring
		if c.LegB.TargetNumber == "" {
			c.LegB.TargetNumber = targetFromDialString(ev.Dialstring)
		}
	}

	switch {
	case status == "ANSWERED":
		c.LegB.SetAnswered(ts)
		if by := dialAnsweredBy(ev, ch); by != "" {
			c.LegB.AnsweredBy = by
		}
	case status == "":
		c.LegB.SetStarted(ts)
	}
	if status != "" {
		c.LegB.LastStatus = pickStatus(c.LegB.LastStatus, status)
	}
}

// dialAnsweredBy derives the leg-B answered-by identity from the peer
// name or the dial string.
func dialAnsweredBy(ev *ari.Dial, ch *ari.Channel) string {
	if ev.Peer != nil {
		if ev.Peer.Caller.Name != "" {
			return ev.Peer.Caller.Name
		}
		if ev.Peer.Name != "" {
			return stripHalfSuffix(ev.Peer.Name)
		}
	}
	if ev.Dialstring != "" {
		return targetFromDialString(ev.Dialstring)
	}
	return stripHalfSuffix(ch.Name)
}

func (e *Engine) dialUpdateAgent(c *call.Call, ch *ari.Channel, ev *ari.Dial, status string, ts time.Time) {
	c.SetRole(ch.ID, call.RoleAgent)
	leg := c.Agent(ch.ID)
	if leg.Identity == "" {
		if ch.Caller.Name != "" {
			leg.Identity = ch.Caller.Name
		} else if ch.Caller.Number != "" {
			leg.Identity = ch.Caller.Number
		} else {
			leg.Identity = stripHalfSuffix(ch.Name)
		}
	}
	if leg.DialedAt.IsZero() {
		leg.DialedAt = ts
	}
	if status != "" {
		leg.LastStatus = pickStatus(leg.LastStatus, status)
	}

	switch {
	case status == "ANSWERED":
		if leg.AnsweredAt.IsZero() {
			leg.AnsweredAt = ts
		}
	case status != "" && status != "RINGING":
		if leg.HangupAt.IsZero() {
			leg.HangupAt = ts
		}
	}
}
