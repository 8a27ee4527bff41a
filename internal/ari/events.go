package ari

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event is the union of the ARI events this application consumes.
type Event interface {
	Kind() string
	When() time.Time
}

type Meta struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp,omitempty"`
}

func (m Meta) Kind() string { return m.Type }

// When parses the event timestamp. Asterisk emits offsets without a
// colon ("-0500"), which RFC 3339 does not accept, so both layouts are
// tried. A zero time means the event carried no usable timestamp.
func (m Meta) When() time.Time {
	if m.Timestamp == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.000-0700"} {
		if t, err := time.Parse(layout, m.Timestamp); err == nil {
			return t
		}
	}
	return time.Time{}
}

// StasisStart fires when a channel enters the Stasis application.
type StasisStart struct {
	Meta
	Args    []string `json:"args"`
	Channel Channel  `json:"channel"`
}

// StasisEnd fires when a channel leaves the Stasis application.
type StasisEnd struct {
	Meta
	Channel Channel `json:"channel"`
	Bridge  *Bridge `json:"bridge,omitempty"`
}

// ChannelDestroyed fires when a channel is torn down.
type ChannelDestroyed struct {
	Meta
	Channel  Channel `json:"channel"`
	Cause    int     `json:"cause"`
	CauseTxt string  `json:"cause_txt"`
}

// ChannelStateChange fires on channel state transitions (Ring, Up, ...).
type ChannelStateChange struct {
	Meta
	Channel Channel `json:"channel"`
}

// Dial reports dial progress for a channel pair.
type Dial struct {
	Meta
	Caller     *Channel `json:"caller,omitempty"`
	Peer       *Channel `json:"peer,omitempty"`
	Dialstring string   `json:"dialstring,omitempty"`
	Dialstatus string   `json:"dialstatus"`
}

// ChannelEnteredBridge fires when a channel joins a bridge.
type ChannelEnteredBridge struct {
	Meta
	Bridge  Bridge  `json:"bridge"`
	Channel Channel `json:"channel"`
}

// RecordingFinished fires when a live recording completes on disk.
type RecordingFinished struct {
	Meta
	Recording LiveRecording `json:"recording"`
}

// DecodeEvent parses a raw websocket frame into a typed event.
// Unknown event types return (nil, nil): the caller skips them.
func DecodeEvent(data []byte) (Event, error) {
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("decoding event envelope: %w", err)
	}

	var ev Event
	switch meta.Type {
	case "StasisStart":
		ev = &StasisStart{}
	case "StasisEnd":
		ev = &StasisEnd{}
	case "ChannelDestroyed":
		ev = &ChannelDestroyed{}
	case "ChannelStateChange":
		ev = &ChannelStateChange{}
	case "Dial":
		ev = &Dial{}
	case "ChannelEnteredBridge":
		ev = &ChannelEnteredBridge{}
	case "RecordingFinished":
		ev = &RecordingFinished{}
	default:
		return nil, nil
	}

	if err := json.Unmarshal(data, ev); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", meta.Type, err)
	}
	return ev, nil
}
