package database

import "time"

// LegRow is the persisted shape of one leg timeline.
type LegRow struct {
	Status        string
	Number        string
	Channel       string
	PairedChannel string
	Peer          string
	Caller        string
	DialString    string
	AnsweredBy    string
	Start         time.Time
	Answer        time.Time
	End           time.Time
}

// CallRow is one row of the call-leg timeline table.
type CallRow struct {
	CallID        string
	RecordingPath string
	LegA          LegRow
	LegB          LegRow
}
