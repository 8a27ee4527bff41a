package ari

// CallerID is a name/number pair as reported by Asterisk.
type CallerID struct {
	Name   string `json:"name"`
	Number string `json:"number"`
}

// Dialplan locates a channel inside the dialplan.
type Dialplan struct {
	Context  string `json:"context"`
	Exten    string `json:"exten"`
	Priority int64  `json:"priority"`
	AppName  string `json:"app_name,omitempty"`
	AppData  string `json:"app_data,omitempty"`
}

// Channel is the ARI representation of a channel (one call leg).
type Channel struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	State        string   `json:"state"`
	Caller       CallerID `json:"caller"`
	Connected    CallerID `json:"connected"`
	AccountCode  string   `json:"accountcode,omitempty"`
	Dialplan     Dialplan `json:"dialplan"`
	CreationTime string   `json:"creationtime,omitempty"`
	Language     string   `json:"language,omitempty"`
	Linkedid     string   `json:"linkedid,omitempty"`
}

// Bridge is the ARI representation of a mixing bridge.
type Bridge struct {
	ID         string   `json:"id"`
	Name       string   `json:"name,omitempty"`
	Technology string   `json:"technology,omitempty"`
	BridgeType string   `json:"bridge_type,omitempty"`
	Channels   []string `json:"channels"`
}

// LiveRecording is the ARI representation of an in-progress recording.
type LiveRecording struct {
	Name      string `json:"name"`
	Format    string `json:"format,omitempty"`
	State     string `json:"state,omitempty"`
	TargetURI string `json:"target_uri,omitempty"`
	Cause     string `json:"cause,omitempty"`
}

// OriginateRequest is the payload for channels.originate.
type OriginateRequest struct {
	Endpoint string   `json:"endpoint"`
	App      string   `json:"app"`
	AppArgs  string   `json:"appArgs,omitempty"`
	CallerID string   `json:"callerId,omitempty"`
	Timeout  int      `json:"timeout,omitempty"`
	Formats  string   `json:"formats,omitempty"`
}

// RecordRequest is the payload for bridges.record.
type RecordRequest struct {
	Name               string `json:"name"`
	Format             string `json:"format"`
	IfExists           string `json:"ifExists"`
	MaxDurationSeconds int    `json:"maxDurationSeconds"`
	TerminateOn        string `json:"terminateOn"`
	Beep               bool   `json:"beep"`
}
