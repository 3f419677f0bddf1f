package model

// Status is the lifecycle state of a streaming session.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusError
)

var statusNames = map[Status]string{
	StatusDisconnected: "disconnected",
	StatusConnecting:   "connecting",
	StatusConnected:    "connected",
	StatusError:        "error",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText lets statuses appear by name in JSON payloads.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether a session in this status can no longer be used.
// A fresh session starts out disconnected, so callers must track whether the
// session has been opened before treating StatusDisconnected as final.
func (s Status) Terminal() bool {
	return s == StatusDisconnected || s == StatusError
}
