package model

import "time"

// AgentDocument holds the stable agent fields that are written to disk.
// last_seen is deliberately absent.
type AgentDocument struct {
	BaseURL string `json:"base_url"`
}

// AgentStatus is the liveness view of a user's agent.
type AgentStatus struct {
	Online   bool      `json:"online"`
	BaseURL  string    `json:"base_url"`
	LastSeen time.Time `json:"-"`
}

// LastSeenUnix returns last contact as unix seconds, 0 if never seen.
func (s AgentStatus) LastSeenUnix() int64 {
	if s.LastSeen.IsZero() {
		return 0
	}
	return s.LastSeen.Unix()
}
