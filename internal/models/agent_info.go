package models

import "time"

// AgentInfo describes the polling agent a stream of results comes from.
type AgentInfo struct {
	ID        string    `json:"id"`
	Location  string    `json:"location"`
	Asset     string    `json:"asset"`
	Version   string    `json:"version"`
	StartTime time.Time `json:"start_time"`
}

// Uptime returns the duration since the agent started
func (a *AgentInfo) Uptime() time.Duration {
	return time.Since(a.StartTime)
}

// NewAgentInfo creates a new AgentInfo with the current time as start time
func NewAgentInfo(id, location, version string) *AgentInfo {
	return &AgentInfo{
		ID:        id,
		Location:  location,
		Asset:     AssetDS18B20,
		Version:   version,
		StartTime: time.Now(),
	}
}
