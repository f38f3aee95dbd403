// Package models contains the core data structures for Lynx.
package models

import "time"

// System is a monitored host reporting through an agent.
type System struct {
	ID       string `json:"id"`
	Hostname string `json:"hostname"`
	Label    string `json:"label"`
	Address  string `json:"address,omitempty"`
	// Key authenticates the agent. Never exposed in JSON.
	Key      string     `json:"-"`
	Active   bool       `json:"active"`
	LastSeen *time.Time `json:"last_seen,omitempty"`

	// Latest status, written through on every ingested snapshot.
	CPUUsage      *float64 `json:"cpu_usage,omitempty"`
	MemoryUsedKB  *int64   `json:"memory_used_kb,omitempty"`
	MemoryTotalKB *int64   `json:"memory_total_kb,omitempty"`
	Uptime        *int64   `json:"uptime,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSystem creates an active System with initialized timestamps.
func NewSystem(hostname, label string) *System {
	now := time.Now()
	return &System{
		Hostname:  hostname,
		Label:     label,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// DisplayName returns the label, falling back to the hostname and then the id.
func (s *System) DisplayName() string {
	if s.Label != "" {
		return s.Label
	}
	if s.Hostname != "" {
		return s.Hostname
	}
	return s.ID
}

// SystemStatus is the denormalized "latest" view of a system,
// derived from a MetricSnapshot.
type SystemStatus struct {
	SystemID      string
	LastSeen      time.Time
	CPUUsage      *float64
	MemoryUsedKB  *int64
	MemoryTotalKB *int64
	Uptime        *int64
}
