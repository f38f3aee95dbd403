package models

import "time"

// RootMountPoint is the mount point used for system-level disk alerting.
const RootMountPoint = "/"

// Component is a single named temperature reading.
type Component struct {
	Label       string  `json:"label"`
	Temperature float64 `json:"temperature"`
}

// MetricSnapshot is one ingested telemetry sample. Immutable once written.
// Every metric field is optional; telemetry is inherently partial.
type MetricSnapshot struct {
	SystemID                string      `json:"system_id"`
	Time                    time.Time   `json:"time"`
	CPUUsage                *float64    `json:"cpu_usage,omitempty"`
	MemoryUsedKB            *int64      `json:"memory_used_kb,omitempty"`
	MemoryTotalKB           *int64      `json:"memory_total_kb,omitempty"`
	LoadOne                 *float64    `json:"load_one,omitempty"`
	LoadFive                *float64    `json:"load_five,omitempty"`
	LoadFifteen             *float64    `json:"load_fifteen,omitempty"`
	NetIn                   *int64      `json:"net_in,omitempty"`
	NetOut                  *int64      `json:"net_out,omitempty"`
	Uptime                  *int64      `json:"uptime,omitempty"`
	DockerContainersRunning *int64      `json:"docker_containers_running,omitempty"`
	Components              []Component `json:"components"`
}

// Status derives the write-through system status from the snapshot.
func (m *MetricSnapshot) Status() SystemStatus {
	return SystemStatus{
		SystemID:      m.SystemID,
		LastSeen:      m.Time,
		CPUUsage:      m.CPUUsage,
		MemoryUsedKB:  m.MemoryUsedKB,
		MemoryTotalKB: m.MemoryTotalKB,
		Uptime:        m.Uptime,
	}
}

// MemoryUsage returns used/total*100, or false when either side is unknown.
func (m *MetricSnapshot) MemoryUsage() (float64, bool) {
	if m.MemoryUsedKB == nil || m.MemoryTotalKB == nil || *m.MemoryTotalKB == 0 {
		return 0, false
	}
	return float64(*m.MemoryUsedKB) / float64(*m.MemoryTotalKB) * 100, true
}

// DiskSample is one disk snapshot for a mount point.
type DiskSample struct {
	SystemID   string    `json:"system_id"`
	MountPoint string    `json:"mount_point"`
	Time       time.Time `json:"time"`
	Space      *int64    `json:"space,omitempty"`
	Used       *int64    `json:"used,omitempty"`
	Read       *float64  `json:"read,omitempty"`
	Write      *float64  `json:"write,omitempty"`
	Unit       string    `json:"unit,omitempty"`
}

// Usage returns used/space*100, or false when either side is unknown.
func (d *DiskSample) Usage() (float64, bool) {
	if d.Used == nil || d.Space == nil || *d.Space == 0 {
		return 0, false
	}
	return float64(*d.Used) / float64(*d.Space) * 100, true
}
