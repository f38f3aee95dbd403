package ingest

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/good-yellow-bee/lynx/internal/models"
)

// maxComponents bounds the temperature readings accepted per snapshot.
const maxComponents = 256

// ComponentMessage is one temperature reading sent by an agent.
type ComponentMessage struct {
	Label       string  `json:"label"`
	Temperature float64 `json:"temperature"`
}

// MetricsMessage is a snapshot sent by an agent. Every metric is optional.
type MetricsMessage struct {
	SystemID                string             `json:"system_id"`
	Time                    time.Time          `json:"time"`
	CPUUsage                *float64           `json:"cpu_usage,omitempty"`
	MemoryUsedKB            *int64             `json:"memory_used_kb,omitempty"`
	MemoryTotalKB           *int64             `json:"memory_total_kb,omitempty"`
	LoadOne                 *float64           `json:"load_one,omitempty"`
	LoadFive                *float64           `json:"load_five,omitempty"`
	LoadFifteen             *float64           `json:"load_fifteen,omitempty"`
	NetIn                   *int64             `json:"net_in,omitempty"`
	NetOut                  *int64             `json:"net_out,omitempty"`
	Uptime                  *int64             `json:"uptime,omitempty"`
	DockerContainersRunning *int64             `json:"docker_containers_running,omitempty"`
	Components              []ComponentMessage `json:"components,omitempty"`
}

// Validate checks required fields and value sanity.
func (m *MetricsMessage) Validate() error {
	if strings.TrimSpace(m.SystemID) == "" {
		return fmt.Errorf("%w: system_id is required", ErrInvalid)
	}
	if m.Time.IsZero() {
		return fmt.Errorf("%w: time is required", ErrInvalid)
	}
	for name, v := range map[string]*float64{
		"cpu_usage": m.CPUUsage, "load_one": m.LoadOne, "load_five": m.LoadFive, "load_fifteen": m.LoadFifteen,
	} {
		if v != nil && !finite(*v) {
			return fmt.Errorf("%w: %s is not a finite number", ErrInvalid, name)
		}
	}
	if len(m.Components) > maxComponents {
		return fmt.Errorf("%w: too many components (%d > %d)", ErrInvalid, len(m.Components), maxComponents)
	}
	for i, c := range m.Components {
		if strings.TrimSpace(c.Label) == "" {
			return fmt.Errorf("%w: components[%d]: label is required", ErrInvalid, i)
		}
		if !finite(c.Temperature) {
			return fmt.Errorf("%w: components[%d]: temperature is not a finite number", ErrInvalid, i)
		}
	}
	return nil
}

// Snapshot converts the message to a model, normalizing the time to UTC.
func (m *MetricsMessage) Snapshot() *models.MetricSnapshot {
	snapshot := &models.MetricSnapshot{
		SystemID:                m.SystemID,
		Time:                    m.Time.UTC(),
		CPUUsage:                m.CPUUsage,
		MemoryUsedKB:            m.MemoryUsedKB,
		MemoryTotalKB:           m.MemoryTotalKB,
		LoadOne:                 m.LoadOne,
		LoadFive:                m.LoadFive,
		LoadFifteen:             m.LoadFifteen,
		NetIn:                   m.NetIn,
		NetOut:                  m.NetOut,
		Uptime:                  m.Uptime,
		DockerContainersRunning: m.DockerContainersRunning,
		Components:              make([]models.Component, 0, len(m.Components)),
	}
	for _, c := range m.Components {
		snapshot.Components = append(snapshot.Components, models.Component{Label: c.Label, Temperature: c.Temperature})
	}
	return snapshot
}

// DiskMessage is a disk sample sent by an agent.
type DiskMessage struct {
	SystemID   string    `json:"system_id"`
	MountPoint string    `json:"mount_point"`
	Time       time.Time `json:"time"`
	Space      *int64    `json:"space,omitempty"`
	Used       *int64    `json:"used,omitempty"`
	Read       *float64  `json:"read,omitempty"`
	Write      *float64  `json:"write,omitempty"`
	Unit       string    `json:"unit,omitempty"`
}

// Validate checks required fields and value sanity.
func (d *DiskMessage) Validate() error {
	if strings.TrimSpace(d.SystemID) == "" {
		return fmt.Errorf("%w: system_id is required", ErrInvalid)
	}
	if strings.TrimSpace(d.MountPoint) == "" {
		return fmt.Errorf("%w: mount_point is required", ErrInvalid)
	}
	if d.Time.IsZero() {
		return fmt.Errorf("%w: time is required", ErrInvalid)
	}
	if d.Read != nil && !finite(*d.Read) {
		return fmt.Errorf("%w: read is not a finite number", ErrInvalid)
	}
	if d.Write != nil && !finite(*d.Write) {
		return fmt.Errorf("%w: write is not a finite number", ErrInvalid)
	}
	return nil
}

// Sample converts the message to a model, normalizing the time to UTC.
func (d *DiskMessage) Sample() *models.DiskSample {
	return &models.DiskSample{
		SystemID:   d.SystemID,
		MountPoint: d.MountPoint,
		Time:       d.Time.UTC(),
		Space:      d.Space,
		Used:       d.Used,
		Read:       d.Read,
		Write:      d.Write,
		Unit:       d.Unit,
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
