package aggregator

import (
	"time"

	"github.com/good-yellow-bee/lynx/internal/models"
)

// MetricBucket is the mean of every snapshot column over one bucket.
// A column is nil when no snapshot in the bucket carried it.
type MetricBucket struct {
	SystemID                string             `json:"system_id"`
	Time                    time.Time          `json:"time"`
	Samples                 int                `json:"samples"`
	CPUUsage                *float64           `json:"cpu_usage,omitempty"`
	MemoryUsedKB            *float64           `json:"memory_used_kb,omitempty"`
	MemoryTotalKB           *float64           `json:"memory_total_kb,omitempty"`
	LoadOne                 *float64           `json:"load_one,omitempty"`
	LoadFive                *float64           `json:"load_five,omitempty"`
	LoadFifteen             *float64           `json:"load_fifteen,omitempty"`
	NetIn                   *float64           `json:"net_in,omitempty"`
	NetOut                  *float64           `json:"net_out,omitempty"`
	Uptime                  *float64           `json:"uptime,omitempty"`
	DockerContainersRunning *float64           `json:"docker_containers_running,omitempty"`
	Components              []models.Component `json:"components"`
}

// DiskBucket is the mean of every disk column for one mount point over one
// bucket.
type DiskBucket struct {
	SystemID   string    `json:"system_id"`
	MountPoint string    `json:"mount_point"`
	Time       time.Time `json:"time"`
	Samples    int       `json:"samples"`
	Space      *float64  `json:"space,omitempty"`
	Used       *float64  `json:"used,omitempty"`
	Read       *float64  `json:"read,omitempty"`
	Write      *float64  `json:"write,omitempty"`
	Unit       string    `json:"unit,omitempty"`
}

// mean accumulates the arithmetic mean of the non-null values it sees.
type mean struct {
	sum float64
	n   int
}

func (m *mean) addFloat(v *float64) {
	if v != nil {
		m.sum += *v
		m.n++
	}
}

func (m *mean) addInt(v *int64) {
	if v != nil {
		m.sum += float64(*v)
		m.n++
	}
}

func (m *mean) value() *float64 {
	if m.n == 0 {
		return nil
	}
	v := m.sum / float64(m.n)
	return &v
}

type metricAcc struct {
	systemID string
	start    time.Time
	samples  int

	cpu, memUsed, memTotal        mean
	loadOne, loadFive, loadFif    mean
	netIn, netOut, uptime, docker mean

	labels []string
	temps  map[string]*mean
}

func newMetricAcc(systemID string, start time.Time) *metricAcc {
	return &metricAcc{systemID: systemID, start: start, temps: make(map[string]*mean)}
}

func (a *metricAcc) add(m *models.MetricSnapshot) *metricAcc {
	a.samples++
	a.cpu.addFloat(m.CPUUsage)
	a.memUsed.addInt(m.MemoryUsedKB)
	a.memTotal.addInt(m.MemoryTotalKB)
	a.loadOne.addFloat(m.LoadOne)
	a.loadFive.addFloat(m.LoadFive)
	a.loadFif.addFloat(m.LoadFifteen)
	a.netIn.addInt(m.NetIn)
	a.netOut.addInt(m.NetOut)
	a.uptime.addInt(m.Uptime)
	a.docker.addInt(m.DockerContainersRunning)

	for _, c := range m.Components {
		t, ok := a.temps[c.Label]
		if !ok {
			t = &mean{}
			a.temps[c.Label] = t
			a.labels = append(a.labels, c.Label)
		}
		temp := c.Temperature
		t.addFloat(&temp)
	}
	return a
}

func (a *metricAcc) addAll(rows []*models.MetricSnapshot) *metricAcc {
	for _, row := range rows {
		a.add(row)
	}
	return a
}

func (a *metricAcc) bucket() *MetricBucket {
	b := &MetricBucket{
		SystemID:                a.systemID,
		Time:                    a.start,
		Samples:                 a.samples,
		CPUUsage:                a.cpu.value(),
		MemoryUsedKB:            a.memUsed.value(),
		MemoryTotalKB:           a.memTotal.value(),
		LoadOne:                 a.loadOne.value(),
		LoadFive:                a.loadFive.value(),
		LoadFifteen:             a.loadFif.value(),
		NetIn:                   a.netIn.value(),
		NetOut:                  a.netOut.value(),
		Uptime:                  a.uptime.value(),
		DockerContainersRunning: a.docker.value(),
		Components:              make([]models.Component, 0, len(a.labels)),
	}
	for _, label := range a.labels {
		b.Components = append(b.Components, models.Component{
			Label:       label,
			Temperature: *a.temps[label].value(),
		})
	}
	return b
}

type diskAcc struct {
	systemID   string
	mountPoint string
	start      time.Time
	samples    int
	unit       string

	space, used, read, write mean
}

func newDiskAcc(systemID, mountPoint string, start time.Time) *diskAcc {
	return &diskAcc{systemID: systemID, mountPoint: mountPoint, start: start}
}

func (a *diskAcc) add(d *models.DiskSample) {
	a.samples++
	a.space.addInt(d.Space)
	a.used.addInt(d.Used)
	a.read.addFloat(d.Read)
	a.write.addFloat(d.Write)
	if a.unit == "" {
		a.unit = d.Unit
	}
}

func (a *diskAcc) bucket() *DiskBucket {
	return &DiskBucket{
		SystemID:   a.systemID,
		MountPoint: a.mountPoint,
		Time:       a.start,
		Samples:    a.samples,
		Space:      a.space.value(),
		Used:       a.used.value(),
		Read:       a.read.value(),
		Write:      a.write.value(),
		Unit:       a.unit,
	}
}
