package alerting

import (
	"sort"
	"strings"

	"github.com/good-yellow-bee/lynx/internal/aggregator"
	"github.com/good-yellow-bee/lynx/internal/models"
)

// FieldResolver resolves expression fields to values.
type FieldResolver interface {
	// Lookup returns the value of a scalar field. ok is false when the
	// field is absent from the underlying data.
	Lookup(field string) (value float64, ok bool)
	// LookupAll returns every value a fan-out field resolves to.
	LookupAll(field string) []float64
}

// FieldValue is a resolved field, reported alongside a triggered alert.
type FieldValue struct {
	Field string  `json:"field"`
	Value float64 `json:"value"`
}

// FieldSet is a FieldResolver over one system's telemetry.
type FieldSet struct {
	values     map[string]float64
	components []models.Component
}

// NewFieldSet resolves fields from the latest snapshot and, optionally, the
// latest root disk sample. Either argument may be nil.
func NewFieldSet(m *models.MetricSnapshot, d *models.DiskSample) *FieldSet {
	fs := &FieldSet{values: make(map[string]float64)}

	if m != nil {
		fs.setFloat("cpu.usage", m.CPUUsage)
		fs.setInt("memory.used", m.MemoryUsedKB)
		fs.setInt("memory.total", m.MemoryTotalKB)
		if usage, ok := m.MemoryUsage(); ok {
			fs.values["memory.usage"] = usage
		}
		fs.setFloat("load.one", m.LoadOne)
		fs.setFloat("load.five", m.LoadFive)
		fs.setFloat("load.fifteen", m.LoadFifteen)
		fs.setInt("network.in", m.NetIn)
		fs.setInt("network.out", m.NetOut)
		fs.setInt("uptime", m.Uptime)
		fs.setInt("docker.containers", m.DockerContainersRunning)
		fs.components = m.Components
	}

	if d != nil {
		fs.setInt("disk.used", d.Used)
		fs.setInt("disk.space", d.Space)
		if usage, ok := d.Usage(); ok {
			fs.values["disk.usage"] = usage
		}
		fs.setFloat("disk.read", d.Read)
		fs.setFloat("disk.write", d.Write)
	}

	return fs
}

// NewWindowFieldSet resolves fields from window means produced by the
// aggregator. Either argument may be nil.
func NewWindowFieldSet(m *aggregator.MetricBucket, d *aggregator.DiskBucket) *FieldSet {
	fs := &FieldSet{values: make(map[string]float64)}

	if m != nil {
		fs.setFloat("cpu.usage", m.CPUUsage)
		fs.setFloat("memory.used", m.MemoryUsedKB)
		fs.setFloat("memory.total", m.MemoryTotalKB)
		if m.MemoryUsedKB != nil && m.MemoryTotalKB != nil && *m.MemoryTotalKB != 0 {
			fs.values["memory.usage"] = *m.MemoryUsedKB / *m.MemoryTotalKB * 100
		}
		fs.setFloat("load.one", m.LoadOne)
		fs.setFloat("load.five", m.LoadFive)
		fs.setFloat("load.fifteen", m.LoadFifteen)
		fs.setFloat("network.in", m.NetIn)
		fs.setFloat("network.out", m.NetOut)
		fs.setFloat("uptime", m.Uptime)
		fs.setFloat("docker.containers", m.DockerContainersRunning)
		fs.components = m.Components
	}

	if d != nil {
		fs.setFloat("disk.used", d.Used)
		fs.setFloat("disk.space", d.Space)
		if d.Used != nil && d.Space != nil && *d.Space != 0 {
			fs.values["disk.usage"] = *d.Used / *d.Space * 100
		}
		fs.setFloat("disk.read", d.Read)
		fs.setFloat("disk.write", d.Write)
	}

	return fs
}

func (fs *FieldSet) setFloat(field string, v *float64) {
	if v != nil {
		fs.values[field] = *v
	}
}

func (fs *FieldSet) setInt(field string, v *int64) {
	if v != nil {
		fs.values[field] = float64(*v)
	}
}

// Lookup implements FieldResolver.
func (fs *FieldSet) Lookup(field string) (float64, bool) {
	if isFanOut(field) {
		all := fs.LookupAll(field)
		if len(all) == 0 {
			return 0, false
		}
		return all[0], true
	}
	v, ok := fs.values[field]
	return v, ok
}

// LookupAll implements FieldResolver. "temp" yields every component reading;
// "temp.<label>" yields the readings for that label only.
func (fs *FieldSet) LookupAll(field string) []float64 {
	switch {
	case field == FieldTemp:
		out := make([]float64, 0, len(fs.components))
		for _, c := range fs.components {
			out = append(out, c.Temperature)
		}
		return out
	case strings.HasPrefix(field, tempPrefix):
		label := strings.TrimPrefix(field, tempPrefix)
		var out []float64
		for _, c := range fs.components {
			if c.Label == label {
				out = append(out, c.Temperature)
			}
		}
		return out
	default:
		if v, ok := fs.values[field]; ok {
			return []float64{v}
		}
		return nil
	}
}

// Values returns the resolved values of the given fields. Fan-out fields
// are reported once per component as "temp[label]".
func (fs *FieldSet) Values(fields []string) []FieldValue {
	var out []FieldValue
	for _, field := range fields {
		if !isFanOut(field) {
			if v, ok := fs.values[field]; ok {
				out = append(out, FieldValue{Field: field, Value: v})
			}
			continue
		}

		label := strings.TrimPrefix(field, tempPrefix)
		for _, c := range fs.components {
			if field != FieldTemp && c.Label != label {
				continue
			}
			out = append(out, FieldValue{Field: "temp[" + c.Label + "]", Value: c.Temperature})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	return out
}
