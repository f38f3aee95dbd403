// Package aggregator downsamples raw telemetry into fixed-width time buckets
// for the portal charts and for windowed alert rules.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/good-yellow-bee/lynx/internal/models"
)

// RawInterval is the finest bucket width. Queries at or below it return
// raw rows unaggregated.
const RawInterval int64 = 1

// ErrInvalidQuery is returned for an empty system id, a negative interval
// or a window whose start is after its end.
var ErrInvalidQuery = errors.New("invalid aggregation query")

// MetricSource reads raw snapshots for a system over an inclusive window.
type MetricSource interface {
	Range(ctx context.Context, systemID string, start, end time.Time) ([]*models.MetricSnapshot, error)
}

// DiskSource reads raw disk samples for a system over an inclusive window.
// An empty mountPoint selects every mount point.
type DiskSource interface {
	Range(ctx context.Context, systemID, mountPoint string, start, end time.Time) ([]*models.DiskSample, error)
}

// rangeIntervals maps chart ranges to bucket widths in seconds.
var rangeIntervals = []struct {
	upTo     time.Duration
	interval int64
}{
	{5 * time.Minute, 1},
	{30 * time.Minute, 5},
	{time.Hour, 5},
	{3 * time.Hour, 15},
	{12 * time.Hour, 60},
	{24 * time.Hour, 120},
}

// IntervalForRange returns the bucket width in seconds for a chart range.
// Ranges beyond a day keep roughly the same number of points as a day.
func IntervalForRange(r time.Duration) int64 {
	for _, ri := range rangeIntervals {
		if r <= ri.upTo {
			return ri.interval
		}
	}
	days := int64((r + 24*time.Hour - 1) / (24 * time.Hour))
	return 120 * days
}

// ParseRange parses a chart range such as "5m", "1h", "24h" or "7d".
func ParseRange(s string) (time.Duration, error) {
	if n, ok := strings.CutSuffix(s, "d"); ok {
		days, err := strconv.Atoi(n)
		if err != nil || days <= 0 {
			return 0, fmt.Errorf("invalid range %q", s)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid range %q", s)
	}
	return d, nil
}

// BucketStart returns floor(epoch/interval)*interval as a time.
func BucketStart(t time.Time, interval int64) time.Time {
	if interval <= RawInterval {
		return t.Truncate(time.Second)
	}
	s := t.Unix()
	k := s / interval * interval
	if s < 0 && s%interval != 0 {
		k -= interval
	}
	return time.Unix(k, 0).UTC()
}

// Query selects the data to aggregate.
type Query struct {
	SystemID string
	// MountPoint restricts disk queries; empty means every mount point.
	MountPoint string
	Start      time.Time
	End        time.Time
	// Interval is the bucket width in seconds.
	Interval int64
}

// Validate checks the query bounds.
func (q Query) Validate() error {
	if q.SystemID == "" {
		return fmt.Errorf("%w: system id is required", ErrInvalidQuery)
	}
	if q.Interval < 0 {
		return fmt.Errorf("%w: interval must not be negative", ErrInvalidQuery)
	}
	if q.Start.After(q.End) {
		return fmt.Errorf("%w: start is after end", ErrInvalidQuery)
	}
	return nil
}

// Chart is the combined result of a metric and disk aggregation.
type Chart struct {
	SystemID string         `json:"system_id"`
	Start    time.Time      `json:"start"`
	End      time.Time      `json:"end"`
	Interval int64          `json:"interval"`
	Metrics  []*MetricBucket `json:"metrics"`
	Disks    []*DiskBucket   `json:"disks"`
}

// Aggregator buckets raw telemetry read from the telemetry store.
type Aggregator struct {
	metrics MetricSource
	disks   DiskSource
}

// New creates an Aggregator.
func New(metrics MetricSource, disks DiskSource) *Aggregator {
	return &Aggregator{metrics: metrics, disks: disks}
}

// Metrics returns metric buckets for q ordered by time.
func (a *Aggregator) Metrics(ctx context.Context, q Query) ([]*MetricBucket, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	rows, err := a.metrics.Range(ctx, q.SystemID, q.Start, q.End)
	if err != nil {
		return nil, fmt.Errorf("read metrics: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return BucketMetrics(rows, q.Interval), nil
}

// Disks returns disk buckets for q ordered by time, then mount point.
func (a *Aggregator) Disks(ctx context.Context, q Query) ([]*DiskBucket, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	rows, err := a.disks.Range(ctx, q.SystemID, q.MountPoint, q.Start, q.End)
	if err != nil {
		return nil, fmt.Errorf("read disks: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return BucketDisks(rows, q.Interval), nil
}

// Chart runs the metric and disk aggregations concurrently.
func (a *Aggregator) Chart(ctx context.Context, q Query) (*Chart, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	chart := &Chart{SystemID: q.SystemID, Start: q.Start, End: q.End, Interval: q.Interval}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		buckets, err := a.Metrics(gctx, q)
		chart.Metrics = buckets
		return err
	})
	g.Go(func() error {
		buckets, err := a.Disks(gctx, q)
		chart.Disks = buckets
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return chart, nil
}

// Summarize returns the mean of every metric column and of the root disk
// over [start, end] as single buckets. Either result is nil when the
// window holds no rows.
func (a *Aggregator) Summarize(ctx context.Context, systemID string, start, end time.Time) (*MetricBucket, *DiskBucket, error) {
	q := Query{SystemID: systemID, MountPoint: models.RootMountPoint, Start: start, End: end}
	if err := q.Validate(); err != nil {
		return nil, nil, err
	}

	var (
		metricRows []*models.MetricSnapshot
		diskRows   []*models.DiskSample
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		metricRows, err = a.metrics.Range(gctx, systemID, start, end)
		return err
	})
	g.Go(func() error {
		var err error
		diskRows, err = a.disks.Range(gctx, systemID, models.RootMountPoint, start, end)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, fmt.Errorf("summarize window: %w", err)
	}

	var (
		mb *MetricBucket
		db *DiskBucket
	)
	if len(metricRows) > 0 {
		mb = newMetricAcc(systemID, start).addAll(metricRows).bucket()
	}
	if len(diskRows) > 0 {
		acc := newDiskAcc(systemID, models.RootMountPoint, start)
		for _, row := range diskRows {
			acc.add(row)
		}
		db = acc.bucket()
	}
	return mb, db, nil
}

// BucketMetrics groups snapshots into buckets of interval seconds. When
// interval is at or below RawInterval each row becomes its own bucket.
func BucketMetrics(rows []*models.MetricSnapshot, interval int64) []*MetricBucket {
	if interval <= RawInterval {
		out := make([]*MetricBucket, 0, len(rows))
		for _, row := range rows {
			out = append(out, newMetricAcc(row.SystemID, row.Time).add(row).bucket())
		}
		sortMetricBuckets(out)
		return out
	}

	type key struct {
		system string
		start  int64
	}
	accs := make(map[key]*metricAcc)
	for _, row := range rows {
		start := BucketStart(row.Time, interval)
		k := key{row.SystemID, start.Unix()}
		acc, ok := accs[k]
		if !ok {
			acc = newMetricAcc(row.SystemID, start)
			accs[k] = acc
		}
		acc.add(row)
	}

	out := make([]*MetricBucket, 0, len(accs))
	for _, acc := range accs {
		out = append(out, acc.bucket())
	}
	sortMetricBuckets(out)
	return out
}

// BucketDisks groups disk samples into buckets of interval seconds, keyed
// by system and mount point.
func BucketDisks(rows []*models.DiskSample, interval int64) []*DiskBucket {
	if interval <= RawInterval {
		out := make([]*DiskBucket, 0, len(rows))
		for _, row := range rows {
			acc := newDiskAcc(row.SystemID, row.MountPoint, row.Time)
			acc.add(row)
			out = append(out, acc.bucket())
		}
		sortDiskBuckets(out)
		return out
	}

	type key struct {
		system string
		mount  string
		start  int64
	}
	accs := make(map[key]*diskAcc)
	for _, row := range rows {
		start := BucketStart(row.Time, interval)
		k := key{row.SystemID, row.MountPoint, start.Unix()}
		acc, ok := accs[k]
		if !ok {
			acc = newDiskAcc(row.SystemID, row.MountPoint, start)
			accs[k] = acc
		}
		acc.add(row)
	}

	out := make([]*DiskBucket, 0, len(accs))
	for _, acc := range accs {
		out = append(out, acc.bucket())
	}
	sortDiskBuckets(out)
	return out
}

func sortMetricBuckets(b []*MetricBucket) {
	sort.SliceStable(b, func(i, j int) bool {
		if !b[i].Time.Equal(b[j].Time) {
			return b[i].Time.Before(b[j].Time)
		}
		return b[i].SystemID < b[j].SystemID
	})
}

func sortDiskBuckets(b []*DiskBucket) {
	sort.SliceStable(b, func(i, j int) bool {
		if !b[i].Time.Equal(b[j].Time) {
			return b[i].Time.Before(b[j].Time)
		}
		if b[i].SystemID != b[j].SystemID {
			return b[i].SystemID < b[j].SystemID
		}
		return b[i].MountPoint < b[j].MountPoint
	})
}
