package systems

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/good-yellow-bee/lynx/internal/aggregator"
)

// DefaultRange is used when a chart query names neither range nor start.
const DefaultRange = time.Hour

// parseQuery builds an aggregation query from range or start/end and an
// optional interval in seconds.
func parseQuery(systemID string, q url.Values, now time.Time, maxRange time.Duration) (aggregator.Query, error) {
	query := aggregator.Query{SystemID: systemID, MountPoint: q.Get("mount_point")}

	switch {
	case q.Get("start") != "" || q.Get("end") != "":
		if q.Get("range") != "" {
			return query, errors.New("use either range or start/end")
		}
		start, err := parseTime(q.Get("start"))
		if err != nil {
			return query, fmt.Errorf("invalid start: %w", err)
		}
		end := now
		if q.Get("end") != "" {
			if end, err = parseTime(q.Get("end")); err != nil {
				return query, fmt.Errorf("invalid end: %w", err)
			}
		}
		if end.After(now) {
			return query, errors.New("end is in the future")
		}
		query.Start, query.End = start, end
	default:
		r := DefaultRange
		if s := q.Get("range"); s != "" {
			var err error
			if r, err = aggregator.ParseRange(s); err != nil {
				return query, err
			}
		}
		query.Start, query.End = now.Add(-r), now
	}

	if query.Start.After(query.End) {
		return query, errors.New("start is after end")
	}
	span := query.End.Sub(query.Start)
	if maxRange > 0 && span > maxRange {
		return query, fmt.Errorf("range exceeds maximum of %s", maxRange)
	}

	query.Interval = aggregator.IntervalForRange(span)
	if s := q.Get("interval"); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil || v <= 0 {
			return query, fmt.Errorf("invalid interval %q", s)
		}
		query.Interval = v
	}
	return query, nil
}

// parseTime accepts RFC 3339 or unix seconds.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("value is required")
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	return time.Parse(time.RFC3339, s)
}
