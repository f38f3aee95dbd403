package main

import (
	"context"
	"log"
	"time"

	"github.com/good-yellow-bee/lynx/internal/metrics"
	"github.com/good-yellow-bee/lynx/internal/storage"
)

// runRetention deletes telemetry older than days on every tick until ctx is
// cancelled. A non-positive days disables the loop.
func runRetention(ctx context.Context, telemetry storage.TelemetryStorage, days int, interval time.Duration) {
	if days <= 0 || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := purgeTelemetry(ctx, telemetry, time.Now().AddDate(0, 0, -days)); err != nil && ctx.Err() == nil {
			log.Printf("retention error: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// purgeTelemetry removes metric and disk rows recorded before cutoff.
func purgeTelemetry(ctx context.Context, telemetry storage.TelemetryStorage, cutoff time.Time) error {
	n, err := telemetry.Metrics().DeleteBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	metrics.RetentionDeletedTotal.WithLabelValues("metrics").Add(float64(n))

	d, err := telemetry.Disks().DeleteBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	metrics.RetentionDeletedTotal.WithLabelValues("disks").Add(float64(d))

	if n > 0 || d > 0 {
		log.Printf("retention: deleted metrics=%d disks=%d before=%s", n, d, cutoff.Format(time.RFC3339))
	}
	return nil
}
