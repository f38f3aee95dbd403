package notifier

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiterBurst(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{MaxPerMinute: 60, Burst: 3, Enabled: true})

	for i := 0; i < 3; i++ {
		if !rl.Allow() {
			t.Errorf("request %d should be allowed", i+1)
		}
	}

	if rl.Allow() {
		t.Error("4th request should be denied")
	}

	if dropped := rl.Dropped(); dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{MaxPerMinute: 1, Burst: 1, Enabled: false})

	for i := 0; i < 100; i++ {
		if !rl.Allow() {
			t.Fatalf("request %d should be allowed when disabled", i+1)
		}
	}

	stats := rl.Stats()
	if stats.Allowed != 100 || stats.Dropped != 0 || stats.Enabled {
		t.Errorf("stats = %+v", stats)
	}
}

func TestRateLimiterWaitCancelled(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{MaxPerMinute: 1, Burst: 1, Enabled: true})

	if err := rl.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx); err == nil {
		t.Error("second Wait() should fail before a token is available")
	}
	if rl.Dropped() != 1 {
		t.Errorf("dropped = %d, want 1", rl.Dropped())
	}
}

func TestRateLimiterDefaults(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{Enabled: true})
	// 60/min gives a burst of 10.
	for i := 0; i < 10; i++ {
		if !rl.Allow() {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if rl.Allow() {
		t.Error("request beyond burst should be denied")
	}
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	b := NewBackoff(100*time.Millisecond, time.Second)
	b.Jitter = 0

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond, time.Second, time.Second}
	for i, w := range want {
		if got := b.Next(); got != w {
			t.Errorf("Next() #%d = %s, want %s", i+1, got, w)
		}
	}
	if b.Attempt() != len(want) {
		t.Errorf("Attempt() = %d, want %d", b.Attempt(), len(want))
	}

	b.Reset()
	if got := b.Next(); got != 100*time.Millisecond {
		t.Errorf("Next() after Reset = %s, want 100ms", got)
	}
}

func TestBackoffJitterBounds(t *testing.T) {
	b := NewBackoff(time.Second, time.Second)
	for i := 0; i < 50; i++ {
		d := b.Next()
		if d < 900*time.Millisecond || d > 1100*time.Millisecond {
			t.Fatalf("Next() = %s, want within 10%% of 1s", d)
		}
	}
}
