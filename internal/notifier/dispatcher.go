package notifier

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/good-yellow-bee/lynx/internal/metrics"
	"github.com/good-yellow-bee/lynx/internal/models"
)

var (
	// ErrQueueFull is returned when the dispatch queue has no free slot.
	ErrQueueFull = errors.New("notification queue full")
	// ErrDispatcherClosed is returned after Close.
	ErrDispatcherClosed = errors.New("dispatcher closed")
)

// DeliveryError reports a notification that failed after all attempts.
type DeliveryError struct {
	NotifierID string
	Type       models.NotifierType
	Attempts   int
	Err        error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver %s notifier %s after %d attempt(s): %v", e.Type, e.NotifierID, e.Attempts, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Result describes the outcome of one delivery.
type Result struct {
	NotifierID string
	Name       string
	Type       models.NotifierType
	RuleName   string
	SystemID   string
	Attempts   int
	Err        error
	Duration   time.Duration
}

// DispatcherConfig configures delivery workers and retries.
type DispatcherConfig struct {
	Workers        int           // Delivery goroutines (default: 4)
	QueueSize      int           // Pending deliveries (default: 256)
	MaxAttempts    int           // Attempts per delivery (default: 3)
	InitialBackoff time.Duration // First retry delay (default: 500ms)
	MaxBackoff     time.Duration // Retry delay cap (default: 10s)
	RatePerMinute  int           // Global send rate, 0 disables limiting
	Timeout        time.Duration // Per-attempt timeout (default: 30s)
	Verbose        bool
	// OnResult, when set, is called after every delivery finishes.
	OnResult func(Result)
}

// DefaultDispatcherConfig returns default dispatcher settings.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Workers:        4,
		QueueSize:      256,
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		RatePerMinute:  60,
		Timeout:        30 * time.Second,
	}
}

func (c *DispatcherConfig) setDefaults() {
	def := DefaultDispatcherConfig()
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = def.QueueSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = def.InitialBackoff
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = max(def.MaxBackoff, c.InitialBackoff)
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
}

type job struct {
	notifier *models.Notifier
	config   Config
	msg      *Message
}

// Dispatcher delivers notifications on a pool of workers, retrying
// transient failures with exponential backoff under a global rate limit.
type Dispatcher struct {
	config  DispatcherConfig
	opts    Options
	limiter *RateLimiter
	jobs    chan job
	wg      sync.WaitGroup

	mu      sync.RWMutex
	started bool
	closed  bool
	stop    context.CancelFunc
}

// NewDispatcher creates a dispatcher. Call Start to run its workers.
func NewDispatcher(config DispatcherConfig, opts Options) *Dispatcher {
	config.setDefaults()
	return &Dispatcher{
		config: config,
		opts:   opts,
		limiter: NewRateLimiter(RateLimitConfig{
			MaxPerMinute: config.RatePerMinute,
			Enabled:      config.RatePerMinute > 0,
		}),
		jobs: make(chan job, config.QueueSize),
	}
}

// Start launches the delivery workers. Workers drain the queue until Close
// or until ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	if d.started || d.closed {
		d.mu.Unlock()
		return
	}
	d.started = true
	ctx, d.stop = context.WithCancel(ctx)
	d.mu.Unlock()

	for i := 0; i < d.config.Workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case j, ok := <-d.jobs:
					if !ok {
						return
					}
					metrics.NotificationQueueDepth.Set(float64(len(d.jobs)))
					d.deliver(ctx, j.notifier, j.config, j.msg)
				}
			}
		}()
	}
}

// Dispatch validates the notifier config and queues the message for
// delivery. Config errors are reported immediately and never queued.
func (d *Dispatcher) Dispatch(ctx context.Context, n *models.Notifier, msg *Message) error {
	cfg, err := ParseConfigFor(n.Type, n.Value)
	if err != nil {
		d.report(Result{
			NotifierID: n.ID,
			Name:       n.Name,
			Type:       n.Type,
			RuleName:   msg.RuleName,
			SystemID:   msg.SystemID,
			Err:        err,
		})
		return err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case d.jobs <- job{notifier: n, config: cfg, msg: msg}:
		metrics.NotificationQueueDepth.Set(float64(len(d.jobs)))
		return nil
	default:
		metrics.NotificationsFailedTotal.WithLabelValues(string(n.Type), "queue_full").Inc()
		return ErrQueueFull
	}
}

// Send delivers msg synchronously, retrying like a queued delivery.
func (d *Dispatcher) Send(ctx context.Context, n *models.Notifier, msg *Message) error {
	cfg, err := ParseConfigFor(n.Type, n.Value)
	if err != nil {
		return err
	}
	return d.deliver(ctx, n, cfg, msg).Err
}

// RateLimitStats returns the global limiter statistics.
func (d *Dispatcher) RateLimitStats() RateLimitStats {
	return d.limiter.Stats()
}

// Healthy reports whether the dispatcher is running and accepting messages.
func (d *Dispatcher) Healthy(ctx context.Context) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	switch {
	case d.closed:
		return ErrDispatcherClosed
	case !d.started:
		return errors.New("dispatcher not started")
	case len(d.jobs) == cap(d.jobs):
		return ErrQueueFull
	}
	return nil
}

// Close stops accepting messages and waits for queued deliveries to finish.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	started := d.started
	close(d.jobs)
	d.mu.Unlock()

	if started {
		d.wg.Wait()
		d.stop()
	}
	metrics.NotificationQueueDepth.Set(0)
	return nil
}

func (d *Dispatcher) deliver(ctx context.Context, n *models.Notifier, cfg Config, msg *Message) Result {
	start := time.Now()
	res := Result{
		NotifierID: n.ID,
		Name:       n.Name,
		Type:       n.Type,
		RuleName:   msg.RuleName,
		SystemID:   msg.SystemID,
	}

	sender, err := New(cfg, d.opts)
	if err != nil {
		res.Err = err
		d.report(res)
		return res
	}
	defer sender.Close()

	backoff := NewBackoff(d.config.InitialBackoff, d.config.MaxBackoff)
	var lastErr error

attempts:
	for attempt := 1; attempt <= d.config.MaxAttempts; attempt++ {
		res.Attempts = attempt

		if err := d.limiter.Wait(ctx); err != nil {
			lastErr = err
			break
		}

		attemptCtx, cancel := context.WithTimeout(ctx, d.config.Timeout)
		lastErr = sender.Send(attemptCtx, msg)
		cancel()

		if lastErr == nil || !retryable(lastErr) || attempt == d.config.MaxAttempts {
			break
		}

		delay := backoff.Next()
		if d.config.Verbose {
			log.Printf("notification retry: notifier=%s attempt=%d delay=%s error=%v", n.ID, attempt, delay, lastErr)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			lastErr = errors.Join(lastErr, ctx.Err())
			break attempts
		case <-timer.C:
		}
	}

	if lastErr != nil {
		res.Err = &DeliveryError{
			NotifierID: n.ID,
			Type:       n.Type,
			Attempts:   res.Attempts,
			Err:        lastErr,
		}
	}
	res.Duration = time.Since(start)
	d.report(res)
	return res
}

// retryable reports whether a failed send may succeed on another attempt.
func retryable(err error) bool {
	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		return false
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}
	return true
}

func (d *Dispatcher) report(res Result) {
	switch {
	case res.Err == nil:
		metrics.NotificationsSentTotal.WithLabelValues(string(res.Type)).Inc()
		if d.config.Verbose {
			log.Printf("notification sent: notifier=%s type=%s rule=%q attempts=%d", res.NotifierID, res.Type, res.RuleName, res.Attempts)
		}
	default:
		reason := "delivery"
		var cfgErr *ConfigError
		if errors.As(res.Err, &cfgErr) {
			reason = "config"
		}
		metrics.NotificationsFailedTotal.WithLabelValues(string(res.Type), reason).Inc()
		log.Printf("notification failed: notifier=%s type=%s rule=%q error=%v", res.NotifierID, res.Type, res.RuleName, res.Err)
	}

	if d.config.OnResult != nil {
		d.config.OnResult(res)
	}
}
