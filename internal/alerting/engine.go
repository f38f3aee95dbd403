// Package alerting evaluates user-defined alert rules against system
// telemetry and records and dispatches the alerts they trigger.
package alerting

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/good-yellow-bee/lynx/internal/aggregator"
	"github.com/good-yellow-bee/lynx/internal/metrics"
	"github.com/good-yellow-bee/lynx/internal/models"
	"github.com/good-yellow-bee/lynx/internal/notifier"
	"github.com/good-yellow-bee/lynx/internal/storage"
)

// Dispatcher hands a triggered alert to a notification destination.
// Implementations must not block on delivery.
type Dispatcher interface {
	Dispatch(ctx context.Context, n *models.Notifier, msg *notifier.Message) error
}

// Engine evaluates the active rules of a system whenever new telemetry
// arrives for it. Evaluations for one system are serialized; different
// systems evaluate in parallel.
type Engine struct {
	store      storage.Storage
	telemetry  storage.TelemetryStorage
	aggregator *aggregator.Aggregator
	dispatcher Dispatcher
	opts       EngineOptions

	locks *systemLocks
	rules *ruleCache
	stats *EngineStats
}

// EngineStats tracks engine statistics using atomic operations for lock-free access.
type EngineStats struct {
	Evaluations    atomic.Int64
	Triggered      atomic.Int64
	Suppressed     atomic.Int64
	ParseErrors    atomic.Int64
	NotifierErrors atomic.Int64
}

// EngineOptions configures the alert engine.
type EngineOptions struct {
	Cooldowns CooldownPolicy
	// Workers bounds the systems evaluated in parallel by EvaluateAll.
	Workers int
	Verbose bool
	// Now returns the trigger time recorded in history. Defaults to time.Now.
	Now func() time.Time
}

// DefaultEngineOptions returns default engine options.
func DefaultEngineOptions() EngineOptions {
	return EngineOptions{
		Cooldowns: DefaultCooldownPolicy(),
		Workers:   4,
		Now:       time.Now,
	}
}

// NewEngine creates an alert engine.
func NewEngine(store storage.Storage, telemetry storage.TelemetryStorage, dispatcher Dispatcher, opts EngineOptions) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Engine{
		store:      store,
		telemetry:  telemetry,
		aggregator: aggregator.New(telemetry.Metrics(), telemetry.Disks()),
		dispatcher: dispatcher,
		opts:       opts,
		locks:      newSystemLocks(),
		rules:      newRuleCache(),
		stats:      &EngineStats{},
	}
}

// Report summarizes one evaluation pass over a system's rules.
type Report struct {
	SystemID       string
	SourceTime     time.Time
	Evaluated      int
	Triggered      []string // rule ids that recorded history
	Suppressed     int
	ParseErrors    int
	NotifierErrors int
}

// HandleSnapshot evaluates the system's active rules against a newly
// ingested snapshot. Only storage failures are returned.
func (e *Engine) HandleSnapshot(ctx context.Context, m *models.MetricSnapshot) (*Report, error) {
	unlock := e.locks.lock(m.SystemID)
	defer unlock()

	var (
		disk       *models.DiskSample
		diskLoaded bool
	)
	fields := func(ctx context.Context, expr *Expression) (*FieldSet, error) {
		if !expr.NeedsDisk() {
			return NewFieldSet(m, nil), nil
		}
		if !diskLoaded {
			var err error
			if disk, err = e.telemetry.Disks().Latest(ctx, m.SystemID, models.RootMountPoint); err != nil {
				return nil, fmt.Errorf("load latest disk: %w", err)
			}
			diskLoaded = true
		}
		return NewFieldSet(m, disk), nil
	}

	return e.evaluate(ctx, m.SystemID, m.Time, func(*Expression) bool { return true }, fields)
}

// HandleDisk evaluates the disk rules of the system against a newly
// ingested disk sample. Only root mount samples drive evaluation.
func (e *Engine) HandleDisk(ctx context.Context, d *models.DiskSample) (*Report, error) {
	if d.MountPoint != models.RootMountPoint {
		return &Report{SystemID: d.SystemID, SourceTime: d.Time}, nil
	}

	unlock := e.locks.lock(d.SystemID)
	defer unlock()

	var (
		snapshot *models.MetricSnapshot
		loaded   bool
	)
	fields := func(ctx context.Context, _ *Expression) (*FieldSet, error) {
		if !loaded {
			var err error
			if snapshot, err = e.telemetry.Metrics().Latest(ctx, d.SystemID); err != nil {
				return nil, fmt.Errorf("load latest snapshot: %w", err)
			}
			loaded = true
		}
		return NewFieldSet(snapshot, d), nil
	}

	return e.evaluate(ctx, d.SystemID, d.Time, (*Expression).NeedsDisk, fields)
}

// EvaluateSystem evaluates every active rule of the system against its
// latest telemetry. It backs the periodic evaluation tick.
func (e *Engine) EvaluateSystem(ctx context.Context, systemID string) (*Report, error) {
	unlock := e.locks.lock(systemID)
	defer unlock()

	snapshot, err := e.telemetry.Metrics().Latest(ctx, systemID)
	if err != nil {
		return nil, fmt.Errorf("load latest snapshot: %w", err)
	}
	disk, err := e.telemetry.Disks().Latest(ctx, systemID, models.RootMountPoint)
	if err != nil {
		return nil, fmt.Errorf("load latest disk: %w", err)
	}

	var sourceTime time.Time
	switch {
	case snapshot != nil && (disk == nil || !disk.Time.After(snapshot.Time)):
		sourceTime = snapshot.Time
	case disk != nil:
		sourceTime = disk.Time
	default:
		return &Report{SystemID: systemID}, nil
	}

	fields := func(context.Context, *Expression) (*FieldSet, error) {
		return NewFieldSet(snapshot, disk), nil
	}
	return e.evaluate(ctx, systemID, sourceTime, func(*Expression) bool { return true }, fields)
}

// EvaluateAll evaluates every system with at least one active rule.
// Failures are logged per system and joined.
func (e *Engine) EvaluateAll(ctx context.Context) error {
	systemIDs, err := e.store.Alerts().ListMonitoredSystems(ctx)
	if err != nil {
		return fmt.Errorf("list monitored systems: %w", err)
	}

	errs := make([]error, len(systemIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)
	for i, id := range systemIDs {
		g.Go(func() error {
			if _, err := e.EvaluateSystem(gctx, id); err != nil {
				log.Printf("periodic evaluation failed: system=%s error=%v", id, err)
				errs[i] = fmt.Errorf("system %s: %w", id, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}

// Run evaluates all monitored systems every interval until ctx is done.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.EvaluateAll(ctx); err != nil && ctx.Err() == nil && e.opts.Verbose {
				log.Printf("periodic evaluation: %v", err)
			}
		}
	}
}

// Forget drops cached state for a deleted or edited rule.
func (e *Engine) Forget(ruleID string) {
	e.rules.forget(ruleID)
}

type fieldSource func(ctx context.Context, expr *Expression) (*FieldSet, error)

func (e *Engine) evaluate(ctx context.Context, systemID string, sourceTime time.Time, applies func(*Expression) bool, fields fieldSource) (*Report, error) {
	report := &Report{SystemID: systemID, SourceTime: sourceTime}

	rules, err := e.store.Alerts().ListActiveForSystem(ctx, systemID)
	if err != nil {
		return nil, fmt.Errorf("list rules for system %s: %w", systemID, err)
	}

	var (
		system *models.System
		errs   []error
	)
	for _, rule := range rules {
		expr, err := e.rules.get(rule)
		if err != nil {
			report.ParseErrors++
			e.stats.ParseErrors.Add(1)
			continue
		}
		if !applies(expr) {
			continue
		}

		fs, err := e.resolve(ctx, systemID, sourceTime, rule, expr, fields)
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %s: %w", rule.ID, err))
			continue
		}

		report.Evaluated++
		e.stats.Evaluations.Add(1)
		metrics.AlertEvaluationsTotal.Inc()

		if !expr.Evaluate(fs) {
			continue
		}

		history, err := e.record(ctx, systemID, sourceTime, rule, expr, fs)
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %s: %w", rule.ID, err))
			continue
		}
		if history == nil {
			report.Suppressed++
			e.stats.Suppressed.Add(1)
			metrics.AlertsSuppressedTotal.Inc()
			continue
		}

		report.Triggered = append(report.Triggered, rule.ID)
		e.stats.Triggered.Add(1)
		metrics.AlertsTriggeredTotal.WithLabelValues(string(rule.Severity)).Inc()
		log.Printf("rule triggered: rule=%s system=%s severity=%s", rule.ID, systemID, rule.Severity)

		if system == nil {
			if system, err = e.store.Systems().GetByID(ctx, systemID); err != nil {
				log.Printf("load system for notification: system=%s error=%v", systemID, err)
			}
		}
		report.NotifierErrors += e.notify(ctx, rule, system, systemID, expr, fs, history)
	}

	return report, errors.Join(errs...)
}

// resolve builds the field set for rule: the window mean for windowed
// rules, the latest telemetry otherwise.
func (e *Engine) resolve(ctx context.Context, systemID string, sourceTime time.Time, rule *models.AlertRule, expr *Expression, fields fieldSource) (*FieldSet, error) {
	if rule.Window <= 0 {
		return fields(ctx, expr)
	}

	mb, db, err := e.aggregator.Summarize(ctx, systemID, sourceTime.Add(-rule.Window), sourceTime)
	if err != nil {
		return nil, err
	}
	return NewWindowFieldSet(mb, db), nil
}

// record persists a trigger unless the rule is cooling down for the system.
// It returns nil history when the trigger is suppressed.
func (e *Engine) record(ctx context.Context, systemID string, sourceTime time.Time, rule *models.AlertRule, expr *Expression, fs *FieldSet) (*models.AlertHistory, error) {
	last, err := e.store.AlertHistory().Latest(ctx, rule.ID, systemID)
	if err != nil {
		return nil, fmt.Errorf("load latest history: %w", err)
	}
	if e.opts.Cooldowns.Cooling(rule, last, sourceTime) {
		return nil, nil
	}

	history := &models.AlertHistory{
		ID:          uuid.New().String(),
		SystemID:    systemID,
		AlertRuleID: rule.ID,
		RuleName:    rule.Name,
		Severity:    rule.Severity,
		Message:     describe(expr, fs),
		SourceTime:  sourceTime,
		TriggeredAt: e.opts.Now(),
	}
	inserted, err := e.store.AlertHistory().Create(ctx, history)
	if err != nil {
		return nil, fmt.Errorf("record alert history: %w", err)
	}
	if !inserted {
		// Same snapshot already recorded this trigger.
		return nil, nil
	}
	return history, nil
}

// notify dispatches the alert to each notifier of the rule and returns the
// number of notifiers that could not be handed the message.
func (e *Engine) notify(ctx context.Context, rule *models.AlertRule, system *models.System, systemID string, expr *Expression, fs *FieldSet, history *models.AlertHistory) int {
	notifiers, err := e.store.Alerts().ListNotifiers(ctx, rule.ID)
	if err != nil {
		log.Printf("list notifiers failed: rule=%s error=%v", rule.ID, err)
		e.stats.NotifierErrors.Add(1)
		return 1
	}
	if len(notifiers) == 0 || e.dispatcher == nil {
		return 0
	}

	msg := &notifier.Message{
		RuleID:      rule.ID,
		RuleName:    rule.Name,
		Description: rule.Description,
		Severity:    rule.Severity,
		SystemID:    systemID,
		SystemName:  systemID,
		Expression:  expr.String(),
		Timestamp:   history.SourceTime,
	}
	if system != nil {
		msg.SystemName = system.DisplayName()
	}
	for _, v := range fs.Values(expr.Fields()) {
		msg.Values = append(msg.Values, notifier.Reading{Field: v.Field, Value: v.Value})
	}

	failed := 0
	for _, n := range notifiers {
		if err := e.dispatcher.Dispatch(ctx, n, msg); err != nil {
			failed++
			e.stats.NotifierErrors.Add(1)
			log.Printf("dispatch failed: rule=%s notifier=%s error=%v", rule.ID, n.ID, err)
		}
	}
	return failed
}

// describe renders the history message: the condition and the values
// that satisfied it.
func describe(expr *Expression, fs *FieldSet) string {
	values := fs.Values(expr.Fields())
	if len(values) == 0 {
		return expr.String()
	}
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprintf("%s=%g", v.Field, v.Value)
	}
	return fmt.Sprintf("%s (%s)", expr.String(), strings.Join(parts, ", "))
}

// EngineStatsSnapshot is a snapshot of engine statistics for reporting.
type EngineStatsSnapshot struct {
	Evaluations    int64
	Triggered      int64
	Suppressed     int64
	ParseErrors    int64
	NotifierErrors int64
}

// Stats returns a snapshot of engine statistics.
func (e *Engine) Stats() EngineStatsSnapshot {
	return EngineStatsSnapshot{
		Evaluations:    e.stats.Evaluations.Load(),
		Triggered:      e.stats.Triggered.Load(),
		Suppressed:     e.stats.Suppressed.Load(),
		ParseErrors:    e.stats.ParseErrors.Load(),
		NotifierErrors: e.stats.NotifierErrors.Load(),
	}
}
