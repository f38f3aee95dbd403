// Package storage provides database storage interfaces and implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/good-yellow-bee/lynx/internal/metrics"
	"github.com/good-yellow-bee/lynx/internal/models"
)

var (
	// ErrNotFound is returned by mutations that address a missing row.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a unique constraint rejects an insert.
	ErrDuplicate = errors.New("already exists")
)

// Storage is the main interface for metadata operations.
type Storage interface {
	// Open initializes the database connection.
	Open() error
	// Close closes the database connection.
	Close() error
	// Migrate runs database migrations.
	Migrate() error

	// Repository accessors
	Systems() SystemRepository
	Alerts() AlertRepository
	Notifiers() NotifierRepository
	AlertHistory() AlertHistoryRepository
}

// TelemetryStorage stores the metric and disk time series.
type TelemetryStorage interface {
	Open() error
	Close() error
	Migrate() error
	Ping(ctx context.Context) error

	Metrics() MetricRepository
	Disks() DiskRepository
}

// SystemRepository defines operations for monitored systems.
type SystemRepository interface {
	Create(ctx context.Context, system *models.System) error
	GetByID(ctx context.Context, id string) (*models.System, error)
	Update(ctx context.Context, system *models.System) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*models.System, error)
	// UpdateStatus writes the latest snapshot values through to the system row.
	UpdateStatus(ctx context.Context, status models.SystemStatus) error
	// TouchLastSeen advances last_seen without touching the status values.
	TouchLastSeen(ctx context.Context, systemID string, at time.Time) error
}

// MetricRepository stores metric snapshots.
type MetricRepository interface {
	// Insert persists the snapshot and writes its status through to the
	// owning system.
	Insert(ctx context.Context, m *models.MetricSnapshot) error
	Latest(ctx context.Context, systemID string) (*models.MetricSnapshot, error)
	// Range returns snapshots with start <= time <= end ordered by time.
	Range(ctx context.Context, systemID string, start, end time.Time) ([]*models.MetricSnapshot, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// DiskRepository stores disk samples.
type DiskRepository interface {
	// Insert persists the sample and advances the owning system's last_seen.
	Insert(ctx context.Context, d *models.DiskSample) error
	Latest(ctx context.Context, systemID, mountPoint string) (*models.DiskSample, error)
	// Range returns samples with start <= time <= end ordered by time.
	// An empty mountPoint selects every mount point.
	Range(ctx context.Context, systemID, mountPoint string, start, end time.Time) ([]*models.DiskSample, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// AlertRepository defines operations for alert rule management.
type AlertRepository interface {
	Create(ctx context.Context, alert *models.AlertRule) error
	GetByID(ctx context.Context, id string) (*models.AlertRule, error)
	Update(ctx context.Context, alert *models.AlertRule) error
	Delete(ctx context.Context, id string) error
	ListByOwner(ctx context.Context, ownerID string) ([]*models.AlertRule, error)
	// ListActiveForSystem returns the active rules linked to a system.
	ListActiveForSystem(ctx context.Context, systemID string) ([]*models.AlertRule, error)
	// ListMonitoredSystems returns the ids of systems linked to at least one
	// active rule.
	ListMonitoredSystems(ctx context.Context) ([]string, error)

	AttachSystem(ctx context.Context, alertID, systemID string) error
	DetachSystem(ctx context.Context, alertID, systemID string) error
	ListSystems(ctx context.Context, alertID string) ([]string, error)
	AttachNotifier(ctx context.Context, alertID, notifierID string) error
	DetachNotifier(ctx context.Context, alertID, notifierID string) error
	ListNotifiers(ctx context.Context, alertID string) ([]*models.Notifier, error)
}

// NotifierRepository defines operations for notification destinations.
type NotifierRepository interface {
	Create(ctx context.Context, n *models.Notifier) error
	GetByID(ctx context.Context, id string) (*models.Notifier, error)
	Update(ctx context.Context, n *models.Notifier) error
	Delete(ctx context.Context, id string) error
	ListByOwner(ctx context.Context, ownerID string) ([]*models.Notifier, error)
}

// AlertHistoryRepository defines operations for alert history.
type AlertHistoryRepository interface {
	// Create inserts the record unless one already exists for the same
	// rule, system and source time. inserted reports which happened.
	Create(ctx context.Context, history *models.AlertHistory) (inserted bool, err error)
	// Latest returns the most recent record for a rule on a system.
	Latest(ctx context.Context, alertID, systemID string) (*models.AlertHistory, error)
	ListBySystem(ctx context.Context, systemID string, limit, offset int) ([]*models.AlertHistory, int64, error)
	ListByAlert(ctx context.Context, alertID string, limit, offset int) ([]*models.AlertHistory, int64, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// observeQuery records the latency of a telemetry query when the returned
// func is called.
func observeQuery(operation, backend string) func() {
	start := time.Now()
	return func() {
		metrics.StorageQueryDuration.WithLabelValues(operation, backend).Observe(time.Since(start).Seconds())
	}
}
