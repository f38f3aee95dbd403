// Package ingest persists agent telemetry and feeds it to the alert engine.
package ingest

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log"

	"github.com/good-yellow-bee/lynx/internal/alerting"
	"github.com/good-yellow-bee/lynx/internal/metrics"
	"github.com/good-yellow-bee/lynx/internal/models"
	"github.com/good-yellow-bee/lynx/internal/storage"
)

// Transports label ingestion metrics.
const (
	TransportGRPC = "grpc"
	TransportHTTP = "http"
)

var (
	// ErrInvalid is returned for malformed messages.
	ErrInvalid = errors.New("invalid message")
	// ErrUnauthenticated is returned when the agent key does not match.
	ErrUnauthenticated = errors.New("invalid agent key")
	// ErrUnknownSystem is returned when the system does not exist.
	ErrUnknownSystem = errors.New("unknown system")
	// ErrInactive is returned when the system is deactivated.
	ErrInactive = errors.New("system is inactive")
)

// Engine evaluates alert rules on ingested telemetry.
type Engine interface {
	HandleSnapshot(ctx context.Context, m *models.MetricSnapshot) (*alerting.Report, error)
	HandleDisk(ctx context.Context, d *models.DiskSample) (*alerting.Report, error)
}

// Result is returned to the agent for every accepted message.
type Result struct {
	Triggered  int `json:"triggered"`
	Suppressed int `json:"suppressed"`
}

// Service persists snapshots and disk samples, updates the system status
// and runs the alert engine on every accepted message.
type Service struct {
	systems   storage.SystemRepository
	telemetry storage.TelemetryStorage
	engine    Engine
	verbose   bool
}

// NewService creates an ingestion service. engine may be nil to only persist.
func NewService(systems storage.SystemRepository, telemetry storage.TelemetryStorage, engine Engine, verbose bool) *Service {
	return &Service{
		systems:   systems,
		telemetry: telemetry,
		engine:    engine,
		verbose:   verbose,
	}
}

// Authenticate checks key against the system's agent key. A system with
// no key accepts any agent.
func (s *Service) Authenticate(ctx context.Context, systemID, key string) (*models.System, error) {
	system, err := s.systems.GetByID(ctx, systemID)
	if err != nil {
		return nil, fmt.Errorf("load system: %w", err)
	}
	if system == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSystem, systemID)
	}
	if system.Key != "" && subtle.ConstantTimeCompare([]byte(system.Key), []byte(key)) != 1 {
		return nil, ErrUnauthenticated
	}
	if !system.Active {
		return nil, fmt.Errorf("%w: %s", ErrInactive, systemID)
	}
	return system, nil
}

// IngestMetrics validates, authenticates and stores a snapshot, then
// evaluates the system's alert rules against it.
func (s *Service) IngestMetrics(ctx context.Context, transport, key string, msg *MetricsMessage) (*Result, error) {
	if err := msg.Validate(); err != nil {
		return nil, s.fail(err)
	}
	if _, err := s.Authenticate(ctx, msg.SystemID, key); err != nil {
		return nil, s.fail(err)
	}

	snapshot := msg.Snapshot()
	if err := s.telemetry.Metrics().Insert(ctx, snapshot); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, s.fail(fmt.Errorf("%w: %s", ErrUnknownSystem, msg.SystemID))
		}
		return nil, s.fail(fmt.Errorf("store snapshot: %w", err))
	}
	metrics.IngestSnapshotsTotal.WithLabelValues(transport).Inc()

	if s.verbose {
		log.Printf("snapshot ingested: system=%s time=%s transport=%s", snapshot.SystemID, snapshot.Time.Format("2006-01-02T15:04:05Z07:00"), transport)
	}

	if s.engine == nil {
		return &Result{}, nil
	}
	report, err := s.engine.HandleSnapshot(ctx, snapshot)
	return s.result(report, err)
}

// IngestDisk validates, authenticates and stores a disk sample, then
// evaluates the system's disk rules against it.
func (s *Service) IngestDisk(ctx context.Context, transport, key string, msg *DiskMessage) (*Result, error) {
	if err := msg.Validate(); err != nil {
		return nil, s.fail(err)
	}
	if _, err := s.Authenticate(ctx, msg.SystemID, key); err != nil {
		return nil, s.fail(err)
	}

	sample := msg.Sample()
	if err := s.telemetry.Disks().Insert(ctx, sample); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, s.fail(fmt.Errorf("%w: %s", ErrUnknownSystem, msg.SystemID))
		}
		return nil, s.fail(fmt.Errorf("store disk sample: %w", err))
	}
	metrics.IngestDiskSamplesTotal.WithLabelValues(transport).Inc()

	if s.verbose {
		log.Printf("disk sample ingested: system=%s mount=%s transport=%s", sample.SystemID, sample.MountPoint, transport)
	}

	if s.engine == nil {
		return &Result{}, nil
	}
	report, err := s.engine.HandleDisk(ctx, sample)
	return s.result(report, err)
}

func (s *Service) result(report *alerting.Report, err error) (*Result, error) {
	if err != nil {
		// The row is stored; a retried send replays idempotently.
		metrics.IngestErrors.WithLabelValues("evaluation").Inc()
		return nil, fmt.Errorf("evaluate alerts: %w", err)
	}
	return &Result{Triggered: len(report.Triggered), Suppressed: report.Suppressed}, nil
}

func (s *Service) fail(err error) error {
	reason := "storage"
	switch {
	case errors.Is(err, ErrInvalid):
		reason = "invalid"
	case errors.Is(err, ErrUnauthenticated), errors.Is(err, ErrInactive):
		reason = "unauthenticated"
	case errors.Is(err, ErrUnknownSystem):
		reason = "unknown_system"
	}
	metrics.IngestErrors.WithLabelValues(reason).Inc()
	return err
}
