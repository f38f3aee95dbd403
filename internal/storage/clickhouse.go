package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/good-yellow-bee/lynx/internal/models"
)

// ClickHouseConfig holds ClickHouse connection settings.
type ClickHouseConfig struct {
	// Addresses are the ClickHouse server addresses (host:port).
	Addresses []string

	// Database is the ClickHouse database name.
	Database string

	// Username for authentication.
	Username string

	// Password for authentication.
	Password string

	// MaxOpenConns is the maximum number of open connections.
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	MaxIdleConns int

	// DialTimeout is the connection timeout.
	DialTimeout time.Duration

	// Compression enables LZ4 compression.
	Compression bool

	// RetentionDays is the TTL in days for telemetry rows.
	RetentionDays int
}

// StatusWriter receives the system status derived from each snapshot
// and the last_seen advance from each disk sample.
type StatusWriter interface {
	UpdateStatus(ctx context.Context, status models.SystemStatus) error
	TouchLastSeen(ctx context.Context, systemID string, at time.Time) error
}

// ClickHouseStorage implements TelemetryStorage for ClickHouse. System
// status lives in the metadata store and is written through StatusWriter.
type ClickHouseStorage struct {
	config  *ClickHouseConfig
	status  StatusWriter
	db      *sql.DB
	metrics *clickhouseMetricRepo
	disks   *clickhouseDiskRepo
}

// NewClickHouseStorage creates a new ClickHouse storage.
func NewClickHouseStorage(config *ClickHouseConfig, status StatusWriter) *ClickHouseStorage {
	// Apply defaults
	if config.MaxOpenConns == 0 {
		config.MaxOpenConns = 5
	}
	if config.MaxIdleConns == 0 {
		config.MaxIdleConns = 5
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = 5 * time.Second
	}
	if config.RetentionDays == 0 {
		config.RetentionDays = 30
	}

	return &ClickHouseStorage{config: config, status: status}
}

// Open initializes the ClickHouse connection.
func (s *ClickHouseStorage) Open() error {
	opts := &clickhouse.Options{
		Addr: s.config.Addresses,
		Auth: clickhouse.Auth{
			Database: s.config.Database,
			Username: s.config.Username,
			Password: s.config.Password,
		},
		DialTimeout:  s.config.DialTimeout,
		MaxOpenConns: s.config.MaxOpenConns,
		MaxIdleConns: s.config.MaxIdleConns,
	}

	if s.config.Compression {
		opts.Compression = &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		}
	}

	db := clickhouse.OpenDB(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), s.config.DialTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping clickhouse: %w", err)
	}

	s.db = db
	s.metrics = &clickhouseMetricRepo{db: db, status: s.status}
	s.disks = &clickhouseDiskRepo{db: db, status: s.status}
	return nil
}

// Close closes the database connection.
func (s *ClickHouseStorage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Migrate creates the telemetry tables if they don't exist.
func (s *ClickHouseStorage) Migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tables := []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS metrics (
				system_id String,
				time DateTime64(9, 'UTC'),
				cpu_usage Nullable(Float64),
				memory_used_kb Nullable(Int64),
				memory_total_kb Nullable(Int64),
				load_one Nullable(Float64),
				load_five Nullable(Float64),
				load_fifteen Nullable(Float64),
				net_in Nullable(Int64),
				net_out Nullable(Int64),
				uptime Nullable(Int64),
				docker_containers_running Nullable(Int64),
				components_json String,
				_date Date DEFAULT toDate(time)
			)
			ENGINE = ReplacingMergeTree()
			PARTITION BY toYYYYMM(_date)
			ORDER BY (system_id, time)
			TTL _date + INTERVAL %d DAY DELETE
			SETTINGS index_granularity = 8192
		`, s.config.RetentionDays),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS disks (
				system_id String,
				mount_point String,
				time DateTime64(9, 'UTC'),
				space Nullable(Int64),
				used Nullable(Int64),
				read Nullable(Float64),
				write Nullable(Float64),
				unit LowCardinality(String),
				_date Date DEFAULT toDate(time)
			)
			ENGINE = ReplacingMergeTree()
			PARTITION BY toYYYYMM(_date)
			ORDER BY (system_id, mount_point, time)
			TTL _date + INTERVAL %d DAY DELETE
			SETTINGS index_granularity = 8192
		`, s.config.RetentionDays),
	}

	for _, ddl := range tables {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create telemetry table: %w", err)
		}
	}

	return nil
}

// Ping checks the connection health.
func (s *ClickHouseStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Metrics returns the metric snapshot repository.
func (s *ClickHouseStorage) Metrics() MetricRepository {
	return s.metrics
}

// Disks returns the disk sample repository.
func (s *ClickHouseStorage) Disks() DiskRepository {
	return s.disks
}

// clickhouseMetricRepo implements MetricRepository for ClickHouse.
type clickhouseMetricRepo struct {
	db     *sql.DB
	status StatusWriter
}

// Insert writes the snapshot, then the status. ClickHouse has no
// transactions spanning the metadata store: a failed status write is
// returned so the agent retries, and the replay is absorbed by the
// ReplacingMergeTree key.
func (r *clickhouseMetricRepo) Insert(ctx context.Context, m *models.MetricSnapshot) error {
	defer observeQuery("metrics_insert", "clickhouse")()
	components := m.Components
	if components == nil {
		components = []models.Component{}
	}
	componentsJSON, err := json.Marshal(components)
	if err != nil {
		return fmt.Errorf("marshal components: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO metrics (
			system_id, time, cpu_usage, memory_used_kb, memory_total_kb,
			load_one, load_five, load_fifteen, net_in, net_out, uptime,
			docker_containers_running, components_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	_, err = stmt.ExecContext(ctx,
		m.SystemID, m.Time.UTC(), m.CPUUsage, m.MemoryUsedKB, m.MemoryTotalKB,
		m.LoadOne, m.LoadFive, m.LoadFifteen, m.NetIn, m.NetOut, m.Uptime,
		m.DockerContainersRunning, string(componentsJSON),
	)
	if err != nil {
		return fmt.Errorf("exec: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	if r.status != nil {
		if err := r.status.UpdateStatus(ctx, m.Status()); err != nil {
			return err
		}
	}
	return nil
}

func (r *clickhouseMetricRepo) Latest(ctx context.Context, systemID string) (*models.MetricSnapshot, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+metricColumns+` FROM metrics FINAL
		WHERE system_id = ? ORDER BY time DESC LIMIT 1
	`, systemID)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	out, err := scanClickHouseMetrics(rows)
	if err != nil || len(out) == 0 {
		return nil, err
	}
	return out[0], nil
}

func (r *clickhouseMetricRepo) Range(ctx context.Context, systemID string, start, end time.Time) ([]*models.MetricSnapshot, error) {
	defer observeQuery("metrics_range", "clickhouse")()
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+metricColumns+` FROM metrics FINAL
		WHERE system_id = ? AND time >= ? AND time <= ?
		ORDER BY time
	`, systemID, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	return scanClickHouseMetrics(rows)
}

// DeleteBefore removes metrics older than the specified time.
func (r *clickhouseMetricRepo) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	return clickhouseDeleteBefore(ctx, r.db, "metrics", before)
}

func scanClickHouseMetrics(rows *sql.Rows) ([]*models.MetricSnapshot, error) {
	var out []*models.MetricSnapshot
	for rows.Next() {
		m := &models.MetricSnapshot{}
		var cpu, loadOne, loadFive, loadFifteen sql.NullFloat64
		var memUsed, memTotal, netIn, netOut, uptime, docker sql.NullInt64
		var componentsJSON string

		err := rows.Scan(
			&m.SystemID, &m.Time, &cpu, &memUsed, &memTotal, &loadOne, &loadFive, &loadFifteen,
			&netIn, &netOut, &uptime, &docker, &componentsJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}

		m.Time = m.Time.UTC()
		m.CPUUsage = floatPtr(cpu)
		m.MemoryUsedKB = intPtr(memUsed)
		m.MemoryTotalKB = intPtr(memTotal)
		m.LoadOne = floatPtr(loadOne)
		m.LoadFive = floatPtr(loadFive)
		m.LoadFifteen = floatPtr(loadFifteen)
		m.NetIn = intPtr(netIn)
		m.NetOut = intPtr(netOut)
		m.Uptime = intPtr(uptime)
		m.DockerContainersRunning = intPtr(docker)
		if err := json.Unmarshal([]byte(componentsJSON), &m.Components); err != nil {
			return nil, fmt.Errorf("unmarshal components: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// clickhouseDiskRepo implements DiskRepository for ClickHouse.
type clickhouseDiskRepo struct {
	db     *sql.DB
	status StatusWriter
}

func (r *clickhouseDiskRepo) Insert(ctx context.Context, d *models.DiskSample) error {
	defer observeQuery("disks_insert", "clickhouse")()
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO disks (system_id, mount_point, time, space, used, read, write, unit)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	_, err = stmt.ExecContext(ctx,
		d.SystemID, d.MountPoint, d.Time.UTC(), d.Space, d.Used, d.Read, d.Write, d.Unit,
	)
	if err != nil {
		return fmt.Errorf("exec: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	if r.status != nil {
		if err := r.status.TouchLastSeen(ctx, d.SystemID, d.Time); err != nil {
			return err
		}
	}
	return nil
}

func (r *clickhouseDiskRepo) Latest(ctx context.Context, systemID, mountPoint string) (*models.DiskSample, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+diskColumns+` FROM disks FINAL
		WHERE system_id = ? AND mount_point = ?
		ORDER BY time DESC LIMIT 1
	`, systemID, mountPoint)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	out, err := scanClickHouseDisks(rows)
	if err != nil || len(out) == 0 {
		return nil, err
	}
	return out[0], nil
}

func (r *clickhouseDiskRepo) Range(ctx context.Context, systemID, mountPoint string, start, end time.Time) ([]*models.DiskSample, error) {
	defer observeQuery("disks_range", "clickhouse")()
	query := `SELECT ` + diskColumns + ` FROM disks FINAL WHERE system_id = ? AND time >= ? AND time <= ?`
	args := []interface{}{systemID, start.UTC(), end.UTC()}
	if mountPoint != "" {
		query += ` AND mount_point = ?`
		args = append(args, mountPoint)
	}
	query += ` ORDER BY time, mount_point`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	return scanClickHouseDisks(rows)
}

// DeleteBefore removes disk samples older than the specified time.
func (r *clickhouseDiskRepo) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	return clickhouseDeleteBefore(ctx, r.db, "disks", before)
}

func scanClickHouseDisks(rows *sql.Rows) ([]*models.DiskSample, error) {
	var out []*models.DiskSample
	for rows.Next() {
		d := &models.DiskSample{}
		var space, used sql.NullInt64
		var read, write sql.NullFloat64

		if err := rows.Scan(&d.SystemID, &d.MountPoint, &d.Time, &space, &used, &read, &write, &d.Unit); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}

		d.Time = d.Time.UTC()
		d.Space = intPtr(space)
		d.Used = intPtr(used)
		d.Read = floatPtr(read)
		d.Write = floatPtr(write)
		out = append(out, d)
	}
	return out, rows.Err()
}

func clickhouseDeleteBefore(ctx context.Context, db *sql.DB, table string, before time.Time) (int64, error) {
	// First get count for return value
	var count uint64
	err := db.QueryRowContext(ctx, "SELECT count() FROM "+table+" WHERE time < ?", before.UTC()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}

	// Delete using ALTER TABLE DELETE (async in ClickHouse)
	_, err = db.ExecContext(ctx, "ALTER TABLE "+table+" DELETE WHERE time < ?", before.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete: %w", err)
	}

	if count > 0 {
		log.Printf("clickhouse: scheduled deletion of %d rows from %s", count, table)
	}
	return int64(count), nil
}
