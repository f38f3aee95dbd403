package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/good-yellow-bee/lynx/internal/models"
)

type sqliteMetricRepo struct {
	db *sql.DB
}

const metricColumns = `system_id, time, cpu_usage, memory_used_kb, memory_total_kb,
	load_one, load_five, load_fifteen, net_in, net_out, uptime,
	docker_containers_running, components_json`

// Insert stores the snapshot and updates the system status in one
// transaction. Re-inserting an identical (system, time) is a no-op.
func (r *sqliteMetricRepo) Insert(ctx context.Context, m *models.MetricSnapshot) error {
	defer observeQuery("metrics_insert", "sqlite")()
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
		return fmt.Errorf("begin metric insert: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO metrics (` + metricColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (system_id, time) DO NOTHING
	`
	_, err = tx.ExecContext(ctx, query,
		m.SystemID, toNanos(m.Time), nullFloat(m.CPUUsage), nullInt(m.MemoryUsedKB),
		nullInt(m.MemoryTotalKB), nullFloat(m.LoadOne), nullFloat(m.LoadFive),
		nullFloat(m.LoadFifteen), nullInt(m.NetIn), nullInt(m.NetOut), nullInt(m.Uptime),
		nullInt(m.DockerContainersRunning), string(componentsJSON),
	)
	if isForeignKeyViolation(err) {
		return fmt.Errorf("%w: system %s", ErrNotFound, m.SystemID)
	}
	if err != nil {
		return fmt.Errorf("insert metric: %w", err)
	}

	if err := updateSystemStatus(ctx, tx, m.Status()); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit metric insert: %w", err)
	}
	return nil
}

func (r *sqliteMetricRepo) Latest(ctx context.Context, systemID string) (*models.MetricSnapshot, error) {
	query := `SELECT ` + metricColumns + ` FROM metrics WHERE system_id = ? ORDER BY time DESC LIMIT 1`
	m, err := scanMetric(r.db.QueryRowContext(ctx, query, systemID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan metric: %w", err)
	}
	return m, nil
}

func (r *sqliteMetricRepo) Range(ctx context.Context, systemID string, start, end time.Time) ([]*models.MetricSnapshot, error) {
	defer observeQuery("metrics_range", "sqlite")()
	query := `
		SELECT ` + metricColumns + ` FROM metrics
		WHERE system_id = ? AND time >= ? AND time <= ?
		ORDER BY time
	`
	rows, err := r.db.QueryContext(ctx, query, systemID, toNanos(start), toNanos(end))
	if err != nil {
		return nil, fmt.Errorf("query metrics: %w", err)
	}
	defer rows.Close()

	var out []*models.MetricSnapshot
	for rows.Next() {
		m, err := scanMetric(rows)
		if err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *sqliteMetricRepo) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM metrics WHERE time < ?", toNanos(before))
	if err != nil {
		return 0, fmt.Errorf("delete metrics: %w", err)
	}
	return result.RowsAffected()
}

func scanMetric(row scanner) (*models.MetricSnapshot, error) {
	m := &models.MetricSnapshot{}
	var ts int64
	var cpu, loadOne, loadFive, loadFifteen sql.NullFloat64
	var memUsed, memTotal, netIn, netOut, uptime, docker sql.NullInt64
	var componentsJSON string

	err := row.Scan(
		&m.SystemID, &ts, &cpu, &memUsed, &memTotal, &loadOne, &loadFive, &loadFifteen,
		&netIn, &netOut, &uptime, &docker, &componentsJSON,
	)
	if err != nil {
		return nil, err
	}

	m.Time = fromNanos(ts)
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
	return m, nil
}
