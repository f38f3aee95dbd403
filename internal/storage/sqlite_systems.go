package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/good-yellow-bee/lynx/internal/models"
)

type sqliteSystemRepo struct {
	db *sql.DB
}

const systemColumns = `id, hostname, label, address, agent_key, active, last_seen,
	cpu_usage, memory_used_kb, memory_total_kb, uptime, created_at, updated_at`

func (r *sqliteSystemRepo) Create(ctx context.Context, s *models.System) error {
	query := `
		INSERT INTO systems (id, hostname, label, address, agent_key, active,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		s.ID, s.Hostname, nullString(s.Label), nullString(s.Address), nullString(s.Key),
		boolToInt(s.Active), s.CreatedAt, s.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: system %s", ErrDuplicate, s.ID)
	}
	if err != nil {
		return fmt.Errorf("insert system: %w", err)
	}
	return nil
}

func (r *sqliteSystemRepo) GetByID(ctx context.Context, id string) (*models.System, error) {
	query := `SELECT ` + systemColumns + ` FROM systems WHERE id = ?`
	s, err := scanSystem(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan system: %w", err)
	}
	return s, nil
}

func (r *sqliteSystemRepo) Update(ctx context.Context, s *models.System) error {
	query := `
		UPDATE systems SET hostname = ?, label = ?, address = ?, agent_key = ?,
			active = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		s.Hostname, nullString(s.Label), nullString(s.Address), nullString(s.Key),
		boolToInt(s.Active), s.UpdatedAt, s.ID,
	)
	if err != nil {
		return fmt.Errorf("update system: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: system %s", ErrNotFound, s.ID)
	}
	return nil
}

func (r *sqliteSystemRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM systems WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete system: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: system %s", ErrNotFound, id)
	}
	return nil
}

func (r *sqliteSystemRepo) List(ctx context.Context) ([]*models.System, error) {
	query := `SELECT ` + systemColumns + ` FROM systems ORDER BY hostname, id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query systems: %w", err)
	}
	defer rows.Close()

	var systems []*models.System
	for rows.Next() {
		s, err := scanSystem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan system: %w", err)
		}
		systems = append(systems, s)
	}
	return systems, rows.Err()
}

func (r *sqliteSystemRepo) UpdateStatus(ctx context.Context, status models.SystemStatus) error {
	return updateSystemStatus(ctx, r.db, status)
}

func (r *sqliteSystemRepo) TouchLastSeen(ctx context.Context, systemID string, at time.Time) error {
	return touchLastSeen(ctx, r.db, systemID, at)
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// updateSystemStatus never moves last_seen backwards, so a replayed or
// late snapshot leaves a newer status in place.
func updateSystemStatus(ctx context.Context, db execer, status models.SystemStatus) error {
	query := `
		UPDATE systems SET last_seen = ?, cpu_usage = ?, memory_used_kb = ?,
			memory_total_kb = ?, uptime = ?
		WHERE id = ? AND (last_seen IS NULL OR last_seen <= ?)
	`
	ts := toNanos(status.LastSeen)
	_, err := db.ExecContext(ctx, query,
		ts, nullFloat(status.CPUUsage), nullInt(status.MemoryUsedKB),
		nullInt(status.MemoryTotalKB), nullInt(status.Uptime), status.SystemID, ts,
	)
	if err != nil {
		return fmt.Errorf("update system status: %w", err)
	}
	return nil
}

func touchLastSeen(ctx context.Context, db execer, systemID string, at time.Time) error {
	ts := toNanos(at)
	_, err := db.ExecContext(ctx,
		`UPDATE systems SET last_seen = ? WHERE id = ? AND (last_seen IS NULL OR last_seen < ?)`,
		ts, systemID, ts,
	)
	if err != nil {
		return fmt.Errorf("touch system last_seen: %w", err)
	}
	return nil
}

func scanSystem(row scanner) (*models.System, error) {
	s := &models.System{}
	var label, address, key sql.NullString
	var lastSeen sql.NullInt64
	var cpu sql.NullFloat64
	var memUsed, memTotal, uptime sql.NullInt64
	var active int

	err := row.Scan(
		&s.ID, &s.Hostname, &label, &address, &key, &active, &lastSeen,
		&cpu, &memUsed, &memTotal, &uptime, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.Label = label.String
	s.Address = address.String
	s.Key = key.String
	s.Active = active != 0
	if lastSeen.Valid {
		t := fromNanos(lastSeen.Int64)
		s.LastSeen = &t
	}
	s.CPUUsage = floatPtr(cpu)
	s.MemoryUsedKB = intPtr(memUsed)
	s.MemoryTotalKB = intPtr(memTotal)
	s.Uptime = intPtr(uptime)
	return s, nil
}
