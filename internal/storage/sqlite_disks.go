package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/good-yellow-bee/lynx/internal/models"
)

type sqliteDiskRepo struct {
	db *sql.DB
}

const diskColumns = `system_id, mount_point, time, space, used, read, write, unit`

// Insert stores the sample and advances last_seen in one transaction.
func (r *sqliteDiskRepo) Insert(ctx context.Context, d *models.DiskSample) error {
	defer observeQuery("disks_insert", "sqlite")()
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin disk insert: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO disks (` + diskColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (system_id, mount_point, time) DO NOTHING
	`
	_, err = tx.ExecContext(ctx, query,
		d.SystemID, d.MountPoint, toNanos(d.Time), nullInt(d.Space), nullInt(d.Used),
		nullFloat(d.Read), nullFloat(d.Write), nullString(d.Unit),
	)
	if isForeignKeyViolation(err) {
		return fmt.Errorf("%w: system %s", ErrNotFound, d.SystemID)
	}
	if err != nil {
		return fmt.Errorf("insert disk: %w", err)
	}

	if err := touchLastSeen(ctx, tx, d.SystemID, d.Time); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit disk insert: %w", err)
	}
	return nil
}

func (r *sqliteDiskRepo) Latest(ctx context.Context, systemID, mountPoint string) (*models.DiskSample, error) {
	query := `
		SELECT ` + diskColumns + ` FROM disks
		WHERE system_id = ? AND mount_point = ?
		ORDER BY time DESC LIMIT 1
	`
	d, err := scanDisk(r.db.QueryRowContext(ctx, query, systemID, mountPoint))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan disk: %w", err)
	}
	return d, nil
}

func (r *sqliteDiskRepo) Range(ctx context.Context, systemID, mountPoint string, start, end time.Time) ([]*models.DiskSample, error) {
	defer observeQuery("disks_range", "sqlite")()
	query := `SELECT ` + diskColumns + ` FROM disks WHERE system_id = ? AND time >= ? AND time <= ?`
	args := []interface{}{systemID, toNanos(start), toNanos(end)}
	if mountPoint != "" {
		query += ` AND mount_point = ?`
		args = append(args, mountPoint)
	}
	query += ` ORDER BY time, mount_point`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query disks: %w", err)
	}
	defer rows.Close()

	var out []*models.DiskSample
	for rows.Next() {
		d, err := scanDisk(rows)
		if err != nil {
			return nil, fmt.Errorf("scan disk: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *sqliteDiskRepo) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM disks WHERE time < ?", toNanos(before))
	if err != nil {
		return 0, fmt.Errorf("delete disks: %w", err)
	}
	return result.RowsAffected()
}

func scanDisk(row scanner) (*models.DiskSample, error) {
	d := &models.DiskSample{}
	var ts int64
	var space, used sql.NullInt64
	var read, write sql.NullFloat64
	var unit sql.NullString

	if err := row.Scan(&d.SystemID, &d.MountPoint, &ts, &space, &used, &read, &write, &unit); err != nil {
		return nil, err
	}

	d.Time = fromNanos(ts)
	d.Space = intPtr(space)
	d.Used = intPtr(used)
	d.Read = floatPtr(read)
	d.Write = floatPtr(write)
	d.Unit = unit.String
	return d, nil
}
