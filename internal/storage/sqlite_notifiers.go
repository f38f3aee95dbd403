package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/good-yellow-bee/lynx/internal/models"
)

type sqliteNotifierRepo struct {
	db *sql.DB
}

const notifierColumns = `id, owner_id, name, type, value, created_at, updated_at`

func (r *sqliteNotifierRepo) Create(ctx context.Context, n *models.Notifier) error {
	query := `INSERT INTO notifiers (` + notifierColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		n.ID, n.OwnerID, n.Name, n.Type, n.Value, n.CreatedAt, n.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: notifier %s", ErrDuplicate, n.ID)
	}
	if err != nil {
		return fmt.Errorf("insert notifier: %w", err)
	}
	return nil
}

func (r *sqliteNotifierRepo) GetByID(ctx context.Context, id string) (*models.Notifier, error) {
	query := `SELECT ` + notifierColumns + ` FROM notifiers WHERE id = ?`
	n, err := scanNotifier(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan notifier: %w", err)
	}
	return n, nil
}

func (r *sqliteNotifierRepo) Update(ctx context.Context, n *models.Notifier) error {
	query := `UPDATE notifiers SET name = ?, type = ?, value = ?, updated_at = ? WHERE id = ?`
	result, err := r.db.ExecContext(ctx, query, n.Name, n.Type, n.Value, n.UpdatedAt, n.ID)
	if err != nil {
		return fmt.Errorf("update notifier: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: notifier %s", ErrNotFound, n.ID)
	}
	return nil
}

func (r *sqliteNotifierRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM notifiers WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete notifier: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: notifier %s", ErrNotFound, id)
	}
	return nil
}

func (r *sqliteNotifierRepo) ListByOwner(ctx context.Context, ownerID string) ([]*models.Notifier, error) {
	query := `SELECT ` + notifierColumns + ` FROM notifiers WHERE owner_id = ? ORDER BY name, id`
	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query notifiers: %w", err)
	}
	defer rows.Close()
	return scanNotifiers(rows)
}

func scanNotifiers(rows *sql.Rows) ([]*models.Notifier, error) {
	var out []*models.Notifier
	for rows.Next() {
		n, err := scanNotifier(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notifier: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func scanNotifier(row scanner) (*models.Notifier, error) {
	n := &models.Notifier{}
	err := row.Scan(&n.ID, &n.OwnerID, &n.Name, &n.Type, &n.Value, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return n, nil
}
