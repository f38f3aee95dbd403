package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/good-yellow-bee/lynx/internal/models"
)

type sqliteAlertHistoryRepo struct {
	db *sql.DB
}

const historyColumns = `id, system_id, alert_id, rule_name, severity, message,
	source_time, triggered_at`

func (r *sqliteAlertHistoryRepo) Create(ctx context.Context, h *models.AlertHistory) (bool, error) {
	query := `
		INSERT INTO alert_history (` + historyColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (alert_id, system_id, source_time) DO NOTHING
	`
	result, err := r.db.ExecContext(ctx, query,
		h.ID, h.SystemID, nullString(h.AlertRuleID), h.RuleName, h.Severity, h.Message,
		toNanos(h.SourceTime), toNanos(h.TriggeredAt),
	)
	if isForeignKeyViolation(err) {
		return false, fmt.Errorf("%w: alert %s or system %s", ErrNotFound, h.AlertRuleID, h.SystemID)
	}
	if err != nil {
		return false, fmt.Errorf("create alert history: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

func (r *sqliteAlertHistoryRepo) Latest(ctx context.Context, alertID, systemID string) (*models.AlertHistory, error) {
	query := `
		SELECT ` + historyColumns + ` FROM alert_history
		WHERE alert_id = ? AND system_id = ?
		ORDER BY source_time DESC, triggered_at DESC LIMIT 1
	`
	h, err := scanHistory(r.db.QueryRowContext(ctx, query, alertID, systemID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan alert history: %w", err)
	}
	return h, nil
}

func (r *sqliteAlertHistoryRepo) ListBySystem(ctx context.Context, systemID string, limit, offset int) ([]*models.AlertHistory, int64, error) {
	var total int64
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM alert_history WHERE system_id = ?", systemID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count alert history by system: %w", err)
	}

	query := `
		SELECT ` + historyColumns + ` FROM alert_history
		WHERE system_id = ? ORDER BY source_time DESC, triggered_at DESC, id LIMIT ? OFFSET ?
	`
	rows, err := r.db.QueryContext(ctx, query, systemID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query alert history by system: %w", err)
	}
	defer rows.Close()

	histories, err := scanHistories(rows)
	if err != nil {
		return nil, 0, err
	}
	return histories, total, rows.Err()
}

func (r *sqliteAlertHistoryRepo) ListByAlert(ctx context.Context, alertID string, limit, offset int) ([]*models.AlertHistory, int64, error) {
	var total int64
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM alert_history WHERE alert_id = ?", alertID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count alert history by alert: %w", err)
	}

	query := `
		SELECT ` + historyColumns + ` FROM alert_history
		WHERE alert_id = ? ORDER BY source_time DESC, triggered_at DESC, id LIMIT ? OFFSET ?
	`
	rows, err := r.db.QueryContext(ctx, query, alertID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query alert history by alert: %w", err)
	}
	defer rows.Close()

	histories, err := scanHistories(rows)
	if err != nil {
		return nil, 0, err
	}
	return histories, total, rows.Err()
}

func (r *sqliteAlertHistoryRepo) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM alert_history WHERE triggered_at < ?", toNanos(before))
	if err != nil {
		return 0, fmt.Errorf("delete alert history: %w", err)
	}
	return result.RowsAffected()
}

func scanHistories(rows *sql.Rows) ([]*models.AlertHistory, error) {
	var histories []*models.AlertHistory
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert history: %w", err)
		}
		histories = append(histories, h)
	}
	return histories, nil
}

func scanHistory(row scanner) (*models.AlertHistory, error) {
	h := &models.AlertHistory{}
	var alertID sql.NullString
	var sourceTime, triggeredAt int64

	err := row.Scan(&h.ID, &h.SystemID, &alertID, &h.RuleName, &h.Severity, &h.Message,
		&sourceTime, &triggeredAt)
	if err != nil {
		return nil, err
	}

	h.AlertRuleID = alertID.String
	h.SourceTime = fromNanos(sourceTime)
	h.TriggeredAt = fromNanos(triggeredAt)
	return h, nil
}
