package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/good-yellow-bee/lynx/internal/models"
)

type sqliteAlertRepo struct {
	db *sql.DB
}

const alertColumns = `id, owner_id, name, description, expression, severity, active,
	cooldown_ns, window_ns, created_at, updated_at`

func (r *sqliteAlertRepo) Create(ctx context.Context, alert *models.AlertRule) error {
	query := `
		INSERT INTO alerts (` + alertColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		alert.ID, alert.OwnerID, alert.Name, nullString(alert.Description), alert.Expression,
		alert.Severity, boolToInt(alert.Active), nullDuration(alert.Cooldown),
		alert.Window.Nanoseconds(), alert.CreatedAt, alert.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: alert %s", ErrDuplicate, alert.ID)
	}
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (r *sqliteAlertRepo) GetByID(ctx context.Context, id string) (*models.AlertRule, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE id = ?`
	alert, err := scanAlert(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan alert: %w", err)
	}
	return alert, nil
}

func (r *sqliteAlertRepo) Update(ctx context.Context, alert *models.AlertRule) error {
	query := `
		UPDATE alerts SET name = ?, description = ?, expression = ?, severity = ?,
			active = ?, cooldown_ns = ?, window_ns = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		alert.Name, nullString(alert.Description), alert.Expression, alert.Severity,
		boolToInt(alert.Active), nullDuration(alert.Cooldown), alert.Window.Nanoseconds(),
		alert.UpdatedAt, alert.ID,
	)
	if err != nil {
		return fmt.Errorf("update alert: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: alert %s", ErrNotFound, alert.ID)
	}
	return nil
}

// Delete removes the rule and its links. History rows keep their copy of
// the rule name and lose the reference.
func (r *sqliteAlertRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM alerts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete alert: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: alert %s", ErrNotFound, id)
	}
	return nil
}

func (r *sqliteAlertRepo) ListByOwner(ctx context.Context, ownerID string) ([]*models.AlertRule, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE owner_id = ? ORDER BY name, id`
	return r.queryAlerts(ctx, query, ownerID)
}

func (r *sqliteAlertRepo) ListActiveForSystem(ctx context.Context, systemID string) ([]*models.AlertRule, error) {
	query := `
		SELECT a.id, a.owner_id, a.name, a.description, a.expression, a.severity, a.active,
			a.cooldown_ns, a.window_ns, a.created_at, a.updated_at
		FROM alerts a
		JOIN alert_systems s ON s.alert_id = a.id
		WHERE s.system_id = ? AND a.active = 1
		ORDER BY a.name, a.id
	`
	return r.queryAlerts(ctx, query, systemID)
}

func (r *sqliteAlertRepo) ListMonitoredSystems(ctx context.Context) ([]string, error) {
	query := `
		SELECT DISTINCT s.system_id
		FROM alert_systems s
		JOIN alerts a ON a.id = s.alert_id
		WHERE a.active = 1
		ORDER BY s.system_id
	`
	return r.queryIDs(ctx, query)
}

func (r *sqliteAlertRepo) AttachSystem(ctx context.Context, alertID, systemID string) error {
	return r.link(ctx, "INSERT OR IGNORE INTO alert_systems (alert_id, system_id) VALUES (?, ?)", alertID, systemID)
}

func (r *sqliteAlertRepo) DetachSystem(ctx context.Context, alertID, systemID string) error {
	return r.unlink(ctx, "DELETE FROM alert_systems WHERE alert_id = ? AND system_id = ?", alertID, systemID)
}

func (r *sqliteAlertRepo) ListSystems(ctx context.Context, alertID string) ([]string, error) {
	return r.queryIDs(ctx, "SELECT system_id FROM alert_systems WHERE alert_id = ? ORDER BY system_id", alertID)
}

func (r *sqliteAlertRepo) AttachNotifier(ctx context.Context, alertID, notifierID string) error {
	return r.link(ctx, "INSERT OR IGNORE INTO alert_notifiers (alert_id, notifier_id) VALUES (?, ?)", alertID, notifierID)
}

func (r *sqliteAlertRepo) DetachNotifier(ctx context.Context, alertID, notifierID string) error {
	return r.unlink(ctx, "DELETE FROM alert_notifiers WHERE alert_id = ? AND notifier_id = ?", alertID, notifierID)
}

func (r *sqliteAlertRepo) ListNotifiers(ctx context.Context, alertID string) ([]*models.Notifier, error) {
	query := `
		SELECT n.id, n.owner_id, n.name, n.type, n.value, n.created_at, n.updated_at
		FROM notifiers n
		JOIN alert_notifiers an ON an.notifier_id = n.id
		WHERE an.alert_id = ?
		ORDER BY n.name, n.id
	`
	rows, err := r.db.QueryContext(ctx, query, alertID)
	if err != nil {
		return nil, fmt.Errorf("query alert notifiers: %w", err)
	}
	defer rows.Close()
	return scanNotifiers(rows)
}

func (r *sqliteAlertRepo) link(ctx context.Context, query, alertID, otherID string) error {
	_, err := r.db.ExecContext(ctx, query, alertID, otherID)
	if isForeignKeyViolation(err) {
		return fmt.Errorf("%w: alert %s or %s", ErrNotFound, alertID, otherID)
	}
	if err != nil {
		return fmt.Errorf("link alert: %w", err)
	}
	return nil
}

func (r *sqliteAlertRepo) unlink(ctx context.Context, query, alertID, otherID string) error {
	result, err := r.db.ExecContext(ctx, query, alertID, otherID)
	if err != nil {
		return fmt.Errorf("unlink alert: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: link %s -> %s", ErrNotFound, alertID, otherID)
	}
	return nil
}

func (r *sqliteAlertRepo) queryAlerts(ctx context.Context, query string, args ...interface{}) ([]*models.AlertRule, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*models.AlertRule
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

func (r *sqliteAlertRepo) queryIDs(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanAlert(row scanner) (*models.AlertRule, error) {
	alert := &models.AlertRule{}
	var description sql.NullString
	var cooldownNS sql.NullInt64
	var windowNS int64
	var active int

	err := row.Scan(
		&alert.ID, &alert.OwnerID, &alert.Name, &description, &alert.Expression, &alert.Severity,
		&active, &cooldownNS, &windowNS, &alert.CreatedAt, &alert.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	alert.Description = description.String
	alert.Active = active != 0
	if cooldownNS.Valid {
		d := time.Duration(cooldownNS.Int64)
		alert.Cooldown = &d
	}
	alert.Window = time.Duration(windowNS)
	return alert, nil
}

func nullDuration(d *time.Duration) sql.NullInt64 {
	if d == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: d.Nanoseconds(), Valid: true}
}
