package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a database migration.
type Migration struct {
	Version int
	Name    string
	Up      string
}

// migrations holds all database migrations in order.
var migrations = []Migration{
	{
		Version: 1,
		Name:    "initial_schema",
		Up: `
			-- Monitored systems with write-through latest status
			CREATE TABLE IF NOT EXISTS systems (
				id TEXT PRIMARY KEY,
				hostname TEXT NOT NULL,
				label TEXT,
				address TEXT,
				agent_key TEXT,
				active INTEGER NOT NULL DEFAULT 1,
				last_seen INTEGER,
				cpu_usage REAL,
				memory_used_kb INTEGER,
				memory_total_kb INTEGER,
				uptime INTEGER,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			);

			-- Metric snapshots, time in unix nanoseconds
			CREATE TABLE IF NOT EXISTS metrics (
				system_id TEXT NOT NULL,
				time INTEGER NOT NULL,
				cpu_usage REAL,
				memory_used_kb INTEGER,
				memory_total_kb INTEGER,
				load_one REAL,
				load_five REAL,
				load_fifteen REAL,
				net_in INTEGER,
				net_out INTEGER,
				uptime INTEGER,
				docker_containers_running INTEGER,
				components_json TEXT NOT NULL DEFAULT '[]',
				PRIMARY KEY (system_id, time),
				FOREIGN KEY (system_id) REFERENCES systems(id) ON DELETE CASCADE
			);

			-- Disk samples per mount point
			CREATE TABLE IF NOT EXISTS disks (
				system_id TEXT NOT NULL,
				mount_point TEXT NOT NULL,
				time INTEGER NOT NULL,
				space INTEGER,
				used INTEGER,
				read REAL,
				write REAL,
				unit TEXT,
				PRIMARY KEY (system_id, mount_point, time),
				FOREIGN KEY (system_id) REFERENCES systems(id) ON DELETE CASCADE
			);

			-- Alert rules
			CREATE TABLE IF NOT EXISTS alerts (
				id TEXT PRIMARY KEY,
				owner_id TEXT NOT NULL,
				name TEXT NOT NULL,
				description TEXT,
				expression TEXT NOT NULL,
				severity TEXT NOT NULL,
				active INTEGER NOT NULL DEFAULT 1,
				cooldown_ns INTEGER,
				window_ns INTEGER NOT NULL DEFAULT 0,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			);

			-- Notification destinations
			CREATE TABLE IF NOT EXISTS notifiers (
				id TEXT PRIMARY KEY,
				owner_id TEXT NOT NULL,
				name TEXT NOT NULL,
				type TEXT NOT NULL,
				value TEXT NOT NULL,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			);

			-- Rule <-> system links
			CREATE TABLE IF NOT EXISTS alert_systems (
				alert_id TEXT NOT NULL,
				system_id TEXT NOT NULL,
				PRIMARY KEY (alert_id, system_id),
				FOREIGN KEY (alert_id) REFERENCES alerts(id) ON DELETE CASCADE,
				FOREIGN KEY (system_id) REFERENCES systems(id) ON DELETE CASCADE
			);

			-- Rule <-> notifier links
			CREATE TABLE IF NOT EXISTS alert_notifiers (
				alert_id TEXT NOT NULL,
				notifier_id TEXT NOT NULL,
				PRIMARY KEY (alert_id, notifier_id),
				FOREIGN KEY (alert_id) REFERENCES alerts(id) ON DELETE CASCADE,
				FOREIGN KEY (notifier_id) REFERENCES notifiers(id) ON DELETE CASCADE
			);

			-- Alert history outlives the rule that produced it
			CREATE TABLE IF NOT EXISTS alert_history (
				id TEXT PRIMARY KEY,
				system_id TEXT NOT NULL,
				alert_id TEXT,
				rule_name TEXT NOT NULL,
				severity TEXT NOT NULL,
				message TEXT NOT NULL,
				source_time INTEGER NOT NULL,
				triggered_at INTEGER NOT NULL,
				FOREIGN KEY (system_id) REFERENCES systems(id) ON DELETE CASCADE,
				FOREIGN KEY (alert_id) REFERENCES alerts(id) ON DELETE SET NULL
			);

			-- Indexes
			CREATE INDEX IF NOT EXISTS idx_metrics_time ON metrics(time);
			CREATE INDEX IF NOT EXISTS idx_disks_time ON disks(time);
			CREATE INDEX IF NOT EXISTS idx_alerts_owner ON alerts(owner_id);
			CREATE INDEX IF NOT EXISTS idx_notifiers_owner ON notifiers(owner_id);
			CREATE INDEX IF NOT EXISTS idx_alert_systems_system ON alert_systems(system_id);
			CREATE UNIQUE INDEX IF NOT EXISTS idx_alert_history_source
				ON alert_history(alert_id, system_id, source_time);
			CREATE INDEX IF NOT EXISTS idx_alert_history_system
				ON alert_history(system_id, source_time);
		`,
	},
}

// runMigrations applies all pending migrations.
func runMigrations(db *sql.DB) error {
	// Create migrations table if not exists
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	// Get current version
	var currentVersion int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	// Apply pending migrations
	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}

		// Run migration in transaction
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction for migration %d: %w", m.Version, err)
		}

		_, err = tx.Exec(m.Up)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d (%s): %w", m.Version, m.Name, err)
		}

		_, err = tx.Exec(
			"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Name, time.Now(),
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}
