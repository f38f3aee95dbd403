package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/lynx/internal/models"
)

func setupTestDB(t *testing.T) (*SQLiteStorage, func()) {
	t.Helper()

	// Create temp directory for test database
	tmpDir, err := os.MkdirTemp("", "lynx-test-*")
	if err != nil {
		t.Fatalf("create temp dir: %v", err)
	}

	store := NewSQLiteStorage(filepath.Join(tmpDir, "test.db"))
	if err := store.Open(); err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("open database: %v", err)
	}

	if err := store.Migrate(); err != nil {
		store.Close()
		os.RemoveAll(tmpDir)
		t.Fatalf("migrate database: %v", err)
	}

	cleanup := func() {
		store.Close()
		os.RemoveAll(tmpDir)
	}

	return store, cleanup
}

func createTestSystem(t *testing.T, store *SQLiteStorage) *models.System {
	t.Helper()

	system := models.NewSystem("web-1", "Web 1")
	system.ID = uuid.New().String()
	system.Key = "secret"
	if err := store.Systems().Create(context.Background(), system); err != nil {
		t.Fatalf("create system: %v", err)
	}
	return system
}

func createTestAlert(t *testing.T, store *SQLiteStorage, expression string) *models.AlertRule {
	t.Helper()

	alert := models.NewAlertRule("owner-1", "high cpu", expression, models.SeverityHigh)
	alert.ID = uuid.New().String()
	if err := store.Alerts().Create(context.Background(), alert); err != nil {
		t.Fatalf("create alert: %v", err)
	}
	return alert
}

func f64(v float64) *float64 { return &v }
func i64(v int64) *int64     { return &v }

func TestSQLiteStorage_Migrate(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	// Verify tables exist by querying them
	tables := []string{
		"systems", "metrics", "disks", "alerts", "notifiers",
		"alert_systems", "alert_notifiers", "alert_history", "schema_migrations",
	}
	for _, table := range tables {
		var count int
		err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count)
		if err != nil {
			t.Errorf("table %s should exist: %v", table, err)
		}
	}

	// Running migrations twice is a no-op
	if err := store.Migrate(); err != nil {
		t.Errorf("second migrate: %v", err)
	}
}

func TestSystemRepository_CRUD(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	system := createTestSystem(t, store)

	got, err := store.Systems().GetByID(ctx, system.ID)
	if err != nil {
		t.Fatalf("get system: %v", err)
	}
	if got == nil {
		t.Fatal("system should exist")
	}
	if got.Hostname != "web-1" || got.Key != "secret" || !got.Active {
		t.Errorf("unexpected system: %+v", got)
	}
	if got.LastSeen != nil {
		t.Error("new system should not have been seen")
	}

	system.Label = "Web One"
	system.Active = false
	if err := store.Systems().Update(ctx, system); err != nil {
		t.Fatalf("update system: %v", err)
	}
	got, _ = store.Systems().GetByID(ctx, system.ID)
	if got.Label != "Web One" || got.Active {
		t.Errorf("update not applied: %+v", got)
	}

	list, err := store.Systems().List(ctx)
	if err != nil {
		t.Fatalf("list systems: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("systems count = %d, want 1", len(list))
	}

	if err := store.Systems().Delete(ctx, system.ID); err != nil {
		t.Fatalf("delete system: %v", err)
	}
	got, err = store.Systems().GetByID(ctx, system.ID)
	if err != nil || got != nil {
		t.Errorf("deleted system lookup = %v, %v; want nil, nil", got, err)
	}

	if err := store.Systems().Delete(ctx, system.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("delete missing system error = %v, want ErrNotFound", err)
	}
}

func TestMetricRepository_InsertWritesThroughStatus(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	system := createTestSystem(t, store)
	ts := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	snap := &models.MetricSnapshot{
		SystemID:      system.ID,
		Time:          ts,
		CPUUsage:      f64(42.5),
		MemoryUsedKB:  i64(512),
		MemoryTotalKB: i64(1024),
		Uptime:        i64(3600),
		Components:    []models.Component{{Label: "cpu0", Temperature: 55}},
	}
	if err := store.Metrics().Insert(ctx, snap); err != nil {
		t.Fatalf("insert metric: %v", err)
	}

	got, err := store.Systems().GetByID(ctx, system.ID)
	if err != nil {
		t.Fatalf("get system: %v", err)
	}
	if got.LastSeen == nil || !got.LastSeen.Equal(ts) {
		t.Errorf("last seen = %v, want %v", got.LastSeen, ts)
	}
	if got.CPUUsage == nil || *got.CPUUsage != 42.5 {
		t.Errorf("cpu usage = %v, want 42.5", got.CPUUsage)
	}

	// An older snapshot does not move the status backwards
	older := &models.MetricSnapshot{SystemID: system.ID, Time: ts.Add(-time.Minute), CPUUsage: f64(1)}
	if err := store.Metrics().Insert(ctx, older); err != nil {
		t.Fatalf("insert older metric: %v", err)
	}
	got, _ = store.Systems().GetByID(ctx, system.ID)
	if *got.CPUUsage != 42.5 {
		t.Errorf("status regressed to cpu %v", *got.CPUUsage)
	}

	latest, err := store.Metrics().Latest(ctx, system.ID)
	if err != nil {
		t.Fatalf("latest metric: %v", err)
	}
	if !latest.Time.Equal(ts) || len(latest.Components) != 1 || latest.LoadOne != nil {
		t.Errorf("unexpected latest metric: %+v", latest)
	}

	// Replaying the same snapshot is absorbed
	if err := store.Metrics().Insert(ctx, snap); err != nil {
		t.Errorf("replay metric: %v", err)
	}
}

func TestMetricRepository_InsertUnknownSystem(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	err := store.Metrics().Insert(context.Background(), &models.MetricSnapshot{SystemID: "missing", Time: time.Now()})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("insert error = %v, want ErrNotFound", err)
	}
}

func TestMetricRepository_RangeInclusive(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	system := createTestSystem(t, store)
	base := time.Unix(1_700_000_000, 0).UTC()
	for i := 0; i < 5; i++ {
		snap := &models.MetricSnapshot{SystemID: system.ID, Time: base.Add(time.Duration(i) * time.Second), CPUUsage: f64(float64(i))}
		if err := store.Metrics().Insert(ctx, snap); err != nil {
			t.Fatalf("insert metric: %v", err)
		}
	}

	rows, err := store.Metrics().Range(ctx, system.ID, base.Add(time.Second), base.Add(3*time.Second))
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	if *rows[0].CPUUsage != 1 || *rows[2].CPUUsage != 3 {
		t.Errorf("unexpected rows ordering: %v, %v", *rows[0].CPUUsage, *rows[2].CPUUsage)
	}

	deleted, err := store.Metrics().DeleteBefore(ctx, base.Add(2*time.Second))
	if err != nil {
		t.Fatalf("delete before: %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}
}

func TestDiskRepository_InsertAdvancesLastSeen(t *testing.T) {
	base := time.Unix(1_700_000_000, 0).UTC()

	tests := []struct {
		name     string
		metricAt time.Time
		diskAt   time.Time
		want     time.Time
	}{
		{"disk only", time.Time{}, base, base},
		{"disk newer than metric", base, base.Add(time.Minute), base.Add(time.Minute)},
		{"disk older than metric", base, base.Add(-time.Minute), base},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, cleanup := setupTestDB(t)
			defer cleanup()
			ctx := context.Background()
			system := createTestSystem(t, store)

			if !tt.metricAt.IsZero() {
				snap := &models.MetricSnapshot{SystemID: system.ID, Time: tt.metricAt, CPUUsage: f64(12)}
				if err := store.Metrics().Insert(ctx, snap); err != nil {
					t.Fatalf("insert metric: %v", err)
				}
			}
			disk := &models.DiskSample{SystemID: system.ID, MountPoint: "/", Time: tt.diskAt, Space: i64(100), Used: i64(10)}
			if err := store.Disks().Insert(ctx, disk); err != nil {
				t.Fatalf("insert disk: %v", err)
			}

			got, err := store.Systems().GetByID(ctx, system.ID)
			if err != nil {
				t.Fatalf("get system: %v", err)
			}
			if got.LastSeen == nil || !got.LastSeen.Equal(tt.want) {
				t.Errorf("last seen = %v, want %v", got.LastSeen, tt.want)
			}
			if !tt.metricAt.IsZero() && (got.CPUUsage == nil || *got.CPUUsage != 12) {
				t.Errorf("cpu usage = %v, want 12", got.CPUUsage)
			}
		})
	}
}

func TestDiskRepository(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	system := createTestSystem(t, store)
	ts := time.Unix(1_700_000_000, 0).UTC()

	samples := []*models.DiskSample{
		{SystemID: system.ID, MountPoint: "/", Time: ts, Space: i64(100), Used: i64(40), Unit: "GB"},
		{SystemID: system.ID, MountPoint: "/data", Time: ts, Space: i64(100), Used: i64(90)},
		{SystemID: system.ID, MountPoint: "/", Time: ts.Add(time.Second), Space: i64(100), Used: i64(41)},
	}
	for _, d := range samples {
		if err := store.Disks().Insert(ctx, d); err != nil {
			t.Fatalf("insert disk: %v", err)
		}
	}

	root, err := store.Disks().Latest(ctx, system.ID, models.RootMountPoint)
	if err != nil {
		t.Fatalf("latest disk: %v", err)
	}
	if root == nil || *root.Used != 41 {
		t.Errorf("latest root disk = %+v", root)
	}

	all, err := store.Disks().Range(ctx, system.ID, "", ts, ts.Add(time.Second))
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("all mounts = %d, want 3", len(all))
	}

	data, _ := store.Disks().Range(ctx, system.ID, "/data", ts, ts.Add(time.Second))
	if len(data) != 1 {
		t.Errorf("/data rows = %d, want 1", len(data))
	}
}

func TestAlertRepository_CRUD(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	alert := createTestAlert(t, store, "cpu.usage > 90")
	cooldown := 5 * time.Minute
	alert.Cooldown = &cooldown
	alert.Window = time.Minute
	alert.Description = "Updated description"
	alert.UpdatedAt = time.Now()
	if err := store.Alerts().Update(ctx, alert); err != nil {
		t.Fatalf("update alert: %v", err)
	}

	got, err := store.Alerts().GetByID(ctx, alert.ID)
	if err != nil {
		t.Fatalf("get alert by id: %v", err)
	}
	if got == nil {
		t.Fatal("alert should exist")
	}
	if got.Cooldown == nil || *got.Cooldown != cooldown {
		t.Errorf("cooldown = %v, want %v", got.Cooldown, cooldown)
	}
	if got.Window != time.Minute || got.Description != "Updated description" {
		t.Errorf("unexpected alert: %+v", got)
	}

	// Nil cooldown round-trips as nil
	alert.Cooldown = nil
	if err := store.Alerts().Update(ctx, alert); err != nil {
		t.Fatalf("update alert: %v", err)
	}
	got, _ = store.Alerts().GetByID(ctx, alert.ID)
	if got.Cooldown != nil {
		t.Errorf("cooldown = %v, want nil", *got.Cooldown)
	}

	owned, err := store.Alerts().ListByOwner(ctx, "owner-1")
	if err != nil {
		t.Fatalf("list by owner: %v", err)
	}
	if len(owned) != 1 {
		t.Errorf("owned alerts = %d, want 1", len(owned))
	}
	other, _ := store.Alerts().ListByOwner(ctx, "owner-2")
	if len(other) != 0 {
		t.Errorf("other owner alerts = %d, want 0", len(other))
	}

	if err := store.Alerts().Delete(ctx, alert.ID); err != nil {
		t.Fatalf("delete alert: %v", err)
	}
	if err := store.Alerts().Update(ctx, alert); !errors.Is(err, ErrNotFound) {
		t.Errorf("update deleted alert error = %v, want ErrNotFound", err)
	}
}

func TestAlertRepository_Links(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	system := createTestSystem(t, store)
	alert := createTestAlert(t, store, "cpu.usage > 90")
	inactive := createTestAlert(t, store, "cpu.usage > 50")
	inactive.Active = false
	if err := store.Alerts().Update(ctx, inactive); err != nil {
		t.Fatalf("deactivate alert: %v", err)
	}

	n := &models.Notifier{
		ID: uuid.New().String(), OwnerID: "owner-1", Name: "ops", Type: models.NotifierSlack,
		Value: "slack://T/B/C", CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	if err := store.Notifiers().Create(ctx, n); err != nil {
		t.Fatalf("create notifier: %v", err)
	}

	for _, id := range []string{alert.ID, inactive.ID} {
		if err := store.Alerts().AttachSystem(ctx, id, system.ID); err != nil {
			t.Fatalf("attach system: %v", err)
		}
	}
	// Attaching twice is idempotent
	if err := store.Alerts().AttachSystem(ctx, alert.ID, system.ID); err != nil {
		t.Errorf("re-attach system: %v", err)
	}
	if err := store.Alerts().AttachNotifier(ctx, alert.ID, n.ID); err != nil {
		t.Fatalf("attach notifier: %v", err)
	}
	if err := store.Alerts().AttachSystem(ctx, alert.ID, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("attach missing system error = %v, want ErrNotFound", err)
	}

	active, err := store.Alerts().ListActiveForSystem(ctx, system.ID)
	if err != nil {
		t.Fatalf("list active for system: %v", err)
	}
	if len(active) != 1 || active[0].ID != alert.ID {
		t.Errorf("active rules = %+v, want only %s", active, alert.ID)
	}

	monitored, err := store.Alerts().ListMonitoredSystems(ctx)
	if err != nil {
		t.Fatalf("list monitored systems: %v", err)
	}
	if len(monitored) != 1 || monitored[0] != system.ID {
		t.Errorf("monitored = %v, want [%s]", monitored, system.ID)
	}

	notifiers, err := store.Alerts().ListNotifiers(ctx, alert.ID)
	if err != nil {
		t.Fatalf("list notifiers: %v", err)
	}
	if len(notifiers) != 1 || notifiers[0].Value != "slack://T/B/C" {
		t.Errorf("notifiers = %+v", notifiers)
	}

	if err := store.Alerts().DetachNotifier(ctx, alert.ID, n.ID); err != nil {
		t.Fatalf("detach notifier: %v", err)
	}
	if err := store.Alerts().DetachNotifier(ctx, alert.ID, n.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("detach missing link error = %v, want ErrNotFound", err)
	}

	// Deleting the rule removes its links
	if err := store.Alerts().Delete(ctx, alert.ID); err != nil {
		t.Fatalf("delete alert: %v", err)
	}
	systems, _ := store.Alerts().ListSystems(ctx, alert.ID)
	if len(systems) != 0 {
		t.Errorf("links survived rule deletion: %v", systems)
	}
}

func TestNotifierRepository_CRUD(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	n := &models.Notifier{
		ID: uuid.New().String(), OwnerID: "owner-1", Name: "mail", Type: models.NotifierEmail,
		Value: "smtp://u:p@mail.example.com:587?from=a@example.com&to=b@example.com",
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	if err := store.Notifiers().Create(ctx, n); err != nil {
		t.Fatalf("create notifier: %v", err)
	}

	got, err := store.Notifiers().GetByID(ctx, n.ID)
	if err != nil || got == nil {
		t.Fatalf("get notifier: %v, %v", got, err)
	}
	if got.Value != n.Value || got.Type != models.NotifierEmail {
		t.Errorf("unexpected notifier: %+v", got)
	}

	n.Name = "mail-2"
	if err := store.Notifiers().Update(ctx, n); err != nil {
		t.Fatalf("update notifier: %v", err)
	}

	list, err := store.Notifiers().ListByOwner(ctx, "owner-1")
	if err != nil {
		t.Fatalf("list notifiers: %v", err)
	}
	if len(list) != 1 || list[0].Name != "mail-2" {
		t.Errorf("notifiers = %+v", list)
	}

	if err := store.Notifiers().Delete(ctx, n.ID); err != nil {
		t.Fatalf("delete notifier: %v", err)
	}
	if err := store.Notifiers().Delete(ctx, n.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("delete missing notifier error = %v, want ErrNotFound", err)
	}
}

func TestAlertHistoryRepository(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	system := createTestSystem(t, store)
	alert := createTestAlert(t, store, "cpu.usage > 90")
	base := time.Unix(1_700_000_000, 0).UTC()

	for i := 0; i < 3; i++ {
		h := &models.AlertHistory{
			ID:          uuid.New().String(),
			SystemID:    system.ID,
			AlertRuleID: alert.ID,
			RuleName:    alert.Name,
			Severity:    alert.Severity,
			Message:     "cpu high",
			SourceTime:  base.Add(time.Duration(i) * time.Minute),
			TriggeredAt: base.Add(time.Duration(i) * time.Minute),
		}
		inserted, err := store.AlertHistory().Create(ctx, h)
		if err != nil {
			t.Fatalf("create history: %v", err)
		}
		if !inserted {
			t.Fatalf("history %d should be inserted", i)
		}
	}

	// Same rule, system and source time is rejected silently
	dup := &models.AlertHistory{
		ID: uuid.New().String(), SystemID: system.ID, AlertRuleID: alert.ID,
		RuleName: alert.Name, Severity: alert.Severity, Message: "dup",
		SourceTime: base, TriggeredAt: base.Add(time.Hour),
	}
	inserted, err := store.AlertHistory().Create(ctx, dup)
	if err != nil {
		t.Fatalf("create duplicate: %v", err)
	}
	if inserted {
		t.Error("duplicate history should not be inserted")
	}

	latest, err := store.AlertHistory().Latest(ctx, alert.ID, system.ID)
	if err != nil {
		t.Fatalf("latest history: %v", err)
	}
	if latest == nil || !latest.TriggeredAt.Equal(base.Add(2*time.Minute)) {
		t.Errorf("latest = %+v", latest)
	}

	page, total, err := store.AlertHistory().ListBySystem(ctx, system.ID, 2, 0)
	if err != nil {
		t.Fatalf("list by system: %v", err)
	}
	if total != 3 || len(page) != 2 {
		t.Errorf("page = %d rows of %d, want 2 of 3", len(page), total)
	}
	if !page[0].TriggeredAt.After(page[1].TriggeredAt) {
		t.Error("history should be most recent first")
	}

	// History survives rule deletion with its copied name
	if err := store.Alerts().Delete(ctx, alert.ID); err != nil {
		t.Fatalf("delete alert: %v", err)
	}
	page, total, err = store.AlertHistory().ListBySystem(ctx, system.ID, 10, 0)
	if err != nil {
		t.Fatalf("list after delete: %v", err)
	}
	if total != 3 {
		t.Errorf("history total after rule deletion = %d, want 3", total)
	}
	if page[0].AlertRuleID != "" || page[0].RuleName != "high cpu" {
		t.Errorf("history after rule deletion = %+v", page[0])
	}

	deleted, err := store.AlertHistory().DeleteBefore(ctx, base.Add(90*time.Second))
	if err != nil {
		t.Fatalf("delete before: %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}
}
