package server

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/good-yellow-bee/lynx/internal/alerting"
	"github.com/good-yellow-bee/lynx/internal/ingest"
	"github.com/good-yellow-bee/lynx/internal/models"
	"github.com/good-yellow-bee/lynx/internal/storage"
)

const bufSize = 1024 * 1024

type testEnv struct {
	store  *storage.SQLiteStorage
	system *models.System
	conn   *grpc.ClientConn
}

func setupServer(t *testing.T) *testEnv {
	t.Helper()

	store := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "server.db"))
	if err := store.Open(); err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate database: %v", err)
	}

	system := models.NewSystem("web-01", "Web")
	system.ID = uuid.New().String()
	system.Key = "secret"
	if err := store.Systems().Create(context.Background(), system); err != nil {
		t.Fatalf("create system: %v", err)
	}

	engine := alerting.NewEngine(store, store, nil, alerting.DefaultEngineOptions())
	svc := ingest.NewService(store.Systems(), store, engine, false)
	srv, err := New(&Config{}, svc)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	lis := bufconn.Listen(bufSize)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx, lis)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return &testEnv{store: store, system: system, conn: conn}
}

func TestReportMetrics(t *testing.T) {
	env := setupServer(t)
	ctx := context.Background()

	rule := models.NewAlertRule("owner-1", "busy", "cpu.usage > 90", models.SeverityHigh)
	rule.ID = uuid.New().String()
	if err := env.store.Alerts().Create(ctx, rule); err != nil {
		t.Fatalf("create rule: %v", err)
	}
	if err := env.store.Alerts().AttachSystem(ctx, rule.ID, env.system.ID); err != nil {
		t.Fatalf("attach: %v", err)
	}

	cpu := 95.0
	msg := &ingest.MetricsMessage{
		SystemID: env.system.ID,
		Time:     time.Now().UTC().Truncate(time.Second),
		CPUUsage: &cpu,
	}

	client := NewClient(env.conn, "secret")
	resp, err := client.ReportMetrics(ctx, msg)
	if err != nil {
		t.Fatalf("ReportMetrics() error = %v", err)
	}
	if !resp.Accepted || resp.Triggered != 1 {
		t.Errorf("response = %+v, want accepted with 1 trigger", resp)
	}

	history, total, err := env.store.AlertHistory().ListBySystem(ctx, env.system.ID, 10, 0)
	if err != nil {
		t.Fatalf("ListBySystem() error = %v", err)
	}
	if total != 1 || len(history) != 1 {
		t.Errorf("history total = %d, want 1", total)
	}

	resp, err = client.ReportMetrics(ctx, msg)
	if err != nil {
		t.Fatalf("replay ReportMetrics() error = %v", err)
	}
	if resp.Triggered != 0 || resp.Suppressed != 1 {
		t.Errorf("replay response = %+v, want suppressed", resp)
	}
}

func TestReportDisk(t *testing.T) {
	env := setupServer(t)

	space, used := int64(1000), int64(420)
	msg := &ingest.DiskMessage{
		SystemID:   env.system.ID,
		Time:       time.Now().UTC(),
		MountPoint: "/",
		Space:      &space,
		Used:       &used,
	}
	resp, err := NewClient(env.conn, "secret").ReportDisk(context.Background(), msg)
	if err != nil {
		t.Fatalf("ReportDisk() error = %v", err)
	}
	if !resp.Accepted {
		t.Errorf("Accepted = false")
	}
}

func TestReportMetricsErrors(t *testing.T) {
	env := setupServer(t)
	ctx := context.Background()

	inactive := models.NewSystem("old", "Old")
	inactive.ID = uuid.New().String()
	inactive.Active = false
	if err := env.store.Systems().Create(ctx, inactive); err != nil {
		t.Fatalf("create system: %v", err)
	}

	tests := []struct {
		name     string
		key      string
		systemID string
		time     time.Time
		want     codes.Code
	}{
		{"missing key", "", env.system.ID, time.Now(), codes.Unauthenticated},
		{"wrong key", "nope", env.system.ID, time.Now(), codes.Unauthenticated},
		{"unknown system", "secret", uuid.New().String(), time.Now(), codes.NotFound},
		{"inactive system", "", inactive.ID, time.Now(), codes.PermissionDenied},
		{"missing time", "secret", env.system.ID, time.Time{}, codes.InvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := &ingest.MetricsMessage{SystemID: tt.systemID, Time: tt.time}
			_, err := NewClient(env.conn, tt.key).ReportMetrics(ctx, msg)
			if status.Code(err) != tt.want {
				t.Errorf("code = %v, want %v (err=%v)", status.Code(err), tt.want, err)
			}
		})
	}
}

func TestJSONCodec(t *testing.T) {
	c := jsonCodec{}
	if c.Name() != "json" {
		t.Errorf("Name() = %q", c.Name())
	}

	data, err := c.Marshal(&ReportResponse{Accepted: true, Triggered: 2})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var got ReportResponse
	if err := c.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if !got.Accepted || got.Triggered != 2 {
		t.Errorf("got %+v", got)
	}
}
