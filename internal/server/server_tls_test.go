package server

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/good-yellow-bee/lynx/internal/ingest"
	"github.com/good-yellow-bee/lynx/internal/models"
	"github.com/good-yellow-bee/lynx/internal/security"
	"github.com/good-yellow-bee/lynx/internal/storage"
)

// startTLSServer serves a store with one "web-01" system over mTLS on a
// loopback port and returns its address and the CA directory.
func startTLSServer(t *testing.T) (addr, certDir, systemID string) {
	t.Helper()

	certDir = t.TempDir()
	if err := security.GenerateCA(certDir, 1); err != nil {
		t.Fatalf("GenerateCA() error = %v", err)
	}
	if err := security.IssueCert(certDir, "server", certDir, security.ServerCert, 1, nil); err != nil {
		t.Fatalf("IssueCert(server) error = %v", err)
	}
	if err := security.IssueCert(certDir, "agent", certDir, security.AgentCert, 1, nil); err != nil {
		t.Fatalf("IssueCert(agent) error = %v", err)
	}

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

	srv, err := New(&Config{
		TLS: &security.ServerTLSConfig{
			CertFile:     filepath.Join(certDir, "server.crt"),
			KeyFile:      filepath.Join(certDir, "server.key"),
			ClientCAFile: filepath.Join(certDir, "ca.crt"),
		},
	}, ingest.NewService(store.Systems(), store, nil, false))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx, listener)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return listener.Addr().String(), certDir, system.ID
}

func reportOver(t *testing.T, addr string, opt grpc.DialOption, systemID string) error {
	t.Helper()

	conn, err := grpc.NewClient("passthrough:///"+addr, opt)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cpu := 12.5
	_, err = NewClient(conn, "secret").ReportMetrics(ctx, &ingest.MetricsMessage{
		SystemID: systemID,
		Time:     time.Now().UTC(),
		CPUUsage: &cpu,
	})
	return err
}

func TestServerMutualTLS(t *testing.T) {
	addr, certDir, systemID := startTLSServer(t)

	creds, err := security.LoadClientTLS(&security.ClientTLSConfig{
		CertFile: filepath.Join(certDir, "agent.crt"),
		KeyFile:  filepath.Join(certDir, "agent.key"),
		CAFile:   filepath.Join(certDir, "ca.crt"),
	})
	if err != nil {
		t.Fatalf("LoadClientTLS() error = %v", err)
	}

	if err := reportOver(t, addr, grpc.WithTransportCredentials(creds), systemID); err != nil {
		t.Fatalf("ReportMetrics over mTLS error = %v", err)
	}
}

func TestServerRejectsUntrustedClients(t *testing.T) {
	addr, certDir, systemID := startTLSServer(t)

	otherCA := t.TempDir()
	if err := security.GenerateCA(otherCA, 1); err != nil {
		t.Fatalf("GenerateCA(other) error = %v", err)
	}
	if err := security.IssueCert(otherCA, "rogue", otherCA, security.AgentCert, 1, nil); err != nil {
		t.Fatalf("IssueCert(rogue) error = %v", err)
	}
	rogue, err := security.LoadClientTLS(&security.ClientTLSConfig{
		CertFile: filepath.Join(otherCA, "rogue.crt"),
		KeyFile:  filepath.Join(otherCA, "rogue.key"),
		CAFile:   filepath.Join(certDir, "ca.crt"),
	})
	if err != nil {
		t.Fatalf("LoadClientTLS() error = %v", err)
	}

	tests := []struct {
		name string
		opt  grpc.DialOption
	}{
		{"plaintext", grpc.WithTransportCredentials(insecure.NewCredentials())},
		{"certificate from another CA", grpc.WithTransportCredentials(rogue)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := reportOver(t, addr, tt.opt, systemID); err == nil {
				t.Error("expected the connection to be rejected")
			}
		})
	}
}

func TestNewRejectsMissingCertificates(t *testing.T) {
	dir := t.TempDir()
	_, err := New(&Config{
		TLS: &security.ServerTLSConfig{
			CertFile:     filepath.Join(dir, "server.crt"),
			KeyFile:      filepath.Join(dir, "server.key"),
			ClientCAFile: filepath.Join(dir, "ca.crt"),
		},
	}, nil)
	if err == nil {
		t.Error("expected error for missing certificate files")
	}
}
