package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type stubPinger struct{ err error }

func (p stubPinger) Ping(ctx context.Context) error { return p.err }

func TestReady(t *testing.T) {
	tests := []struct {
		name       string
		checkers   []Checker
		wantStatus int
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{},
		},
		{
			name: "all healthy",
			checkers: []Checker{
				NewClickHouseChecker(stubPinger{}),
				NewFuncChecker("dispatcher", func(ctx context.Context) error { return nil }),
			},
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{"clickhouse": "ok", "dispatcher": "ok"},
		},
		{
			name: "one failing",
			checkers: []Checker{
				NewClickHouseChecker(stubPinger{err: errors.New("connection refused")}),
				NewFuncChecker("dispatcher", func(ctx context.Context) error { return nil }),
			},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"clickhouse": "connection refused", "dispatcher": "ok"},
		},
		{
			name:       "unconfigured",
			checkers:   []Checker{NewSQLiteChecker(nil), NewClickHouseChecker(nil)},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"sqlite": "database not initialized", "clickhouse": "clickhouse not configured"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler()
			for _, c := range tt.checkers {
				h.RegisterChecker(c)
			}

			rec := httptest.NewRecorder()
			h.Ready(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var resp HealthResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			for name, want := range tt.wantChecks {
				if resp.Checks[name] != want {
					t.Errorf("check %s = %q, want %q", name, resp.Checks[name], want)
				}
			}
		})
	}
}

func TestLiveAndHealth(t *testing.T) {
	h := NewHandler()
	h.RegisterChecker(NewFuncChecker("broken", func(ctx context.Context) error { return errors.New("down") }))

	for path, handler := range map[string]http.HandlerFunc{"/health": h.Health, "/health/live": h.Live} {
		rec := httptest.NewRecorder()
		handler(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d, want 200", path, rec.Code)
		}
	}
}
