package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/good-yellow-bee/lynx/internal/aggregator"
	"github.com/good-yellow-bee/lynx/internal/alerting"
	"github.com/good-yellow-bee/lynx/internal/api/alerts"
	"github.com/good-yellow-bee/lynx/internal/api/auth"
	"github.com/good-yellow-bee/lynx/internal/api/health"
	"github.com/good-yellow-bee/lynx/internal/ingest"
	"github.com/good-yellow-bee/lynx/internal/models"
	"github.com/good-yellow-bee/lynx/internal/notifier"
	"github.com/good-yellow-bee/lynx/internal/storage"
)

var testSecret = []byte("test-jwt-secret-32-bytes-long!!")

type stubSender struct {
	mu   sync.Mutex
	sent []*notifier.Message
	err  error
}

func (s *stubSender) Send(ctx context.Context, n *models.Notifier, msg *notifier.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return s.err
}

type testEnv struct {
	server *httptest.Server
	store  *storage.SQLiteStorage
	sender *stubSender
	tokens *auth.JWTService
}

func setupAPI(t *testing.T) *testEnv {
	t.Helper()

	store := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "api.db"))
	if err := store.Open(); err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate storage: %v", err)
	}

	engine := alerting.NewEngine(store, store, nil, alerting.DefaultEngineOptions())
	sender := &stubSender{}
	srv, err := New(&Config{JWTSecret: testSecret}, Deps{
		Storage:    store,
		Aggregator: aggregator.New(store.Metrics(), store.Disks()),
		Ingest:     ingest.NewService(store.Systems(), store, engine, false),
		Rules:      engine,
		Sender:     sender,
	})
	if err != nil {
		t.Fatalf("create server: %v", err)
	}
	srv.RegisterHealthChecker(health.NewSQLiteChecker(store.DB()))
	t.Cleanup(func() {
		srv.userLimiter.Close()
		srv.ingestLimiter.Close()
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{
		server: ts,
		store:  store,
		sender: sender,
		tokens: auth.NewJWTService(testSecret, time.Hour),
	}
}

// do sends a JSON request as user (no token when user is empty) and decodes
// the "data" member of the response into out.
func (e *testEnv) do(t *testing.T, method, path, user string, body any, out any) int {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, e.server.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		token, err := e.tokens.GenerateToken(user)
		if err != nil {
			t.Fatalf("token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		envelope := struct {
			Data json.RawMessage `json:"data"`
		}{}
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			t.Fatalf("decode data %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func TestAuthRequired(t *testing.T) {
	env := setupAPI(t)

	for _, path := range []string{"/api/v1/systems", "/api/v1/alerts", "/api/v1/notifiers"} {
		if code := env.do(t, http.MethodGet, path, "", nil, nil); code != http.StatusUnauthorized {
			t.Errorf("GET %s without token = %d, want 401", path, code)
		}
	}
	if code := env.do(t, http.MethodGet, "/health/ready", "", nil, nil); code != http.StatusOK {
		t.Errorf("ready = %d, want 200", code)
	}
	if code := env.do(t, http.MethodGet, "/nope", "", nil, nil); code != http.StatusNotFound {
		t.Errorf("unknown route = %d, want 404", code)
	}
}

func TestSystemsCRUD(t *testing.T) {
	env := setupAPI(t)

	var created struct {
		ID       string `json:"id"`
		Hostname string `json:"hostname"`
		Key      string `json:"key"`
	}
	code := env.do(t, http.MethodPost, "/api/v1/systems", "u1", map[string]any{"hostname": "web-01", "label": "Web"}, &created)
	if code != http.StatusCreated {
		t.Fatalf("create = %d, want 201", code)
	}
	if created.ID == "" || created.Key == "" {
		t.Fatalf("created = %+v, want id and generated key", created)
	}

	if code := env.do(t, http.MethodPost, "/api/v1/systems", "u1", map[string]any{"label": "x"}, nil); code != http.StatusBadRequest {
		t.Errorf("create without hostname = %d, want 400", code)
	}

	var got map[string]any
	if code := env.do(t, http.MethodGet, "/api/v1/systems/"+created.ID, "u1", nil, &got); code != http.StatusOK {
		t.Fatalf("get = %d", code)
	}
	if _, leaked := got["key"]; leaked {
		t.Error("agent key exposed on GET")
	}

	active := false
	if code := env.do(t, http.MethodPut, "/api/v1/systems/"+created.ID, "u1", map[string]any{"hostname": "web-01", "label": "Web", "active": active}, &got); code != http.StatusOK {
		t.Fatalf("update = %d", code)
	}
	if got["active"] != false {
		t.Errorf("active = %v, want false", got["active"])
	}

	if code := env.do(t, http.MethodDelete, "/api/v1/systems/"+created.ID, "u1", nil, nil); code != http.StatusNoContent {
		t.Errorf("delete = %d, want 204", code)
	}
	if code := env.do(t, http.MethodGet, "/api/v1/systems/"+created.ID, "u1", nil, nil); code != http.StatusNotFound {
		t.Errorf("get deleted = %d, want 404", code)
	}
}

func TestAlertsOwnershipAndValidation(t *testing.T) {
	env := setupAPI(t)

	var rule struct {
		ID              string `json:"id"`
		ExpressionError string `json:"expression_error"`
		CooldownSeconds *int64 `json:"cooldown_seconds"`
	}
	body := map[string]any{"name": "broken", "expression": "cpu.usage >> 5", "severity": "high", "cooldown_seconds": 60}
	if code := env.do(t, http.MethodPost, "/api/v1/alerts", "alice", body, &rule); code != http.StatusCreated {
		t.Fatalf("create = %d, want 201", code)
	}
	if rule.ExpressionError == "" {
		t.Error("expected expression_error for unparseable rule")
	}
	if rule.CooldownSeconds == nil || *rule.CooldownSeconds != 60 {
		t.Errorf("cooldown_seconds = %v, want 60", rule.CooldownSeconds)
	}

	if code := env.do(t, http.MethodGet, "/api/v1/alerts/"+rule.ID, "bob", nil, nil); code != http.StatusNotFound {
		t.Errorf("foreign get = %d, want 404", code)
	}
	if code := env.do(t, http.MethodDelete, "/api/v1/alerts/"+rule.ID, "bob", nil, nil); code != http.StatusNotFound {
		t.Errorf("foreign delete = %d, want 404", code)
	}

	var list []map[string]any
	env.do(t, http.MethodGet, "/api/v1/alerts", "bob", nil, &list)
	if len(list) != 0 {
		t.Errorf("bob sees %d rules, want 0", len(list))
	}

	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing name", map[string]any{"expression": "cpu.usage > 1", "severity": "low"}},
		{"bad severity", map[string]any{"name": "x", "expression": "cpu.usage > 1", "severity": "urgent"}},
		{"empty expression", map[string]any{"name": "x", "expression": " ", "severity": "low"}},
		{"negative cooldown", map[string]any{"name": "x", "expression": "cpu.usage > 1", "severity": "low", "cooldown_seconds": -1}},
		{"window too wide", map[string]any{"name": "x", "expression": "cpu.usage > 1", "severity": "low", "window_seconds": 90000}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code := env.do(t, http.MethodPost, "/api/v1/alerts", "alice", tt.body, nil); code != http.StatusBadRequest {
				t.Errorf("create = %d, want 400", code)
			}
		})
	}
}

func TestValidateExpression(t *testing.T) {
	env := setupAPI(t)

	var ok struct {
		Valid      bool     `json:"valid"`
		Expression string   `json:"expression"`
		Fields     []string `json:"fields"`
		NeedsDisk  bool     `json:"needs_disk"`
	}
	env.do(t, http.MethodPost, "/api/v1/alerts/validate", "alice", map[string]string{"expression": "cpu.usage > 80 OR disk.usage > 90"}, &ok)
	if !ok.Valid || !ok.NeedsDisk || len(ok.Fields) != 2 {
		t.Errorf("validate = %+v", ok)
	}

	var bad struct {
		Valid bool `json:"valid"`
		Error struct {
			Clause int `json:"clause"`
		} `json:"error"`
	}
	env.do(t, http.MethodPost, "/api/v1/alerts/validate", "alice", map[string]string{"expression": "cpu.usage > 80 AND bogus > 1"}, &bad)
	if bad.Valid || bad.Error.Clause != 1 {
		t.Errorf("validate = %+v, want invalid at clause 1", bad)
	}
}

func TestNotifiers(t *testing.T) {
	env := setupAPI(t)

	if code := env.do(t, http.MethodPost, "/api/v1/notifiers", "alice", map[string]string{
		"name": "ops", "type": "email", "value": "smtp://mail.example.com:587/?to=ops@example.com",
	}, nil); code != http.StatusBadRequest {
		t.Errorf("invalid value = %d, want 400", code)
	}
	if code := env.do(t, http.MethodPost, "/api/v1/notifiers", "alice", map[string]string{
		"name": "ops", "type": "slack", "value": "discord://token@123",
	}, nil); code != http.StatusBadRequest {
		t.Errorf("type mismatch = %d, want 400", code)
	}

	var n struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	}
	if code := env.do(t, http.MethodPost, "/api/v1/notifiers", "alice", map[string]string{
		"name": "chat", "type": "discord", "value": "discord://token@123",
	}, &n); code != http.StatusCreated {
		t.Fatalf("create = %d, want 201", code)
	}

	var result struct {
		Delivered bool `json:"delivered"`
	}
	if code := env.do(t, http.MethodPost, "/api/v1/notifiers/"+n.ID+"/test", "alice", nil, &result); code != http.StatusOK || !result.Delivered {
		t.Errorf("test = %d %+v", code, result)
	}
	if len(env.sender.sent) != 1 {
		t.Errorf("sent = %d, want 1", len(env.sender.sent))
	}

	env.sender.err = errors.New("webhook down")
	if code := env.do(t, http.MethodPost, "/api/v1/notifiers/"+n.ID+"/test", "alice", nil, nil); code != http.StatusBadGateway {
		t.Errorf("failing test = %d, want 502", code)
	}

	if code := env.do(t, http.MethodPost, "/api/v1/notifiers/"+n.ID+"/test", "bob", nil, nil); code != http.StatusNotFound {
		t.Errorf("foreign test = %d, want 404", code)
	}
}

func TestIngestTriggersHistory(t *testing.T) {
	env := setupAPI(t)

	var system struct {
		ID  string `json:"id"`
		Key string `json:"key"`
	}
	env.do(t, http.MethodPost, "/api/v1/systems", "alice", map[string]any{"hostname": "db-01"}, &system)

	var rule struct {
		ID string `json:"id"`
	}
	env.do(t, http.MethodPost, "/api/v1/alerts", "alice", map[string]any{
		"name": "hot", "expression": "temp > 70", "severity": "critical", "cooldown_seconds": 300,
	}, &rule)
	if code := env.do(t, http.MethodPut, "/api/v1/alerts/"+rule.ID+"/systems/"+system.ID, "alice", nil, nil); code != http.StatusNoContent {
		t.Fatalf("attach = %d, want 204", code)
	}
	if code := env.do(t, http.MethodPut, "/api/v1/alerts/"+rule.ID+"/systems/missing", "alice", nil, nil); code != http.StatusNotFound {
		t.Errorf("attach missing system = %d, want 404", code)
	}

	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	send := func(key string, offset time.Duration) int {
		msg := map[string]any{
			"system_id":  system.ID,
			"time":       base.Add(offset),
			"cpu_usage":  10,
			"components": []map[string]any{{"label": "cpu1", "temperature": 60}, {"label": "cpu2", "temperature": 80}},
		}
		data, _ := json.Marshal(msg)
		req, _ := http.NewRequest(http.MethodPost, env.server.URL+"/api/v1/ingest/metrics", bytes.NewReader(data))
		req.Header.Set("X-Agent-Key", key)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("ingest: %v", err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if code := send("wrong", 0); code != http.StatusUnauthorized {
		t.Errorf("wrong key = %d, want 401", code)
	}
	for _, offset := range []time.Duration{0, 100 * time.Second, 301 * time.Second} {
		if code := send(system.Key, offset); code != http.StatusAccepted {
			t.Fatalf("ingest at +%s = %d, want 202", offset, code)
		}
	}

	var history struct {
		Items []struct {
			RuleName   string `json:"rule_name"`
			SourceTime string `json:"source_time"`
		} `json:"items"`
		Total   int64 `json:"total"`
		Page    int   `json:"page"`
		PerPage int   `json:"per_page"`
	}
	env.do(t, http.MethodGet, "/api/v1/systems/"+system.ID+"/history", "alice", nil, &history)
	if history.Total != 2 || history.PerPage != 50 {
		t.Fatalf("history total = %d per_page = %d, want 2 and 50", history.Total, history.PerPage)
	}
	if history.Items[0].SourceTime != base.Add(301*time.Second).Format(time.RFC3339) {
		t.Errorf("first item = %+v, want most recent first", history.Items[0])
	}

	env.do(t, http.MethodGet, "/api/v1/systems/"+system.ID+"/history?per_page=1&page=2", "alice", nil, &history)
	if len(history.Items) != 1 || history.Items[0].SourceTime != base.Format(time.RFC3339) {
		t.Errorf("page 2 = %+v", history.Items)
	}

	history.Items = nil
	env.do(t, http.MethodGet, "/api/v1/systems/"+system.ID+"/history?page=9223372036854775807", "alice", nil, &history)
	if len(history.Items) != 0 || history.Page != alerts.MaxPage {
		t.Errorf("huge page = %d with %d items, want %d and none", history.Page, len(history.Items), alerts.MaxPage)
	}

	var buckets []struct {
		Samples  int      `json:"samples"`
		CPUUsage *float64 `json:"cpu_usage"`
	}
	path := "/api/v1/systems/" + system.ID + "/metrics?range=2h&interval=3600"
	if code := env.do(t, http.MethodGet, path, "alice", nil, &buckets); code != http.StatusOK {
		t.Fatalf("metrics = %d", code)
	}
	samples := 0
	for _, b := range buckets {
		samples += b.Samples
	}
	if samples != 3 {
		t.Errorf("samples = %d, want 3", samples)
	}

	if code := env.do(t, http.MethodGet, "/api/v1/systems/"+system.ID+"/metrics?range=bogus", "alice", nil, nil); code != http.StatusBadRequest {
		t.Errorf("bad range = %d, want 400", code)
	}
	future := strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10)
	past := strconv.FormatInt(time.Now().Add(-time.Hour).Unix(), 10)
	if code := env.do(t, http.MethodGet, "/api/v1/systems/"+system.ID+"/metrics?start="+past+"&end="+future, "alice", nil, nil); code != http.StatusBadRequest {
		t.Errorf("future end = %d, want 400", code)
	}

	// Deleting the rule keeps its history.
	if code := env.do(t, http.MethodDelete, "/api/v1/alerts/"+rule.ID, "alice", nil, nil); code != http.StatusNoContent {
		t.Fatalf("delete rule = %d", code)
	}
	env.do(t, http.MethodGet, "/api/v1/systems/"+system.ID+"/history", "alice", nil, &history)
	if history.Total != 2 || history.Items[0].RuleName != "hot" {
		t.Errorf("history after delete = %+v", history)
	}
}
