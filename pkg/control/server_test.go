package control

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/small-frappuccino/modbot/pkg/settings"
	promstats "github.com/small-frappuccino/modbot/pkg/stats/prometheus"
	"github.com/small-frappuccino/modbot/pkg/storage"
)

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func newTestServer(t *testing.T) (*Server, *settings.Store) {
	t.Helper()
	db := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "control.db"))
	if err := db.Init(); err != nil {
		t.Fatalf("init store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	registry := prometheus.NewRegistry()
	store := settings.NewStore(db, nil, settings.Options{Stats: promstats.New(registry)})
	srv := NewServer("127.0.0.1:0", store, db, registry)
	if srv == nil {
		t.Fatalf("expected server")
	}
	return srv, store
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var decoded map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, decoded
}

func TestNewServerDisabled(t *testing.T) {
	if NewServer("", &settings.Store{}, nil, nil) != nil {
		t.Fatalf("empty addr should disable the server")
	}
	if NewServer("127.0.0.1:0", nil, nil, nil) != nil {
		t.Fatalf("nil store should disable the server")
	}
	var s *Server
	if err := s.Start(); err != nil {
		t.Fatalf("nil Start: %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("nil Stop: %v", err)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	srv, store := newTestServer(t)
	h := srv.Handler()

	rec, body := do(t, h, http.MethodGet, "/v1/guilds/42/settings/moderation_log_channel", "")
	if rec.Code != http.StatusOK || body["value"] != nil {
		t.Fatalf("GET unset = %d %v", rec.Code, body)
	}

	rec, body = do(t, h, http.MethodPut, "/v1/guilds/42/settings/moderation_log_channel", `{"value":"123"}`)
	if rec.Code != http.StatusOK || body["value"] != "123" {
		t.Fatalf("PUT = %d %v", rec.Code, body)
	}
	if v, ok := store.Get(context.Background(), 42, settings.KeyModerationLogChannel); !ok || v != "123" {
		t.Fatalf("store = (%q, %v)", v, ok)
	}

	rec, body = do(t, h, http.MethodGet, "/v1/guilds/42/settings/moderation_log_channel", "")
	if rec.Code != http.StatusOK || body["value"] != "123" || body["guild"] != "42" {
		t.Fatalf("GET = %d %v", rec.Code, body)
	}

	rec, body = do(t, h, http.MethodPut, "/v1/guilds/42/settings/moderation_log_channel", `{"value":null}`)
	if rec.Code != http.StatusOK || body["value"] != nil {
		t.Fatalf("PUT null = %d %v", rec.Code, body)
	}
	if _, ok := store.Get(context.Background(), 42, settings.KeyModerationLogChannel); ok {
		t.Fatalf("setting should be disabled")
	}
}

func TestSettingsRejectsBadRequests(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"bad guild", http.MethodGet, "/v1/guilds/abc/settings/flooder_role", "", http.StatusBadRequest},
		{"unknown key", http.MethodGet, "/v1/guilds/1/settings/nope", "", http.StatusNotFound},
		{"invalid json", http.MethodPut, "/v1/guilds/1/settings/flooder_role", `{`, http.StatusBadRequest},
		{"missing value", http.MethodPut, "/v1/guilds/1/settings/flooder_role", `{}`, http.StatusBadRequest},
		{"extra field", http.MethodPut, "/v1/guilds/1/settings/flooder_role", `{"value":"1","x":1}`, http.StatusBadRequest},
		{"not a snowflake", http.MethodPut, "/v1/guilds/1/settings/flooder_role", `{"value":"role"}`, http.StatusBadRequest},
		{"wrong method", http.MethodPost, "/v1/guilds/1/settings/flooder_role", `{"value":"1"}`, http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := do(t, h, tt.method, tt.path, tt.body)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

type brokenBackend struct{}

func (brokenBackend) UpsertGuildSetting(context.Context, uint64, string, sql.NullString) error {
	return errors.New("disk full")
}

func (brokenBackend) GuildSetting(context.Context, uint64, string) (sql.NullString, bool, error) {
	return sql.NullString{}, false, errors.New("disk full")
}

func TestSettingsWriteFailure(t *testing.T) {
	store := settings.NewStore(brokenBackend{}, nil, settings.Options{})
	srv := NewServer("127.0.0.1:0", store, pingFunc(func(context.Context) error { return errors.New("down") }), prometheus.NewRegistry())
	h := srv.Handler()

	rec, _ := do(t, h, http.MethodPut, "/v1/guilds/1/settings/softban_role", `{"value":"9"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("PUT status = %d", rec.Code)
	}
	rec, body := do(t, h, http.MethodGet, "/v1/guilds/1/settings/softban_role", "")
	if rec.Code != http.StatusOK || body["value"] != nil {
		t.Fatalf("GET with failing backend = %d %v", rec.Code, body)
	}
	rec, _ = do(t, h, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("healthz status = %d", rec.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec, body := do(t, h, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("healthz = %d %v", rec.Code, body)
	}

	do(t, h, http.MethodPut, "/v1/guilds/7/settings/flooder_role", `{"value":"5"}`)
	rec, _ = do(t, h, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "modbot_settings_backend_writes_total 1") {
		t.Fatalf("metrics missing write counter:\n%s", rec.Body.String())
	}
}

func TestStartStop(t *testing.T) {
	srv, _ := newTestServer(t)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("GET healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}
	if err := srv.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
