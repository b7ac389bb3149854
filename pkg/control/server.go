package control

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/small-frappuccino/modbot/pkg/log"
	"github.com/small-frappuccino/modbot/pkg/settings"
)

const (
	defaultMaxBodyBytes = 64 * 1024
	healthTimeout       = 2 * time.Second
)

// Pinger reports whether the settings database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server exposes health, metrics and guild settings over HTTP.
type Server struct {
	addr       string
	settings   *settings.Store
	db         Pinger
	httpServer *http.Server
	listener   net.Listener
}

// NewServer returns nil if addr is empty or store is nil.
// A nil gatherer serves prometheus.DefaultGatherer.
func NewServer(addr string, store *settings.Store, db Pinger, gatherer prometheus.Gatherer) *Server {
	addr = strings.TrimSpace(addr)
	if addr == "" || store == nil {
		return nil
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		addr:     addr,
		settings: store,
		db:       db,
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.routes(gatherer),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /v1/guilds/{guild}/settings/{key}", s.handleGetSetting)
	mux.HandleFunc("PUT /v1/guilds/{guild}/settings/{key}", s.handlePutSetting)
	return mux
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	if s == nil {
		return http.NotFoundHandler()
	}
	return s.httpServer.Handler
}

// Start opens the control server listening socket.
func (s *Server) Start() error {
	if s == nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("bind control server: %w", err)
	}
	s.listener = ln

	log.ApplicationLogger().Info("Control server listening", "addr", ln.Addr().String())

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.ApplicationLogger().Error("Control server stopped unexpectedly", "err", err)
		}
	}()

	return nil
}

// Addr is the bound address once Start succeeded.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts down the control server.
func (s *Server) Stop(ctx context.Context) error {
	if s == nil || s.httpServer == nil {
		return nil
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("shutdown control server: %w", err)
	}

	log.ApplicationLogger().Info("Control server stopped", "addr", s.addr)
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if err := s.db.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type settingResponse struct {
	Guild string  `json:"guild"`
	Key   string  `json:"key"`
	Value *string `json:"value"`
}

func (s *Server) handleGetSetting(w http.ResponseWriter, r *http.Request) {
	guildID, key, err := settingPath(r)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := settingResponse{Guild: r.PathValue("guild"), Key: key}
	if v, ok := s.settings.Get(r.Context(), guildID, key); ok {
		resp.Value = &v
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePutSetting(w http.ResponseWriter, r *http.Request) {
	guildID, key, err := settingPath(r)
	if err != nil {
		writeError(w, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, defaultMaxBodyBytes)
	defer r.Body.Close()

	var body map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, badRequest(fmt.Errorf("invalid payload: %w", err)))
		return
	}
	raw, ok := body["value"]
	if !ok || len(body) != 1 {
		writeError(w, badRequest(errors.New(`payload must contain only the "value" field`)))
		return
	}
	value, err := decodeSnowflake(raw)
	if err != nil {
		writeError(w, badRequest(fmt.Errorf("field value: %w", err)))
		return
	}

	if err := s.settings.SetSnowflake(r.Context(), guildID, key, value); err != nil {
		log.ApplicationLogger().Error("Control server failed to write setting",
			"guild_id", guildID, "key", key, "err", err)
		writeError(w, &httpError{code: http.StatusServiceUnavailable, err: errors.New("failed to write setting")})
		return
	}

	resp := settingResponse{Guild: r.PathValue("guild"), Key: key}
	if value != "" {
		resp.Value = &value
	}
	writeJSON(w, http.StatusOK, resp)
}

func settingPath(r *http.Request) (uint64, string, error) {
	guildID, err := strconv.ParseUint(r.PathValue("guild"), 10, 64)
	if err != nil {
		return 0, "", badRequest(fmt.Errorf("invalid guild id %q", r.PathValue("guild")))
	}
	key := r.PathValue("key")
	if _, ok := settings.LookupKey(key); !ok {
		return 0, "", &httpError{code: http.StatusNotFound, err: fmt.Errorf("unknown setting %q", key)}
	}
	return guildID, key, nil
}

// decodeSnowflake accepts a JSON string holding a snowflake, or null.
// null decodes to "", which disables the setting.
func decodeSnowflake(raw json.RawMessage) (string, error) {
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return "", nil
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", err
	}
	v = strings.TrimSpace(v)
	if _, err := strconv.ParseUint(v, 10, 64); err != nil {
		return "", fmt.Errorf("%q is not a snowflake", v)
	}
	return v, nil
}

func badRequest(err error) error {
	return &httpError{
		code: http.StatusBadRequest,
		err:  err,
	}
}

type httpError struct {
	code int
	err  error
}

func (e *httpError) Error() string { return e.err.Error() }
func (e *httpError) Unwrap() error { return e.err }

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var httpErr *httpError
	if errors.As(err, &httpErr) {
		status = httpErr.code
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.ApplicationLogger().Error("Failed to encode control response", "err", err)
	}
}
