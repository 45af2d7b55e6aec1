package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/k-ranasinghe/voice-agent/internal/config"
	"github.com/k-ranasinghe/voice-agent/internal/history"
	"github.com/k-ranasinghe/voice-agent/internal/observability"
	"github.com/k-ranasinghe/voice-agent/internal/session"
	"github.com/k-ranasinghe/voice-agent/internal/transport"
)

// VolumeControl applies a playback volume and reports the value that
// actually took effect. Absent in text mode.
type VolumeControl interface {
	SetVolume(v float64) float64
}

// AgentProbe checks that the remote agent answers its health endpoint.
type AgentProbe interface {
	Run(ctx context.Context) error
}

// Server is the local operations surface: health, metrics, live call
// state, call history, latency stats, and runtime settings.
type Server struct {
	cfg     config.Config
	store   *session.Store
	client  *transport.Client
	calls   history.Store
	metrics *observability.Metrics
	probe   AgentProbe
	volume  VolumeControl

	mu        sync.Mutex
	curVolume float64
}

func New(cfg config.Config, store *session.Store, client *transport.Client, calls history.Store, metrics *observability.Metrics, probe AgentProbe, volume VolumeControl) *Server {
	return &Server{
		cfg:       cfg,
		store:     store,
		client:    client,
		calls:     calls,
		metrics:   metrics,
		probe:     probe,
		volume:    volume,
		curVolume: cfg.Volume,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", observability.MetricsHandler().ServeHTTP)

	r.Get("/v1/call/state", s.handleCallState)
	r.Get("/v1/call/history", s.handleCallHistory)
	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Get("/v1/config", s.handleGetConfig)
	r.Put("/v1/config", s.handlePutConfig)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"mode":   s.cfg.Mode,
	})
}

// handleReady reports whether the remote agent is reachable right now.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.probe == nil {
		respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
		return
	}
	if err := s.probe.Run(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "agent_unreachable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready", "agent": "reachable"})
}

type callStateResponse struct {
	Connection transport.ConnState `json:"connection"`
	session.Snapshot
}

func (s *Server) handleCallState(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, callStateResponse{
		Connection: s.client.State(),
		Snapshot:   s.store.Snapshot(),
	})
}

func (s *Server) handleCallHistory(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}
	if limit > 200 {
		limit = 200
	}

	calls, err := s.calls.RecentCalls(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "history_unavailable", err.Error())
		return
	}
	if calls == nil {
		calls = []history.CallRecord{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"calls": calls})
}

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		respondJSON(w, http.StatusOK, map[string]any{
			"generated_at": "",
			"window_size":  0,
			"stages":       []any{},
		})
		return
	}
	respondJSON(w, http.StatusOK, s.metrics.SnapshotLatency())
}

type configResponse struct {
	Mode       string  `json:"mode"`
	ServerURL  string  `json:"server_url"`
	Volume     float64 `json:"volume"`
	RecordDir  string  `json:"record_dir,omitempty"`
	RedactLogs bool    `json:"redact_logs"`
}

type configUpdate struct {
	Volume *float64 `json:"volume"`
}

func (s *Server) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.configSnapshot())
}

// handlePutConfig applies runtime-adjustable settings. Volume is the
// only mutable field; it takes effect on audio already playing.
func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	var upd configUpdate
	if err := decodeJSON(r, &upd); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if upd.Volume == nil {
		respondError(w, http.StatusBadRequest, "no_updatable_fields", "body must set volume")
		return
	}
	if *upd.Volume < 0 || *upd.Volume > 1 {
		respondError(w, http.StatusBadRequest, "invalid_volume", "volume must be within [0, 1]")
		return
	}

	applied := *upd.Volume
	if s.volume != nil {
		applied = s.volume.SetVolume(applied)
	}
	s.mu.Lock()
	s.curVolume = applied
	s.mu.Unlock()

	respondJSON(w, http.StatusOK, s.configSnapshot())
}

func (s *Server) configSnapshot() configResponse {
	s.mu.Lock()
	vol := s.curVolume
	s.mu.Unlock()
	return configResponse{
		Mode:       s.cfg.Mode,
		ServerURL:  s.cfg.ServerURL,
		Volume:     vol,
		RecordDir:  s.cfg.RecordDir,
		RedactLogs: s.cfg.RedactLogs,
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
