package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/duchft/blobcached/internal/core/domain"
	"github.com/duchft/blobcached/internal/fetch"
	redisclient "github.com/duchft/blobcached/internal/infra/redis"
	"github.com/duchft/blobcached/internal/infra/store"
)

// Fetcher serves content reads for the API.
type Fetcher interface {
	Fetch(ctx context.Context, key string, opts fetch.Options) (*fetch.Result, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// Warmer accepts warm tasks for background prefetching.
type Warmer interface {
	PushTask(ctx context.Context, task string) error
	QueueLength(ctx context.Context) (int64, error)
}

// Server provides the HTTP API over the cache.
type Server struct {
	fetcher Fetcher
	store   store.Store
	warmer  Warmer // nil when no warm queue is configured
	server  *http.Server
	log     *slog.Logger
}

// NewServer creates an API server listening on addr.
func NewServer(addr string, fetcher Fetcher, st store.Store, warmer Warmer) *Server {
	s := &Server{
		fetcher: fetcher,
		store:   st,
		warmer:  warmer,
		log:     slog.With("component", "api"),
	}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routed API handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/content/{key...}", s.handleGetContent)
	mux.HandleFunc("HEAD /v1/content/{key...}", s.handleHeadContent)
	mux.HandleFunc("DELETE /v1/content/{key...}", s.handleDeleteContent)
	mux.HandleFunc("DELETE /v1/content", s.handleClear)
	mux.HandleFunc("GET /v1/stats", s.handleStats)
	mux.HandleFunc("POST /v1/sweep", s.handleSweep)
	mux.HandleFunc("GET /v1/snapshot", s.handleExportSnapshot)
	mux.HandleFunc("PUT /v1/snapshot", s.handleImportSnapshot)
	mux.HandleFunc("POST /v1/warm", s.handleWarm)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	return s.withRequestLog(mux)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// withRequestLog tags each request with an id and logs its outcome.
func (s *Server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := uuid.New().String()
		w.Header().Set("X-Request-Id", reqID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.log.Debug("request handled",
			"request_id", reqID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) handleGetContent(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if key == "" {
		writeError(w, http.StatusBadRequest, "missing content key")
		return
	}

	kind, err := fetch.ParseKind(r.URL.Query().Get("kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	skipCache := false
	if raw := r.URL.Query().Get("skip_cache"); raw != "" {
		skipCache, err = strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid skip_cache value")
			return
		}
	}

	result, err := s.fetcher.Fetch(r.Context(), key, fetch.Options{
		Kind:      kind,
		SkipCache: skipCache,
	})
	if err != nil {
		status := fetchStatus(err)
		if status >= http.StatusInternalServerError {
			s.log.Error("content fetch failed", "key", key, "error", err)
		}
		writeError(w, status, err.Error())
		return
	}

	if result.Cached {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	if result.ContentType != "" {
		w.Header().Set("Content-Type", result.ContentType)
	}
	w.Write(result.Data)
}

func (s *Server) handleHeadContent(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if key == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	ok, err := s.fetcher.Exists(r.Context(), key)
	if err != nil {
		s.log.Error("existence check failed", "key", key, "error", err)
		w.WriteHeader(http.StatusBadGateway)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleDeleteContent(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if key == "" {
		writeError(w, http.StatusBadRequest, "missing content key")
		return
	}

	if err := s.store.Delete(r.Context(), key); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Clear(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	response := struct {
		*domain.Stats
		WarmQueueLength *int64 `json:"warm_queue_length,omitempty"`
	}{Stats: stats}

	if s.warmer != nil {
		if n, err := s.warmer.QueueLength(r.Context()); err == nil {
			response.WarmQueueLength = &n
		}
	}

	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	result, err := s.store.Cleanup(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleExportSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.store.Export(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleImportSnapshot(w http.ResponseWriter, r *http.Request) {
	var snap domain.Snapshot
	if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid snapshot: %v", err))
		return
	}

	if err := s.store.Import(r.Context(), &snap); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWarm(w http.ResponseWriter, r *http.Request) {
	if s.warmer == nil {
		writeError(w, http.StatusServiceUnavailable, "warm queue not configured")
		return
	}

	var req struct {
		Tasks []string `json:"tasks"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if len(req.Tasks) == 0 {
		writeError(w, http.StatusBadRequest, "no tasks given")
		return
	}

	queued := 0
	for _, task := range req.Tasks {
		kind, key, err := redisclient.ParseTask(task)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := s.warmer.PushTask(r.Context(), redisclient.FormatTask(kind, key)); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		queued++
	}

	writeJSON(w, http.StatusAccepted, map[string]int{"queued": queued})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.Stats(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// fetchStatus maps a fetch failure to an HTTP status. Validation failures
// here mean the origin served a corrupt payload, not bad client input.
func fetchStatus(err error) int {
	switch {
	case domain.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
