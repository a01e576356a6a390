// Package api exposes the pipeline's operational HTTP surface: enqueueing
// jobs, inspecting and managing queues, and health checks. Asset CRUD beyond
// the pipeline's own writes belongs to the surrounding application.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"asset-pipeline/internal/models"
	"asset-pipeline/internal/queue"
	"asset-pipeline/internal/store"
	"asset-pipeline/internal/telemetry"
)

// Limiter gates enqueue requests per client key. Nil disables limiting.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// Server routes ops requests to the queue and asset store.
type Server struct {
	queue   *queue.Queue
	assets  store.AssetStore
	limiter Limiter
	checks  map[string]HealthCheck
	logger  *slog.Logger
	router  chi.Router
}

// NewServer wires the router. Checks are probed by /healthz in addition to
// the queue's own Redis ping.
func NewServer(q *queue.Queue, assets store.AssetStore, limiter Limiter, checks map[string]HealthCheck, logger *slog.Logger) *Server {
	s := &Server{
		queue:   q,
		assets:  assets,
		limiter: limiter,
		checks:  checks,
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.With(s.rateLimit).Post("/jobs", s.handleEnqueue)
		r.Get("/jobs/{kind}/{id}", s.handleGetJob)
		r.Post("/jobs/{kind}/{id}/retry", s.handleRetryJob)
		r.Delete("/jobs/{kind}/{id}", s.handleRemoveJob)

		r.Get("/queues/stats", s.handleQueueStats)
		r.Post("/queues/{kind}/pause", s.handlePause)
		r.Post("/queues/{kind}/resume", s.handleResume)
		r.Post("/queues/{kind}/clean", s.handleClean)

		r.Get("/assets/{id}", s.handleGetAsset)
	})

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		key, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			key = r.RemoteAddr
		}
		ok, err := s.limiter.Allow(r.Context(), key)
		if err != nil {
			s.logger.Error("rate limiter unavailable", "error", err)
			// Fail open: shedding all traffic because Redis blipped is
			// worse than briefly not limiting.
			next.ServeHTTP(w, r)
			return
		}
		if !ok {
			telemetry.RateLimited.Inc()
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type enqueueRequest struct {
	models.Payload
	Priority string `json:"priority,omitempty"`
	DelayMS  int64  `json:"delayMs,omitempty"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := req.Payload.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.assets.Insert(r.Context(), req.AssetID); err != nil {
		s.logger.Error("asset insert failed", "asset_id", req.AssetID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not create asset record")
		return
	}

	job, err := s.queue.Enqueue(r.Context(), req.Type, req.Payload, queue.EnqueueOptions{
		Priority: req.Priority,
		Delay:    time.Duration(req.DelayMS) * time.Millisecond,
	})
	if err != nil {
		s.logger.Error("enqueue failed", "asset_id", req.AssetID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not enqueue job")
		return
	}

	telemetry.JobsEnqueued.WithLabelValues(string(job.Kind)).Inc()
	s.logger.Info("job enqueued", "job_id", job.ID, "kind", job.Kind, "asset_id", req.AssetID)
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleRetryJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	if err := s.queue.RetryFailed(r.Context(), job.ID); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "requeued", "id": job.ID})
}

func (s *Server) handleRemoveJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	if err := s.queue.Remove(r.Context(), job.ID); err != nil {
		s.logger.Error("job remove failed", "job_id", job.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not remove job")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// loadJob resolves {kind}/{id} and verifies the job belongs to that kind's
// queue. A mismatched kind is indistinguishable from a missing job.
func (s *Server) loadJob(w http.ResponseWriter, r *http.Request) (models.Job, bool) {
	kind, err := models.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return models.Job{}, false
	}
	job, err := s.queue.GetJob(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, queue.ErrJobNotFound) || (err == nil && job.Kind != kind) {
		writeError(w, http.StatusNotFound, "job not found")
		return models.Job{}, false
	}
	if err != nil {
		s.logger.Error("job load failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not load job")
		return models.Job{}, false
	}
	return job, true
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats := make(map[string]map[string]int64, len(models.Kinds))
	for _, kind := range models.Kinds {
		counts, err := s.queue.Counts(r.Context(), kind)
		if err != nil {
			s.logger.Error("queue counts failed", "kind", kind, "error", err)
			writeError(w, http.StatusInternalServerError, "could not read queue stats")
			return
		}
		stats[string(kind)] = counts
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.togglePause(w, r, true)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.togglePause(w, r, false)
}

func (s *Server) togglePause(w http.ResponseWriter, r *http.Request, pause bool) {
	kind, err := models.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if pause {
		err = s.queue.Pause(r.Context(), kind)
	} else {
		err = s.queue.Resume(r.Context(), kind)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not update queue state")
		return
	}
	status := "resumed"
	if pause {
		status = "paused"
	}
	s.logger.Info("queue "+status, "kind", kind)
	writeJSON(w, http.StatusOK, map[string]string{"kind": string(kind), "status": status})
}

type cleanRequest struct {
	State       string `json:"state"`
	OlderThanMS int64  `json:"olderThanMs"`
}

func (s *Server) handleClean(w http.ResponseWriter, r *http.Request) {
	kind, err := models.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req cleanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.State == "" {
		req.State = models.StateCompleted
	}

	removed, err := s.queue.Clean(r.Context(), kind, time.Duration(req.OlderThanMS)*time.Millisecond, req.State)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"kind": string(kind), "state": req.State, "removed": removed})
}

func (s *Server) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	asset, err := s.assets.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrAssetNotFound) {
		writeError(w, http.StatusNotFound, "asset not found")
		return
	}
	if err != nil {
		s.logger.Error("asset load failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not load asset")
		return
	}
	writeJSON(w, http.StatusOK, asset)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := map[string]string{}
	healthy := true

	if err := s.queue.Ping(ctx); err != nil {
		status["redis"] = err.Error()
		healthy = false
	} else {
		status["redis"] = "ok"
	}
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			status[name] = err.Error()
			healthy = false
		} else {
			status[name] = "ok"
		}
	}

	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
