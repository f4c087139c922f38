package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/creator-suite/internal/config"
	"github.com/JakeFAU/creator-suite/internal/gateway"
	"github.com/JakeFAU/creator-suite/internal/metrics"
	"github.com/JakeFAU/creator-suite/internal/suite"
)

const (
	defaultRequestTimeout = 120 * time.Second
	maxUploadBytes        = 64 << 20
	syncTimeout           = 45 * time.Second
)

// Tracker submits jobs and drives director approvals.
type Tracker interface {
	Submit(ctx context.Context, t suite.JobType, form suite.Form) (suite.Job, error)
	ApproveScript(ctx context.Context, id string, scenes []map[string]any) (suite.Job, error)
}

// JobStore is the tracked collection as seen by the API.
type JobStore interface {
	Jobs() []suite.Job
	Get(id string) (suite.Job, bool)
	RemoveJob(ctx context.Context, id string) bool
	ClearJobs(ctx context.Context)
	SyncRemote(ctx context.Context) error
}

// Options tunes the server.
type Options struct {
	Auth           config.AuthConfig
	RequestTimeout time.Duration
	// Ready reports whether downstream dependencies can serve traffic; nil means always ready.
	Ready  func(ctx context.Context) error
	Logger *zap.Logger
}

// Server wires HTTP handlers to the tracker and job store.
type Server struct {
	router   chi.Router
	tracker  Tracker
	jobs     JobStore
	services *ServiceHandler
	ready    func(ctx context.Context) error
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes. services may be
// nil, in which case the backend routes answer 503.
func NewServer(tracker Tracker, jobs JobStore, services *ServiceHandler, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if services == nil {
		services = NewServiceHandler(nil, nil, nil, logger)
	}
	s := &Server{
		tracker:  tracker,
		jobs:     jobs,
		services: services,
		ready:    opts.Ready,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(opts.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if opts.Auth.Enabled {
			r.Use(apiKeyMiddleware(opts.Auth.APIKey))
		}
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.listJobs)
			r.Delete("/", s.clearJobs)
			r.Post("/sync", s.syncJobs)
			r.Post("/{job_type}", s.submitJob)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/", s.getJob)
				r.Delete("/", s.removeJob)
				r.Post("/approve", s.approveScript)
			})
		})
		r.Get("/services/health", s.services.Health)
		r.Get("/analytics/{area}", s.services.Analytics)
		r.Get("/notifications", s.services.Notifications)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// listJobs handles GET /v1/jobs?status=&type=&limit=. Jobs are returned most
// recent first.
func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var status suite.JobStatus
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		parsed, err := suite.ParseStatus(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid status")
			return
		}
		status = parsed
	}
	jobType := suite.JobType(strings.TrimSpace(q.Get("type")))
	limit, _, err := parseLimitOffset(r, defaultJobLimit, maxJobLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	out := make([]suite.Job, 0, limit)
	for _, job := range s.jobs.Jobs() {
		if status != "" && job.Status != status {
			continue
		}
		if jobType != "" && job.Type != jobType {
			continue
		}
		out = append(out, job)
		if len(out) == limit {
			break
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": out})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.jobs.Get(chi.URLParam(r, "job_id"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) removeJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "job_id")
	if !s.jobs.RemoveJob(r.Context(), id) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": id, "status": "removed"})
}

func (s *Server) clearJobs(w http.ResponseWriter, r *http.Request) {
	s.jobs.ClearJobs(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) syncJobs(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), syncTimeout)
	defer cancel()
	if err := s.jobs.SyncRemote(ctx); err != nil {
		s.logger.Error("sync jobs failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to sync jobs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": s.jobs.Jobs()})
}

// submitJob handles POST /v1/jobs/{job_type}. The multipart body is passed to
// the backend unchanged; urlencoded bodies are accepted for text-only types.
func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	t, err := suite.ParseJobType(chi.URLParam(r, "job_type"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	form, err := readForm(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := s.tracker.Submit(r.Context(), t, form)
	if err != nil {
		var verr *suite.ValidationError
		switch {
		case errors.As(err, &verr), errors.Is(err, suite.ErrNotSubmittable):
			writeError(w, http.StatusBadRequest, err.Error())
		case job.ID != "":
			writeJSON(w, http.StatusBadGateway, map[string]any{
				"error": gateway.Detail(err),
				"job":   job,
			})
		default:
			s.logger.Error("submit job failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to submit job")
		}
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"job": job})
}

type approveRequest struct {
	Scenes []map[string]any `json:"scenes"`
}

func (s *Server) approveScript(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	job, err := s.tracker.ApproveScript(r.Context(), chi.URLParam(r, "job_id"), req.Scenes)
	if err != nil {
		var apiErr *gateway.APIError
		switch {
		case errors.Is(err, suite.ErrJobNotFound):
			writeError(w, http.StatusNotFound, "job not found")
		case errors.As(err, &apiErr):
			writeError(w, http.StatusBadGateway, apiErr.Detail)
		case job.ID != "":
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func readForm(r *http.Request) (suite.Form, error) {
	form := suite.NewForm()
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "multipart/") {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			return form, fmt.Errorf("invalid multipart body: %w", err)
		}
		defer func() { _ = r.MultipartForm.RemoveAll() }()
		for key, values := range r.MultipartForm.Value {
			if len(values) > 0 {
				form.Set(key, values[0])
			}
		}
		for field, headers := range r.MultipartForm.File {
			for _, fh := range headers {
				data, err := readUpload(fh)
				if err != nil {
					return form, fmt.Errorf("read upload %s: %w", fh.Filename, err)
				}
				form.Attach(suite.File{
					Field:       field,
					Name:        fh.Filename,
					ContentType: fh.Header.Get("Content-Type"),
					Data:        data,
				})
			}
		}
		return form, nil
	}
	if err := r.ParseForm(); err != nil {
		return form, fmt.Errorf("invalid form body: %w", err)
	}
	for key := range r.PostForm {
		form.Set(key, r.PostForm.Get(key))
	}
	return form, nil
}

func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return io.ReadAll(f)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
