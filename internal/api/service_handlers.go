package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/creator-suite/internal/events"
	"github.com/JakeFAU/creator-suite/internal/gateway"
	"github.com/JakeFAU/creator-suite/internal/suite"
)

const (
	defaultJobLimit = 50
	maxJobLimit     = 500
	serviceTimeout  = 30 * time.Second
)

// Backend is the slice of the gateway client used for status and analytics.
type Backend interface {
	HealthAll(ctx context.Context) map[suite.Service]bool
	Analytics(ctx context.Context, area gateway.Area, userID string) ([]gateway.AnalyticsRecord, error)
}

// Notifications exposes recently emitted job events.
type Notifications interface {
	Recent() []events.Event
}

// ServiceHandler exposes read-only backend status, analytics, and
// notification endpoints.
type ServiceHandler struct {
	backend Backend
	session suite.Session
	recent  Notifications
	timeout time.Duration
	logger  *zap.Logger
}

// NewServiceHandler wires the backend, session, and notification feed. Any of
// them may be nil; the affected routes then answer 503.
func NewServiceHandler(backend Backend, session suite.Session, recent Notifications, logger *zap.Logger) *ServiceHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ServiceHandler{
		backend: backend,
		session: session,
		recent:  recent,
		timeout: serviceTimeout,
		logger:  logger,
	}
}

// Health handles GET /v1/services/health. It returns {"services": {...}}
// mapping each backend to its reachability.
func (h *ServiceHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.backend == nil {
		writeError(w, http.StatusServiceUnavailable, "gateway unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	status := h.backend.HealthAll(ctx)
	out := make(map[string]bool, len(status))
	for svc, ok := range status {
		out[string(svc)] = ok
	}
	writeJSON(w, http.StatusOK, map[string]any{"services": out})
}

// Analytics handles GET /v1/analytics/{area}. It returns {"records": [...]}
// for the signed-in user, 400 for an unknown area, 401 without a session, or
// 502 when the backend call fails.
func (h *ServiceHandler) Analytics(w http.ResponseWriter, r *http.Request) {
	if h.backend == nil {
		writeError(w, http.StatusServiceUnavailable, "gateway unavailable")
		return
	}
	area, err := gateway.ParseArea(chi.URLParam(r, "area"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	user, ok := h.currentUser()
	if !ok {
		writeError(w, http.StatusUnauthorized, "sign in to view analytics")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	records, err := h.backend.Analytics(ctx, area, user.ID)
	if err != nil {
		h.logger.Error("analytics failed", zap.String("area", string(area)), zap.Error(err))
		var apiErr *gateway.APIError
		if errors.As(err, &apiErr) {
			writeError(w, http.StatusBadGateway, apiErr.Detail)
			return
		}
		writeError(w, http.StatusBadGateway, "failed to load analytics")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

// Notifications handles GET /v1/notifications?limit=. Events are returned
// newest first with their display level.
func (h *ServiceHandler) Notifications(w http.ResponseWriter, r *http.Request) {
	if h.recent == nil {
		writeError(w, http.StatusServiceUnavailable, "notifications unavailable")
		return
	}
	limit, _, err := parseLimitOffset(r, defaultJobLimit, maxJobLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	recent := h.recent.Recent()
	out := make([]notificationDTO, 0, min(limit, len(recent)))
	for _, evt := range recent[:min(limit, len(recent))] {
		out = append(out, notificationDTO{Event: evt, Level: evt.Level()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": out})
}

type notificationDTO struct {
	events.Event
	Level events.Level `json:"level"`
}

func (h *ServiceHandler) currentUser() (suite.User, bool) {
	if h.session == nil {
		return suite.User{}, false
	}
	return h.session.CurrentUser()
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}
