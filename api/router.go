// Package api exposes the search over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"padel-finder/aggregator"
	"padel-finder/checker"
	"padel-finder/metrics"
	"padel-finder/types"
)

// Searcher runs a search with per-club detail.
type Searcher interface {
	Run(ctx context.Context, q aggregator.Query) (*aggregator.Result, error)
}

// HealthSource reports the last known adapter status.
type HealthSource interface {
	Snapshot() []checker.Status
}

type Handler struct {
	search Searcher
	clubs  []types.Club
	health HealthSource
	log    *zap.Logger
}

// NewRouter builds the HTTP routes. health and gatherer may be nil.
func NewRouter(search Searcher, clubs []types.Club, health HealthSource, gatherer prometheus.Gatherer, log *zap.Logger) http.Handler {
	h := &Handler{search: search, clubs: clubs, health: health, log: log.Named("api")}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)

	r.Route("/api", func(r chi.Router) {
		r.Get("/search", h.Search)
		r.Get("/clubs", h.Clubs)
		r.Get("/health", h.Health)
	})
	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(gatherer))
	}
	return r
}

type errorResponse struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

type searchResponse struct {
	SearchID string            `json:"searchId"`
	Count    int               `json:"count"`
	Slots    []types.Slot      `json:"slots"`
	Clubs    []string          `json:"clubs"`
	Failures map[string]string `json:"failures,omitempty"`
}

// Search handles GET /api/search?date=&startHour=&endHour=&latitude=&longitude=&radius=
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q, err := aggregator.ParseQuery(r.URL.Query())
	if err != nil {
		h.writeError(w, err)
		return
	}
	res, err := h.search.Run(r.Context(), q)
	if err != nil {
		h.writeError(w, err)
		return
	}
	clubs := res.Clubs
	if clubs == nil {
		clubs = []string{}
	}
	writeJSON(w, http.StatusOK, searchResponse{
		SearchID: res.SearchID,
		Count:    len(res.Slots),
		Slots:    res.Slots,
		Clubs:    clubs,
		Failures: res.Failures,
	})
}

// Clubs handles GET /api/clubs.
func (h *Handler) Clubs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.clubs)
}

type healthResponse struct {
	Status   string           `json:"status"`
	Adapters []checker.Status `json:"adapters"`
}

// Health handles GET /api/health. The service is "degraded" when any
// probed adapter is down.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok", Adapters: []checker.Status{}}
	if h.health != nil {
		resp.Adapters = h.health.Snapshot()
	}
	for _, st := range resp.Adapters {
		if !st.Up {
			resp.Status = "degraded"
			break
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var verr *aggregator.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Code:    "INVALID_PARAMETER",
			Field:   verr.Field,
			Message: verr.Message,
		})
		return
	}
	h.log.Error("request failed", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, errorResponse{
		Code:    "INTERNAL_ERROR",
		Message: "internal server error",
	})
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.log.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
