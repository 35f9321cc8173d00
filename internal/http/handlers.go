package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-watchlist/internal/health"
	"github.com/kjstillabower/weather-watchlist/internal/models"
	"github.com/kjstillabower/weather-watchlist/internal/observability"
	"github.com/kjstillabower/weather-watchlist/internal/service"
)

// Error codes returned in the error body.
const (
	codeInvalidInput        = "INVALID_INPUT"
	codeNotFound            = "NOT_FOUND"
	codeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	codeRateLimited         = "RATE_LIMITED"
	codeInternal            = "INTERNAL"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	svc              *service.WatchlistService
	healthConfig     health.Config
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(svc *service.WatchlistService, healthConfig health.Config, logger *zap.Logger) *Handler {
	return &Handler{
		svc:          svc,
		healthConfig: healthConfig,
		logger:       logger,
	}
}

// ListLocations handles GET /api/locations.
func (h *Handler) ListLocations(w http.ResponseWriter, r *http.Request) {
	locations, err := h.svc.ListLocations(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, locations)
}

// SearchCities handles GET /api/search?q=.
func (h *Handler) SearchCities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.SearchCities(r.Context(), r.URL.Query().Get("q")))
}

// AddLocation handles POST /api/locations?city_name=.
func (h *Handler) AddLocation(w http.ResponseWriter, r *http.Request) {
	cityName := r.URL.Query().Get("city_name")
	if strings.TrimSpace(cityName) == "" {
		writeError(w, r, http.StatusBadRequest, codeInvalidInput, "city_name is required")
		return
	}

	loc, err := h.svc.AddLocation(r.Context(), cityName)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loc)
}

// updateLocationBody is the JSON form of a partial update. Absent fields are untouched.
type updateLocationBody struct {
	IsFavorite  models.Optional[*bool]   `json:"isFavorite"`
	DisplayName models.Optional[*string] `json:"displayName"`
}

// UpdateLocation handles PATCH /api/locations/{id}. Fields come from the
// is_favorite and display_name query parameters and/or a JSON body; query
// parameters win when both are given.
func (h *Handler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	upd, err := parseLocationUpdate(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, codeInvalidInput, err.Error())
		return
	}

	loc, err := h.svc.UpdateLocation(r.Context(), mux.Vars(r)["id"], upd)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loc)
}

func parseLocationUpdate(r *http.Request) (models.LocationUpdate, error) {
	var upd models.LocationUpdate

	if r.Body != nil && r.ContentLength != 0 {
		var body updateLocationBody
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			return models.LocationUpdate{}, errors.New("malformed JSON body")
		}
		if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
			return models.LocationUpdate{}, errors.New("body must hold a single JSON object")
		}
		if body.IsFavorite.Set {
			if body.IsFavorite.Value == nil {
				return models.LocationUpdate{}, errors.New("isFavorite cannot be null")
			}
			upd.IsFavorite = models.Some(*body.IsFavorite.Value)
		}
		upd.DisplayName = body.DisplayName
	}

	q := r.URL.Query()
	if q.Has("is_favorite") {
		fav, err := strconv.ParseBool(q.Get("is_favorite"))
		if err != nil {
			return models.LocationUpdate{}, errors.New("is_favorite must be a boolean")
		}
		upd.IsFavorite = models.Some(fav)
	}
	if q.Has("display_name") {
		name := q.Get("display_name")
		upd.DisplayName = models.Some(&name)
	}
	return upd, nil
}

// DeleteLocation handles DELETE /api/locations/{id}.
func (h *Handler) DeleteLocation(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteLocation(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// GetWeather handles GET /api/weather/{id}.
func (h *Handler) GetWeather(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.GetWeather(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// GetHistory handles GET /api/weather/{id}/history?limit=.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, r, http.StatusBadRequest, codeInvalidInput, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	snaps, err := h.svc.History(r.Context(), mux.Vars(r)["id"], limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}

// SyncLocation handles POST /api/sync/{id}.
func (h *Handler) SyncLocation(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.SyncLocation(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "success",
		"data":   snap,
	})
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := health.Evaluate(r.Context(), h.healthConfig)

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.Status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.Status),
			zap.String("reason", result.Reason))
	}
	h.healthStatusPrev = result.Status
	h.healthStatusMu.Unlock()

	writeJSON(w, result.StatusCode, map[string]interface{}{
		"status":    result.Status,
		"service":   observability.ServiceName,
		"version":   "dev",
		"checks":    result.Checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationID(r.Context()),
		},
	})
}

// writeServiceError maps service sentinel errors to status codes. Unexpected errors
// are logged and reported as INTERNAL without details.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, codeInvalidInput, err.Error())
	case errors.Is(err, service.ErrNotFound):
		writeError(w, r, http.StatusNotFound, codeNotFound, err.Error())
	case errors.Is(err, service.ErrProviderUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, codeUpstreamUnavailable, "Weather provider unavailable")
		observability.LoggerFromContext(r.Context()).Debug("upstream error", zap.Error(err))
	default:
		observability.LoggerFromContext(r.Context()).Error("request failed", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, codeInternal, "Internal server error")
	}
}
