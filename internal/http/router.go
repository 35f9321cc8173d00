package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-watchlist/internal/observability"
)

// RouterConfig holds the per-request limits applied to /api routes.
type RouterConfig struct {
	RequestTimeout time.Duration
	Limiter        *rate.Limiter // nil disables rate limiting
}

// NewRouter wires every route and middleware.
func NewRouter(h *Handler, logger *zap.Logger, cfg RouterConfig) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.Use(AccessLogMiddleware)

	// router.Use middleware does not run for unmatched requests.
	unmatched := func(fn http.HandlerFunc) http.Handler {
		return CorrelationIDMiddleware(logger)(MetricsMiddleware(AccessLogMiddleware(fn)))
	}
	router.NotFoundHandler = unmatched(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, codeNotFound, "route not found")
	})
	router.MethodNotAllowedHandler = unmatched(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, codeInvalidInput, "method not allowed")
	})

	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(RateLimitMiddleware(cfg.Limiter))
	if cfg.RequestTimeout > 0 {
		api.Use(TimeoutMiddleware(cfg.RequestTimeout))
	}
	api.HandleFunc("/locations", h.ListLocations).Methods(http.MethodGet)
	api.HandleFunc("/locations", h.AddLocation).Methods(http.MethodPost)
	api.HandleFunc("/locations/{id}", h.UpdateLocation).Methods(http.MethodPatch)
	api.HandleFunc("/locations/{id}", h.DeleteLocation).Methods(http.MethodDelete)
	api.HandleFunc("/search", h.SearchCities).Methods(http.MethodGet)
	api.HandleFunc("/weather/{id}", h.GetWeather).Methods(http.MethodGet)
	api.HandleFunc("/weather/{id}/history", h.GetHistory).Methods(http.MethodGet)
	api.HandleFunc("/sync/{id}", h.SyncLocation).Methods(http.MethodPost)

	return router
}
