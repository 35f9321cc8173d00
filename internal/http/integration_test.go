//go:build integration
// +build integration

package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-watchlist/internal/health"
	"github.com/kjstillabower/weather-watchlist/internal/models"
	"github.com/kjstillabower/weather-watchlist/internal/observability"
	testhelpers "github.com/kjstillabower/weather-watchlist/internal/testhelpers"
)

var testLogger *zap.Logger

func init() {
	var err error
	testLogger, err = observability.NewLogger()
	if err != nil {
		panic(err)
	}
}

// setupIntegrationRouter wires the full stack against the live provider.
func setupIntegrationRouter(t *testing.T, limiter *rate.Limiter) *mux.Router {
	cfg := testhelpers.GetIntegrationConfig(t)
	svc, st := testhelpers.SetupIntegrationService(t, cfg)

	h := NewHandler(svc, health.Config{DatabasePing: st.Ping}, testLogger)
	return NewRouter(h, testLogger, RouterConfig{RequestTimeout: 15 * time.Second, Limiter: limiter})
}

func TestIntegration_WatchlistFlow(t *testing.T) {
	router := setupIntegrationRouter(t, nil)
	serve := func(method, target string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(method, target, nil))
		return w
	}

	w := serve(http.MethodGet, "/api/search?q=Lond")
	require.Equal(t, http.StatusOK, w.Code)
	var matches []models.CityMatch
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &matches))
	assert.NotEmpty(t, matches)

	w = serve(http.MethodPost, "/api/locations?city_name=London")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var loc models.Location
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &loc))
	assert.NotEmpty(t, loc.ID)
	assert.NotNil(t, loc.LastSynced)

	w = serve(http.MethodGet, "/api/weather/"+loc.ID)
	require.Equal(t, http.StatusOK, w.Code)
	var report models.WeatherReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	require.NotNil(t, report.Current)
	assert.NotEmpty(t, report.Forecast)

	w = serve(http.MethodPost, "/api/sync/"+loc.ID)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = serve(http.MethodGet, "/api/weather/"+loc.ID+"/history")
	require.Equal(t, http.StatusOK, w.Code)
	var history []models.WeatherSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))
	assert.Len(t, history, 2)

	w = serve(http.MethodDelete, "/api/locations/"+loc.ID)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestIntegration_UnknownCity(t *testing.T) {
	router := setupIntegrationRouter(t, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/locations?city_name=Qwxzvbnmlkj", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestIntegration_RateLimited(t *testing.T) {
	router := setupIntegrationRouter(t, rate.NewLimiter(rate.Limit(1), 2))

	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/locations", nil))
		codes = append(codes, w.Code)
	}
	assert.Contains(t, codes, http.StatusTooManyRequests)
}
