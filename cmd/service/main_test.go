package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-watchlist/internal/config"
	"github.com/kjstillabower/weather-watchlist/internal/health"
	"github.com/kjstillabower/weather-watchlist/internal/store"
)

func testConfig() *config.Config {
	return &config.Config{
		ServerPort:         "8000",
		ServerReadTimeout:  5 * time.Second,
		ServerWriteTimeout: 10 * time.Second,
		DatabasePath:       store.MemoryPath,
		WeatherAPIKey:      "test-api-key-123456",
		WeatherAPITimeout:  time.Second,
		WeatherUnits:       "metric",
		RequestTimeout:     5 * time.Second,
		RateLimitRPS:       1,
		RateLimitBurst:     1,
		OverloadWindow:     time.Minute,
	}
}

func TestNewServer_Wiring(t *testing.T) {
	health.Reset()
	health.SetShuttingDown(false)
	t.Cleanup(health.Reset)

	srv, st, err := newServer(testConfig(), zap.NewNop())
	if err != nil {
		t.Fatalf("newServer() error = %v", err)
	}
	defer st.Close()

	if srv.Addr != ":8000" {
		t.Errorf("Addr = %q, want :8000", srv.Addr)
	}
	if srv.ReadTimeout != 5*time.Second || srv.WriteTimeout != 10*time.Second {
		t.Errorf("timeouts = %v/%v, want 5s/10s", srv.ReadTimeout, srv.WriteTimeout)
	}

	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health status = %d, want 200; body %s", w.Code, w.Body.String())
	}
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode /health: %v", err)
	}
	if body["status"] != health.StatusHealthy {
		t.Errorf("status = %v, want %s", body["status"], health.StatusHealthy)
	}

	// The store is wired: listing needs no provider call.
	w = httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/locations", nil))
	if w.Code != http.StatusOK || w.Body.String() != "[]\n" {
		t.Errorf("GET /api/locations = %d %q, want 200 []", w.Code, w.Body.String())
	}

	// Burst of one: the limiter from config guards /api.
	w = httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/locations", nil))
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("second GET /api/locations status = %d, want 429", w.Code)
	}
}

func TestNewServer_RejectsMissingAPIKey(t *testing.T) {
	cfg := testConfig()
	cfg.WeatherAPIKey = ""
	if _, _, err := newServer(cfg, zap.NewNop()); err == nil {
		t.Fatal("newServer() with empty API key: want error")
	}
}
