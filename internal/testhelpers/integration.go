//go:build integration
// +build integration

package testhelpers

import (
	"os"
	"testing"

	"github.com/kjstillabower/weather-watchlist/internal/client"
	"github.com/kjstillabower/weather-watchlist/internal/observability"
	"github.com/kjstillabower/weather-watchlist/internal/service"
	"github.com/kjstillabower/weather-watchlist/internal/store"
)

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	APIKey       string
	WeatherURL   string
	GeoURL       string
	DatabasePath string
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips test if WEATHER_API_KEY is not set.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	apiKey := os.Getenv("WEATHER_API_KEY")
	if apiKey == "" {
		t.Skip("WEATHER_API_KEY not set, skipping integration test")
	}

	dbPath := os.Getenv("INTEGRATION_DATABASE_PATH")
	if dbPath == "" {
		dbPath = store.MemoryPath
	}

	return IntegrationTestConfig{
		APIKey:       apiKey,
		WeatherURL:   os.Getenv("WEATHER_API_URL"),
		GeoURL:       os.Getenv("WEATHER_GEO_URL"),
		DatabasePath: dbPath,
	}
}

// SetupIntegrationClient creates a live OpenWeatherMap client.
func SetupIntegrationClient(t *testing.T, cfg IntegrationTestConfig) *client.OpenWeatherClient {
	t.Helper()
	logger, err := observability.NewLogger()
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	c, err := client.NewOpenWeatherClient(client.Config{
		APIKey:     cfg.APIKey,
		WeatherURL: cfg.WeatherURL,
		GeoURL:     cfg.GeoURL,
	}, logger)
	if err != nil {
		t.Fatalf("NewOpenWeatherClient() error = %v", err)
	}
	return c
}

// SetupIntegrationService wires a live client to a fresh store.
// The store is closed when the test finishes.
func SetupIntegrationService(t *testing.T, cfg IntegrationTestConfig) (*service.WatchlistService, *store.Store) {
	t.Helper()
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		t.Fatalf("store.Open(%q) error = %v", cfg.DatabasePath, err)
	}
	t.Cleanup(func() { st.Close() })

	return service.NewWatchlistService(st, SetupIntegrationClient(t, cfg)), st
}
