package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalEnvYAML = `
server:
  port: "8080"
weather_api:
  url: "https://api.example.com/data/2.5"
  geo_url: "https://api.example.com/geo/1.0"
  timeout: "2s"
request:
  timeout: "10s"
reliability:
  rate_limit_rps: 5
  rate_limit_burst: 10
shutdown:
  timeout: "10s"
`

// clearKeyEnv blanks every variable Load consults so the host environment cannot leak in.
func clearKeyEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"WEATHER_API_KEY", "OPENWEATHER_API_KEY", "ENV_NAME", "DATABASE_PATH", "SERVER_PORT"} {
		t.Setenv(k, "")
	}
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(origWd) })
}

func TestLoad_FailsWhenNoAPIKey(t *testing.T) {
	clearKeyEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML)
	chdir(t, dir)

	cfg, err := Load()
	if err == nil {
		t.Fatal("Load() expected error when no API key is configured, got nil")
	}
	if cfg != nil {
		t.Fatalf("Load() expected nil config on error, got %+v", cfg)
	}
	if !strings.Contains(err.Error(), "WEATHER_API_KEY") {
		t.Errorf("Load() error = %v, want message containing WEATHER_API_KEY", err)
	}
}

func TestLoad_APIKeySources(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		secrets string
		dotenv  string
		want    string
	}{
		{"secrets file", nil, "weather_api_key: key-from-secrets-file\n", "", "key-from-secrets-file"},
		{"primary env wins", map[string]string{"WEATHER_API_KEY": "primary", "OPENWEATHER_API_KEY": "fallback"}, "weather_api_key: secret\n", "", "primary"},
		{"fallback env", map[string]string{"OPENWEATHER_API_KEY": "fallback"}, "weather_api_key: secret\n", "", "fallback"},
		{"dotenv file", nil, "", "OPENWEATHER_API_KEY=from-dotenv\n", "from-dotenv"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearKeyEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			dir := t.TempDir()
			writeEnvFile(t, dir, minimalEnvYAML)
			if tt.secrets != "" {
				writeSecretsFile(t, dir, tt.secrets)
			}
			if tt.dotenv != "" {
				if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(tt.dotenv), 0644); err != nil {
					t.Fatalf("write .env: %v", err)
				}
				// godotenv sets the variable process-wide; restore it after the test.
				t.Setenv("OPENWEATHER_API_KEY", "")
				os.Unsetenv("OPENWEATHER_API_KEY")
			}
			chdir(t, dir)

			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if cfg.WeatherAPIKey != tt.want {
				t.Errorf("WeatherAPIKey = %q, want %q", cfg.WeatherAPIKey, tt.want)
			}
		})
	}
}

func TestLoad_EnvFileNotFound(t *testing.T) {
	clearKeyEnv(t)
	t.Setenv("ENV_NAME", "nonexistent")
	t.Setenv("WEATHER_API_KEY", "test-key-1234567890")
	chdir(t, t.TempDir())

	_, err := Load()
	if err == nil {
		t.Fatal("Load() expected error for missing config file, got nil")
	}
	if !strings.Contains(err.Error(), "config file not found") {
		t.Errorf("Load() error = %v, want config file not found", err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearKeyEnv(t)
	t.Setenv("WEATHER_API_KEY", "test-key-1234567890")
	dir := t.TempDir()
	writeEnvFile(t, dir, "server: {}\n")
	chdir(t, dir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ServerPort != "8000" {
		t.Errorf("ServerPort = %q, want 8000", cfg.ServerPort)
	}
	if cfg.DatabasePath != "data/weather.db" {
		t.Errorf("DatabasePath = %q, want data/weather.db", cfg.DatabasePath)
	}
	if cfg.WeatherAPITimeout != 5*time.Second {
		t.Errorf("WeatherAPITimeout = %v, want 5s", cfg.WeatherAPITimeout)
	}
	if cfg.WeatherUnits != "metric" {
		t.Errorf("WeatherUnits = %q, want metric", cfg.WeatherUnits)
	}
	if cfg.CircuitBreakerEnabled {
		t.Error("CircuitBreakerEnabled = true, want false by default")
	}
	if cfg.RequestTimeout < 2*cfg.WeatherAPITimeout {
		t.Errorf("RequestTimeout = %v, want at least two provider timeouts", cfg.RequestTimeout)
	}
	if cfg.RateLimitRPS != 100 || cfg.RateLimitBurst != 250 {
		t.Errorf("rate limit = %d/%d, want 100/250", cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearKeyEnv(t)
	t.Setenv("WEATHER_API_KEY", "test-key-1234567890")
	t.Setenv("DATABASE_PATH", "/tmp/override.db")
	t.Setenv("SERVER_PORT", "9999")
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML+"database:\n  path: \"from-yaml.db\"\n")
	chdir(t, dir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DatabasePath != "/tmp/override.db" {
		t.Errorf("DatabasePath = %q, want env override", cfg.DatabasePath)
	}
	if cfg.ServerPort != "9999" {
		t.Errorf("ServerPort = %q, want env override", cfg.ServerPort)
	}
}

func TestLoad_InvalidDurationFallsBackToDefault(t *testing.T) {
	clearKeyEnv(t)
	t.Setenv("WEATHER_API_KEY", "test-key-1234567890")
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML+"health:\n  degraded_window: \"soon\"\n")
	chdir(t, dir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DegradedWindow != 60*time.Second {
		t.Errorf("DegradedWindow = %v, want 60s default", cfg.DegradedWindow)
	}
}

// TestLoad_RequestTimeoutStretched verifies the request deadline covers two sequential provider calls.
func TestLoad_RequestTimeoutStretched(t *testing.T) {
	clearKeyEnv(t)
	t.Setenv("WEATHER_API_KEY", "test-key-1234567890")
	dir := t.TempDir()
	writeEnvFile(t, dir, strings.Replace(minimalEnvYAML, `timeout: "10s"`, `timeout: "3s"`, 1))
	chdir(t, dir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RequestTimeout != 5*time.Second {
		t.Errorf("RequestTimeout = %v, want 5s (2 x 2s + 1s)", cfg.RequestTimeout)
	}
}

func TestLoad_ValidationFailures(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantMsg string
	}{
		{"zero provider timeout", strings.Replace(minimalEnvYAML, `timeout: "2s"`, `timeout: "0s"`, 1), "weather_api.timeout"},
		{"unknown units", strings.Replace(minimalEnvYAML, `timeout: "2s"`, "timeout: \"2s\"\n  units: kelvin", 1), "weather_api.units"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearKeyEnv(t)
			t.Setenv("WEATHER_API_KEY", "test-key-1234567890")
			dir := t.TempDir()
			writeEnvFile(t, dir, tt.yaml)
			chdir(t, dir)

			cfg, err := Load()
			if err == nil {
				t.Fatal("Load() expected validation error, got nil")
			}
			if cfg != nil {
				t.Fatalf("Load() expected nil config on error, got %+v", cfg)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Load() error = %v, want message about %s", err, tt.wantMsg)
			}
		})
	}
}

func TestLoad_InvalidSecretsYAML(t *testing.T) {
	clearKeyEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML)
	writeSecretsFile(t, dir, "not valid: yaml: [[[")
	chdir(t, dir)

	cfg, err := Load()
	if err == nil {
		t.Fatal("Load() expected error for invalid secrets YAML, got nil")
	}
	if cfg != nil {
		t.Fatalf("Load() expected nil config on error, got %+v", cfg)
	}
	if !strings.Contains(err.Error(), "secrets") {
		t.Errorf("Load() error = %v, want message about secrets", err)
	}
}

func TestLoad_InvalidConfigYAML(t *testing.T) {
	clearKeyEnv(t)
	t.Setenv("WEATHER_API_KEY", "test-key-1234567890")
	dir := t.TempDir()
	writeEnvFile(t, dir, "not: valid: yaml: [[[")
	chdir(t, dir)

	cfg, err := Load()
	if err == nil {
		t.Fatal("Load() expected error for invalid config YAML, got nil")
	}
	if cfg != nil {
		t.Fatalf("Load() expected nil config on error, got %+v", cfg)
	}
	if !strings.Contains(err.Error(), "parse config file") {
		t.Errorf("Load() error = %v, want parse config file", err)
	}
}

func TestLoad_ProjectDevConfig(t *testing.T) {
	clearKeyEnv(t)
	t.Setenv("WEATHER_API_KEY", "test-key-1234567890")
	chdir(t, findProjectRoot(t))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.WeatherAPIURL == "" || cfg.WeatherGeoURL == "" || cfg.ServerPort == "" {
		t.Errorf("Load() did not populate config from config/dev.yaml: %+v", cfg)
	}
}

func TestLoad_HealthConfig(t *testing.T) {
	clearKeyEnv(t)
	t.Setenv("WEATHER_API_KEY", "test-key-1234567890")
	healthYAML := minimalEnvYAML + `
health:
  overload_window: "30s"
  overload_threshold_pct: 90
  degraded_window: "2m"
  degraded_error_pct: 10
`
	dir := t.TempDir()
	writeEnvFile(t, dir, healthYAML)
	chdir(t, dir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.OverloadWindow != 30*time.Second {
		t.Errorf("OverloadWindow = %v, want 30s", cfg.OverloadWindow)
	}
	if cfg.OverloadThresholdPct != 90 {
		t.Errorf("OverloadThresholdPct = %d, want 90", cfg.OverloadThresholdPct)
	}
	if cfg.DegradedWindow != 2*time.Minute {
		t.Errorf("DegradedWindow = %v, want 2m", cfg.DegradedWindow)
	}
	if cfg.DegradedErrorPct != 10 {
		t.Errorf("DegradedErrorPct = %d, want 10", cfg.DegradedErrorPct)
	}
}

func writeEnvFile(t *testing.T, dir, content string) {
	t.Helper()
	configDir := filepath.Join(dir, "config")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("mkdir config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, "dev.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
}

func writeSecretsFile(t *testing.T, dir, content string) {
	t.Helper()
	secretsDir := filepath.Join(dir, "config")
	if err := os.MkdirAll(secretsDir, 0755); err != nil {
		t.Fatalf("mkdir config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(secretsDir, "secrets.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("write secrets file: %v", err)
	}
}

func findProjectRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "config", "dev.yaml")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("config/dev.yaml not found (run tests from project root)")
		}
		dir = parent
	}
}
