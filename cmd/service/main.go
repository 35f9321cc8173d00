package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-watchlist/internal/client"
	"github.com/kjstillabower/weather-watchlist/internal/config"
	"github.com/kjstillabower/weather-watchlist/internal/health"
	httphandler "github.com/kjstillabower/weather-watchlist/internal/http"
	"github.com/kjstillabower/weather-watchlist/internal/observability"
	"github.com/kjstillabower/weather-watchlist/internal/service"
	"github.com/kjstillabower/weather-watchlist/internal/store"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	srv, st, err := newServer(cfg, logger)
	if err != nil {
		logger.Fatal("startup", zap.Error(err))
	}

	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	health.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests", zap.Int64("count", httphandler.InFlightCount()))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, cfg.ShutdownInFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if err := st.Close(); err != nil {
		logger.Error("store close", zap.Error(err))
	}

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// newServer opens the store and builds the client, service and router described by cfg.
// The caller owns the returned store.
func newServer(cfg *config.Config, logger *zap.Logger) (*http.Server, *store.Store, error) {
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, nil, fmt.Errorf("store %q: %w", cfg.DatabasePath, err)
	}
	logger.Info("store opened", zap.String("path", cfg.DatabasePath))

	clientCfg := client.Config{
		APIKey:     cfg.WeatherAPIKey,
		WeatherURL: cfg.WeatherAPIURL,
		GeoURL:     cfg.WeatherGeoURL,
		Timeout:    cfg.WeatherAPITimeout,
		Units:      cfg.WeatherUnits,
	}
	if cfg.CircuitBreakerEnabled {
		clientCfg.CircuitBreaker = &client.BreakerConfig{
			FailureThreshold: cfg.CircuitBreakerThreshold,
			OpenTimeout:      cfg.CircuitBreakerTimeout,
		}
		logger.Info("circuit breaker enabled",
			zap.Uint32("failure_threshold", cfg.CircuitBreakerThreshold),
			zap.Duration("timeout", cfg.CircuitBreakerTimeout))
	}
	weatherClient, err := client.NewOpenWeatherClient(clientCfg, logger)
	if err != nil {
		_ = st.Close()
		return nil, nil, fmt.Errorf("weather client: %w", err)
	}

	healthConfig := health.Config{
		OverloadWindow:       cfg.OverloadWindow,
		OverloadThresholdPct: cfg.OverloadThresholdPct,
		RateLimitRPS:         cfg.RateLimitRPS,
		DegradedWindow:       cfg.DegradedWindow,
		DegradedErrorPct:     cfg.DegradedErrorPct,
		DatabasePing:         st.Ping,
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	observability.RegisterWindowGauges(cfg.OverloadWindow, health.RequestCount, health.DenialCount)

	handler := httphandler.NewHandler(service.NewWatchlistService(st, weatherClient), healthConfig, logger)
	router := httphandler.NewRouter(handler, logger, httphandler.RouterConfig{
		RequestTimeout: cfg.RequestTimeout,
		Limiter:        limiter,
	})

	return &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
	}, st, nil
}
