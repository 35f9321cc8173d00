package health

import (
	"context"
	"net/http"
	"time"
)

// Status values reported by /health.
const (
	StatusHealthy      = "healthy"
	StatusDegraded     = "degraded"
	StatusOverloaded   = "overloaded"
	StatusShuttingDown = "shutting-down"
	StatusUnhealthy    = "unhealthy"
)

// Config holds the thresholds used to evaluate health.
type Config struct {
	OverloadWindow       time.Duration
	OverloadThresholdPct int
	RateLimitRPS         int // 0 disables the overload check
	DegradedWindow       time.Duration
	DegradedErrorPct     int // 0 disables the degraded check
	// DatabasePing, when set, is called to check store reachability.
	DatabasePing func(ctx context.Context) error
}

// Result is the evaluated health status.
type Result struct {
	Status     string
	StatusCode int
	Reason     string
	Checks     map[string]string
}

// Evaluate determines the current status. Decision order:
// shutting-down > database unreachable > overloaded > degraded > healthy.
func Evaluate(ctx context.Context, cfg Config) Result {
	checks := map[string]string{"weatherApi": "healthy"}

	if IsShuttingDown() {
		return Result{StatusShuttingDown, http.StatusServiceUnavailable, "signal", checks}
	}

	if cfg.DatabasePing != nil {
		if err := cfg.DatabasePing(ctx); err != nil {
			checks["database"] = "unhealthy"
			return Result{StatusUnhealthy, http.StatusServiceUnavailable, "database_unreachable", checks}
		}
		checks["database"] = "healthy"
	}

	if cfg.RateLimitRPS > 0 && cfg.OverloadWindow > 0 && cfg.OverloadThresholdPct > 0 {
		threshold := float64(cfg.RateLimitRPS) * cfg.OverloadWindow.Seconds() * float64(cfg.OverloadThresholdPct) / 100
		if float64(RequestCount(cfg.OverloadWindow)) > threshold {
			return Result{StatusOverloaded, http.StatusServiceUnavailable, "overload_threshold", checks}
		}
	}

	if cfg.DegradedWindow > 0 && cfg.DegradedErrorPct > 0 {
		errs, total := ErrorRate(cfg.DegradedWindow)
		if total > 0 && float64(errs)*100/float64(total) >= float64(cfg.DegradedErrorPct) {
			checks["weatherApi"] = "unhealthy"
			return Result{StatusDegraded, http.StatusServiceUnavailable, "error_rate_breach", checks}
		}
	}

	return Result{StatusHealthy, http.StatusOK, "", checks}
}
