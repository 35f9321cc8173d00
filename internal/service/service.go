// Package service implements the watchlist operations and the location sync
// workflow on top of the store and the weather provider.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-watchlist/internal/client"
	"github.com/kjstillabower/weather-watchlist/internal/models"
	"github.com/kjstillabower/weather-watchlist/internal/observability"
	"github.com/kjstillabower/weather-watchlist/internal/store"
	"github.com/kjstillabower/weather-watchlist/internal/validation"
)

var (
	// ErrNotFound means the location (or city) does not exist.
	ErrNotFound = errors.New("not found")
	// ErrProviderUnavailable means the weather provider returned no usable data.
	ErrProviderUnavailable = errors.New("weather provider unavailable")
	// ErrInvalidInput means the caller supplied a malformed value.
	ErrInvalidInput = errors.New("invalid input")
)

// WatchlistService orchestrates the watchlist. Provider calls are never made
// while a store transaction is open.
type WatchlistService struct {
	store    *store.Store
	provider client.WeatherProvider
	now      func() time.Time
}

// NewWatchlistService creates a WatchlistService using the wall clock.
func NewWatchlistService(st *store.Store, provider client.WeatherProvider) *WatchlistService {
	return &WatchlistService{
		store:    st,
		provider: provider,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the clock used for snapshot and sync timestamps.
func (s *WatchlistService) WithClock(now func() time.Time) *WatchlistService {
	s.now = now
	return s
}

// ListLocations returns every tracked location in insertion order.
func (s *WatchlistService) ListLocations(ctx context.Context) ([]models.Location, error) {
	return s.store.ListLocations(ctx)
}

// SearchCities returns up to five geocoding matches, or an empty slice for
// queries shorter than three characters.
func (s *WatchlistService) SearchCities(ctx context.Context, query string) []models.CityMatch {
	query = strings.TrimSpace(query)
	if len([]rune(query)) < client.MinSearchLength {
		return []models.CityMatch{}
	}
	return s.provider.SearchCities(ctx, query)
}

// AddLocation resolves cityName, returns the existing location at the resolved
// coordinates if any, and otherwise persists a new location together with its
// first snapshot. A failed first sync persists nothing.
func (s *WatchlistService) AddLocation(ctx context.Context, cityName string) (models.Location, error) {
	logger := observability.LoggerFromContext(ctx)

	name, err := validation.ValidateCityName(cityName, 1, validation.MaxNameLength)
	if err != nil {
		observability.LocationAddsTotal.WithLabelValues("invalid").Inc()
		return models.Location{}, fmt.Errorf("%w: city name: %v", ErrInvalidInput, err)
	}

	coords, ok := s.provider.ResolveCoordinates(ctx, name)
	if !ok {
		observability.LocationAddsTotal.WithLabelValues("not_found").Inc()
		return models.Location{}, fmt.Errorf("%w: city %q not found or provider unavailable", ErrNotFound, name)
	}

	existing, found, err := s.store.FindLocationByCoordinates(ctx, coords.Lat, coords.Lon)
	if err != nil {
		observability.LocationAddsTotal.WithLabelValues("error").Inc()
		return models.Location{}, err
	}
	if found {
		observability.LocationAddsTotal.WithLabelValues("existing").Inc()
		logger.Debug("location already tracked", zap.String("location_id", existing.ID), zap.String("city", name))
		return existing, nil
	}

	current, ok := s.provider.GetCurrentWeather(ctx, coords.Lat, coords.Lon)
	if !ok {
		observability.LocationAddsTotal.WithLabelValues("provider_unavailable").Inc()
		return models.Location{}, fmt.Errorf("%w: no current weather for %q", ErrProviderUnavailable, name)
	}

	now := s.now().UTC()
	var (
		result  models.Location
		created bool
	)
	err = s.store.WithTx(ctx, func(q *store.Queries) error {
		loc := models.Location{
			Name:    coords.Name,
			Country: coords.Country,
			Lat:     coords.Lat,
			Lon:     coords.Lon,
		}
		if err := q.InsertLocation(ctx, &loc); err != nil {
			if !errors.Is(err, store.ErrDuplicateCoordinates) {
				return err
			}
			// Lost a race with a concurrent add of the same coordinates.
			dup, found, err := q.FindLocationByCoordinates(ctx, coords.Lat, coords.Lon)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("location at (%v, %v) vanished after duplicate insert", coords.Lat, coords.Lon)
			}
			result = dup
			return nil
		}

		if _, err := recordSnapshot(ctx, q, loc.ID, current, now); err != nil {
			return err
		}
		loc.LastSynced = &now
		result = loc
		created = true
		return nil
	})
	if err != nil {
		observability.LocationAddsTotal.WithLabelValues("error").Inc()
		return models.Location{}, fmt.Errorf("add location %q: %w", name, err)
	}

	if !created {
		observability.LocationAddsTotal.WithLabelValues("existing").Inc()
		return result, nil
	}
	observability.LocationAddsTotal.WithLabelValues("created").Inc()
	observability.SnapshotsRecordedTotal.Inc()
	logger.Info("location added",
		zap.String("location_id", result.ID),
		zap.String("city", result.Name),
		zap.String("country", result.Country),
	)
	return result, nil
}

// UpdateLocation applies the set fields of upd to the location.
func (s *WatchlistService) UpdateLocation(ctx context.Context, id string, upd models.LocationUpdate) (models.Location, error) {
	if upd.DisplayName.Set && upd.DisplayName.Value != nil {
		if err := validation.ValidateDisplayName(*upd.DisplayName.Value); err != nil {
			return models.Location{}, fmt.Errorf("%w: display name: %v", ErrInvalidInput, err)
		}
	}

	var result models.Location
	err := s.store.WithTx(ctx, func(q *store.Queries) error {
		loc, found, err := q.GetLocation(ctx, id)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: location %s", ErrNotFound, id)
		}
		if upd.Empty() {
			result = loc
			return nil
		}
		upd.Apply(&loc)
		updated, err := q.UpdateLocation(ctx, loc)
		if err != nil {
			return err
		}
		if !updated {
			return fmt.Errorf("%w: location %s", ErrNotFound, id)
		}
		result = loc
		return nil
	})
	if err != nil {
		return models.Location{}, err
	}

	observability.LoggerFromContext(ctx).Info("location updated",
		zap.String("location_id", id),
		zap.Bool("favorite_set", upd.IsFavorite.Set),
		zap.Bool("display_name_set", upd.DisplayName.Set),
	)
	return result, nil
}

// DeleteLocation removes the location and all of its snapshots atomically.
func (s *WatchlistService) DeleteLocation(ctx context.Context, id string) error {
	var removed int
	err := s.store.WithTx(ctx, func(q *store.Queries) error {
		_, found, err := q.GetLocation(ctx, id)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: location %s", ErrNotFound, id)
		}

		snaps, err := q.ListSnapshots(ctx, id, 0)
		if err != nil {
			return err
		}
		for _, snap := range snaps {
			if _, err := q.DeleteSnapshot(ctx, snap.ID); err != nil {
				return err
			}
		}
		removed = len(snaps)

		deleted, err := q.DeleteLocation(ctx, id)
		if err != nil {
			return err
		}
		if !deleted {
			return fmt.Errorf("%w: location %s", ErrNotFound, id)
		}
		return nil
	})
	if err != nil {
		return err
	}

	observability.LoggerFromContext(ctx).Info("location deleted",
		zap.String("location_id", id),
		zap.Int("snapshots_removed", removed),
	)
	return nil
}

// GetWeather returns the location, its latest snapshot (nil when none) and the
// live forecast (empty when the provider fails).
func (s *WatchlistService) GetWeather(ctx context.Context, id string) (models.WeatherReport, error) {
	loc, found, err := s.store.GetLocation(ctx, id)
	if err != nil {
		return models.WeatherReport{}, err
	}
	if !found {
		return models.WeatherReport{}, fmt.Errorf("%w: location %s", ErrNotFound, id)
	}

	report := models.WeatherReport{Location: loc}
	latest, found, err := s.store.LatestSnapshot(ctx, id)
	if err != nil {
		return models.WeatherReport{}, err
	}
	if found {
		report.Current = &latest
	}

	report.Forecast = s.provider.GetForecast(ctx, loc.Lat, loc.Lon)
	if report.Forecast == nil {
		report.Forecast = []models.ForecastEntry{}
	}
	return report, nil
}

// SyncLocation fetches current weather for the location and records it as a
// new snapshot, updating lastSynced in the same transaction.
func (s *WatchlistService) SyncLocation(ctx context.Context, id string) (models.WeatherSnapshot, error) {
	loc, found, err := s.store.GetLocation(ctx, id)
	if err != nil {
		observability.LocationSyncsTotal.WithLabelValues("error").Inc()
		return models.WeatherSnapshot{}, err
	}
	if !found {
		observability.LocationSyncsTotal.WithLabelValues("not_found").Inc()
		return models.WeatherSnapshot{}, fmt.Errorf("%w: location %s", ErrNotFound, id)
	}

	current, ok := s.provider.GetCurrentWeather(ctx, loc.Lat, loc.Lon)
	if !ok {
		observability.LocationSyncsTotal.WithLabelValues("provider_unavailable").Inc()
		return models.WeatherSnapshot{}, fmt.Errorf("%w: no current weather for location %s", ErrProviderUnavailable, id)
	}

	now := s.now().UTC()
	var snap models.WeatherSnapshot
	err = s.store.WithTx(ctx, func(q *store.Queries) error {
		var err error
		snap, err = recordSnapshot(ctx, q, id, current, now)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			observability.LocationSyncsTotal.WithLabelValues("not_found").Inc()
		} else {
			observability.LocationSyncsTotal.WithLabelValues("error").Inc()
		}
		return models.WeatherSnapshot{}, err
	}

	observability.LocationSyncsTotal.WithLabelValues("success").Inc()
	observability.SnapshotsRecordedTotal.Inc()
	observability.LoggerFromContext(ctx).Info("location synced",
		zap.String("location_id", id),
		zap.String("snapshot_id", snap.ID),
		zap.Float64("temp", snap.Temp),
	)
	return snap, nil
}

// History returns up to limit snapshots for the location, newest first.
// limit <= 0 returns all of them.
func (s *WatchlistService) History(ctx context.Context, id string, limit int) ([]models.WeatherSnapshot, error) {
	_, found, err := s.store.GetLocation(ctx, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: location %s", ErrNotFound, id)
	}
	return s.store.ListSnapshots(ctx, id, limit)
}

// recordSnapshot inserts a snapshot of current and marks the location synced at now.
func recordSnapshot(ctx context.Context, q *store.Queries, locationID string, current models.CurrentWeather, now time.Time) (models.WeatherSnapshot, error) {
	if _, found, err := q.GetLocation(ctx, locationID); err != nil {
		return models.WeatherSnapshot{}, err
	} else if !found {
		return models.WeatherSnapshot{}, fmt.Errorf("%w: location %s", ErrNotFound, locationID)
	}

	snap := models.WeatherSnapshot{
		LocationID:  locationID,
		Temp:        current.Temp,
		Description: current.Description,
		Icon:        current.Icon,
		Humidity:    current.Humidity,
		WindSpeed:   current.WindSpeed,
		FeelsLike:   current.FeelsLike,
		Timestamp:   now,
	}
	if err := q.InsertSnapshot(ctx, &snap); err != nil {
		return models.WeatherSnapshot{}, err
	}
	updated, err := q.MarkSynced(ctx, locationID, now)
	if err != nil {
		return models.WeatherSnapshot{}, err
	}
	if !updated {
		return models.WeatherSnapshot{}, fmt.Errorf("%w: location %s", ErrNotFound, locationID)
	}
	return snap, nil
}
