package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/kjstillabower/weather-watchlist/internal/models"
)

const snapshotColumns = `id, location_id, temp, description, icon, humidity, wind_speed, feels_like, timestamp`

func scanSnapshot(row rowScanner) (models.WeatherSnapshot, error) {
	var s models.WeatherSnapshot
	if err := row.Scan(
		&s.ID,
		&s.LocationID,
		&s.Temp,
		&s.Description,
		&s.Icon,
		&s.Humidity,
		&s.WindSpeed,
		&s.FeelsLike,
		&s.Timestamp,
	); err != nil {
		return models.WeatherSnapshot{}, err
	}
	s.Timestamp = s.Timestamp.UTC()
	return s, nil
}

// InsertSnapshot assigns snap an ID, defaults its timestamp to now, and inserts it.
// The referenced location must exist.
func (q *Queries) InsertSnapshot(ctx context.Context, snap *models.WeatherSnapshot) error {
	snap.ID = xid.New().String()
	if snap.Timestamp.IsZero() {
		snap.Timestamp = time.Now()
	}
	snap.Timestamp = snap.Timestamp.UTC()

	_, err := q.db.ExecContext(ctx,
		`INSERT INTO weather_snapshots (`+snapshotColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.ID,
		snap.LocationID,
		snap.Temp,
		snap.Description,
		snap.Icon,
		snap.Humidity,
		snap.WindSpeed,
		snap.FeelsLike,
		snap.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("store: inserting snapshot for %s: %w", snap.LocationID, err)
	}
	return nil
}

// GetSnapshot returns the snapshot with id.
func (q *Queries) GetSnapshot(ctx context.Context, id string) (snap models.WeatherSnapshot, found bool, err error) {
	snap, err = scanSnapshot(q.db.QueryRowContext(ctx,
		`SELECT `+snapshotColumns+` FROM weather_snapshots WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.WeatherSnapshot{}, false, nil
	}
	if err != nil {
		return models.WeatherSnapshot{}, false, fmt.Errorf("store: getting snapshot %s: %w", id, err)
	}
	return snap, true, nil
}

// LatestSnapshot returns the most recently captured snapshot for the location.
func (q *Queries) LatestSnapshot(ctx context.Context, locationID string) (snap models.WeatherSnapshot, found bool, err error) {
	snap, err = scanSnapshot(q.db.QueryRowContext(ctx,
		`SELECT `+snapshotColumns+` FROM weather_snapshots
		 WHERE location_id = ?
		 ORDER BY timestamp DESC, rowid DESC
		 LIMIT 1`, locationID))
	if errors.Is(err, sql.ErrNoRows) {
		return models.WeatherSnapshot{}, false, nil
	}
	if err != nil {
		return models.WeatherSnapshot{}, false, fmt.Errorf("store: latest snapshot for %s: %w", locationID, err)
	}
	return snap, true, nil
}

// ListSnapshots returns the location's snapshots newest first. limit <= 0 returns all.
func (q *Queries) ListSnapshots(ctx context.Context, locationID string, limit int) ([]models.WeatherSnapshot, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+snapshotColumns+` FROM weather_snapshots
		 WHERE location_id = ?
		 ORDER BY timestamp DESC, rowid DESC
		 LIMIT ?`, locationID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: listing snapshots for %s: %w", locationID, err)
	}
	defer rows.Close()

	snaps := []models.WeatherSnapshot{}
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scanning snapshot: %w", err)
		}
		snaps = append(snaps, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating snapshots: %w", err)
	}
	return snaps, nil
}

// DeleteSnapshot removes one snapshot.
func (q *Queries) DeleteSnapshot(ctx context.Context, id string) (deleted bool, err error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM weather_snapshots WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("store: deleting snapshot %s: %w", id, err)
	}
	return affected(res)
}
