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

const locationColumns = `id, name, country, lat, lon, display_name, is_favorite, last_synced`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLocation(row rowScanner) (models.Location, error) {
	var (
		loc         models.Location
		displayName sql.NullString
		lastSynced  sql.NullTime
	)
	if err := row.Scan(
		&loc.ID,
		&loc.Name,
		&loc.Country,
		&loc.Lat,
		&loc.Lon,
		&displayName,
		&loc.IsFavorite,
		&lastSynced,
	); err != nil {
		return models.Location{}, err
	}
	if displayName.Valid {
		s := displayName.String
		loc.DisplayName = &s
	}
	if lastSynced.Valid {
		t := lastSynced.Time.UTC()
		loc.LastSynced = &t
	}
	return loc, nil
}

// ListLocations returns every location in insertion order.
func (q *Queries) ListLocations(ctx context.Context) ([]models.Location, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+locationColumns+` FROM locations ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("store: listing locations: %w", err)
	}
	defer rows.Close()

	locations := []models.Location{}
	for rows.Next() {
		loc, err := scanLocation(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scanning location: %w", err)
		}
		locations = append(locations, loc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating locations: %w", err)
	}
	return locations, nil
}

// GetLocation returns the location with id. found is false when none exists.
func (q *Queries) GetLocation(ctx context.Context, id string) (loc models.Location, found bool, err error) {
	loc, err = scanLocation(q.db.QueryRowContext(ctx,
		`SELECT `+locationColumns+` FROM locations WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Location{}, false, nil
	}
	if err != nil {
		return models.Location{}, false, fmt.Errorf("store: getting location %s: %w", id, err)
	}
	return loc, true, nil
}

// FindLocationByCoordinates returns the location at exactly (lat, lon).
func (q *Queries) FindLocationByCoordinates(ctx context.Context, lat, lon float64) (loc models.Location, found bool, err error) {
	loc, err = scanLocation(q.db.QueryRowContext(ctx,
		`SELECT `+locationColumns+` FROM locations WHERE lat = ? AND lon = ?`, lat, lon))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Location{}, false, nil
	}
	if err != nil {
		return models.Location{}, false, fmt.Errorf("store: finding location at (%v, %v): %w", lat, lon, err)
	}
	return loc, true, nil
}

// InsertLocation assigns loc an ID and inserts it. Returns ErrDuplicateCoordinates
// when (lat, lon) is already tracked.
func (q *Queries) InsertLocation(ctx context.Context, loc *models.Location) error {
	loc.ID = xid.New().String()

	_, err := q.db.ExecContext(ctx,
		`INSERT INTO locations (`+locationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		loc.ID,
		loc.Name,
		loc.Country,
		loc.Lat,
		loc.Lon,
		nullString(loc.DisplayName),
		loc.IsFavorite,
		nullTime(loc.LastSynced),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateCoordinates
		}
		return fmt.Errorf("store: inserting location: %w", err)
	}
	return nil
}

// UpdateLocation writes the mutable fields of loc. updated is false when no row matched.
func (q *Queries) UpdateLocation(ctx context.Context, loc models.Location) (updated bool, err error) {
	res, err := q.db.ExecContext(ctx,
		`UPDATE locations SET display_name = ?, is_favorite = ? WHERE id = ?`,
		nullString(loc.DisplayName), loc.IsFavorite, loc.ID)
	if err != nil {
		return false, fmt.Errorf("store: updating location %s: %w", loc.ID, err)
	}
	return affected(res)
}

// MarkSynced sets last_synced on the location.
func (q *Queries) MarkSynced(ctx context.Context, id string, at time.Time) (updated bool, err error) {
	res, err := q.db.ExecContext(ctx,
		`UPDATE locations SET last_synced = ? WHERE id = ?`, at.UTC(), id)
	if err != nil {
		return false, fmt.Errorf("store: marking location %s synced: %w", id, err)
	}
	return affected(res)
}

// DeleteLocation removes the location row. Snapshots must be deleted first.
func (q *Queries) DeleteLocation(ctx context.Context, id string) (deleted bool, err error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM locations WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("store: deleting location %s: %w", id, err)
	}
	return affected(res)
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: rows affected: %w", err)
	}
	return n > 0, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
