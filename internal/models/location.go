package models

import "time"

// Location is a city on the watchlist. Coordinates are unique across locations.
type Location struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Country     string     `json:"country"`
	Lat         float64    `json:"lat"`
	Lon         float64    `json:"lon"`
	DisplayName *string    `json:"displayName"`
	IsFavorite  bool       `json:"isFavorite"`
	LastSynced  *time.Time `json:"lastSynced"`
}

// WeatherSnapshot is one immutable observation recorded for a Location.
type WeatherSnapshot struct {
	ID          string    `json:"id"`
	LocationID  string    `json:"locationId"`
	Temp        float64   `json:"temp"`
	Description string    `json:"description"`
	Icon        string    `json:"icon"`
	Humidity    int       `json:"humidity"`
	WindSpeed   float64   `json:"windSpeed"`
	FeelsLike   float64   `json:"feelsLike"`
	Timestamp   time.Time `json:"timestamp"`
}

// LocationUpdate lists the user-editable fields of a Location. Fields that are
// not Set are left untouched. DisplayName set to nil clears the override.
type LocationUpdate struct {
	IsFavorite  Optional[bool]
	DisplayName Optional[*string]
}

// Empty reports whether the update changes nothing.
func (u LocationUpdate) Empty() bool {
	return !u.IsFavorite.Set && !u.DisplayName.Set
}

// Apply copies the set fields onto loc.
func (u LocationUpdate) Apply(loc *Location) {
	if u.IsFavorite.Set {
		loc.IsFavorite = u.IsFavorite.Value
	}
	if u.DisplayName.Set {
		loc.DisplayName = u.DisplayName.Value
	}
}
