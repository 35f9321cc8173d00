package models

import "time"

// CityMatch is one geocoding candidate returned by city search.
type CityMatch struct {
	Name    string  `json:"name"`
	Country string  `json:"country"`
	State   string  `json:"state"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

// Coordinates is the best geocoding match for a city name.
type Coordinates struct {
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Name    string  `json:"name"`
	Country string  `json:"country"`
}

// CurrentWeather holds current conditions as reported by the provider.
type CurrentWeather struct {
	Temp        float64 `json:"temp"`
	Description string  `json:"description"`
	Icon        string  `json:"icon"`
	Humidity    int     `json:"humidity"`
	WindSpeed   float64 `json:"windSpeed"`
	FeelsLike   float64 `json:"feelsLike"`
}

// ForecastEntry is one 3-hour forecast interval.
type ForecastEntry struct {
	Temp        float64   `json:"temp"`
	Description string    `json:"description"`
	Icon        string    `json:"icon"`
	Timestamp   time.Time `json:"timestamp"`
}

// WeatherReport combines a location, its latest stored snapshot (nil when the
// location was never synced) and the live forecast.
type WeatherReport struct {
	Location Location         `json:"location"`
	Current  *WeatherSnapshot `json:"current"`
	Forecast []ForecastEntry  `json:"forecast"`
}
