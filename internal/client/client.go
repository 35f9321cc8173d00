package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-watchlist/internal/health"
	"github.com/kjstillabower/weather-watchlist/internal/models"
	"github.com/kjstillabower/weather-watchlist/internal/observability"
)

// WeatherProvider is the upstream weather source. Every method degrades to an
// absent or empty result on failure; errors never leave the provider.
type WeatherProvider interface {
	SearchCities(ctx context.Context, query string) []models.CityMatch
	ResolveCoordinates(ctx context.Context, cityName string) (models.Coordinates, bool)
	GetCurrentWeather(ctx context.Context, lat, lon float64) (models.CurrentWeather, bool)
	GetForecast(ctx context.Context, lat, lon float64) []models.ForecastEntry
}

var (
	ErrInvalidAPIKey    = errors.New("invalid API key")
	ErrLocationNotFound = errors.New("location not found")
	ErrUpstreamFailure  = errors.New("upstream failure")
	ErrUpstreamRejected = errors.New("upstream rejected request")
	ErrRateLimited      = errors.New("rate limited")
	ErrMalformedPayload = errors.New("malformed payload")
)

const (
	DefaultWeatherURL = "https://api.openweathermap.org/data/2.5"
	DefaultGeoURL     = "https://api.openweathermap.org/geo/1.0"
	DefaultTimeout    = 5 * time.Second
	DefaultUnits      = "metric"

	// MinSearchLength is the shortest query forwarded to the geocoder.
	MinSearchLength  = 3
	maxSearchResults = 5
)

// Operation labels for metrics and logs.
const (
	opSearch   = "search"
	opResolve  = "resolve"
	opCurrent  = "current"
	opForecast = "forecast"
)

// BreakerConfig enables a circuit breaker around upstream calls.
type BreakerConfig struct {
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// Config holds everything the client needs; zero-valued fields take defaults.
type Config struct {
	APIKey         string
	WeatherURL     string
	GeoURL         string
	Timeout        time.Duration
	Units          string
	CircuitBreaker *BreakerConfig
}

type OpenWeatherClient struct {
	apiKey     string
	weatherURL string
	geoURL     string
	units      string
	client     *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     *zap.Logger
}

func NewOpenWeatherClient(cfg Config, logger *zap.Logger) (*OpenWeatherClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	if len(cfg.APIKey) < 10 {
		return nil, fmt.Errorf("%w: API key appears invalid (too short)", ErrInvalidAPIKey)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.WeatherURL == "" {
		cfg.WeatherURL = DefaultWeatherURL
	}
	if cfg.GeoURL == "" {
		cfg.GeoURL = DefaultGeoURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Units == "" {
		cfg.Units = DefaultUnits
	}

	c := &OpenWeatherClient{
		apiKey:     cfg.APIKey,
		weatherURL: strings.TrimRight(cfg.WeatherURL, "/"),
		geoURL:     strings.TrimRight(cfg.GeoURL, "/"),
		units:      cfg.Units,
		client:     &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
	if cfg.CircuitBreaker != nil {
		c.breaker = newBreaker(*cfg.CircuitBreaker, logger)
	}
	return c, nil
}

func newBreaker(cfg BreakerConfig, logger *zap.Logger) *gobreaker.CircuitBreaker {
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "openweathermap",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}

type geoResponse struct {
	Name    *string  `json:"name"`
	Country *string  `json:"country"`
	State   string   `json:"state"`
	Lat     *float64 `json:"lat"`
	Lon     *float64 `json:"lon"`
}

type conditionResponse struct {
	Description *string `json:"description"`
	Icon        *string `json:"icon"`
}

type currentResponse struct {
	Main *struct {
		Temp      *float64 `json:"temp"`
		FeelsLike *float64 `json:"feels_like"`
		Humidity  *int     `json:"humidity"`
	} `json:"main"`
	Weather []conditionResponse `json:"weather"`
	Wind    *struct {
		Speed *float64 `json:"speed"`
	} `json:"wind"`
}

type forecastResponse struct {
	List []struct {
		Dt   *int64 `json:"dt"`
		Main *struct {
			Temp *float64 `json:"temp"`
		} `json:"main"`
		Weather []conditionResponse `json:"weather"`
	} `json:"list"`
}

// SearchCities returns up to five geocoding matches. Queries shorter than
// MinSearchLength return an empty slice without calling the provider.
func (c *OpenWeatherClient) SearchCities(ctx context.Context, query string) []models.CityMatch {
	query = strings.TrimSpace(query)
	if len([]rune(query)) < MinSearchLength {
		return []models.CityMatch{}
	}

	matches, err := c.geocode(ctx, opSearch, query, maxSearchResults)
	if err != nil {
		c.recordFailure(ctx, opSearch, err)
		return []models.CityMatch{}
	}
	c.recordSuccess()
	if len(matches) > maxSearchResults {
		matches = matches[:maxSearchResults]
	}
	return matches
}

// ResolveCoordinates returns the first geocoding match for cityName.
func (c *OpenWeatherClient) ResolveCoordinates(ctx context.Context, cityName string) (models.Coordinates, bool) {
	matches, err := c.geocode(ctx, opResolve, cityName, 1)
	if err != nil {
		c.recordFailure(ctx, opResolve, err)
		return models.Coordinates{}, false
	}
	c.recordSuccess()
	if len(matches) == 0 {
		return models.Coordinates{}, false
	}
	m := matches[0]
	return models.Coordinates{Lat: m.Lat, Lon: m.Lon, Name: m.Name, Country: m.Country}, true
}

func (c *OpenWeatherClient) geocode(ctx context.Context, op, query string, limit int) ([]models.CityMatch, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("limit", strconv.Itoa(limit))

	var raw []geoResponse
	if err := c.getJSON(ctx, op, c.geoURL+"/direct", params, &raw); err != nil {
		return nil, err
	}

	matches := make([]models.CityMatch, 0, len(raw))
	for _, g := range raw {
		if g.Name == nil || g.Country == nil || g.Lat == nil || g.Lon == nil {
			return nil, fmt.Errorf("%w: geocoding match missing name, country or coordinates", ErrMalformedPayload)
		}
		matches = append(matches, models.CityMatch{
			Name:    *g.Name,
			Country: *g.Country,
			State:   g.State,
			Lat:     *g.Lat,
			Lon:     *g.Lon,
		})
	}
	return matches, nil
}

// GetCurrentWeather returns current conditions at the coordinates.
func (c *OpenWeatherClient) GetCurrentWeather(ctx context.Context, lat, lon float64) (models.CurrentWeather, bool) {
	var raw currentResponse
	if err := c.getJSON(ctx, opCurrent, c.weatherURL+"/weather", c.coordParams(lat, lon), &raw); err != nil {
		c.recordFailure(ctx, opCurrent, err)
		return models.CurrentWeather{}, false
	}

	current, err := mapCurrent(raw)
	if err != nil {
		c.recordFailure(ctx, opCurrent, err)
		return models.CurrentWeather{}, false
	}
	c.recordSuccess()
	return current, true
}

func mapCurrent(raw currentResponse) (models.CurrentWeather, error) {
	if raw.Main == nil || raw.Main.Temp == nil || raw.Main.FeelsLike == nil || raw.Main.Humidity == nil {
		return models.CurrentWeather{}, fmt.Errorf("%w: main block incomplete", ErrMalformedPayload)
	}
	if raw.Wind == nil || raw.Wind.Speed == nil {
		return models.CurrentWeather{}, fmt.Errorf("%w: wind.speed missing", ErrMalformedPayload)
	}
	cond, err := firstCondition(raw.Weather)
	if err != nil {
		return models.CurrentWeather{}, err
	}
	return models.CurrentWeather{
		Temp:        *raw.Main.Temp,
		Description: *cond.Description,
		Icon:        *cond.Icon,
		Humidity:    *raw.Main.Humidity,
		WindSpeed:   *raw.Wind.Speed,
		FeelsLike:   *raw.Main.FeelsLike,
	}, nil
}

// GetForecast returns the 3-hourly forecast in provider order.
func (c *OpenWeatherClient) GetForecast(ctx context.Context, lat, lon float64) []models.ForecastEntry {
	var raw forecastResponse
	if err := c.getJSON(ctx, opForecast, c.weatherURL+"/forecast", c.coordParams(lat, lon), &raw); err != nil {
		c.recordFailure(ctx, opForecast, err)
		return []models.ForecastEntry{}
	}

	entries, err := mapForecast(raw)
	if err != nil {
		c.recordFailure(ctx, opForecast, err)
		return []models.ForecastEntry{}
	}
	c.recordSuccess()
	return entries
}

func mapForecast(raw forecastResponse) ([]models.ForecastEntry, error) {
	if raw.List == nil {
		return nil, fmt.Errorf("%w: list missing", ErrMalformedPayload)
	}
	entries := make([]models.ForecastEntry, 0, len(raw.List))
	for i, item := range raw.List {
		if item.Dt == nil || item.Main == nil || item.Main.Temp == nil {
			return nil, fmt.Errorf("%w: forecast entry %d incomplete", ErrMalformedPayload, i)
		}
		cond, err := firstCondition(item.Weather)
		if err != nil {
			return nil, err
		}
		entries = append(entries, models.ForecastEntry{
			Temp:        *item.Main.Temp,
			Description: *cond.Description,
			Icon:        *cond.Icon,
			Timestamp:   time.Unix(*item.Dt, 0).UTC(),
		})
	}
	return entries, nil
}

func firstCondition(conds []conditionResponse) (conditionResponse, error) {
	if len(conds) == 0 {
		return conditionResponse{}, fmt.Errorf("%w: weather[0] missing", ErrMalformedPayload)
	}
	cond := conds[0]
	if cond.Description == nil || cond.Icon == nil {
		return conditionResponse{}, fmt.Errorf("%w: weather[0] incomplete", ErrMalformedPayload)
	}
	return cond, nil
}

func (c *OpenWeatherClient) coordParams(lat, lon float64) url.Values {
	params := url.Values{}
	params.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	params.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	params.Set("units", c.units)
	return params
}

// getJSON performs one GET against the provider and decodes the body into out.
func (c *OpenWeatherClient) getJSON(ctx context.Context, op, endpoint string, params url.Values, out any) error {
	call := func() (interface{}, error) {
		return nil, c.callAPI(ctx, op, endpoint, params, out)
	}
	if c.breaker == nil {
		_, err := call()
		return err
	}
	_, err := c.breaker.Execute(call)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		observability.WeatherAPICallsTotal.WithLabelValues(op, "circuit_open").Inc()
	}
	return err
}

func (c *OpenWeatherClient) callAPI(ctx context.Context, op, endpoint string, params url.Values, out any) error {
	start := time.Now()

	req, err := c.buildRequest(ctx, endpoint, params)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues(op, "error").Inc()
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		duration := time.Since(start).Seconds()
		observability.WeatherAPICallsTotal.WithLabelValues(op, "error").Inc()
		observability.WeatherAPIDuration.WithLabelValues(op, "error").Observe(duration)

		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return fmt.Errorf("request timeout: %w", err)
		}
		var urlErr *url.Error
		if errors.As(err, &urlErr) && urlErr.Timeout() {
			return fmt.Errorf("request timeout: %w", context.DeadlineExceeded)
		}
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	duration := time.Since(start).Seconds()
	status := statusLabel(resp.StatusCode)
	observability.WeatherAPICallsTotal.WithLabelValues(op, status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(op, status).Observe(duration)

	if err := handleErrorResponse(resp); err != nil {
		return err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

func (c *OpenWeatherClient) buildRequest(ctx context.Context, endpoint string, params url.Values) (*http.Request, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	q.Set("appid", c.apiKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if corrID := observability.CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}
	return req, nil
}

func handleErrorResponse(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: invalid API key", ErrInvalidAPIKey)
	case http.StatusNotFound:
		return fmt.Errorf("%w", ErrLocationNotFound)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w", ErrRateLimited)
	}

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamRejected, resp.StatusCode)
	}
	return nil
}

func (c *OpenWeatherClient) recordSuccess() {
	health.RecordUpstreamSuccess()
}

// recordFailure logs and counts a failure that is about to be degraded to an empty result.
func (c *OpenWeatherClient) recordFailure(ctx context.Context, op string, err error) {
	category := CategorizeError(err)
	observability.WeatherAPIErrorsTotal.WithLabelValues(op, string(category)).Inc()
	health.RecordUpstreamError()

	fields := []zap.Field{
		zap.String("operation", op),
		zap.String("category", string(category)),
		zap.Error(err),
	}
	if corrID := observability.CorrelationID(ctx); corrID != "" {
		fields = append(fields, zap.String("correlation_id", corrID))
	}
	c.logger.Warn("weather provider call failed", fields...)
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
