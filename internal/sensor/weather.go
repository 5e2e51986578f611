package sensor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"machine_control/internal/logger"

	"github.com/sony/gobreaker"
)

const (
	DefaultWeatherURL = "https://api.openweathermap.org/data/2.5/weather"
	// Monterrey, MX
	DefaultLatitude  = 25.683367718378108
	DefaultLongitude = -100.32335820290318

	breakerFailures = 3
	breakerCooldown = 2 * time.Minute
	maxBodyBytes    = 1 << 16
)

// WeatherConfig configures the OpenWeatherMap source.
type WeatherConfig struct {
	APIKey    string
	BaseURL   string
	Latitude  float64
	Longitude float64
	Client    *http.Client
}

// WeatherSource reads the current outdoor temperature from OpenWeatherMap.
// Consecutive failures open a circuit breaker so a dead API is not hammered
// on every tick.
type WeatherSource struct {
	cfg    WeatherConfig
	client *http.Client
	cb     *gobreaker.CircuitBreaker
	log    *logger.Logger
}

type weatherResponse struct {
	Main *struct {
		Temp *float64 `json:"temp"`
	} `json:"main"`
}

// NewWeatherSource validates cfg and returns a ready source.
func NewWeatherSource(cfg WeatherConfig, log *logger.Logger) (*WeatherSource, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: openweathermap api key", ErrMissingCredential)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultWeatherURL
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("sensor: weather url: %w", err)
	}
	if log == nil {
		log = logger.Nop()
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	w := &WeatherSource{cfg: cfg, client: client, log: log}
	w.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "openweathermap",
		MaxRequests: 1,
		Timeout:     breakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warnw("circuit_breaker_state_changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return w, nil
}

func (w *WeatherSource) Name() string { return KindWeather }

// Fetch returns the current temperature in Celsius.
func (w *WeatherSource) Fetch(ctx context.Context) (float64, error) {
	v, err := w.cb.Execute(func() (interface{}, error) {
		return w.fetch(ctx)
	})
	if err != nil {
		return 0, fmt.Errorf("weather fetch: %w", err)
	}
	return v.(float64), nil
}

func (w *WeatherSource) fetch(ctx context.Context) (float64, error) {
	u, _ := url.Parse(w.cfg.BaseURL)
	q := u.Query()
	q.Set("lat", strconv.FormatFloat(w.cfg.Latitude, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(w.cfg.Longitude, 'f', -1, 64))
	q.Set("appid", w.cfg.APIKey)
	q.Set("units", "metric")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, err
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, err
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var wr weatherResponse
	if err := json.Unmarshal(body, &wr); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedReading, err)
	}
	if wr.Main == nil || wr.Main.Temp == nil {
		return 0, fmt.Errorf("%w: main.temp missing", ErrMalformedReading)
	}
	t := *wr.Main.Temp
	if math.IsNaN(t) || math.IsInf(t, 0) {
		return 0, fmt.Errorf("%w: non-finite temperature", ErrMalformedReading)
	}
	return t, nil
}
