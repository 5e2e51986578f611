// Package sensor provides the temperature sources polled by the feed:
// an OpenWeatherMap client, a Modbus TCP register reader and a simulated
// source, plus a wrapper that substitutes an estimate when a fetch fails.
package sensor

import (
	"context"
	"errors"
	"math/rand"

	"machine_control/internal/logger"
	"machine_control/internal/metrics"
)

// Source kinds accepted in configuration.
const (
	KindWeather   = "weather"
	KindModbus    = "modbus"
	KindSimulated = "simulated"
)

// Fallback estimate range, in Celsius.
const (
	estimateBase   = 20.0
	estimateSpread = 10.0
)

var (
	// ErrMissingCredential is returned when a source needs an API key that was not configured.
	ErrMissingCredential = errors.New("sensor: missing credential")
	// ErrMalformedReading is returned when a source answered but no temperature could be read.
	ErrMalformedReading = errors.New("sensor: malformed reading")
)

// Source produces one Celsius reading per call.
type Source interface {
	Name() string
	Fetch(ctx context.Context) (float64, error)
}

// Estimate returns a plausible ambient temperature in [20, 30).
func Estimate(rnd func() float64) float64 {
	return estimateBase + rnd()*estimateSpread
}

// FallbackSource wraps a primary source and answers with an estimate when
// the primary fails, so the feed always has a reading to merge.
type FallbackSource struct {
	primary  Source
	estimate func() float64
	log      *logger.Logger
}

// NewFallbackSource wraps primary. A nil rnd uses math/rand.
func NewFallbackSource(primary Source, rnd func() float64, log *logger.Logger) *FallbackSource {
	if rnd == nil {
		rnd = rand.Float64
	}
	if log == nil {
		log = logger.Nop()
	}
	return &FallbackSource{
		primary:  primary,
		estimate: func() float64 { return Estimate(rnd) },
		log:      log,
	}
}

func (f *FallbackSource) Name() string { return f.primary.Name() }

// Fetch never fails unless ctx is already done.
func (f *FallbackSource) Fetch(ctx context.Context) (float64, error) {
	celsius, err := f.primary.Fetch(ctx)
	if err == nil {
		return celsius, nil
	}
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return 0, err
	}

	metrics.TemperatureFetchFailuresTotal.WithLabelValues(f.primary.Name()).Inc()
	estimate := f.estimate()
	f.log.Warnw("temperature_fallback_used", "source", f.primary.Name(), "estimate", estimate, "err", err)
	return estimate, nil
}

// SimulatedSource draws every reading from the estimate range. It needs no
// hardware or network and is the default for development.
type SimulatedSource struct {
	rnd func() float64
}

// NewSimulatedSource returns a simulated source. A nil rnd uses math/rand.
func NewSimulatedSource(rnd func() float64) *SimulatedSource {
	if rnd == nil {
		rnd = rand.Float64
	}
	return &SimulatedSource{rnd: rnd}
}

func (s *SimulatedSource) Name() string { return KindSimulated }

func (s *SimulatedSource) Fetch(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return Estimate(s.rnd), nil
}
