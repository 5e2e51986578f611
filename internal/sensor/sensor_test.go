package sensor

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingSource struct{ err error }

func (f failingSource) Name() string { return "broken" }
func (f failingSource) Fetch(context.Context) (float64, error) {
	return 0, f.err
}

func fixedRand(v float64) func() float64 { return func() float64 { return v } }

func TestEstimate_Range(t *testing.T) {
	assert.Equal(t, 20.0, Estimate(fixedRand(0)))
	assert.Equal(t, 25.0, Estimate(fixedRand(0.5)))
	assert.Less(t, Estimate(fixedRand(0.9999)), 30.0)
}

func TestFallbackSource_PassesThroughSuccess(t *testing.T) {
	f := NewFallbackSource(NewSimulatedSource(fixedRand(0.2)), fixedRand(0.9), nil)

	got, err := f.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 22.0, got)
	assert.Equal(t, KindSimulated, f.Name())
}

func TestFallbackSource_EstimatesOnFailure(t *testing.T) {
	f := NewFallbackSource(failingSource{err: errors.New("timeout")}, fixedRand(0.5), nil)

	got, err := f.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 25.0, got)
}

func TestFallbackSource_CanceledContextIsNotMasked(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := NewFallbackSource(NewSimulatedSource(nil), nil, nil)

	_, err := f.Fetch(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewWeatherSource_RequiresKey(t *testing.T) {
	_, err := NewWeatherSource(WeatherConfig{}, nil)
	assert.ErrorIs(t, err, ErrMissingCredential)
}

func TestWeatherSource_Fetch(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		gotQuery = map[string]string{
			"lat": q.Get("lat"), "lon": q.Get("lon"), "appid": q.Get("appid"), "units": q.Get("units"),
		}
		_, _ = w.Write([]byte(`{"name":"Monterrey","main":{"temp":31.4,"humidity":40}}`))
	}))
	defer srv.Close()

	src, err := NewWeatherSource(WeatherConfig{
		APIKey:    "k3y",
		BaseURL:   srv.URL,
		Latitude:  DefaultLatitude,
		Longitude: DefaultLongitude,
	}, nil)
	require.NoError(t, err)

	got, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 31.4, got)
	assert.Equal(t, map[string]string{
		"lat":   strconv.FormatFloat(DefaultLatitude, 'f', -1, 64),
		"lon":   strconv.FormatFloat(DefaultLongitude, 'f', -1, 64),
		"appid": "k3y",
		"units": "metric",
	}, gotQuery)
}

func TestWeatherSource_FetchFailures(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{name: "server error", status: http.StatusInternalServerError, body: `{}`},
		{name: "bad key", status: http.StatusUnauthorized, body: `{"cod":401}`},
		{name: "not json", status: http.StatusOK, body: `<html>`, wantErr: ErrMalformedReading},
		{name: "no main", status: http.StatusOK, body: `{"weather":[]}`, wantErr: ErrMalformedReading},
		{name: "no temp", status: http.StatusOK, body: `{"main":{"humidity":3}}`, wantErr: ErrMalformedReading},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			src, err := NewWeatherSource(WeatherConfig{APIKey: "k", BaseURL: srv.URL}, nil)
			require.NoError(t, err)

			_, err = src.Fetch(context.Background())
			require.Error(t, err)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
			}
		})
	}
}

func TestWeatherSource_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	src, err := NewWeatherSource(WeatherConfig{APIKey: "k", BaseURL: srv.URL}, nil)
	require.NoError(t, err)

	for i := 0; i < breakerFailures; i++ {
		_, err := src.Fetch(context.Background())
		require.Error(t, err)
	}
	_, err = src.Fetch(context.Background())

	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(breakerFailures), hits.Load())
}

func TestDecodeTemperature(t *testing.T) {
	cases := []struct {
		name   string
		b      []byte
		scale  float64
		signed bool
		want   float64
	}{
		{name: "unsigned tenths", b: []byte{0x01, 0x13}, scale: 0.1, want: 27.5},
		{name: "unsigned unit scale", b: []byte{0x00, 0x16}, scale: 1, want: 22},
		{name: "signed negative", b: []byte{0xFF, 0x9C}, scale: 0.1, signed: true, want: -10},
		{name: "unsigned ignores sign bit", b: []byte{0xFF, 0x9C}, scale: 1, want: 65436},
		{name: "extra bytes ignored", b: []byte{0x00, 0x0A, 0xDE, 0xAD}, scale: 1, want: 10},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := decodeTemperature(tc.b, tc.scale, tc.signed)
			require.NoError(t, err)
			assert.InDelta(t, tc.want, got, 1e-9)
		})
	}

	_, err := decodeTemperature([]byte{0x01}, 1, false)
	assert.ErrorIs(t, err, ErrMalformedReading)
}

func TestNewModbusSource_Validation(t *testing.T) {
	_, err := NewModbusSource(ModbusConfig{})
	assert.Error(t, err)

	_, err = NewModbusSource(ModbusConfig{Endpoint: "127.0.0.1:502", Register: "coil"})
	assert.Error(t, err)

	src, err := NewModbusSource(ModbusConfig{Endpoint: "127.0.0.1:502"})
	require.NoError(t, err)
	assert.Equal(t, RegisterInput, src.cfg.Register)
	assert.Equal(t, 1.0, src.cfg.Scale)
	assert.Equal(t, KindModbus, src.Name())
}

func TestModbusSource_FetchUnreachable(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	src, err := NewModbusSource(ModbusConfig{Endpoint: addr, Timeout: 200 * time.Millisecond})
	require.NoError(t, err)
	defer func() { _ = src.Close() }()

	_, err = src.Fetch(context.Background())
	assert.Error(t, err)
}
