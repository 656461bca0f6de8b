package weather

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"
)

func newForecastServer(t *testing.T, handler http.HandlerFunc) *OpenMeteo {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenMeteo(srv.URL, time.Second, 1)
}

func TestOpenMeteoTemperature(t *testing.T) {
	var query atomic.Value
	c := newForecastServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/forecast", r.URL.Path)
		query.Store(r.URL.Query())
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"latitude":47.5,"current":{"time":"2026-01-10T07:00","temperature_2m":-4.3}}`))
	})

	v, err := c.Temperature(context.Background(), 47.4979, 19.0402)
	require.NoError(t, err)
	assert.InDelta(t, -4.3, v, 1e-9)

	q := query.Load().(url.Values)
	assert.Equal(t, []string{"47.4979"}, q["latitude"])
	assert.Equal(t, []string{"19.0402"}, q["longitude"])
	assert.Equal(t, []string{"temperature_2m"}, q["current"])
}

func TestOpenMeteoForecastMin(t *testing.T) {
	c := newForecastServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("forecast_days"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"hourly":{"temperature_2m":[2.1,null,-1.5,0.4,-0.9]}}`))
	})

	v, err := c.ForecastMin(context.Background(), 47.5, 19.0)
	require.NoError(t, err)
	assert.InDelta(t, -1.5, v, 1e-9)
}

func TestOpenMeteoNoReading(t *testing.T) {
	c := newForecastServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"current":{},"hourly":{"temperature_2m":[null]}}`))
	})

	_, err := c.Temperature(context.Background(), 1, 2)
	assert.ErrorIs(t, err, ErrNoReading)
	_, err = c.ForecastMin(context.Background(), 1, 2)
	assert.ErrorIs(t, err, ErrNoReading)
}

func TestOpenMeteoRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newForecastServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"current":{"temperature_2m":12}}`))
	})

	v, err := c.Temperature(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 12.0, v)
	assert.Equal(t, int32(2), calls.Load())
}

func TestOpenMeteoClientError(t *testing.T) {
	c := newForecastServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	_, err := c.Temperature(context.Background(), 1, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

type countingProvider struct {
	calls int
	temp  float64
	err   error
}

func (p *countingProvider) Temperature(context.Context, float64, float64) (float64, error) {
	p.calls++
	return p.temp, p.err
}

func (p *countingProvider) ForecastMin(context.Context, float64, float64) (float64, error) {
	p.calls++
	return p.temp - 5, p.err
}

func TestCacheHitAndMiss(t *testing.T) {
	clk := testingclock.NewFakePassiveClock(time.Unix(1_700_000_000, 0))
	next := &countingProvider{temp: 7.5}
	c := NewCache(next, NewMemoryKV(clk), 30*time.Minute)
	ctx := context.Background()

	v, err := c.Temperature(ctx, 47.4979, 19.0402)
	require.NoError(t, err)
	assert.Equal(t, 7.5, v)

	// Same location after rounding.
	v, err = c.Temperature(ctx, 47.5012, 19.0391)
	require.NoError(t, err)
	assert.Equal(t, 7.5, v)
	assert.Equal(t, 1, next.calls)

	// Forecast is cached separately.
	v, err = c.ForecastMin(ctx, 47.4979, 19.0402)
	require.NoError(t, err)
	assert.Equal(t, 2.5, v)
	assert.Equal(t, 2, next.calls)

	clk.SetTime(clk.Now().Add(31 * time.Minute))
	_, err = c.Temperature(ctx, 47.4979, 19.0402)
	require.NoError(t, err)
	assert.Equal(t, 3, next.calls)
}

func TestCacheDoesNotStoreFailures(t *testing.T) {
	boom := errors.New("timeout")
	next := &countingProvider{err: boom}
	c := NewCache(next, NewMemoryKV(nil), time.Minute)

	_, err := c.Temperature(context.Background(), 1, 2)
	assert.ErrorIs(t, err, boom)
	_, err = c.Temperature(context.Background(), 1, 2)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, next.calls)
}

type brokenKV struct{}

func (brokenKV) Get(context.Context, string) (string, error) {
	return "", errors.New("connection refused")
}

func (brokenKV) Set(context.Context, string, string, time.Duration) error {
	return errors.New("connection refused")
}

func TestCacheFallsThroughOnStoreErrors(t *testing.T) {
	next := &countingProvider{temp: 3}
	c := NewCache(next, brokenKV{}, time.Minute)

	v, err := c.Temperature(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 3.0, v)
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, "weather:current:47.50:19.04", cacheKey("current", 47.4979, 19.0402))
	assert.Equal(t, "weather:forecast-min:-33.87:151.21", cacheKey("forecast-min", -33.8688, 151.2093))
}
