// Package temperature picks the temperature used for voltage compensation.
package temperature

import (
	"context"

	"github.com/barnapet/smartdrive/internal/insights/weather"
	"github.com/barnapet/smartdrive/internal/pkg/metrics"
	"github.com/barnapet/smartdrive/internal/pkg/model"
	"github.com/barnapet/smartdrive/pkg/log"
)

// DefaultCelsius is used when neither the vehicle nor the weather service
// supplies a temperature.
const DefaultCelsius = 25.0

// Request carries what the vehicle reported. Nil means absent.
type Request struct {
	IntakeTemp *float64
	Latitude   *float64
	Longitude  *float64
}

func (r Request) hasLocation() bool {
	return r.Latitude != nil && r.Longitude != nil
}

// Resolution is the chosen temperature and where it came from. ForecastMin is
// set when a location was known and the provider could forecast.
type Resolution struct {
	Celsius     float64
	Source      model.TempSource
	ForecastMin *float64
}

// Resolver prefers the intake air sensor, then the weather provider, then
// DefaultCelsius. It never fails.
type Resolver struct {
	provider weather.Provider
}

// NewResolver accepts a nil provider, which disables the external step.
func NewResolver(provider weather.Provider) *Resolver {
	return &Resolver{provider: provider}
}

func (r *Resolver) Resolve(ctx context.Context, req Request) Resolution {
	res := r.resolve(ctx, req)
	res.ForecastMin = r.forecastMin(ctx, req)
	metrics.TemperatureSourceTotal.WithLabelValues(string(res.Source)).Inc()
	return res
}

func (r *Resolver) resolve(ctx context.Context, req Request) Resolution {
	if req.IntakeTemp != nil {
		return Resolution{Celsius: *req.IntakeTemp, Source: model.TempSourceSensor}
	}
	if r.provider != nil && req.hasLocation() {
		t, err := r.provider.Temperature(ctx, *req.Latitude, *req.Longitude)
		if err == nil {
			return Resolution{Celsius: t, Source: model.TempSourceExternal}
		}
		log.Warn("Weather lookup failed, using default temperature",
			"lat", *req.Latitude, "lon", *req.Longitude, "error", err.Error())
	}
	return Resolution{Celsius: DefaultCelsius, Source: model.TempSourceDefault}
}

func (r *Resolver) forecastMin(ctx context.Context, req Request) *float64 {
	if r.provider == nil || !req.hasLocation() {
		return nil
	}
	v, err := r.provider.ForecastMin(ctx, *req.Latitude, *req.Longitude)
	if err != nil {
		log.Debug("Forecast lookup failed", "error", err.Error())
		return nil
	}
	return &v
}
