// Package weather supplies ambient temperatures for vehicles that do not
// report an intake air temperature.
package weather

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
)

// Provider returns temperatures in °C for a location.
type Provider interface {
	// Temperature is the current air temperature at 2 m.
	Temperature(ctx context.Context, lat, lon float64) (float64, error)
	// ForecastMin is the lowest hourly temperature over the next 24 hours.
	ForecastMin(ctx context.Context, lat, lon float64) (float64, error)
}

// ErrNoReading is returned when the service answered without a usable value.
var ErrNoReading = errors.New("weather service returned no temperature")

const forecastPath = "/v1/forecast"

type currentResponse struct {
	Current struct {
		Temperature *float64 `json:"temperature_2m"`
	} `json:"current"`
}

type hourlyResponse struct {
	Hourly struct {
		Temperature []*float64 `json:"temperature_2m"`
	} `json:"hourly"`
}

// OpenMeteo queries an Open-Meteo compatible forecast API.
type OpenMeteo struct {
	client *resty.Client
}

var _ Provider = (*OpenMeteo)(nil)

func NewOpenMeteo(baseURL string, timeout time.Duration, retries int) *OpenMeteo {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(retries).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || (r != nil && r.StatusCode() >= 500)
		}).
		SetHeader("Accept", "application/json")

	return &OpenMeteo{client: client}
}

func (o *OpenMeteo) Temperature(ctx context.Context, lat, lon float64) (float64, error) {
	var out currentResponse
	if err := o.get(ctx, lat, lon, map[string]string{"current": "temperature_2m"}, &out); err != nil {
		return 0, err
	}
	if out.Current.Temperature == nil {
		return 0, ErrNoReading
	}
	return *out.Current.Temperature, nil
}

func (o *OpenMeteo) ForecastMin(ctx context.Context, lat, lon float64) (float64, error) {
	var out hourlyResponse
	params := map[string]string{"hourly": "temperature_2m", "forecast_days": "1"}
	if err := o.get(ctx, lat, lon, params, &out); err != nil {
		return 0, err
	}

	minTemp, found := math.Inf(1), false
	for _, t := range out.Hourly.Temperature {
		if t != nil && *t < minTemp {
			minTemp, found = *t, true
		}
	}
	if !found {
		return 0, ErrNoReading
	}
	return minTemp, nil
}

func (o *OpenMeteo) get(ctx context.Context, lat, lon float64, params map[string]string, result any) error {
	resp, err := o.client.R().
		SetContext(ctx).
		SetQueryParam("latitude", strconv.FormatFloat(lat, 'f', 4, 64)).
		SetQueryParam("longitude", strconv.FormatFloat(lon, 'f', 4, 64)).
		SetQueryParams(params).
		SetResult(result).
		Get(forecastPath)
	if err != nil {
		return fmt.Errorf("failed to call weather service: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("weather service returned %s", resp.Status())
	}
	return nil
}
