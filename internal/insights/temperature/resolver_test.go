package temperature

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/ptr"

	"github.com/barnapet/smartdrive/internal/pkg/model"
)

type fakeProvider struct {
	temp, min   float64
	tempErr     error
	forecastErr error
	calls       int
}

func (f *fakeProvider) Temperature(context.Context, float64, float64) (float64, error) {
	f.calls++
	return f.temp, f.tempErr
}

func (f *fakeProvider) ForecastMin(context.Context, float64, float64) (float64, error) {
	return f.min, f.forecastErr
}

func TestResolve(t *testing.T) {
	here := Request{Latitude: ptr.To(47.5), Longitude: ptr.To(19.0)}
	withIntake := here
	withIntake.IntakeTemp = ptr.To(-2.0)

	tests := []struct {
		name     string
		provider *fakeProvider
		req      Request
		celsius  float64
		source   model.TempSource
		calls    int
	}{
		{"sensor wins", &fakeProvider{temp: 10}, withIntake, -2, model.TempSourceSensor, 0},
		{"weather by location", &fakeProvider{temp: 4.5}, here, 4.5, model.TempSourceExternal, 1},
		{"weather failure falls back", &fakeProvider{tempErr: errors.New("timeout")}, here, 25, model.TempSourceDefault, 1},
		{"no location skips weather", &fakeProvider{temp: 4.5}, Request{Latitude: ptr.To(47.5)}, 25, model.TempSourceDefault, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := NewResolver(tt.provider).Resolve(context.Background(), tt.req)
			assert.Equal(t, tt.celsius, res.Celsius)
			assert.Equal(t, tt.source, res.Source)
			assert.Equal(t, tt.calls, tt.provider.calls)
		})
	}
}

func TestResolveWithoutProvider(t *testing.T) {
	res := NewResolver(nil).Resolve(context.Background(), Request{Latitude: ptr.To(1.0), Longitude: ptr.To(2.0)})
	assert.Equal(t, DefaultCelsius, res.Celsius)
	assert.Equal(t, model.TempSourceDefault, res.Source)
	assert.Nil(t, res.ForecastMin)
}

func TestResolveForecastMin(t *testing.T) {
	req := Request{IntakeTemp: ptr.To(3.0), Latitude: ptr.To(47.5), Longitude: ptr.To(19.0)}

	res := NewResolver(&fakeProvider{min: -6}).Resolve(context.Background(), req)
	require.NotNil(t, res.ForecastMin)
	assert.Equal(t, -6.0, *res.ForecastMin)
	assert.Equal(t, model.TempSourceSensor, res.Source)

	res = NewResolver(&fakeProvider{forecastErr: errors.New("down")}).Resolve(context.Background(), req)
	assert.Nil(t, res.ForecastMin)
}
