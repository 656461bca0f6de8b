package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/ptr"
)

func TestWithVoltageReturnsNewSample(t *testing.T) {
	orig := TelemetrySample{
		VIN:        "VIN1",
		Timestamp:  time.Unix(1700000000, 0),
		Voltage:    12.4,
		IntakeTemp: ptr.To(18.0),
	}

	corrected := orig.WithVoltage(9.7)

	assert.Equal(t, 12.4, orig.Voltage)
	assert.Equal(t, 9.7, corrected.Voltage)

	*corrected.IntakeTemp = 99
	assert.Equal(t, 18.0, *orig.IntakeTemp, "copies must not share optional fields")
}

func TestFieldsOmitsUnknownTemperatures(t *testing.T) {
	s := TelemetrySample{VIN: "VIN1", Timestamp: time.UnixMilli(1700000000250), RPM: 800, Voltage: 14.1}
	f := s.Fields()

	assert.Equal(t, 1700000000.25, f["timestamp"])
	assert.NotContains(t, f, "coolant_temp")
	assert.NotContains(t, f, "intake_temp")

	s.CoolantTemp = ptr.To(85.0)
	assert.Equal(t, 85.0, s.Fields()["coolant_temp"])
}

func TestDecodeCrankingReport(t *testing.T) {
	r, err := DecodeCrankingReport([]byte(`{"vin":"VIN1","timestamp":1700000000.5,"strategy":"plateau","refined_vmin":9.8,"points":[{"t":0,"v":10.1}],"fuel_type":"Diesel"}`))
	require.NoError(t, err)
	assert.Equal(t, 9.8, *r.RefinedVmin)
	assert.Equal(t, FuelDiesel, r.FuelType)
	assert.Equal(t, time.UnixMilli(1700000000500).UTC(), r.StartTime())
	assert.False(t, r.HasLocation())

	_, err = DecodeCrankingReport([]byte(`{"timestamp":1}`))
	assert.Error(t, err)

	_, err = DecodeCrankingReport([]byte(`{"vin":"VIN1","timestamp":1}`))
	assert.Error(t, err, "report without data")

	_, err = DecodeCrankingReport([]byte(`{"vin":"VIN1","timestamp":1,"refined_vmin":9.5,"fuel_type":"hydrogen"}`))
	assert.Error(t, err)

	_, err = DecodeCrankingReport([]byte(`not json`))
	assert.Error(t, err)
}

func TestParseFuelType(t *testing.T) {
	ft, err := ParseFuelType("")
	require.NoError(t, err)
	assert.Equal(t, FuelGasoline, ft)

	ft, err = ParseFuelType(" DIESEL ")
	require.NoError(t, err)
	assert.Equal(t, FuelDiesel, ft)
}
