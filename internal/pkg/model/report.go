package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// FuelType selects the SOH threshold column.
type FuelType string

const (
	FuelGasoline FuelType = "gasoline"
	FuelDiesel   FuelType = "diesel"
)

// ParseFuelType accepts the names used in vehicle configs, case-insensitively.
// An empty string means gasoline.
func ParseFuelType(s string) (FuelType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "gasoline", "petrol":
		return FuelGasoline, nil
	case "diesel":
		return FuelDiesel, nil
	default:
		return "", fmt.Errorf("unknown fuel type %q", s)
	}
}

// CrankingPoint is one voltage reading relative to the cranking start.
type CrankingPoint struct {
	Offset  float64 `json:"t"`
	Voltage float64 `json:"v"`
}

// CrankingReport is published once per engine start that reached STEADY.
type CrankingReport struct {
	VIN         string          `json:"vin"`
	Timestamp   float64         `json:"timestamp"`
	Strategy    string          `json:"strategy"`
	RefinedVmin *float64        `json:"refined_vmin,omitempty"`
	Points      []CrankingPoint `json:"points"`
	IntakeTemp  *float64        `json:"intake_temp,omitempty"`
	CoolantTemp *float64        `json:"coolant_temp,omitempty"`
	Latitude    *float64        `json:"latitude,omitempty"`
	Longitude   *float64        `json:"longitude,omitempty"`
	FuelType    FuelType        `json:"fuel_type,omitempty"`
	SOH         *float64        `json:"soh,omitempty"`
	SOC         *float64        `json:"soc,omitempty"`
}

// StartTime returns the cranking start as a time.
func (r *CrankingReport) StartTime() time.Time {
	return FromEpochSeconds(r.Timestamp)
}

// HasLocation reports whether both coordinates are present.
func (r *CrankingReport) HasLocation() bool {
	return r.Latitude != nil && r.Longitude != nil
}

// DecodeCrankingReport parses and sanity-checks a report from the wire.
func DecodeCrankingReport(data []byte) (*CrankingReport, error) {
	var r CrankingReport
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode cranking report: %w", err)
	}
	if r.VIN == "" {
		return nil, errors.New("cranking report without vin")
	}
	if r.Timestamp <= 0 {
		return nil, errors.New("cranking report without timestamp")
	}
	if r.RefinedVmin == nil && len(r.Points) == 0 {
		return nil, errors.New("cranking report has neither refined_vmin nor points")
	}
	ft, err := ParseFuelType(string(r.FuelType))
	if err != nil {
		return nil, err
	}
	r.FuelType = ft
	return &r, nil
}

// AlertKind names the edge-side alerts.
type AlertKind string

const (
	// AlertVampireDrain is raised once when the controller enters a protection state.
	AlertVampireDrain AlertKind = "VAMPIRE_DRAIN"
	// AlertSentinelCritical is raised on every sentinel pulse below the critical voltage.
	AlertSentinelCritical AlertKind = "SENTINEL_CRITICAL"
)

// Alert is published on vehicle/{vin}/alerts even while telemetry is suppressed.
type Alert struct {
	VIN       string    `json:"vin"`
	Timestamp float64   `json:"timestamp"`
	Kind      AlertKind `json:"kind"`
	Voltage   float64   `json:"voltage"`
	Message   string    `json:"message"`
}
