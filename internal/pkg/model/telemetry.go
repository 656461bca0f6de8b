// Package model holds the records exchanged between the agent and the
// insights worker.
package model

import (
	"math"
	"time"
)

// TelemetrySample is one polling tick's vehicle reading.
//
// Samples are values. A corrected reading is a new sample built with
// WithVoltage; a sample already handed to a consumer is never changed.
type TelemetrySample struct {
	VIN         string
	Timestamp   time.Time
	Speed       float64
	RPM         float64
	Voltage     float64
	CoolantTemp *float64
	IntakeTemp  *float64
}

// WithVoltage returns a copy of s carrying voltage v.
func (s TelemetrySample) WithVoltage(v float64) TelemetrySample {
	out := s
	out.CoolantTemp = copyFloat(s.CoolantTemp)
	out.IntakeTemp = copyFloat(s.IntakeTemp)
	out.Voltage = v
	return out
}

// Fields flattens the sample into the key-value form used on the wire.
// Optional temperatures are omitted when unknown.
func (s TelemetrySample) Fields() map[string]any {
	fields := map[string]any{
		"vin":       s.VIN,
		"timestamp": EpochSeconds(s.Timestamp),
		"speed":     s.Speed,
		"rpm":       s.RPM,
		"voltage":   s.Voltage,
	}
	if s.CoolantTemp != nil {
		fields["coolant_temp"] = *s.CoolantTemp
	}
	if s.IntakeTemp != nil {
		fields["intake_temp"] = *s.IntakeTemp
	}
	return fields
}

// EpochSeconds renders t as unix seconds with millisecond precision.
func EpochSeconds(t time.Time) float64 {
	return math.Round(float64(t.UnixMilli())) / 1000
}

// FromEpochSeconds is the inverse of EpochSeconds.
func FromEpochSeconds(sec float64) time.Time {
	return time.UnixMilli(int64(math.Round(sec * 1000))).UTC()
}

func copyFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
