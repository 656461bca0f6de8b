// Package battery classifies a cranking event into a battery health verdict.
package battery

import (
	"fmt"
	"math"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/barnapet/smartdrive/internal/pkg/model"
)

// Config holds the evaluation constants. All of them can be overridden for
// testing; DefaultConfig returns the field values.
type Config struct {
	// MinSOC gates the evaluation. Below it the voltage sag says more about
	// the charge level than about battery health.
	MinSOC float64

	// PassVoltage and FailVoltage are the cranking Vmin limits at ReferenceTemp.
	PassVoltage   float64
	FailVoltage   float64
	ReferenceTemp float64
	// TempCoefficient is the threshold shift in volts per degree.
	TempCoefficient float64

	// ColdStartCoolant and ColdStartDelta detect an engine that has not warmed
	// up: coolant below the first and within the second of ambient.
	ColdStartCoolant float64
	ColdStartDelta   float64
	// ColdStartAmbient applies when the coolant temperature is unknown.
	ColdStartAmbient float64

	// Winter survival alert limits.
	WinterSOH float64
	WinterSOC float64
}

func DefaultConfig() Config {
	return Config{
		MinSOC:           70,
		PassVoltage:      9.6,
		FailVoltage:      8.5,
		ReferenceTemp:    25,
		TempCoefficient:  0.018,
		ColdStartCoolant: 30,
		ColdStartDelta:   5,
		ColdStartAmbient: 10,
		WinterSOH:        85,
		WinterSOC:        60,
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.MinSOC < 0 || c.MinSOC > 100 {
		errs = append(errs, fmt.Errorf("minimum soc must be within 0-100, got %.1f", c.MinSOC))
	}
	if c.FailVoltage >= c.PassVoltage {
		errs = append(errs, fmt.Errorf("fail voltage %.2f V must be below pass voltage %.2f V", c.FailVoltage, c.PassVoltage))
	}
	if c.TempCoefficient < 0 {
		errs = append(errs, fmt.Errorf("temperature coefficient must not be negative"))
	}
	return utilerrors.NewAggregate(errs)
}

// Input is everything one evaluation looks at.
type Input struct {
	// SOH is nil when the vehicle does not report it; the SOH rules are skipped.
	SOH *float64
	// SOC is nil when not reported and counts as 100 %.
	SOC         *float64
	Vmin        float64
	Temperature float64
	CoolantTemp *float64
	FuelType    model.FuelType
}

// Result is the classification of one Input.
type Result struct {
	Status  model.HealthStatus
	Alerts  []string
	IsValid bool

	SOC       float64
	VPass     float64
	VFail     float64
	SOHLimits SOHLimits
	ColdStart bool
}

// Evaluator is stateless and safe for concurrent use.
type Evaluator struct {
	cfg Config
}

func NewEvaluator(cfg Config) (*Evaluator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid evaluation config: %w", err)
	}
	return &Evaluator{cfg: cfg}, nil
}

// Evaluate applies the SOC gate, then the voltage and SOH rules. CRITICAL
// wins over WARNING; every rule that fired contributes an alert.
func (e *Evaluator) Evaluate(in Input) Result {
	soc := 100.0
	if in.SOC != nil {
		soc = *in.SOC
	}

	res := Result{
		SOC:       soc,
		VPass:     Compensate(e.cfg.PassVoltage, in.Temperature, e.cfg.ReferenceTemp, e.cfg.TempCoefficient),
		VFail:     Compensate(e.cfg.FailVoltage, in.Temperature, e.cfg.ReferenceTemp, e.cfg.TempCoefficient),
		SOHLimits: LookupSOH(in.Temperature, in.FuelType),
		ColdStart: e.coldStart(in.Temperature, in.CoolantTemp),
	}

	if soc < e.cfg.MinSOC {
		res.Status = model.StatusInconclusive
		res.Alerts = []string{fmt.Sprintf("State of charge %.0f%% is below %.0f%%: charge the battery and test again.", soc, e.cfg.MinSOC)}
		return res
	}
	res.IsValid = true

	var critical, warning []string
	switch {
	case in.Vmin < res.VFail:
		critical = append(critical, fmt.Sprintf("Cranking voltage %.2f V is below the failure limit %.2f V at %.1f°C.", in.Vmin, res.VFail, in.Temperature))
	case in.Vmin < res.VPass:
		warning = append(warning, fmt.Sprintf("Cranking voltage %.2f V is below the pass limit %.2f V at %.1f°C.", in.Vmin, res.VPass, in.Temperature))
	}
	if in.SOH != nil {
		switch soh := *in.SOH; {
		case soh < res.SOHLimits.Fail:
			critical = append(critical, fmt.Sprintf("State of health %.0f%% is below %.0f%%: replace the battery.", soh, res.SOHLimits.Fail))
		case soh < res.SOHLimits.Warn:
			warning = append(warning, fmt.Sprintf("State of health %.0f%% is below %.0f%%: the battery is weakening.", soh, res.SOHLimits.Warn))
		}
	}

	switch {
	case len(critical) > 0:
		res.Status = model.StatusCritical
	case len(warning) > 0:
		res.Status = model.StatusWarning
	default:
		res.Status = model.StatusOK
	}
	res.Alerts = append(critical, warning...)
	return res
}

// coldStart reports an engine that has not warmed up. A known coolant
// temperature decides on its own; ambient is only a proxy without it.
func (e *Evaluator) coldStart(ambient float64, coolant *float64) bool {
	if coolant == nil {
		return ambient < e.cfg.ColdStartAmbient
	}
	return *coolant < e.cfg.ColdStartCoolant && math.Abs(*coolant-ambient) <= e.cfg.ColdStartDelta
}

// WinterSurvival reports whether the battery is unlikely to survive the
// coming frost: a sub-zero forecast minimum with weak health or low charge.
// Unknown SOH only disables the SOH half of the condition.
func (e *Evaluator) WinterSurvival(forecastMin *float64, soh *float64, soc float64) bool {
	if forecastMin == nil || *forecastMin >= 0 {
		return false
	}
	return (soh != nil && *soh < e.cfg.WinterSOH) || soc < e.cfg.WinterSOC
}
