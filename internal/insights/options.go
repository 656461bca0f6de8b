package insights

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/barnapet/smartdrive/internal/insights/battery"
	"github.com/barnapet/smartdrive/internal/pkg/cranking"
)

// EvaluationOptions tunes the battery health rules.
type EvaluationOptions struct {
	MinSOC          float64 `json:"min-soc" mapstructure:"min-soc"`
	PassVoltage     float64 `json:"pass-voltage" mapstructure:"pass-voltage"`
	FailVoltage     float64 `json:"fail-voltage" mapstructure:"fail-voltage"`
	ReferenceTemp   float64 `json:"reference-temp" mapstructure:"reference-temp"`
	TempCoefficient float64 `json:"temp-coefficient" mapstructure:"temp-coefficient"`

	DebounceWindow    int `json:"debounce-window" mapstructure:"debounce-window"`
	DebounceThreshold int `json:"debounce-threshold" mapstructure:"debounce-threshold"`

	// Strategy refines reports that arrive without a refined Vmin.
	Strategy string `json:"strategy" mapstructure:"strategy"`
	// Cranking holds the refinement constants; keep them in line with the agents.
	Cranking *cranking.Options `json:"cranking" mapstructure:"cranking"`
}

func NewEvaluationOptions() *EvaluationOptions {
	cfg := battery.DefaultConfig()
	d := battery.DefaultDebounce()
	return &EvaluationOptions{
		MinSOC:            cfg.MinSOC,
		PassVoltage:       cfg.PassVoltage,
		FailVoltage:       cfg.FailVoltage,
		ReferenceTemp:     cfg.ReferenceTemp,
		TempCoefficient:   cfg.TempCoefficient,
		DebounceWindow:    d.Window,
		DebounceThreshold: d.Threshold,
		Strategy:          cranking.StrategyPlateau,
		Cranking:          cranking.NewOptions(),
	}
}

// BatteryConfig starts from the defaults and applies the tunable fields.
func (o *EvaluationOptions) BatteryConfig() battery.Config {
	cfg := battery.DefaultConfig()
	cfg.MinSOC = o.MinSOC
	cfg.PassVoltage = o.PassVoltage
	cfg.FailVoltage = o.FailVoltage
	cfg.ReferenceTemp = o.ReferenceTemp
	cfg.TempCoefficient = o.TempCoefficient
	return cfg
}

func (o *EvaluationOptions) Debounce() battery.Debounce {
	return battery.Debounce{Window: o.DebounceWindow, Threshold: o.DebounceThreshold}
}

func (o *EvaluationOptions) Validate() []error {
	var errs []error
	if err := o.BatteryConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("evaluation: %w", err))
	}
	if err := o.Debounce().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("evaluation: %w", err))
	}
	if _, err := cranking.New(o.Strategy, o.Cranking.Config()); err != nil {
		errs = append(errs, fmt.Errorf("evaluation.strategy: %w", err))
	}
	for _, err := range o.Cranking.Validate() {
		errs = append(errs, fmt.Errorf("evaluation: %w", err))
	}
	return errs
}

func (o *EvaluationOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.Float64Var(&o.MinSOC, "evaluation.min-soc", o.MinSOC, "State of charge in percent below which a verdict is INCONCLUSIVE.")
	fs.Float64Var(&o.PassVoltage, "evaluation.pass-voltage", o.PassVoltage, "Cranking Vmin pass limit at the reference temperature.")
	fs.Float64Var(&o.FailVoltage, "evaluation.fail-voltage", o.FailVoltage, "Cranking Vmin failure limit at the reference temperature.")
	fs.Float64Var(&o.ReferenceTemp, "evaluation.reference-temp", o.ReferenceTemp, "Temperature in °C at which the voltage limits apply unchanged.")
	fs.Float64Var(&o.TempCoefficient, "evaluation.temp-coefficient", o.TempCoefficient, "Voltage limit shift in V per °C below the reference.")
	fs.IntVar(&o.DebounceWindow, "evaluation.debounce-window", o.DebounceWindow, "Earlier verdicts consulted by the failure debounce.")
	fs.IntVar(&o.DebounceThreshold, "evaluation.debounce-threshold", o.DebounceThreshold, "Consecutive CRITICAL verdicts that confirm a failure.")
	fs.StringVar(&o.Strategy, "evaluation.strategy", o.Strategy, "Refinement strategy for reports without a refined Vmin: plateau or parabolic.")
	o.Cranking.AddFlags(fs, "evaluation")
}
