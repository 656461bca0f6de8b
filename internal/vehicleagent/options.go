package vehicleagent

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/barnapet/smartdrive/internal/pkg/cranking"
	"github.com/barnapet/smartdrive/internal/pkg/model"
	"github.com/barnapet/smartdrive/internal/vehicleagent/sampling"
	"github.com/barnapet/smartdrive/pkg/options"
)

var (
	_ options.IOptions = (*VehicleOptions)(nil)
	_ options.IOptions = (*SourceOptions)(nil)
	_ options.IOptions = (*SamplingOptions)(nil)
)

// VehicleOptions describes the car the agent is installed in. The values are
// attached to every cranking report.
type VehicleOptions struct {
	// VIN overrides discovery from the environment or /etc/smartdrive/vin.
	VIN      string `json:"vin" mapstructure:"vin"`
	FuelType string `json:"fuel-type" mapstructure:"fuel-type"`
	// Latitude and Longitude are the parking location; both zero means unknown.
	Latitude  float64 `json:"latitude" mapstructure:"latitude"`
	Longitude float64 `json:"longitude" mapstructure:"longitude"`
	// SOH and SOC come from a BMS when the vehicle has one. Zero means not reported.
	SOH float64 `json:"soh" mapstructure:"soh"`
	SOC float64 `json:"soc" mapstructure:"soc"`
}

func NewVehicleOptions() *VehicleOptions {
	return &VehicleOptions{FuelType: string(model.FuelGasoline)}
}

func (o *VehicleOptions) Validate() []error {
	var errs []error
	if _, err := model.ParseFuelType(o.FuelType); err != nil {
		errs = append(errs, err)
	}
	if o.Latitude < -90 || o.Latitude > 90 {
		errs = append(errs, fmt.Errorf("vehicle.latitude %.4f out of range", o.Latitude))
	}
	if o.Longitude < -180 || o.Longitude > 180 {
		errs = append(errs, fmt.Errorf("vehicle.longitude %.4f out of range", o.Longitude))
	}
	if o.SOH < 0 || o.SOH > 100 {
		errs = append(errs, fmt.Errorf("vehicle.soh must be within 0-100"))
	}
	if o.SOC < 0 || o.SOC > 100 {
		errs = append(errs, fmt.Errorf("vehicle.soc must be within 0-100"))
	}
	return errs
}

func (o *VehicleOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.VIN, "vehicle.vin", o.VIN, "Vehicle identification number. Empty reads SMARTDRIVE_VIN or /etc/smartdrive/vin.")
	fs.StringVar(&o.FuelType, "vehicle.fuel-type", o.FuelType, "Engine fuel type: gasoline or diesel.")
	fs.Float64Var(&o.Latitude, "vehicle.latitude", o.Latitude, "Parking latitude used for weather lookups.")
	fs.Float64Var(&o.Longitude, "vehicle.longitude", o.Longitude, "Parking longitude used for weather lookups.")
	fs.Float64Var(&o.SOH, "vehicle.soh", o.SOH, "Battery state of health in percent, if known.")
	fs.Float64Var(&o.SOC, "vehicle.soc", o.SOC, "Battery state of charge in percent, if known.")
}

// Profile converts the options into the values stamped onto reports.
func (o *VehicleOptions) Profile(vin string) Profile {
	fuel, _ := model.ParseFuelType(o.FuelType)
	p := Profile{VIN: vin, FuelType: fuel}
	if o.Latitude != 0 || o.Longitude != 0 {
		lat, lon := o.Latitude, o.Longitude
		p.Latitude, p.Longitude = &lat, &lon
	}
	if o.SOH > 0 {
		soh := o.SOH
		p.SOH = &soh
	}
	if o.SOC > 0 {
		soc := o.SOC
		p.SOC = &soc
	}
	return p
}

// Source kinds.
const (
	SourceSimulated = "simulated"
	SourceELM327    = "elm327"
)

// SourceOptions selects and tunes the sample source.
type SourceOptions struct {
	Kind     string `json:"kind" mapstructure:"kind"`
	Port     string `json:"port" mapstructure:"port"`
	BaudRate int    `json:"baud-rate" mapstructure:"baud-rate"`
	FastMode bool   `json:"fast-mode" mapstructure:"fast-mode"`
	// FetchTimeout bounds one Fetch call.
	FetchTimeout         time.Duration `json:"fetch-timeout" mapstructure:"fetch-timeout"`
	ReconnectInterval    time.Duration `json:"reconnect-interval" mapstructure:"reconnect-interval"`
	MaxReconnectAttempts int           `json:"max-reconnect-attempts" mapstructure:"max-reconnect-attempts"`
	Seed                 int64         `json:"seed" mapstructure:"seed"`
}

func NewSourceOptions() *SourceOptions {
	return &SourceOptions{
		Kind:              SourceSimulated,
		BaudRate:          38400,
		FastMode:          true,
		FetchTimeout:      2 * time.Second,
		ReconnectInterval: 5 * time.Second,
		Seed:              1,
	}
}

func (o *SourceOptions) Validate() []error {
	var errs []error
	switch o.Kind {
	case SourceSimulated, SourceELM327:
	default:
		errs = append(errs, fmt.Errorf("source.kind must be %q or %q, got %q", SourceSimulated, SourceELM327, o.Kind))
	}
	if o.BaudRate <= 0 {
		errs = append(errs, fmt.Errorf("source.baud-rate must be positive"))
	}
	if o.FetchTimeout <= 0 {
		errs = append(errs, fmt.Errorf("source.fetch-timeout must be positive"))
	}
	if o.ReconnectInterval <= 0 {
		errs = append(errs, fmt.Errorf("source.reconnect-interval must be positive"))
	}
	if o.MaxReconnectAttempts < 0 {
		errs = append(errs, fmt.Errorf("source.max-reconnect-attempts must not be negative"))
	}
	return errs
}

func (o *SourceOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Kind, "source.kind", o.Kind, "Sample source: simulated or elm327.")
	fs.StringVar(&o.Port, "source.port", o.Port, "Serial device of the ELM327 adapter. Empty scans all ports.")
	fs.IntVar(&o.BaudRate, "source.baud-rate", o.BaudRate, "Serial baud rate of the ELM327 adapter.")
	fs.BoolVar(&o.FastMode, "source.fast-mode", o.FastMode, "Ask the adapter for a single ECU response per request.")
	fs.DurationVar(&o.FetchTimeout, "source.fetch-timeout", o.FetchTimeout, "Upper bound for reading one sample.")
	fs.DurationVar(&o.ReconnectInterval, "source.reconnect-interval", o.ReconnectInterval, "Fixed delay between reconnect attempts.")
	fs.IntVar(&o.MaxReconnectAttempts, "source.max-reconnect-attempts", o.MaxReconnectAttempts, "Give up after this many failed attempts in a row. 0 retries forever.")
	fs.Int64Var(&o.Seed, "source.seed", o.Seed, "Random seed of the simulated source.")
}

// SamplingOptions exposes the controller thresholds and the cranking strategy.
type SamplingOptions struct {
	CutoffVoltage           float64       `json:"cutoff-voltage" mapstructure:"cutoff-voltage"`
	ResumeVoltage           float64       `json:"resume-voltage" mapstructure:"resume-voltage"`
	SentinelCriticalVoltage float64       `json:"sentinel-critical-voltage" mapstructure:"sentinel-critical-voltage"`
	CrankingRPMLimit        float64       `json:"cranking-rpm-limit" mapstructure:"cranking-rpm-limit"`
	CrankingInterval        time.Duration `json:"cranking-interval" mapstructure:"cranking-interval"`
	SteadyInterval          time.Duration `json:"steady-interval" mapstructure:"steady-interval"`
	PostDriveInterval       time.Duration `json:"post-drive-interval" mapstructure:"post-drive-interval"`
	PowerSavingInterval     time.Duration `json:"power-saving-interval" mapstructure:"power-saving-interval"`
	SentinelInterval        time.Duration `json:"sentinel-interval" mapstructure:"sentinel-interval"`
	Sentinel                bool          `json:"sentinel" mapstructure:"sentinel"`
	Strategy                string        `json:"strategy" mapstructure:"strategy"`

	Cranking *cranking.Options `json:"cranking" mapstructure:"cranking"`
}

func NewSamplingOptions() *SamplingOptions {
	d := sampling.DefaultThresholds()
	return &SamplingOptions{
		CutoffVoltage:           d.CutoffVoltage,
		ResumeVoltage:           d.ResumeVoltage,
		SentinelCriticalVoltage: d.SentinelCriticalVoltage,
		CrankingRPMLimit:        d.CrankingRPMLimit,
		CrankingInterval:        d.CrankingInterval,
		SteadyInterval:          d.SteadyInterval,
		PostDriveInterval:       d.PostDriveInterval,
		PowerSavingInterval:     d.PowerSavingInterval,
		SentinelInterval:        d.SentinelInterval,
		Strategy:                cranking.StrategyPlateau,
		Cranking:                cranking.NewOptions(),
	}
}

func (o *SamplingOptions) Validate() []error {
	var errs []error
	if err := o.Thresholds().Validate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := cranking.New(o.Strategy, o.Cranking.Config()); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, o.Cranking.Validate()...)
	return errs
}

func (o *SamplingOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.Float64Var(&o.CutoffVoltage, "sampling.cutoff-voltage", o.CutoffVoltage, "Engine-off voltage that engages drain protection.")
	fs.Float64Var(&o.ResumeVoltage, "sampling.resume-voltage", o.ResumeVoltage, "Voltage that ends drain protection. Must exceed the cutoff.")
	fs.Float64Var(&o.SentinelCriticalVoltage, "sampling.sentinel-critical-voltage", o.SentinelCriticalVoltage, "Sentinel pulses below this voltage raise an alert.")
	fs.Float64Var(&o.CrankingRPMLimit, "sampling.cranking-rpm-limit", o.CrankingRPMLimit, "RPM at or above which the engine counts as running.")
	fs.DurationVar(&o.CrankingInterval, "sampling.cranking-interval", o.CrankingInterval, "Polling interval while cranking.")
	fs.DurationVar(&o.SteadyInterval, "sampling.steady-interval", o.SteadyInterval, "Polling interval while driving.")
	fs.DurationVar(&o.PostDriveInterval, "sampling.post-drive-interval", o.PostDriveInterval, "Polling interval with the engine off. A crank shorter than this can fall between two polls on a real adapter and is then not reported.")
	fs.DurationVar(&o.PowerSavingInterval, "sampling.power-saving-interval", o.PowerSavingInterval, "Polling interval under drain protection.")
	fs.DurationVar(&o.SentinelInterval, "sampling.sentinel-interval", o.SentinelInterval, "Pulse interval in sentinel mode.")
	fs.BoolVar(&o.Sentinel, "sampling.sentinel", o.Sentinel, "Use hourly sentinel pulses instead of power saving under protection.")
	fs.StringVar(&o.Strategy, "sampling.strategy", o.Strategy, "Cranking signal strategy: plateau or parabolic.")
	o.Cranking.AddFlags(fs, "sampling")
}

// Thresholds returns the immutable controller configuration.
func (o *SamplingOptions) Thresholds() sampling.Thresholds {
	return sampling.Thresholds{
		CutoffVoltage:           o.CutoffVoltage,
		ResumeVoltage:           o.ResumeVoltage,
		SentinelCriticalVoltage: o.SentinelCriticalVoltage,
		CrankingRPMLimit:        o.CrankingRPMLimit,
		CrankingInterval:        o.CrankingInterval,
		SteadyInterval:          o.SteadyInterval,
		PostDriveInterval:       o.PostDriveInterval,
		PowerSavingInterval:     o.PowerSavingInterval,
		SentinelInterval:        o.SentinelInterval,
		Sentinel:                o.Sentinel,
	}
}
