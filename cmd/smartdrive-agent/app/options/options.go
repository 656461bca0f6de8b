package options

import (
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/barnapet/smartdrive/internal/vehicleagent"
	"github.com/barnapet/smartdrive/pkg/app"
	"github.com/barnapet/smartdrive/pkg/log"
	"github.com/barnapet/smartdrive/pkg/options"
)

type AgentOptions struct {
	MqttOptions     *options.MqttOptions          `json:"mqtt" mapstructure:"mqtt"`
	HttpOptions     *options.HttpOptions          `json:"http" mapstructure:"http"`
	VehicleOptions  *vehicleagent.VehicleOptions  `json:"vehicle" mapstructure:"vehicle"`
	SourceOptions   *vehicleagent.SourceOptions   `json:"source" mapstructure:"source"`
	SamplingOptions *vehicleagent.SamplingOptions `json:"sampling" mapstructure:"sampling"`
	Log             *log.Options                  `json:"log" mapstructure:"log"`

	// Diagnose runs against the source without a broker and prints a live table.
	Diagnose bool `json:"diagnose" mapstructure:"diagnose"`
}

var _ app.NamedFlagSetOptions = (*AgentOptions)(nil)

func NewAgentOptions() *AgentOptions {
	o := &AgentOptions{
		MqttOptions:     options.NewMqttOptions(),
		HttpOptions:     options.NewHttpOptions(":9100"),
		VehicleOptions:  vehicleagent.NewVehicleOptions(),
		SourceOptions:   vehicleagent.NewSourceOptions(),
		SamplingOptions: vehicleagent.NewSamplingOptions(),
		Log:             log.NewOptions(),
	}

	return o
}

func (o *AgentOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}

	fs := fss.FlagSet("Agent")
	fs.BoolVar(&o.Diagnose, "diagnose", o.Diagnose, "Print a live table of samples and decisions instead of publishing. No broker is needed.")

	o.VehicleOptions.AddFlags(fss.FlagSet("vehicle"))
	o.SourceOptions.AddFlags(fss.FlagSet("source"))
	o.SamplingOptions.AddFlags(fss.FlagSet("sampling"))
	o.MqttOptions.AddFlags(fss.FlagSet("mqtt"))
	o.HttpOptions.AddFlags(fss.FlagSet("http"))
	o.Log.AddFlags(fss.FlagSet("Log"))
	return fss
}

func (o *AgentOptions) Complete() error {
	if o.Diagnose {
		// The table owns stdout.
		o.Log.OutputPaths = []string{"stderr"}
		o.HttpOptions.Addr = ""
	}
	return nil
}

func (o *AgentOptions) Validate() error {
	errs := []error{}
	errs = append(errs, o.VehicleOptions.Validate()...)
	errs = append(errs, o.SourceOptions.Validate()...)
	errs = append(errs, o.SamplingOptions.Validate()...)
	if !o.Diagnose {
		errs = append(errs, o.MqttOptions.Validate()...)
	}
	errs = append(errs, o.HttpOptions.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	return utilerrors.NewAggregate(errs)
}

func (o *AgentOptions) Config() (*vehicleagent.Config, error) {
	return &vehicleagent.Config{
		MqttOptions:     o.MqttOptions,
		VehicleOptions:  o.VehicleOptions,
		SourceOptions:   o.SourceOptions,
		SamplingOptions: o.SamplingOptions,
	}, nil
}
