package vehicleagent

import (
	"fmt"
	"io"

	"k8s.io/utils/clock"

	"github.com/barnapet/smartdrive/internal/pkg/cranking"
	"github.com/barnapet/smartdrive/internal/vehicleagent/hub"
	"github.com/barnapet/smartdrive/internal/vehicleagent/obd"
	"github.com/barnapet/smartdrive/internal/vehicleagent/sampling"
	"github.com/barnapet/smartdrive/pkg/mqtt"
	mqtttopic "github.com/barnapet/smartdrive/pkg/mqtt/topic"
	"github.com/barnapet/smartdrive/pkg/options"
)

// simulatedVIN is used by the simulator when no VIN is configured.
const simulatedVIN = "TESTVIN123456789"

type Config struct {
	MqttOptions     *options.MqttOptions
	VehicleOptions  *VehicleOptions
	SourceOptions   *SourceOptions
	SamplingOptions *SamplingOptions

	// Clock defaults to the real clock.
	Clock clock.Clock
}

// NewAgent builds an agent that publishes over MQTT.
func (cfg *Config) NewAgent(opts ...AgentOption) (*Agent, *hub.Hub, error) {
	vin, err := cfg.resolveVIN()
	if err != nil {
		return nil, nil, err
	}

	mqttClient, topics, err := cfg.initMqttClientAndTopicBuilder(vin)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init mqtt client: %w", err)
	}
	h := hub.New(vin, mqttClient, topics, cfg.MqttOptions.QoS)

	agent, err := cfg.build(vin, h, opts...)
	if err != nil {
		return nil, nil, err
	}
	return agent, h, nil
}

// NewDiagnosticAgent builds an agent that prints a live table to w instead of
// publishing. No broker is needed.
func (cfg *Config) NewDiagnosticAgent(w io.Writer) (*Agent, *Diagnostic, error) {
	vin, err := cfg.resolveVIN()
	if err != nil {
		return nil, nil, err
	}

	diag := NewDiagnostic(w)
	agent, err := cfg.build(vin, diag, WithTickHook(diag.Record))
	if err != nil {
		return nil, nil, err
	}
	return agent, diag, nil
}

func (cfg *Config) build(vin string, sink Sink, opts ...AgentOption) (*Agent, error) {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}

	processor, err := cranking.New(cfg.SamplingOptions.Strategy, cfg.SamplingOptions.Cranking.Config())
	if err != nil {
		return nil, err
	}
	controller, err := sampling.NewController(cfg.SamplingOptions.Thresholds(), processor)
	if err != nil {
		return nil, err
	}

	source := cfg.newSource(vin, clk)
	link := NewReconnector(source, clk, cfg.SourceOptions.ReconnectInterval, cfg.SourceOptions.MaxReconnectAttempts)

	return NewAgent(
		cfg.VehicleOptions.Profile(vin),
		source,
		controller,
		sink,
		link,
		clk,
		cfg.SourceOptions.FetchTimeout,
		opts...,
	), nil
}

func (cfg *Config) newSource(vin string, clk clock.Clock) obd.Source {
	so := cfg.SourceOptions
	if so.Kind == SourceELM327 {
		return obd.NewELM327(obd.ELM327Config{
			VIN:      vin,
			Port:     so.Port,
			BaudRate: so.BaudRate,
			FastMode: so.FastMode,
		}, clk)
	}
	return obd.NewSimulated(vin, clk, so.Seed)
}

func (cfg *Config) resolveVIN() (string, error) {
	if vin := cfg.VehicleOptions.VIN; vin != "" {
		return vin, nil
	}
	if vin := DiscoverVIN(); vin != "" {
		return vin, nil
	}
	if cfg.SourceOptions.Kind == SourceSimulated {
		return simulatedVIN, nil
	}
	return "", fmt.Errorf("unable to determine the VIN: set --vehicle.vin, SMARTDRIVE_VIN or %s", vinFile)
}

func (cfg *Config) initMqttClientAndTopicBuilder(vin string) (mqtt.Client, *mqtttopic.Builder, error) {
	topics := mqtttopic.NewBuilder(cfg.MqttOptions.TopicRoot)

	mqttConfig := cfg.MqttOptions.ToClientConfig()
	if mqttConfig.ClientID == "" {
		mqttConfig.ClientID = fmt.Sprintf("smartdrive-agent-%s", vin)
	}

	mqttClient, err := mqtt.NewClient(mqttConfig)
	if err != nil {
		return nil, nil, err
	}
	return mqttClient, topics, nil
}
