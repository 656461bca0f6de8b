package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	genericapiserver "k8s.io/apiserver/pkg/server"

	"github.com/barnapet/smartdrive/cmd/smartdrive-agent/app/options"
	"github.com/barnapet/smartdrive/internal/pkg/server"
	"github.com/barnapet/smartdrive/internal/vehicleagent"
	"github.com/barnapet/smartdrive/pkg/app"
	"github.com/barnapet/smartdrive/pkg/log"
)

const (
	commandName = "smartdrive-agent"
	commandDesc = `The SmartDrive agent runs in the vehicle. It polls the OBD-II adapter at a
rate chosen by the sampling state machine, protects the battery from
parasitic drain, captures engine starts and publishes telemetry, cranking
reports and alerts over MQTT.`
)

func NewApp() *app.App {
	opts := options.NewAgentOptions()
	application := app.NewApp(
		commandName,
		"Launch the SmartDrive vehicle agent",
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithDefaultValidArgs(),
		app.WithEnvPrefix("SMARTDRIVE"),
		app.WithWatchConfig(nil),
		app.WithRunFunc(run(opts)),
	)
	return application
}

func run(opts *options.AgentOptions) app.RunFunc {
	return func() error {
		log.Init(opts.Log)
		defer log.Sync()

		ctx := genericapiserver.SetupSignalContext()

		cfg, err := opts.Config()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		if opts.Diagnose {
			return diagnose(ctx, cfg)
		}

		agent, h, err := cfg.NewAgent()
		if err != nil {
			return fmt.Errorf("failed to create agent: %w", err)
		}

		mgr := server.NewManager(server.RunFunc(agent.Run))
		if opts.HttpOptions.Enabled() {
			mgr.Add(server.NewHTTPServer(opts.HttpOptions, func() error {
				if !agent.SourceStatus().Connected {
					return errors.New("obd source not connected")
				}
				if !h.IsConnected() {
					return errors.New("mqtt broker not connected")
				}
				return nil
			}))
		}
		return mgr.Start(ctx)
	}
}

func diagnose(ctx context.Context, cfg *vehicleagent.Config) error {
	agent, diag, err := cfg.NewDiagnosticAgent(os.Stdout)
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}
	defer diag.Flush()
	return agent.Run(ctx)
}
