package app

import (
	"fmt"

	genericapiserver "k8s.io/apiserver/pkg/server"

	"github.com/barnapet/smartdrive/cmd/smartdrive-insights/app/options"
	"github.com/barnapet/smartdrive/internal/pkg/server"
	"github.com/barnapet/smartdrive/pkg/app"
	"github.com/barnapet/smartdrive/pkg/log"
)

const (
	commandName = "smartdrive-insights"
	commandDesc = `The SmartDrive insights worker consumes cranking reports from the broker,
resolves the ambient temperature, classifies battery health, confirms repeated
failures and stores one verdict per cranking event. Verdicts are published to
a topic exchange and can be queried over HTTP.`
)

func NewApp() *app.App {
	opts := options.NewInsightsOptions()
	application := app.NewApp(
		commandName,
		"Launch the SmartDrive insights worker",
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithDefaultValidArgs(),
		app.WithEnvPrefix("SMARTDRIVE"),
		app.WithWatchConfig(nil),
		app.WithRunFunc(run(opts)),
	)
	return application
}

func run(opts *options.InsightsOptions) app.RunFunc {
	return func() error {
		log.Init(opts.Log)
		defer log.Sync()

		ctx := genericapiserver.SetupSignalContext()

		cfg, err := opts.Config()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		worker, err := cfg.NewWorker(ctx)
		if err != nil {
			return fmt.Errorf("failed to create worker: %w", err)
		}
		defer func() {
			if err := worker.Close(); err != nil {
				log.Error(err, "Failed to close worker connections")
			}
		}()

		mgr := server.NewManager(worker.Consumer)
		if opts.HttpOptions.Enabled() {
			httpServer := server.NewHTTPServer(opts.HttpOptions, worker.Ready)
			worker.RegisterRoutes(httpServer.Router())
			mgr.Add(httpServer)
		}
		return mgr.Start(ctx)
	}
}
