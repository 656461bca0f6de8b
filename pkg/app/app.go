package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	cliflag "k8s.io/component-base/cli/flag"
	"k8s.io/component-base/cli/globalflag"
	"k8s.io/component-base/term"

	"github.com/barnapet/smartdrive/pkg/log"
)

// RunFunc is the entry point executed after flags and config are resolved.
type RunFunc func() error

// NamedFlagSetOptions is implemented by the options struct of every command.
type NamedFlagSetOptions interface {
	// Flags returns the flag sets grouped by concern.
	Flags() cliflag.NamedFlagSets

	// Complete fills in values derived from other values.
	Complete() error

	// Validate checks the options after Complete.
	Validate() error
}

// App is a cobra command plus config-file and environment handling.
type App struct {
	name        string
	shortDesc   string
	description string
	envPrefix   string
	run         RunFunc
	options     NamedFlagSetOptions
	args        cobra.PositionalArgs
	watch       bool
	onReload    func()

	cmd *cobra.Command
}

// Option configures an App.
type Option func(*App)

// WithOptions sets the options struct that receives flags and config values.
func WithOptions(opts NamedFlagSetOptions) Option {
	return func(a *App) { a.options = opts }
}

// WithRunFunc sets the function executed by the root command.
func WithRunFunc(run RunFunc) Option {
	return func(a *App) { a.run = run }
}

// WithDescription sets the long description.
func WithDescription(desc string) Option {
	return func(a *App) { a.description = desc }
}

// WithDefaultValidArgs rejects positional arguments.
func WithDefaultValidArgs() Option {
	return func(a *App) {
		a.args = func(cmd *cobra.Command, args []string) error {
			for _, arg := range args {
				if len(arg) > 0 {
					return fmt.Errorf("%q does not take any arguments, got %q", cmd.CommandPath(), args)
				}
			}
			return nil
		}
	}
}

// WithEnvPrefix sets the prefix of environment overrides, e.g. SMARTDRIVE_MQTT_BROKER.
func WithEnvPrefix(prefix string) Option {
	return func(a *App) { a.envPrefix = prefix }
}

// WithWatchConfig re-reads the config file on change and calls onReload.
func WithWatchConfig(onReload func()) Option {
	return func(a *App) {
		a.watch = true
		a.onReload = onReload
	}
}

// NewApp builds the root command.
func NewApp(name, shortDesc string, opts ...Option) *App {
	a := &App{
		name:      name,
		shortDesc: shortDesc,
		envPrefix: strings.ToUpper(strings.ReplaceAll(name, "-", "_")),
	}
	for _, o := range opts {
		o(a)
	}

	a.buildCommand()
	return a
}

// Command exposes the root command, mainly for tests.
func (a *App) Command() *cobra.Command {
	return a.cmd
}

// Run executes the command and exits the process on error.
func (a *App) Run() {
	if err := a.cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", a.name, err)
		os.Exit(1)
	}
}

func (a *App) buildCommand() {
	cmd := &cobra.Command{
		Use:           a.name,
		Short:         a.shortDesc,
		Long:          a.description,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          a.args,
	}
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)
	cmd.Flags().SortFlags = true

	var namedFlagSets cliflag.NamedFlagSets
	if a.options != nil {
		namedFlagSets = a.options.Flags()
	}

	namedFlagSets.FlagSet("global").StringP("config", "c", "", "Path to a YAML, JSON or TOML config file.")
	globalflag.AddGlobalFlags(namedFlagSets.FlagSet("global"), cmd.Name())

	fs := cmd.Flags()
	for _, f := range namedFlagSets.FlagSets {
		fs.AddFlagSet(f)
	}

	cols, _, _ := term.TerminalSize(cmd.OutOrStdout())
	cliflag.SetUsageAndHelpFunc(cmd, namedFlagSets, cols)

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		if err := a.loadConfig(cmd); err != nil {
			return err
		}
		if a.run == nil {
			return nil
		}
		return a.run()
	}

	a.cmd = cmd
}

// loadConfig merges .env, the config file, the environment and flags into the
// options struct, in increasing priority.
func (a *App) loadConfig(cmd *cobra.Command) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(a.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	if cfgFile, _ := cmd.Flags().GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", cfgFile, err)
		}
		if a.watch {
			v.OnConfigChange(func(e fsnotify.Event) {
				log.Info("Config file changed", "file", e.Name, "op", e.Op.String())
				if lvl := v.GetString("log.level"); lvl != "" {
					log.SetLevel(lvl)
				}
				if a.onReload != nil {
					a.onReload()
				}
			})
			v.WatchConfig()
		}
	}

	if a.options == nil {
		return nil
	}

	if err := v.Unmarshal(a.options); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	if err := a.options.Complete(); err != nil {
		return err
	}
	return a.options.Validate()
}
