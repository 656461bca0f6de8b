package cranking

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
)

// Validate checks the tunables of both strategies.
func (c Config) Validate() error {
	var errs []error
	if c.Plateau.Blanking < 0 || c.Plateau.Window <= 0 {
		errs = append(errs, fmt.Errorf("plateau blanking must not be negative and the window must be positive"))
	}
	if c.Plateau.MinSamples < 1 {
		errs = append(errs, fmt.Errorf("plateau needs at least one sample, got %d", c.Plateau.MinSamples))
	}
	if c.Plateau.MinVoltage >= c.Plateau.MaxVoltage {
		errs = append(errs, fmt.Errorf("plateau voltage range [%.2f, %.2f] is empty", c.Plateau.MinVoltage, c.Plateau.MaxVoltage))
	}
	if c.Parabolic.MinPoints < 3 {
		errs = append(errs, fmt.Errorf("parabolic fit needs at least 3 points, got %d", c.Parabolic.MinPoints))
	}
	if c.Parabolic.ConvexityThreshold < 0 || c.Parabolic.MaxDrop < 0 {
		errs = append(errs, fmt.Errorf("parabolic convexity threshold and max drop must not be negative"))
	}
	return utilerrors.NewAggregate(errs)
}

// Options exposes Config as flags. The agent and the insights worker register
// the same set under their own prefix, so cloud refinement can follow the
// constants used at the edge.
type Options struct {
	Blanking   time.Duration `json:"blanking" mapstructure:"blanking"`
	Window     time.Duration `json:"window" mapstructure:"window"`
	MinSamples int           `json:"min-samples" mapstructure:"min-samples"`
	MinVoltage float64       `json:"min-voltage" mapstructure:"min-voltage"`
	MaxVoltage float64       `json:"max-voltage" mapstructure:"max-voltage"`

	MinPoints          int     `json:"min-points" mapstructure:"min-points"`
	ConvexityThreshold float64 `json:"convexity-threshold" mapstructure:"convexity-threshold"`
	MaxDrop            float64 `json:"max-drop" mapstructure:"max-drop"`
}

func NewOptions() *Options {
	d := DefaultConfig()
	return &Options{
		Blanking:           d.Plateau.Blanking,
		Window:             d.Plateau.Window,
		MinSamples:         d.Plateau.MinSamples,
		MinVoltage:         d.Plateau.MinVoltage,
		MaxVoltage:         d.Plateau.MaxVoltage,
		MinPoints:          d.Parabolic.MinPoints,
		ConvexityThreshold: d.Parabolic.ConvexityThreshold,
		MaxDrop:            d.Parabolic.MaxDrop,
	}
}

func (o *Options) Config() Config {
	return Config{
		Plateau: PlateauConfig{
			Blanking:   o.Blanking,
			Window:     o.Window,
			MinSamples: o.MinSamples,
			MinVoltage: o.MinVoltage,
			MaxVoltage: o.MaxVoltage,
		},
		Parabolic: ParabolicConfig{
			MinPoints:          o.MinPoints,
			ConvexityThreshold: o.ConvexityThreshold,
			MaxDrop:            o.MaxDrop,
		},
	}
}

func (o *Options) Validate() []error {
	if err := o.Config().Validate(); err != nil {
		return []error{fmt.Errorf("cranking: %w", err)}
	}
	return nil
}

// AddFlags registers the flags as {prefix}.cranking.*.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefix string) {
	name := func(s string) string { return prefix + ".cranking." + s }
	fs.DurationVar(&o.Blanking, name("blanking"), o.Blanking, "Plateau: span skipped after the starter engages.")
	fs.DurationVar(&o.Window, name("window"), o.Window, "Plateau: span averaged after the blanking period.")
	fs.IntVar(&o.MinSamples, name("min-samples"), o.MinSamples, "Plateau: samples required inside the window.")
	fs.Float64Var(&o.MinVoltage, name("min-voltage"), o.MinVoltage, "Plateau: lowest plausible voltage.")
	fs.Float64Var(&o.MaxVoltage, name("max-voltage"), o.MaxVoltage, "Plateau: highest plausible voltage.")
	fs.IntVar(&o.MinPoints, name("min-points"), o.MinPoints, "Parabolic: points required for a fit.")
	fs.Float64Var(&o.ConvexityThreshold, name("convexity-threshold"), o.ConvexityThreshold, "Parabolic: smallest accepted curvature.")
	fs.Float64Var(&o.MaxDrop, name("max-drop"), o.MaxDrop, "Parabolic: largest accepted drop of the vertex below the lowest sample, in V.")
}
