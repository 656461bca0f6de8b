// Package cranking turns the voltage burst of an engine start into a single
// refined minimum voltage.
package cranking

import (
	"fmt"
	"time"

	"github.com/barnapet/smartdrive/internal/pkg/model"
)

const (
	StrategyPlateau   = "plateau"
	StrategyParabolic = "parabolic"
)

// Processor refines the points of one cranking window. The bool result is
// false when the window does not hold enough plausible data; that is an
// expected outcome, not a failure.
type Processor interface {
	Name() string
	Process(points []model.CrankingPoint) (float64, bool)
}

// Config carries the tunables of both strategies.
type Config struct {
	Plateau   PlateauConfig
	Parabolic ParabolicConfig
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	return Config{
		Plateau: PlateauConfig{
			Blanking:   100 * time.Millisecond,
			Window:     500 * time.Millisecond,
			MinSamples: 2,
			MinVoltage: 6.0,
			MaxVoltage: 13.5,
		},
		Parabolic: ParabolicConfig{
			MinPoints:          3,
			ConvexityThreshold: 1e-6,
			MaxDrop:            0.5,
		},
	}
}

// New selects a strategy by name. It is called once at startup.
func New(strategy string, cfg Config) (Processor, error) {
	switch strategy {
	case StrategyPlateau:
		return NewPlateau(cfg.Plateau), nil
	case StrategyParabolic:
		return NewParabolic(cfg.Parabolic), nil
	default:
		return nil, fmt.Errorf("unknown cranking strategy %q (want %q or %q)", strategy, StrategyPlateau, StrategyParabolic)
	}
}
