package cranking

import (
	"time"

	"github.com/barnapet/smartdrive/internal/pkg/model"
)

// timeEpsilon absorbs float error at the window edges.
const timeEpsilon = 1e-9

// PlateauConfig tunes plateau averaging.
type PlateauConfig struct {
	// Blanking skips the inrush spike right after the starter engages.
	Blanking time.Duration
	// Window is the span averaged after the blanking period.
	Window     time.Duration
	MinSamples int
	MinVoltage float64
	MaxVoltage float64
}

// Plateau averages the voltage plateau that follows the inrush spike.
type Plateau struct {
	cfg PlateauConfig
}

var _ Processor = (*Plateau)(nil)

func NewPlateau(cfg PlateauConfig) *Plateau {
	return &Plateau{cfg: cfg}
}

func (p *Plateau) Name() string { return StrategyPlateau }

// Process averages the points whose offset lies in [Blanking, Blanking+Window].
// Offsets are relative to the cranking start.
func (p *Plateau) Process(points []model.CrankingPoint) (float64, bool) {
	lower := p.cfg.Blanking.Seconds()
	upper := lower + p.cfg.Window.Seconds()

	var sum float64
	var n int
	for _, pt := range points {
		if pt.Offset < lower-timeEpsilon || pt.Offset > upper+timeEpsilon {
			continue
		}
		sum += pt.Voltage
		n++
	}

	if n < p.cfg.MinSamples || n == 0 {
		return 0, false
	}

	avg := sum / float64(n)
	if avg < p.cfg.MinVoltage || avg > p.cfg.MaxVoltage {
		return 0, false
	}
	return avg, true
}
