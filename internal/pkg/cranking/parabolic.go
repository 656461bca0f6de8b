package cranking

import (
	"math"

	"github.com/barnapet/smartdrive/internal/pkg/model"
)

// ParabolicConfig tunes parabolic interpolation.
type ParabolicConfig struct {
	MinPoints int
	// ConvexityThreshold is the smallest accepted leading coefficient.
	ConvexityThreshold float64
	// MaxDrop bounds how far the vertex may lie below the lowest raw sample.
	MaxDrop float64
}

// Parabolic fits a parabola through the lowest sample and its two neighbours
// and takes the vertex as the true minimum, which usually falls between
// samples at a 10 Hz polling rate.
type Parabolic struct {
	cfg ParabolicConfig
}

var _ Processor = (*Parabolic)(nil)

func NewParabolic(cfg ParabolicConfig) *Parabolic {
	return &Parabolic{cfg: cfg}
}

func (p *Parabolic) Name() string { return StrategyParabolic }

// Process picks the bracket around the lowest sample and returns the vertex.
func (p *Parabolic) Process(points []model.CrankingPoint) (float64, bool) {
	minPoints := max(p.cfg.MinPoints, 3)
	if len(points) < minPoints {
		return 0, false
	}

	idx := 0
	for i, pt := range points {
		if pt.Voltage < points[idx].Voltage {
			idx = i
		}
	}
	// The minimum needs a neighbour on each side.
	if idx == 0 || idx == len(points)-1 {
		return 0, false
	}

	return p.vertex(points[idx-1], points[idx], points[idx+1])
}

// vertex fits v = A·t² + B·t + C through three points with time shifted to
// the middle sample.
func (p *Parabolic) vertex(a, b, c model.CrankingPoint) (float64, bool) {
	t0, t1, t2 := a.Offset-b.Offset, 0.0, c.Offset-b.Offset
	v0, v1, v2 := a.Voltage, b.Voltage, c.Voltage

	denom := (t0 - t1) * (t0 - t2) * (t1 - t2)
	if denom == 0 {
		return 0, false
	}

	A := (t2*(v1-v0) + t1*(v0-v2) + t0*(v2-v1)) / denom
	B := (t2*t2*(v0-v1) + t1*t1*(v2-v0) + t0*t0*(v1-v2)) / denom

	if A <= p.cfg.ConvexityThreshold {
		return 0, false
	}

	C := v0 - A*t0*t0 - B*t0
	tv := -B / (2 * A)
	vv := A*tv*tv + B*tv + C

	lowest := math.Min(v0, math.Min(v1, v2))
	if math.IsNaN(vv) || vv < lowest-p.cfg.MaxDrop {
		return 0, false
	}
	return vv, true
}
