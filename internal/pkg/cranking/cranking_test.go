package cranking

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barnapet/smartdrive/internal/pkg/model"
)

func pts(pairs ...float64) []model.CrankingPoint {
	out := make([]model.CrankingPoint, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, model.CrankingPoint{Offset: pairs[i], Voltage: pairs[i+1]})
	}
	return out
}

func TestPlateauAveragesPostInrushWindow(t *testing.T) {
	p := NewPlateau(DefaultConfig().Plateau)

	got, ok := p.Process(pts(0.05, 7.5, 0.15, 8.3, 0.3, 8.2, 0.5, 8.1, 0.65, 8.0))
	require.True(t, ok)
	assert.InDelta(t, 8.2, got, 1e-9)
}

func TestPlateauEdgesAreInclusive(t *testing.T) {
	p := NewPlateau(DefaultConfig().Plateau)

	got, ok := p.Process(pts(0.1, 9.0, 0.6, 10.0))
	require.True(t, ok)
	assert.InDelta(t, 9.5, got, 1e-9)
}

func TestPlateauRejects(t *testing.T) {
	p := NewPlateau(DefaultConfig().Plateau)

	tests := []struct {
		name   string
		points []model.CrankingPoint
	}{
		{"empty", nil},
		{"single sample in window", pts(0.05, 7.0, 0.2, 9.9, 0.8, 12.0)},
		{"below brownout floor", pts(0.2, 5.5, 0.3, 5.8)},
		{"above plausible drop", pts(0.2, 13.9, 0.3, 14.0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := p.Process(tt.points)
			assert.False(t, ok)
		})
	}
}

func TestParabolicConvexDipBelowRawMinimum(t *testing.T) {
	p := NewParabolic(DefaultConfig().Parabolic)

	got, ok := p.Process(pts(0.0, 11.8, 0.1, 10.0, 0.2, 9.0, 0.3, 9.5, 0.4, 10.4))
	require.True(t, ok)
	assert.LessOrEqual(t, got, 9.0)
	assert.InDelta(t, 8.979166, got, 1e-5)
}

func TestParabolicRejects(t *testing.T) {
	p := NewParabolic(DefaultConfig().Parabolic)

	tests := []struct {
		name   string
		points []model.CrankingPoint
	}{
		{"too few points", pts(0.0, 10.0, 0.1, 9.0)},
		{"minimum at the first sample", pts(0.0, 8.0, 0.1, 9.0, 0.2, 10.0)},
		{"minimum at the last sample", pts(0.0, 11.0, 0.1, 10.0, 0.2, 9.0)},
		{"duplicate timestamps", pts(0.1, 10.0, 0.1, 9.0, 0.2, 9.5)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := p.Process(tt.points)
			assert.False(t, ok)
		})
	}
}

func TestParabolicRejectsConcaveFit(t *testing.T) {
	p := NewParabolic(DefaultConfig().Parabolic)

	_, ok := p.vertex(
		model.CrankingPoint{Offset: 0.1, Voltage: 9.0},
		model.CrankingPoint{Offset: 0.2, Voltage: 9.5},
		model.CrankingPoint{Offset: 0.3, Voltage: 9.0},
	)
	assert.False(t, ok, "peak instead of dip")

	_, ok = p.vertex(
		model.CrankingPoint{Offset: 0.1, Voltage: 10.0},
		model.CrankingPoint{Offset: 0.2, Voltage: 9.5},
		model.CrankingPoint{Offset: 0.3, Voltage: 9.0},
	)
	assert.False(t, ok, "collinear points have no vertex")
}

func TestParabolicRejectsBlowUp(t *testing.T) {
	cfg := DefaultConfig().Parabolic
	cfg.MaxDrop = 0.01
	p := NewParabolic(cfg)

	// Vertex lies about 0.02 V under the raw minimum, past the tightened margin.
	_, ok := p.Process(pts(0.1, 10.0, 0.2, 9.0, 0.3, 9.5))
	assert.False(t, ok)
}

func TestNewSelectsStrategy(t *testing.T) {
	for _, name := range []string{StrategyPlateau, StrategyParabolic} {
		p, err := New(name, DefaultConfig())
		require.NoError(t, err)
		assert.Equal(t, name, p.Name())
	}

	_, err := New("kalman", DefaultConfig())
	assert.Error(t, err)
}

func TestWindowLifecycle(t *testing.T) {
	var w Window
	start := time.Unix(1700000000, 0)

	w.Append(start, 12.0)
	assert.Zero(t, w.Len(), "closed window ignores samples")

	w.Open(start)
	w.Append(start, 10.5)
	w.Append(start.Add(100*time.Millisecond), 9.8)
	require.True(t, w.IsOpen())
	require.Equal(t, 2, w.Len())

	gotStart, points := w.Close()
	assert.Equal(t, start, gotStart)
	assert.Equal(t, pts(0, 10.5, 0.1, 9.8), points)
	assert.False(t, w.IsOpen())
	assert.Zero(t, w.Len())

	w.Open(start.Add(time.Minute))
	w.Append(start.Add(time.Minute), 11.0)
	assert.Equal(t, 10.5, points[0].Voltage, "closed points are detached from the buffer")
}

func TestOptionsRoundTripDefaults(t *testing.T) {
	o := NewOptions()
	assert.Empty(t, o.Validate())
	assert.Equal(t, DefaultConfig(), o.Config())

	o.MinSamples = 0
	o.MinVoltage = 14
	o.MinPoints = 2
	err := o.Config().Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one sample")
	assert.Contains(t, err.Error(), "voltage range")
	assert.Contains(t, err.Error(), "at least 3 points")
}

func TestOptionsFlagsUsePrefix(t *testing.T) {
	o := NewOptions()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	o.AddFlags(fs, "evaluation")

	require.NoError(t, fs.Parse([]string{"--evaluation.cranking.window=800ms", "--evaluation.cranking.min-samples=4"}))
	cfg := o.Config()
	assert.Equal(t, 800*time.Millisecond, cfg.Plateau.Window)
	assert.Equal(t, 4, cfg.Plateau.MinSamples)
}
