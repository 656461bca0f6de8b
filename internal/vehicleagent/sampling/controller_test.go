package sampling

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barnapet/smartdrive/internal/pkg/cranking"
	"github.com/barnapet/smartdrive/internal/pkg/model"
)

var t0 = time.Unix(1700000000, 0)

func newController(t *testing.T, mutate ...func(*Thresholds)) *Controller {
	t.Helper()
	cfg := DefaultThresholds()
	for _, m := range mutate {
		m(&cfg)
	}
	c, err := NewController(cfg, cranking.NewPlateau(cranking.DefaultConfig().Plateau))
	require.NoError(t, err)
	return c
}

func sample(at time.Duration, rpm, voltage float64) model.TelemetrySample {
	return model.TelemetrySample{VIN: "VIN1", Timestamp: t0.Add(at), RPM: rpm, Voltage: voltage}
}

func TestInitialStateIsSteady(t *testing.T) {
	c := newController(t)
	assert.Equal(t, StateSteady, c.State())
}

func TestHealthyVoltageEngineOffIsPostDrive(t *testing.T) {
	c := newController(t)
	d := c.Observe(context.Background(), sample(0, 0, 14.0))

	assert.Equal(t, StatePostDrive, d.State)
	assert.Equal(t, time.Minute, d.Interval)
	assert.False(t, d.Suppress)
	assert.Nil(t, d.Alert)
}

func TestHysteresisHoldsProtection(t *testing.T) {
	c := newController(t)
	ctx := context.Background()

	steps := []struct {
		voltage float64
		want    State
	}{
		{12.6, StatePostDrive},
		{11.9, StatePowerSaving},
		{12.5, StatePowerSaving},
		{12.99, StatePowerSaving},
		{12.0, StatePowerSaving},
		{13.0, StateSteady},
		{12.8, StatePostDrive},
	}

	for i, step := range steps {
		d := c.Observe(ctx, sample(time.Duration(i)*time.Minute, 0, step.voltage))
		require.Equal(t, step.want, d.State, "step %d at %.2f V", i, step.voltage)
		assert.Equal(t, isProtection(step.want), d.Suppress, "step %d", i)
	}
}

func TestHysteresisRandomWalk(t *testing.T) {
	c := newController(t)
	cfg := DefaultThresholds()
	rng := rand.New(rand.NewSource(42))
	ctx := context.Background()

	protected := false
	for i := 0; i < 2000; i++ {
		v := 11.5 + rng.Float64()*2.0
		d := c.Observe(ctx, sample(time.Duration(i)*time.Second, 0, v))

		switch {
		case v < cfg.CutoffVoltage:
			protected = true
		case protected && v >= cfg.ResumeVoltage:
			protected = false
		}
		require.Equal(t, protected, isProtection(d.State), "tick %d at %.3f V", i, v)
	}
}

func TestProtectionRaisesDrainAlertOnce(t *testing.T) {
	c := newController(t)
	ctx := context.Background()

	d := c.Observe(ctx, sample(0, 0, 11.9))
	require.NotNil(t, d.Alert)
	assert.Equal(t, model.AlertVampireDrain, d.Alert.Kind)
	assert.Equal(t, 30*time.Minute, d.Interval)

	d = c.Observe(ctx, sample(time.Minute, 0, 11.8))
	assert.Nil(t, d.Alert)
}

func TestSentinelMode(t *testing.T) {
	c := newController(t, func(th *Thresholds) { th.Sentinel = true })
	ctx := context.Background()

	d := c.Observe(ctx, sample(0, 0, 12.0))
	assert.Equal(t, StateSentinel, d.State)
	assert.Equal(t, time.Hour, d.Interval)
	assert.True(t, d.Suppress)
	require.NotNil(t, d.Alert)
	assert.Equal(t, model.AlertVampireDrain, d.Alert.Kind)

	d = c.Observe(ctx, sample(time.Hour, 0, 11.7))
	require.NotNil(t, d.Alert)
	assert.Equal(t, model.AlertSentinelCritical, d.Alert.Kind)

	d = c.Observe(ctx, sample(2*time.Hour, 0, 12.05))
	assert.Nil(t, d.Alert)

	d = c.Observe(ctx, sample(3*time.Hour, 0, 13.2))
	assert.Equal(t, StateSteady, d.State)
}

func TestCrankingProducesReport(t *testing.T) {
	c := newController(t)
	ctx := context.Background()

	c.Observe(ctx, sample(0, 0, 12.6))

	temp := 4.0
	first := sample(time.Second, 150, 10.4)
	first.IntakeTemp = &temp
	d := c.Observe(ctx, first)
	require.Equal(t, StateCranking, d.State)
	assert.Equal(t, 100*time.Millisecond, d.Interval)

	for i, v := range []float64{9.9, 9.8, 9.7, 9.8, 9.9, 10.2} {
		d = c.Observe(ctx, sample(time.Second+time.Duration(i+1)*100*time.Millisecond, 250, v))
		require.Equal(t, StateCranking, d.State)
		require.Nil(t, d.Report)
	}

	d = c.Observe(ctx, sample(1800*time.Millisecond, 900, 13.9))
	require.Equal(t, StateSteady, d.State)
	require.NotNil(t, d.Report)

	r := d.Report
	assert.Equal(t, "VIN1", r.VIN)
	assert.Equal(t, model.EpochSeconds(t0.Add(time.Second)), r.Timestamp)
	assert.Equal(t, cranking.StrategyPlateau, r.Strategy)
	assert.Len(t, r.Points, 7)
	assert.Equal(t, 0.0, r.Points[0].Offset)
	require.NotNil(t, r.RefinedVmin)
	// Offsets 0.1 to 0.6 hold 9.9, 9.8, 9.7, 9.8, 9.9, 10.2.
	assert.InDelta(t, 9.883333, *r.RefinedVmin, 1e-5)
	require.NotNil(t, r.IntakeTemp)
	assert.Equal(t, 4.0, *r.IntakeTemp)

	d = c.Observe(ctx, sample(7*time.Second, 2200, 14.1))
	assert.Nil(t, d.Report, "a report is emitted once")
}

func TestAbortedCrankIsDiscarded(t *testing.T) {
	c := newController(t)
	ctx := context.Background()

	c.Observe(ctx, sample(0, 200, 10.0))
	c.Observe(ctx, sample(100*time.Millisecond, 180, 9.9))
	d := c.Observe(ctx, sample(200*time.Millisecond, 0, 12.3))

	assert.Equal(t, StatePostDrive, d.State)
	assert.Nil(t, d.Report)
	assert.False(t, c.window.IsOpen())
}

func TestCrankBetweenPostDrivePollsIsMissed(t *testing.T) {
	c := newController(t)
	ctx := context.Background()

	d := c.Observe(ctx, sample(0, 0, 13.8))
	require.Equal(t, StatePostDrive, d.State)

	// the whole crank fell between two polls; the next poll sees a running engine
	d = c.Observe(ctx, sample(d.Interval, 820, 14.1))
	assert.Equal(t, StateSteady, d.State)
	assert.Nil(t, d.Report)
	assert.False(t, c.window.IsOpen())
}

func TestRunningEngineLeavesProtection(t *testing.T) {
	c := newController(t)
	ctx := context.Background()

	c.Observe(ctx, sample(0, 0, 11.5))
	d := c.Observe(ctx, sample(time.Second, 300, 9.5))
	assert.Equal(t, StatePowerSaving, d.State, "cranking band does not apply while protected")

	d = c.Observe(ctx, sample(2*time.Second, 1500, 12.9))
	assert.Equal(t, StateSteady, d.State)
	assert.False(t, d.Suppress)
}

func TestThresholdsValidate(t *testing.T) {
	require.NoError(t, DefaultThresholds().Validate())

	for _, pair := range [][2]float64{{12.1, 12.1}, {12.5, 12.1}, {13.0, 0.5}} {
		cfg := DefaultThresholds()
		cfg.CutoffVoltage, cfg.ResumeVoltage = pair[0], pair[1]
		_, err := NewController(cfg, cranking.NewPlateau(cranking.DefaultConfig().Plateau))
		assert.Error(t, err, "cutoff %.2f resume %.2f", pair[0], pair[1])
	}

	cfg := DefaultThresholds()
	cfg.SteadyInterval = 0
	cfg.CrankingRPMLimit = -1
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "steady interval")
	assert.Contains(t, err.Error(), "rpm limit")
}

func TestNewControllerRequiresProcessor(t *testing.T) {
	_, err := NewController(DefaultThresholds(), nil)
	assert.Error(t, err)
}
