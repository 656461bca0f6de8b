// Package sampling decides, per polling tick, how often the agent samples the
// vehicle and whether the sample is forwarded.
package sampling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/looplab/fsm"

	"github.com/barnapet/smartdrive/internal/pkg/cranking"
	"github.com/barnapet/smartdrive/internal/pkg/metrics"
	"github.com/barnapet/smartdrive/internal/pkg/model"
	"github.com/barnapet/smartdrive/pkg/log"
)

// State is a sampling controller state.
type State string

const (
	StateCranking    State = "cranking"
	StateSteady      State = "steady"
	StatePostDrive   State = "post_drive"
	StatePowerSaving State = "power_saving"
	StateSentinel    State = "sentinel"
)

var allStates = []State{StateCranking, StateSteady, StatePostDrive, StatePowerSaving, StateSentinel}

const (
	EventCrank   = "crank"
	EventRun     = "run"
	EventPark    = "park"
	EventProtect = "protect"
	EventResume  = "resume"
)

// Decision is the controller's output for one tick.
type Decision struct {
	State    State
	Interval time.Duration
	// Suppress is true in protection states; the sample must not be published.
	Suppress bool
	// Report is set on the tick that closed a cranking window into STEADY.
	Report *model.CrankingReport
	// Alert is set when a drain or sentinel alert must be raised.
	Alert *model.Alert
}

// tick is passed to the fsm callbacks as the single event argument.
type tick struct {
	sample   model.TelemetrySample
	decision *Decision
}

// Controller is the sampling state machine. It is used by a single goroutine.
type Controller struct {
	cfg       Thresholds
	processor cranking.Processor
	protect   State

	machine *fsm.FSM
	window  cranking.Window
	// opening is the sample that opened the current window.
	opening model.TelemetrySample

	log log.Logger
}

// NewController validates the thresholds and builds a controller in STEADY.
func NewController(cfg Thresholds, processor cranking.Processor) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sampling thresholds: %w", err)
	}
	if processor == nil {
		return nil, errors.New("a cranking processor is required")
	}

	c := &Controller{
		cfg:       cfg,
		processor: processor,
		protect:   StatePowerSaving,
		log:       log.WithName("sampling"),
	}
	if cfg.Sentinel {
		c.protect = StateSentinel
	}

	running := []string{string(StateCranking), string(StateSteady), string(StatePostDrive)}
	events := fsm.Events{
		{Name: EventCrank, Src: running, Dst: string(StateCranking)},
		{Name: EventRun, Src: statesAsStrings(allStates), Dst: string(StateSteady)},
		{Name: EventPark, Src: running, Dst: string(StatePostDrive)},
		{Name: EventProtect, Src: append(running, string(c.protect)), Dst: string(c.protect)},
		{Name: EventResume, Src: []string{string(c.protect)}, Dst: string(StateSteady)},
	}

	callbacks := fsm.Callbacks{
		"enter_" + string(StateCranking): callback(c.actionOpenWindow),
		"leave_" + string(StateCranking): callback(c.actionCloseWindow),
		"enter_" + string(c.protect):     callback(c.actionEnterProtection),
		"enter_state":                    callback(c.actionRecordTransition),
	}

	c.machine = fsm.NewFSM(string(StateSteady), events, callbacks)
	c.recordState(StateSteady)
	return c, nil
}

// State returns the current state.
func (c *Controller) State() State {
	return State(c.machine.Current())
}

// Interval returns the polling interval of the current state. The agent uses
// it to retry after a failed fetch without changing state.
func (c *Controller) Interval() time.Duration {
	return c.interval(c.State())
}

// Observe runs the transition rules for one sample and returns the decision.
// A failed fetch must not be passed in; the state is then left unchanged.
func (c *Controller) Observe(ctx context.Context, s model.TelemetrySample) Decision {
	d := &Decision{}

	if event := c.nextEvent(s); event != "" {
		err := c.machine.Event(ctx, event, &tick{sample: s, decision: d})
		var noTransition fsm.NoTransitionError
		if err != nil && !errors.As(err, &noTransition) {
			c.log.Error(err, "Sampling transition failed", "event", event, "state", c.machine.Current())
		}
	}

	state := c.State()
	if state == StateCranking {
		c.window.Append(s.Timestamp, s.Voltage)
	}

	if state == StateSentinel && d.Alert == nil && s.Voltage < c.cfg.SentinelCriticalVoltage {
		d.Alert = newAlert(s, model.AlertSentinelCritical,
			fmt.Sprintf("Battery at %.2f V, below sentinel critical level %.2f V", s.Voltage, c.cfg.SentinelCriticalVoltage))
	}

	d.State = state
	d.Interval = c.interval(state)
	d.Suppress = isProtection(state)
	metrics.PollInterval.Set(d.Interval.Seconds())
	return *d
}

// nextEvent applies the rules in priority order. An empty result keeps the
// current state.
func (c *Controller) nextEvent(s model.TelemetrySample) string {
	protected := isProtection(c.State())

	switch {
	case s.RPM == 0 && s.Voltage < c.cfg.CutoffVoltage:
		return EventProtect
	case protected && s.Voltage >= c.cfg.ResumeVoltage:
		return EventResume
	case s.RPM >= c.cfg.CrankingRPMLimit:
		return EventRun
	case protected:
		// Inside the hysteresis band, or cranking on a drained battery.
		return ""
	case s.RPM > 0:
		return EventCrank
	default:
		return EventPark
	}
}

func (c *Controller) interval(s State) time.Duration {
	switch s {
	case StateCranking:
		return c.cfg.CrankingInterval
	case StateSteady:
		return c.cfg.SteadyInterval
	case StatePowerSaving:
		return c.cfg.PowerSavingInterval
	case StateSentinel:
		return c.cfg.SentinelInterval
	default:
		return c.cfg.PostDriveInterval
	}
}

func (c *Controller) actionOpenWindow(_ context.Context, e *fsm.Event) error {
	t := e.Args[0].(*tick)
	c.window.Open(t.sample.Timestamp)
	c.opening = t.sample
	c.log.Debug("Cranking detected, window opened", "vin", t.sample.VIN, "rpm", t.sample.RPM, "voltage", t.sample.Voltage)
	return nil
}

// actionCloseWindow hands the window to the processor when the engine caught
// (transition to STEADY) and discards it otherwise.
func (c *Controller) actionCloseWindow(_ context.Context, e *fsm.Event) error {
	t := e.Args[0].(*tick)
	start, points := c.window.Close()
	strategy := c.processor.Name()

	if e.Dst != string(StateSteady) {
		metrics.CrankingEventsTotal.WithLabelValues(strategy, "discarded").Inc()
		c.log.Info("Cranking aborted, window discarded", "vin", t.sample.VIN, "next", e.Dst, "points", len(points))
		return nil
	}

	report := &model.CrankingReport{
		VIN:         t.sample.VIN,
		Timestamp:   model.EpochSeconds(start),
		Strategy:    strategy,
		Points:      points,
		IntakeTemp:  c.opening.IntakeTemp,
		CoolantTemp: c.opening.CoolantTemp,
	}

	if vmin, ok := c.processor.Process(points); ok {
		report.RefinedVmin = &vmin
		metrics.CrankingEventsTotal.WithLabelValues(strategy, "refined").Inc()
		c.log.Info("Cranking window refined", "vin", t.sample.VIN, "strategy", strategy, "vmin", vmin, "points", len(points))
	} else {
		metrics.CrankingEventsTotal.WithLabelValues(strategy, "unrefined").Inc()
		c.log.Info("Cranking window produced no refined vmin", "vin", t.sample.VIN, "strategy", strategy, "points", len(points))
	}

	t.decision.Report = report
	return nil
}

func (c *Controller) actionEnterProtection(_ context.Context, e *fsm.Event) error {
	t := e.Args[0].(*tick)
	t.decision.Alert = newAlert(t.sample, model.AlertVampireDrain,
		fmt.Sprintf("Battery at %.2f V with engine off, below cutoff %.2f V; sampling reduced", t.sample.Voltage, c.cfg.CutoffVoltage))
	c.log.Warn("Vampire drain protection engaged", "vin", t.sample.VIN, "voltage", t.sample.Voltage, "state", e.Dst)
	return nil
}

func (c *Controller) actionRecordTransition(_ context.Context, e *fsm.Event) error {
	c.recordState(State(e.Dst))
	c.log.Info("Sampling state changed", "from", e.Src, "to", e.Dst, "event", e.Event)
	return nil
}

func (c *Controller) recordState(current State) {
	for _, s := range allStates {
		v := 0.0
		if s == current {
			v = 1
		}
		metrics.SamplingState.WithLabelValues(string(s)).Set(v)
	}
}

func newAlert(s model.TelemetrySample, kind model.AlertKind, msg string) *model.Alert {
	return &model.Alert{
		VIN:       s.VIN,
		Timestamp: model.EpochSeconds(s.Timestamp),
		Kind:      kind,
		Voltage:   s.Voltage,
		Message:   msg,
	}
}

func isProtection(s State) bool {
	return s == StatePowerSaving || s == StateSentinel
}

func statesAsStrings(states []State) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}

// callback adapts an action to looplab/fsm. A returned error is stored on the
// event so Event reports it to the caller.
func callback(fn func(ctx context.Context, e *fsm.Event) error) fsm.Callback {
	return func(ctx context.Context, e *fsm.Event) {
		if err := fn(ctx, e); err != nil {
			e.Err = err
		}
	}
}
