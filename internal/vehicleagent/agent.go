package vehicleagent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"k8s.io/utils/clock"

	"github.com/barnapet/smartdrive/internal/pkg/metrics"
	"github.com/barnapet/smartdrive/internal/pkg/model"
	"github.com/barnapet/smartdrive/internal/vehicleagent/obd"
	"github.com/barnapet/smartdrive/internal/vehicleagent/sampling"
	"github.com/barnapet/smartdrive/pkg/log"
)

// Sink receives what the agent forwards. hub.Hub is the MQTT implementation.
type Sink interface {
	PublishTelemetry(ctx context.Context, s model.TelemetrySample) error
	PublishCranking(ctx context.Context, r *model.CrankingReport) error
	PublishAlert(ctx context.Context, a *model.Alert) error
}

// lifecycle is implemented by sinks that hold a connection.
type lifecycle interface {
	Start(ctx context.Context) error
	Stop()
}

// Profile holds the vehicle facts that the agent adds to cranking reports.
type Profile struct {
	VIN       string
	FuelType  model.FuelType
	Latitude  *float64
	Longitude *float64
	SOH       *float64
	SOC       *float64
}

// TickResult describes one fetch-decide cycle.
type TickResult struct {
	At       time.Time
	Sample   *model.TelemetrySample
	Decision sampling.Decision
	// Wait is the sleep before the next tick.
	Wait time.Duration
	Err  error
}

// Agent runs the sampling loop on a single goroutine.
type Agent struct {
	profile      Profile
	source       obd.Source
	controller   *sampling.Controller
	sink         Sink
	link         *Reconnector
	clock        clock.Clock
	fetchTimeout time.Duration
	onTick       func(TickResult)

	last    model.TelemetrySample
	hasLast bool
}

// AgentOption customises an Agent.
type AgentOption func(*Agent)

// WithTickHook is called after every tick, before the agent sleeps.
func WithTickHook(fn func(TickResult)) AgentOption {
	return func(a *Agent) { a.onTick = fn }
}

func NewAgent(
	profile Profile,
	source obd.Source,
	controller *sampling.Controller,
	sink Sink,
	link *Reconnector,
	clk clock.Clock,
	fetchTimeout time.Duration,
	opts ...AgentOption,
) *Agent {
	a := &Agent{
		profile:      profile,
		source:       source,
		controller:   controller,
		sink:         sink,
		link:         link,
		clock:        clk,
		fetchTimeout: fetchTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run loops until ctx is cancelled. It only returns an error when a bounded
// reconnect budget is exhausted.
func (a *Agent) Run(ctx context.Context) error {
	log.Info("Starting smartdrive-agent", "vin", a.profile.VIN, "state", a.controller.State())

	if lc, ok := a.sink.(lifecycle); ok {
		if err := lc.Start(ctx); err != nil {
			return fmt.Errorf("failed to start publisher: %w", err)
		}
		defer lc.Stop()
	}
	defer func() {
		if err := a.source.Close(); err != nil {
			log.Warn("Closing OBD source failed", "error", err.Error())
		}
	}()

	for {
		if err := a.link.Ensure(ctx); err != nil {
			if ctx.Err() != nil {
				log.Info("Agent shutting down...")
				return nil
			}
			return err
		}

		res := a.Tick(ctx)
		if a.onTick != nil {
			a.onTick(res)
		}

		select {
		case <-ctx.Done():
			log.Info("Agent shutting down...")
			return nil
		case <-a.clock.After(res.Wait):
		}
	}
}

// Tick performs one fetch, feeds the controller and forwards the results.
// A failed fetch leaves the controller state unchanged.
func (a *Agent) Tick(ctx context.Context) TickResult {
	res := TickResult{At: a.clock.Now()}

	sample, err := a.fetch(ctx)
	if err != nil {
		metrics.SamplesTotal.WithLabelValues("fetch_failed").Inc()
		res.Err = err
		res.Decision = sampling.Decision{State: a.controller.State(), Interval: a.controller.Interval()}
		res.Wait = res.Decision.Interval
		if errors.Is(err, obd.ErrDisconnected) {
			a.link.MarkDisconnected(err)
			res.Wait = a.link.interval
		} else {
			log.Warn("Fetch failed", "vin", a.profile.VIN, "state", a.controller.State(), "error", err.Error())
		}
		return res
	}
	a.last, a.hasLast = sample, true
	res.Sample = &sample

	d := a.controller.Observe(ctx, sample)
	res.Decision = d
	res.Wait = d.Interval

	if d.Alert != nil {
		if err := a.sink.PublishAlert(ctx, d.Alert); err != nil {
			log.Error(err, "Failed to publish alert", "vin", a.profile.VIN, "kind", d.Alert.Kind)
		}
	}

	if d.Report != nil {
		report := a.enrich(d.Report)
		if err := a.sink.PublishCranking(ctx, report); err != nil {
			log.Error(err, "Failed to publish cranking report", "vin", a.profile.VIN)
		}
	}

	switch {
	case d.Suppress:
		metrics.SamplesTotal.WithLabelValues("suppressed").Inc()
	default:
		if err := a.sink.PublishTelemetry(ctx, sample); err != nil {
			metrics.SamplesTotal.WithLabelValues("publish_failed").Inc()
			log.Error(err, "Failed to publish telemetry", "vin", a.profile.VIN)
		} else {
			metrics.SamplesTotal.WithLabelValues("published").Inc()
		}
	}

	return res
}

// SourceStatus reports the OBD link. Safe to call from any goroutine.
func (a *Agent) SourceStatus() Status {
	return a.link.Status()
}

// fetch reads one sample under the fetch timeout. While cranking it uses the
// fast path when the source has one.
func (a *Agent) fetch(ctx context.Context) (model.TelemetrySample, error) {
	ctx, cancel := context.WithTimeout(ctx, a.fetchTimeout)
	defer cancel()

	if fast, ok := a.source.(obd.FastFetcher); ok && a.hasLast && a.controller.State() == sampling.StateCranking {
		return fast.FetchFast(ctx, a.last)
	}
	return a.source.Fetch(ctx)
}

func (a *Agent) enrich(r *model.CrankingReport) *model.CrankingReport {
	out := *r
	out.FuelType = a.profile.FuelType
	out.Latitude = a.profile.Latitude
	out.Longitude = a.profile.Longitude
	out.SOH = a.profile.SOH
	out.SOC = a.profile.SOC
	return &out
}
