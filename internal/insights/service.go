// Package insights is the cloud side worker: it turns cranking reports into
// stored and published battery verdicts.
package insights

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"github.com/barnapet/smartdrive/internal/insights/archive"
	"github.com/barnapet/smartdrive/internal/insights/battery"
	"github.com/barnapet/smartdrive/internal/insights/queue"
	"github.com/barnapet/smartdrive/internal/insights/store"
	"github.com/barnapet/smartdrive/internal/insights/temperature"
	"github.com/barnapet/smartdrive/internal/pkg/cranking"
	"github.com/barnapet/smartdrive/internal/pkg/metrics"
	"github.com/barnapet/smartdrive/internal/pkg/model"
	"github.com/barnapet/smartdrive/pkg/log"
)

// VerdictPublisher announces stored verdicts to downstream consumers.
type VerdictPublisher interface {
	PublishVerdict(ctx context.Context, v *model.BatteryVerdict) error
}

// Outcome of one report.
type Outcome string

const (
	OutcomeEvaluated Outcome = "evaluated"
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeSkipped means the window could not be refined to a Vmin.
	OutcomeSkipped Outcome = "skipped"
)

// Service evaluates reports one at a time. Archive and Publisher may be nil.
type Service struct {
	evaluator  *battery.Evaluator
	debounce   battery.Debounce
	resolver   *temperature.Resolver
	processors map[string]cranking.Processor
	fallback   cranking.Processor
	store      store.InsightStore
	archive    archive.Archive
	publisher  VerdictPublisher
	clock      clock.PassiveClock
	cranking   cranking.Config
}

type ServiceOption func(*Service)

func WithArchive(a archive.Archive) ServiceOption {
	return func(s *Service) { s.archive = a }
}

func WithPublisher(p VerdictPublisher) ServiceOption {
	return func(s *Service) { s.publisher = p }
}

func WithClock(clk clock.PassiveClock) ServiceOption {
	return func(s *Service) { s.clock = clk }
}

// WithCrankingConfig sets the constants used to refine raw windows.
func WithCrankingConfig(cfg cranking.Config) ServiceOption {
	return func(s *Service) { s.cranking = cfg }
}

// NewService wires the pipeline. fallbackStrategy refines reports that arrive
// without a refined_vmin and name no known strategy.
func NewService(
	evaluator *battery.Evaluator,
	debounce battery.Debounce,
	resolver *temperature.Resolver,
	st store.InsightStore,
	fallbackStrategy string,
	opts ...ServiceOption,
) (*Service, error) {
	if err := debounce.Validate(); err != nil {
		return nil, err
	}
	s := &Service{
		evaluator:  evaluator,
		debounce:   debounce,
		resolver:   resolver,
		processors: map[string]cranking.Processor{},
		store:      st,
		clock:      clock.RealClock{},
		cranking:   cranking.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.cranking.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cranking config: %w", err)
	}

	for _, name := range []string{cranking.StrategyPlateau, cranking.StrategyParabolic} {
		p, err := cranking.New(name, s.cranking)
		if err != nil {
			return nil, err
		}
		s.processors[name] = p
	}
	fallback, ok := s.processors[fallbackStrategy]
	if !ok {
		return nil, fmt.Errorf("unknown cranking strategy %q", fallbackStrategy)
	}
	s.fallback = fallback
	return s, nil
}

// Handle is the queue handler. Undecodable reports are permanent failures;
// store errors are transient.
func (s *Service) Handle(ctx context.Context, body []byte) error {
	report, err := model.DecodeCrankingReport(body)
	if err != nil {
		metrics.ReportsTotal.WithLabelValues("rejected").Inc()
		return queue.Permanent(err)
	}

	started := s.clock.Now()
	_, outcome, err := s.Process(ctx, report, body)
	if err != nil {
		metrics.ReportsTotal.WithLabelValues("failed").Inc()
		return err
	}
	metrics.ReportsTotal.WithLabelValues(string(outcome)).Inc()
	if outcome == OutcomeEvaluated {
		metrics.EvaluationLatency.Observe(s.clock.Since(started).Seconds())
	}
	return nil
}

// Process evaluates one decoded report. raw is archived as received. The
// verdict is nil when the outcome is OutcomeSkipped.
func (s *Service) Process(ctx context.Context, report *model.CrankingReport, raw []byte) (*model.BatteryVerdict, Outcome, error) {
	logger := log.WithValues("vin", report.VIN, "eventTime", report.StartTime())

	if s.archive != nil {
		if key, err := s.archive.Put(ctx, report, raw); err != nil {
			logger.Warn("Archiving cranking window failed", "error", err.Error())
		} else {
			logger.Debug("Archived cranking window", "key", key)
		}
	}

	vmin, ok := s.refinedVmin(report)
	if !ok {
		logger.Info("Cranking window could not be refined, skipping", "strategy", report.Strategy, "points", len(report.Points))
		return nil, OutcomeSkipped, nil
	}

	temp := s.resolver.Resolve(ctx, temperature.Request{
		IntakeTemp: report.IntakeTemp,
		Latitude:   report.Latitude,
		Longitude:  report.Longitude,
	})
	res := s.evaluator.Evaluate(battery.Input{
		SOH:         report.SOH,
		SOC:         report.SOC,
		Vmin:        vmin,
		Temperature: temp.Celsius,
		CoolantTemp: report.CoolantTemp,
		FuelType:    report.FuelType,
	})

	eventTime := report.StartTime()
	history, err := s.store.GetRecent(ctx, report.VIN, eventTime, s.debounce.Window)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load verdict history: %w", err)
	}

	verdict := &model.BatteryVerdict{
		ID:                  uuid.NewString(),
		VIN:                 report.VIN,
		EventTime:           eventTime,
		CreatedAt:           s.clock.Now().UTC(),
		Status:              res.Status,
		Alerts:              res.Alerts,
		IsValid:             res.IsValid,
		SOH:                 report.SOH,
		SOC:                 res.SOC,
		Vmin:                vmin,
		FuelType:            report.FuelType,
		MeasuredTemp:        temp.Celsius,
		TempSource:          temp.Source,
		ColdStart:           res.ColdStart,
		ConfirmedFailure:    s.debounce.Confirmed(res.Status, history),
		WinterSurvivalAlert: s.evaluator.WinterSurvival(temp.ForecastMin, report.SOH, res.SOC),
		ForecastMin:         temp.ForecastMin,
	}

	inserted, err := s.store.Save(ctx, verdict)
	if err != nil {
		return nil, "", fmt.Errorf("failed to save verdict: %w", err)
	}
	if !inserted {
		logger.Info("Verdict for this cranking event already stored")
		return verdict, OutcomeDuplicate, nil
	}

	metrics.VerdictsTotal.WithLabelValues(string(verdict.Status)).Inc()
	if verdict.ConfirmedFailure {
		metrics.ConfirmedFailuresTotal.Inc()
	}
	logger.Info("Battery verdict stored",
		"status", verdict.Status,
		"vmin", vmin,
		"temp", temp.Celsius,
		"tempSource", temp.Source,
		"confirmedFailure", verdict.ConfirmedFailure,
		"winterAlert", verdict.WinterSurvivalAlert,
	)

	if s.publisher != nil {
		if err := s.publisher.PublishVerdict(ctx, verdict); err != nil {
			logger.Error(err, "Failed to publish verdict", "id", verdict.ID)
		}
	}
	return verdict, OutcomeEvaluated, nil
}

// refinedVmin prefers the value computed on the edge and otherwise refines
// the raw points with the report's strategy.
func (s *Service) refinedVmin(report *model.CrankingReport) (float64, bool) {
	if report.RefinedVmin != nil {
		return *report.RefinedVmin, true
	}
	p, ok := s.processors[report.Strategy]
	if !ok {
		p = s.fallback
	}
	v, ok := p.Process(report.Points)
	outcome := "unrefined"
	if ok {
		outcome = "refined"
	}
	metrics.CrankingEventsTotal.WithLabelValues(p.Name(), outcome).Inc()
	return v, ok
}

// Recent returns the latest verdicts of vin for the query API.
func (s *Service) Recent(ctx context.Context, vin string, limit int) ([]*model.BatteryVerdict, error) {
	return s.store.GetRecent(ctx, vin, time.Time{}, limit)
}
