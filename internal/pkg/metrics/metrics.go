package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "smartdrive"

// Agent metrics.
var (
	// SamplingState is 1 for the controller's current state and 0 for the others.
	SamplingState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sampling_state",
			Help:      "Current sampling controller state (1 = active).",
		},
		[]string{"state"},
	)

	// PollInterval is the interval chosen on the last tick.
	PollInterval = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "poll_interval_seconds",
			Help:      "Polling interval selected by the sampling controller.",
		},
	)

	// SamplesTotal counts ticks by outcome: published, suppressed, publish_failed, fetch_failed.
	SamplesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_total",
			Help:      "Polling ticks by outcome.",
		},
		[]string{"outcome"},
	)

	// CrankingEventsTotal counts closed cranking windows: refined, unrefined, discarded.
	CrankingEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cranking_events_total",
			Help:      "Cranking windows by outcome.",
		},
		[]string{"strategy", "outcome"},
	)

	// SourceConnected is 1 while the OBD source is connected.
	SourceConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "source_connected",
			Help:      "OBD sample source connectivity (1=connected, 0=disconnected).",
		},
	)

	// ReconnectAttemptsTotal counts reconnect attempts against the OBD source.
	ReconnectAttemptsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_reconnect_attempts_total",
			Help:      "Reconnect attempts against the OBD sample source.",
		},
	)
)

// Insights worker metrics.
var (
	// VerdictsTotal counts stored verdicts by status.
	VerdictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verdicts_total",
			Help:      "Battery verdicts by health status.",
		},
		[]string{"status"},
	)

	// ConfirmedFailuresTotal counts verdicts that passed the debounce.
	ConfirmedFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "confirmed_failures_total",
			Help:      "Verdicts with a debounced confirmed failure.",
		},
	)

	// TemperatureSourceTotal counts resolved temperatures by source.
	TemperatureSourceTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "temperature_source_total",
			Help:      "Resolved compensation temperatures by source.",
		},
		[]string{"source"},
	)

	// ReportsTotal counts consumed cranking reports: evaluated, duplicate, skipped, rejected, failed.
	ReportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cranking_reports_total",
			Help:      "Consumed cranking reports by outcome.",
		},
		[]string{"outcome"},
	)

	// EvaluationLatency measures one report from delivery to stored verdict.
	EvaluationLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "evaluation_latency_seconds",
			Help:      "Time to evaluate and store one cranking report.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// WeatherCacheTotal counts weather cache lookups by result: hit, miss.
	WeatherCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "weather_cache_total",
			Help:      "Weather cache lookups by result.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		SamplingState,
		PollInterval,
		SamplesTotal,
		CrankingEventsTotal,
		SourceConnected,
		ReconnectAttemptsTotal,
		VerdictsTotal,
		ConfirmedFailuresTotal,
		TemperatureSourceTotal,
		ReportsTotal,
		EvaluationLatency,
		WeatherCacheTotal,
	)
}
