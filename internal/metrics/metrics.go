package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DiscoveryRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "correlator_discovery_runs_total",
			Help: "Discovery requests by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	DiscoveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "correlator_discovery_duration_seconds",
			Help:    "Wall-clock duration of discovery requests",
			Buckets: []float64{0.05, 0.25, 1, 5, 15, 60, 300, 900},
		},
		[]string{"action"},
	)

	CorrelationsUpserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "correlator_correlations_upserted_total",
			Help: "Correlation rows written by sync runs",
		},
		[]string{"kind"},
	)

	ClassifierVerdicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "correlator_classifier_verdicts_total",
			Help: "Similarity classifier verdicts; error verdicts count as declines",
		},
		[]string{"verdict"}, // approved, declined, error
	)

	ClassifierInflight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "correlator_classifier_inflight",
			Help: "Classifier calls currently in flight",
		},
	)

	GatewayRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "correlator_gateway_requests_total",
			Help: "Product data gateway requests",
		},
		[]string{"operation", "outcome"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "correlator_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	AvailabilityProbes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "correlator_availability_probes_total",
			Help: "Availability probes by marketplace and result",
		},
		[]string{"marketplace", "result"},
	)

	PromptRegenerations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "correlator_prompt_regenerations_total",
			Help: "Criteria profile regenerations by outcome",
		},
		[]string{"outcome"},
	)
)
