// Package metrics exposes the pipeline's Prometheus instruments. Counters
// and gauges are package-level so any component can record without wiring;
// the daemon serves them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsProcessed counts envelopes a worker settled as Forward or Drop.
	EventsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifeline_events_processed_total",
			Help: "Events settled successfully, by worker and outcome",
		},
		[]string{"worker", "outcome"},
	)

	// EventErrors counts retries, fatals, and undecodable payloads.
	EventErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifeline_event_errors_total",
			Help: "Event handling errors, by worker and kind",
		},
		[]string{"worker", "kind"},
	)

	// DeadLetters counts envelopes parked on dead-letter channels.
	DeadLetters = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifeline_dead_letters_total",
			Help: "Envelopes moved to dead-letter channels",
		},
		[]string{"channel"},
	)

	// QueueDepth tracks ready plus leased envelopes per channel.
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lifeline_queue_depth",
			Help: "Envelopes held per channel, leased included",
		},
		[]string{"channel"},
	)

	// QueueDeadLetterDepth tracks parked envelopes per base channel.
	QueueDeadLetterDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lifeline_queue_dead_letter_depth",
			Help: "Envelopes parked on each channel's dead-letter companion",
		},
		[]string{"channel"},
	)

	// WorkerRestarts counts supervisor-issued restarts.
	WorkerRestarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifeline_worker_restarts_total",
			Help: "Worker restarts issued by the orchestrator",
		},
		[]string{"worker"},
	)

	// WorkerUp reports 1 while a worker's supervision loop considers it running.
	WorkerUp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lifeline_worker_up",
			Help: "Whether a worker is currently running",
		},
		[]string{"worker"},
	)

	// TxSubmissions counts settlement submissions by outcome.
	TxSubmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifeline_tx_submissions_total",
			Help: "Settlement submission attempts, by outcome",
		},
		[]string{"outcome"},
	)

	// TxByStatus tracks ledger records per status.
	TxByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lifeline_tx_status",
			Help: "Transaction records per ledger status",
		},
		[]string{"status"},
	)

	// SettlementLatency observes settlement network round-trip times.
	SettlementLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lifeline_settlement_latency_seconds",
			Help:    "Settlement call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// ObservationsIngested counts observations accepted at the intake edge.
	ObservationsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifeline_observations_ingested_total",
			Help: "Observations accepted into the pipeline, by source",
		},
		[]string{"source"},
	)
)
