package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thermowatch_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "thermowatch_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPAuthFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thermowatch_http_auth_failures_total",
			Help: "Requests rejected by authentication",
		},
		[]string{"reason"},
	)

	// Telemetry metrics
	TelemetryPollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thermowatch_telemetry_polls_total",
			Help: "Telemetry polls by outcome",
		},
		[]string{"status"}, // status: new, refresh, unchanged, failed
	)

	TelemetryPollDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "thermowatch_telemetry_poll_duration_seconds",
			Help:    "Time taken to fetch the latest reading",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	ReadingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thermowatch_readings_total",
			Help: "Readings received by source and outcome",
		},
		[]string{"source", "status"}, // status: accepted, rejected, dropped
	)

	ReadingValuesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thermowatch_reading_values_dropped_total",
			Help: "Measured values discarded as unusable, by metric",
		},
		[]string{"metric", "reason"},
	)

	LastReadingValue = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "thermowatch_last_reading_value",
			Help: "Most recent value per metric",
		},
		[]string{"metric"},
	)

	// Alert policy metrics
	AlertsRaisedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thermowatch_alerts_raised_total",
			Help: "Alerts produced by threshold evaluation",
		},
		[]string{"metric", "direction", "severity"},
	)

	NotificationDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thermowatch_notification_decisions_total",
			Help: "Per-subscriber notification decisions",
		},
		[]string{"decision"}, // decision: notify, throttled, filtered, queue_full
	)

	LedgerEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "thermowatch_ledger_entries",
			Help: "Keys held in the notification ledger",
		},
	)

	LedgerPrunedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "thermowatch_ledger_pruned_total",
			Help: "Ledger entries removed by TTL pruning",
		},
	)

	// Dispatch worker metrics
	DispatchQueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "thermowatch_dispatch_queue_size",
			Help: "Current size of the dispatch queue",
		},
	)

	DispatchQueueCapacity = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "thermowatch_dispatch_queue_capacity",
			Help: "Capacity of the dispatch queue",
		},
	)

	DispatchDeliveredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "thermowatch_dispatch_delivered_total",
			Help: "Notifications delivered by workers",
		},
	)

	DispatchFailedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "thermowatch_dispatch_failed_total",
			Help: "Notifications that could not be delivered",
		},
	)

	DispatchBatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "thermowatch_dispatch_batch_duration_seconds",
			Help:    "Time taken to deliver a batch",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	// Delivery channel metrics
	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thermowatch_deliveries_total",
			Help: "Delivery attempts by channel and outcome",
		},
		[]string{"channel", "status"}, // status: success, failed
	)

	// Kafka producer metrics
	KafkaPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thermowatch_kafka_publish_total",
			Help: "Total number of messages published to Kafka",
		},
		[]string{"status"}, // status: success, failed
	)

	KafkaPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "thermowatch_kafka_publish_duration_seconds",
			Help:    "Time taken to publish to Kafka",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	KafkaPublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "thermowatch_kafka_publish_retries_total",
			Help: "Total number of Kafka publish retries",
		},
	)

	KafkaBytesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "thermowatch_kafka_bytes_written_total",
			Help: "Total bytes written to Kafka",
		},
	)

	// Panic recovery
	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thermowatch_panics_recovered_total",
			Help: "Total number of panics recovered",
		},
		[]string{"component"},
	)
)
