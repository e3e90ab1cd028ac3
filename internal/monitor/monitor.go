// Package monitor runs the alerting pipeline: readings in, threshold
// evaluation, per-subscriber throttling, notifications out.
package monitor

import (
	"errors"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"thermowatch/internal/alerts"
	"thermowatch/internal/config"
	"thermowatch/internal/editor"
	"thermowatch/internal/kafka"
	"thermowatch/internal/logger"
	"thermowatch/internal/metrics"
	"thermowatch/internal/models"
	"thermowatch/internal/notify"
	"thermowatch/internal/subscribers"
	"thermowatch/internal/telemetry"
	"thermowatch/internal/worker"
)

// readingsBuffer bounds readings waiting for evaluation.
const readingsBuffer = 64

// Monitor coordinates reading sources, the alert policy and dispatch.
type Monitor struct {
	cfg    *config.Config
	nodeID string
	log    zerolog.Logger

	policy *alerts.Policy
	subs   *subscribers.Registry
	editor *editor.Editor
	clock  alerts.Clock

	readings chan models.SensorReading
	queue    chan *models.Envelope

	fetcher    telemetry.Fetcher
	publisher  worker.Publisher
	producer   *kafka.Producer
	consumer   *kafka.ReadingConsumer
	pool       *worker.Pool
	httpServer *http.Server

	mu          sync.RWMutex
	latest      *models.SensorReading
	active      []alerts.Alert
	evaluatedAt time.Time

	processed     atomic.Uint64
	rejected      atomic.Uint64
	valuesDropped atomic.Uint64
	raised        atomic.Uint64
	notified      atomic.Uint64
	throttled     atomic.Uint64
	filtered      atomic.Uint64
	dropped       atomic.Uint64

	wg sync.WaitGroup
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock overrides the policy clock.
func WithClock(clock alerts.Clock) Option {
	return func(m *Monitor) { m.clock = clock }
}

// WithFetcher replaces the telemetry client used by the poller.
func WithFetcher(f telemetry.Fetcher) Option {
	return func(m *Monitor) { m.fetcher = f }
}

// WithPublisher replaces the notification publishers.
func WithPublisher(p worker.Publisher) Option {
	return func(m *Monitor) { m.publisher = p }
}

// New builds a Monitor from cfg. Nothing is started until Run.
func New(cfg *config.Config, opts ...Option) (*Monitor, error) {
	if cfg == nil {
		return nil, errors.New("monitor: nil config")
	}

	queueSize := cfg.Dispatch.QueueSize
	if queueSize <= 0 {
		queueSize = 1000
	}

	m := &Monitor{
		cfg:      cfg,
		nodeID:   nodeID(cfg.NodeID),
		log:      logger.WithComponent("monitor"),
		readings: make(chan models.SensorReading, readingsBuffer),
		queue:    make(chan *models.Envelope, queueSize),
	}
	for _, opt := range opts {
		opt(m)
	}

	var policyOpts []alerts.Option
	if m.clock != nil {
		policyOpts = append(policyOpts, alerts.WithClock(m.clock))
	}
	policy, err := alerts.NewPolicy(cfg.Thresholds, policyOpts...)
	if err != nil {
		return nil, err
	}
	m.policy = policy
	m.editor = editor.New(policy)

	seeds := make([]subscribers.Subscriber, 0, len(cfg.Subscribers))
	for _, sc := range cfg.Subscribers {
		seeds = append(seeds, subscriberFromConfig(sc))
	}
	if m.subs, err = subscribers.NewRegistry(seeds...); err != nil {
		return nil, err
	}

	if m.fetcher == nil && cfg.Telemetry.Enabled {
		client, err := telemetry.NewClient(
			cfg.Telemetry.BaseURL,
			cfg.Telemetry.ChannelID,
			telemetry.WithHTTPClient(&http.Client{Timeout: cfg.Telemetry.Timeout}),
			telemetry.WithReadAPIKey(cfg.Telemetry.ReadAPIKey),
		)
		if err != nil {
			return nil, err
		}
		m.fetcher = client
	}

	if m.publisher == nil {
		if m.publisher, err = m.buildPublisher(); err != nil {
			return nil, err
		}
	}

	m.pool = worker.NewPool(worker.Config{
		Publisher:    m.publisher,
		Queue:        m.queue,
		Workers:      cfg.Dispatch.Workers,
		BatchSize:    cfg.Dispatch.BatchSize,
		BatchTimeout: cfg.Dispatch.BatchTimeout,
	})
	return m, nil
}

// buildPublisher fans out to the log, webhooks and, when brokers are
// configured, Kafka.
func (m *Monitor) buildPublisher() (worker.Publisher, error) {
	tpl, err := notify.NewTemplate(m.cfg.Webhook.Template)
	if err != nil {
		return nil, err
	}
	webhook, err := notify.NewWebhookPublisher(
		notify.WithFallbackURL(m.cfg.Webhook.URL),
		notify.WithTemplate(tpl),
		notify.WithTimeout(m.cfg.Webhook.Timeout),
	)
	if err != nil {
		return nil, err
	}
	publishers := []worker.Publisher{notify.NewLogPublisher(), webhook}

	if m.cfg.Kafka.Enabled() {
		producer, err := kafka.NewProducer(m.cfg.Kafka.Brokers, m.cfg.Kafka.Topic, m.cfg.Kafka.Producer)
		if err != nil {
			return nil, err
		}
		m.producer = producer
		publishers = append(publishers, producer)
		m.log.Info().
			Strs("brokers", m.cfg.Kafka.Brokers).
			Str("topic", m.cfg.Kafka.Topic).
			Msg("kafka producer initialized")
	}
	return notify.NewMultiPublisher(publishers...), nil
}

// Policy returns the alert policy.
func (m *Monitor) Policy() *alerts.Policy { return m.policy }

// Subscribers returns the subscriber registry.
func (m *Monitor) Subscribers() *subscribers.Registry { return m.subs }

// Editor returns the threshold edit dialogue.
func (m *Monitor) Editor() *editor.Editor { return m.editor }

// Readings is where reading sources deliver.
func (m *Monitor) Readings() chan<- models.SensorReading { return m.readings }

// Process evaluates one reading and queues a notification for every
// subscriber that accepts an alert and is past its renotify interval.
// It returns the number of notifications queued.
func (m *Monitor) Process(reading models.SensorReading) int {
	if err := reading.Validate(); err != nil {
		m.rejected.Add(1)
		metrics.ReadingsTotal.WithLabelValues("pipeline", "rejected").Inc()
		m.log.Warn().Err(err).Str("source_id", reading.SourceID).Msg("reading rejected")
		return 0
	}
	for _, d := range reading.DropInvalidValues() {
		m.valuesDropped.Add(1)
		metrics.ReadingValuesDropped.WithLabelValues(d.Field, d.Err.Error()).Inc()
		m.log.Warn().Err(d.Err).
			Str("source_id", reading.SourceID).
			Str("metric", d.Field).
			Float64("value", d.Value).
			Msg("value dropped, metric not evaluated")
	}
	m.processed.Add(1)

	if v, ok := reading.TemperatureValue(); ok {
		metrics.LastReadingValue.WithLabelValues(string(alerts.MetricTemperature)).Set(v)
	}
	if v, ok := reading.HumidityValue(); ok {
		metrics.LastReadingValue.WithLabelValues(string(alerts.MetricHumidity)).Set(v)
	}

	found := m.policy.Evaluate(reading)

	m.mu.Lock()
	r := reading
	m.latest = &r
	m.active = found
	m.evaluatedAt = m.policy.Now()
	m.mu.Unlock()

	queued := 0
	for _, a := range found {
		m.raised.Add(1)
		metrics.AlertsRaisedTotal.WithLabelValues(string(a.Metric), string(a.Direction), string(a.Severity)).Inc()

		for _, sub := range m.subs.List() {
			if !sub.Accepts(a) {
				m.filtered.Add(1)
				metrics.NotificationDecisionsTotal.WithLabelValues("filtered").Inc()
				continue
			}
			if !m.policy.ShouldNotify(sub.ID, a) {
				m.throttled.Add(1)
				metrics.NotificationDecisionsTotal.WithLabelValues("throttled").Inc()
				continue
			}
			if m.enqueue(sub, a, reading) {
				queued++
			}
		}
	}

	metrics.LedgerEntries.Set(float64(m.policy.Ledger().Len()))
	return queued
}

// enqueue never blocks. A dropped notification still counts against the
// renotify interval.
func (m *Monitor) enqueue(sub subscribers.Subscriber, a alerts.Alert, reading models.SensorReading) bool {
	n := &models.Notification{
		SubscriberID: sub.ID,
		WebhookURL:   sub.WebhookURL,
		Metric:       string(a.Metric),
		Direction:    string(a.Direction),
		Severity:     string(a.Severity),
		Value:        a.Value,
		Limit:        a.Limit,
		Message:      a.Message(),
		Reading:      reading,
	}
	envelope := models.NewEnvelope(n, m.nodeID)

	select {
	case m.queue <- envelope:
		m.notified.Add(1)
		metrics.NotificationDecisionsTotal.WithLabelValues("notify").Inc()
		metrics.DispatchQueueSize.Set(float64(len(m.queue)))
		return true
	default:
		m.dropped.Add(1)
		metrics.NotificationDecisionsTotal.WithLabelValues("queue_full").Inc()
		m.log.Warn().
			Str("subscriber_id", sub.ID).
			Str("metric", n.Metric).
			Str("severity", n.Severity).
			Msg("dispatch queue full, notification dropped")
		return false
	}
}

func subscriberFromConfig(sc config.SubscriberConfig) subscribers.Subscriber {
	s := subscribers.New(sc.ID)
	s.WebhookURL = sc.WebhookURL
	if sc.AlertsEnabled != nil {
		s.AlertsEnabled = *sc.AlertsEnabled
	}
	if sc.NotifyCritical != nil {
		s.NotifyCritical = *sc.NotifyCritical
	}
	if sc.NotifyWarnings != nil {
		s.NotifyWarnings = *sc.NotifyWarnings
	}
	return s
}

func nodeID(configured string) string {
	if configured != "" {
		return configured
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "unknown"
}
