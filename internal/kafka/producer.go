package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"thermowatch/internal/config"
	"thermowatch/internal/logger"
	"thermowatch/internal/metrics"
	"thermowatch/internal/models"
	"thermowatch/internal/worker"
)

// Producer errors
var (
	ErrProducerClosed  = errors.New("producer is closed")
	ErrSerializeFailed = errors.New("failed to serialize message")
	ErrNoPartitions    = errors.New("topic has no partitions")
)

// Producer publishes notification envelopes to Kafka, keyed by subscriber
// so each subscriber's notifications stay ordered within a partition.
type Producer struct {
	cfg     config.ProducerConfig
	brokers []string
	topic   string
	writers []messageWriter
	pool    chan messageWriter
	closed  atomic.Bool

	// Metrics
	messagesSent   atomic.Uint64
	messagesFailed atomic.Uint64
	bytesWritten   atomic.Uint64
	retries        atomic.Uint64
}

// messageWriter is the part of *kafka.Writer the producer uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ProducerOption is a functional option for configuring the producer
type ProducerOption func(*Producer)

// withWriters replaces the kafka writer pool, for tests.
func withWriters(writers ...messageWriter) ProducerOption {
	return func(p *Producer) {
		p.writers = writers
	}
}

// NewProducer creates a new Kafka producer with the given configuration
func NewProducer(brokers []string, topic string, cfg config.ProducerConfig, opts ...ProducerOption) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}

	if topic == "" {
		return nil, errors.New("topic is required")
	}

	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 4
	}

	p := &Producer{
		cfg:     cfg,
		brokers: brokers,
		topic:   topic,
	}

	for _, opt := range opts {
		opt(p)
	}

	if len(p.writers) == 0 {
		compression := getCompression(cfg.Compression)
		for i := 0; i < cfg.PoolSize; i++ {
			p.writers = append(p.writers, &kafka.Writer{
				Addr:         kafka.TCP(brokers...),
				Topic:        topic,
				Balancer:     &kafka.Hash{}, // partition by subscriber
				BatchSize:    cfg.BatchSize,
				BatchTimeout: cfg.BatchTimeout,
				WriteTimeout: cfg.WriteTimeout,
				RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
				Compression:  compression,
				MaxAttempts:  1, // retried by write, per message
				Async:        false,
			})
		}
	}

	p.pool = make(chan messageWriter, len(p.writers))
	for _, w := range p.writers {
		p.pool <- w
	}
	return p, nil
}

// getCompression returns the kafka compression codec
func getCompression(name string) compress.Compression {
	switch name {
	case "gzip":
		return compress.Gzip
	case "snappy":
		return compress.Snappy
	case "lz4":
		return compress.Lz4
	case "zstd":
		return compress.Zstd
	default:
		return compress.None
	}
}

// Publish sends one envelope to Kafka.
func (p *Producer) Publish(ctx context.Context, envelope *models.Envelope) error {
	if p.closed.Load() {
		return ErrProducerClosed
	}

	msg, err := toMessage(envelope)
	if err != nil {
		p.fail(1)
		return err
	}

	_, err = p.send(ctx, []kafka.Message{msg})
	return err
}

// PublishBatch sends envelopes in one write. When only some are rejected
// the error is a *worker.BatchError naming them, so the pool retries just those.
func (p *Producer) PublishBatch(ctx context.Context, envelopes []*models.Envelope) error {
	if p.closed.Load() {
		return ErrProducerClosed
	}

	// sent[i] is the envelope behind messages[i]
	messages := make([]kafka.Message, 0, len(envelopes))
	sent := make([]*models.Envelope, 0, len(envelopes))
	for _, envelope := range envelopes {
		msg, err := toMessage(envelope)
		if err != nil {
			log := logger.WithComponent("kafka_producer")
			log.Error().Err(err).Msg("dropping envelope that cannot be serialized")
			p.fail(1)
			continue
		}
		messages = append(messages, msg)
		sent = append(sent, envelope)
	}
	if len(messages) == 0 {
		return nil
	}

	pending, err := p.send(ctx, messages)
	if err == nil {
		return nil
	}
	if len(pending) == 0 || len(pending) == len(messages) {
		return err
	}

	failed := make([]*models.Envelope, len(pending))
	for i, idx := range pending {
		failed[i] = sent[idx]
	}
	return &worker.BatchError{Failed: failed, Err: err}
}

// toMessage serializes an envelope into a Kafka message
func toMessage(envelope *models.Envelope) (kafka.Message, error) {
	if envelope == nil || envelope.Notification == nil {
		return kafka.Message{}, fmt.Errorf("%w: empty envelope", ErrSerializeFailed)
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("%w: %v", ErrSerializeFailed, err)
	}
	n := envelope.Notification
	return kafka.Message{
		Key:   []byte(envelope.PartitionKey),
		Value: data,
		Headers: []kafka.Header{
			{Key: "subscriber_id", Value: []byte(n.SubscriberID)},
			{Key: "notification_id", Value: []byte(n.ID)},
			{Key: "severity", Value: []byte(n.Severity)},
			{Key: "node", Value: []byte(envelope.Node)},
		},
		Time: envelope.CreatedAt,
	}, nil
}

// send borrows a writer, writes messages and records the outcome.
// It returns the indexes of messages that were not delivered.
func (p *Producer) send(ctx context.Context, messages []kafka.Message) ([]int, error) {
	var w messageWriter
	select {
	case w = <-p.pool:
		defer func() { p.pool <- w }()
	case <-ctx.Done():
		p.fail(len(messages))
		return allIndexes(len(messages)), ctx.Err()
	}

	start := time.Now()
	pending, err := p.write(ctx, w, messages)
	metrics.KafkaPublishDuration.Observe(time.Since(start).Seconds())

	delivered := len(messages) - len(pending)
	var bytesOK uint64
	undelivered := make(map[int]bool, len(pending))
	for _, idx := range pending {
		undelivered[idx] = true
	}
	for i, msg := range messages {
		if !undelivered[i] {
			bytesOK += uint64(len(msg.Value))
		}
	}

	p.messagesSent.Add(uint64(delivered))
	p.bytesWritten.Add(bytesOK)
	metrics.KafkaPublishTotal.WithLabelValues("success").Add(float64(delivered))
	metrics.KafkaBytesWritten.Add(float64(bytesOK))
	p.fail(len(pending))

	return pending, err
}

// write retries with exponential backoff. kafka-go reports per-message
// results as WriteErrors; after such a partial failure only the rejected
// messages are resent. Any other error resends everything still pending.
func (p *Producer) write(ctx context.Context, w messageWriter, messages []kafka.Message) ([]int, error) {
	log := logger.WithComponent("kafka_producer")
	pending := allIndexes(len(messages))
	backoff := p.cfg.RetryBackoff
	var lastErr error

	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			p.retries.Add(1)
			metrics.KafkaPublishRetries.Inc()
			log.Warn().
				Int("attempt", attempt).
				Strs("subscribers", keysOf(messages, pending)).
				Dur("backoff", backoff).
				Msg("retrying kafka write")

			if err := sleep(ctx, backoff); err != nil {
				return pending, err
			}
			backoff *= 2
		}

		batch := make([]kafka.Message, len(pending))
		for i, idx := range pending {
			batch[i] = messages[idx]
		}

		err := w.WriteMessages(ctx, batch...)
		if err == nil {
			return nil, nil
		}
		lastErr = err

		var writeErrs kafka.WriteErrors
		if errors.As(err, &writeErrs) && len(writeErrs) == len(pending) {
			rejected := make([]int, 0, writeErrs.Count())
			for i, werr := range writeErrs {
				if werr != nil {
					rejected = append(rejected, pending[i])
				}
			}
			pending = rejected
			if len(pending) == 0 {
				return nil, nil
			}
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return pending, err
		}
	}

	log.Error().
		Err(lastErr).
		Int("undelivered", len(pending)).
		Strs("subscribers", keysOf(messages, pending)).
		Msg("kafka write failed after all retries")

	return pending, fmt.Errorf("%d of %d messages undelivered after %d attempts: %w",
		len(pending), len(messages), p.cfg.MaxRetries+1, lastErr)
}

func (p *Producer) fail(n int) {
	if n == 0 {
		return
	}
	p.messagesFailed.Add(uint64(n))
	metrics.KafkaPublishTotal.WithLabelValues("failed").Add(float64(n))
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func allIndexes(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}

// keysOf lists the subscriber keys of the selected messages.
func keysOf(messages []kafka.Message, idx []int) []string {
	keys := make([]string, len(idx))
	for i, j := range idx {
		keys[i] = string(messages[j].Key)
	}
	return keys
}

// Close closes every writer. Further publishes fail with ErrProducerClosed.
func (p *Producer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	var errs []error
	for _, w := range p.writers {
		errs = append(errs, w.Close())
	}
	return errors.Join(errs...)
}

// ProducerStats is the producer section of /stats.
type ProducerStats struct {
	MessagesSent   uint64 `json:"messages_sent"`
	MessagesFailed uint64 `json:"messages_failed"`
	BytesWritten   uint64 `json:"bytes_written"`
	Retries        uint64 `json:"retries"`
	Writers        int    `json:"writers"`
	IdleWriters    int    `json:"idle_writers"`
}

func (p *Producer) Stats() ProducerStats {
	return ProducerStats{
		MessagesSent:   p.messagesSent.Load(),
		MessagesFailed: p.messagesFailed.Load(),
		BytesWritten:   p.bytesWritten.Load(),
		Retries:        p.retries.Load(),
		Writers:        len(p.writers),
		IdleWriters:    len(p.pool),
	}
}

// HealthCheck dials the brokers until one answers with the topic's
// partitions.
func (p *Producer) HealthCheck(ctx context.Context) error {
	if p.closed.Load() {
		return ErrProducerClosed
	}

	var errs []error
	for _, broker := range p.brokers {
		err := p.pingBroker(ctx, broker)
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", broker, err))
	}
	return fmt.Errorf("no kafka broker reachable: %w", errors.Join(errs...))
}

func (p *Producer) pingBroker(ctx context.Context, broker string) error {
	conn, err := kafka.DialContext(ctx, "tcp", broker)
	if err != nil {
		return err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	partitions, err := conn.ReadPartitions(p.topic)
	if err != nil {
		return err
	}
	if len(partitions) == 0 {
		return fmt.Errorf("%w: %s", ErrNoPartitions, p.topic)
	}
	return nil
}
