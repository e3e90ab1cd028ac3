package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"thermowatch/internal/logger"
	"thermowatch/internal/metrics"
	"thermowatch/internal/models"
)

// ErrDecodeReading wraps payloads that are not a JSON sensor reading.
var ErrDecodeReading = errors.New("failed to decode reading")

// ReadingConsumer reads sensor readings from a Kafka topic and forwards
// them to the monitor. Offsets are committed after the reading has been
// handed off, so a crash replays at most the in-flight message.
type ReadingConsumer struct {
	reader *kafka.Reader
	out    chan<- models.SensorReading
	log    zerolog.Logger
}

// NewReadingConsumer joins groupID on topic.
func NewReadingConsumer(brokers []string, topic, groupID string, out chan<- models.SensorReading) (*ReadingConsumer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if topic == "" {
		return nil, errors.New("topic is required")
	}
	if out == nil {
		return nil, errors.New("output channel is required")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       1 << 20,
		MaxWait:        time.Second,
		CommitInterval: 0, // explicit commits
	})

	return &ReadingConsumer{
		reader: reader,
		out:    out,
		log:    logger.WithComponent("kafka_consumer"),
	}, nil
}

// Run consumes until ctx is cancelled.
func (c *ReadingConsumer) Run(ctx context.Context) error {
	c.log.Info().
		Str("topic", c.reader.Config().Topic).
		Str("group_id", c.reader.Config().GroupID).
		Msg("reading consumer started")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}

		reading, err := decodeReading(msg)
		if err != nil {
			c.log.Warn().
				Err(err).
				Int("partition", msg.Partition).
				Int64("offset", msg.Offset).
				Msg("dropping undecodable reading")
			metrics.ReadingsTotal.WithLabelValues("kafka", "rejected").Inc()
		} else {
			select {
			case c.out <- reading:
				metrics.ReadingsTotal.WithLabelValues("kafka", "accepted").Inc()
			case <-ctx.Done():
				return nil
			}
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Error().Err(err).Int64("offset", msg.Offset).Msg("commit failed")
		}
	}
}

// Close leaves the consumer group.
func (c *ReadingConsumer) Close() error {
	return c.reader.Close()
}

// decodeReading parses a message value. The message key stands in for
// the source id when the payload omits one.
func decodeReading(msg kafka.Message) (models.SensorReading, error) {
	var reading models.SensorReading
	if err := json.Unmarshal(msg.Value, &reading); err != nil {
		return models.SensorReading{}, fmt.Errorf("%w: %v", ErrDecodeReading, err)
	}
	if reading.SourceID == "" {
		reading.SourceID = string(msg.Key)
	}
	if reading.ObservedAt.IsZero() {
		reading.ObservedAt = msg.Time
	}
	reading.Normalize()
	return reading, nil
}
