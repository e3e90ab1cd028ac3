package notify

import (
	"context"

	"github.com/rs/zerolog"

	"thermowatch/internal/logger"
	"thermowatch/internal/metrics"
	"thermowatch/internal/models"
)

// LogPublisher writes notifications to the structured log. It is the
// delivery channel of last resort when nothing else is configured.
type LogPublisher struct {
	log zerolog.Logger
}

func NewLogPublisher() *LogPublisher {
	return &LogPublisher{log: logger.WithComponent("notify.log")}
}

func (p *LogPublisher) Publish(ctx context.Context, envelope *models.Envelope) error {
	n := envelope.Notification
	level := zerolog.WarnLevel
	if n.Severity == "critical" {
		level = zerolog.ErrorLevel
	}
	p.log.WithLevel(level).
		Str("notification_id", n.ID).
		Str("subscriber_id", n.SubscriberID).
		Str("metric", n.Metric).
		Str("direction", n.Direction).
		Str("severity", n.Severity).
		Float64("value", n.Value).
		Float64("limit", n.Limit).
		Msg(n.Message)
	metrics.DeliveriesTotal.WithLabelValues("log", "success").Inc()
	return nil
}

func (p *LogPublisher) PublishBatch(ctx context.Context, envelopes []*models.Envelope) error {
	for _, e := range envelopes {
		_ = p.Publish(ctx, e)
	}
	return nil
}
