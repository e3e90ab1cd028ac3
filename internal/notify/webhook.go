package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"thermowatch/internal/logger"
	"thermowatch/internal/metrics"
	"thermowatch/internal/models"
	"thermowatch/internal/worker"
)

type webhookPayload struct {
	MsgType      string               `json:"msgtype"`
	Text         webhookText          `json:"text"`
	Notification *models.Notification `json:"notification,omitempty"`
}

type webhookText struct {
	Content string `json:"content"`
}

// WebhookPublisher posts notifications to the subscriber's webhook, or to
// a shared fallback URL when the subscriber has none.
type WebhookPublisher struct {
	fallbackURL string
	client      *http.Client
	template    *Template
	log         zerolog.Logger
}

// WebhookOption configures the webhook publisher.
type WebhookOption func(*WebhookPublisher)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) WebhookOption {
	return func(p *WebhookPublisher) {
		if client != nil {
			p.client = client
		}
	}
}

// WithFallbackURL sets the target for subscribers without their own webhook.
func WithFallbackURL(url string) WebhookOption {
	return func(p *WebhookPublisher) {
		p.fallbackURL = url
	}
}

// WithTemplate overrides the content template.
func WithTemplate(t *Template) WebhookOption {
	return func(p *WebhookPublisher) {
		if t != nil {
			p.template = t
		}
	}
}

// WithTimeout sets the per-request timeout of the default client.
func WithTimeout(d time.Duration) WebhookOption {
	return func(p *WebhookPublisher) {
		if d > 0 {
			p.client.Timeout = d
		}
	}
}

func NewWebhookPublisher(opts ...WebhookOption) (*WebhookPublisher, error) {
	tpl, err := NewTemplate("")
	if err != nil {
		return nil, err
	}
	p := &WebhookPublisher{
		client:   &http.Client{Timeout: 10 * time.Second},
		template: tpl,
		log:      logger.WithComponent("notify.webhook"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *WebhookPublisher) target(n *models.Notification) string {
	if n.WebhookURL != "" {
		return n.WebhookURL
	}
	return p.fallbackURL
}

// Publish sends one notification. Notifications without any target are
// skipped so a subscriber without a webhook never counts as a failure.
func (p *WebhookPublisher) Publish(ctx context.Context, envelope *models.Envelope) error {
	n := envelope.Notification
	url := p.target(n)
	if url == "" {
		p.log.Debug().
			Str("subscriber_id", n.SubscriberID).
			Msg("no webhook configured, skipping")
		metrics.DeliveriesTotal.WithLabelValues("webhook", "skipped").Inc()
		return nil
	}

	err := p.send(ctx, url, n)
	status := "success"
	if err != nil {
		status = "failed"
	}
	metrics.DeliveriesTotal.WithLabelValues("webhook", status).Inc()
	return err
}

func (p *WebhookPublisher) PublishBatch(ctx context.Context, envelopes []*models.Envelope) error {
	var failed []*models.Envelope
	var errs []error
	for _, e := range envelopes {
		if err := p.Publish(ctx, e); err != nil {
			failed = append(failed, e)
			errs = append(errs, err)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return &worker.BatchError{Failed: failed, Err: errors.Join(errs...)}
}

func (p *WebhookPublisher) send(ctx context.Context, url string, n *models.Notification) error {
	content, err := p.template.Render(buildTemplateData(n))
	if err != nil {
		return fmt.Errorf("webhook: render: %w", err)
	}
	body, err := json.Marshal(webhookPayload{
		MsgType:      "text",
		Text:         webhookText{Content: content},
		Notification: n,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: non-2xx response %d", resp.StatusCode)
	}
	return nil
}
