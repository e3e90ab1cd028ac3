package alerts

import (
	"fmt"
	"sync"
	"time"

	"thermowatch/internal/models"
)

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Policy owns the threshold configuration and the notification ledger.
type Policy struct {
	mu     sync.RWMutex
	cfg    ThresholdConfig
	ledger *Ledger
	clock  Clock
}

// Option configures a Policy.
type Option func(*Policy)

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(p *Policy) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// WithLedger shares an existing ledger.
func WithLedger(ledger *Ledger) Option {
	return func(p *Policy) {
		if ledger != nil {
			p.ledger = ledger
		}
	}
}

// NewPolicy validates cfg and returns a policy with an empty ledger.
func NewPolicy(cfg ThresholdConfig, opts ...Option) (*Policy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Policy{
		cfg:    cfg,
		ledger: NewLedger(),
		clock:  systemClock{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Thresholds returns a snapshot of the current configuration.
func (p *Policy) Thresholds() ThresholdConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

// SetThresholds replaces the whole configuration.
func (p *Policy) SetThresholds(cfg ThresholdConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	p.cfg = cfg
	p.mu.Unlock()
	return nil
}

// UpdateMetric replaces the threshold of a single metric.
func (p *Policy) UpdateMetric(metric Metric, t MetricThreshold) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	next, err := p.cfg.With(metric, t)
	if err != nil {
		return err
	}
	if err := t.Validate(); err != nil {
		return err
	}
	p.cfg = next
	return nil
}

// Bound selects one limit of a threshold.
type Bound int

const (
	BoundMin Bound = iota
	BoundMax
)

// SetLimit changes a single limit of metric under one lock, so fields
// edited concurrently through UpdateMetric are never overwritten.
// It returns the threshold in effect afterwards.
func (p *Policy) SetLimit(metric Metric, bound Bound, value float64) (MetricThreshold, error) {
	if !metric.IsValid() {
		return MetricThreshold{}, fmt.Errorf("%w: %q", ErrUnknownMetric, metric)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	current := p.cfg.For(metric)
	next := current
	if bound == BoundMin {
		next.Min = value
	} else {
		next.Max = value
	}
	if err := next.Validate(); err != nil {
		return current, err
	}

	p.cfg, _ = p.cfg.With(metric, next)
	return next, nil
}

// Evaluate checks reading against the current configuration.
func (p *Policy) Evaluate(reading models.SensorReading) []Alert {
	return Evaluate(reading, p.Thresholds())
}

// ShouldNotify applies the renotify interval for subscriberID at the policy clock's time.
func (p *Policy) ShouldNotify(subscriberID string, alert Alert) bool {
	return ShouldNotify(subscriberID, alert, p.clock.Now(), p.ledger, p.Thresholds())
}

// Ledger returns the policy's ledger.
func (p *Policy) Ledger() *Ledger {
	return p.ledger
}

// Now returns the policy clock's time.
func (p *Policy) Now() time.Time {
	return p.clock.Now()
}
