package telemetry

import (
	"context"
	"errors"
	"time"

	"thermowatch/internal/logger"
	"thermowatch/internal/metrics"
	"thermowatch/internal/models"
)

// Fetcher returns the latest reading of a channel.
type Fetcher interface {
	Latest(ctx context.Context) (models.SensorReading, error)
}

// Poller fetches the latest reading on a fixed interval and forwards
// readings it has not seen before. With a refresh interval set, an
// unchanged reading is forwarded again once that long has passed.
type Poller struct {
	fetcher  Fetcher
	interval time.Duration
	refresh  time.Duration
	out      chan<- models.SensorReading
	now      func() time.Time

	lastEntry     int64
	lastObserved  time.Time
	lastForwarded time.Time
}

// PollerConfig holds poller configuration
type PollerConfig struct {
	Fetcher  Fetcher
	Interval time.Duration
	// Zero never re-forwards an unchanged reading
	Refresh time.Duration
	Out     chan<- models.SensorReading
	Now     func() time.Time
}

// NewPoller creates a poller
func NewPoller(cfg PollerConfig) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 20 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Poller{
		fetcher:  cfg.Fetcher,
		interval: cfg.Interval,
		refresh:  cfg.Refresh,
		out:      cfg.Out,
		now:      cfg.Now,
	}
}

// Run polls immediately and then every interval until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	log := logger.WithComponent("poller")
	log.Info().Dur("interval", p.interval).Msg("poller started")
	defer log.Info().Msg("poller stopped")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if _, err := p.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, ErrNoData) {
				log.Debug().Msg("channel has no data yet")
			} else {
				log.Warn().Err(err).Msg("poll failed")
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Poll fetches once and forwards the reading when it is new or due for refresh.
func (p *Poller) Poll(ctx context.Context) (bool, error) {
	start := time.Now()
	reading, err := p.fetcher.Latest(ctx)
	metrics.TelemetryPollDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.TelemetryPollsTotal.WithLabelValues("failed").Inc()
		return false, err
	}

	status := "new"
	if p.seen(reading) {
		if !p.refreshDue() {
			metrics.TelemetryPollsTotal.WithLabelValues("unchanged").Inc()
			return false, nil
		}
		status = "refresh"
	}

	select {
	case p.out <- reading:
	case <-ctx.Done():
		return false, ctx.Err()
	}

	p.lastEntry = reading.EntryID
	p.lastObserved = reading.ObservedAt
	p.lastForwarded = p.now()
	metrics.TelemetryPollsTotal.WithLabelValues(status).Inc()
	metrics.ReadingsTotal.WithLabelValues("poll", "accepted").Inc()
	return true, nil
}

func (p *Poller) seen(r models.SensorReading) bool {
	if r.EntryID != 0 {
		return r.EntryID == p.lastEntry
	}
	return !p.lastObserved.IsZero() && r.ObservedAt.Equal(p.lastObserved)
}

func (p *Poller) refreshDue() bool {
	return p.refresh > 0 && p.now().Sub(p.lastForwarded) >= p.refresh
}
