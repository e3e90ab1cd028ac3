package monitor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"thermowatch/internal/api"
	"thermowatch/internal/kafka"
	"thermowatch/internal/metrics"
	"thermowatch/internal/telemetry"
)

const (
	statsInterval   = 30 * time.Second
	shutdownTimeout = 10 * time.Second
	drainTimeout    = 15 * time.Second
)

// Handler returns the HTTP API bound to this monitor.
func (m *Monitor) Handler() http.Handler {
	return api.NewRouter(api.Config{
		Policy:      m.policy,
		Subscribers: m.subs,
		Editor:      m.editor,
		Readings:    m.readings,
		Stats:       func() any { return m.Status() },
		Health:      m.health,
		JWTSecret:   m.cfg.HTTP.JWTSecret,
		MaxBodySize: m.cfg.HTTP.MaxBodySize,
	})
}

func (m *Monitor) health(ctx context.Context) error {
	if m.producer != nil {
		return m.producer.HealthCheck(ctx)
	}
	return nil
}

// Run starts every component and blocks until ctx is cancelled, then
// shuts down gracefully.
func (m *Monitor) Run(ctx context.Context) error {
	m.log.Info().Str("node", m.nodeID).Msg("monitor starting")

	if m.cfg.Kafka.Enabled() && m.cfg.Kafka.ReadingsTopic != "" {
		consumer, err := kafka.NewReadingConsumer(m.cfg.Kafka.Brokers, m.cfg.Kafka.ReadingsTopic, m.cfg.Kafka.GroupID, m.readings)
		if err != nil {
			return fmt.Errorf("failed to initialize reading consumer: %w", err)
		}
		m.consumer = consumer
	}

	metrics.DispatchQueueCapacity.Set(float64(cap(m.queue)))
	m.pool.Start()

	m.httpServer = &http.Server{
		Addr:         m.cfg.HTTP.Addr,
		Handler:      m.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.log.Info().Str("addr", m.httpServer.Addr).Msg("starting HTTP server")
		if err := m.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	// sources stop on ctx; the pipeline must outlive them
	var sources, pipeline errgroup.Group

	if m.fetcher != nil {
		poller := telemetry.NewPoller(telemetry.PollerConfig{
			Fetcher:  m.fetcher,
			Interval: m.cfg.Telemetry.PollInterval,
			Refresh:  m.cfg.Telemetry.RefreshInterval,
			Out:      m.readings,
			Now:      m.policy.Now,
		})
		sources.Go(func() error { return poller.Run(ctx) })
	}

	if m.consumer != nil {
		sources.Go(func() error {
			err := m.consumer.Run(ctx)
			if err != nil {
				m.log.Error().Err(err).Msg("reading consumer stopped")
			}
			return err
		})
	}

	pipeline.Go(func() error {
		m.consume(ctx)
		return nil
	})

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.maintain(ctx)
	}()

	<-ctx.Done()
	m.log.Info().Msg("shutdown signal received")

	return m.shutdown(&sources, &pipeline)
}

// consume evaluates readings until ctx is done.
func (m *Monitor) consume(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case reading := <-m.readings:
			m.Process(reading)
		}
	}
}

// maintain reports stats and prunes the ledger.
func (m *Monitor) maintain(ctx context.Context) {
	stats := time.NewTicker(statsInterval)
	defer stats.Stop()

	var prune <-chan time.Time
	if m.cfg.Ledger.TTL > 0 {
		interval := m.cfg.Ledger.PruneInterval
		if interval <= 0 {
			interval = 10 * time.Minute
		}
		t := time.NewTicker(interval)
		defer t.Stop()
		prune = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-stats.C:
			m.reportStats()
		case <-prune:
			m.PruneLedger()
		}
	}
}

// PruneLedger drops ledger entries older than the TTL. The cutoff never
// comes closer than the longest renotify interval, so thresholds edited at
// runtime cannot make pruning release a notification early.
func (m *Monitor) PruneLedger() int {
	if m.cfg.Ledger.TTL <= 0 {
		return 0
	}
	ttl := m.cfg.Ledger.TTL
	if longest := m.policy.Thresholds().MaxRenotifyInterval(); ttl <= longest {
		ttl = longest + time.Minute
	}

	removed := m.policy.Ledger().Prune(m.policy.Now().Add(-ttl))
	if removed > 0 {
		metrics.LedgerPrunedTotal.Add(float64(removed))
		m.log.Debug().Int("removed", removed).Msg("ledger pruned")
	}
	metrics.LedgerEntries.Set(float64(m.policy.Ledger().Len()))
	return removed
}

func (m *Monitor) reportStats() {
	s := m.Status()
	metrics.DispatchQueueSize.Set(float64(s.Queue.Buffered))

	ev := m.log.Info().
		Uint64("processed", s.Counters.Processed).
		Uint64("alerts_raised", s.Counters.Raised).
		Uint64("notified", s.Counters.Notified).
		Uint64("throttled", s.Counters.Throttled).
		Uint64("dropped", s.Counters.Dropped).
		Uint64("delivered", s.Dispatch.Delivered).
		Uint64("delivery_failed", s.Dispatch.Failed).
		Int("ledger_entries", s.LedgerEntries).
		Int("queue_size", s.Queue.Buffered)
	if s.Producer != nil {
		ev = ev.
			Uint64("producer_sent", s.Producer.MessagesSent).
			Uint64("producer_failed", s.Producer.MessagesFailed)
	}
	ev.Msg("stats")
}

// shutdown stops intake first, then drains the dispatch queue.
func (m *Monitor) shutdown(sources, pipeline *errgroup.Group) error {
	m.log.Info().Msg("initiating graceful shutdown")

	// 1. Stop accepting pushed readings
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := m.httpServer.Shutdown(shutdownCtx); err != nil {
		m.log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Wait for sources and the pipeline; nothing enqueues after this
	sourceErr := sources.Wait()
	_ = pipeline.Wait()
	if n := len(m.readings); n > 0 {
		m.log.Warn().Int("readings", n).Msg("unprocessed readings discarded")
	}
	if m.consumer != nil {
		if err := m.consumer.Close(); err != nil {
			m.log.Error().Err(err).Msg("reading consumer close error")
		}
	}

	// 3. Close the queue and let workers drain it
	close(m.queue)
	done := make(chan struct{})
	go func() {
		m.pool.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.log.Info().Msg("dispatch drained")
	case <-time.After(drainTimeout):
		m.log.Warn().Msg("dispatch drain timeout - forcing exit")
	}
	m.pool.Stop()

	// 4. Close the producer
	if m.producer != nil {
		if err := m.producer.Close(); err != nil {
			m.log.Error().Err(err).Msg("producer close error")
		}
	}

	m.wg.Wait()
	m.reportStats()
	m.log.Info().Msg("monitor stopped gracefully")
	return sourceErr
}
