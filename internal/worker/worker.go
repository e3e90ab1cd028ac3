package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"thermowatch/internal/logger"
	"thermowatch/internal/metrics"
	"thermowatch/internal/models"
)

// Publisher delivers notification envelopes
type Publisher interface {
	Publish(ctx context.Context, envelope *models.Envelope) error
	PublishBatch(ctx context.Context, envelopes []*models.Envelope) error
}

// BatchError reports a batch where only some envelopes failed.
// Publishers return it so the pool retries just the failed ones.
type BatchError struct {
	Failed []*models.Envelope
	Err    error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("%d of batch failed: %v", len(e.Failed), e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// Pool manages workers that drain the dispatch queue into a Publisher
type Pool struct {
	publisher      Publisher
	queue          chan *models.Envelope
	workers        int
	batchSize      int
	batchTimeout   time.Duration
	publishTimeout time.Duration

	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once

	delivered atomic.Uint64
	failed    atomic.Uint64
}

// Config holds worker pool configuration
type Config struct {
	Publisher      Publisher
	Queue          chan *models.Envelope
	Workers        int
	BatchSize      int
	BatchTimeout   time.Duration
	PublishTimeout time.Duration
}

// NewPool creates a new worker pool
func NewPool(cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 200 * time.Millisecond
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		publisher:      cfg.Publisher,
		queue:          cfg.Queue,
		workers:        cfg.Workers,
		batchSize:      cfg.BatchSize,
		batchTimeout:   cfg.BatchTimeout,
		publishTimeout: cfg.PublishTimeout,
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Start begins draining the queue
func (p *Pool) Start() {
	log := logger.WithComponent("dispatch_pool")
	log.Info().
		Int("workers", p.workers).
		Int("batch_size", p.batchSize).
		Dur("batch_timeout", p.batchTimeout).
		Msg("starting dispatch pool")

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop stops all workers, flushing batches in progress. Safe to call twice.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		log := logger.WithComponent("dispatch_pool")
		log.Info().Msg("stopping dispatch pool")
		p.cancel()
		p.wg.Wait()
		log.Info().Msg("dispatch pool stopped")
	})
}

// Wait blocks until every worker has exited, e.g. after the queue is closed
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	log := logger.WithComponent("dispatch_worker").With().Int("worker_id", id).Logger()

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("worker panic recovered")
			metrics.PanicsRecovered.WithLabelValues("dispatch_worker").Inc()
		}
	}()

	log.Debug().Msg("worker started")
	defer log.Debug().Msg("worker stopped")

	batch := make([]*models.Envelope, 0, p.batchSize)
	timer := time.NewTimer(p.batchTimeout)
	defer timer.Stop()

	for {
		select {
		case <-p.ctx.Done():
			p.deliverBatch(batch)
			return

		case envelope, ok := <-p.queue:
			if !ok {
				p.deliverBatch(batch)
				return
			}

			batch = append(batch, envelope)
			metrics.DispatchQueueSize.Set(float64(len(p.queue)))

			if len(batch) >= p.batchSize {
				p.deliverBatch(batch)
				batch = batch[:0]
				timer.Reset(p.batchTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				p.deliverBatch(batch)
				batch = batch[:0]
			}
			timer.Reset(p.batchTimeout)
		}
	}
}

// deliverBatch uses its own deadline so batches still flush during shutdown
func (p *Pool) deliverBatch(batch []*models.Envelope) {
	if len(batch) == 0 {
		return
	}

	log := logger.WithComponent("dispatch_worker")
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), p.publishTimeout)
	defer cancel()

	err := p.publisher.PublishBatch(ctx, batch)
	duration := time.Since(start)
	metrics.DispatchBatchDuration.Observe(duration.Seconds())

	if err == nil {
		log.Debug().
			Int("batch_size", len(batch)).
			Dur("duration", duration).
			Msg("batch delivered")
		p.delivered.Add(uint64(len(batch)))
		metrics.DispatchDeliveredTotal.Add(float64(len(batch)))
		return
	}

	retry := batch
	var be *BatchError
	if errors.As(err, &be) && len(be.Failed) <= len(batch) {
		retry = be.Failed
		ok := len(batch) - len(retry)
		p.delivered.Add(uint64(ok))
		metrics.DispatchDeliveredTotal.Add(float64(ok))
	}

	log.Warn().
		Err(err).
		Int("batch_size", len(batch)).
		Int("retrying", len(retry)).
		Dur("duration", duration).
		Msg("batch delivery failed, retrying individually")

	p.deliverIndividually(retry)
}

func (p *Pool) deliverIndividually(batch []*models.Envelope) {
	log := logger.WithComponent("dispatch_worker")

	for _, envelope := range batch {
		ctx, cancel := context.WithTimeout(context.Background(), p.publishTimeout)
		err := p.publisher.Publish(ctx, envelope)
		cancel()

		n := envelope.Notification
		if err != nil {
			log.Error().
				Err(err).
				Str("notification_id", n.ID).
				Str("subscriber_id", n.SubscriberID).
				Msg("notification could not be delivered")
			p.failed.Add(1)
			metrics.DispatchFailedTotal.Inc()
			continue
		}
		p.delivered.Add(1)
		metrics.DispatchDeliveredTotal.Inc()
	}
}

// Stats returns worker pool statistics
func (p *Pool) Stats() Stats {
	return Stats{
		Delivered: p.delivered.Load(),
		Failed:    p.failed.Load(),
	}
}

// Stats holds worker pool counters
type Stats struct {
	Delivered uint64 `json:"delivered"`
	Failed    uint64 `json:"failed"`
}
