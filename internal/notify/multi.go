package notify

import (
	"context"
	"errors"

	"thermowatch/internal/models"
	"thermowatch/internal/worker"
)

// MultiPublisher fans notifications out to several publishers. Delivery is
// at-least-once: a retried envelope is resent to every publisher.
type MultiPublisher struct {
	publishers []worker.Publisher
}

func NewMultiPublisher(publishers ...worker.Publisher) *MultiPublisher {
	m := &MultiPublisher{}
	for _, p := range publishers {
		if p != nil {
			m.publishers = append(m.publishers, p)
		}
	}
	return m
}

func (m *MultiPublisher) Publish(ctx context.Context, envelope *models.Envelope) error {
	var errs []error
	for _, p := range m.publishers {
		if err := p.Publish(ctx, envelope); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublishBatch reports the union of envelopes any publisher failed on.
func (m *MultiPublisher) PublishBatch(ctx context.Context, envelopes []*models.Envelope) error {
	failed := make(map[*models.Envelope]bool)
	var errs []error
	for _, p := range m.publishers {
		err := p.PublishBatch(ctx, envelopes)
		if err == nil {
			continue
		}
		errs = append(errs, err)
		var be *worker.BatchError
		if errors.As(err, &be) {
			for _, e := range be.Failed {
				failed[e] = true
			}
			continue
		}
		for _, e := range envelopes {
			failed[e] = true
		}
	}
	if len(errs) == 0 {
		return nil
	}
	retry := make([]*models.Envelope, 0, len(failed))
	for _, e := range envelopes {
		if failed[e] {
			retry = append(retry, e)
		}
	}
	return &worker.BatchError{Failed: retry, Err: errors.Join(errs...)}
}
