package subscribers

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"thermowatch/internal/alerts"
)

// Subscriber holds one recipient's notification preferences.
type Subscriber struct {
	ID             string `json:"id"`
	WebhookURL     string `json:"webhook_url,omitempty"`
	AlertsEnabled  bool   `json:"alerts_enabled"`
	NotifyCritical bool   `json:"notify_critical"`
	NotifyWarnings bool   `json:"notify_warnings"`
}

// New returns a subscriber with every notification enabled.
func New(id string) Subscriber {
	return Subscriber{
		ID:             id,
		AlertsEnabled:  true,
		NotifyCritical: true,
		NotifyWarnings: true,
	}
}

// Accepts reports whether the subscriber wants alerts of this severity.
func (s Subscriber) Accepts(a alerts.Alert) bool {
	if !s.AlertsEnabled {
		return false
	}
	switch a.Severity {
	case alerts.SeverityCritical:
		return s.NotifyCritical
	case alerts.SeverityWarning:
		return s.NotifyWarnings
	default:
		return true
	}
}

var (
	ErrEmptyID  = errors.New("subscriber id cannot be empty")
	ErrNotFound = errors.New("subscriber not found")
)

// Registry is an in-memory set of subscribers, safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	subs map[string]Subscriber
}

// NewRegistry returns a registry seeded with subs.
func NewRegistry(subs ...Subscriber) (*Registry, error) {
	r := &Registry{subs: make(map[string]Subscriber, len(subs))}
	for _, s := range subs {
		if err := r.Put(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Put creates or replaces a subscriber.
func (r *Registry) Put(s Subscriber) error {
	s.ID = strings.TrimSpace(s.ID)
	if s.ID == "" {
		return ErrEmptyID
	}
	r.mu.Lock()
	r.subs[s.ID] = s
	r.mu.Unlock()
	return nil
}

// Get returns the subscriber with id.
func (r *Registry) Get(id string) (Subscriber, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.subs[id]
	if !ok {
		return Subscriber{}, ErrNotFound
	}
	return s, nil
}

// Delete removes the subscriber with id.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[id]; !ok {
		return ErrNotFound
	}
	delete(r.subs, id)
	return nil
}

// List returns all subscribers ordered by id.
func (r *Registry) List() []Subscriber {
	r.mu.RLock()
	out := make([]Subscriber, 0, len(r.subs))
	for _, s := range r.subs {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of subscribers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}
