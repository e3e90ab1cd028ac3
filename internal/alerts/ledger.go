package alerts

import (
	"sync"
	"time"
)

// LedgerKey identifies one kind of breach for one subscriber.
type LedgerKey struct {
	SubscriberID string
	Metric       Metric
	Direction    Direction
}

// Ledger records when each breach was last notified.
// It is safe for concurrent use; check-and-record is atomic per call.
type Ledger struct {
	mu      sync.Mutex
	entries map[LedgerKey]time.Time
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{entries: make(map[LedgerKey]time.Time)}
}

// LastSent returns the last allowed dispatch time for key.
func (l *Ledger) LastSent(key LedgerKey) (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	at, ok := l.entries[key]
	return at, ok
}

// Len returns the number of recorded keys.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Prune removes entries last sent before cutoff and returns how many were removed.
func (l *Ledger) Prune(cutoff time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, at := range l.entries {
		if at.Before(cutoff) {
			delete(l.entries, key)
			removed++
		}
	}
	return removed
}

// claim records now for key and returns true when key is new or its last
// dispatch is strictly more than interval ago.
func (l *Ledger) claim(key LedgerKey, now time.Time, interval time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	last, ok := l.entries[key]
	if ok && now.Sub(last) <= interval {
		return false
	}
	l.entries[key] = now
	return true
}

// ShouldNotify decides whether alert may be dispatched to subscriberID at now,
// recording the dispatch in ledger when it returns true.
func ShouldNotify(subscriberID string, alert Alert, now time.Time, ledger *Ledger, cfg ThresholdConfig) bool {
	key := LedgerKey{
		SubscriberID: subscriberID,
		Metric:       alert.Metric,
		Direction:    alert.Direction,
	}
	return ledger.claim(key, now, cfg.For(alert.Metric).RenotifyInterval())
}
