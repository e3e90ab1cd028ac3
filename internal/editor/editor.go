// Package editor implements the two-step threshold editing dialogue:
// a subscriber picks a metric, submits a new minimum, then a new maximum.
package editor

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"thermowatch/internal/alerts"
)

// State is the position of a subscriber in the dialogue.
type State string

const (
	StateIdle            State = "idle"
	StateAwaitingTempMin State = "awaiting_temp_min"
	StateAwaitingTempMax State = "awaiting_temp_max"
	StateAwaitingHumMin  State = "awaiting_hum_min"
	StateAwaitingHumMax  State = "awaiting_hum_max"
)

// Metric returns the metric being edited in s.
func (s State) Metric() alerts.Metric {
	switch s {
	case StateAwaitingTempMin, StateAwaitingTempMax:
		return alerts.MetricTemperature
	case StateAwaitingHumMin, StateAwaitingHumMax:
		return alerts.MetricHumidity
	default:
		return ""
	}
}

func (s State) awaitingMin() bool {
	return s == StateAwaitingTempMin || s == StateAwaitingHumMin
}

// Editor errors
var (
	ErrNoSession      = errors.New("no threshold edit in progress")
	ErrInvalidValue   = errors.New("value must be a finite number")
	ErrMinNotBelowMax = errors.New("minimum must be below the current maximum")
	ErrMaxNotAboveMin = errors.New("maximum must be above the minimum")
)

// Store is where edited thresholds are read from and written to.
// SetLimit must change only the given limit, atomically.
type Store interface {
	Thresholds() alerts.ThresholdConfig
	SetLimit(metric alerts.Metric, bound alerts.Bound, value float64) (alerts.MetricThreshold, error)
}

// Step describes the dialogue after a transition.
type Step struct {
	State     State                  `json:"state"`
	Metric    alerts.Metric          `json:"metric"`
	Threshold alerts.MetricThreshold `json:"threshold"`
	// Done is set once both limits have been committed
	Done bool `json:"done"`
}

// Editor tracks one dialogue per subscriber.
type Editor struct {
	mu       sync.Mutex
	store    Store
	sessions map[string]State
}

// New returns an editor writing to store.
func New(store Store) *Editor {
	return &Editor{
		store:    store,
		sessions: make(map[string]State),
	}
}

// State returns the subscriber's current state.
func (e *Editor) State(subscriberID string) State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.sessions[subscriberID]; ok {
		return s
	}
	return StateIdle
}

// Begin starts editing metric, replacing any dialogue already in progress.
func (e *Editor) Begin(subscriberID string, metric alerts.Metric) (Step, error) {
	var next State
	switch metric {
	case alerts.MetricTemperature:
		next = StateAwaitingTempMin
	case alerts.MetricHumidity:
		next = StateAwaitingHumMin
	default:
		return Step{}, fmt.Errorf("%w: %q", alerts.ErrUnknownMetric, metric)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessions[subscriberID] = next

	return Step{State: next, Metric: metric, Threshold: e.store.Thresholds().For(metric)}, nil
}

// Cancel abandons the subscriber's dialogue. Limits already committed stay.
func (e *Editor) Cancel(subscriberID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.sessions[subscriberID]
	delete(e.sessions, subscriberID)
	return ok
}

// SubmitText parses text as a number and submits it.
func (e *Editor) SubmitText(subscriberID, text string) (Step, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		return e.current(subscriberID), ErrInvalidValue
	}
	return e.Submit(subscriberID, v)
}

// Submit feeds the next limit into the dialogue. A rejected value leaves
// the state unchanged so the subscriber can retry.
func (e *Editor) Submit(subscriberID string, value float64) (Step, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	state, ok := e.sessions[subscriberID]
	if !ok {
		return Step{State: StateIdle}, ErrNoSession
	}
	metric := state.Metric()
	current := e.store.Thresholds().For(metric)
	step := Step{State: state, Metric: metric, Threshold: current}

	if math.IsNaN(value) || math.IsInf(value, 0) {
		return step, ErrInvalidValue
	}

	bound := alerts.BoundMax
	if state.awaitingMin() {
		bound = alerts.BoundMin
	}

	next, err := e.store.SetLimit(metric, bound, value)
	if errors.Is(err, alerts.ErrMinNotBelowMax) {
		step.Threshold = next
		if bound == alerts.BoundMin {
			return step, ErrMinNotBelowMax
		}
		return step, ErrMaxNotAboveMin
	}
	if err != nil {
		return step, err
	}

	step.Threshold = next
	if state.awaitingMin() {
		step.State = maxStateFor(metric)
		e.sessions[subscriberID] = step.State
	} else {
		step.State = StateIdle
		step.Done = true
		delete(e.sessions, subscriberID)
	}
	return step, nil
}

func (e *Editor) current(subscriberID string) Step {
	e.mu.Lock()
	defer e.mu.Unlock()
	state, ok := e.sessions[subscriberID]
	if !ok {
		return Step{State: StateIdle}
	}
	metric := state.Metric()
	return Step{State: state, Metric: metric, Threshold: e.store.Thresholds().For(metric)}
}

func maxStateFor(metric alerts.Metric) State {
	if metric == alerts.MetricHumidity {
		return StateAwaitingHumMax
	}
	return StateAwaitingTempMax
}
