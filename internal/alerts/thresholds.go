package alerts

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Metric names a measured quantity.
type Metric string

const (
	MetricTemperature Metric = "temperature"
	MetricHumidity    Metric = "humidity"
)

// Metrics lists metrics in evaluation order.
var Metrics = []Metric{MetricTemperature, MetricHumidity}

// IsValid checks if the metric is known
func (m Metric) IsValid() bool {
	switch m {
	case MetricTemperature, MetricHumidity:
		return true
	default:
		return false
	}
}

// Unit returns the display unit of the metric.
func (m Metric) Unit() string {
	switch m {
	case MetricTemperature:
		return "°C"
	case MetricHumidity:
		return "%"
	default:
		return ""
	}
}

// Threshold errors
var (
	ErrUnknownMetric     = errors.New("unknown metric")
	ErrMinNotBelowMax    = errors.New("min must be below max")
	ErrNonFiniteLimit    = errors.New("limits must be finite")
	ErrNegativeRenotify  = errors.New("renotify interval cannot be negative")
	ErrNegativeMargin    = errors.New("critical margin cannot be negative")
	ErrLedgerTTLTooShort = errors.New("ledger ttl must exceed every renotify interval")
)

// MetricThreshold holds the limits for one metric.
type MetricThreshold struct {
	Min     float64 `yaml:"min" json:"min"`
	Max     float64 `yaml:"max" json:"max"`
	Enabled bool    `yaml:"enabled" json:"enabled"`

	// Minimum time between two notifications for the same breach
	RenotifyMinutes int `yaml:"renotify_minutes" json:"renotify_minutes"`

	// Distance beyond a limit at which an alert becomes critical.
	// Zero disables escalation.
	CriticalMargin float64 `yaml:"critical_margin" json:"critical_margin"`
}

// RenotifyInterval returns RenotifyMinutes as a duration.
func (t MetricThreshold) RenotifyInterval() time.Duration {
	return time.Duration(t.RenotifyMinutes) * time.Minute
}

// Validate checks the limits are usable.
func (t MetricThreshold) Validate() error {
	if math.IsNaN(t.Min) || math.IsInf(t.Min, 0) || math.IsNaN(t.Max) || math.IsInf(t.Max, 0) {
		return ErrNonFiniteLimit
	}
	if t.Min >= t.Max {
		return ErrMinNotBelowMax
	}
	if t.RenotifyMinutes < 0 {
		return ErrNegativeRenotify
	}
	if t.CriticalMargin < 0 || math.IsNaN(t.CriticalMargin) {
		return ErrNegativeMargin
	}
	return nil
}

// ThresholdConfig holds limits for every metric.
type ThresholdConfig struct {
	Temperature MetricThreshold `yaml:"temperature" json:"temperature"`
	Humidity    MetricThreshold `yaml:"humidity" json:"humidity"`
}

// DefaultThresholds returns the limits used when nothing is configured.
func DefaultThresholds() ThresholdConfig {
	return ThresholdConfig{
		Temperature: MetricThreshold{
			Min:             15,
			Max:             30,
			Enabled:         true,
			RenotifyMinutes: 15,
			CriticalMargin:  5,
		},
		Humidity: MetricThreshold{
			Min:             30,
			Max:             70,
			Enabled:         true,
			RenotifyMinutes: 15,
		},
	}
}

// For returns the threshold of metric. Unknown metrics get a disabled zero value.
func (c ThresholdConfig) For(metric Metric) MetricThreshold {
	switch metric {
	case MetricTemperature:
		return c.Temperature
	case MetricHumidity:
		return c.Humidity
	default:
		return MetricThreshold{}
	}
}

// With returns a copy of c with metric's threshold replaced.
func (c ThresholdConfig) With(metric Metric, t MetricThreshold) (ThresholdConfig, error) {
	switch metric {
	case MetricTemperature:
		c.Temperature = t
	case MetricHumidity:
		c.Humidity = t
	default:
		return c, fmt.Errorf("%w: %q", ErrUnknownMetric, metric)
	}
	return c, nil
}

// Validate checks every metric.
func (c ThresholdConfig) Validate() error {
	for _, m := range Metrics {
		if err := c.For(m).Validate(); err != nil {
			return fmt.Errorf("%s: %w", m, err)
		}
	}
	return nil
}

// MaxRenotifyInterval returns the longest renotify interval over all metrics.
func (c ThresholdConfig) MaxRenotifyInterval() time.Duration {
	var longest time.Duration
	for _, m := range Metrics {
		if d := c.For(m).RenotifyInterval(); d > longest {
			longest = d
		}
	}
	return longest
}
