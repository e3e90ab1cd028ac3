package models

import (
	"errors"
	"math"
	"time"
)

// SensorReading is one sampled temperature/humidity pair.
// A nil Temperature or Humidity means the sensor reported no value.
type SensorReading struct {
	// Source channel or device that produced the reading
	SourceID string `json:"source_id"`

	// Time the reading was observed by the sensor
	ObservedAt time.Time `json:"observed_at"`

	// Degrees Celsius
	Temperature *float64 `json:"temperature"`

	// Relative humidity, percent
	Humidity *float64 `json:"humidity"`

	// Upstream feed entry id, zero when the source has none
	EntryID int64 `json:"entry_id,omitempty"`
}

// Validation errors
var (
	ErrEmptySourceID     = errors.New("source ID cannot be empty")
	ErrZeroObservedAt    = errors.New("observed_at cannot be zero")
	ErrFutureObservedAt  = errors.New("observed_at cannot be in the future")
	ErrInvalidTimestamp  = errors.New("invalid timestamp format")
	ErrInvalidValue      = errors.New("reading value is not a number")
	ErrValueNotFinite    = errors.New("reading value must be finite")
	ErrNegativeHumidity  = errors.New("humidity cannot be negative")
	ErrHumidityOverRange = errors.New("humidity cannot exceed 100%")
)

// maxClockSkew tolerates sensors whose clocks run slightly ahead.
const maxClockSkew = time.Minute

// Float returns a pointer to v, for building readings in code.
func Float(v float64) *float64 {
	return &v
}

// TemperatureValue returns the temperature and whether it is present.
func (r SensorReading) TemperatureValue() (float64, bool) {
	if r.Temperature == nil {
		return 0, false
	}
	return *r.Temperature, true
}

// HumidityValue returns the humidity and whether it is present.
func (r SensorReading) HumidityValue() (float64, bool) {
	if r.Humidity == nil {
		return 0, false
	}
	return *r.Humidity, true
}

// HasValues reports whether at least one metric is present.
func (r SensorReading) HasValues() bool {
	return r.Temperature != nil || r.Humidity != nil
}

// Validate checks the reading is well formed. Absent values are valid;
// unusable values are handled per metric by DropInvalidValues.
func (r *SensorReading) Validate() error {
	if r.SourceID == "" {
		return ErrEmptySourceID
	}

	if r.ObservedAt.IsZero() {
		return ErrZeroObservedAt
	}

	if r.ObservedAt.After(time.Now().Add(maxClockSkew)) {
		return ErrFutureObservedAt
	}

	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
