package models

import (
	"strconv"
	"strings"
	"time"
)

// SupportedTimestampFormats lists formats we attempt to parse
var SupportedTimestampFormats = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.RFC1123,
	time.UnixDate,
}

// Normalize applies field normalization to a SensorReading
// - lower-cases SourceID
// - converts ObservedAt to UTC
//
// Measured values are left untouched; evaluation sees exactly what the
// sensor reported.
func (r *SensorReading) Normalize() {
	r.SourceID = strings.ToLower(strings.TrimSpace(r.SourceID))
	r.ObservedAt = r.ObservedAt.UTC()
}

// DroppedValue records a measured value discarded by DropInvalidValues.
type DroppedValue struct {
	Field string
	Value float64
	Err   error
}

// DropInvalidValues clears values that cannot be evaluated (non-finite, or
// humidity outside 0-100%) so the other metric of the reading still is.
func (r *SensorReading) DropInvalidValues() []DroppedValue {
	var dropped []DroppedValue

	if r.Temperature != nil && !finite(*r.Temperature) {
		dropped = append(dropped, DroppedValue{Field: "temperature", Value: *r.Temperature, Err: ErrValueNotFinite})
		r.Temperature = nil
	}

	if r.Humidity != nil {
		h := *r.Humidity
		var err error
		switch {
		case !finite(h):
			err = ErrValueNotFinite
		case h < 0:
			err = ErrNegativeHumidity
		case h > 100:
			err = ErrHumidityOverRange
		}
		if err != nil {
			dropped = append(dropped, DroppedValue{Field: "humidity", Value: h, Err: err})
			r.Humidity = nil
		}
	}

	return dropped
}

// ParseTimestamp attempts to parse a timestamp string into time.Time
func ParseTimestamp(ts string) (time.Time, error) {
	ts = strings.TrimSpace(ts)

	for _, format := range SupportedTimestampFormats {
		if t, err := time.Parse(format, ts); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, ErrInvalidTimestamp
}

// ParseValue parses a feed field. Blank input is an absent value, not an error.
func ParseValue(s string) (*float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, ErrInvalidValue
	}
	if !finite(v) {
		return nil, ErrValueNotFinite
	}
	return &v, nil
}
