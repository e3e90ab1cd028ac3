package alerts

import (
	"fmt"
	"strconv"

	"thermowatch/internal/models"
)

// Direction tells which limit was crossed.
type Direction string

const (
	DirectionLow  Direction = "low"
	DirectionHigh Direction = "high"
)

// Severity grades an alert.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert reports a single metric outside its configured bounds.
type Alert struct {
	Metric    Metric    `json:"metric"`
	Direction Direction `json:"direction"`
	Severity  Severity  `json:"severity"`
	Value     float64   `json:"value"`
	Limit     float64   `json:"limit"`
}

// Message renders the alert for humans.
func (a Alert) Message() string {
	bound := "minimum"
	verb := "below"
	if a.Direction == DirectionHigh {
		bound = "maximum"
		verb = "above"
	}
	unit := a.Metric.Unit()
	return fmt.Sprintf("%s %s normal: %s%s (%s: %s%s)",
		a.Metric, verb, formatValue(a.Value), unit, bound, formatValue(a.Limit), unit)
}

// Evaluate checks reading against cfg and returns the alerts it raises,
// temperature first. Disabled metrics and absent values produce nothing.
func Evaluate(reading models.SensorReading, cfg ThresholdConfig) []Alert {
	var alerts []Alert

	if v, ok := reading.TemperatureValue(); ok {
		if a, fired := check(MetricTemperature, v, cfg.Temperature); fired {
			alerts = append(alerts, a)
		}
	}

	if v, ok := reading.HumidityValue(); ok {
		if a, fired := check(MetricHumidity, v, cfg.Humidity); fired {
			alerts = append(alerts, a)
		}
	}

	return alerts
}

func check(metric Metric, value float64, t MetricThreshold) (Alert, bool) {
	if !t.Enabled {
		return Alert{}, false
	}

	switch {
	case value < t.Min:
		sev := SeverityWarning
		if t.CriticalMargin > 0 && value <= t.Min-t.CriticalMargin {
			sev = SeverityCritical
		}
		return Alert{Metric: metric, Direction: DirectionLow, Severity: sev, Value: value, Limit: t.Min}, true

	case value > t.Max:
		sev := SeverityWarning
		if t.CriticalMargin > 0 && value >= t.Max+t.CriticalMargin {
			sev = SeverityCritical
		}
		return Alert{Metric: metric, Direction: DirectionHigh, Severity: sev, Value: value, Limit: t.Max}, true

	default:
		return Alert{}, false
	}
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
