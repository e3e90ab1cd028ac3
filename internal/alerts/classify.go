package alerts

// Status is a coarse label for a single metric value.
type Status string

const (
	StatusNoData     Status = "no_data"
	StatusBelowRange Status = "below_range"
	StatusAboveRange Status = "above_range"
	StatusCool       Status = "cool"
	StatusWarm       Status = "warm"
	StatusDry        Status = "dry"
	StatusHumid      Status = "humid"
	StatusNormal     Status = "normal"
)

// comfort bands inside the configured range
const (
	coolBelow = 18.0
	warmFrom  = 25.0
	dryBelow  = 40.0
	humidFrom = 60.0
)

// Classify labels value for metric. Out-of-range checks ignore Enabled,
// so a disabled metric still reads as out of range.
func Classify(metric Metric, value *float64, cfg ThresholdConfig) Status {
	if value == nil {
		return StatusNoData
	}
	v := *value
	t := cfg.For(metric)

	switch {
	case v < t.Min:
		return StatusBelowRange
	case v > t.Max:
		return StatusAboveRange
	}

	switch metric {
	case MetricTemperature:
		switch {
		case v < coolBelow:
			return StatusCool
		case v < warmFrom:
			return StatusNormal
		default:
			return StatusWarm
		}
	case MetricHumidity:
		switch {
		case v < dryBelow:
			return StatusDry
		case v < humidFrom:
			return StatusNormal
		default:
			return StatusHumid
		}
	}
	return StatusNormal
}
