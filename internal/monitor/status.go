package monitor

import (
	"time"

	"thermowatch/internal/alerts"
	"thermowatch/internal/kafka"
	"thermowatch/internal/models"
	"thermowatch/internal/worker"
)

// ActiveAlert is an alert from the latest reading, with its message.
type ActiveAlert struct {
	alerts.Alert
	Message string `json:"message"`
}

// Counters totals pipeline decisions since start.
type Counters struct {
	Processed     uint64 `json:"processed"`
	Rejected      uint64 `json:"rejected"`
	ValuesDropped uint64 `json:"values_dropped"`
	Raised        uint64 `json:"alerts_raised"`
	Notified      uint64 `json:"notified"`
	Throttled     uint64 `json:"throttled"`
	Filtered      uint64 `json:"filtered"`
	Dropped       uint64 `json:"dropped"`
}

// QueueStats reports channel occupancy.
type QueueStats struct {
	Buffered int `json:"buffered"`
	Capacity int `json:"capacity"`
}

// Status is the GET /stats body.
type Status struct {
	Node           string                          `json:"node"`
	EvaluatedAt    *time.Time                      `json:"evaluated_at,omitempty"`
	Latest         *models.SensorReading           `json:"latest,omitempty"`
	Classification map[alerts.Metric]alerts.Status `json:"classification"`
	ActiveAlerts   []ActiveAlert                   `json:"active_alerts"`
	Thresholds     alerts.ThresholdConfig          `json:"thresholds"`
	Counters       Counters                        `json:"counters"`
	Dispatch       worker.Stats                    `json:"dispatch"`
	Producer       *kafka.ProducerStats            `json:"producer,omitempty"`
	Queue          QueueStats                      `json:"queue"`
	Readings       QueueStats                      `json:"readings"`
	LedgerEntries  int                             `json:"ledger_entries"`
	Subscribers    int                             `json:"subscribers"`
}

// Status snapshots the pipeline for dashboards.
func (m *Monitor) Status() Status {
	cfg := m.policy.Thresholds()

	m.mu.RLock()
	latest := m.latest
	active := m.active
	evaluatedAt := m.evaluatedAt
	m.mu.RUnlock()

	s := Status{
		Node:           m.nodeID,
		Latest:         latest,
		Classification: make(map[alerts.Metric]alerts.Status, len(alerts.Metrics)),
		ActiveAlerts:   make([]ActiveAlert, 0, len(active)),
		Thresholds:     cfg,
		Counters: Counters{
			Processed:     m.processed.Load(),
			Rejected:      m.rejected.Load(),
			ValuesDropped: m.valuesDropped.Load(),
			Raised:        m.raised.Load(),
			Notified:      m.notified.Load(),
			Throttled:     m.throttled.Load(),
			Filtered:      m.filtered.Load(),
			Dropped:       m.dropped.Load(),
		},
		Dispatch:      m.pool.Stats(),
		Queue:         QueueStats{Buffered: len(m.queue), Capacity: cap(m.queue)},
		Readings:      QueueStats{Buffered: len(m.readings), Capacity: cap(m.readings)},
		LedgerEntries: m.policy.Ledger().Len(),
		Subscribers:   m.subs.Len(),
	}
	if !evaluatedAt.IsZero() {
		s.EvaluatedAt = &evaluatedAt
	}

	var temp, hum *float64
	if latest != nil {
		temp, hum = latest.Temperature, latest.Humidity
	}
	s.Classification[alerts.MetricTemperature] = alerts.Classify(alerts.MetricTemperature, temp, cfg)
	s.Classification[alerts.MetricHumidity] = alerts.Classify(alerts.MetricHumidity, hum, cfg)

	for _, a := range active {
		s.ActiveAlerts = append(s.ActiveAlerts, ActiveAlert{Alert: a, Message: a.Message()})
	}

	if m.producer != nil {
		ps := m.producer.Stats()
		s.Producer = &ps
	}
	return s
}
