package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"thermowatch/internal/alerts"
	"thermowatch/internal/logger"
)

// thresholdView is the GET /api/v1/thresholds body.
type thresholdView struct {
	Thresholds alerts.ThresholdConfig `json:"thresholds"`
	Units      map[alerts.Metric]string `json:"units"`
}

func (h *Handler) getThresholds(w http.ResponseWriter, r *http.Request) {
	units := make(map[alerts.Metric]string, len(alerts.Metrics))
	for _, m := range alerts.Metrics {
		units[m] = m.Unit()
	}
	writeJSON(w, http.StatusOK, thresholdView{
		Thresholds: h.cfg.Policy.Thresholds(),
		Units:      units,
	})
}

// putThreshold replaces one metric's limits. The body is a full
// MetricThreshold; limits must satisfy min < max.
func (h *Handler) putThreshold(w http.ResponseWriter, r *http.Request) {
	metric := alerts.Metric(mux.Vars(r)["metric"])
	if !metric.IsValid() {
		writeError(w, http.StatusNotFound, "unknown metric")
		return
	}

	var t alerts.MetricThreshold
	if err := decodeBody(w, r, h.cfg.MaxBodySize, &t); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	if err := h.cfg.Policy.UpdateMetric(metric, t); err != nil {
		status := http.StatusUnprocessableEntity
		if errors.Is(err, alerts.ErrUnknownMetric) {
			status = http.StatusNotFound
		}
		writeError(w, status, err.Error())
		return
	}

	log := logger.WithComponent("api")
	log.Info().
		Str("metric", string(metric)).
		Float64("min", t.Min).
		Float64("max", t.Max).
		Bool("enabled", t.Enabled).
		Int("renotify_minutes", t.RenotifyMinutes).
		Msg("thresholds updated")

	writeJSON(w, http.StatusOK, h.cfg.Policy.Thresholds().For(metric))
}
