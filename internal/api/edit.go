package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"thermowatch/internal/alerts"
	"thermowatch/internal/editor"
	"thermowatch/internal/logger"
)

type beginEditInput struct {
	Metric alerts.Metric `json:"metric"`
}

// editInput carries the next limit, either as a number or as the raw
// text a chat user typed.
type editInput struct {
	Value json.RawMessage `json:"value"`
}

// editView reports the dialogue position and what to ask next.
type editView struct {
	editor.Step
	Prompt string `json:"prompt,omitempty"`
}

// subscriberFromPath resolves {id}; unknown subscribers cannot edit.
func (h *Handler) subscriberFromPath(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := mux.Vars(r)["id"]
	if !authorizeSubscriber(w, r, id) {
		return "", false
	}
	sub, err := h.cfg.Subscribers.Get(id)
	if err != nil {
		writeSubscriberError(w, err)
		return "", false
	}
	return sub.ID, true
}

func (h *Handler) editState(w http.ResponseWriter, r *http.Request) {
	id, ok := h.subscriberFromPath(w, r)
	if !ok {
		return
	}
	state := h.cfg.Editor.State(id)
	step := editor.Step{State: state, Metric: state.Metric()}
	if step.Metric != "" {
		step.Threshold = h.cfg.Policy.Thresholds().For(step.Metric)
	}
	writeJSON(w, http.StatusOK, view(step))
}

func (h *Handler) beginEdit(w http.ResponseWriter, r *http.Request) {
	id, ok := h.subscriberFromPath(w, r)
	if !ok {
		return
	}
	var in beginEditInput
	if err := decodeBody(w, r, h.cfg.MaxBodySize, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	step, err := h.cfg.Editor.Begin(id, in.Metric)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, view(step))
}

func (h *Handler) submitEdit(w http.ResponseWriter, r *http.Request) {
	id, ok := h.subscriberFromPath(w, r)
	if !ok {
		return
	}
	var in editInput
	if err := decodeBody(w, r, h.cfg.MaxBodySize, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	text := string(in.Value)
	var quoted string
	if err := json.Unmarshal(in.Value, &quoted); err == nil {
		text = quoted
	}

	step, err := h.cfg.Editor.SubmitText(id, text)
	if err != nil {
		status := http.StatusUnprocessableEntity
		if errors.Is(err, editor.ErrNoSession) {
			status = http.StatusConflict
		}
		writeJSON(w, status, map[string]any{
			"success": false,
			"error":   err.Error(),
			"step":    view(step),
		})
		return
	}

	if step.Done {
		log := logger.WithSubscriber(id)
		log.Info().
			Str("metric", string(step.Metric)).
			Float64("min", step.Threshold.Min).
			Float64("max", step.Threshold.Max).
			Msg("thresholds edited")
	}
	writeJSON(w, http.StatusOK, view(step))
}

func (h *Handler) cancelEdit(w http.ResponseWriter, r *http.Request) {
	id, ok := h.subscriberFromPath(w, r)
	if !ok {
		return
	}
	if !h.cfg.Editor.Cancel(id) {
		writeError(w, http.StatusNotFound, editor.ErrNoSession.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func view(step editor.Step) editView {
	return editView{Step: step, Prompt: prompt(step)}
}

func prompt(step editor.Step) string {
	unit := step.Metric.Unit()
	switch step.State {
	case editor.StateAwaitingTempMin, editor.StateAwaitingHumMin:
		return "enter the new minimum " + string(step.Metric) + " (" + unit + ")"
	case editor.StateAwaitingTempMax, editor.StateAwaitingHumMax:
		return "enter the new maximum " + string(step.Metric) + " (" + unit + ")"
	default:
		return ""
	}
}
