package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"thermowatch/internal/middleware"
	"thermowatch/internal/subscribers"
)

// subscriberInput is the PUT body. Omitted preferences default to true.
type subscriberInput struct {
	WebhookURL     string `json:"webhook_url"`
	AlertsEnabled  *bool  `json:"alerts_enabled"`
	NotifyCritical *bool  `json:"notify_critical"`
	NotifyWarnings *bool  `json:"notify_warnings"`
}

func (h *Handler) listSubscribers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"subscribers": h.cfg.Subscribers.List(),
	})
}

// authorizeSubscriber lets a token act on its own subscriber, or on any
// with the admin role. Without authentication configured there are no claims.
func authorizeSubscriber(w http.ResponseWriter, r *http.Request, id string) bool {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok || claims.ActsFor(id) {
		return true
	}
	writeError(w, http.StatusForbidden, "token subject may not manage subscriber "+id)
	return false
}

func (h *Handler) getSubscriber(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !authorizeSubscriber(w, r, id) {
		return
	}
	sub, err := h.cfg.Subscribers.Get(id)
	if err != nil {
		writeSubscriberError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (h *Handler) putSubscriber(w http.ResponseWriter, r *http.Request) {
	var in subscriberInput
	if err := decodeBody(w, r, h.cfg.MaxBodySize, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	sub := subscribers.New(strings.TrimSpace(mux.Vars(r)["id"]))
	if !authorizeSubscriber(w, r, sub.ID) {
		return
	}
	sub.WebhookURL = in.WebhookURL
	if in.AlertsEnabled != nil {
		sub.AlertsEnabled = *in.AlertsEnabled
	}
	if in.NotifyCritical != nil {
		sub.NotifyCritical = *in.NotifyCritical
	}
	if in.NotifyWarnings != nil {
		sub.NotifyWarnings = *in.NotifyWarnings
	}

	if err := h.cfg.Subscribers.Put(sub); err != nil {
		writeSubscriberError(w, err)
		return
	}
	stored, err := h.cfg.Subscribers.Get(sub.ID)
	if err != nil {
		writeSubscriberError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

func (h *Handler) deleteSubscriber(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !authorizeSubscriber(w, r, id) {
		return
	}
	if err := h.cfg.Subscribers.Delete(id); err != nil {
		writeSubscriberError(w, err)
		return
	}
	h.cfg.Editor.Cancel(id)
	w.WriteHeader(http.StatusNoContent)
}

func writeSubscriberError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, subscribers.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, subscribers.ErrEmptyID):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
