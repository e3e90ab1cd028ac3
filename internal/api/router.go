// Package api exposes the HTTP surface: push ingest of readings, threshold
// and subscriber management, the threshold edit dialogue, health and stats.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"thermowatch/internal/alerts"
	"thermowatch/internal/editor"
	"thermowatch/internal/middleware"
	"thermowatch/internal/models"
	"thermowatch/internal/subscribers"
)

// Config wires the handlers to the running service.
type Config struct {
	Policy      *alerts.Policy
	Subscribers *subscribers.Registry
	Editor      *editor.Editor

	// Push-ingested readings are sent here without blocking
	Readings chan<- models.SensorReading

	// Stats returns the body of GET /stats
	Stats func() any

	// Health reports a dependency problem; nil means always healthy
	Health func(ctx context.Context) error

	JWTSecret   string
	MaxBodySize int64
}

// Handler serves the API.
type Handler struct {
	cfg Config
}

// NewRouter builds the routed, middleware-wrapped API handler.
func NewRouter(cfg Config) http.Handler {
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = 1 << 20
	}
	if cfg.Stats == nil {
		cfg.Stats = func() any { return struct{}{} }
	}
	h := &Handler{cfg: cfg}

	r := mux.NewRouter()
	r.Use(middleware.Logging)
	r.NotFoundHandler = middleware.Logging(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	}))
	r.MethodNotAllowedHandler = middleware.Logging(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}))

	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.HandleFunc("/stats", h.stats).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.Use(middleware.Auth(cfg.JWTSecret))

	v1.Handle("/readings", NewReadingsHandler(cfg.Readings, cfg.MaxBodySize)).Methods(http.MethodPost)

	v1.HandleFunc("/thresholds", h.getThresholds).Methods(http.MethodGet)
	v1.HandleFunc("/thresholds/{metric}", h.putThreshold).Methods(http.MethodPut)

	v1.HandleFunc("/subscribers", h.listSubscribers).Methods(http.MethodGet)
	v1.HandleFunc("/subscribers/{id}", h.getSubscriber).Methods(http.MethodGet)
	v1.HandleFunc("/subscribers/{id}", h.putSubscriber).Methods(http.MethodPut)
	v1.HandleFunc("/subscribers/{id}", h.deleteSubscriber).Methods(http.MethodDelete)

	v1.HandleFunc("/subscribers/{id}/threshold-edit", h.editState).Methods(http.MethodGet)
	v1.HandleFunc("/subscribers/{id}/threshold-edit", h.beginEdit).Methods(http.MethodPost)
	v1.HandleFunc("/subscribers/{id}/threshold-edit/input", h.submitEdit).Methods(http.MethodPost)
	v1.HandleFunc("/subscribers/{id}/threshold-edit", h.cancelEdit).Methods(http.MethodDelete)

	return middleware.Chain(r, middleware.Recovery)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.cfg.Health(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, "unhealthy: "+err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cfg.Stats())
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError writes an error response
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

// decodeBody reads a bounded JSON body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
