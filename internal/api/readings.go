package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"thermowatch/internal/metrics"
	"thermowatch/internal/models"
)

// ReadingsHandler accepts pushed sensor readings
type ReadingsHandler struct {
	out         chan<- models.SensorReading
	maxBodySize int64
}

// NewReadingsHandler creates a handler that forwards readings to out
func NewReadingsHandler(out chan<- models.SensorReading, maxBodySize int64) *ReadingsHandler {
	if maxBodySize <= 0 {
		maxBodySize = 1 << 20
	}
	return &ReadingsHandler{out: out, maxBodySize: maxBodySize}
}

// ReadingsRequest is the batch form of the payload
type ReadingsRequest struct {
	Reading  *ReadingInput  `json:"reading,omitempty"`
	Readings []ReadingInput `json:"readings,omitempty"`
}

// ReadingInput is the wire form of a reading. Values may be numbers,
// numeric strings, blank strings or null; blank and null mean absent.
type ReadingInput struct {
	SourceID    string          `json:"source_id"`
	ObservedAt  string          `json:"observed_at"`
	Temperature json.RawMessage `json:"temperature,omitempty"`
	Humidity    json.RawMessage `json:"humidity,omitempty"`
	EntryID     int64           `json:"entry_id,omitempty"`
}

// ReadingsResponse is returned to clients
type ReadingsResponse struct {
	Success  bool           `json:"success"`
	Accepted int            `json:"accepted"`
	Rejected int            `json:"rejected"`
	Errors   []ReadingError `json:"errors,omitempty"`
}

// ReadingError describes why one reading was rejected
type ReadingError struct {
	Index    int    `json:"index"`
	SourceID string `json:"source_id,omitempty"`
	Error    string `json:"error"`
}

func (h *ReadingsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	contentType := r.Header.Get("Content-Type")
	if contentType != "" && !strings.HasPrefix(contentType, "application/json") {
		writeError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	inputs, err := parseReadings(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(inputs) == 0 {
		writeError(w, http.StatusBadRequest, "no readings provided")
		return
	}

	response := h.process(inputs)

	status := http.StatusOK
	if response.Rejected > 0 && response.Accepted == 0 {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, response)
}

// parseReadings accepts {"reading":..}, {"readings":[..]}, a bare array
// or a bare reading object.
func parseReadings(body []byte) ([]ReadingInput, error) {
	invalid := errors.New("invalid JSON format: expected reading object or array of readings")

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, invalid
	}

	switch trimmed[0] {
	case '[':
		var list []ReadingInput
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, invalid
		}
		return list, nil

	case '{':
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &fields); err != nil {
			return nil, invalid
		}
		_, hasBatch := fields["readings"]
		_, hasOne := fields["reading"]
		if hasBatch || hasOne {
			var req ReadingsRequest
			if err := json.Unmarshal(trimmed, &req); err != nil {
				return nil, invalid
			}
			if req.Reading != nil {
				return append([]ReadingInput{*req.Reading}, req.Readings...), nil
			}
			return req.Readings, nil
		}

		// bare reading; missing fields surface as per-item validation errors
		var single ReadingInput
		if err := json.Unmarshal(trimmed, &single); err != nil {
			return nil, invalid
		}
		return []ReadingInput{single}, nil
	}

	return nil, invalid
}

func (h *ReadingsHandler) process(inputs []ReadingInput) ReadingsResponse {
	response := ReadingsResponse{Errors: make([]ReadingError, 0)}

	reject := func(i int, source string, err error) {
		response.Errors = append(response.Errors, ReadingError{Index: i, SourceID: source, Error: err.Error()})
		response.Rejected++
		metrics.ReadingsTotal.WithLabelValues("push", "rejected").Inc()
	}

	for i, input := range inputs {
		reading, err := convertInput(input)
		if err != nil {
			reject(i, input.SourceID, err)
			continue
		}

		reading.Normalize()
		if err := reading.Validate(); err != nil {
			reject(i, reading.SourceID, err)
			continue
		}

		select {
		case h.out <- reading:
			response.Accepted++
			metrics.ReadingsTotal.WithLabelValues("push", "accepted").Inc()
		default:
			response.Errors = append(response.Errors, ReadingError{
				Index:    i,
				SourceID: reading.SourceID,
				Error:    "internal queue full, try again later",
			})
			response.Rejected++
			metrics.ReadingsTotal.WithLabelValues("push", "dropped").Inc()
		}
	}

	response.Success = response.Rejected == 0
	return response
}

func convertInput(input ReadingInput) (models.SensorReading, error) {
	ts, err := models.ParseTimestamp(input.ObservedAt)
	if err != nil {
		return models.SensorReading{}, fmt.Errorf("observed_at: %w", err)
	}
	temp, err := rawValue(input.Temperature)
	if err != nil {
		return models.SensorReading{}, fmt.Errorf("temperature: %w", err)
	}
	hum, err := rawValue(input.Humidity)
	if err != nil {
		return models.SensorReading{}, fmt.Errorf("humidity: %w", err)
	}
	return models.SensorReading{
		SourceID:    input.SourceID,
		ObservedAt:  ts,
		Temperature: temp,
		Humidity:    hum,
		EntryID:     input.EntryID,
	}, nil
}

func rawValue(raw json.RawMessage) (*float64, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return nil, nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return nil, models.ErrInvalidValue
		}
		s = str
	}
	return models.ParseValue(s)
}
