package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thermowatch/internal/alerts"
	"thermowatch/internal/editor"
	"thermowatch/internal/middleware"
	"thermowatch/internal/models"
	"thermowatch/internal/subscribers"
)

type fixture struct {
	router   http.Handler
	policy   *alerts.Policy
	registry *subscribers.Registry
	readings chan models.SensorReading
}

func newFixture(t *testing.T, mutate ...func(*Config)) *fixture {
	t.Helper()
	policy, err := alerts.NewPolicy(alerts.DefaultThresholds())
	require.NoError(t, err)
	registry, err := subscribers.NewRegistry(subscribers.New("alice"))
	require.NoError(t, err)

	f := &fixture{
		policy:   policy,
		registry: registry,
		readings: make(chan models.SensorReading, 10),
	}
	cfg := Config{
		Policy:      policy,
		Subscribers: registry,
		Editor:      editor.New(policy),
		Readings:    f.readings,
		Stats:       func() any { return map[string]int{"readings": 7} },
	}
	for _, m := range mutate {
		m(&cfg)
	}
	f.router = NewRouter(cfg)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealthAndStats(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode[map[string]string](t, w)["status"])

	w = f.do(t, http.MethodGet, "/stats", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 7, decode[map[string]int](t, w)["readings"])

	w = f.do(t, http.MethodPost, "/health", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	w = f.do(t, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealth_Unhealthy(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.Health = func(ctx context.Context) error { return errors.New("producer closed") }
	})
	w := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestThresholds(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/v1/thresholds", "")
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[thresholdView](t, w)
	assert.Equal(t, alerts.DefaultThresholds(), got.Thresholds)
	assert.Equal(t, "°C", got.Units[alerts.MetricTemperature])

	w = f.do(t, http.MethodPut, "/api/v1/thresholds/humidity",
		`{"min":35,"max":65,"enabled":true,"renotify_minutes":30}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	hum := f.policy.Thresholds().Humidity
	assert.Equal(t, 35.0, hum.Min)
	assert.Equal(t, 65.0, hum.Max)
	assert.Equal(t, 30, hum.RenotifyMinutes)

	w = f.do(t, http.MethodPut, "/api/v1/thresholds/humidity", `{"min":70,"max":65,"enabled":true}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, 35.0, f.policy.Thresholds().Humidity.Min)

	w = f.do(t, http.MethodPut, "/api/v1/thresholds/pressure", `{"min":1,"max":2}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodPut, "/api/v1/thresholds/humidity", `{"minimum":1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubscribers(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPut, "/api/v1/subscribers/bob",
		`{"webhook_url":"http://hooks.local/bob","notify_warnings":false}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	bob := decode[subscribers.Subscriber](t, w)
	assert.True(t, bob.AlertsEnabled)
	assert.True(t, bob.NotifyCritical)
	assert.False(t, bob.NotifyWarnings)

	w = f.do(t, http.MethodGet, "/api/v1/subscribers", "")
	list := decode[map[string][]subscribers.Subscriber](t, w)["subscribers"]
	require.Len(t, list, 2)
	assert.Equal(t, "alice", list[0].ID)
	assert.Equal(t, "bob", list[1].ID)

	w = f.do(t, http.MethodDelete, "/api/v1/subscribers/bob", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = f.do(t, http.MethodGet, "/api/v1/subscribers/bob", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = f.do(t, http.MethodDelete, "/api/v1/subscribers/bob", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestThresholdEditDialogue(t *testing.T) {
	f := newFixture(t)
	base := "/api/v1/subscribers/alice/threshold-edit"

	w := f.do(t, http.MethodPost, base, `{"metric":"temperature"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	step := decode[editView](t, w)
	assert.Equal(t, editor.StateAwaitingTempMin, step.State)
	assert.Contains(t, step.Prompt, "minimum temperature")

	// min must stay below the current max of 30
	w = f.do(t, http.MethodPost, base+"/input", `{"value":"35"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = f.do(t, http.MethodPost, base+"/input", `{"value":"abc"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = f.do(t, http.MethodGet, base, "")
	assert.Equal(t, editor.StateAwaitingTempMin, decode[editView](t, w).State)

	w = f.do(t, http.MethodPost, base+"/input", `{"value":12}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, editor.StateAwaitingTempMax, decode[editView](t, w).State)
	assert.Equal(t, 12.0, f.policy.Thresholds().Temperature.Min)

	w = f.do(t, http.MethodPost, base+"/input", `{"value":"10"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = f.do(t, http.MethodPost, base+"/input", `{"value":"27.5"}`)
	require.Equal(t, http.StatusOK, w.Code)
	step = decode[editView](t, w)
	assert.True(t, step.Done)
	assert.Equal(t, editor.StateIdle, step.State)
	assert.Equal(t, 27.5, f.policy.Thresholds().Temperature.Max)

	w = f.do(t, http.MethodPost, base+"/input", `{"value":"20"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestThresholdEdit_CancelAndUnknown(t *testing.T) {
	f := newFixture(t)
	base := "/api/v1/subscribers/alice/threshold-edit"

	w := f.do(t, http.MethodDelete, base, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	f.do(t, http.MethodPost, base, `{"metric":"humidity"}`)
	w = f.do(t, http.MethodDelete, base, "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(t, http.MethodPost, base, `{"metric":"pressure"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/subscribers/mallory/threshold-edit", `{"metric":"humidity"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_ReadingsIngest(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/api/v1/readings",
		`{"source_id":"lab","observed_at":"2024-01-15T10:30:00Z","temperature":21}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Len(t, f.readings, 1)
}

func TestRouter_Auth(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.JWTSecret = "s3cret" })

	w := f.do(t, http.MethodGet, "/api/v1/thresholds", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// health stays public
	w = f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "dashboard"}).
		SignedString([]byte("s3cret"))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/thresholds", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRouter_SubscriberRoutesFollowTokenSubject(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.JWTSecret = "s3cret" })
	require.NoError(t, f.registry.Put(subscribers.New("bob")))

	sign := func(subject, role string) string {
		claims := middleware.Claims{Role: role, RegisteredClaims: jwt.RegisteredClaims{Subject: subject}}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("s3cret"))
		require.NoError(t, err)
		return token
	}
	do := func(method, path, token, body string) int {
		req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		f.router.ServeHTTP(w, req)
		return w.Code
	}

	alice := sign("alice", "")
	assert.Equal(t, http.StatusOK, do(http.MethodGet, "/api/v1/subscribers/alice", alice, ""))
	assert.Equal(t, http.StatusOK, do(http.MethodPost, "/api/v1/subscribers/alice/threshold-edit", alice, `{"metric":"humidity"}`))

	// alice cannot act as bob
	assert.Equal(t, http.StatusForbidden, do(http.MethodGet, "/api/v1/subscribers/bob", alice, ""))
	assert.Equal(t, http.StatusForbidden, do(http.MethodPut, "/api/v1/subscribers/bob", alice, `{}`))
	assert.Equal(t, http.StatusForbidden, do(http.MethodPost, "/api/v1/subscribers/bob/threshold-edit", alice, `{"metric":"humidity"}`))
	assert.Equal(t, http.StatusForbidden, do(http.MethodDelete, "/api/v1/subscribers/bob", alice, ""))
	_, err := f.registry.Get("bob")
	assert.NoError(t, err)

	admin := sign("ops", middleware.RoleAdmin)
	assert.Equal(t, http.StatusNoContent, do(http.MethodDelete, "/api/v1/subscribers/bob", admin, ""))
	_, err = f.registry.Get("bob")
	assert.ErrorIs(t, err, subscribers.ErrNotFound)
}
