package alerts

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thermowatch/internal/models"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestNewPolicy_RejectsInvalidConfig(t *testing.T) {
	cfg := DefaultThresholds()
	cfg.Temperature.Max = 10

	_, err := NewPolicy(cfg)

	assert.ErrorIs(t, err, ErrMinNotBelowMax)
}

func TestPolicy_EvaluateAndThrottle(t *testing.T) {
	clock := &fakeClock{now: t0}
	p, err := NewPolicy(DefaultThresholds(), WithClock(clock))
	require.NoError(t, err)

	alerts := p.Evaluate(reading(models.Float(31), nil))
	require.Len(t, alerts, 1)

	assert.True(t, p.ShouldNotify("u1", alerts[0]))
	clock.Advance(10 * time.Minute)
	assert.False(t, p.ShouldNotify("u1", alerts[0]))
	clock.Advance(6 * time.Minute)
	assert.True(t, p.ShouldNotify("u1", alerts[0]))
}

func TestPolicy_UpdateMetric(t *testing.T) {
	p, err := NewPolicy(DefaultThresholds())
	require.NoError(t, err)

	next := p.Thresholds().Temperature
	next.Max = 40
	require.NoError(t, p.UpdateMetric(MetricTemperature, next))
	assert.Empty(t, p.Evaluate(reading(models.Float(35), nil)))

	next.Min = 50
	assert.ErrorIs(t, p.UpdateMetric(MetricTemperature, next), ErrMinNotBelowMax)
	assert.Equal(t, 40.0, p.Thresholds().Temperature.Max)
	assert.Equal(t, 15.0, p.Thresholds().Temperature.Min)

	assert.ErrorIs(t, p.UpdateMetric("pressure", next), ErrUnknownMetric)
}

func TestPolicy_SetLimitKeepsOtherFields(t *testing.T) {
	p, err := NewPolicy(DefaultThresholds())
	require.NoError(t, err)

	// a concurrent edit of the other fields lands first
	edited := p.Thresholds().Temperature
	edited.Enabled = false
	edited.RenotifyMinutes = 60
	require.NoError(t, p.UpdateMetric(MetricTemperature, edited))

	got, err := p.SetLimit(MetricTemperature, BoundMin, 18)
	require.NoError(t, err)
	assert.Equal(t, 18.0, got.Min)

	cur := p.Thresholds().Temperature
	assert.Equal(t, 18.0, cur.Min)
	assert.Equal(t, 30.0, cur.Max)
	assert.False(t, cur.Enabled)
	assert.Equal(t, 60, cur.RenotifyMinutes)

	got, err = p.SetLimit(MetricTemperature, BoundMax, 10)
	assert.ErrorIs(t, err, ErrMinNotBelowMax)
	assert.Equal(t, 30.0, got.Max)
	assert.Equal(t, 30.0, p.Thresholds().Temperature.Max)

	_, err = p.SetLimit("pressure", BoundMin, 1)
	assert.ErrorIs(t, err, ErrUnknownMetric)
}

func TestPolicy_SetLimitConcurrentWithUpdateMetric(t *testing.T) {
	p, err := NewPolicy(DefaultThresholds())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, _ = p.SetLimit(MetricHumidity, BoundMin, float64(20+i%10))
		}(i)
		go func() {
			defer wg.Done()
			h := p.Thresholds().Humidity
			h.RenotifyMinutes = 45
			_ = p.UpdateMetric(MetricHumidity, h)
		}()
	}
	wg.Wait()

	// SetLimit never rewrites the interval back to its old value
	_, err = p.SetLimit(MetricHumidity, BoundMin, 25)
	require.NoError(t, err)
	assert.Equal(t, 45, p.Thresholds().Humidity.RenotifyMinutes)
}

func TestPolicy_IntervalChangeAppliesToExistingEntries(t *testing.T) {
	clock := &fakeClock{now: t0}
	p, err := NewPolicy(DefaultThresholds(), WithClock(clock))
	require.NoError(t, err)

	a := highTemp()
	require.True(t, p.ShouldNotify("u1", a))

	cfg := p.Thresholds()
	cfg.Temperature.RenotifyMinutes = 1
	require.NoError(t, p.SetThresholds(cfg))

	clock.Advance(2 * time.Minute)
	assert.True(t, p.ShouldNotify("u1", a))
}
