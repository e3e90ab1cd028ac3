package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thermowatch/internal/models"
)

type scriptedFetcher struct {
	readings []models.SensorReading
	errs     []error
	calls    int
}

func (f *scriptedFetcher) Latest(ctx context.Context) (models.SensorReading, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return models.SensorReading{}, f.errs[i]
	}
	if i >= len(f.readings) {
		return f.readings[len(f.readings)-1], nil
	}
	return f.readings[i], nil
}

func entry(id int64, temp float64) models.SensorReading {
	return models.SensorReading{
		SourceID:    "thingspeak:1",
		ObservedAt:  time.Date(2024, 1, 15, 10, 0, int(id), 0, time.UTC),
		Temperature: models.Float(temp),
		EntryID:     id,
	}
}

func TestPoller_SkipsUnchangedEntries(t *testing.T) {
	out := make(chan models.SensorReading, 10)
	f := &scriptedFetcher{readings: []models.SensorReading{entry(1, 20), entry(1, 20), entry(2, 21)}}
	p := NewPoller(PollerConfig{Fetcher: f, Interval: time.Second, Out: out})
	ctx := context.Background()

	fresh, err := p.Poll(ctx)
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = p.Poll(ctx)
	require.NoError(t, err)
	assert.False(t, fresh)

	fresh, err = p.Poll(ctx)
	require.NoError(t, err)
	assert.True(t, fresh)

	require.Len(t, out, 2)
	assert.Equal(t, int64(1), (<-out).EntryID)
	assert.Equal(t, int64(2), (<-out).EntryID)
}

func TestPoller_RefreshesStalledEntry(t *testing.T) {
	out := make(chan models.SensorReading, 10)
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	f := &scriptedFetcher{readings: []models.SensorReading{entry(7, 40)}}
	p := NewPoller(PollerConfig{
		Fetcher: f,
		Refresh: time.Minute,
		Out:     out,
		Now:     func() time.Time { return now },
	})
	ctx := context.Background()

	fresh, err := p.Poll(ctx)
	require.NoError(t, err)
	assert.True(t, fresh)

	now = now.Add(59 * time.Second)
	fresh, err = p.Poll(ctx)
	require.NoError(t, err)
	assert.False(t, fresh)

	// the feed is stalled on a breach; it must be evaluated again
	now = now.Add(time.Second)
	fresh, err = p.Poll(ctx)
	require.NoError(t, err)
	assert.True(t, fresh)

	now = now.Add(30 * time.Second)
	fresh, err = p.Poll(ctx)
	require.NoError(t, err)
	assert.False(t, fresh)

	require.Len(t, out, 2)
}

func TestPoller_PropagatesFetchError(t *testing.T) {
	out := make(chan models.SensorReading, 1)
	boom := errors.New("boom")
	f := &scriptedFetcher{readings: []models.SensorReading{entry(1, 20)}, errs: []error{boom}}
	p := NewPoller(PollerConfig{Fetcher: f, Out: out})

	_, err := p.Poll(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, out)

	fresh, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.True(t, fresh)
}

func TestPoller_RunStopsOnCancel(t *testing.T) {
	out := make(chan models.SensorReading, 10)
	f := &scriptedFetcher{readings: []models.SensorReading{entry(1, 20)}}
	p := NewPoller(PollerConfig{Fetcher: f, Interval: 10 * time.Millisecond, Out: out})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	require.NoError(t, p.Run(ctx))
	assert.Len(t, out, 1)
	assert.GreaterOrEqual(t, f.calls, 2)
}
