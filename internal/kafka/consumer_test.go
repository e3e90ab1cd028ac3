package kafka

import (
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thermowatch/internal/models"
)

func TestDecodeReading(t *testing.T) {
	msg := kafka.Message{
		Key:   []byte("Greenhouse-1"),
		Value: []byte(`{"observed_at":"2026-01-26T08:00:00+02:00","temperature":21.456,"humidity":null}`),
	}

	reading, err := decodeReading(msg)
	require.NoError(t, err)

	assert.Equal(t, "greenhouse-1", reading.SourceID)
	assert.Equal(t, time.Date(2026, 1, 26, 6, 0, 0, 0, time.UTC), reading.ObservedAt)
	require.NotNil(t, reading.Temperature)
	assert.Equal(t, 21.456, *reading.Temperature)
	assert.Nil(t, reading.Humidity)
}

func TestDecodeReading_FallsBackToMessageTime(t *testing.T) {
	at := time.Date(2026, 1, 26, 8, 0, 0, 0, time.UTC)
	reading, err := decodeReading(kafka.Message{
		Time:  at,
		Value: []byte(`{"source_id":"lab","humidity":55}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "lab", reading.SourceID)
	assert.Equal(t, at, reading.ObservedAt)
}

func TestDecodeReading_Invalid(t *testing.T) {
	_, err := decodeReading(kafka.Message{Value: []byte(`not json`)})
	assert.ErrorIs(t, err, ErrDecodeReading)
}

func TestNewReadingConsumer_Validation(t *testing.T) {
	out := make(chan models.SensorReading)

	_, err := NewReadingConsumer(nil, "readings", "g", out)
	assert.Error(t, err)
	_, err = NewReadingConsumer([]string{"localhost:9092"}, "", "g", out)
	assert.Error(t, err)
	_, err = NewReadingConsumer([]string{"localhost:9092"}, "readings", "g", nil)
	assert.Error(t, err)

	c, err := NewReadingConsumer([]string{"localhost:9092"}, "readings", "g", out)
	require.NoError(t, err)
	assert.NoError(t, c.Close())
}
