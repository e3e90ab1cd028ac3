package models

import (
	"time"

	"github.com/google/uuid"
)

// Notification is an alert addressed to one subscriber, ready for delivery.
type Notification struct {
	// Unique notification id
	ID string `json:"id"`

	SubscriberID string `json:"subscriber_id"`

	// Optional per-subscriber delivery target
	WebhookURL string `json:"webhook_url,omitempty"`

	Metric    string  `json:"metric"`
	Direction string  `json:"direction"`
	Severity  string  `json:"severity"`
	Value     float64 `json:"value"`
	Limit     float64 `json:"limit"`
	Message   string  `json:"message"`

	// Reading that triggered the alert
	Reading SensorReading `json:"reading"`
}

// Envelope wraps a Notification with internal metadata for dispatch
type Envelope struct {
	Notification *Notification `json:"notification"`

	CreatedAt    time.Time `json:"created_at"`
	Node         string    `json:"node"`
	RetryCount   int       `json:"retry_count"`
	PartitionKey string    `json:"partition_key"`
}

// NewEnvelope assigns an id to n and wraps it for dispatch
func NewEnvelope(n *Notification, node string) *Envelope {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	return &Envelope{
		Notification: n,
		CreatedAt:    time.Now().UTC(),
		Node:         node,
		PartitionKey: n.SubscriberID, // per-subscriber ordering
	}
}
