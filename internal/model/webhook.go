package model

import (
	"encoding/json"
	"time"
)

// WebhookStatus tracks the audit state of an inbound delivery.
type WebhookStatus string

const (
	WebhookStatusPending   WebhookStatus = "pending"
	WebhookStatusProcessed WebhookStatus = "processed"
	WebhookStatusFailed    WebhookStatus = "failed"
)

// WebhookEvent is the idempotency record for one external delivery.
// ExternalID is globally unique.
type WebhookEvent struct {
	ID           string          `json:"id"`
	ExternalID   string          `json:"external_id"`
	Source       string          `json:"source"`
	EventType    string          `json:"event_type"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Status       WebhookStatus   `json:"status"`
	ProcessedAt  *time.Time      `json:"processed_at,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}
