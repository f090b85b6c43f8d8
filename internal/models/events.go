package models

import "time"

// Gateway webhook event types the reconciler recognizes
const (
	GatewayEventPaymentSucceeded = "payment_intent.succeeded"
	GatewayEventPaymentFailed    = "payment_intent.payment_failed"
	GatewayEventPaymentCanceled  = "payment_intent.canceled"
)

// Domain event types published to Kafka
const (
	EventTypePaymentCreated       = "PAYMENT_CREATED"
	EventTypePaymentStatusChanged = "PAYMENT_STATUS_CHANGED"
)

// Transition triggers recorded on status-change events
const (
	TriggerAPI     = "api"
	TriggerWebhook = "webhook"
)

// BaseEvent contains common fields for all domain events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// PaymentCreatedEvent published when a payment intent is created
type PaymentCreatedEvent struct {
	BaseEvent
	PaymentID        string `json:"payment_id"`
	GatewayPaymentID string `json:"gateway_payment_id"`
	Amount           string `json:"amount"`
	Currency         string `json:"currency"`
	CustomerID       string `json:"customer_id,omitempty"`
}

// PaymentStatusChangedEvent published after an effective status transition
type PaymentStatusChangedEvent struct {
	BaseEvent
	PaymentID        string `json:"payment_id"`
	GatewayPaymentID string `json:"gateway_payment_id"`
	OldStatus        string `json:"old_status"`
	NewStatus        string `json:"new_status"`
	Trigger          string `json:"trigger"`
}
