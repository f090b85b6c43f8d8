package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Record kinds in the document store
const (
	KindPayment  = "payments"
	KindCustomer = "customers"
	KindEvent    = "webhook_events"
)

// Payment statuses
const (
	PaymentStatusPending   = "pending"
	PaymentStatusSucceeded = "succeeded"
	PaymentStatusFailed    = "failed"
	PaymentStatusCanceled  = "canceled"
)

// PaymentRecord is the local mirror of a gateway payment intent
type PaymentRecord struct {
	ID               string            `json:"id"`
	Amount           decimal.Decimal   `json:"amount"`
	Currency         string            `json:"currency"`
	Status           string            `json:"status"`
	CustomerID       string            `json:"customer_id,omitempty"`
	GatewayPaymentID string            `json:"gateway_payment_id,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// CustomerRecord is the local mirror of a gateway customer
type CustomerRecord struct {
	ID                string    `json:"id"`
	Email             string    `json:"email"`
	Name              string    `json:"name,omitempty"`
	Phone             string    `json:"phone,omitempty"`
	GatewayCustomerID string    `json:"gateway_customer_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// WebhookEventRecord is the ledger entry for an inbound gateway event,
// keyed by the gateway-assigned event ID
type WebhookEventRecord struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Data        json.RawMessage `json:"data,omitempty"`
	ReceivedAt  time.Time       `json:"received_at"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
}

// IsTerminalStatus reports whether no further transition may take effect
func IsTerminalStatus(status string) bool {
	switch status {
	case PaymentStatusSucceeded, PaymentStatusFailed, PaymentStatusCanceled:
		return true
	}
	return false
}

// ApplyTransition resolves a transition attempt against the current status.
// Terminal states absorb any later attempt as a successful no-op, which makes
// the direct-call path and the webhook path commutative regardless of
// arrival order.
func ApplyTransition(current, target string) (next string, changed bool) {
	if IsTerminalStatus(current) || current == target {
		return current, false
	}
	return target, true
}

// FromGatewayStatus maps a gateway intent status to a local payment status.
// Unrecognized statuses map to pending; callers log them but never fail.
func FromGatewayStatus(gatewayStatus string) (status string, known bool) {
	switch gatewayStatus {
	case "succeeded":
		return PaymentStatusSucceeded, true
	case "canceled":
		return PaymentStatusCanceled, true
	case "failed", "payment_failed":
		return PaymentStatusFailed, true
	case "processing", "requires_payment_method", "requires_confirmation",
		"requires_action", "requires_capture":
		return PaymentStatusPending, true
	default:
		return PaymentStatusPending, false
	}
}
