package service

import (
	"context"
	"time"

	"payment-service/internal/gateway"
	"payment-service/internal/models"
)

// PaymentGateway is the synchronous call/response surface of the payment
// gateway, implemented by gateway.StripeGateway.
type PaymentGateway interface {
	CreateIntent(ctx context.Context, req gateway.CreateIntentRequest) (*gateway.Intent, error)
	ConfirmIntent(ctx context.Context, gatewayPaymentID, paymentMethodID string) (string, error)
	CancelIntent(ctx context.Context, gatewayPaymentID string) (string, error)
	CreateCustomer(ctx context.Context, email, name, phone string) (string, error)
	DeleteCustomer(ctx context.Context, gatewayCustomerID string) error
}

// EventVerifier authenticates raw webhook payloads
type EventVerifier interface {
	VerifyEvent(payload []byte, signatureHeader string) (*gateway.Event, error)
}

// PaymentStore is the payment-record slice of the document store
type PaymentStore interface {
	CreatePayment(ctx context.Context, payment *models.PaymentRecord) error
	GetPayment(ctx context.Context, key string) (*models.PaymentRecord, error)
	UpdatePaymentStatus(ctx context.Context, key, status string) error
	FindPaymentsByGatewayID(ctx context.Context, gatewayPaymentID string, limit int) ([]models.PaymentRecord, error)
	ListPaymentsByCustomer(ctx context.Context, customerID string, limit int) ([]models.PaymentRecord, error)
}

// CustomerStore is the customer-record slice of the document store
type CustomerStore interface {
	CreateCustomer(ctx context.Context, customer *models.CustomerRecord) error
	GetCustomer(ctx context.Context, key string) (*models.CustomerRecord, error)
	FindCustomerByEmail(ctx context.Context, email string) (*models.CustomerRecord, error)
	UpdateCustomer(ctx context.Context, key string, fields map[string]interface{}) error
	DeleteCustomer(ctx context.Context, key string) error
}

// EventLedger is the durable record of inbound gateway events
type EventLedger interface {
	GetEvent(ctx context.Context, eventID string) (*models.WebhookEventRecord, error)
	CreateEventIfAbsent(ctx context.Context, event *models.WebhookEventRecord) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID string, processedAt time.Time) error
}

// DedupCache is an optional fast path in front of the ledger,
// implemented by redisclient.Client
type DedupCache interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID string, ttl time.Duration) error
}
