package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"payment-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"
)

var (
	// ErrSignatureInvalid indicates the event signature does not match the
	// payload under the configured webhook secret
	ErrSignatureInvalid = errors.New("webhook signature verification failed")

	// ErrMalformedPayload indicates the event payload could not be parsed
	ErrMalformedPayload = errors.New("webhook payload is malformed")
)

// Error wraps a failed gateway call. Ambiguous reports whether the outcome
// is unknown (timeout or transport failure after the request may have been
// applied); retries of ambiguous calls reuse the same idempotency key.
type Error struct {
	Op        string
	Ambiguous bool
	Err       error
}

func (e *Error) Error() string {
	if e.Ambiguous {
		return fmt.Sprintf("gateway %s failed with ambiguous outcome: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("gateway %s failed: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Intent is the gateway's view of a payment intent
type Intent struct {
	ID     string
	Status string
}

// Event is a verified gateway webhook event. Object holds the raw JSON of
// the event's subject (the payment intent for payment_intent.* types).
type Event struct {
	ID     string
	Type   string
	Object json.RawMessage
	Raw    []byte
}

// CreateIntentRequest carries the parameters for a gateway-side intent
type CreateIntentRequest struct {
	Amount            decimal.Decimal
	Currency          string
	GatewayCustomerID string
	PaymentMethodID   string
	Metadata          map[string]string
}

// StripeGateway adapts the Stripe API to the payment lifecycle manager
type StripeGateway struct {
	client        *stripe.Client
	webhookSecret string
	timeout       time.Duration
	maxAttempts   int
	logger        *zap.Logger
}

// NewStripeGateway creates a Stripe-backed gateway adapter
func NewStripeGateway(secretKey, webhookSecret string, timeout time.Duration) *StripeGateway {
	return &StripeGateway{
		client:        stripe.NewClient(secretKey),
		webhookSecret: webhookSecret,
		timeout:       timeout,
		maxAttempts:   3,
		logger:        util.GetLogger(),
	}
}

// CreateIntent creates a payment intent on the gateway. Amount is in whole
// currency units and converted to minor units at this boundary.
func (g *StripeGateway) CreateIntent(ctx context.Context, req CreateIntentRequest) (*Intent, error) {
	amountInCents := req.Amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()

	var intent *stripe.PaymentIntent
	err := g.withRetry(ctx, "create_intent", func(ctx context.Context, idempotencyKey string) error {
		params := &stripe.PaymentIntentCreateParams{
			Amount:   stripe.Int64(amountInCents),
			Currency: stripe.String(req.Currency),
			AutomaticPaymentMethods: &stripe.PaymentIntentCreateAutomaticPaymentMethodsParams{
				Enabled: stripe.Bool(true),
			},
			Metadata: req.Metadata,
		}
		if req.GatewayCustomerID != "" {
			params.Customer = stripe.String(req.GatewayCustomerID)
		}
		if req.PaymentMethodID != "" {
			params.PaymentMethod = stripe.String(req.PaymentMethodID)
		}
		params.IdempotencyKey = stripe.String(idempotencyKey)

		var err error
		intent, err = g.client.V1PaymentIntents.Create(ctx, params)
		return err
	})
	if err != nil {
		return nil, err
	}

	return &Intent{ID: intent.ID, Status: string(intent.Status)}, nil
}

// ConfirmIntent confirms a payment intent and returns the gateway status
func (g *StripeGateway) ConfirmIntent(ctx context.Context, gatewayPaymentID, paymentMethodID string) (string, error) {
	var intent *stripe.PaymentIntent
	err := g.withRetry(ctx, "confirm_intent", func(ctx context.Context, idempotencyKey string) error {
		params := &stripe.PaymentIntentConfirmParams{}
		if paymentMethodID != "" {
			params.PaymentMethod = stripe.String(paymentMethodID)
		}
		params.IdempotencyKey = stripe.String(idempotencyKey)

		var err error
		intent, err = g.client.V1PaymentIntents.Confirm(ctx, gatewayPaymentID, params)
		return err
	})
	if err != nil {
		return "", err
	}

	return string(intent.Status), nil
}

// CancelIntent cancels a payment intent. A gateway rejection because the
// intent is already in a terminal state counts as success.
func (g *StripeGateway) CancelIntent(ctx context.Context, gatewayPaymentID string) (string, error) {
	var intent *stripe.PaymentIntent
	err := g.withRetry(ctx, "cancel_intent", func(ctx context.Context, idempotencyKey string) error {
		params := &stripe.PaymentIntentCancelParams{}
		params.IdempotencyKey = stripe.String(idempotencyKey)

		var err error
		intent, err = g.client.V1PaymentIntents.Cancel(ctx, gatewayPaymentID, params)
		return err
	})
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Code == "payment_intent_unexpected_state" {
			g.logger.Info("Cancel on terminal intent treated as success",
				zap.String("gateway_payment_id", gatewayPaymentID))
			return "canceled", nil
		}
		return "", err
	}

	return string(intent.Status), nil
}

// CreateCustomer creates a customer on the gateway and returns its ID
func (g *StripeGateway) CreateCustomer(ctx context.Context, email, name, phone string) (string, error) {
	var customer *stripe.Customer
	err := g.withRetry(ctx, "create_customer", func(ctx context.Context, idempotencyKey string) error {
		params := &stripe.CustomerCreateParams{
			Email: stripe.String(email),
		}
		if name != "" {
			params.Name = stripe.String(name)
		}
		if phone != "" {
			params.Phone = stripe.String(phone)
		}
		params.IdempotencyKey = stripe.String(idempotencyKey)

		var err error
		customer, err = g.client.V1Customers.Create(ctx, params)
		return err
	})
	if err != nil {
		return "", err
	}

	return customer.ID, nil
}

// DeleteCustomer removes a customer on the gateway
func (g *StripeGateway) DeleteCustomer(ctx context.Context, gatewayCustomerID string) error {
	return g.withRetry(ctx, "delete_customer", func(ctx context.Context, idempotencyKey string) error {
		params := &stripe.CustomerDeleteParams{}
		params.IdempotencyKey = stripe.String(idempotencyKey)

		_, err := g.client.V1Customers.Delete(ctx, gatewayCustomerID, params)
		return err
	})
}

// VerifyEvent authenticates a raw webhook payload against its signature
// header and returns the structured event.
func (g *StripeGateway) VerifyEvent(payload []byte, signatureHeader string) (*Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		if errors.Is(err, webhook.ErrNotSigned) ||
			errors.Is(err, webhook.ErrInvalidHeader) ||
			errors.Is(err, webhook.ErrNoValidSignature) ||
			errors.Is(err, webhook.ErrTooOld) {
			return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	verified := &Event{
		ID:   event.ID,
		Type: string(event.Type),
		Raw:  payload,
	}
	if event.Data != nil {
		verified.Object = event.Data.Raw
	}
	return verified, nil
}

// withRetry runs a gateway call under a bounded timeout. Ambiguous failures
// are retried with the SAME idempotency key so the gateway deduplicates the
// side effect; definite rejections surface immediately.
func (g *StripeGateway) withRetry(ctx context.Context, op string, call func(ctx context.Context, idempotencyKey string) error) error {
	idempotencyKey := uuid.New().String()

	var lastErr error
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		start := time.Now()
		err := call(callCtx, idempotencyKey)
		util.GatewayCallLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
		cancel()

		if err == nil {
			return nil
		}
		if !isAmbiguous(err) {
			return &Error{Op: op, Err: err}
		}

		lastErr = err
		g.logger.Warn("Ambiguous gateway failure, retrying with same idempotency key",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return &Error{Op: op, Ambiguous: true, Err: ctx.Err()}
		case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
		}
	}

	return &Error{Op: op, Ambiguous: true, Err: lastErr}
}

// isAmbiguous reports whether the call's effect may have been applied even
// though it failed. A structured gateway error is a definite rejection.
func isAmbiguous(err error) bool {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
