package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"payment-service/internal/broker"
	"payment-service/internal/gateway"
	"payment-service/internal/models"
	"payment-service/internal/store"
	"payment-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	listLimit = 100

	// bounded retry of the gateway-ID lookup, covering the window where an
	// event arrives before the creation write is queryable
	orphanLookupAttempts = 3
	orphanLookupDelay    = 200 * time.Millisecond
)

// PaymentService owns the payment record state machine. Both the direct API
// path and the webhook reconciliation path drive transitions through it.
type PaymentService struct {
	store     PaymentStore
	customers CustomerStore
	gateway   PaymentGateway
	publisher *broker.EventPublisher
	logger    *zap.Logger
}

// NewPaymentService creates a new payment service. publisher may be nil when
// no broker is configured.
func NewPaymentService(
	paymentStore PaymentStore,
	customerStore CustomerStore,
	gw PaymentGateway,
	publisher *broker.EventPublisher,
) *PaymentService {
	return &PaymentService{
		store:     paymentStore,
		customers: customerStore,
		gateway:   gw,
		publisher: publisher,
		logger:    util.GetLogger(),
	}
}

// CreateIntentRequest represents a request to create a payment intent
type CreateIntentRequest struct {
	Amount          decimal.Decimal   `json:"amount" binding:"required"`
	Currency        string            `json:"currency" binding:"required"`
	CustomerID      string            `json:"customer_id,omitempty"`
	PaymentMethodID string            `json:"payment_method_id,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// CreateIntent creates a gateway-side payment intent and mirrors it locally
// with status pending.
func (s *PaymentService) CreateIntent(ctx context.Context, req *CreateIntentRequest) (*models.PaymentRecord, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.CreateIntent")
	defer span.End()

	if !req.Amount.IsPositive() {
		return nil, validationErrorf("amount must be positive, got %s", req.Amount)
	}
	currency := strings.ToLower(req.Currency)
	if len(currency) != 3 {
		return nil, validationErrorf("currency must be a 3-letter code, got %q", req.Currency)
	}

	var gatewayCustomerID string
	if req.CustomerID != "" {
		customer, err := s.customers.GetCustomer(ctx, req.CustomerID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrCustomerNotFound
		}
		if err != nil {
			return nil, err
		}
		gatewayCustomerID = customer.GatewayCustomerID
	}

	intent, err := s.gateway.CreateIntent(ctx, gateway.CreateIntentRequest{
		Amount:            req.Amount,
		Currency:          currency,
		GatewayCustomerID: gatewayCustomerID,
		PaymentMethodID:   req.PaymentMethodID,
		Metadata:          req.Metadata,
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	payment := &models.PaymentRecord{
		Amount:           req.Amount,
		Currency:         currency,
		Status:           models.PaymentStatusPending,
		CustomerID:       req.CustomerID,
		GatewayPaymentID: intent.ID,
		Metadata:         req.Metadata,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.store.CreatePayment(ctx, payment); err != nil {
		return nil, err
	}

	util.PaymentsCreatedTotal.Inc()
	s.logger.Info("Payment intent created",
		zap.String("payment_id", payment.ID),
		zap.String("gateway_payment_id", intent.ID),
		zap.String("amount", req.Amount.String()),
		zap.String("currency", currency))

	if s.publisher != nil {
		event := &models.PaymentCreatedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypePaymentCreated,
				Timestamp: now,
			},
			PaymentID:        payment.ID,
			GatewayPaymentID: intent.ID,
			Amount:           req.Amount.String(),
			Currency:         currency,
			CustomerID:       req.CustomerID,
		}
		if err := s.publisher.PublishPaymentCreated(ctx, event); err != nil {
			s.logger.Error("Failed to publish PaymentCreated event", zap.Error(err))
		}
	}

	return payment, nil
}

// GetIntent retrieves a payment record by key
func (s *PaymentService) GetIntent(ctx context.Context, key string) (*models.PaymentRecord, error) {
	payment, err := s.store.GetPayment(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	return payment, nil
}

// ConfirmIntent confirms the gateway-side intent and applies the resulting
// status to the local record.
func (s *PaymentService) ConfirmIntent(ctx context.Context, key, paymentMethodID string) (*models.PaymentRecord, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.ConfirmIntent")
	defer span.End()

	payment, err := s.GetIntent(ctx, key)
	if err != nil {
		return nil, err
	}
	if payment.GatewayPaymentID == "" {
		return nil, ErrGatewayLinkMissing
	}

	gatewayStatus, err := s.gateway.ConfirmIntent(ctx, payment.GatewayPaymentID, paymentMethodID)
	if err != nil {
		return nil, err
	}

	target, known := models.FromGatewayStatus(gatewayStatus)
	if !known {
		s.logger.Warn("Unrecognized gateway status, keeping payment pending",
			zap.String("payment_id", key),
			zap.String("gateway_status", gatewayStatus))
	}

	if err := s.applyTransition(ctx, payment, target, models.TriggerAPI); err != nil {
		return nil, err
	}

	util.PaymentsConfirmedTotal.Inc()
	return payment, nil
}

// CancelIntent cancels the gateway-side intent and marks the local record
// canceled. Safe to repeat: a terminal local status absorbs the transition
// and the adapter tolerates an already-terminal gateway response.
func (s *PaymentService) CancelIntent(ctx context.Context, key string) (*models.PaymentRecord, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.CancelIntent")
	defer span.End()

	payment, err := s.GetIntent(ctx, key)
	if err != nil {
		return nil, err
	}

	if payment.GatewayPaymentID != "" {
		if _, err := s.gateway.CancelIntent(ctx, payment.GatewayPaymentID); err != nil {
			return nil, err
		}
	}

	if err := s.applyTransition(ctx, payment, models.PaymentStatusCanceled, models.TriggerAPI); err != nil {
		return nil, err
	}

	util.PaymentsCanceledTotal.Inc()
	return payment, nil
}

// ListByCustomer retrieves a customer's payments, most recent first
func (s *PaymentService) ListByCustomer(ctx context.Context, customerID string) ([]models.PaymentRecord, error) {
	return s.store.ListPaymentsByCustomer(ctx, customerID, listLimit)
}

// ApplyStatusByGatewayID locates the payment record matching a gateway
// payment ID and applies the target status. Used only by the reconciler.
// An unresolved lookup is an orphan event: logged and swallowed, never an
// error, since the gateway may reference payments outside our visibility.
func (s *PaymentService) ApplyStatusByGatewayID(ctx context.Context, gatewayPaymentID, targetStatus string) error {
	ctx, span := util.StartSpan(ctx, "PaymentService.ApplyStatusByGatewayID")
	defer span.End()

	payment, err := s.findByGatewayID(ctx, gatewayPaymentID)
	if err != nil {
		return err
	}
	if payment == nil {
		util.WebhookOrphansTotal.Inc()
		s.logger.Warn("Orphan event: no payment record for gateway payment id",
			zap.String("gateway_payment_id", gatewayPaymentID),
			zap.String("target_status", targetStatus))
		return nil
	}

	return s.applyTransition(ctx, payment, targetStatus, models.TriggerWebhook)
}

// findByGatewayID retries the lookup a few times before declaring an orphan,
// since creation writes the local record only after the gateway call returns.
func (s *PaymentService) findByGatewayID(ctx context.Context, gatewayPaymentID string) (*models.PaymentRecord, error) {
	for attempt := 1; ; attempt++ {
		matches, err := s.store.FindPaymentsByGatewayID(ctx, gatewayPaymentID, 2)
		if err != nil {
			return nil, err
		}
		if len(matches) > 1 {
			// the join key is expected to be unique across records
			s.logger.Error("Data integrity: multiple payments share a gateway payment id",
				zap.String("gateway_payment_id", gatewayPaymentID),
				zap.Int("matches", len(matches)))
		}
		if len(matches) > 0 {
			return &matches[0], nil
		}
		if attempt >= orphanLookupAttempts {
			return nil, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(orphanLookupDelay):
		}
	}
}

// applyTransition applies the terminal-respecting transition rule and
// persists the result. Duplicate or late-arriving triggers are no-ops, which
// makes the API path and the webhook path commutative.
func (s *PaymentService) applyTransition(ctx context.Context, payment *models.PaymentRecord, target, trigger string) error {
	next, changed := models.ApplyTransition(payment.Status, target)
	if !changed {
		util.PaymentTransitionsSuppressed.Inc()
		s.logger.Debug("Transition suppressed",
			zap.String("payment_id", payment.ID),
			zap.String("status", payment.Status),
			zap.String("target", target))
		return nil
	}

	if err := s.store.UpdatePaymentStatus(ctx, payment.ID, next); err != nil {
		return err
	}

	old := payment.Status
	payment.Status = next
	payment.UpdatedAt = time.Now().UTC()

	util.PaymentTransitionsTotal.WithLabelValues(next, trigger).Inc()
	s.logger.Info("Payment status changed",
		zap.String("payment_id", payment.ID),
		zap.String("old_status", old),
		zap.String("new_status", next),
		zap.String("trigger", trigger))

	if s.publisher != nil {
		event := &models.PaymentStatusChangedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypePaymentStatusChanged,
				Timestamp: payment.UpdatedAt,
			},
			PaymentID:        payment.ID,
			GatewayPaymentID: payment.GatewayPaymentID,
			OldStatus:        old,
			NewStatus:        next,
			Trigger:          trigger,
		}
		if err := s.publisher.PublishStatusChanged(ctx, event); err != nil {
			s.logger.Error("Failed to publish PaymentStatusChanged event", zap.Error(err))
		}
	}

	return nil
}
