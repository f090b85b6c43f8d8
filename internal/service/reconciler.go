package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"payment-service/internal/models"
	"payment-service/internal/store"
	"payment-service/internal/util"

	"go.uber.org/zap"
)

const dedupCacheTTL = 24 * time.Hour

// Reconciler resolves gateway-originated events against the local payment
// mirror: verify signature, dedup by event ID, dispatch the status
// transition, record the outcome in the ledger.
type Reconciler struct {
	verifier EventVerifier
	ledger   EventLedger
	payments *PaymentService
	cache    DedupCache
	logger   *zap.Logger
}

// NewReconciler creates a new event reconciler. cache may be nil; the ledger
// alone is sufficient for correctness.
func NewReconciler(verifier EventVerifier, ledger EventLedger, payments *PaymentService, cache DedupCache) *Reconciler {
	return &Reconciler{
		verifier: verifier,
		ledger:   ledger,
		payments: payments,
		cache:    cache,
		logger:   util.GetLogger(),
	}
}

// ProcessEvent handles one webhook delivery. Verification failures surface
// as gateway.ErrSignatureInvalid / gateway.ErrMalformedPayload (client
// errors, never retried); any other error is transient and the caller must
// answer so the event source redelivers.
func (r *Reconciler) ProcessEvent(ctx context.Context, payload []byte, signatureHeader string) error {
	ctx, span := util.StartSpan(ctx, "Reconciler.ProcessEvent")
	defer span.End()

	start := time.Now()
	defer func() {
		util.WebhookProcessingLatency.Observe(time.Since(start).Seconds())
	}()

	event, err := r.verifier.VerifyEvent(payload, signatureHeader)
	if err != nil {
		util.WebhookSignatureFailures.Inc()
		return err
	}

	if dup, err := r.alreadyProcessed(ctx, event.ID); err != nil {
		return err
	} else if dup {
		util.WebhookDuplicatesTotal.Inc()
		r.logger.Info("Duplicate event suppressed", zap.String("event_id", event.ID))
		return nil
	}

	// First-writer-wins; a losing concurrent writer proceeds redundantly,
	// which is safe because the dispatch below is idempotent.
	entry := &models.WebhookEventRecord{
		ID:         event.ID,
		Type:       event.Type,
		Data:       json.RawMessage(event.Raw),
		ReceivedAt: time.Now().UTC(),
	}
	if _, err := r.ledger.CreateEventIfAbsent(ctx, entry); err != nil {
		return err
	}

	if err := r.dispatch(ctx, event.Type, event.Object); err != nil {
		util.WebhookEventsTotal.WithLabelValues("failed").Inc()
		return err
	}

	if err := r.ledger.MarkEventProcessed(ctx, event.ID, time.Now().UTC()); err != nil {
		// the event is effectively processed; redelivery repeats the
		// idempotent dispatch and retries the mark
		return err
	}

	if r.cache != nil {
		if err := r.cache.MarkEventProcessed(ctx, event.ID, dedupCacheTTL); err != nil {
			r.logger.Warn("Failed to cache processed event", zap.Error(err))
		}
	}

	util.WebhookEventsTotal.WithLabelValues("processed").Inc()
	return nil
}

// alreadyProcessed consults the cache fast path, then the durable ledger
func (r *Reconciler) alreadyProcessed(ctx context.Context, eventID string) (bool, error) {
	if r.cache != nil {
		cached, err := r.cache.IsEventProcessed(ctx, eventID)
		if err != nil {
			r.logger.Warn("Dedup cache unavailable, falling back to ledger", zap.Error(err))
		} else if cached {
			return true, nil
		}
	}

	entry, err := r.ledger.GetEvent(ctx, eventID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return entry.ProcessedAt != nil, nil
}

// dispatch routes recognized event types to the payment lifecycle manager.
// Unrecognized types are accepted and logged so new gateway event types
// never cause delivery failures.
func (r *Reconciler) dispatch(ctx context.Context, eventType string, object json.RawMessage) error {
	var target string
	switch eventType {
	case models.GatewayEventPaymentSucceeded:
		target = models.PaymentStatusSucceeded
	case models.GatewayEventPaymentFailed:
		target = models.PaymentStatusFailed
	case models.GatewayEventPaymentCanceled:
		target = models.PaymentStatusCanceled
	default:
		util.WebhookEventsTotal.WithLabelValues("unhandled").Inc()
		r.logger.Info("Unhandled event type", zap.String("event_type", eventType))
		return nil
	}

	var subject struct {
		ID string `json:"id"`
	}
	if len(object) > 0 {
		if err := json.Unmarshal(object, &subject); err != nil {
			r.logger.Warn("Event object not parseable, skipping dispatch",
				zap.String("event_type", eventType),
				zap.Error(err))
			return nil
		}
	}
	if subject.ID == "" {
		r.logger.Warn("Event carries no subject id, skipping dispatch",
			zap.String("event_type", eventType))
		return nil
	}

	return r.payments.ApplyStatusByGatewayID(ctx, subject.ID, target)
}
