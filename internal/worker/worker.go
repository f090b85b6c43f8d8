package worker

import (
	"context"
	"errors"

	"payment-service/internal/broker"
	"payment-service/internal/gateway"
	"payment-service/internal/service"
	"payment-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const signatureHeader = "Stripe-Signature"

// WebhookRelayWorker consumes raw webhook deliveries forwarded through Kafka
// by an edge relay and feeds them to the reconciler. The message value is
// the untouched event payload; the signature rides in a message header so
// verification happens here, not at the edge.
type WebhookRelayWorker struct {
	consumer   *broker.Consumer
	reconciler *service.Reconciler
	logger     *zap.Logger
}

// NewWebhookRelayWorker creates a new relay worker
func NewWebhookRelayWorker(consumer *broker.Consumer, reconciler *service.Reconciler) *WebhookRelayWorker {
	return &WebhookRelayWorker{
		consumer:   consumer,
		reconciler: reconciler,
		logger:     util.GetLogger(),
	}
}

// Start starts the worker
func (w *WebhookRelayWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting webhook relay worker")
	return w.consumer.StartConsuming(ctx, w.handleMessage)
}

// Stop stops the worker
func (w *WebhookRelayWorker) Stop() error {
	w.logger.Info("Stopping webhook relay worker")
	return w.consumer.Close()
}

func (w *WebhookRelayWorker) handleMessage(ctx context.Context, msg kafka.Message) error {
	var signature string
	for _, h := range msg.Headers {
		if h.Key == signatureHeader {
			signature = string(h.Value)
			break
		}
	}

	err := w.reconciler.ProcessEvent(ctx, msg.Value, signature)
	if err == nil {
		return nil
	}

	// Authenticity failures are permanent; committing the message is the
	// right call since redelivery can never make a bad payload verify.
	if errors.Is(err, gateway.ErrSignatureInvalid) || errors.Is(err, gateway.ErrMalformedPayload) {
		w.logger.Warn("Dropping unverifiable relayed delivery",
			zap.String("kafka_key", string(msg.Key)),
			zap.Error(err))
		return nil
	}

	return err
}
