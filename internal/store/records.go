package store

import (
	"context"
	"encoding/json"
	"time"

	"payment-service/internal/models"
)

// CreatePayment stores a new payment record and sets its generated key
func (s *Store) CreatePayment(ctx context.Context, payment *models.PaymentRecord) error {
	key, err := s.Add(ctx, models.KindPayment, payment)
	if err != nil {
		return err
	}
	payment.ID = key
	return nil
}

// GetPayment retrieves a payment record by key
func (s *Store) GetPayment(ctx context.Context, key string) (*models.PaymentRecord, error) {
	var payment models.PaymentRecord
	if err := s.Get(ctx, models.KindPayment, key, &payment); err != nil {
		return nil, err
	}
	return &payment, nil
}

// UpdatePaymentStatus updates the status of a payment record
func (s *Store) UpdatePaymentStatus(ctx context.Context, key, status string) error {
	return s.Update(ctx, models.KindPayment, key, map[string]interface{}{
		"status":     status,
		"updated_at": time.Now().UTC(),
	})
}

// FindPaymentsByGatewayID retrieves payment records whose gateway payment ID
// matches, most recent first
func (s *Store) FindPaymentsByGatewayID(ctx context.Context, gatewayPaymentID string, limit int) ([]models.PaymentRecord, error) {
	rows, err := s.QueryEquals(ctx, models.KindPayment, "gateway_payment_id", gatewayPaymentID, limit)
	if err != nil {
		return nil, err
	}
	return unmarshalPayments(rows)
}

// ListPaymentsByCustomer retrieves a customer's payment records, most recent first
func (s *Store) ListPaymentsByCustomer(ctx context.Context, customerID string, limit int) ([]models.PaymentRecord, error) {
	rows, err := s.QueryEquals(ctx, models.KindPayment, "customer_id", customerID, limit)
	if err != nil {
		return nil, err
	}
	return unmarshalPayments(rows)
}

// CreateCustomer stores a new customer record and sets its generated key
func (s *Store) CreateCustomer(ctx context.Context, customer *models.CustomerRecord) error {
	key, err := s.Add(ctx, models.KindCustomer, customer)
	if err != nil {
		return err
	}
	customer.ID = key
	return nil
}

// GetCustomer retrieves a customer record by key
func (s *Store) GetCustomer(ctx context.Context, key string) (*models.CustomerRecord, error) {
	var customer models.CustomerRecord
	if err := s.Get(ctx, models.KindCustomer, key, &customer); err != nil {
		return nil, err
	}
	return &customer, nil
}

// FindCustomerByEmail retrieves the customer with the given email.
// Emails are stored lowercased, so lookups are case-insensitive as long as
// callers normalize the same way.
func (s *Store) FindCustomerByEmail(ctx context.Context, email string) (*models.CustomerRecord, error) {
	rows, err := s.QueryEquals(ctx, models.KindCustomer, "email", email, 1)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}

	var customer models.CustomerRecord
	if err := json.Unmarshal(rows[0], &customer); err != nil {
		return nil, err
	}
	return &customer, nil
}

// UpdateCustomer merges the given fields into a customer record
func (s *Store) UpdateCustomer(ctx context.Context, key string, fields map[string]interface{}) error {
	fields["updated_at"] = time.Now().UTC()
	return s.Update(ctx, models.KindCustomer, key, fields)
}

// DeleteCustomer removes a customer record
func (s *Store) DeleteCustomer(ctx context.Context, key string) error {
	return s.Delete(ctx, models.KindCustomer, key)
}

// GetEvent retrieves a webhook event ledger entry by gateway event ID
func (s *Store) GetEvent(ctx context.Context, eventID string) (*models.WebhookEventRecord, error) {
	var event models.WebhookEventRecord
	if err := s.Get(ctx, models.KindEvent, eventID, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// CreateEventIfAbsent writes a ledger entry keyed by the gateway event ID and
// reports whether this writer won. The event ID acts as the natural dedup
// constraint under at-least-once delivery.
func (s *Store) CreateEventIfAbsent(ctx context.Context, event *models.WebhookEventRecord) (bool, error) {
	return s.PutIfAbsent(ctx, models.KindEvent, event.ID, event)
}

// MarkEventProcessed finalizes a ledger entry with the processing timestamp
func (s *Store) MarkEventProcessed(ctx context.Context, eventID string, processedAt time.Time) error {
	return s.Update(ctx, models.KindEvent, eventID, map[string]interface{}{
		"processed_at": processedAt.UTC(),
	})
}

func unmarshalPayments(rows [][]byte) ([]models.PaymentRecord, error) {
	payments := make([]models.PaymentRecord, 0, len(rows))
	for _, row := range rows {
		var payment models.PaymentRecord
		if err := json.Unmarshal(row, &payment); err != nil {
			return nil, err
		}
		payments = append(payments, payment)
	}
	return payments, nil
}
