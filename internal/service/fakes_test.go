package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"payment-service/internal/gateway"
	"payment-service/internal/models"
	"payment-service/internal/store"

	"github.com/google/uuid"
)

// fakeStore is an in-memory stand-in for the document store, implementing
// PaymentStore, CustomerStore and EventLedger.
type fakeStore struct {
	mu        sync.Mutex
	payments  map[string]models.PaymentRecord
	customers map[string]models.CustomerRecord
	events    map[string]models.WebhookEventRecord
	order     []string // payment keys in insertion order

	statusUpdates    int
	updateStatusErr  error
	markProcessedErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		payments:  make(map[string]models.PaymentRecord),
		customers: make(map[string]models.CustomerRecord),
		events:    make(map[string]models.WebhookEventRecord),
	}
}

func (f *fakeStore) CreatePayment(_ context.Context, payment *models.PaymentRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	payment.ID = uuid.New().String()
	f.payments[payment.ID] = *payment
	f.order = append(f.order, payment.ID)
	return nil
}

func (f *fakeStore) GetPayment(_ context.Context, key string) (*models.PaymentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	payment, ok := f.payments[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &payment, nil
}

func (f *fakeStore) UpdatePaymentStatus(_ context.Context, key, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateStatusErr != nil {
		return f.updateStatusErr
	}
	payment, ok := f.payments[key]
	if !ok {
		return store.ErrNotFound
	}
	payment.Status = status
	payment.UpdatedAt = time.Now().UTC()
	f.payments[key] = payment
	f.statusUpdates++
	return nil
}

func (f *fakeStore) FindPaymentsByGatewayID(_ context.Context, gatewayPaymentID string, limit int) ([]models.PaymentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var matches []models.PaymentRecord
	for i := len(f.order) - 1; i >= 0 && len(matches) < limit; i-- {
		payment := f.payments[f.order[i]]
		if payment.GatewayPaymentID == gatewayPaymentID {
			matches = append(matches, payment)
		}
	}
	return matches, nil
}

func (f *fakeStore) ListPaymentsByCustomer(_ context.Context, customerID string, limit int) ([]models.PaymentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var matches []models.PaymentRecord
	for i := len(f.order) - 1; i >= 0 && len(matches) < limit; i-- {
		payment := f.payments[f.order[i]]
		if payment.CustomerID == customerID {
			matches = append(matches, payment)
		}
	}
	return matches, nil
}

func (f *fakeStore) CreateCustomer(_ context.Context, customer *models.CustomerRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	customer.ID = uuid.New().String()
	f.customers[customer.ID] = *customer
	return nil
}

func (f *fakeStore) GetCustomer(_ context.Context, key string) (*models.CustomerRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	customer, ok := f.customers[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &customer, nil
}

func (f *fakeStore) FindCustomerByEmail(_ context.Context, email string) (*models.CustomerRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, customer := range f.customers {
		if customer.Email == email {
			c := customer
			return &c, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) UpdateCustomer(_ context.Context, key string, fields map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	customer, ok := f.customers[key]
	if !ok {
		return store.ErrNotFound
	}
	if name, ok := fields["name"].(string); ok {
		customer.Name = name
	}
	if phone, ok := fields["phone"].(string); ok {
		customer.Phone = phone
	}
	customer.UpdatedAt = time.Now().UTC()
	f.customers[key] = customer
	return nil
}

func (f *fakeStore) DeleteCustomer(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.customers[key]; !ok {
		return store.ErrNotFound
	}
	delete(f.customers, key)
	return nil
}

func (f *fakeStore) GetEvent(_ context.Context, eventID string) (*models.WebhookEventRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	event, ok := f.events[eventID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &event, nil
}

func (f *fakeStore) CreateEventIfAbsent(_ context.Context, event *models.WebhookEventRecord) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.events[event.ID]; ok {
		return false, nil
	}
	f.events[event.ID] = *event
	return true, nil
}

func (f *fakeStore) MarkEventProcessed(_ context.Context, eventID string, processedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markProcessedErr != nil {
		return f.markProcessedErr
	}
	event, ok := f.events[eventID]
	if !ok {
		return store.ErrNotFound
	}
	t := processedAt
	event.ProcessedAt = &t
	f.events[eventID] = event
	return nil
}

// seedPayment inserts a payment record directly, bypassing the gateway
func (f *fakeStore) seedPayment(payment models.PaymentRecord) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if payment.ID == "" {
		payment.ID = uuid.New().String()
	}
	f.payments[payment.ID] = payment
	f.order = append(f.order, payment.ID)
	return payment.ID
}

// fakeGateway is an in-memory PaymentGateway
type fakeGateway struct {
	mu            sync.Mutex
	createCalls   int
	confirmCalls  int
	cancelCalls   int
	customerCalls int

	confirmStatus string
	cancelStatus  string
	createErr     error
	confirmErr    error
	cancelErr     error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		confirmStatus: "succeeded",
		cancelStatus:  "canceled",
	}
}

func (g *fakeGateway) CreateIntent(_ context.Context, _ gateway.CreateIntentRequest) (*gateway.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createCalls++
	if g.createErr != nil {
		return nil, g.createErr
	}
	return &gateway.Intent{
		ID:     fmt.Sprintf("pi_test_%d", g.createCalls),
		Status: "requires_payment_method",
	}, nil
}

func (g *fakeGateway) ConfirmIntent(_ context.Context, _, _ string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.confirmCalls++
	if g.confirmErr != nil {
		return "", g.confirmErr
	}
	return g.confirmStatus, nil
}

func (g *fakeGateway) CancelIntent(_ context.Context, _ string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelCalls++
	if g.cancelErr != nil {
		return "", g.cancelErr
	}
	return g.cancelStatus, nil
}

func (g *fakeGateway) CreateCustomer(_ context.Context, _, _, _ string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.customerCalls++
	return fmt.Sprintf("cus_test_%d", g.customerCalls), nil
}

func (g *fakeGateway) DeleteCustomer(_ context.Context, _ string) error {
	return nil
}

// stubVerifier decodes the payload as an event without checking signatures,
// unless err is set. Signature semantics are covered by the gateway tests.
type stubVerifier struct {
	err error
}

func (v *stubVerifier) VerifyEvent(payload []byte, _ string) (*gateway.Event, error) {
	if v.err != nil {
		return nil, v.err
	}
	var raw struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			Object json.RawMessage `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", gateway.ErrMalformedPayload, err)
	}
	return &gateway.Event{
		ID:     raw.ID,
		Type:   raw.Type,
		Object: raw.Data.Object,
		Raw:    payload,
	}, nil
}

// fakeCache is an in-memory DedupCache
type fakeCache struct {
	mu   sync.Mutex
	seen map[string]bool
	hits int
}

func newFakeCache() *fakeCache {
	return &fakeCache{seen: make(map[string]bool)}
}

func (c *fakeCache) IsEventProcessed(_ context.Context, eventID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seen[eventID] {
		c.hits++
		return true, nil
	}
	return false, nil
}

func (c *fakeCache) MarkEventProcessed(_ context.Context, eventID string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen[eventID] = true
	return nil
}
