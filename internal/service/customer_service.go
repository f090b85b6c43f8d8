package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"payment-service/internal/models"
	"payment-service/internal/store"
	"payment-service/internal/util"

	"go.uber.org/zap"
)

// CustomerService manages customer records and their gateway counterparts
type CustomerService struct {
	store   CustomerStore
	gateway PaymentGateway
	logger  *zap.Logger
}

// NewCustomerService creates a new customer service
func NewCustomerService(customerStore CustomerStore, gw PaymentGateway) *CustomerService {
	return &CustomerService{
		store:   customerStore,
		gateway: gw,
		logger:  util.GetLogger(),
	}
}

// CreateCustomerRequest represents a request to create a customer
type CreateCustomerRequest struct {
	Email string `json:"email" binding:"required,email"`
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// UpdateCustomerRequest carries the fields a customer update may change
type UpdateCustomerRequest struct {
	Name  *string `json:"name,omitempty"`
	Phone *string `json:"phone,omitempty"`
}

// CreateCustomer creates the customer on the gateway and mirrors it locally.
// Email uniqueness is enforced here by query-before-create; the store itself
// has no unique constraint on document fields.
func (s *CustomerService) CreateCustomer(ctx context.Context, req *CreateCustomerRequest) (*models.CustomerRecord, error) {
	ctx, span := util.StartSpan(ctx, "CustomerService.CreateCustomer")
	defer span.End()

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		return nil, validationErrorf("email is required")
	}

	existing, err := s.store.FindCustomerByEmail(ctx, email)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		return nil, ErrCustomerExists
	}

	gatewayCustomerID, err := s.gateway.CreateCustomer(ctx, email, req.Name, req.Phone)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	customer := &models.CustomerRecord{
		Email:             email,
		Name:              req.Name,
		Phone:             req.Phone,
		GatewayCustomerID: gatewayCustomerID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.store.CreateCustomer(ctx, customer); err != nil {
		return nil, err
	}

	s.logger.Info("Customer created",
		zap.String("customer_id", customer.ID),
		zap.String("gateway_customer_id", gatewayCustomerID))

	return customer, nil
}

// GetCustomer retrieves a customer record by key
func (s *CustomerService) GetCustomer(ctx context.Context, key string) (*models.CustomerRecord, error) {
	customer, err := s.store.GetCustomer(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrCustomerNotFound
	}
	if err != nil {
		return nil, err
	}
	return customer, nil
}

// GetCustomerByEmail retrieves a customer by email, case-insensitively
func (s *CustomerService) GetCustomerByEmail(ctx context.Context, email string) (*models.CustomerRecord, error) {
	customer, err := s.store.FindCustomerByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrCustomerNotFound
	}
	if err != nil {
		return nil, err
	}
	return customer, nil
}

// UpdateCustomer merges the given fields into a customer record
func (s *CustomerService) UpdateCustomer(ctx context.Context, key string, req *UpdateCustomerRequest) (*models.CustomerRecord, error) {
	fields := make(map[string]interface{})
	if req.Name != nil {
		fields["name"] = *req.Name
	}
	if req.Phone != nil {
		fields["phone"] = *req.Phone
	}
	if len(fields) == 0 {
		return nil, validationErrorf("no updatable fields provided")
	}

	err := s.store.UpdateCustomer(ctx, key, fields)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrCustomerNotFound
	}
	if err != nil {
		return nil, err
	}

	return s.GetCustomer(ctx, key)
}

// DeleteCustomer removes the customer locally and on the gateway
func (s *CustomerService) DeleteCustomer(ctx context.Context, key string) error {
	customer, err := s.GetCustomer(ctx, key)
	if err != nil {
		return err
	}

	if customer.GatewayCustomerID != "" {
		if err := s.gateway.DeleteCustomer(ctx, customer.GatewayCustomerID); err != nil {
			return err
		}
	}

	err = s.store.DeleteCustomer(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return ErrCustomerNotFound
	}
	return err
}
