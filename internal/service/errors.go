package service

import (
	"errors"
	"fmt"
)

var (
	ErrPaymentNotFound    = errors.New("payment not found")
	ErrCustomerNotFound   = errors.New("customer not found")
	ErrCustomerExists     = errors.New("customer email already registered")
	ErrGatewayLinkMissing = errors.New("payment has no gateway payment id")
)

// ValidationError is a malformed-input error raised before any external call
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func validationErrorf(format string, args ...interface{}) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a client-input validation failure
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
