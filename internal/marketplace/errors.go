package marketplace

import (
	"errors"
	"fmt"
	"math/big"
)

// ErrNoProviderRecord is returned when an account owns no registered record.
var ErrNoProviderRecord = errors.New("account owns no provider record")

// InsufficientPaymentError reports a payment below the quoted requirement.
type InsufficientPaymentError struct {
	Required *big.Int
	Paid     *big.Int
}

func (e *InsufficientPaymentError) Error() string {
	return fmt.Sprintf("insufficient payment: need %s, got %s settlement units", e.Required, e.Paid)
}

// ErrInsufficientPayment allows errors.Is checks without the amounts.
var ErrInsufficientPayment = errors.New("insufficient payment")

func (e *InsufficientPaymentError) Unwrap() error {
	return ErrInsufficientPayment
}

// SessionNotFoundError indicates the requested session doesn't exist
type SessionNotFoundError struct {
	ID string
}

func (e *SessionNotFoundError) Error() string {
	return fmt.Sprintf("session not found: %s", e.ID)
}
