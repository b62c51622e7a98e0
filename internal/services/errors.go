package services

import "errors"

// Failure taxonomy surfaced to transports. A replayed settlement is not in
// this list: duplicates are reported as success through the alreadySettled
// result, never as an error.
var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrValidation      = errors.New("validation failed")
	ErrNotFound        = errors.New("not found")

	// ErrPaymentDeclined means the provider rejected payment creation.
	ErrPaymentDeclined = errors.New("payment declined")

	// ErrProviderUnavailable means the provider state is unknown; the
	// caller should retry through the idempotent settlement path.
	ErrProviderUnavailable = errors.New("payment provider unavailable")

	// ErrNotCompleted means the provider reports the payment as not
	// finished; nothing was settled.
	ErrNotCompleted = errors.New("payment not completed")

	ErrInsufficientBalance = errors.New("insufficient balance")

	ErrInvalidCredentials = errors.New("invalid credentials")
)

// InsufficientBalanceError carries the detail a collaborator UI needs to
// prompt a purchase flow.
type InsufficientBalanceError struct {
	Balance          int64  `json:"balance"`
	Required         int64  `json:"required"`
	Deficit          int64  `json:"deficit"`
	SuggestedPackage string `json:"suggested_package,omitempty"`
}

func (e *InsufficientBalanceError) Error() string { return ErrInsufficientBalance.Error() }

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }
