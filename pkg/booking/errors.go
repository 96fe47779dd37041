package booking

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the booking core.
var (
	ErrCapacityExceeded      = errors.New("not enough seats available")
	ErrInvalidTransition     = errors.New("booking cannot be modified in its current state")
	ErrCancellationDisabled  = errors.New("cancellation is disabled")
	ErrCancellationTooLate   = errors.New("cancellation deadline passed")
	ErrSettlementFailure     = errors.New("settlement failure")
	ErrAlreadySettled        = errors.New("booking already settled")
	ErrPaymentNotVerified    = errors.New("payment not verified")
	ErrCashDisabled          = errors.New("cash payment is disabled")
	ErrRideNotFound          = errors.New("ride not found")
	ErrRideNotPublished      = errors.New("ride not open for booking")
	ErrBookingNotFound       = errors.New("booking not found")
	ErrInvalidRideStatus     = errors.New("invalid ride status")
	ErrInvalidBookingStatus  = errors.New("invalid booking status")
	ErrInvalidPaymentMethod  = errors.New("invalid payment method")
	ErrInvalidCommissionType = errors.New("invalid commission type")
	ErrInvalidMetadataJSON   = errors.New("invalid metadata json")
	ErrInvalidSeatCount      = errors.New("invalid seat count")
	ErrInvalidAmountCents    = errors.New("invalid amount cents")
	ErrInvalidRideID         = errors.New("invalid ride id")
	ErrInvalidBookingID      = errors.New("invalid booking id")
	ErrInvalidActorID        = errors.New("invalid actor id")
	ErrInvalidServiceConfig  = errors.New("invalid service config")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
