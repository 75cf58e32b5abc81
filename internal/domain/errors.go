package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation           = errors.New("validation failed")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrPaymentDeclined      = errors.New("payment declined")
	ErrGatewayUnavailable   = errors.New("payment gateway unavailable")
	ErrInvoiceNotFound      = errors.New("invoice not found")
	ErrIntentNotFound       = errors.New("payment intent not found")
	ErrDuplicateNumber      = errors.New("invoice number already in use")
	ErrAmountMismatch       = errors.New("payment amount does not match invoice total")
	ErrConfirmationRequired = errors.New("deletion requires explicit confirmation")
)

// ValidationError reports a rejected field
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// InvalidTransitionError is returned when a trigger is not legal from the current status
type InvalidTransitionError struct {
	From    InvoiceStatus
	Trigger Trigger
}

func (e *InvalidTransitionError) Error() string {
	from := string(e.From)
	if from == "" {
		from = "new"
	}
	return fmt.Sprintf("cannot %s a %s invoice", e.Trigger, from)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// PaymentDeclinedError carries the processor's decline reason
type PaymentDeclinedError struct {
	Reason string
}

func (e *PaymentDeclinedError) Error() string {
	if e.Reason == "" {
		return ErrPaymentDeclined.Error()
	}
	return fmt.Sprintf("%s: %s", ErrPaymentDeclined, e.Reason)
}

func (e *PaymentDeclinedError) Is(target error) bool {
	return target == ErrPaymentDeclined
}

// Unavailable wraps a transient gateway failure
func Unavailable(cause error) error {
	if cause == nil {
		return ErrGatewayUnavailable
	}
	return fmt.Errorf("%w: %v", ErrGatewayUnavailable, cause)
}
