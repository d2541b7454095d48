package registration

import (
	"errors"
	"fmt"
	"strings"

	"github.com/JonasLeetTheWay/encore/internal/ticketcode"
)

var (
	ErrValidation              = errors.New("validation failed")
	ErrNotFound                = errors.New("not found")
	ErrSoldOut                 = errors.New("event is sold out")
	ErrDuplicateRegistration   = errors.New("already registered for this event")
	ErrInvalidPrice            = errors.New("event has no valid price")
	ErrCodeGenerationExhausted = ticketcode.ErrExhausted
	ErrPaymentProvider         = errors.New("payment provider error")
	ErrPaymentNotCompleted     = errors.New("payment not completed")
	ErrInvalidTransition       = errors.New("invalid status transition")
	ErrCheckoutInProgress      = errors.New("checkout already in progress")

	// returned by the store when an insert loses the ticket code race
	errTicketCodeTaken = errors.New("ticket code taken")
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+" "+f.Message)
	}
	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(parts, "; "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func fieldError(field, msg string) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Field: field, Message: msg}}}
}

// PaymentProviderError is a checkout failure the user can retry. The
// registration it belongs to stays pending.
type PaymentProviderError struct {
	RegistrationID uint
	Err            error
}

func (e *PaymentProviderError) Error() string {
	return fmt.Sprintf("%s for registration %d: %v", ErrPaymentProvider, e.RegistrationID, e.Err)
}

func (e *PaymentProviderError) Unwrap() error { return e.Err }

func (e *PaymentProviderError) Is(target error) bool {
	return target == ErrPaymentProvider
}

type PaymentNotCompletedError struct {
	RegistrationID uint
	SessionStatus  string
}

func (e *PaymentNotCompletedError) Error() string {
	return fmt.Sprintf("%s for registration %d (session %s)", ErrPaymentNotCompleted, e.RegistrationID, e.SessionStatus)
}

func (e *PaymentNotCompletedError) Is(target error) bool {
	return target == ErrPaymentNotCompleted
}

// RegistrationIDOf extracts the registration id carried by err, if any.
func RegistrationIDOf(err error) (uint, bool) {
	var ppe *PaymentProviderError
	if errors.As(err, &ppe) {
		return ppe.RegistrationID, true
	}
	var pnc *PaymentNotCompletedError
	if errors.As(err, &pnc) {
		return pnc.RegistrationID, true
	}
	return 0, false
}
