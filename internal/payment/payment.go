package payment

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/JonasLeetTheWay/encore/internal/models"
)

var (
	ErrSessionNotFound = errors.New("checkout session not found")
	ErrInvalidWebhook  = errors.New("invalid webhook payload")
)

const (
	MetaRegistrationID = "registration_id"
	MetaEventID        = "event_id"
)

type SessionStatus string

const (
	SessionOpen     SessionStatus = "open"
	SessionComplete SessionStatus = "complete"
	SessionExpired  SessionStatus = "expired"
)

type PaymentStatus string

const (
	PaymentPaid   PaymentStatus = "paid"
	PaymentUnpaid PaymentStatus = "unpaid"
)

type CheckoutRequest struct {
	Amount            models.Money
	Currency          string
	Name              string
	Description       string
	CustomerEmail     string
	SuccessURL        string
	CancelURL         string
	ClientReferenceID string
	Metadata          map[string]string
	// Zero means the provider default.
	ExpiresAt time.Time
}

type Session struct {
	ID                string
	URL               string
	Status            SessionStatus
	PaymentStatus     PaymentStatus
	AmountTotal       models.Money
	Currency          string
	PaymentIntentID   string
	CustomerEmail     string
	ClientReferenceID string
	Metadata          map[string]string
	ExpiresAt         time.Time
}

func (s *Session) Paid() bool {
	return s.PaymentStatus == PaymentPaid
}

// RegistrationID reads the registration id from metadata, falling back to
// the client reference id.
func (s *Session) RegistrationID() (uint, bool) {
	for _, raw := range []string{s.Metadata[MetaRegistrationID], s.ClientReferenceID} {
		if raw == "" {
			continue
		}
		id, err := strconv.ParseUint(raw, 10, 64)
		if err == nil && id > 0 {
			return uint(id), true
		}
	}
	return 0, false
}

// Provider opens and reads hosted checkout sessions.
type Provider interface {
	CreateCheckoutSession(ctx context.Context, req *CheckoutRequest) (*Session, error)
	GetCheckoutSession(ctx context.Context, sessionID string) (*Session, error)
	ExpireCheckoutSession(ctx context.Context, sessionID string) error
}

const (
	EventSessionCompleted      = "checkout.session.completed"
	EventAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
	EventChargeRefunded        = "charge.refunded"
)

type WebhookEvent struct {
	Type      string
	SessionID string
	// Set for charge events.
	PaymentIntentID string
	FullyRefunded   bool
}

// Completes reports whether the event means the customer has paid.
func (e *WebhookEvent) Completes() bool {
	return e.Type == EventSessionCompleted || e.Type == EventAsyncPaymentSucceeded
}

// Refunds reports whether the event means the whole charge was returned.
// Partial refunds leave the ticket valid.
func (e *WebhookEvent) Refunds() bool {
	return e.Type == EventChargeRefunded && e.FullyRefunded && e.PaymentIntentID != ""
}

type WebhookParser interface {
	ParseWebhook(payload []byte, signature string) (*WebhookEvent, error)
}
