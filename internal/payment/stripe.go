package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/JonasLeetTheWay/encore/internal/models"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

// Stripe only accepts session expiry between 30 minutes and 24 hours out.
const (
	minSessionLifetime = 30 * time.Minute
	maxSessionLifetime = 24 * time.Hour
)

type StripeClient struct {
	api           *client.API
	webhookSecret string
	now           func() time.Time
}

func NewStripeClient(secretKey, webhookSecret string) *StripeClient {
	return &StripeClient{
		api:           client.New(secretKey, nil),
		webhookSecret: webhookSecret,
		now:           time.Now,
	}
}

func (c *StripeClient) CreateCheckoutSession(ctx context.Context, req *CheckoutRequest) (*Session, error) {
	product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
		Name: stripe.String(req.Name),
	}
	if req.Description != "" {
		product.Description = stripe.String(req.Description)
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:    stripe.String(strings.ToLower(req.Currency)),
					ProductData: product,
					UnitAmount:  stripe.Int64(int64(req.Amount)),
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	if req.ClientReferenceID != "" {
		params.ClientReferenceID = stripe.String(req.ClientReferenceID)
	}
	if exp, ok := c.clampExpiry(req.ExpiresAt); ok {
		params.ExpiresAt = stripe.Int64(exp.Unix())
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx

	s, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}
	return fromStripe(s), nil
}

func (c *StripeClient) GetCheckoutSession(ctx context.Context, sessionID string) (*Session, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	s, err := c.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == http.StatusNotFound {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to fetch checkout session: %w", err)
	}
	return fromStripe(s), nil
}

func (c *StripeClient) ExpireCheckoutSession(ctx context.Context, sessionID string) error {
	params := &stripe.CheckoutSessionExpireParams{}
	params.Context = ctx

	if _, err := c.api.CheckoutSessions.Expire(sessionID, params); err != nil {
		return fmt.Errorf("failed to expire checkout session: %w", err)
	}
	return nil
}

func (c *StripeClient) ParseWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, c.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}

	out := &WebhookEvent{Type: string(event.Type)}
	switch {
	case strings.HasPrefix(out.Type, "checkout.session."):
		var s stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &s); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
		}
		out.SessionID = s.ID
	case out.Type == EventChargeRefunded:
		var ch stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &ch); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
		}
		if ch.PaymentIntent != nil {
			out.PaymentIntentID = ch.PaymentIntent.ID
		}
		out.FullyRefunded = ch.Refunded
	}
	return out, nil
}

func (c *StripeClient) clampExpiry(at time.Time) (time.Time, bool) {
	if at.IsZero() {
		return at, false
	}
	now := c.now()
	if at.Before(now.Add(minSessionLifetime)) {
		return now.Add(minSessionLifetime), true
	}
	if at.After(now.Add(maxSessionLifetime)) {
		return now.Add(maxSessionLifetime), true
	}
	return at, true
}

func fromStripe(s *stripe.CheckoutSession) *Session {
	out := &Session{
		ID:                s.ID,
		URL:               s.URL,
		Status:            SessionStatus(s.Status),
		PaymentStatus:     PaymentStatus(s.PaymentStatus),
		AmountTotal:       models.Money(s.AmountTotal),
		Currency:          string(s.Currency),
		CustomerEmail:     s.CustomerEmail,
		ClientReferenceID: s.ClientReferenceID,
		Metadata:          s.Metadata,
	}
	if s.PaymentIntent != nil {
		out.PaymentIntentID = s.PaymentIntent.ID
	}
	if s.ExpiresAt > 0 {
		out.ExpiresAt = time.Unix(s.ExpiresAt, 0)
	}
	return out
}
