package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/JonasLeetTheWay/encore/internal/models"

	"github.com/google/uuid"
)

// MockStripeClient keeps checkout sessions in memory. The customer "pays"
// when Complete is called; with probability 1-successRate the payment fails
// and the session stays unpaid.
type MockStripeClient struct {
	mu          sync.Mutex
	sessions    map[string]*Session
	baseURL     string
	successRate float64
	roll        func() float64
	createErr   error
	creates     int
}

func NewMockStripeClient(baseURL string, successRate float64) *MockStripeClient {
	return &MockStripeClient{
		sessions:    make(map[string]*Session),
		baseURL:     strings.TrimRight(baseURL, "/"),
		successRate: successRate,
		roll:        rand.Float64,
	}
}

// FailCreate makes every CreateCheckoutSession return err until reset with nil.
func (c *MockStripeClient) FailCreate(err error) {
	c.mu.Lock()
	c.createErr = err
	c.mu.Unlock()
}

// Creates returns how many sessions were requested, failed ones included.
func (c *MockStripeClient) Creates() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creates
}

func (c *MockStripeClient) CreateCheckoutSession(ctx context.Context, req *CheckoutRequest) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.creates++
	if c.createErr != nil {
		return nil, c.createErr
	}
	if req.Amount <= 0 {
		return nil, errors.New("mock stripe: amount must be positive")
	}

	id := "cs_mock_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	meta := make(map[string]string, len(req.Metadata))
	for k, v := range req.Metadata {
		meta[k] = v
	}

	s := &Session{
		ID:                id,
		URL:               fmt.Sprintf("%s/mock-checkout/%s", c.baseURL, id),
		Status:            SessionOpen,
		PaymentStatus:     PaymentUnpaid,
		AmountTotal:       req.Amount,
		Currency:          req.Currency,
		CustomerEmail:     req.CustomerEmail,
		ClientReferenceID: req.ClientReferenceID,
		Metadata:          meta,
		ExpiresAt:         req.ExpiresAt,
	}
	c.sessions[id] = s

	cp := *s
	return &cp, nil
}

func (c *MockStripeClient) GetCheckoutSession(ctx context.Context, sessionID string) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if s.Status == SessionOpen && !s.ExpiresAt.IsZero() && time.Now().After(s.ExpiresAt) {
		s.Status = SessionExpired
	}
	cp := *s
	return &cp, nil
}

func (c *MockStripeClient) ExpireCheckoutSession(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if s.Status == SessionOpen {
		s.Status = SessionExpired
	}
	return nil
}

// Complete simulates the customer finishing the hosted checkout page.
func (c *MockStripeClient) Complete(sessionID string) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if s.Status != SessionOpen {
		cp := *s
		return &cp, nil
	}

	if c.roll() < c.successRate {
		s.Status = SessionComplete
		s.PaymentStatus = PaymentPaid
		s.PaymentIntentID = "pi_mock_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	cp := *s
	return &cp, nil
}

// SetCapturedAmount overrides what the provider reports as paid.
func (c *MockStripeClient) SetCapturedAmount(sessionID string, amount models.Money) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.sessions[sessionID]; ok {
		s.AmountTotal = amount
	}
}

// ParseWebhook accepts unsigned Stripe-shaped event JSON.
func (c *MockStripeClient) ParseWebhook(payload []byte, _ string) (*WebhookEvent, error) {
	var body struct {
		Type string `json:"type"`
		Data struct {
			Object struct {
				ID            string `json:"id"`
				PaymentIntent string `json:"payment_intent"`
				Refunded      bool   `json:"refunded"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &body); err != nil || body.Type == "" {
		return nil, ErrInvalidWebhook
	}

	ev := &WebhookEvent{Type: body.Type}
	if body.Type == EventChargeRefunded {
		ev.PaymentIntentID = body.Data.Object.PaymentIntent
		ev.FullyRefunded = body.Data.Object.Refunded
	} else {
		ev.SessionID = body.Data.Object.ID
	}
	return ev, nil
}
