package registration

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"time"

	"github.com/JonasLeetTheWay/encore/internal/lib/logger/sl"
	"github.com/JonasLeetTheWay/encore/internal/models"
	"github.com/JonasLeetTheWay/encore/internal/payment"

	"github.com/gin-gonic/gin"
)

const maxWebhookBody = 64 << 10

type Handler struct {
	log      *slog.Logger
	svc      *Service
	webhooks payment.WebhookParser
	// non-nil only when running against the mock provider
	mock *payment.MockStripeClient
}

func NewHandler(log *slog.Logger, svc *Service, webhooks payment.WebhookParser, mock *payment.MockStripeClient) *Handler {
	return &Handler{log: log, svc: svc, webhooks: webhooks, mock: mock}
}

func (h *Handler) SetupRoutes(r gin.IRouter, admin gin.IRouter) {
	r.POST("/registrations", h.Create)
	r.GET("/registrations/success", h.Success)
	r.POST("/registrations/:id/checkout", h.RetryCheckout)
	r.POST("/webhooks/stripe", h.StripeWebhook)

	if h.mock != nil {
		r.POST("/mock-checkout/:sessionId/complete", h.CompleteMockCheckout)
	}

	admin.GET("/events/:id/registrations", h.List)
	admin.POST("/registrations/:id/cancel", h.Cancel)
	admin.POST("/registrations/:id/refund", h.Refund)
	admin.POST("/registrations/expire", h.Expire)
}

type registrationResponse struct {
	RegistrationID uint                      `json:"registrationId"`
	EventID        uint                      `json:"eventId"`
	Name           string                    `json:"name,omitempty"`
	Email          string                    `json:"email,omitempty"`
	Status         models.RegistrationStatus `json:"status"`
	TicketCode     *string                   `json:"ticketCode,omitempty"`
	AmountPaid     models.Money              `json:"amountPaid"`
	Currency       string                    `json:"currency"`
	CheckoutURL    string                    `json:"checkoutUrl,omitempty"`
	CreatedAt      time.Time                 `json:"createdAt"`
	CompletedAt    *time.Time                `json:"completedAt,omitempty"`
}

type eventSummary struct {
	ID       uint      `json:"id"`
	Title    string    `json:"title"`
	Slug     string    `json:"slug"`
	StartsAt time.Time `json:"startsAt"`
	Venue    string    `json:"venue"`
	Location string    `json:"location"`
	models.EventStats
}

func toRegistrationResponse(reg *models.Registration) registrationResponse {
	resp := registrationResponse{
		RegistrationID: reg.ID,
		EventID:        reg.EventID,
		Name:           reg.Name,
		Email:          reg.Email,
		Status:         reg.Status,
		AmountPaid:     reg.AmountPaid,
		Currency:       reg.Currency,
		CreatedAt:      reg.CreatedAt,
		CompletedAt:    reg.CompletedAt,
	}
	// A pending ticket is not valid at the door yet.
	if reg.Status == models.StatusCompleted {
		resp.TicketCode = reg.TicketCode
	}
	return resp
}

// toResultResponse hides attendee details unless the caller proved it owns
// the checkout session.
func toResultResponse(res *Result) gin.H {
	reg := toRegistrationResponse(res.Registration)
	reg.CheckoutURL = res.CheckoutURL
	if !res.SessionVerified {
		reg.Name, reg.Email, reg.TicketCode = "", "", nil
	}
	return gin.H{
		"registration": reg,
		"event": eventSummary{
			ID:         res.Event.ID,
			Title:      res.Event.Title,
			Slug:       res.Event.Slug,
			StartsAt:   res.Event.StartsAt,
			Venue:      res.Event.Venue,
			Location:   res.Event.Location,
			EventStats: res.Stats,
		},
	}
}

func (h *Handler) Create(c *gin.Context) {
	var req RegisterInput
	if err := c.ShouldBindJSON(&req); err != nil {
		h.handleError(c, decodeError(err))
		return
	}

	res, err := h.svc.Register(c.Request.Context(), req)
	if err != nil {
		h.handleError(c, err)
		return
	}

	reg := toRegistrationResponse(res.Registration)
	reg.CheckoutURL = res.CheckoutURL
	c.JSON(http.StatusCreated, reg)
}

func (h *Handler) Success(c *gin.Context) {
	sessionID := c.Query("session_id")

	var registrationID uint
	if raw := c.Query("registration_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid registration ID",
			})
			return
		}
		registrationID = uint(id)
	}

	res, err := h.svc.ConfirmPayment(c.Request.Context(), sessionID, registrationID)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, toResultResponse(res))
}

func (h *Handler) RetryCheckout(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	res, err := h.svc.RetryCheckout(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err)
		return
	}
	// Reached by registration id alone.
	res.SessionVerified = false

	c.JSON(http.StatusOK, toResultResponse(res))
}

func (h *Handler) StripeWebhook(c *gin.Context) {
	log := h.log.With(slog.String("op", "registration.StripeWebhook"))

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read body"})
		return
	}

	event, err := h.webhooks.ParseWebhook(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		log.Warn("rejected webhook", sl.Err(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid webhook"})
		return
	}

	var ref slog.Attr
	switch {
	case event.Completes() && event.SessionID != "":
		ref = slog.String("session_id", event.SessionID)
		_, err = h.svc.ConfirmPayment(c.Request.Context(), event.SessionID, 0)
	case event.Refunds():
		ref = slog.String("payment_intent", event.PaymentIntentID)
		_, err = h.svc.RecordRefund(c.Request.Context(), event.PaymentIntentID)
	default:
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	switch {
	case err == nil:
	case errors.Is(err, ErrPaymentNotCompleted), errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalidTransition):
		// Nothing a provider retry would change.
		log.Warn("webhook not applied", slog.String("type", event.Type), ref, sl.Err(err))
	default:
		log.Error("webhook processing failed", slog.String("type", event.Type), ref, sl.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process webhook"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

// CompleteMockCheckout stands in for the hosted payment page.
func (h *Handler) CompleteMockCheckout(c *gin.Context) {
	sess, err := h.mock.Complete(c.Param("sessionId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Checkout session not found"})
		return
	}

	var registrationID uint
	if id, ok := sess.RegistrationID(); ok {
		registrationID = id
	}

	res, err := h.svc.ConfirmPayment(c.Request.Context(), sess.ID, registrationID)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, toResultResponse(res))
}

func (h *Handler) List(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	status := models.RegistrationStatus(c.Query("status"))
	regs, err := h.svc.ListRegistrations(c.Request.Context(), id, status)
	if err != nil {
		h.handleError(c, err)
		return
	}

	out := make([]registrationResponse, 0, len(regs))
	for i := range regs {
		r := toRegistrationResponse(&regs[i])
		r.TicketCode = regs[i].TicketCode
		out = append(out, r)
	}
	c.JSON(http.StatusOK, gin.H{"registrations": out, "count": len(out)})
}

func (h *Handler) Cancel(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	reg, err := h.svc.Cancel(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, toRegistrationResponse(reg))
}

func (h *Handler) Refund(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	reg, err := h.svc.MarkRefunded(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, toRegistrationResponse(reg))
}

func (h *Handler) Expire(c *gin.Context) {
	n, err := h.svc.ExpireStale(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"expired": n})
}

// decodeError turns a request body that does not fit RegisterInput into a
// field-level validation error.
func decodeError(err error) error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return fieldError(typeErr.Field, fmt.Sprintf("must be a %s", jsonKind(typeErr.Type.Kind())))
	}
	return fieldError("body", "must be a valid JSON object")
}

func jsonKind(k reflect.Kind) string {
	switch {
	case k == reflect.String:
		return "string"
	case k == reflect.Bool:
		return "boolean"
	case k >= reflect.Int && k <= reflect.Float64:
		return "number"
	default:
		return "valid value"
	}
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid ID",
		})
		return 0, false
	}
	return uint(id), true
}

func (h *Handler) handleError(c *gin.Context, err error) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "Validation failed",
			"fields": verr.Fields,
		})
		return
	}

	body := gin.H{}
	if id, ok := RegistrationIDOf(err); ok {
		body["registrationId"] = id
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrNotFound):
		status, body["error"] = http.StatusNotFound, "Not found"
	case errors.Is(err, ErrSoldOut):
		status, body["error"] = http.StatusConflict, "Event is sold out"
	case errors.Is(err, ErrDuplicateRegistration):
		status, body["error"] = http.StatusConflict, "You are already registered for this event"
	case errors.Is(err, ErrInvalidTransition):
		status, body["error"] = http.StatusConflict, "Registration can no longer be changed"
	case errors.Is(err, ErrCheckoutInProgress):
		status, body["error"] = http.StatusConflict, "Checkout already in progress, please wait"
	case errors.Is(err, ErrInvalidPrice):
		status, body["error"] = http.StatusUnprocessableEntity, "Event is not available for purchase"
	case errors.Is(err, ErrPaymentProvider):
		status, body["error"] = http.StatusBadGateway, "Payment provider unavailable, please try again"
	case errors.Is(err, ErrPaymentNotCompleted):
		status, body["error"] = http.StatusPaymentRequired, "We couldn't confirm your payment, please contact support"
	case errors.Is(err, ErrCodeGenerationExhausted):
		h.log.Error("registration aborted", sl.Err(err), slog.Bool("alert", true))
		body["error"] = "Failed to issue ticket"
	default:
		h.log.Error("request failed", slog.String("path", c.FullPath()), sl.Err(err))
		body["error"] = "Internal server error"
	}

	c.JSON(status, body)
}
