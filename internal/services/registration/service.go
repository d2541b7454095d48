package registration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/JonasLeetTheWay/encore/internal/config"
	"github.com/JonasLeetTheWay/encore/internal/lib/logger/sl"
	"github.com/JonasLeetTheWay/encore/internal/mailer"
	"github.com/JonasLeetTheWay/encore/internal/models"
	"github.com/JonasLeetTheWay/encore/internal/payment"
	"github.com/JonasLeetTheWay/encore/internal/redis"
	"github.com/JonasLeetTheWay/encore/internal/ticketcode"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Inserts that lose the ticket code race are retried with a fresh code.
const maxInsertAttempts = 3

// Locker is satisfied by *redis.Client.
type Locker interface {
	LockRegistration(ctx context.Context, eventID uint, email, owner string) error
	UnlockRegistration(ctx context.Context, eventID uint, email, owner string) error
	LockCheckout(ctx context.Context, registrationID uint, owner string) error
	UnlockCheckout(ctx context.Context, registrationID uint, owner string) error
}

type RegisterInput struct {
	EventID uint   `json:"eventId" validate:"required"`
	Name    string `json:"name" validate:"required,max=200"`
	Email   string `json:"email" validate:"required,email,max=254"`
}

type Result struct {
	Registration *models.Registration
	Event        *models.Event
	Stats        models.EventStats
	// Set only when the caller must be sent to the payment provider.
	CheckoutURL string
	// SessionVerified is true when the caller presented the checkout session
	// of this registration. Attendee details are only shown to such callers.
	SessionVerified bool
}

type Service struct {
	log        *slog.Logger
	store      Store
	payments   payment.Provider
	mailer     mailer.Dispatcher
	locker     Locker
	codes      *ticketcode.Generator
	validate   *validator.Validate
	baseURL    string
	currency   string
	pendingTTL time.Duration
	now        func() time.Time

	// outstanding confirmation emails
	wg sync.WaitGroup
}

// NewService wires the registration flow. locker may be nil, in which case
// only the store constraints guard concurrent requests.
func NewService(log *slog.Logger, store Store, payments payment.Provider, mail mailer.Dispatcher, locker Locker, cfg *config.Config) *Service {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Service{
		log:        log.With(slog.String("component", "registration")),
		store:      store,
		payments:   payments,
		mailer:     mail,
		locker:     locker,
		codes:      ticketcode.New(),
		validate:   v,
		baseURL:    strings.TrimRight(cfg.PublicBaseURL, "/"),
		currency:   cfg.Currency,
		pendingTTL: cfg.PendingTTL,
		now:        time.Now,
	}
}

// Register admits one attendee. Free events complete immediately; paid
// events return a pending registration and a checkout URL.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Result, error) {
	const op = "registration.Register"

	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := s.validateInput(in); err != nil {
		return nil, err
	}

	event, err := s.store.GetEvent(ctx, in.EventID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !event.Published {
		return nil, fmt.Errorf("%s: event %d is not published: %w", op, event.ID, ErrNotFound)
	}
	if event.RegistrationMethod != models.RegistrationNative {
		return nil, fieldError("eventId", "event does not take registrations on this site")
	}

	active, err := s.store.CountActive(ctx, event.ID)
	if err != nil {
		return nil, fmt.Errorf("%s: count registrations: %w", op, err)
	}
	if models.ComputeStats(event.MaxAttendees, active).IsSoldOut {
		return nil, ErrSoldOut
	}

	dup, err := s.store.HasActiveRegistration(ctx, event.ID, in.Email)
	if err != nil {
		return nil, fmt.Errorf("%s: check duplicate: %w", op, err)
	}
	if dup {
		return nil, ErrDuplicateRegistration
	}

	var amount models.Money
	if !event.IsFree {
		if event.Price == nil || *event.Price <= 0 {
			return nil, ErrInvalidPrice
		}
		amount = *event.Price
	}

	release, err := s.lockRegistration(ctx, event.ID, in.Email)
	if err != nil {
		return nil, err
	}
	defer release()

	reg, err := s.insert(ctx, event, in, amount)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	log := s.log.With(slog.Uint64("registration_id", uint64(reg.ID)), slog.Uint64("event_id", uint64(event.ID)))

	if event.IsFree {
		log.Info("free registration completed")
		s.sendConfirmation(ctx, reg, event, mailer.TemplateRegistrationConfirmed)
		return s.result(ctx, reg, event)
	}

	checkoutURL, err := s.openCheckout(ctx, reg, event)
	if err != nil {
		log.Error("failed to open checkout", sl.Err(err))
		return nil, err
	}
	log.Info("paid registration pending checkout")

	res, err := s.result(ctx, reg, event)
	if err != nil {
		return nil, err
	}
	res.CheckoutURL = checkoutURL
	return res, nil
}

// ConfirmPayment verifies a checkout session with the provider and completes
// the matching registration. Repeated calls for a completed registration are
// no-ops.
func (s *Service) ConfirmPayment(ctx context.Context, sessionID string, registrationID uint) (*Result, error) {
	const op = "registration.ConfirmPayment"

	if sessionID == "" && registrationID == 0 {
		return nil, fieldError("session_id", "session_id or registration_id is required")
	}

	reg, sess, err := s.locate(ctx, sessionID, registrationID)
	if err != nil {
		return nil, err
	}

	event, err := s.store.GetEvent(ctx, reg.EventID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if reg.Status == models.StatusCompleted {
		return s.confirmed(ctx, reg, event, sess, sessionID)
	}

	if sess == nil {
		sid := sessionID
		if reg.CheckoutSessionID != nil {
			sid = *reg.CheckoutSessionID
		}
		if sid == "" {
			return nil, &PaymentNotCompletedError{RegistrationID: reg.ID, SessionStatus: "none"}
		}
		sess, err = s.fetchSession(ctx, reg.ID, sid)
		if err != nil {
			return nil, err
		}
	}

	if id, ok := sess.RegistrationID(); !ok || id != reg.ID {
		return nil, fmt.Errorf("%s: session %s belongs to another registration: %w", op, sess.ID, ErrNotFound)
	}

	log := s.log.With(slog.Uint64("registration_id", uint64(reg.ID)), slog.String("session_id", sess.ID))

	if reg.Status != models.StatusPending {
		if sess.Paid() {
			log.Error("payment captured for inactive registration, refund required",
				slog.String("status", string(reg.Status)), slog.Bool("alert", true))
		}
		return nil, fmt.Errorf("%w: registration is %s", ErrInvalidTransition, reg.Status)
	}

	if !sess.Paid() {
		return nil, &PaymentNotCompletedError{RegistrationID: reg.ID, SessionStatus: string(sess.Status)}
	}

	changed, err := s.store.MarkCompleted(ctx, reg.ID, Completion{
		Amount:          sess.AmountTotal,
		SessionID:       sess.ID,
		PaymentIntentID: sess.PaymentIntentID,
		At:              s.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	current, err := s.store.FindByID(ctx, reg.ID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if !changed {
		// Lost a race: either another confirmation won or the row expired.
		if current.Status == models.StatusCompleted {
			return s.confirmed(ctx, current, event, sess, sessionID)
		}
		log.Error("payment captured for inactive registration, refund required",
			slog.String("status", string(current.Status)), slog.Bool("alert", true))
		return nil, fmt.Errorf("%w: registration is %s", ErrInvalidTransition, current.Status)
	}

	log.Info("payment confirmed", slog.Int64("amount", int64(current.AmountPaid)))
	s.sendConfirmation(ctx, current, event, mailer.TemplatePaymentConfirmed)
	return s.confirmed(ctx, current, event, sess, sessionID)
}

func (s *Service) confirmed(ctx context.Context, reg *models.Registration, event *models.Event, sess *payment.Session, sessionID string) (*Result, error) {
	res, err := s.result(ctx, reg, event)
	if err != nil {
		return nil, err
	}
	res.SessionVerified = presentedSession(reg, sess, sessionID)
	return res, nil
}

// presentedSession reports whether sessionID is a checkout session of reg.
// Registration ids are sequential, session ids are not.
func presentedSession(reg *models.Registration, sess *payment.Session, sessionID string) bool {
	if sessionID == "" {
		return false
	}
	if reg.CheckoutSessionID != nil && *reg.CheckoutSessionID == sessionID {
		return true
	}
	if sess == nil || sess.ID != sessionID {
		return false
	}
	id, ok := sess.RegistrationID()
	return ok && id == reg.ID
}

// RetryCheckout reopens checkout for a pending registration whose first
// attempt failed or was abandoned.
func (s *Service) RetryCheckout(ctx context.Context, registrationID uint) (*Result, error) {
	const op = "registration.RetryCheckout"

	reg, err := s.store.FindByID(ctx, registrationID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if reg.Status != models.StatusPending {
		return nil, fmt.Errorf("%w: registration is %s", ErrInvalidTransition, reg.Status)
	}

	if s.now().After(reg.CreatedAt.Add(s.pendingTTL)) {
		if _, err := s.transition(ctx, reg, models.StatusExpired); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: registration expired", ErrInvalidTransition)
	}

	release, err := s.lockCheckout(ctx, reg.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	event, err := s.store.GetEvent(ctx, reg.EventID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if reg.CheckoutSessionID != nil {
		sess, err := s.fetchSession(ctx, reg.ID, *reg.CheckoutSessionID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		if sess != nil {
			if sess.Paid() {
				release()
				return s.ConfirmPayment(ctx, sess.ID, reg.ID)
			}
			if sess.Status == payment.SessionOpen {
				res, err := s.result(ctx, reg, event)
				if err != nil {
					return nil, err
				}
				res.CheckoutURL = sess.URL
				return res, nil
			}
		}
	}

	checkoutURL, err := s.openCheckout(ctx, reg, event)
	if err != nil {
		return nil, err
	}

	res, err := s.result(ctx, reg, event)
	if err != nil {
		return nil, err
	}
	res.CheckoutURL = checkoutURL
	return res, nil
}

// ExpireStale marks pending registrations older than the TTL expired and
// closes their checkout sessions.
func (s *Service) ExpireStale(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.pendingTTL)

	expired, err := s.store.ExpirePending(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("registration.ExpireStale: %w", err)
	}

	for _, reg := range expired {
		if reg.CheckoutSessionID == nil {
			continue
		}
		if err := s.payments.ExpireCheckoutSession(ctx, *reg.CheckoutSessionID); err != nil {
			s.log.Warn("failed to expire checkout session",
				slog.Uint64("registration_id", uint64(reg.ID)), sl.Err(err))
		}
	}

	if len(expired) > 0 {
		s.log.Info("expired stale registrations", slog.Int("count", len(expired)))
	}
	return len(expired), nil
}

// Cancel is an admin action on a pending registration.
func (s *Service) Cancel(ctx context.Context, registrationID uint) (*models.Registration, error) {
	reg, err := s.store.FindByID(ctx, registrationID)
	if err != nil {
		return nil, fmt.Errorf("registration.Cancel: %w", err)
	}

	updated, err := s.transition(ctx, reg, models.StatusCancelled)
	if err != nil {
		return nil, err
	}

	if reg.Status == models.StatusPending && reg.CheckoutSessionID != nil {
		if err := s.payments.ExpireCheckoutSession(ctx, *reg.CheckoutSessionID); err != nil {
			s.log.Warn("failed to expire checkout session",
				slog.Uint64("registration_id", uint64(reg.ID)), sl.Err(err))
		}
	}
	return updated, nil
}

// MarkRefunded records a refund issued through the provider dashboard.
func (s *Service) MarkRefunded(ctx context.Context, registrationID uint) (*models.Registration, error) {
	reg, err := s.store.FindByID(ctx, registrationID)
	if err != nil {
		return nil, fmt.Errorf("registration.MarkRefunded: %w", err)
	}
	return s.transition(ctx, reg, models.StatusRefunded)
}

// RecordRefund applies a full refund reported by the provider. Repeated
// deliveries are no-ops.
func (s *Service) RecordRefund(ctx context.Context, paymentIntentID string) (*models.Registration, error) {
	reg, err := s.store.FindByPaymentIntent(ctx, paymentIntentID)
	if err != nil {
		return nil, fmt.Errorf("registration.RecordRefund: %w", err)
	}
	return s.transition(ctx, reg, models.StatusRefunded)
}

func (s *Service) ListRegistrations(ctx context.Context, eventID uint, status models.RegistrationStatus) ([]models.Registration, error) {
	if _, err := s.store.GetEvent(ctx, eventID); err != nil {
		return nil, fmt.Errorf("registration.ListRegistrations: %w", err)
	}
	return s.store.ListByEvent(ctx, eventID, status)
}

func (s *Service) Stats(ctx context.Context, event *models.Event) (models.EventStats, error) {
	active, err := s.store.CountActive(ctx, event.ID)
	if err != nil {
		return models.EventStats{}, err
	}
	return models.ComputeStats(event.MaxAttendees, active), nil
}

// Wait blocks until queued confirmation emails have been handed off.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) validateInput(in RegisterInput) error {
	err := s.validate.Struct(in)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	out := &ValidationError{}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, FieldError{Field: fe.Field(), Message: fieldMessage(fe)})
	}
	return out
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	default:
		return "is invalid"
	}
}

func (s *Service) insert(ctx context.Context, event *models.Event, in RegisterInput, amount models.Money) (*models.Registration, error) {
	status := models.StatusPending
	if event.IsFree {
		status = models.StatusCompleted
	}

	currency := event.Currency
	if currency == "" {
		currency = s.currency
	}

	for attempt := 0; attempt < maxInsertAttempts; attempt++ {
		code, err := s.codes.Generate(ctx, s.store.TicketCodeExists)
		if err != nil {
			if errors.Is(err, ticketcode.ErrExhausted) {
				s.log.Error("ticket code space exhausted", sl.Err(err),
					slog.Uint64("event_id", uint64(event.ID)), slog.Bool("alert", true))
			}
			return nil, err
		}

		reg := &models.Registration{
			EventID:    event.ID,
			Name:       in.Name,
			Email:      in.Email,
			Status:     status,
			AmountPaid: amount,
			Currency:   currency,
			TicketCode: &code,
		}
		if event.IsFree {
			now := s.now()
			reg.CompletedAt = &now
		}

		err = s.store.CreateRegistration(ctx, reg)
		if errors.Is(err, errTicketCodeTaken) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return reg, nil
	}

	s.log.Error("ticket code collided on every insert",
		slog.Uint64("event_id", uint64(event.ID)), slog.Bool("alert", true))
	return nil, fmt.Errorf("%w: insert collided %d times", ErrCodeGenerationExhausted, maxInsertAttempts)
}

func (s *Service) openCheckout(ctx context.Context, reg *models.Registration, event *models.Event) (string, error) {
	id := strconv.FormatUint(uint64(reg.ID), 10)

	sess, err := s.payments.CreateCheckoutSession(ctx, &payment.CheckoutRequest{
		Amount:            reg.AmountPaid,
		Currency:          reg.Currency,
		Name:              event.Title,
		Description:       describe(event),
		CustomerEmail:     reg.Email,
		SuccessURL:        fmt.Sprintf("%s/events/registration/success?registration_id=%s&session_id={CHECKOUT_SESSION_ID}", s.baseURL, id),
		CancelURL:         fmt.Sprintf("%s/events/%s?registration_id=%s&cancelled=1", s.baseURL, url.PathEscape(event.Slug), id),
		ClientReferenceID: id,
		Metadata: map[string]string{
			payment.MetaRegistrationID: id,
			payment.MetaEventID:        strconv.FormatUint(uint64(event.ID), 10),
		},
		ExpiresAt: reg.CreatedAt.Add(s.pendingTTL),
	})
	if err != nil {
		return "", &PaymentProviderError{RegistrationID: reg.ID, Err: err}
	}

	if err := s.store.SetCheckoutSession(ctx, reg.ID, sess.ID); err != nil {
		return "", fmt.Errorf("failed to store checkout session: %w", err)
	}
	reg.CheckoutSessionID = &sess.ID
	return sess.URL, nil
}

// locate finds the registration for a confirmation: stored session id
// first, then the explicit registration id, then the provider's metadata.
func (s *Service) locate(ctx context.Context, sessionID string, registrationID uint) (*models.Registration, *payment.Session, error) {
	if sessionID != "" {
		reg, err := s.store.FindBySession(ctx, sessionID)
		if err == nil {
			return reg, nil, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, nil, err
		}
	}

	if registrationID != 0 {
		reg, err := s.store.FindByID(ctx, registrationID)
		if err == nil {
			return reg, nil, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, nil, err
		}
	}

	if sessionID == "" {
		return nil, nil, fmt.Errorf("registration %d: %w", registrationID, ErrNotFound)
	}

	sess, err := s.fetchSession(ctx, registrationID, sessionID)
	if err != nil {
		return nil, nil, err
	}
	id, ok := sess.RegistrationID()
	if !ok {
		return nil, nil, fmt.Errorf("session %s carries no registration: %w", sessionID, ErrNotFound)
	}
	reg, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return reg, sess, nil
}

func (s *Service) fetchSession(ctx context.Context, registrationID uint, sessionID string) (*payment.Session, error) {
	sess, err := s.payments.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, payment.ErrSessionNotFound) {
			return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
		}
		return nil, &PaymentProviderError{RegistrationID: registrationID, Err: err}
	}
	return sess, nil
}

func (s *Service) transition(ctx context.Context, reg *models.Registration, to models.RegistrationStatus) (*models.Registration, error) {
	if reg.Status == to {
		return reg, nil
	}
	if !reg.Status.CanTransitionTo(to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, reg.Status, to)
	}

	ok, err := s.store.UpdateStatus(ctx, reg.ID, reg.Status, to)
	if err != nil {
		return nil, fmt.Errorf("registration.transition: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: registration %d changed concurrently", ErrInvalidTransition, reg.ID)
	}

	s.log.Info("registration status changed",
		slog.Uint64("registration_id", uint64(reg.ID)),
		slog.String("from", string(reg.Status)),
		slog.String("to", string(to)))

	return s.store.FindByID(ctx, reg.ID)
}

func (s *Service) lockRegistration(ctx context.Context, eventID uint, email string) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}

	owner := uuid.NewString()
	err := s.locker.LockRegistration(ctx, eventID, email, owner)
	switch {
	case err == nil:
		return func() {
			if err := s.locker.UnlockRegistration(context.WithoutCancel(ctx), eventID, email, owner); err != nil {
				s.log.Warn("failed to release registration lock", sl.Err(err))
			}
		}, nil
	case errors.Is(err, redis.ErrLocked):
		return nil, ErrDuplicateRegistration
	default:
		s.log.Warn("registration lock unavailable, relying on store constraints", sl.Err(err))
		return func() {}, nil
	}
}

func (s *Service) lockCheckout(ctx context.Context, registrationID uint) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}

	owner := uuid.NewString()
	err := s.locker.LockCheckout(ctx, registrationID, owner)
	switch {
	case err == nil:
		var once sync.Once
		return func() {
			once.Do(func() {
				if err := s.locker.UnlockCheckout(context.WithoutCancel(ctx), registrationID, owner); err != nil {
					s.log.Warn("failed to release checkout lock", sl.Err(err))
				}
			})
		}, nil
	case errors.Is(err, redis.ErrLocked):
		return nil, ErrCheckoutInProgress
	default:
		s.log.Warn("checkout lock unavailable", sl.Err(err))
		return func() {}, nil
	}
}

// sendConfirmation mails the ticket in the background. Failures are logged
// and never reach the caller.
func (s *Service) sendConfirmation(ctx context.Context, reg *models.Registration, event *models.Event, template string) {
	msg := mailer.Message{
		To:       reg.Email,
		Template: template,
		Data: mailer.TicketData{
			Name:       reg.Name,
			EventTitle: event.Title,
			StartsAt:   event.StartsAt,
			Venue:      event.Venue,
			Location:   event.Location,
			Amount:     reg.AmountPaid,
			Currency:   strings.ToUpper(reg.Currency),
		},
	}
	if reg.TicketCode != nil {
		msg.Data.TicketCode = *reg.TicketCode
	}

	id := reg.ID
	s.wg.Add(1)
	go func(ctx context.Context) {
		defer s.wg.Done()
		if err := s.mailer.Send(ctx, msg); err != nil {
			s.log.Error("failed to send confirmation email",
				slog.Uint64("registration_id", uint64(id)), sl.Err(err))
		}
	}(context.WithoutCancel(ctx))
}

func (s *Service) result(ctx context.Context, reg *models.Registration, event *models.Event) (*Result, error) {
	stats, err := s.Stats(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("failed to compute event stats: %w", err)
	}
	return &Result{Registration: reg, Event: event, Stats: stats}, nil
}

func describe(event *models.Event) string {
	parts := []string{event.StartsAt.Format("Mon 2 Jan 2006 15:04")}
	if event.Venue != "" {
		parts = append(parts, event.Venue)
	}
	if event.Location != "" {
		parts = append(parts, event.Location)
	}
	return strings.Join(parts, ", ")
}
