package registration

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JonasLeetTheWay/encore/internal/mailer"
	"github.com/JonasLeetTheWay/encore/internal/models"

	"github.com/stretchr/testify/mock"
	"gorm.io/gorm"
)

// memStore mirrors the Postgres guarantees: capacity re-check and the two
// unique indexes are enforced atomically in CreateRegistration.
type memStore struct {
	mu     sync.Mutex
	nextID uint
	events map[uint]models.Event
	regs   map[uint]models.Registration
	now    func() time.Time

	// codeRaces makes the next N inserts fail as if another writer took the code.
	codeRaces int
	// allCodesTaken makes TicketCodeExists report every code as used.
	allCodesTaken bool
	// failSetSession makes SetCheckoutSession fail.
	failSetSession error
}

func newMemStore() *memStore {
	return &memStore{
		events: make(map[uint]models.Event),
		regs:   make(map[uint]models.Registration),
		now:    time.Now,
	}
}

func (s *memStore) addEvent(e models.Event) *models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	e.ID = s.nextID
	if e.RegistrationMethod == "" {
		e.RegistrationMethod = models.RegistrationNative
	}
	if e.Currency == "" {
		e.Currency = "usd"
	}
	s.events[e.ID] = e
	return &e
}

func (s *memStore) deleteEvent(id uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.events[id]
	e.DeletedAt = gorm.DeletedAt{Time: s.now(), Valid: true}
	s.events[id] = e
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.regs)
}

func (s *memStore) activeLocked(eventID uint) int64 {
	var n int64
	for _, r := range s.regs {
		if r.EventID == eventID && r.Status.Active() {
			n++
		}
	}
	return n
}

func (s *memStore) GetEvent(_ context.Context, id uint) (*models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok || e.DeletedAt.Valid {
		return nil, fmt.Errorf("event %d: %w", id, ErrNotFound)
	}
	return &e, nil
}

func (s *memStore) CountActive(_ context.Context, eventID uint) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeLocked(eventID), nil
}

func (s *memStore) HasActiveRegistration(_ context.Context, eventID uint, email string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.regs {
		if r.EventID == eventID && r.Email == email && r.Status.Active() {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) TicketCodeExists(_ context.Context, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.allCodesTaken {
		return true, nil
	}
	for _, r := range s.regs {
		if r.TicketCode != nil && *r.TicketCode == code {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) CreateRegistration(_ context.Context, reg *models.Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.events[reg.EventID]
	if !ok || e.DeletedAt.Valid {
		return ErrNotFound
	}
	if models.ComputeStats(e.MaxAttendees, s.activeLocked(e.ID)).IsSoldOut {
		return ErrSoldOut
	}
	if s.codeRaces > 0 {
		s.codeRaces--
		return errTicketCodeTaken
	}
	for _, r := range s.regs {
		if r.EventID == reg.EventID && r.Email == reg.Email && r.Status.Active() && reg.Status.Active() {
			return ErrDuplicateRegistration
		}
		if r.TicketCode != nil && reg.TicketCode != nil && *r.TicketCode == *reg.TicketCode {
			return errTicketCodeTaken
		}
	}

	s.nextID++
	reg.ID = s.nextID
	reg.CreatedAt = s.now()
	reg.UpdatedAt = reg.CreatedAt
	s.regs[reg.ID] = *reg
	return nil
}

func (s *memStore) SetCheckoutSession(_ context.Context, id uint, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSetSession != nil {
		return s.failSetSession
	}
	r, ok := s.regs[id]
	if !ok {
		return ErrNotFound
	}
	r.CheckoutSessionID = &sessionID
	s.regs[id] = r
	return nil
}

func (s *memStore) FindBySession(_ context.Context, sessionID string) (*models.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.regs {
		if r.CheckoutSessionID != nil && *r.CheckoutSessionID == sessionID {
			return &r, nil
		}
	}
	return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
}

func (s *memStore) FindByID(_ context.Context, id uint) (*models.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.regs[id]
	if !ok {
		return nil, fmt.Errorf("registration %d: %w", id, ErrNotFound)
	}
	return &r, nil
}

func (s *memStore) FindByPaymentIntent(_ context.Context, paymentIntentID string) (*models.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.regs {
		if r.PaymentIntentID != nil && *r.PaymentIntentID == paymentIntentID {
			return &r, nil
		}
	}
	return nil, fmt.Errorf("payment intent %s: %w", paymentIntentID, ErrNotFound)
}

func (s *memStore) MarkCompleted(_ context.Context, id uint, c Completion) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.regs[id]
	if !ok || r.Status != models.StatusPending {
		return false, nil
	}
	r.Status = models.StatusCompleted
	r.AmountPaid = c.Amount
	at := c.At
	r.CompletedAt = &at
	if r.CheckoutSessionID == nil && c.SessionID != "" {
		sid := c.SessionID
		r.CheckoutSessionID = &sid
	}
	if c.PaymentIntentID != "" {
		pi := c.PaymentIntentID
		r.PaymentIntentID = &pi
	}
	s.regs[id] = r
	return true, nil
}

func (s *memStore) UpdateStatus(_ context.Context, id uint, from, to models.RegistrationStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.regs[id]
	if !ok || r.Status != from {
		return false, nil
	}
	r.Status = to
	s.regs[id] = r
	return true, nil
}

func (s *memStore) ExpirePending(_ context.Context, createdBefore time.Time) ([]models.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Registration
	for id, r := range s.regs {
		if r.Status == models.StatusPending && r.CreatedAt.Before(createdBefore) {
			r.Status = models.StatusExpired
			s.regs[id] = r
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memStore) ListByEvent(_ context.Context, eventID uint, status models.RegistrationStatus) ([]models.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Registration
	for _, r := range s.regs {
		if r.EventID == eventID && (status == "" || r.Status == status) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []mailer.Message
	err  error
}

func (m *recordingMailer) Send(_ context.Context, msg mailer.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return m.err
}

func (m *recordingMailer) messages() []mailer.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mailer.Message(nil), m.sent...)
}

type mockLocker struct {
	mock.Mock
}

func (m *mockLocker) LockRegistration(ctx context.Context, eventID uint, email, owner string) error {
	return m.Called(ctx, eventID, email, owner).Error(0)
}

func (m *mockLocker) UnlockRegistration(ctx context.Context, eventID uint, email, owner string) error {
	return m.Called(ctx, eventID, email, owner).Error(0)
}

func (m *mockLocker) LockCheckout(ctx context.Context, registrationID uint, owner string) error {
	return m.Called(ctx, registrationID, owner).Error(0)
}

func (m *mockLocker) UnlockCheckout(ctx context.Context, registrationID uint, owner string) error {
	return m.Called(ctx, registrationID, owner).Error(0)
}
