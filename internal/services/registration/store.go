package registration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JonasLeetTheWay/encore/internal/models"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const pgUniqueViolation = "23505"

type Store interface {
	GetEvent(ctx context.Context, id uint) (*models.Event, error)
	CountActive(ctx context.Context, eventID uint) (int64, error)
	HasActiveRegistration(ctx context.Context, eventID uint, email string) (bool, error)
	TicketCodeExists(ctx context.Context, code string) (bool, error)
	// CreateRegistration re-checks capacity under a lock on the event row.
	CreateRegistration(ctx context.Context, reg *models.Registration) error
	SetCheckoutSession(ctx context.Context, id uint, sessionID string) error
	FindBySession(ctx context.Context, sessionID string) (*models.Registration, error)
	FindByID(ctx context.Context, id uint) (*models.Registration, error)
	FindByPaymentIntent(ctx context.Context, paymentIntentID string) (*models.Registration, error)
	// MarkCompleted flips a pending row to completed. It reports false when
	// the row was not pending.
	MarkCompleted(ctx context.Context, id uint, c Completion) (bool, error)
	UpdateStatus(ctx context.Context, id uint, from, to models.RegistrationStatus) (bool, error)
	ExpirePending(ctx context.Context, createdBefore time.Time) ([]models.Registration, error)
	ListByEvent(ctx context.Context, eventID uint, status models.RegistrationStatus) ([]models.Registration, error)
}

// Completion is what the provider reported for a paid session.
type Completion struct {
	Amount          models.Money
	SessionID       string
	PaymentIntentID string
	At              time.Time
}

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) GetEvent(ctx context.Context, id uint) (*models.Event, error) {
	var event models.Event
	if err := s.db.WithContext(ctx).First(&event, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("event %d: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &event, nil
}

func (s *GormStore) CountActive(ctx context.Context, eventID uint) (int64, error) {
	return models.CountActive(s.db.WithContext(ctx), eventID)
}

func (s *GormStore) HasActiveRegistration(ctx context.Context, eventID uint, email string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Registration{}).
		Scopes(models.ActiveRegistrations).
		Where("event_id = ? AND email = ?", eventID, email).
		Count(&n).Error
	return n > 0, err
}

func (s *GormStore) TicketCodeExists(ctx context.Context, code string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Unscoped().Model(&models.Registration{}).
		Where("ticket_code = ?", code).
		Count(&n).Error
	return n > 0, err
}

func (s *GormStore) CreateRegistration(ctx context.Context, reg *models.Registration) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var event models.Event
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id", "max_attendees").
			First(&event, reg.EventID).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("event %d: %w", reg.EventID, ErrNotFound)
			}
			return err
		}

		if event.MaxAttendees != nil {
			active, err := models.CountActive(tx, reg.EventID)
			if err != nil {
				return err
			}
			if models.ComputeStats(event.MaxAttendees, active).IsSoldOut {
				return ErrSoldOut
			}
		}

		if err := tx.Create(reg).Error; err != nil {
			return translateError(err)
		}
		return nil
	})
}

func (s *GormStore) SetCheckoutSession(ctx context.Context, id uint, sessionID string) error {
	res := s.db.WithContext(ctx).Model(&models.Registration{}).
		Where("id = ?", id).
		Update("checkout_session_id", sessionID)
	if res.Error != nil {
		return translateError(res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("registration %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *GormStore) FindBySession(ctx context.Context, sessionID string) (*models.Registration, error) {
	var reg models.Registration
	if err := s.db.WithContext(ctx).Where("checkout_session_id = ?", sessionID).First(&reg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
		}
		return nil, err
	}
	return &reg, nil
}

func (s *GormStore) FindByID(ctx context.Context, id uint) (*models.Registration, error) {
	var reg models.Registration
	if err := s.db.WithContext(ctx).First(&reg, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("registration %d: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &reg, nil
}

func (s *GormStore) FindByPaymentIntent(ctx context.Context, paymentIntentID string) (*models.Registration, error) {
	var reg models.Registration
	if err := s.db.WithContext(ctx).Where("payment_intent_id = ?", paymentIntentID).First(&reg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("payment intent %s: %w", paymentIntentID, ErrNotFound)
		}
		return nil, err
	}
	return &reg, nil
}

func (s *GormStore) MarkCompleted(ctx context.Context, id uint, c Completion) (bool, error) {
	updates := map[string]interface{}{
		"status":       models.StatusCompleted,
		"amount_paid":  c.Amount,
		"completed_at": c.At,
	}
	if c.SessionID != "" {
		updates["checkout_session_id"] = gorm.Expr("COALESCE(checkout_session_id, ?)", c.SessionID)
	}
	if c.PaymentIntentID != "" {
		updates["payment_intent_id"] = c.PaymentIntentID
	}

	res := s.db.WithContext(ctx).Model(&models.Registration{}).
		Where("id = ? AND status = ?", id, models.StatusPending).
		Updates(updates)
	if res.Error != nil {
		return false, translateError(res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) UpdateStatus(ctx context.Context, id uint, from, to models.RegistrationStatus) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Registration{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) ExpirePending(ctx context.Context, createdBefore time.Time) ([]models.Registration, error) {
	var expired []models.Registration
	err := s.db.WithContext(ctx).Model(&expired).
		Clauses(clause.Returning{}).
		Where("status = ? AND created_at < ?", models.StatusPending, createdBefore).
		Update("status", models.StatusExpired).Error
	if err != nil {
		return nil, err
	}
	return expired, nil
}

func (s *GormStore) ListByEvent(ctx context.Context, eventID uint, status models.RegistrationStatus) ([]models.Registration, error) {
	q := s.db.WithContext(ctx).Where("event_id = ?", eventID)
	if status != "" {
		q = q.Where("status = ?", status)
	}

	var regs []models.Registration
	if err := q.Order("created_at ASC").Find(&regs).Error; err != nil {
		return nil, err
	}
	return regs, nil
}

// translateError maps unique violations to domain errors by constraint name.
func translateError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgUniqueViolation {
		return err
	}

	switch pgErr.ConstraintName {
	case "idx_registrations_active_email":
		return ErrDuplicateRegistration
	case "idx_registrations_ticket_code":
		return errTicketCodeTaken
	}
	return err
}
