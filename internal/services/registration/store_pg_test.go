package registration

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/JonasLeetTheWay/encore/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newPGStore runs against the database in TEST_DATABASE_DSN when one is reachable.
func newPGStore(t *testing.T) (*GormStore, *gorm.DB) {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("TEST_DATABASE_DSN not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		t.Skipf("postgres not available: %v", err)
	}

	require.NoError(t, models.Migrate(db))
	return NewGormStore(db), db
}

func createPGEvent(t *testing.T, db *gorm.DB, maxAttendees *int) *models.Event {
	t.Helper()

	e := &models.Event{
		Title:              "Store test",
		Slug:               "store-test-" + uuid.NewString(),
		StartsAt:           time.Now().Add(24 * time.Hour),
		MaxAttendees:       maxAttendees,
		IsFree:             true,
		Currency:           "usd",
		RegistrationMethod: models.RegistrationNative,
		Published:          true,
	}
	require.NoError(t, db.Create(e).Error)

	t.Cleanup(func() {
		db.Unscoped().Where("event_id = ?", e.ID).Delete(&models.Registration{})
		db.Unscoped().Delete(e)
	})
	return e
}

func pgRegistration(eventID uint, email string, status models.RegistrationStatus) *models.Registration {
	code := "T" + uuid.NewString()[:8]
	return &models.Registration{
		EventID:    eventID,
		Name:       "Store Test",
		Email:      email,
		Status:     status,
		Currency:   "usd",
		TicketCode: &code,
	}
}

func TestGormStoreCapacity(t *testing.T) {
	store, db := newPGStore(t)
	ctx := t.Context()
	e := createPGEvent(t, db, intPtr(1))

	require.NoError(t, store.CreateRegistration(ctx, pgRegistration(e.ID, "ada@x.com", models.StatusCompleted)))
	err := store.CreateRegistration(ctx, pgRegistration(e.ID, "cy@x.com", models.StatusPending))
	assert.ErrorIs(t, err, ErrSoldOut)

	n, err := store.CountActive(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	err = store.CreateRegistration(ctx, pgRegistration(999999999, "ada@x.com", models.StatusPending))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGormStoreUniqueViolations(t *testing.T) {
	store, db := newPGStore(t)
	ctx := t.Context()
	e := createPGEvent(t, db, nil)

	first := pgRegistration(e.ID, "ada@x.com", models.StatusPending)
	require.NoError(t, store.CreateRegistration(ctx, first))

	err := store.CreateRegistration(ctx, pgRegistration(e.ID, "ada@x.com", models.StatusCompleted))
	assert.ErrorIs(t, err, ErrDuplicateRegistration)

	taken := pgRegistration(e.ID, "cy@x.com", models.StatusCompleted)
	taken.TicketCode = first.TicketCode
	err = store.CreateRegistration(ctx, taken)
	assert.ErrorIs(t, err, errTicketCodeTaken)

	// an inactive row frees the email again
	ok, err := store.UpdateStatus(ctx, first.ID, models.StatusPending, models.StatusCancelled)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NoError(t, store.CreateRegistration(ctx, pgRegistration(e.ID, "ada@x.com", models.StatusPending)))
}

func TestGormStoreMarkCompleted(t *testing.T) {
	store, db := newPGStore(t)
	ctx := t.Context()
	e := createPGEvent(t, db, nil)

	reg := pgRegistration(e.ID, "ada@x.com", models.StatusPending)
	require.NoError(t, store.CreateRegistration(ctx, reg))

	intent := "pi_" + uuid.NewString()
	done := Completion{Amount: 2500, SessionID: "cs_" + uuid.NewString(), PaymentIntentID: intent, At: time.Now()}

	ok, err := store.MarkCompleted(ctx, reg.ID, done)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.MarkCompleted(ctx, reg.ID, done)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := store.FindByPaymentIntent(ctx, intent)
	require.NoError(t, err)
	assert.Equal(t, reg.ID, got.ID)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, models.Money(2500), got.AmountPaid)
	require.NotNil(t, got.CheckoutSessionID)
	assert.Equal(t, done.SessionID, *got.CheckoutSessionID)

	_, err = store.FindByPaymentIntent(ctx, "pi_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGormStoreExpirePending(t *testing.T) {
	store, db := newPGStore(t)
	ctx := t.Context()
	e := createPGEvent(t, db, nil)

	cutoff := time.Date(2000, 1, 2, 0, 0, 0, 0, time.UTC)

	stale := pgRegistration(e.ID, "old@x.com", models.StatusPending)
	stale.CreatedAt = cutoff.Add(-time.Hour)
	require.NoError(t, store.CreateRegistration(ctx, stale))

	paid := pgRegistration(e.ID, "paid@x.com", models.StatusCompleted)
	paid.CreatedAt = cutoff.Add(-time.Hour)
	require.NoError(t, store.CreateRegistration(ctx, paid))

	fresh := pgRegistration(e.ID, "new@x.com", models.StatusPending)
	require.NoError(t, store.CreateRegistration(ctx, fresh))

	expired, err := store.ExpirePending(ctx, cutoff)
	require.NoError(t, err)

	var ids []uint
	for _, r := range expired {
		if r.EventID == e.ID {
			ids = append(ids, r.ID)
			assert.Equal(t, "old@x.com", r.Email)
			assert.Equal(t, models.StatusExpired, r.Status)
		}
	}
	assert.Equal(t, []uint{stale.ID}, ids)

	got, err := store.FindByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)

	got, err = store.FindByID(ctx, paid.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
}
