package models

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Money is an amount in minor currency units (cents).
type Money int64

func (m Money) String() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

type RegistrationMethod string

const (
	RegistrationNative   RegistrationMethod = "native"
	RegistrationExternal RegistrationMethod = "external"
	RegistrationEmail    RegistrationMethod = "email"
	RegistrationNone     RegistrationMethod = "none"
)

type Event struct {
	gorm.Model
	Title              string             `json:"title" gorm:"not null"`
	Slug               string             `json:"slug" gorm:"not null;uniqueIndex"`
	Description        string             `json:"description"`
	StartsAt           time.Time          `json:"startsAt" gorm:"not null"`
	EndsAt             *time.Time         `json:"endsAt"`
	Venue              string             `json:"venue"`
	Location           string             `json:"location"`
	MaxAttendees       *int               `json:"maxAttendees"`
	IsFree             bool               `json:"isFree" gorm:"not null;default:false"`
	Price              *Money             `json:"price"`
	Currency           string             `json:"currency" gorm:"not null;default:'usd'"`
	RegistrationMethod RegistrationMethod `json:"registrationMethod" gorm:"not null;default:'native'"`
	ExternalURL        string             `json:"externalUrl"`
	ImageURL           string             `json:"imageUrl"`
	Published          bool               `json:"published" gorm:"not null;default:false;index"`
}

type Registration struct {
	gorm.Model
	EventID           uint               `json:"eventId" gorm:"not null;index"`
	Name              string             `json:"name" gorm:"not null"`
	Email             string             `json:"email" gorm:"not null;index"`
	Status            RegistrationStatus `json:"status" gorm:"not null;index"`
	AmountPaid        Money              `json:"amountPaid" gorm:"not null;default:0"`
	Currency          string             `json:"currency" gorm:"not null;default:'usd'"`
	TicketCode        *string            `json:"ticketCode" gorm:"uniqueIndex:idx_registrations_ticket_code"`
	CheckoutSessionID *string            `json:"checkoutSessionId" gorm:"uniqueIndex:idx_registrations_checkout_session"`
	PaymentIntentID   *string            `json:"-" gorm:"uniqueIndex:idx_registrations_payment_intent"`
	CompletedAt       *time.Time         `json:"completedAt"`

	Event Event `json:"-" gorm:"foreignKey:EventID"`
}

type Post struct {
	gorm.Model
	Title       string     `json:"title" gorm:"not null"`
	Slug        string     `json:"slug" gorm:"not null;uniqueIndex"`
	Excerpt     string     `json:"excerpt"`
	Body        string     `json:"body"`
	CoverURL    string     `json:"coverUrl"`
	PublishedAt *time.Time `json:"publishedAt"`
	Published   bool       `json:"published" gorm:"not null;default:false;index"`
	SortOrder   int        `json:"sortOrder" gorm:"not null;default:0"`
}

type Video struct {
	gorm.Model
	Title     string `json:"title" gorm:"not null"`
	URL       string `json:"url" gorm:"not null"`
	Thumbnail string `json:"thumbnail"`
	Published bool   `json:"published" gorm:"not null;default:false;index"`
	SortOrder int    `json:"sortOrder" gorm:"not null;default:0"`
}

type Music struct {
	gorm.Model
	Title      string     `json:"title" gorm:"not null"`
	Kind       string     `json:"kind"` // single, ep, album
	CoverURL   string     `json:"coverUrl"`
	StreamURL  string     `json:"streamUrl"`
	ReleasedAt *time.Time `json:"releasedAt"`
	Published  bool       `json:"published" gorm:"not null;default:false;index"`
	SortOrder  int        `json:"sortOrder" gorm:"not null;default:0"`
}

type Product struct {
	gorm.Model
	Name        string `json:"name" gorm:"not null"`
	Description string `json:"description"`
	Price       Money  `json:"price" gorm:"not null"`
	Currency    string `json:"currency" gorm:"not null;default:'usd'"`
	ImageURL    string `json:"imageUrl"`
	InStock     bool   `json:"inStock" gorm:"not null"`
	Published   bool   `json:"published" gorm:"not null;default:false;index"`
	SortOrder   int    `json:"sortOrder" gorm:"not null;default:0"`
}

const RoleAdmin = "admin"

type User struct {
	gorm.Model
	Email    string `json:"email" gorm:"not null;unique"`
	Password string `json:"-" gorm:"not null"`
	Name     string `json:"name" gorm:"not null"`
	Role     string `json:"role" gorm:"not null;default:'admin'"`
}

// Partial index backing "one active registration per (event, email)".
const activeEmailIndex = `CREATE UNIQUE INDEX IF NOT EXISTS idx_registrations_active_email
	ON registrations (event_id, email)
	WHERE status IN ('pending', 'completed') AND deleted_at IS NULL`

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&Event{},
		&Registration{},
		&Post{},
		&Video{},
		&Music{},
		&Product{},
		&User{},
	); err != nil {
		return err
	}

	return db.Exec(activeEmailIndex).Error
}
