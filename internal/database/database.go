package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/JonasLeetTheWay/encore/internal/auth"
	"github.com/JonasLeetTheWay/encore/internal/config"
	"github.com/JonasLeetTheWay/encore/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func Connect(cfg *config.Config, log *slog.Logger) (*gorm.DB, error) {
	level := logger.Warn
	if cfg.Env == config.EnvProd {
		level = logger.Error
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := models.Migrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	log.Info("database connected and migrated", slog.String("host", cfg.DBHost), slog.String("db", cfg.DBName))
	return db, nil
}

// Ping is the health check for the connection pool.
func Ping(db *gorm.DB) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}
}

func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// EnsureAdmin creates the admin account from ADMIN_EMAIL/ADMIN_PASSWORD if
// it does not exist yet. An existing account is left untouched.
func EnsureAdmin(db *gorm.DB, cfg *config.Config, log *slog.Logger) error {
	if cfg.AdminPassword == "" {
		log.Warn("ADMIN_PASSWORD not set, skipping admin account")
		return nil
	}

	email := strings.ToLower(strings.TrimSpace(cfg.AdminEmail))

	var existing models.User
	err := db.Where("email = ?", email).First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("failed to look up admin: %w", err)
	}

	hash, err := auth.HashPassword(cfg.AdminPassword)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	admin := models.User{Email: email, Password: hash, Name: "Admin", Role: models.RoleAdmin}
	if err := db.Create(&admin).Error; err != nil {
		return fmt.Errorf("failed to create admin: %w", err)
	}

	log.Info("admin account created", slog.String("email", email))
	return nil
}

func SeedData(db *gorm.DB, cfg *config.Config, log *slog.Logger) error {
	if err := EnsureAdmin(db, cfg, log); err != nil {
		return err
	}

	var count int64
	db.Model(&models.Event{}).Count(&count)
	if count > 0 {
		log.Info("data already seeded, skipping")
		return nil
	}

	return db.Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC().Truncate(time.Hour)

		events := []models.Event{
			{
				Title:              "Album Release Show",
				Slug:               "album-release-show",
				Description:        "Celebrating the new record live with the full band.",
				StartsAt:           now.AddDate(0, 1, 0),
				Venue:              "The Roundhouse",
				Location:           "London",
				MaxAttendees:       intPtr(300),
				Price:              moneyPtr(2500),
				Currency:           cfg.Currency,
				RegistrationMethod: models.RegistrationNative,
				Published:          true,
			},
			{
				Title:              "Listening Party",
				Slug:               "listening-party",
				Description:        "First listen of the new album, free entry.",
				StartsAt:           now.AddDate(0, 0, 14),
				Venue:              "Rough Trade East",
				Location:           "London",
				MaxAttendees:       intPtr(80),
				IsFree:             true,
				Currency:           cfg.Currency,
				RegistrationMethod: models.RegistrationNative,
				Published:          true,
			},
			{
				Title:              "Summer Festival Set",
				Slug:               "summer-festival-set",
				Description:        "Tickets through the festival box office.",
				StartsAt:           now.AddDate(0, 3, 0),
				Venue:              "Main Stage",
				Location:           "Glastonbury",
				Currency:           cfg.Currency,
				RegistrationMethod: models.RegistrationExternal,
				ExternalURL:        "https://example.com/festival",
				Published:          true,
			},
			{
				Title:              "Studio Session (draft)",
				Slug:               "studio-session",
				StartsAt:           now.AddDate(0, 2, 0),
				IsFree:             true,
				Currency:           cfg.Currency,
				RegistrationMethod: models.RegistrationNative,
			},
		}
		if err := tx.Create(&events).Error; err != nil {
			return fmt.Errorf("failed to create events: %w", err)
		}

		published := now.AddDate(0, 0, -7)
		posts := []models.Post{
			{Title: "New album out next month", Slug: "new-album", Excerpt: "Pre-orders open now.", Body: "The record is done.", PublishedAt: &published, Published: true},
			{Title: "Tour diary #1", Slug: "tour-diary-1", Excerpt: "Notes from the road.", Body: "Day one.", PublishedAt: &now, Published: true},
		}
		if err := tx.Create(&posts).Error; err != nil {
			return fmt.Errorf("failed to create posts: %w", err)
		}

		videos := []models.Video{
			{Title: "Lead single (official video)", URL: "https://www.youtube.com/watch?v=dQw4w9WgXcQ", Published: true},
			{Title: "Live at the Roundhouse", URL: "https://www.youtube.com/watch?v=9bZkp7q19f0", Published: true, SortOrder: 1},
		}
		if err := tx.Create(&videos).Error; err != nil {
			return fmt.Errorf("failed to create videos: %w", err)
		}

		released := now.AddDate(-1, 0, 0)
		music := []models.Music{
			{Title: "First Light", Kind: "album", StreamURL: "https://open.spotify.com/", ReleasedAt: &released, Published: true},
			{Title: "Northbound", Kind: "single", StreamURL: "https://open.spotify.com/", ReleasedAt: &published, Published: true},
		}
		if err := tx.Create(&music).Error; err != nil {
			return fmt.Errorf("failed to create music: %w", err)
		}

		products := []models.Product{
			{Name: "Tour T-shirt", Price: 2500, Currency: cfg.Currency, InStock: true, Published: true},
			{Name: "First Light (vinyl)", Price: 3000, Currency: cfg.Currency, InStock: true, Published: true},
		}
		if err := tx.Create(&products).Error; err != nil {
			return fmt.Errorf("failed to create products: %w", err)
		}

		log.Info("sample data seeded",
			slog.Int("events", len(events)),
			slog.Int("posts", len(posts)),
			slog.Int("products", len(products)),
		)
		return nil
	})
}

func intPtr(n int) *int { return &n }

func moneyPtr(m models.Money) *models.Money { return &m }
