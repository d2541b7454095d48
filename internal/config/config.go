package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"
)

// DefaultJWTSecret is the development signing key. Production refuses it.
const DefaultJWTSecret = "your-secret-key-here"

type Config struct {
	Env           string `env:"APP_ENV" env-default:"local" validate:"oneof=local dev prod"`
	HTTPPort      string `env:"HTTP_PORT" env-default:"8080" validate:"required"`
	PublicBaseURL string `env:"PUBLIC_BASE_URL" env-default:"http://localhost:3000" validate:"required,url"`

	// Database
	DBHost     string `env:"DB_HOST" env-default:"localhost"`
	DBPort     string `env:"DB_PORT" env-default:"5432"`
	DBUser     string `env:"DB_USER" env-default:"postgres"`
	DBPassword string `env:"DB_PASSWORD" env-default:"password"`
	DBName     string `env:"DB_NAME" env-default:"encore"`
	DBSSLMode  string `env:"DB_SSLMODE" env-default:"disable"`

	// Redis
	RedisHost     string `env:"REDIS_HOST" env-default:"localhost"`
	RedisPort     string `env:"REDIS_PORT" env-default:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	// JWT
	JWTSecret string        `env:"JWT_SECRET" env-default:"your-secret-key-here" validate:"required"`
	JWTExpiry time.Duration `env:"JWT_EXPIRY" env-default:"24h"`

	// Payments
	Currency              string  `env:"CURRENCY" env-default:"usd" validate:"len=3"`
	StripeSecretKey       string  `env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret   string  `env:"STRIPE_WEBHOOK_SECRET"`
	MockStripeEnabled     bool    `env:"MOCK_STRIPE_ENABLED" env-default:"true"`
	MockStripeSuccessRate float64 `env:"MOCK_STRIPE_SUCCESS_RATE" env-default:"0.95" validate:"gte=0,lte=1"`

	// Mail
	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT" env-default:"587"`
	SMTPUser     string `env:"SMTP_USER"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	MailFrom     string `env:"MAIL_FROM" env-default:"tickets@localhost"`

	// Pending registrations older than PendingTTL are expired by the sweep.
	PendingTTL          time.Duration `env:"PENDING_REGISTRATION_TTL" env-default:"1h" validate:"gt=0"`
	ExpirySweepInterval time.Duration `env:"EXPIRY_SWEEP_INTERVAL" env-default:"5m" validate:"gt=0"`

	// Seed admin
	AdminEmail    string `env:"ADMIN_EMAIL" env-default:"admin@localhost"`
	AdminPassword string `env:"ADMIN_PASSWORD"`
}

func Load() (*Config, error) {
	godotenv.Load()

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read env: %w", err)
	}

	if !cfg.MockStripeEnabled && cfg.StripeSecretKey == "" {
		return nil, fmt.Errorf("STRIPE_SECRET_KEY is required when MOCK_STRIPE_ENABLED=false")
	}

	if cfg.Env == EnvProd {
		if cfg.MockStripeEnabled {
			return nil, fmt.Errorf("MOCK_STRIPE_ENABLED must be false when APP_ENV=prod")
		}
		if cfg.JWTSecret == DefaultJWTSecret {
			return nil, fmt.Errorf("JWT_SECRET must be set when APP_ENV=prod")
		}
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// MustLoad is Load for main packages.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}
