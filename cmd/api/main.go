package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/JonasLeetTheWay/encore/internal/config"
	"github.com/JonasLeetTheWay/encore/internal/database"
	"github.com/JonasLeetTheWay/encore/internal/lib/logger/handlers/slogpretty"
	"github.com/JonasLeetTheWay/encore/internal/lib/logger/sl"
	"github.com/JonasLeetTheWay/encore/internal/mailer"
	"github.com/JonasLeetTheWay/encore/internal/middleware"
	"github.com/JonasLeetTheWay/encore/internal/payment"
	"github.com/JonasLeetTheWay/encore/internal/redis"
	"github.com/JonasLeetTheWay/encore/internal/services/admin"
	"github.com/JonasLeetTheWay/encore/internal/services/content"
	"github.com/JonasLeetTheWay/encore/internal/services/event"
	"github.com/JonasLeetTheWay/encore/internal/services/expiry"
	"github.com/JonasLeetTheWay/encore/internal/services/registration"

	"github.com/gin-gonic/gin"
)

func main() {
	cfg := config.MustLoad()

	log := setupLogger(cfg.Env)
	log.Info("starting encore api", slog.String("env", cfg.Env))
	log.Debug("debug messages are enabled")

	db, err := database.Connect(cfg, log)
	if err != nil {
		log.Error("failed to connect to database", sl.Err(err))
		os.Exit(1)
	}

	if err := database.EnsureAdmin(db, cfg, log); err != nil {
		log.Error("failed to ensure admin account", sl.Err(err))
		os.Exit(1)
	}

	checks := map[string]admin.Check{"database": database.Ping(db)}

	// Without Redis the store constraints alone guard concurrent requests.
	var locker registration.Locker
	rdb := redis.NewClient(cfg)
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 3*time.Second)
	if err := rdb.Ping(pingCtx); err != nil {
		log.Warn("redis unavailable, running without locks", sl.Err(err))
	} else {
		locker = rdb
		checks["redis"] = rdb.Ping
	}
	cancelPing()

	var (
		payments payment.Provider
		webhooks payment.WebhookParser
		mock     *payment.MockStripeClient
	)
	if cfg.MockStripeEnabled {
		mock = payment.NewMockStripeClient(cfg.PublicBaseURL, cfg.MockStripeSuccessRate)
		payments, webhooks = mock, mock
		log.Warn("using mock payment provider", slog.Float64("success_rate", cfg.MockStripeSuccessRate))
	} else {
		stripeClient := payment.NewStripeClient(cfg.StripeSecretKey, cfg.StripeWebhookSecret)
		payments, webhooks = stripeClient, stripeClient
	}

	mail, err := mailer.New(cfg, log)
	if err != nil {
		log.Error("failed to init mailer", sl.Err(err))
		os.Exit(1)
	}

	registrationService := registration.NewService(log, registration.NewGormStore(db), payments, mail, locker, cfg)
	registrationHandler := registration.NewHandler(log, registrationService, webhooks, mock)
	eventService := event.NewService(db, log)
	contentService := content.NewService(db, log)
	adminService := admin.NewService(cfg, admin.NewGormUsers(db), log, checks)

	if cfg.Env == config.EnvProd {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(
		middleware.RequestID(),
		middleware.RequestLogger(log),
		middleware.Recovery(log),
		middleware.CORS(),
	)

	adminGroup := r.Group("/admin", adminService.AuthMiddleware())

	adminService.SetupRoutes(r)
	eventService.SetupRoutes(r, adminGroup)
	contentService.SetupRoutes(r)
	registrationHandler.SetupRoutes(r, adminGroup)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	var workers sync.WaitGroup
	workers.Add(1)
	go func() {
		defer workers.Done()
		expiry.NewWorker(registrationService, cfg.ExpirySweepInterval, log).Start(ctx)
	}()

	go func() {
		log.Info("starting server", slog.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("failed to start server", sl.Err(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("application stopping")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to shutdown server", sl.Err(err))
	}

	workers.Wait()
	registrationService.Wait()

	if err := rdb.Close(); err != nil {
		log.Error("failed to close redis connection", sl.Err(err))
	}
	if err := database.Close(db); err != nil {
		log.Error("failed to close postgres connection", sl.Err(err))
	}

	log.Info("application stopped")
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case config.EnvLocal:
		log = setupPrettySlog()
	case config.EnvDev:
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	default:
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	return log
}

func setupPrettySlog() *slog.Logger {
	opts := slogpretty.PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{
			Level: slog.LevelDebug,
		},
	}

	h := opts.NewPrettyHandler(os.Stdout)

	return slog.New(h)
}
