package main

import (
	"log/slog"
	"os"

	"github.com/JonasLeetTheWay/encore/internal/config"
	"github.com/JonasLeetTheWay/encore/internal/database"
	"github.com/JonasLeetTheWay/encore/internal/lib/logger/sl"
)

func main() {
	cfg := config.MustLoad()

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	db, err := database.Connect(cfg, log)
	if err != nil {
		log.Error("failed to connect to database", sl.Err(err))
		os.Exit(1)
	}
	defer database.Close(db)

	if err := database.SeedData(db, cfg, log); err != nil {
		log.Error("failed to seed data", sl.Err(err))
		os.Exit(1)
	}

	log.Info("database migration and seeding completed")
}
