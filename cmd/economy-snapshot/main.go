package main

import (
	"context"
	"log"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"go.uber.org/zap"

	appcfg "github.com/park285/cards-of-power/internal/config"
	"github.com/park285/cards-of-power/internal/economy"
	"github.com/park285/cards-of-power/internal/obslog"
	"github.com/park285/cards-of-power/internal/storage"
	"github.com/park285/cards-of-power/internal/users"
)

// economy-snapshot records one gold/card-count row per user and exits.
// It is meant to be run once a day by an external scheduler.
func main() {
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	logger := obslog.L()
	defer func() { _ = logger.Sync() }()

	cfg, err := appcfg.LoadJob()
	if err != nil {
		logger.Fatal("config_error", zap.Error(err))
	}
	if cfg.AutoMigrate {
		if _, err := storage.Migrate(cfg.DatabaseURL); err != nil {
			logger.Fatal("migrate_error", zap.Error(err))
		}
	}
	db, err := storage.OpenPostgres(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("postgres_error", zap.Error(err))
	}
	defer func() { _ = db.Close() }()

	repo := users.NewRepository(db)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	rep, err := economy.NewJob(repo, economy.NewRepository(db)).Run(ctx)
	if err != nil {
		logger.Fatal("snapshot_error", zap.Error(err))
	}
	logger.Info("snapshot_done",
		zap.Time("taken_at", rep.TakenAt),
		zap.Int("users", rep.Users),
		zap.Int("written", rep.Written),
		zap.Int("failed", rep.Failed),
	)
}
