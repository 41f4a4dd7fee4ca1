package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"go.uber.org/zap"

	"github.com/park285/cards-of-power/internal/auth"
	"github.com/park285/cards-of-power/internal/battle"
	"github.com/park285/cards-of-power/internal/catalog"
	appcfg "github.com/park285/cards-of-power/internal/config"
	"github.com/park285/cards-of-power/internal/economy"
	"github.com/park285/cards-of-power/internal/effects"
	"github.com/park285/cards-of-power/internal/msgcat"
	"github.com/park285/cards-of-power/internal/obslog"
	"github.com/park285/cards-of-power/internal/server"
	"github.com/park285/cards-of-power/internal/storage"
	"github.com/park285/cards-of-power/internal/users"
	"github.com/park285/cards-of-power/internal/webhook"
)

func main() {
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	logger := obslog.L()
	defer func() { _ = logger.Sync() }()

	cfg, err := appcfg.Load()
	if err != nil {
		logger.Fatal("config_error", zap.Error(err))
	}

	cards, err := catalog.New(cfg.CardsFile)
	if err != nil {
		logger.Fatal("catalog_error", zap.Error(err))
	}
	msgs, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		logger.Fatal("messages_error", zap.Error(err))
	}
	fx := effects.NewDispatcher(msgs)
	if err := fx.Validate(cards.All()); err != nil {
		logger.Fatal("effects_validate", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	rdb, err := storage.OpenRedis(ctx, cfg.RedisURL)
	cancel()
	if err != nil {
		logger.Fatal("redis_error", zap.Error(err))
	}
	defer func() { _ = rdb.Close() }()

	if cfg.AutoMigrate {
		v, err := storage.Migrate(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("migrate_error", zap.Error(err))
		}
		logger.Info("migrate_ok", zap.Uint("version", v))
	}
	db, err := storage.OpenPostgres(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("postgres_error", zap.Error(err))
	}
	defer func() { _ = db.Close() }()

	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	err = storage.SyncCardTemplates(ctx, db, cards.All())
	cancel()
	if err != nil {
		logger.Fatal("catalog_sync_error", zap.Error(err))
	}

	usersSvc := users.NewService(users.NewRepository(db), cards)
	archive := battle.NewRepository(db)

	mgr := battle.NewManager(battle.NewStore(rdb, cfg.BattleTTL), cards, fx, msgs, battle.Options{
		DefaultTurnSec:     cfg.DefaultTurnSec,
		PreparationWindow:  time.Duration(cfg.PreparationSec) * time.Second,
		PresenceStaleAfter: time.Duration(cfg.PresenceStaleSec) * time.Second,
		RejoinWindow:       time.Duration(cfg.RejoinWindowSec) * time.Second,
		EnforceTurnTimer:   cfg.TurnTimerEnforced,
		StartingHP:         cfg.StartingHP,
	})
	mgr.AttachDeckSource(usersSvc)
	mgr.AttachRecorder(battle.Recorders{archive, usersSvc})

	tokens := auth.NewTokenService(cfg.AuthJWTSecret, cfg.AuthIssuer)
	srv := server.New(mgr, usersSvc, cards, tokens, server.Options{
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		AllowedOrigins: cfg.AllowedOrigins,
		AdminUserIDs:   cfg.AdminUserIDs,
	})
	srv.AttachHistory(archive)
	srv.AttachEconomy(economy.NewRepository(db))
	srv.AttachHealthCheck("redis", func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	srv.AttachHealthCheck("postgres", db.PingContext)

	if cfg.WebhookSecret != "" {
		hook, err := webhook.NewHandler(cfg.WebhookSecret, usersSvc.Repo())
		if err != nil {
			logger.Fatal("webhook_secret_error", zap.Error(err))
		}
		srv.AttachWebhook(hook)
	} else {
		logger.Warn("webhook_disabled", zap.String("reason", "WEBHOOK_SECRET not set"))
	}

	httpSrv := srv.NewHTTPServer(cfg.HTTPAddr)
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http_listen", zap.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutdown", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error("http_error", zap.Error(err))
	}

	ctx, cancel = context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Warn("http_shutdown_error", zap.Error(err))
	}
}
