package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/artur/dispatch-bot/internal/bot"
	"github.com/artur/dispatch-bot/internal/config"
	"github.com/artur/dispatch-bot/internal/database"
	"github.com/artur/dispatch-bot/internal/database/repository"
	"github.com/artur/dispatch-bot/internal/dialog"
	"github.com/artur/dispatch-bot/internal/handler"
	"github.com/artur/dispatch-bot/internal/idempotency"
	"github.com/artur/dispatch-bot/internal/logger"
	"github.com/artur/dispatch-bot/internal/server"
	"github.com/artur/dispatch-bot/internal/worker"
)

const serviceName = "dispatch-bot"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	logger.Init(serviceName, cfg.Debug)
	for _, w := range cfg.Warnings() {
		log.Warn().Msg(w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.New(cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	userRepo := repository.NewUserRepository(db.DB)
	statsRepo := repository.NewStatsRepository(db.DB)

	checks := []server.Check{{Name: "sqlite", Fn: db.HealthCheck}}

	var dedup idempotency.Deduper = idempotency.NewMemory(cfg.Redis.DedupTTL)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to redis")
		}
		dedup = idempotency.NewRedis(rdb, serviceName, cfg.Redis.DedupTTL)
		checks = append(checks, server.Check{
			Name: "redis",
			Fn:   func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
	}

	b, err := bot.New(cfg.Telegram.BotToken, bot.Options{
		ManagedChatID: cfg.Telegram.ManagedChatID,
		PollTimeout:   cfg.Telegram.PollTimeout,
		Deduper:       dedup,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create bot")
	}

	engine := dialog.NewEngine(userRepo, b, b, statsRepo, dialog.Options{
		ReferralMaxDepth: cfg.Dialog.ReferralMaxDepth,
	})
	b.RegisterHandler(handler.NewDialogHandler(engine, cfg.Telegram.ManagedChatID))

	srvOpts := server.Options{
		Addr:   cfg.Server.Addr,
		Checks: checks,
		Debug:  cfg.Debug,
	}
	if cfg.Webhook() {
		srvOpts.Webhook = b
		srvOpts.Secret = cfg.Telegram.WebhookSecret
	}
	srv := server.New(srvOpts)

	resetWorker := worker.NewResetWorker(userRepo, engine, cfg.Dialog.InactivityWindow, cfg.Dialog.ResetInterval)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error { return resetWorker.Run(gctx) })

	if cfg.Webhook() {
		if err := b.SetWebhook(cfg.Telegram.WebhookURL, cfg.Telegram.WebhookSecret); err != nil {
			log.Fatal().Err(err).Msg("Failed to register webhook")
		}
	} else {
		g.Go(func() error { return b.Run(gctx) })
	}

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Stopped with error")
	}

	// Let queued updates finish before the database closes.
	b.Wait()
	log.Info().Msg("Bot exited")
}
