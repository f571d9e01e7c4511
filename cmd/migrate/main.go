package main

import (
	"context"
	"os/signal"
	"syscall"

	"stockdesk/internal/infra/config"
	"stockdesk/internal/infra/db"
	applog "stockdesk/internal/infra/log"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv, cfg.LogFile)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("migrate: нет подключения к БД")
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("migrate: миграции не применены")
	}
	logger.Info().Msg("migrate: схема актуальна")
}
