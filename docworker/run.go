// Package docworker runs the background document job worker.
package docworker

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/CrusoO/Rag-knowledge-system/internal/assistant"
	"github.com/CrusoO/Rag-knowledge-system/internal/config"
	"github.com/CrusoO/Rag-knowledge-system/internal/logger"
	"github.com/CrusoO/Rag-knowledge-system/internal/store"
	"github.com/CrusoO/Rag-knowledge-system/internal/store/postgres"
	"github.com/CrusoO/Rag-knowledge-system/internal/store/sqlite"
	"github.com/CrusoO/Rag-knowledge-system/internal/worker"
)

// Run starts the document worker and blocks until shutdown or error.
func Run() error {
	log := logger.New("doc-worker")

	cfg, err := config.New()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load configuration")
		return err
	}

	var st store.Store
	switch cfg.DBDriver {
	case "postgres":
		db, err := postgres.Open(cfg.PostgresDSN)
		if err != nil {
			log.Error().Stack().Err(err).Msg("Postgres unavailable")
			return err
		}
		if err := postgres.EnsureSchema(db); err != nil {
			return err
		}
		st = postgres.NewWithDB(db)
	case "sqlite":
		st, err = sqlite.New(cfg.SQLitePath)
		if err != nil {
			log.Error().Stack().Err(err).Msg("SQLite unavailable")
			return err
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER: %s", cfg.DBDriver)
	}

	backend := assistant.NewClient(cfg.BackendURL, cfg.BackendTimeout(), log)

	w := worker.New(st, backend, worker.Config{
		BatchSize: cfg.WorkerBatchSize,
		Interval:  time.Duration(cfg.WorkerIntervalSeconds) * time.Second,
	}, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := w.Run(ctx); err != nil && err != context.Canceled {
		log.Error().Stack().Err(err).Msg("document worker exit")
		return err
	}
	return nil
}
