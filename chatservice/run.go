// Package chatservice assembles and runs the chat HTTP service.
package chatservice

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/CrusoO/Rag-knowledge-system/internal/api"
	"github.com/CrusoO/Rag-knowledge-system/internal/assistant"
	"github.com/CrusoO/Rag-knowledge-system/internal/auth"
	"github.com/CrusoO/Rag-knowledge-system/internal/config"
	"github.com/CrusoO/Rag-knowledge-system/internal/health"
	"github.com/CrusoO/Rag-knowledge-system/internal/logger"
	"github.com/CrusoO/Rag-knowledge-system/internal/ratelimit"
	"github.com/CrusoO/Rag-knowledge-system/internal/services"
	"github.com/CrusoO/Rag-knowledge-system/internal/store"
	"github.com/CrusoO/Rag-knowledge-system/internal/store/postgres"
	"github.com/CrusoO/Rag-knowledge-system/internal/store/sqlite"
)

// Run starts the chat service HTTP server and blocks until shutdown or error.
func Run() error {
	log := logger.New("chat-service")

	cfg, err := config.New()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load configuration")
		return err
	}

	log.Info().
		Str("environment", cfg.Environment).
		Str("db_driver", cfg.DBDriver).
		Int("http_port", cfg.HTTPPort).
		Str("backend_url", cfg.BackendURL).
		Msg("Chat service starting")

	ctx, stop := newServerContext()
	defer stop()

	st, err := newStore(cfg, log)
	if err != nil {
		return err
	}

	backend := assistant.NewClient(cfg.BackendURL, cfg.BackendTimeout(), log)
	limiter := ratelimit.New(st.RateCounters(), cfg.RateLimitWindow(), cfg.RateLimitMaxRequests, log)

	svcHealth := startHealthCheckers(ctx, cfg, log, st, backend)

	router := api.NewRouter(api.Deps{
		Chat:          services.NewChatService(st, backend, limiter, log),
		Conversations: services.NewConversationService(st),
		Documents:     services.NewDocumentService(st, cfg.UploadDir, log),
		Users:         services.NewUserService(st),
		Limiter:       limiter,
		Authorizer:    newAuthorizer(cfg, log),
		IsHealthy:     svcHealth.IsHealthy,
	})

	server := newHTTPServer(ctx, cfg, router)
	errCh := serveHTTP(server, log, cfg)

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down server")
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctxShutdown); err != nil {
			log.Error().Stack().Err(err).Msg("Server forced to shutdown")
			return err
		}
		log.Info().Msg("Server exited")
		return nil
	case err := <-errCh:
		log.Error().Stack().Err(err).Msg("HTTP server failed")
		return err
	}
}

// newStore opens the configured store driver and ensures its schema.
func newStore(cfg *config.Config, log zerolog.Logger) (store.Store, error) {
	switch cfg.DBDriver {
	case "postgres":
		db, err := postgres.Open(cfg.PostgresDSN)
		if err != nil {
			log.Error().Stack().Err(err).Msg("Postgres unavailable")
			return nil, err
		}
		if err := postgres.EnsureSchema(db); err != nil {
			return nil, err
		}
		return postgres.NewWithDB(db), nil
	case "sqlite":
		st, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			log.Error().Stack().Err(err).Msg("SQLite unavailable")
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER: %s", cfg.DBDriver)
	}
}

// newAuthorizer selects the key table, or the dev key when none is configured
// outside production.
func newAuthorizer(cfg *config.Config, log zerolog.Logger) auth.Authorizer {
	keys := make([]string, 0, len(cfg.APIKeys))
	for _, k := range cfg.APIKeys {
		if k != "" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 && !cfg.IsProduction() {
		log.Warn().Msg("no API keys configured, accepting the local development key")
		return auth.NewMockAuthorizer()
	}
	return auth.NewStaticAuthorizer(keys)
}

// startHealthCheckers starts component checkers and the service-level aggregator.
func startHealthCheckers(ctx context.Context, cfg *config.Config, log zerolog.Logger, st store.Store, backend *assistant.Client) *health.ServiceHealthChecker {
	probeTimeout := time.Duration(cfg.HealthProbeTimeoutSeconds) * time.Second
	interval := time.Duration(cfg.HealthIntervalSeconds) * time.Second

	storeChecker := store.NewStoreHealthChecker(st, log, probeTimeout)
	go storeChecker.Start(ctx, interval)

	backendChecker := assistant.NewHealthChecker(backend, log, probeTimeout)
	go backendChecker.Start(ctx, interval)

	svcHealth := health.NewServiceHealthChecker(log, storeChecker, backendChecker)
	go svcHealth.Start(ctx, interval)
	return svcHealth
}

func newHTTPServer(ctx context.Context, cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.GetHTTPAddr(),
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
}

func serveHTTP(server *http.Server, log zerolog.Logger, cfg *config.Config) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.HTTPPort).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	return errCh
}

// newServerContext returns a cancellable context that is cancelled on SIGINT/SIGTERM.
func newServerContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
