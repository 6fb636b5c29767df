// Package server initializes and runs the application server: it opens the
// record store and the stream buffer backend, wires the services, and starts
// the HTTP endpoint with graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/wirechat/internal/logging"
	"github.com/dmitrijs2005/wirechat/internal/metrics"
	"github.com/dmitrijs2005/wirechat/internal/server/clock"
	"github.com/dmitrijs2005/wirechat/internal/server/config"
	"github.com/dmitrijs2005/wirechat/internal/server/generate"
	"github.com/dmitrijs2005/wirechat/internal/server/httpapi"
	"github.com/dmitrijs2005/wirechat/internal/server/provider"
	"github.com/dmitrijs2005/wirechat/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/wirechat/internal/server/secrets"
	"github.com/dmitrijs2005/wirechat/internal/server/services"
	"github.com/dmitrijs2005/wirechat/internal/server/streams"
	"github.com/redis/go-redis/v9"
)

// App owns the server's long-lived components.
type App struct {
	config *config.Config
	logger logging.Logger
	db     *sql.DB
	http   *httpapi.Server
	orch   *generate.Orchestrator
}

// NewApp wires the server from configuration.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
	m := metrics.Global()

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	repos := repomanager.NewPostgresRepositoryManager()
	if err := repos.RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	buffer := streams.NewBuffer(rdb, cfg.StreamRetention)

	sealer, err := secrets.NewSealer([]byte(cfg.SealKey))
	if err != nil {
		return nil, fmt.Errorf("sealer init error: %w", err)
	}

	stamps := clock.New()
	prov := provider.NewOpenAIClient(cfg.ProviderBaseURL, nil)

	userService := services.NewUserService(db, repos, cfg.SecretKey, cfg.TokenValidityDuration)
	syncService := services.NewSyncService(db, repos, stamps, sealer, logger, m)
	orch := generate.New(db, repos, stamps, buffer, sealer, prov, logger, m)

	httpServer := httpapi.NewServer(cfg.EndpointAddrHTTP, userService, syncService, orch,
		cfg.SecretKey, cfg.LivePollInterval, logger, m)

	return &App{config: cfg, logger: logger, db: db, http: httpServer, orch: orch}, nil
}

// Run serves until an interrupt arrives, then drains in-flight generations.
func (app *App) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	app.initSignalHandler(cancel)

	app.logger.Info(ctx, "starting app")

	if err := app.http.Run(ctx); err != nil {
		app.logger.Error(ctx, "http server stopped", "error", err.Error())
	}

	app.orch.Wait()
	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "closing db", "error", err.Error())
	}
}

func (app *App) initSignalHandler(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancel()
	}()
}
