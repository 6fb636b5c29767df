// Package cli implements the interactive terminal client: an offline-first
// chat browser over the local cache, with background sync and a live
// subscription keeping it fresh while the server is reachable.
package cli

import (
	"bufio"
	"context"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/dmitrijs2005/wirechat/internal/client/api"
	"github.com/dmitrijs2005/wirechat/internal/client/cache"
	"github.com/dmitrijs2005/wirechat/internal/client/config"
	"github.com/dmitrijs2005/wirechat/internal/client/live"
	"github.com/dmitrijs2005/wirechat/internal/client/syncengine"
	"github.com/dmitrijs2005/wirechat/internal/logging"
)

// App wires the CLI: local cache, server transport, sync engine and the live
// subscription.
type App struct {
	config *config.Config
	cache  *cache.Cache
	api    *api.Client
	engine *syncengine.Engine
	live   *live.Runner
	logger logging.Logger
	reader *bufio.Reader

	loggedIn      bool
	currentChatID string
	modelConfigID string

	stopBackground context.CancelFunc
}

// NewApp opens the local cache and builds the client components.
func NewApp(c *config.Config) (*App, error) {
	ctx := context.Background()

	db, err := cache.Open(ctx, c.DatabaseDSN)
	if err != nil {
		log.Printf("error initializing database: %s", err.Error())
		return nil, err
	}

	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	localCache := cache.New(db)
	apiClient := api.New(c.ServerEndpointAddr, nil)
	engine := syncengine.New(localCache, apiClient, logger)
	liveRunner := live.New(apiClient, engine, localCache, logger, c.LiveBackoff)

	return &App{
		config: c,
		cache:  localCache,
		api:    apiClient,
		engine: engine,
		live:   liveRunner,
		logger: logger,
		reader: bufio.NewReader(os.Stdin),
	}, nil
}

// Run starts the REPL.
func (a *App) Run(ctx context.Context) {
	defer a.stopBackgroundTasks()
	a.Root(ctx)
}

func (a *App) isLoggedIn() bool {
	return a.loggedIn
}

// startBackgroundTasks launches the live subscription and the periodic sync.
// Called once after a successful login.
func (a *App) startBackgroundTasks(ctx context.Context) {
	bgCtx, cancel := context.WithCancel(ctx)
	a.stopBackground = cancel

	go a.live.Run(bgCtx)

	go func() {
		ticker := time.NewTicker(a.config.SyncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-bgCtx.Done():
				return
			case <-ticker.C:
				_ = a.engine.TriggerSync(bgCtx)
			}
		}
	}()
}

func (a *App) stopBackgroundTasks() {
	if a.stopBackground != nil {
		a.stopBackground()
		a.stopBackground = nil
	}
}
