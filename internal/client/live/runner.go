// Package live keeps the client cache fresh: it holds a server subscription
// open, and whenever the server pushes a delta notification it runs a sync
// cycle and resubscribes from the advanced cursor.
package live

import (
	"context"
	"time"

	"github.com/dmitrijs2005/wirechat/internal/client/cache"
	"github.com/dmitrijs2005/wirechat/internal/client/syncengine"
	"github.com/dmitrijs2005/wirechat/internal/logging"
	"github.com/dmitrijs2005/wirechat/internal/model"
)

// API is the subscription call the runner needs.
type API interface {
	Live(ctx context.Context, cursor int64) (*model.SyncResponse, error)
}

// Runner loops subscribe, wait, sync, resubscribe until its context ends.
type Runner struct {
	api     API
	engine  *syncengine.Engine
	cache   *cache.Cache
	logger  logging.Logger
	backoff time.Duration
}

// New constructs a Runner. backoff is the wait before re-dialing after a
// failed subscription.
func New(api API, engine *syncengine.Engine, c *cache.Cache, logger logging.Logger, backoff time.Duration) *Runner {
	return &Runner{
		api:     api,
		engine:  engine,
		cache:   c,
		logger:  logger.With("module", "live"),
		backoff: backoff,
	}
}

// Run blocks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	for ctx.Err() == nil {
		cursor, err := r.cache.Cursor(ctx)
		if err != nil {
			r.logger.Error(ctx, "reading cursor", "error", err.Error())
			cursor = 0
		}

		resp, err := r.api.Live(ctx, cursor)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Warn(ctx, "live subscription failed", "error", err.Error())
			select {
			case <-ctx.Done():
				return
			case <-time.After(r.backoff):
			}
			continue
		}

		// the delta already came from the server, so it is committed
		// directly without a push cycle
		if err := r.engine.CommitRemote(ctx, resp); err != nil {
			r.logger.Warn(ctx, "committing live delta failed", "error", err.Error())
		}
	}
}
