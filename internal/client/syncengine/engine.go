// Package syncengine drives the client's delta exchange: it collects
// pending local writes, pushes them with the persisted cursor, and commits
// the returned delta back into the cache.
package syncengine

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/dmitrijs2005/wirechat/internal/client/cache"
	"github.com/dmitrijs2005/wirechat/internal/common"
	"github.com/dmitrijs2005/wirechat/internal/logging"
	"github.com/dmitrijs2005/wirechat/internal/model"
)

// API is the server call the engine needs.
type API interface {
	Sync(ctx context.Context, cursor int64, changes map[model.Kind][]model.Change) (*model.SyncResponse, error)
}

// Engine runs at most one sync at a time. A trigger arriving while a sync is
// in flight is coalesced into one follow-up run, so writes made mid-flight
// are pushed promptly without stacking requests.
type Engine struct {
	cache  *cache.Cache
	api    API
	logger logging.Logger

	// onDelta, when set, runs after a commit that brought new records.
	onDelta func()

	syncing atomic.Bool
	rerun   atomic.Bool
}

// New constructs an Engine.
func New(c *cache.Cache, api API, logger logging.Logger) *Engine {
	return &Engine{cache: c, api: api, logger: logger.With("module", "syncengine")}
}

// OnDelta registers a callback invoked after each commit that changed the
// cache. Used by UIs to refresh.
func (e *Engine) OnDelta(fn func()) {
	e.onDelta = fn
}

// TriggerSync performs a sync cycle. If one is already running the request
// is coalesced into a follow-up run and TriggerSync returns immediately.
func (e *Engine) TriggerSync(ctx context.Context) error {
	if !e.syncing.CompareAndSwap(false, true) {
		e.rerun.Store(true)
		return nil
	}
	defer e.syncing.Store(false)

	for {
		if err := e.syncOnce(ctx); err != nil {
			e.rerun.Store(false)
			return err
		}
		if !e.rerun.Swap(false) {
			return nil
		}
	}
}

// CommitRemote applies a delta the server pushed on its own initiative.
// Nothing is uploaded: the records already came from the server. If a sync
// is in flight the delta is folded into its follow-up run instead.
func (e *Engine) CommitRemote(ctx context.Context, resp *model.SyncResponse) error {
	if !e.syncing.CompareAndSwap(false, true) {
		e.rerun.Store(true)
		return nil
	}
	defer e.syncing.Store(false)

	if err := e.commitRemote(ctx, resp); err != nil {
		e.rerun.Store(false)
		return err
	}

	for e.rerun.Swap(false) {
		if err := e.syncOnce(ctx); err != nil {
			e.rerun.Store(false)
			return err
		}
	}
	return nil
}

func (e *Engine) commitRemote(ctx context.Context, resp *model.SyncResponse) error {
	cursor, err := e.cache.Cursor(ctx)
	if err != nil {
		return err
	}

	if resp.Cursor != 0 && resp.Cursor < cursor {
		e.logger.Warn(ctx, "server cursor behind local, resetting", "local", cursor, "server", resp.Cursor)
		if err := e.cache.SetCursor(ctx, 0); err != nil {
			return err
		}
		return common.ErrCursorRegression
	}

	if err := e.cache.ApplyServer(ctx, resp.Records); err != nil {
		return err
	}
	if err := e.cache.SetCursor(ctx, resp.Cursor); err != nil {
		return err
	}

	if len(resp.Records) > 0 && e.onDelta != nil {
		e.onDelta()
	}
	return nil
}

// syncOnce pushes pending changes and commits the response. The cursor only
// advances after the delta is fully applied, so a failed commit re-delivers
// the same records next time.
func (e *Engine) syncOnce(ctx context.Context) error {
	cursor, err := e.cache.Cursor(ctx)
	if err != nil {
		return err
	}

	changes, marks, err := e.cache.Unsynced(ctx)
	if err != nil {
		return err
	}

	resp, err := e.api.Sync(ctx, cursor, changes)
	if err != nil {
		return fmt.Errorf("sync call: %w", err)
	}

	// a cursor below ours means the server's history restarted; drop the
	// local cursor so the next cycle pulls everything from scratch
	if resp.Cursor != 0 && resp.Cursor < cursor {
		e.logger.Warn(ctx, "server cursor behind local, resetting", "local", cursor, "server", resp.Cursor)
		if err := e.cache.SetCursor(ctx, 0); err != nil {
			return err
		}
		return common.ErrCursorRegression
	}

	if err := e.cache.MarkSynced(ctx, marks); err != nil {
		return err
	}
	if err := e.cache.ApplyServer(ctx, resp.Records); err != nil {
		return err
	}
	if err := e.cache.SetCursor(ctx, resp.Cursor); err != nil {
		return err
	}

	if len(resp.Records) > 0 && e.onDelta != nil {
		e.onDelta()
	}
	return nil
}
