package syncengine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/dmitrijs2005/wirechat/internal/client/cache"
	"github.com/dmitrijs2005/wirechat/internal/common"
	"github.com/dmitrijs2005/wirechat/internal/logging"
	"github.com/dmitrijs2005/wirechat/internal/model"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	gotCursor  int64
	gotChanges map[model.Kind][]model.Change
	resp       *model.SyncResponse
	err        error
	calls      int
}

func (f *fakeAPI) Sync(ctx context.Context, cursor int64, changes map[model.Kind][]model.Change) (*model.SyncResponse, error) {
	f.calls++
	f.gotCursor = cursor
	f.gotChanges = changes
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func newTestEngine(t *testing.T, api API) (*Engine, *cache.Cache) {
	t.Helper()

	db, err := cache.Open(context.Background(), filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	c := cache.New(db)
	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	return New(c, api, logger), c
}

func TestTriggerSync_PushesPendingAndCommitsDelta(t *testing.T) {
	api := &fakeAPI{resp: &model.SyncResponse{
		Records: []model.WireRecord{
			{ID: "c1", Kind: model.KindChat, State: model.StateUpdated, UpdatedAt: 100, CreatedAt: 100, Payload: []byte(`{"title":"server"}`)},
		},
		Cursor: 100,
	}}
	eng, c := newTestEngine(t, api)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, model.KindChat, "c1", []byte(`{"title":"local"}`)))

	require.NoError(t, eng.TriggerSync(ctx))

	// pushed the local change with the zero cursor
	require.Equal(t, int64(0), api.gotCursor)
	require.Len(t, api.gotChanges[model.KindChat], 1)

	// committed the server's version and advanced the cursor
	rec, err := c.Get(ctx, model.KindChat, "c1")
	require.NoError(t, err)
	require.False(t, rec.Unsynced)
	require.JSONEq(t, `{"title":"server"}`, string(rec.Payload))

	cursor, err := c.Cursor(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(100), cursor)
}

func TestTriggerSync_CursorWithheldOnCallFailure(t *testing.T) {
	api := &fakeAPI{err: errors.New("network down")}
	eng, c := newTestEngine(t, api)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, model.KindChat, "c1", []byte(`{"title":"x"}`)))
	require.NoError(t, c.SetCursor(ctx, 50))

	require.Error(t, eng.TriggerSync(ctx))

	// nothing moved: the change stays pending, the cursor stays put
	changes, _, err := c.Unsynced(ctx)
	require.NoError(t, err)
	require.Len(t, changes[model.KindChat], 1)

	cursor, err := c.Cursor(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(50), cursor)
}

func TestTriggerSync_CursorRegressionResets(t *testing.T) {
	api := &fakeAPI{resp: &model.SyncResponse{Cursor: 10}}
	eng, c := newTestEngine(t, api)
	ctx := context.Background()

	require.NoError(t, c.SetCursor(ctx, 500))

	err := eng.TriggerSync(ctx)
	require.ErrorIs(t, err, common.ErrCursorRegression)

	cursor, err := c.Cursor(ctx)
	require.NoError(t, err)
	require.Zero(t, cursor, "local cursor cleared for a full resync")
}

func TestTriggerSync_EmptyDeltaKeepsCursor(t *testing.T) {
	api := &fakeAPI{resp: &model.SyncResponse{Cursor: 50}}
	eng, c := newTestEngine(t, api)
	ctx := context.Background()

	require.NoError(t, c.SetCursor(ctx, 50))
	require.NoError(t, eng.TriggerSync(ctx))

	cursor, err := c.Cursor(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(50), cursor)
}

func TestTriggerSync_ZeroCursorClearsLocal(t *testing.T) {
	api := &fakeAPI{resp: &model.SyncResponse{Cursor: 0}}
	eng, c := newTestEngine(t, api)
	ctx := context.Background()

	// server signals a reset with cursor 0
	require.NoError(t, eng.TriggerSync(ctx))

	cursor, err := c.Cursor(ctx)
	require.NoError(t, err)
	require.Zero(t, cursor)
}

func TestCommitRemote_AppliesWithoutUpload(t *testing.T) {
	api := &fakeAPI{}
	eng, c := newTestEngine(t, api)
	ctx := context.Background()

	// a pending local write must not ride along with the pushed delta
	require.NoError(t, c.Set(ctx, model.KindMessage, "m1", []byte(`{"content":"draft"}`)))

	require.NoError(t, eng.CommitRemote(ctx, &model.SyncResponse{
		Records: []model.WireRecord{
			{ID: "c1", Kind: model.KindChat, State: model.StateUpdated, UpdatedAt: 10, CreatedAt: 10, Payload: []byte(`{"title":"pushed"}`)},
		},
		Cursor: 10,
	}))

	require.Zero(t, api.calls, "no sync call for a server-pushed delta")

	rec, err := c.Get(ctx, model.KindChat, "c1")
	require.NoError(t, err)
	require.JSONEq(t, `{"title":"pushed"}`, string(rec.Payload))

	cursor, err := c.Cursor(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(10), cursor)

	// the local write is still pending for the next push cycle
	changes, _, err := c.Unsynced(ctx)
	require.NoError(t, err)
	require.Len(t, changes[model.KindMessage], 1)
}

func TestCommitRemote_CursorRegressionResets(t *testing.T) {
	api := &fakeAPI{}
	eng, c := newTestEngine(t, api)
	ctx := context.Background()

	require.NoError(t, c.SetCursor(ctx, 500))

	err := eng.CommitRemote(ctx, &model.SyncResponse{Cursor: 10})
	require.ErrorIs(t, err, common.ErrCursorRegression)

	cursor, err := c.Cursor(ctx)
	require.NoError(t, err)
	require.Zero(t, cursor)
}

func TestOnDelta_FiresOnlyWhenRecordsArrive(t *testing.T) {
	api := &fakeAPI{resp: &model.SyncResponse{Cursor: 5}}
	eng, _ := newTestEngine(t, api)

	fired := 0
	eng.OnDelta(func() { fired++ })

	require.NoError(t, eng.TriggerSync(context.Background()))
	require.Zero(t, fired)

	api.resp = &model.SyncResponse{
		Records: []model.WireRecord{{ID: "r1", Kind: model.KindChat, State: model.StateUpdated, UpdatedAt: 6, Payload: []byte(`{}`)}},
		Cursor:  6,
	}
	require.NoError(t, eng.TriggerSync(context.Background()))
	require.Equal(t, 1, fired)
}
