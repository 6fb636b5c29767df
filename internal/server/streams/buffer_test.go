package streams

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dmitrijs2005/wirechat/internal/common"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestBuffer(t *testing.T, retention time.Duration) (*Buffer, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewBuffer(rdb, retention), mr
}

func TestBuffer_AppendAndContent(t *testing.T) {
	b, _ := newTestBuffer(t, time.Hour)
	ctx := context.Background()

	id, err := b.Create(ctx, "u1")
	require.NoError(t, err)

	require.NoError(t, b.Append(ctx, "u1", id, "Hi"))
	require.NoError(t, b.Append(ctx, "u1", id, " there"))

	content, err := b.Content(ctx, "u1", id)
	require.NoError(t, err)
	require.Equal(t, "Hi there", content)
}

func TestBuffer_AppendAfterFinishReturnsStreamFinished(t *testing.T) {
	b, _ := newTestBuffer(t, time.Hour)
	ctx := context.Background()

	id, err := b.Create(ctx, "u1")
	require.NoError(t, err)
	require.NoError(t, b.Append(ctx, "u1", id, "one"))
	require.NoError(t, b.Finish(ctx, "u1", id))

	err = b.Append(ctx, "u1", id, "two")
	require.ErrorIs(t, err, common.ErrStreamFinished)

	// nothing was persisted past the flag flip
	chunks, err := b.Chunks(ctx, "u1", id)
	require.NoError(t, err)
	require.Equal(t, []string{"one"}, chunks)
}

func TestBuffer_FinishStartsRetentionCountdown(t *testing.T) {
	b, mr := newTestBuffer(t, time.Hour)
	ctx := context.Background()

	id, err := b.Create(ctx, "u1")
	require.NoError(t, err)
	require.NoError(t, b.Append(ctx, "u1", id, "x"))

	// unfinished streams never expire
	mr.FastForward(2 * time.Hour)
	_, err = b.Content(ctx, "u1", id)
	require.NoError(t, err)

	require.NoError(t, b.Finish(ctx, "u1", id))
	mr.FastForward(2 * time.Hour)

	_, err = b.Content(ctx, "u1", id)
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestBuffer_FinishIsIdempotentAndDoesNotExtendRetention(t *testing.T) {
	b, mr := newTestBuffer(t, time.Hour)
	ctx := context.Background()

	id, err := b.Create(ctx, "u1")
	require.NoError(t, err)
	require.NoError(t, b.Finish(ctx, "u1", id))

	mr.FastForward(30 * time.Minute)
	require.NoError(t, b.Finish(ctx, "u1", id))

	// if the second Finish reset the TTL the stream would still be alive
	mr.FastForward(45 * time.Minute)
	_, err = b.Finished(ctx, "u1", id)
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestBuffer_OwnershipIsEnforced(t *testing.T) {
	b, _ := newTestBuffer(t, time.Hour)
	ctx := context.Background()

	id, err := b.Create(ctx, "u1")
	require.NoError(t, err)

	require.ErrorIs(t, b.Append(ctx, "u2", id, "x"), common.ErrOwnershipMismatch)
	require.ErrorIs(t, b.Finish(ctx, "u2", id), common.ErrOwnershipMismatch)
	_, err = b.Content(ctx, "u2", id)
	require.ErrorIs(t, err, common.ErrOwnershipMismatch)

	_, err = b.Finished(ctx, "u1", "no-such-stream")
	require.ErrorIs(t, err, common.ErrNotFound)
}
