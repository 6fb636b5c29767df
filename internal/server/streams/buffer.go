// Package streams implements the ephemeral stream buffer backing in-flight
// generations: one append-only chunk list per stream, owner-scoped, with a
// finished flag that flips exactly once. Streams are scratch space, not
// durable history: once finished they expire after a fixed retention window.
package streams

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/wirechat/internal/common"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Buffer stores streams in redis. Layout per stream:
//
//	stream:<id>        hash {owner, finished}
//	stream:<id>:chunks list of chunk strings
type Buffer struct {
	rdb       *redis.Client
	retention time.Duration
}

// NewBuffer returns a Buffer that expires finished streams after retention.
func NewBuffer(rdb *redis.Client, retention time.Duration) *Buffer {
	return &Buffer{rdb: rdb, retention: retention}
}

func metaKey(id string) string   { return "stream:" + id }
func chunksKey(id string) string { return "stream:" + id + ":chunks" }

// Create allocates a new unfinished stream for the owner and returns its id.
func (b *Buffer) Create(ctx context.Context, ownerID string) (string, error) {
	id := uuid.NewString()
	err := b.rdb.HSet(ctx, metaKey(id), "owner", ownerID, "finished", "0").Err()
	if err != nil {
		return "", fmt.Errorf("create stream: %w", err)
	}
	return id, nil
}

// Append adds one chunk to the stream. If the finished flag has already
// flipped it returns common.ErrStreamFinished without appending; that return
// is the cooperative cancellation signal observed once per chunk.
func (b *Buffer) Append(ctx context.Context, ownerID, id, chunk string) error {
	finished, err := b.finished(ctx, ownerID, id)
	if err != nil {
		return err
	}
	if finished {
		return common.ErrStreamFinished
	}
	if err := b.rdb.RPush(ctx, chunksKey(id), chunk).Err(); err != nil {
		return fmt.Errorf("append chunk: %w", err)
	}
	return nil
}

// Finish flips the finished flag and starts the retention countdown. It is
// idempotent: a second call neither re-flips nor extends the window.
func (b *Buffer) Finish(ctx context.Context, ownerID, id string) error {
	finished, err := b.finished(ctx, ownerID, id)
	if err != nil {
		return err
	}
	if finished {
		return nil
	}
	if err := b.rdb.HSet(ctx, metaKey(id), "finished", "1").Err(); err != nil {
		return fmt.Errorf("finish stream: %w", err)
	}
	if err := b.rdb.Expire(ctx, metaKey(id), b.retention).Err(); err != nil {
		return fmt.Errorf("expire stream: %w", err)
	}
	if err := b.rdb.Expire(ctx, chunksKey(id), b.retention).Err(); err != nil {
		return fmt.Errorf("expire chunks: %w", err)
	}
	return nil
}

// Finished reports the stream's finished flag.
func (b *Buffer) Finished(ctx context.Context, ownerID, id string) (bool, error) {
	return b.finished(ctx, ownerID, id)
}

// Chunks returns the stream's chunks in append order.
func (b *Buffer) Chunks(ctx context.Context, ownerID, id string) ([]string, error) {
	if _, err := b.finished(ctx, ownerID, id); err != nil {
		return nil, err
	}
	chunks, err := b.rdb.LRange(ctx, chunksKey(id), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read chunks: %w", err)
	}
	return chunks, nil
}

// Content returns the stream's chunks joined into one string.
func (b *Buffer) Content(ctx context.Context, ownerID, id string) (string, error) {
	chunks, err := b.Chunks(ctx, ownerID, id)
	if err != nil {
		return "", err
	}
	return strings.Join(chunks, ""), nil
}

// finished loads the meta hash, enforcing existence and ownership.
func (b *Buffer) finished(ctx context.Context, ownerID, id string) (bool, error) {
	vals, err := b.rdb.HMGet(ctx, metaKey(id), "owner", "finished").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, common.ErrNotFound
		}
		return false, fmt.Errorf("read stream meta: %w", err)
	}
	owner, _ := vals[0].(string)
	if owner == "" {
		return false, common.ErrNotFound
	}
	if owner != ownerID {
		return false, common.ErrOwnershipMismatch
	}
	finished, _ := vals[1].(string)
	return finished == "1", nil
}
