// Package cache implements the client's local record store: an offline
// SQLite mirror of the server's synchronized records, with an unsynced flag
// marking local writes that still need pushing.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dmitrijs2005/wirechat/internal/client/migrations"
	"github.com/dmitrijs2005/wirechat/internal/common"
	"github.com/dmitrijs2005/wirechat/internal/dbx"
	"github.com/dmitrijs2005/wirechat/internal/model"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

const cursorKey = "sync_cursor"

// CachedRecord is one locally stored record. Unsynced marks a local write
// that has not been acknowledged by the server yet.
type CachedRecord struct {
	ID        string
	Kind      model.Kind
	Deleted   bool
	Unsynced  bool
	UpdatedAt int64
	CreatedAt int64
	Payload   json.RawMessage
}

// Mark identifies one unsynced row at collection time. A row is only cleared
// if its updated_at still matches, so writes made while a sync was in flight
// stay marked.
type Mark struct {
	Kind      model.Kind
	ID        string
	UpdatedAt int64
}

// Cache is the local record store.
type Cache struct {
	db  dbx.DBTX
	now func() int64
}

// New returns a Cache bound to the given DBTX.
func New(db dbx.DBTX) *Cache {
	return &Cache{db: db, now: func() int64 { return time.Now().UnixMilli() }}
}

// NewWithNow returns a Cache using a custom millisecond source (tests).
func NewWithNow(db dbx.DBTX, now func() int64) *Cache {
	return &Cache{db: db, now: now}
}

// Open opens (or creates) the cache database at dsn and applies the
// embedded migrations.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return nil, fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return db, nil
}

// Set stores a local write: the payload is upserted, the row is stamped with
// the local clock and marked unsynced. created_at is preserved on update.
func (c *Cache) Set(ctx context.Context, kind model.Kind, id string, payload json.RawMessage) error {
	now := c.now()
	query := `
		INSERT INTO records (kind, id, deleted, unsynced, updated_at, created_at, payload)
		VALUES (?, ?, 0, 1, ?, ?, ?)
		ON CONFLICT(kind, id) DO UPDATE SET
			deleted = 0,
			unsynced = 1,
			updated_at = excluded.updated_at,
			payload = excluded.payload
	`
	_, err := c.db.ExecContext(ctx, query, kind, id, now, now, string(payload))
	if err != nil {
		return fmt.Errorf("failed to upsert record: %w", err)
	}
	return nil
}

// Delete tombstones records locally and marks them unsynced so the deletions
// propagate on the next push. The first id without a matching row stops the
// batch with common.ErrNotFound.
func (c *Cache) Delete(ctx context.Context, kind model.Kind, ids ...string) error {
	for _, id := range ids {
		res, err := c.db.ExecContext(ctx,
			`UPDATE records SET deleted=1, unsynced=1, updated_at=? WHERE kind=? AND id=?`,
			c.now(), kind, id)
		if err != nil {
			return fmt.Errorf("failed to delete record: %w", err)
		}
		ra, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if ra == 0 {
			return common.ErrNotFound
		}
	}
	return nil
}

// Get returns one non-deleted record.
func (c *Cache) Get(ctx context.Context, kind model.Kind, id string) (*CachedRecord, error) {
	query := `
		SELECT kind, id, deleted, unsynced, updated_at, created_at, payload
		FROM records WHERE kind=? AND id=? AND deleted=0
	`
	rec, err := scanRecord(c.db.QueryRowContext(ctx, query, kind, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("failed to select record: %w", err)
	}
	return rec, nil
}

// All lists the non-deleted records of one kind, oldest first.
func (c *Cache) All(ctx context.Context, kind model.Kind) ([]*CachedRecord, error) {
	query := `
		SELECT kind, id, deleted, unsynced, updated_at, created_at, payload
		FROM records WHERE kind=? AND deleted=0 ORDER BY updated_at
	`
	rows, err := c.db.QueryContext(ctx, query, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to select records: %w", err)
	}
	defer rows.Close()

	var result []*CachedRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

// Unsynced collects all pending local writes as sync changes, plus the marks
// needed to clear them after a successful push.
func (c *Cache) Unsynced(ctx context.Context) (map[model.Kind][]model.Change, []Mark, error) {
	query := `
		SELECT kind, id, deleted, unsynced, updated_at, created_at, payload
		FROM records WHERE unsynced=1 ORDER BY updated_at
	`
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to select unsynced records: %w", err)
	}
	defer rows.Close()

	changes := make(map[model.Kind][]model.Change)
	var marks []Mark
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, nil, err
		}
		state := model.StateUpdated
		if rec.Deleted {
			state = model.StateDeleted
		}
		changes[rec.Kind] = append(changes[rec.Kind], model.Change{
			ID: rec.ID, State: state, Payload: rec.Payload,
		})
		marks = append(marks, Mark{Kind: rec.Kind, ID: rec.ID, UpdatedAt: rec.UpdatedAt})
	}
	return changes, marks, rows.Err()
}

// MarkSynced clears the unsynced flag for rows that are unchanged since
// collection.
func (c *Cache) MarkSynced(ctx context.Context, marks []Mark) error {
	for _, m := range marks {
		_, err := c.db.ExecContext(ctx,
			`UPDATE records SET unsynced=0 WHERE kind=? AND id=? AND updated_at=?`,
			m.Kind, m.ID, m.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to mark record synced: %w", err)
		}
	}
	return nil
}

// ApplyServer commits a pulled delta: updated records are upserted, deleted
// ones purged. Rows that picked up a new local write in the meantime keep
// their unsynced payload and are pushed on the next sync.
func (c *Cache) ApplyServer(ctx context.Context, recs []model.WireRecord) error {
	for _, rec := range recs {
		if rec.State == model.StateDeleted {
			_, err := c.db.ExecContext(ctx,
				`DELETE FROM records WHERE kind=? AND id=? AND unsynced=0`, rec.Kind, rec.ID)
			if err != nil {
				return fmt.Errorf("failed to purge record: %w", err)
			}
			continue
		}

		query := `
			INSERT INTO records (kind, id, deleted, unsynced, updated_at, created_at, payload)
			VALUES (?, ?, 0, 0, ?, ?, ?)
			ON CONFLICT(kind, id) DO UPDATE SET
				deleted = 0,
				updated_at = excluded.updated_at,
				created_at = excluded.created_at,
				payload = excluded.payload
			WHERE records.unsynced = 0
		`
		_, err := c.db.ExecContext(ctx, query,
			rec.Kind, rec.ID, rec.UpdatedAt, rec.CreatedAt, string(rec.Payload))
		if err != nil {
			return fmt.Errorf("failed to apply server record: %w", err)
		}
	}
	return nil
}

// Cursor returns the persisted sync cursor, 0 if none.
func (c *Cache) Cursor(ctx context.Context) (int64, error) {
	var value []byte
	err := c.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key=?`, cursorKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get cursor: %w", err)
	}
	cursor, err := strconv.ParseInt(string(value), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse cursor: %w", err)
	}
	return cursor, nil
}

// SetCursor persists the sync cursor. Zero clears it.
func (c *Cache) SetCursor(ctx context.Context, cursor int64) error {
	if cursor == 0 {
		_, err := c.db.ExecContext(ctx, `DELETE FROM metadata WHERE key=?`, cursorKey)
		if err != nil {
			return fmt.Errorf("failed to clear cursor: %w", err)
		}
		return nil
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, cursorKey, []byte(strconv.FormatInt(cursor, 10)))
	if err != nil {
		return fmt.Errorf("failed to set cursor: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*CachedRecord, error) {
	rec := &CachedRecord{}
	var payload string
	if err := row.Scan(&rec.Kind, &rec.ID, &rec.Deleted, &rec.Unsynced,
		&rec.UpdatedAt, &rec.CreatedAt, &payload); err != nil {
		return nil, err
	}
	rec.Payload = json.RawMessage(payload)
	return rec, nil
}
