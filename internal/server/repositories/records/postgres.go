package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/wirechat/internal/common"
	"github.com/dmitrijs2005/wirechat/internal/dbx"
	"github.com/dmitrijs2005/wirechat/internal/model"
)

// PostgresRepository implements Repository over a dbx.DBTX
// (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Insert(ctx context.Context, rec *model.Record) error {
	query := `
		INSERT INTO records (id, owner_id, kind, deleted, updated_at, created_at, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.OwnerID, rec.Kind, rec.Deleted, rec.UpdatedAt, rec.CreatedAt, rec.Payload)
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, ownerID, id string) (*model.Record, error) {
	query := `
		SELECT id, owner_id, kind, deleted, updated_at, created_at, payload
		FROM records WHERE id = $1
	`
	rec := &model.Record{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&rec.ID, &rec.OwnerID, &rec.Kind, &rec.Deleted, &rec.UpdatedAt, &rec.CreatedAt, &rec.Payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("failed to select record: %w", err)
	}
	if rec.OwnerID != ownerID {
		return nil, common.ErrOwnershipMismatch
	}
	return rec, nil
}

func (r *PostgresRepository) Update(ctx context.Context, rec *model.Record) error {
	query := `
		UPDATE records SET payload = $1, deleted = $2, updated_at = $3
		WHERE id = $4 AND owner_id = $5
	`
	res, err := r.db.ExecContext(ctx, query,
		rec.Payload, rec.Deleted, rec.UpdatedAt, rec.ID, rec.OwnerID)
	if err != nil {
		return fmt.Errorf("failed to update record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) SelectUpdated(ctx context.Context, ownerID string, cursor int64) ([]*model.Record, error) {
	query := `
		SELECT id, owner_id, kind, deleted, updated_at, created_at, payload
		FROM records
		WHERE owner_id = $1 AND updated_at > $2
		ORDER BY updated_at ASC
	`
	return r.selectRecords(ctx, query, ownerID, cursor)
}

func (r *PostgresRepository) ListChatMessages(ctx context.Context, ownerID, chatID string) ([]*model.Record, error) {
	query := `
		SELECT id, owner_id, kind, deleted, updated_at, created_at, payload
		FROM records
		WHERE owner_id = $1 AND kind = 'messages' AND deleted = false
			AND payload->>'chatId' = $2
		ORDER BY updated_at ASC
	`
	return r.selectRecords(ctx, query, ownerID, chatID)
}

func (r *PostgresRepository) MessagesCreatedAfter(ctx context.Context, ownerID, chatID string, createdAt int64) ([]*model.Record, error) {
	query := `
		SELECT id, owner_id, kind, deleted, updated_at, created_at, payload
		FROM records
		WHERE owner_id = $1 AND kind = 'messages' AND deleted = false
			AND payload->>'chatId' = $2 AND created_at > $3
		ORDER BY created_at ASC
	`
	return r.selectRecords(ctx, query, ownerID, chatID, createdAt)
}

func (r *PostgresRepository) MaxUpdatedAt(ctx context.Context, ownerID string) (int64, error) {
	query := `SELECT COALESCE(MAX(updated_at), 0) FROM records WHERE owner_id = $1`
	var maxUpdated int64
	if err := r.db.QueryRowContext(ctx, query, ownerID).Scan(&maxUpdated); err != nil {
		return 0, fmt.Errorf("failed to select max updated_at: %w", err)
	}
	return maxUpdated, nil
}

func (r *PostgresRepository) selectRecords(ctx context.Context, query string, args ...any) ([]*model.Record, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select records: %w", err)
	}
	defer rows.Close()

	var result []*model.Record
	for rows.Next() {
		rec := &model.Record{}
		if err := rows.Scan(
			&rec.ID, &rec.OwnerID, &rec.Kind, &rec.Deleted, &rec.UpdatedAt, &rec.CreatedAt, &rec.Payload,
		); err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
