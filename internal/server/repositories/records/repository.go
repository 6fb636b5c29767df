// Package records provides the authoritative server-side store of
// synchronized records: versioned, owned, soft-deletable rows queryable by
// owner and modification time.
package records

import (
	"context"

	"github.com/dmitrijs2005/wirechat/internal/model"
)

// Repository describes storage operations for synchronized records.
//
// Every read and write is scoped to an owner. A row that exists but belongs
// to another principal yields common.ErrOwnershipMismatch, never a not-found,
// so callers can tell the two apart and log accordingly.
type Repository interface {
	// Insert stores a new record. The id must already be assigned.
	Insert(ctx context.Context, rec *model.Record) error

	// Get returns the record with the given id. Missing rows yield
	// common.ErrNotFound; rows of another owner yield
	// common.ErrOwnershipMismatch.
	Get(ctx context.Context, ownerID, id string) (*model.Record, error)

	// Update rewrites payload, deleted flag and updated_at of an existing
	// record, verifying ownership.
	Update(ctx context.Context, rec *model.Record) error

	// SelectUpdated returns all records of the owner with
	// updated_at > cursor, ascending by updated_at. The lower bound is
	// exclusive; tombstones are included.
	SelectUpdated(ctx context.Context, ownerID string, cursor int64) ([]*model.Record, error)

	// ListChatMessages returns the non-deleted message records of one
	// chat, chronological by updated_at.
	ListChatMessages(ctx context.Context, ownerID, chatID string) ([]*model.Record, error)

	// MessagesCreatedAfter returns the non-deleted message records of one
	// chat created strictly after the given stamp. Used for
	// edit-triggered branch truncation.
	MessagesCreatedAfter(ctx context.Context, ownerID, chatID string, createdAt int64) ([]*model.Record, error)

	// MaxUpdatedAt returns the largest updated_at among the owner's
	// records, or 0 if there are none.
	MaxUpdatedAt(ctx context.Context, ownerID string) (int64, error)
}
