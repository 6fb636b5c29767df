package records

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/dmitrijs2005/wirechat/internal/common"
	"github.com/dmitrijs2005/wirechat/internal/model"
)

// MemoryRepository is an in-memory Repository used in tests and by the
// orchestrator's unit tests. Semantics mirror PostgresRepository.
type MemoryRepository struct {
	mu   sync.RWMutex
	rows map[string]*model.Record
}

// NewMemoryRepository returns an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[string]*model.Record)}
}

func (r *MemoryRepository) Insert(ctx context.Context, rec *model.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rec
	r.rows[rec.ID] = &cp
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, ownerID, id string) (*model.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.rows[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	if rec.OwnerID != ownerID {
		return nil, common.ErrOwnershipMismatch
	}
	cp := *rec
	return &cp, nil
}

func (r *MemoryRepository) Update(ctx context.Context, rec *model.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.rows[rec.ID]
	if !ok || existing.OwnerID != rec.OwnerID {
		return common.ErrNotFound
	}
	existing.Payload = rec.Payload
	existing.Deleted = rec.Deleted
	existing.UpdatedAt = rec.UpdatedAt
	return nil
}

func (r *MemoryRepository) SelectUpdated(ctx context.Context, ownerID string, cursor int64) ([]*model.Record, error) {
	return r.selectSorted(func(rec *model.Record) bool {
		return rec.OwnerID == ownerID && rec.UpdatedAt > cursor
	}, byUpdatedAt), nil
}

func (r *MemoryRepository) ListChatMessages(ctx context.Context, ownerID, chatID string) ([]*model.Record, error) {
	return r.selectSorted(func(rec *model.Record) bool {
		return rec.OwnerID == ownerID && rec.Kind == model.KindMessage &&
			!rec.Deleted && messageChatID(rec) == chatID
	}, byUpdatedAt), nil
}

func (r *MemoryRepository) MessagesCreatedAfter(ctx context.Context, ownerID, chatID string, createdAt int64) ([]*model.Record, error) {
	return r.selectSorted(func(rec *model.Record) bool {
		return rec.OwnerID == ownerID && rec.Kind == model.KindMessage &&
			!rec.Deleted && messageChatID(rec) == chatID && rec.CreatedAt > createdAt
	}, byCreatedAt), nil
}

func (r *MemoryRepository) MaxUpdatedAt(ctx context.Context, ownerID string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var maxUpdated int64
	for _, rec := range r.rows {
		if rec.OwnerID == ownerID && rec.UpdatedAt > maxUpdated {
			maxUpdated = rec.UpdatedAt
		}
	}
	return maxUpdated, nil
}

func (r *MemoryRepository) selectSorted(match func(*model.Record) bool, less func(a, b *model.Record) bool) []*model.Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []*model.Record
	for _, rec := range r.rows {
		if match(rec) {
			cp := *rec
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return less(result[i], result[j]) })
	return result
}

func byUpdatedAt(a, b *model.Record) bool { return a.UpdatedAt < b.UpdatedAt }
func byCreatedAt(a, b *model.Record) bool { return a.CreatedAt < b.CreatedAt }

func messageChatID(rec *model.Record) string {
	var p model.MessagePayload
	if err := json.Unmarshal(rec.Payload, &p); err != nil {
		return ""
	}
	return p.ChatID
}
