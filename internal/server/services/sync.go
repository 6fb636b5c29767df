package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/wirechat/internal/common"
	"github.com/dmitrijs2005/wirechat/internal/dbx"
	"github.com/dmitrijs2005/wirechat/internal/logging"
	"github.com/dmitrijs2005/wirechat/internal/metrics"
	"github.com/dmitrijs2005/wirechat/internal/model"
	"github.com/dmitrijs2005/wirechat/internal/server/clock"
	"github.com/dmitrijs2005/wirechat/internal/server/repositories/records"
	"github.com/dmitrijs2005/wirechat/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/wirechat/internal/server/secrets"
	"github.com/google/uuid"
)

// SyncService implements the delta exchange: apply a batch of client
// changes, then return every record of the owner newer than the cursor.
//
// A change whose record belongs to another principal is skipped with a
// warning; the rest of the batch still applies. Malformed ids reject the
// whole call.
type SyncService struct {
	db      *sql.DB
	repos   repomanager.RepositoryManager
	stamps  *clock.Stamper
	sealer  *secrets.Sealer
	logger  logging.Logger
	metrics *metrics.Metrics
}

// NewSyncService constructs a SyncService.
func NewSyncService(db *sql.DB, repos repomanager.RepositoryManager, stamps *clock.Stamper,
	sealer *secrets.Sealer, logger logging.Logger, m *metrics.Metrics) *SyncService {
	return &SyncService{
		db:      db,
		repos:   repos,
		stamps:  stamps,
		sealer:  sealer,
		logger:  logger.With("module", "sync_service"),
		metrics: m,
	}
}

// ApplyAndPull applies the client's changes and returns the delta since
// cursor. Partial success is expected: ownership mismatches skip only the
// offending change.
func (s *SyncService) ApplyAndPull(ctx context.Context, ownerID string, cursor int64,
	changes map[model.Kind][]model.Change) (*model.SyncResponse, error) {

	if ownerID == "" {
		return nil, common.ErrUnauthenticated
	}
	s.metrics.SyncCalls.Inc()

	if err := validateChanges(changes); err != nil {
		return nil, err
	}

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repos.Records(tx)

		// keep stamps above anything already stored, across restarts
		maxSeen, err := repo.MaxUpdatedAt(ctx, ownerID)
		if err != nil {
			return err
		}
		s.stamps.Observe(ownerID, maxSeen)

		for _, kind := range model.Kinds {
			for _, change := range changes[kind] {
				if err := s.applyChange(ctx, repo, ownerID, kind, change); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error applying changes: %w", err)
	}

	return s.Pull(ctx, ownerID, cursor)
}

// Pull returns all records of the owner with updatedAt > cursor, ascending,
// plus the new cursor (the maximum updatedAt observed, or the old cursor if
// nothing matched).
func (s *SyncService) Pull(ctx context.Context, ownerID string, cursor int64) (*model.SyncResponse, error) {
	if ownerID == "" {
		return nil, common.ErrUnauthenticated
	}

	repo := s.repos.Records(s.db)
	recs, err := repo.SelectUpdated(ctx, ownerID, cursor)
	if err != nil {
		return nil, fmt.Errorf("error selecting updated records: %w", err)
	}

	resp := &model.SyncResponse{Records: make([]model.WireRecord, 0, len(recs)), Cursor: cursor}
	for _, rec := range recs {
		payload := rec.Payload
		if rec.Kind == model.KindModelConfig {
			if payload, err = s.openModelConfig(payload); err != nil {
				return nil, fmt.Errorf("error opening model config %s: %w", rec.ID, err)
			}
		}
		resp.Records = append(resp.Records, model.WireRecord{
			ID:        rec.ID,
			Kind:      rec.Kind,
			State:     rec.State(),
			UpdatedAt: rec.UpdatedAt,
			CreatedAt: rec.CreatedAt,
			Payload:   payload,
		})
		resp.Cursor = rec.UpdatedAt
	}
	return resp, nil
}

// applyChange upserts one client change. Returned errors abort the batch;
// ownership mismatches are absorbed here.
func (s *SyncService) applyChange(ctx context.Context, repo records.Repository,
	ownerID string, kind model.Kind, change model.Change) error {

	payload := change.Payload
	if kind == model.KindModelConfig {
		var err error
		if payload, err = s.sealModelConfig(payload); err != nil {
			s.logger.Warn(ctx, "skipping change with invalid model config payload",
				"record_id", change.ID, "error", err.Error())
			return nil
		}
	}

	rec, err := repo.Get(ctx, ownerID, change.ID)
	switch {
	case errors.Is(err, common.ErrNotFound):
		// client-originated entity seen for the first time
		stamp := s.stamps.Next(ownerID)
		if err := repo.Insert(ctx, &model.Record{
			ID:        change.ID,
			OwnerID:   ownerID,
			Kind:      kind,
			Deleted:   change.State == model.StateDeleted,
			UpdatedAt: stamp,
			CreatedAt: stamp,
			Payload:   payload,
		}); err != nil {
			return err
		}
	case errors.Is(err, common.ErrOwnershipMismatch):
		s.logger.Warn(ctx, "skipping change for record of another owner",
			"record_id", change.ID, "owner_id", ownerID)
		s.metrics.OwnershipSkips.Inc()
		return nil
	case err != nil:
		return err
	default:
		rec.Payload = payload
		rec.Deleted = change.State == model.StateDeleted
		rec.UpdatedAt = s.stamps.Next(ownerID)
		if err := repo.Update(ctx, rec); err != nil {
			return err
		}
	}

	s.metrics.RecordsApplied.Inc()
	return nil
}

func (s *SyncService) sealModelConfig(payload json.RawMessage) (json.RawMessage, error) {
	var p model.ModelConfigPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, err
	}
	sealed, err := s.sealer.Seal(p.APIKey)
	if err != nil {
		return nil, err
	}
	p.APIKey = sealed
	return json.Marshal(p)
}

func (s *SyncService) openModelConfig(payload json.RawMessage) (json.RawMessage, error) {
	var p model.ModelConfigPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, err
	}
	opened, err := s.sealer.Open(p.APIKey)
	if err != nil {
		return nil, err
	}
	p.APIKey = opened
	return json.Marshal(p)
}

// validateChanges rejects the whole batch on a malformed id or unknown
// kind. Ids are client-minted UUIDs; anything else cannot be trusted not to
// collide.
func validateChanges(changes map[model.Kind][]model.Change) error {
	for kind, list := range changes {
		if !kind.Valid() {
			return fmt.Errorf("%w: unknown kind %q", common.ErrMalformedID, kind)
		}
		for _, change := range list {
			if err := uuid.Validate(change.ID); err != nil {
				return fmt.Errorf("%w: %q", common.ErrMalformedID, change.ID)
			}
			if change.State != model.StateUpdated && change.State != model.StateDeleted {
				return fmt.Errorf("%w: state %q", common.ErrMalformedID, change.State)
			}
		}
	}
	return nil
}
