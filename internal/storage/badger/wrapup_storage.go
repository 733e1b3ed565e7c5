package badger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/wrapline/internal/interfaces"
	"github.com/ternarybob/wrapline/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// WrapupStorage implements interfaces.WrapupStorage for Badger.
// A process-wide mutex serializes upserts: the reconciliation worker and the
// missed-call poller can race on the same call id, and badgerhold
// read-modify-write is not atomic across records.
type WrapupStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	mu     sync.Mutex
}

// NewWrapupStorage creates a new WrapupStorage instance
func NewWrapupStorage(db *BadgerDB, logger arbor.ILogger) interfaces.WrapupStorage {
	return &WrapupStorage{
		db:     db,
		logger: logger,
	}
}

func (s *WrapupStorage) Upsert(ctx context.Context, draft *models.WrapupDraft, apply func(existing *models.WrapupDraft)) (*models.WrapupDraft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.getByCallID(draft.CallID)
	if err != nil && err != interfaces.ErrNotFound {
		return nil, err
	}

	if existing == nil {
		if err := s.db.Store().Upsert(draft.ID, draft); err != nil {
			return nil, fmt.Errorf("failed to insert wrapup: %w", err)
		}
		return draft, nil
	}

	// Second writer for the same call: overwrite mutable fields on the
	// existing row, keep its identity, and never re-open a completed wrapup.
	if apply != nil {
		apply(existing)
	}
	if err := s.db.Store().Upsert(existing.ID, existing); err != nil {
		return nil, fmt.Errorf("failed to update wrapup: %w", err)
	}
	return existing, nil
}

func (s *WrapupStorage) Save(ctx context.Context, draft *models.WrapupDraft) error {
	if draft.ID == "" {
		return fmt.Errorf("wrapup ID is required")
	}
	if err := s.db.Store().Upsert(draft.ID, draft); err != nil {
		return fmt.Errorf("failed to save wrapup: %w", err)
	}
	return nil
}

func (s *WrapupStorage) Get(ctx context.Context, id string) (*models.WrapupDraft, error) {
	var draft models.WrapupDraft
	if err := s.db.Store().Get(id, &draft); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get wrapup: %w", err)
	}
	return &draft, nil
}

func (s *WrapupStorage) GetByCallID(ctx context.Context, callID string) (*models.WrapupDraft, error) {
	return s.getByCallID(callID)
}

func (s *WrapupStorage) getByCallID(callID string) (*models.WrapupDraft, error) {
	var drafts []models.WrapupDraft
	if err := s.db.Store().Find(&drafts, badgerhold.Where("CallID").Eq(callID)); err != nil {
		return nil, fmt.Errorf("failed to query wrapup by call: %w", err)
	}
	if len(drafts) == 0 {
		return nil, interfaces.ErrNotFound
	}
	return &drafts[0], nil
}

func (s *WrapupStorage) PendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*models.WrapupDraft, error) {
	var drafts []models.WrapupDraft
	q := badgerhold.Where("Status").Eq(models.WrapupStatusPendingReview).
		And("CreatedAt").Lt(cutoff).
		SortBy("CreatedAt")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := s.db.Store().Find(&drafts, q); err != nil {
		return nil, fmt.Errorf("failed to query pending wrapups: %w", err)
	}

	result := make([]*models.WrapupDraft, len(drafts))
	for i := range drafts {
		result[i] = &drafts[i]
	}
	return result, nil
}

func (s *WrapupStorage) ExistsByRecordID(ctx context.Context, recordID string) (bool, error) {
	if recordID == "" {
		return false, nil
	}
	var drafts []models.WrapupDraft
	if err := s.db.Store().Find(&drafts, badgerhold.Where("ID").Ne("")); err != nil {
		return false, fmt.Errorf("failed to scan wrapups: %w", err)
	}
	for i := range drafts {
		if drafts[i].RecordIDClaimed() == recordID {
			return true, nil
		}
	}
	return false, nil
}
