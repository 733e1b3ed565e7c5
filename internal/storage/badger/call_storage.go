package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/wrapline/internal/common"
	"github.com/ternarybob/wrapline/internal/interfaces"
	"github.com/ternarybob/wrapline/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// CallStorage implements interfaces.CallStorage for Badger
type CallStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewCallStorage creates a new CallStorage instance
func NewCallStorage(db *BadgerDB, logger arbor.ILogger) interfaces.CallStorage {
	return &CallStorage{
		db:     db,
		logger: logger,
	}
}

func (s *CallStorage) Save(ctx context.Context, call *models.Call) error {
	if call.ID == "" {
		return fmt.Errorf("call ID is required")
	}
	call.UpdatedAt = time.Now()

	if err := s.db.Store().Upsert(call.ID, call); err != nil {
		return fmt.Errorf("failed to save call: %w", err)
	}
	return nil
}

func (s *CallStorage) Get(ctx context.Context, id string) (*models.Call, error) {
	var call models.Call
	if err := s.db.Store().Get(id, &call); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get call: %w", err)
	}
	return &call, nil
}

func (s *CallStorage) FindByPhoneAndWindow(ctx context.Context, callerNumber, extension string, start, end time.Time) ([]*models.Call, error) {
	var calls []models.Call
	err := s.db.Store().Find(&calls,
		badgerhold.Where("AgentExtension").Eq(extension).And("StartedAt").Ge(start).And("StartedAt").Le(end))
	if err != nil {
		return nil, fmt.Errorf("failed to query calls by window: %w", err)
	}

	result := make([]*models.Call, 0, len(calls))
	for i := range calls {
		c := calls[i]
		if !common.PhonesMatch(c.CallerNumber, callerNumber, 7) {
			continue
		}
		result = append(result, &c)
	}
	return result, nil
}
