package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/wrapline/internal/interfaces"
	"github.com/ternarybob/wrapline/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// DeadLetterStorage implements interfaces.DeadLetterStorage for Badger
type DeadLetterStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewDeadLetterStorage creates a new DeadLetterStorage instance
func NewDeadLetterStorage(db *BadgerDB, logger arbor.ILogger) interfaces.DeadLetterStorage {
	return &DeadLetterStorage{
		db:     db,
		logger: logger,
	}
}

func (s *DeadLetterStorage) Save(ctx context.Context, job *models.DeadLetterJob) error {
	if job.ID == "" {
		return fmt.Errorf("dead letter ID is required")
	}
	if err := s.db.Store().Upsert(job.ID, job); err != nil {
		return fmt.Errorf("failed to save dead letter: %w", err)
	}
	return nil
}

func (s *DeadLetterStorage) Get(ctx context.Context, id string) (*models.DeadLetterJob, error) {
	var job models.DeadLetterJob
	if err := s.db.Store().Get(id, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get dead letter: %w", err)
	}
	return &job, nil
}

func (s *DeadLetterStorage) List(ctx context.Context, limit int) ([]*models.DeadLetterJob, error) {
	var jobs []models.DeadLetterJob
	q := badgerhold.Where("ID").Ne("").SortBy("CreatedAt").Reverse()
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := s.db.Store().Find(&jobs, q); err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}

	result := make([]*models.DeadLetterJob, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

func (s *DeadLetterStorage) MarkRequeued(ctx context.Context, id string) error {
	job, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	job.Requeued = true
	return s.Save(ctx, job)
}
