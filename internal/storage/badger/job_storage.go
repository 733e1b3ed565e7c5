package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/wrapline/internal/interfaces"
	"github.com/ternarybob/wrapline/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// JobStorage implements interfaces.JobStorage for Badger
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

func (s *JobStorage) SaveJob(ctx context.Context, job *models.PendingTranscriptJob) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	job.UpdatedAt = time.Now()

	if err := s.db.Store().Upsert(job.ID, job); err != nil {
		return fmt.Errorf("failed to save pending transcript job: %w", err)
	}
	return nil
}

func (s *JobStorage) GetJob(ctx context.Context, id string) (*models.PendingTranscriptJob, error) {
	var job models.PendingTranscriptJob
	if err := s.db.Store().Get(id, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

func (s *JobStorage) GetOpenJobByCallID(ctx context.Context, callID string) (*models.PendingTranscriptJob, error) {
	var jobs []models.PendingTranscriptJob
	err := s.db.Store().Find(&jobs, badgerhold.Where("CallID").Eq(callID).And("Status").Eq(models.JobStatusPending))
	if err != nil {
		return nil, fmt.Errorf("failed to query open job for call: %w", err)
	}
	if len(jobs) == 0 {
		return nil, interfaces.ErrNotFound
	}
	return &jobs[0], nil
}

func (s *JobStorage) DueJobs(ctx context.Context, now time.Time, limit int) ([]*models.PendingTranscriptJob, error) {
	var jobs []models.PendingTranscriptJob
	err := s.db.Store().Find(&jobs,
		badgerhold.Where("Status").Eq(models.JobStatusPending).SortBy("CreatedAt"))
	if err != nil {
		return nil, fmt.Errorf("failed to query due jobs: %w", err)
	}

	// NextAttemptAt is a pointer, so due filtering happens here rather than
	// in the badgerhold query.
	result := make([]*models.PendingTranscriptJob, 0, len(jobs))
	for i := range jobs {
		j := jobs[i]
		if j.NextAttemptAt != nil && j.NextAttemptAt.After(now) {
			continue
		}
		result = append(result, &j)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *JobStorage) StalePendingJobs(ctx context.Context, cutoff time.Time, limit int) ([]*models.PendingTranscriptJob, error) {
	var jobs []models.PendingTranscriptJob
	q := badgerhold.Where("Status").Eq(models.JobStatusPending).And("CallEndedAt").Lt(cutoff).SortBy("CallEndedAt")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := s.db.Store().Find(&jobs, q); err != nil {
		return nil, fmt.Errorf("failed to query stale jobs: %w", err)
	}

	result := make([]*models.PendingTranscriptJob, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

func (s *JobStorage) ClaimRecord(ctx context.Context, recordID, jobID string) error {
	claim := &models.RecordClaim{
		RecordID:  recordID,
		JobID:     jobID,
		ClaimedAt: time.Now(),
	}
	if err := s.db.Store().Insert(s.claimKey(recordID), claim); err != nil {
		if err == badgerhold.ErrKeyExists {
			var existing models.RecordClaim
			if getErr := s.db.Store().Get(s.claimKey(recordID), &existing); getErr == nil && existing.JobID == jobID {
				return nil
			}
			return interfaces.ErrRecordClaimed
		}
		return fmt.Errorf("failed to claim recording: %w", err)
	}
	return nil
}

func (s *JobStorage) ClaimedRecordIDs(ctx context.Context) ([]string, error) {
	var jobs []models.PendingTranscriptJob
	err := s.db.Store().Find(&jobs, badgerhold.Where("Status").Eq(models.JobStatusCompleted))
	if err != nil {
		return nil, fmt.Errorf("failed to query completed jobs: %w", err)
	}

	var claims []models.RecordClaim
	if err := s.db.Store().Find(&claims, nil); err != nil {
		return nil, fmt.Errorf("failed to query record claims: %w", err)
	}

	seen := make(map[string]struct{}, len(jobs)+len(claims))
	ids := make([]string, 0, len(jobs)+len(claims))
	for i := range jobs {
		if id := jobs[i].RecordID; id != "" {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}
	for i := range claims {
		if _, ok := seen[claims[i].RecordID]; !ok {
			seen[claims[i].RecordID] = struct{}{}
			ids = append(ids, claims[i].RecordID)
		}
	}
	return ids, nil
}

func (s *JobStorage) claimKey(recordID string) string {
	return "claim:" + recordID
}

func (s *JobStorage) OpenJobExistsFor(ctx context.Context, callerNumber, extension string, start, end time.Time) (bool, error) {
	var jobs []models.PendingTranscriptJob
	err := s.db.Store().Find(&jobs,
		badgerhold.Where("Status").Eq(models.JobStatusPending).And("AgentExtension").Eq(extension))
	if err != nil {
		return false, fmt.Errorf("failed to query open jobs: %w", err)
	}

	for i := range jobs {
		j := jobs[i]
		if j.CallerNumber != callerNumber {
			continue
		}
		if j.CallStartedAt.Before(start) || j.CallStartedAt.After(end) {
			continue
		}
		return true, nil
	}
	return false, nil
}
