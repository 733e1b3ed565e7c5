// Package reconcile drives pending transcript jobs against the external
// recording store: match, extract, persist, retry with backoff, exhaust to
// manual review.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/wrapline/internal/common"
	"github.com/ternarybob/wrapline/internal/interfaces"
	"github.com/ternarybob/wrapline/internal/models"
	"github.com/ternarybob/wrapline/internal/queue"
	"github.com/ternarybob/wrapline/internal/services/wrapups"
)

// MsgTypeAttempt is the queue message type for one reconcile attempt
const MsgTypeAttempt = "reconcile.attempt"

// attemptPayload is the queue payload for a reconcile attempt
type attemptPayload struct {
	JobID string `json:"job_id"`
}

// RunStats summarizes a trigger run
type RunStats struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Retrying  int `json:"retrying"`
}

// TriggerFilter narrows a manual trigger to specific jobs
type TriggerFilter struct {
	JobID    string
	CallID   string
	ForceAll bool
}

// Worker orchestrates the reconcile state machine
type Worker struct {
	storage     interfaces.StorageManager
	matcher     interfaces.TranscriptMatcher
	extraction  interfaces.ExtractionService
	wrapups     *wrapups.Service
	alerts      interfaces.AlertService
	queue       *queue.Manager
	logger      arbor.ILogger
	maxAttempts int
	retryDelays []time.Duration
	batchSize   int
}

// NewWorker creates the reconcile worker
func NewWorker(
	storage interfaces.StorageManager,
	matcher interfaces.TranscriptMatcher,
	extraction interfaces.ExtractionService,
	wrapupSvc *wrapups.Service,
	alerts interfaces.AlertService,
	queueMgr *queue.Manager,
	config *common.Config,
	logger arbor.ILogger,
) *Worker {
	maxAttempts := config.Reconcile.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 10
	}

	delays := make([]time.Duration, 0, len(config.Reconcile.RetryDelays))
	for _, d := range config.Reconcile.RetryDelays {
		delays = append(delays, common.MustDuration(d))
	}
	if len(delays) == 0 {
		delays = []time.Duration{30 * time.Second}
	}

	batchSize := config.Reconcile.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}

	return &Worker{
		storage:     storage,
		matcher:     matcher,
		extraction:  extraction,
		wrapups:     wrapupSvc,
		alerts:      alerts,
		queue:       queueMgr,
		logger:      logger,
		maxAttempts: maxAttempts,
		retryDelays: delays,
		batchSize:   batchSize,
	}
}

// RegisterHandlers attaches the reconcile handler to a worker pool
func (w *Worker) RegisterHandlers(pool *queue.WorkerPool) {
	pool.RegisterHandler(MsgTypeAttempt, w.handleAttempt)
}

// delayFor returns the business retry delay for a 1-based attempt number.
// The table flattens near real time; the last entry repeats.
func (w *Worker) delayFor(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(w.retryDelays) {
		return w.retryDelays[len(w.retryDelays)-1]
	}
	return w.retryDelays[attempt-1]
}

// CreateJobForCall creates a pending job for a call that just ended and
// enqueues its first attempt. At most one non-terminal job exists per call;
// a second create for the same call returns the open job unchanged.
func (w *Worker) CreateJobForCall(ctx context.Context, call *models.Call) (*models.PendingTranscriptJob, error) {
	if existing, err := w.storage.JobStorage().GetOpenJobByCallID(ctx, call.ID); err == nil {
		return existing, nil
	} else if err != interfaces.ErrNotFound {
		return nil, fmt.Errorf("failed to check open jobs: %w", err)
	}

	job := models.NewPendingTranscriptJob(call.TenantID, call.ID, call.CallerNumber, call.AgentExtension, call.StartedAt, call.EndedAt)
	if err := w.storage.JobStorage().SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	if err := w.enqueueAttempt(ctx, job, 0); err != nil {
		return nil, err
	}

	w.logger.Info().
		Str("job_id", job.ID).
		Str("call_id", call.ID).
		Msg("Transcript job created")

	return job, nil
}

// enqueueAttempt schedules an attempt message. The dedup id suppresses the
// enqueue while an earlier message for the job is still pending, so the cron
// safety net never doubles up on the queue path.
func (w *Worker) enqueueAttempt(ctx context.Context, job *models.PendingTranscriptJob, delay time.Duration) error {
	_, err := w.queue.Enqueue(ctx, queue.QueueReconcile, MsgTypeAttempt,
		attemptPayload{JobID: job.ID},
		queue.WithDelay(delay),
		queue.WithDedupID("job:"+job.ID),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue reconcile attempt: %w", err)
	}
	return nil
}

// handleAttempt is the queue handler for one reconcile attempt
func (w *Worker) handleAttempt(ctx context.Context, msg *queue.Message) error {
	var payload attemptPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("invalid attempt payload: %w", err)
	}

	job, err := w.storage.JobStorage().GetJob(ctx, payload.JobID)
	if err != nil {
		if err == interfaces.ErrNotFound {
			w.logger.Warn().Str("job_id", payload.JobID).Msg("Attempt for unknown job, dropping")
			return nil
		}
		return err
	}

	_, err = w.ProcessJob(ctx, job)
	return err
}

// ProcessJob runs one attempt of the reconcile state machine for a job.
// Returns the resulting status. Misses and transient failures both count an
// attempt and reschedule; exhaustion routes to manual review with an alert.
func (w *Worker) ProcessJob(ctx context.Context, job *models.PendingTranscriptJob) (models.JobStatus, error) {
	if job.IsTerminal() {
		return job.Status, nil
	}

	rec, err := w.findMatch(ctx, job)
	if err != nil {
		// Transient matcher failure is handled like a miss
		w.logger.Warn().
			Err(err).
			Str("job_id", job.ID).
			Int("attempt", job.AttemptCount+1).
			Msg("Matcher failed, treating as miss")
		return w.miss(ctx, job)
	}
	if rec == nil {
		w.logger.Info().
			Str("job_id", job.ID).
			Int("attempt", job.AttemptCount+1).
			Msg("Transcript not yet available")
		return w.miss(ctx, job)
	}

	if err := w.hit(ctx, job, rec); err != nil {
		w.logger.Warn().
			Err(err).
			Str("job_id", job.ID).
			Str("record_id", rec.RecordID).
			Msg("Match processing failed, treating as miss")
		return w.miss(ctx, job)
	}

	return models.JobStatusCompleted, nil
}

// findMatch queries the matcher with the current claim exclusion set
func (w *Worker) findMatch(ctx context.Context, job *models.PendingTranscriptJob) (*models.Recording, error) {
	claimed, err := w.storage.JobStorage().ClaimedRecordIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compute exclusion set: %w", err)
	}

	return w.matcher.FindTranscript(ctx, job.CallerNumber, job.AgentExtension, job.CallStartedAt, job.CallEndedAt, claimed)
}

// miss counts the attempt and either reschedules or exhausts the job
func (w *Worker) miss(ctx context.Context, job *models.PendingTranscriptJob) (models.JobStatus, error) {
	attempt := job.AttemptCount + 1

	if attempt >= w.maxAttempts {
		return models.JobStatusFailed, w.exhaust(ctx, job)
	}

	delay := w.delayFor(attempt)
	job.MarkAttempt(time.Now().Add(delay))
	if err := w.storage.JobStorage().SaveJob(ctx, job); err != nil {
		return job.Status, fmt.Errorf("failed to save job attempt: %w", err)
	}
	if err := w.enqueueAttempt(ctx, job, delay); err != nil {
		return job.Status, err
	}

	w.logger.Debug().
		Str("job_id", job.ID).
		Int("attempt", attempt).
		Dur("next_in", delay).
		Msg("Reconcile attempt rescheduled")

	return models.JobStatusPending, nil
}

// exhaust fails the job, alerts an operator and creates a manual-review
// wrapup so the call is never silently dropped
func (w *Worker) exhaust(ctx context.Context, job *models.PendingTranscriptJob) error {
	job.AttemptCount++
	job.MarkFailed("no matching transcript after all attempts")
	if err := w.storage.JobStorage().SaveJob(ctx, job); err != nil {
		return fmt.Errorf("failed to save exhausted job: %w", err)
	}

	if _, err := w.wrapups.CreateManualReview(ctx, job); err != nil {
		w.logger.Error().
			Err(err).
			Str("job_id", job.ID).
			Msg("Failed to create manual-review wrapup")
	}

	w.alerts.SendAlert(ctx,
		fmt.Sprintf("Transcript reconcile exhausted for call %s", job.CallID),
		fmt.Sprintf("Call ID: %s\nCaller: %s\nExtension: %s\nCall time: %s\nAttempts: %d\n\nNo matching transcript was found in the recording store. The wrapup has been flagged for manual review.",
			job.CallID, job.CallerNumber, job.AgentExtension, job.CallStartedAt.Format(time.RFC1123), job.AttemptCount))

	w.logger.Error().
		Str("job_id", job.ID).
		Str("call_id", job.CallID).
		Int("attempts", job.AttemptCount).
		Msg("Reconcile job exhausted, routed to manual review")

	return nil
}

// hit processes a successful match: extract, claim the recording, enrich the
// call, drive the wrapup
func (w *Worker) hit(ctx context.Context, job *models.PendingTranscriptJob, rec *models.Recording) error {
	call, err := w.storage.CallStorage().Get(ctx, job.CallID)
	if err != nil {
		return fmt.Errorf("failed to load call %s: %w", job.CallID, err)
	}

	// The webhook-resolved direction wins; the store's own direction field is
	// unreliable.
	if call.Direction == "" {
		call.Direction = rec.Direction
	}

	result, err := w.extraction.Extract(ctx, rec.Transcript, interfaces.CallContext{
		Direction:    call.Direction,
		Extension:    call.AgentExtension,
		CallerNumber: call.CallerNumber,
		Duration:     time.Duration(rec.DurationSecs) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("extraction failed: %w", err)
	}
	result.Source = call.Source
	result.RecordID = rec.RecordID

	// Concurrent workers can both match the same recording between the
	// exclusion-set read and completion. The keyed claim settles the race
	// before any state is written; the loser retries against the next search,
	// which excludes this recording.
	if err := w.storage.JobStorage().ClaimRecord(ctx, rec.RecordID, job.ID); err != nil {
		return fmt.Errorf("recording %s not claimable: %w", rec.RecordID, err)
	}

	call.Transcription = rec.Transcript
	call.TranscriptionStatus = models.TranscriptionCompleted
	call.AISummary = result.Summary
	call.AIActionItems = result.ActionItems
	call.AISentiment = result.Sentiment
	call.AITopics = result.Topics
	call.UpdatedAt = time.Now()
	if err := w.storage.CallStorage().Save(ctx, call); err != nil {
		return fmt.Errorf("failed to update call: %w", err)
	}

	job.MarkCompleted(rec.RecordID)
	if err := w.storage.JobStorage().SaveJob(ctx, job); err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}

	wrapup, err := w.wrapups.UpsertFromExtraction(ctx, call, result)
	if err != nil {
		// The claim is already recorded; the wrapup can still be driven by
		// the sweep, so log rather than unwind.
		w.logger.Error().
			Err(err).
			Str("job_id", job.ID).
			Msg("Wrapup upsert failed after claim")
		return nil
	}

	if err := w.wrapups.Automate(ctx, wrapup); err != nil {
		w.logger.Warn().
			Err(err).
			Str("wrapup_id", wrapup.ID).
			Msg("Wrapup automation failed, sweep will finalize")
	}

	w.logger.Info().
		Str("job_id", job.ID).
		Str("call_id", job.CallID).
		Str("record_id", rec.RecordID).
		Int("attempts", job.AttemptCount).
		Msg("Transcript reconciled")

	return nil
}

// Run processes due jobs inline for the cron trigger and manual reprocessing.
// The dedup id on enqueued retries keeps this path and the queue path from
// stacking duplicate attempt messages.
func (w *Worker) Run(ctx context.Context, filter TriggerFilter) (*RunStats, error) {
	stats := &RunStats{}

	jobs, err := w.selectJobs(ctx, filter)
	if err != nil {
		return stats, err
	}

	for _, job := range jobs {
		status, err := w.ProcessJob(ctx, job)
		stats.Processed++
		switch {
		case err != nil:
			stats.Retrying++
		case status == models.JobStatusCompleted:
			stats.Succeeded++
		case status == models.JobStatusFailed:
			stats.Failed++
		default:
			stats.Retrying++
		}
	}

	return stats, nil
}

// selectJobs resolves the trigger filter to concrete jobs
func (w *Worker) selectJobs(ctx context.Context, filter TriggerFilter) ([]*models.PendingTranscriptJob, error) {
	if filter.JobID != "" {
		job, err := w.storage.JobStorage().GetJob(ctx, filter.JobID)
		if err != nil {
			return nil, err
		}
		return []*models.PendingTranscriptJob{job}, nil
	}

	if filter.CallID != "" {
		job, err := w.storage.JobStorage().GetOpenJobByCallID(ctx, filter.CallID)
		if err != nil {
			return nil, err
		}
		return []*models.PendingTranscriptJob{job}, nil
	}

	now := time.Now()
	if filter.ForceAll {
		// Force ignores next-attempt scheduling and reprocesses everything
		// still pending
		now = now.Add(24 * time.Hour)
	}
	return w.storage.JobStorage().DueJobs(ctx, now, w.batchSize)
}
