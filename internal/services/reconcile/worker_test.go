package reconcile

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/wrapline/internal/common"
	"github.com/ternarybob/wrapline/internal/interfaces"
	"github.com/ternarybob/wrapline/internal/models"
	"github.com/ternarybob/wrapline/internal/queue"
	"github.com/ternarybob/wrapline/internal/services/tickets"
	"github.com/ternarybob/wrapline/internal/services/wrapups"
	badgerstore "github.com/ternarybob/wrapline/internal/storage/badger"
)

type mockMatcher struct {
	mu       sync.Mutex
	result   *models.Recording
	err      error
	excluded []string

	// rendezvous > 0 holds every search until that many callers arrived, so
	// racing jobs all pass the exclusion check before any of them claims
	rendezvous int
	arrivals   atomic.Int32
	release    chan struct{}
}

func (m *mockMatcher) FindTranscript(ctx context.Context, callerNumber, extension string, start, end time.Time, excludeRecordIDs []string) (*models.Recording, error) {
	m.mu.Lock()
	m.excluded = excludeRecordIDs
	m.mu.Unlock()

	if m.rendezvous > 0 {
		if int(m.arrivals.Add(1)) == m.rendezvous {
			close(m.release)
		}
		<-m.release
	}
	return m.result, m.err
}

type mockExtraction struct {
	result *models.ExtractionResult
	err    error
}

func (m *mockExtraction) Extract(ctx context.Context, transcript string, callCtx interfaces.CallContext) (*models.ExtractionResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.result == nil {
		return models.DefaultExtractionResult(), nil
	}
	r := *m.result
	return &r, nil
}

type mockAlerts struct {
	mu       sync.Mutex
	subjects []string
}

func (m *mockAlerts) SendAlert(ctx context.Context, subject, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subjects = append(m.subjects, subject)
}

func (m *mockAlerts) IsConfigured() bool { return true }

func (m *mockAlerts) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subjects)
}

type crmStub struct{}

func (crmStub) CreateTicket(ctx context.Context, params interfaces.CreateTicketParams) (string, error) {
	return "T-1001", nil
}

func (crmStub) AddNote(ctx context.Context, customerID, text string) (string, error) {
	return "N-1", nil
}

func (crmStub) SearchCustomerByPhone(ctx context.Context, phone string) (*models.Customer, error) {
	return nil, nil
}

type workerFixture struct {
	worker     *Worker
	storage    interfaces.StorageManager
	queue      *queue.Manager
	matcher    *mockMatcher
	extraction *mockExtraction
	alerts     *mockAlerts
}

func newWorkerFixture(t *testing.T) *workerFixture {
	t.Helper()
	logger := arbor.NewLogger()

	storage, err := badgerstore.NewManager(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })

	queueMgr, err := queue.NewManager(t.TempDir(), 5*time.Minute, 3, logger)
	require.NoError(t, err)
	t.Cleanup(func() { queueMgr.Close() })

	cfg := common.NewDefaultConfig()
	cfg.Reconcile.MaxAttempts = 3
	cfg.Reconcile.RetryDelays = []string{"15s", "30s", "1m"}

	matcher := &mockMatcher{}
	extraction := &mockExtraction{}
	alerts := &mockAlerts{}

	ticketSvc := tickets.NewService(storage, crmStub{}, cfg, logger)
	wrapupSvc := wrapups.NewService(storage, ticketSvc, crmStub{}, queueMgr, cfg, logger)

	return &workerFixture{
		worker:     NewWorker(storage, matcher, extraction, wrapupSvc, alerts, queueMgr, cfg, logger),
		storage:    storage,
		queue:      queueMgr,
		matcher:    matcher,
		extraction: extraction,
		alerts:     alerts,
	}
}

func testCall() *models.Call {
	now := time.Now()
	return &models.Call{
		ID:             "call-1",
		TenantID:       "default",
		CallerNumber:   "2055550100",
		AgentExtension: "1023",
		Direction:      models.DirectionInbound,
		StartedAt:      now.Add(-5 * time.Minute),
		EndedAt:        now,
		DurationSecs:   300,
		Source:         models.SourceWebhook,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestDelayForUsesAttemptIndexedTable(t *testing.T) {
	fx := newWorkerFixture(t)
	w := fx.worker

	assert.Equal(t, 15*time.Second, w.delayFor(0), "attempts below one clamp to the first entry")
	assert.Equal(t, 15*time.Second, w.delayFor(1))
	assert.Equal(t, 30*time.Second, w.delayFor(2))
	assert.Equal(t, 1*time.Minute, w.delayFor(3))
	assert.Equal(t, 1*time.Minute, w.delayFor(9), "past the table the last entry repeats")
}

func TestCreateJobForCallReturnsExistingOpenJob(t *testing.T) {
	fx := newWorkerFixture(t)
	ctx := context.Background()
	call := testCall()

	first, err := fx.worker.CreateJobForCall(ctx, call)
	require.NoError(t, err)

	second, err := fx.worker.CreateJobForCall(ctx, call)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	// Only the first create put an attempt on the queue
	msg, err := fx.queue.Receive(ctx, queue.QueueReconcile)
	require.NoError(t, err)
	require.NoError(t, fx.queue.Done(ctx, msg))
	_, err = fx.queue.Receive(ctx, queue.QueueReconcile)
	assert.Equal(t, queue.ErrNoMessage, err)
}

func TestProcessJobMissSchedulesRetry(t *testing.T) {
	fx := newWorkerFixture(t)
	ctx := context.Background()
	fx.matcher.result = nil

	call := testCall()
	job := models.NewPendingTranscriptJob(call.TenantID, call.ID, call.CallerNumber, call.AgentExtension, call.StartedAt, call.EndedAt)
	require.NoError(t, fx.storage.JobStorage().SaveJob(ctx, job))

	status, err := fx.worker.ProcessJob(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, status)

	saved, err := fx.storage.JobStorage().GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, saved.AttemptCount)
	require.NotNil(t, saved.NextAttemptAt)
	assert.WithinDuration(t, time.Now().Add(15*time.Second), *saved.NextAttemptAt, 2*time.Second)

	// The retry sits on the queue as a delayed message
	stats, err := fx.queue.Stats(queue.QueueReconcile, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Delayed)
}

func TestProcessJobMatcherErrorCountsAsMiss(t *testing.T) {
	fx := newWorkerFixture(t)
	ctx := context.Background()
	fx.matcher.err = errors.New("recording store timeout")

	call := testCall()
	job := models.NewPendingTranscriptJob(call.TenantID, call.ID, call.CallerNumber, call.AgentExtension, call.StartedAt, call.EndedAt)
	require.NoError(t, fx.storage.JobStorage().SaveJob(ctx, job))

	status, err := fx.worker.ProcessJob(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, status)

	saved, err := fx.storage.JobStorage().GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, saved.AttemptCount)
}

func TestProcessJobExhaustsAtMaxAttempts(t *testing.T) {
	fx := newWorkerFixture(t)
	ctx := context.Background()
	fx.matcher.result = nil

	call := testCall()
	job := models.NewPendingTranscriptJob(call.TenantID, call.ID, call.CallerNumber, call.AgentExtension, call.StartedAt, call.EndedAt)
	job.AttemptCount = 2 // MaxAttempts is 3, so the next miss exhausts
	require.NoError(t, fx.storage.JobStorage().SaveJob(ctx, job))

	status, err := fx.worker.ProcessJob(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, status)

	saved, err := fx.storage.JobStorage().GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, saved.Status)
	assert.Equal(t, 3, saved.AttemptCount)
	assert.NotEmpty(t, saved.Error)

	// A manual-review wrapup exists for the call
	wrapup, err := fx.storage.WrapupStorage().GetByCallID(ctx, call.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusUnmatched, wrapup.MatchStatus)
	assert.Equal(t, models.AIProcessingFailed, wrapup.AIProcessingStatus)
	assert.True(t, wrapup.IsPending(), "manual review stays open for a human")

	assert.Equal(t, 1, fx.alerts.count())
}

func TestProcessJobBelowMaxAttemptsDoesNotExhaust(t *testing.T) {
	fx := newWorkerFixture(t)
	ctx := context.Background()
	fx.matcher.result = nil

	call := testCall()
	job := models.NewPendingTranscriptJob(call.TenantID, call.ID, call.CallerNumber, call.AgentExtension, call.StartedAt, call.EndedAt)
	job.AttemptCount = 1
	require.NoError(t, fx.storage.JobStorage().SaveJob(ctx, job))

	status, err := fx.worker.ProcessJob(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, status)
	assert.Equal(t, 0, fx.alerts.count())
}

func TestProcessJobHitCompletesAndDrivesWrapup(t *testing.T) {
	fx := newWorkerFixture(t)
	ctx := context.Background()

	call := testCall()
	require.NoError(t, fx.storage.CallStorage().Save(ctx, call))

	fx.matcher.result = &models.Recording{
		RecordID:     "R-500",
		Transcript:   "Hi, this is Dana Smith, I want to add a vehicle to my policy.",
		DurationSecs: 300,
		CallerNumber: call.CallerNumber,
		Extension:    call.AgentExtension,
		RecordedAt:   call.StartedAt,
	}
	fx.extraction.result = &models.ExtractionResult{
		Summary:       "add a vehicle to my policy",
		CustomerName:  "Dana Smith",
		RequestType:   "policy_change",
		PolicyNumbers: []string{"AUTO-88123"},
		Sentiment:     models.SentimentNeutral,
	}

	job := models.NewPendingTranscriptJob(call.TenantID, call.ID, call.CallerNumber, call.AgentExtension, call.StartedAt, call.EndedAt)
	require.NoError(t, fx.storage.JobStorage().SaveJob(ctx, job))

	status, err := fx.worker.ProcessJob(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, status)

	saved, err := fx.storage.JobStorage().GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, saved.Status)
	assert.Equal(t, "R-500", saved.RecordID)

	enriched, err := fx.storage.CallStorage().Get(ctx, call.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TranscriptionCompleted, enriched.TranscriptionStatus)
	assert.Equal(t, fx.matcher.result.Transcript, enriched.Transcription)
	assert.Equal(t, "add a vehicle to my policy", enriched.AISummary)

	// Inbound substantive call: automation created a ticket and completed the
	// wrapup
	wrapup, err := fx.storage.WrapupStorage().GetByCallID(ctx, call.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WrapupStatusCompleted, wrapup.Status)
	assert.Equal(t, models.CompletionActionTicket, wrapup.CompletionAction)
	assert.Equal(t, "T-1001", wrapup.ExternalTicketID)
	assert.Equal(t, "R-500", wrapup.RecordIDClaimed())
}

func TestConcurrentJobsClaimRecordingAtMostOnce(t *testing.T) {
	fx := newWorkerFixture(t)
	ctx := context.Background()

	fx.matcher.result = &models.Recording{
		RecordID:     "R-SHARED",
		Transcript:   "Hi, this is Dana Smith, I want to add a vehicle to my policy.",
		DurationSecs: 120,
	}
	fx.matcher.rendezvous = 2
	fx.matcher.release = make(chan struct{})
	fx.extraction.result = &models.ExtractionResult{
		Summary:     "add a vehicle to my policy",
		RequestType: "policy_change",
		Sentiment:   models.SentimentNeutral,
	}

	// Two calls whose windows both match the shared recording
	jobs := make([]*models.PendingTranscriptJob, 0, 2)
	for _, callID := range []string{"call-a", "call-b"} {
		call := testCall()
		call.ID = callID
		require.NoError(t, fx.storage.CallStorage().Save(ctx, call))

		job := models.NewPendingTranscriptJob(call.TenantID, call.ID, call.CallerNumber, call.AgentExtension, call.StartedAt, call.EndedAt)
		require.NoError(t, fx.storage.JobStorage().SaveJob(ctx, job))
		jobs = append(jobs, job)
	}

	var wg sync.WaitGroup
	for _, job := range jobs {
		wg.Add(1)
		go func(j *models.PendingTranscriptJob) {
			defer wg.Done()
			_, _ = fx.worker.ProcessJob(ctx, j)
		}(job)
	}
	wg.Wait()

	claimers := 0
	for _, job := range jobs {
		saved, err := fx.storage.JobStorage().GetJob(ctx, job.ID)
		require.NoError(t, err)
		switch saved.Status {
		case models.JobStatusCompleted:
			assert.Equal(t, "R-SHARED", saved.RecordID)
			claimers++
		default:
			assert.Equal(t, models.JobStatusPending, saved.Status)
			assert.Equal(t, 1, saved.AttemptCount, "the losing job counts a retryable attempt")
			assert.Empty(t, saved.RecordID)
		}
	}
	assert.Equal(t, 1, claimers, "one physical recording binds to exactly one completed job")

	// The settled claim keeps every later search away from the recording
	claimed, err := fx.storage.JobStorage().ClaimedRecordIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"R-SHARED"}, claimed)
}

func TestProcessJobPassesClaimedRecordIDsToMatcher(t *testing.T) {
	fx := newWorkerFixture(t)
	ctx := context.Background()
	fx.matcher.result = nil

	done := models.NewPendingTranscriptJob("default", "call-old", "2055550199", "1015", time.Now().Add(-time.Hour), time.Now().Add(-55*time.Minute))
	done.MarkCompleted("R-OLD")
	require.NoError(t, fx.storage.JobStorage().SaveJob(ctx, done))

	call := testCall()
	job := models.NewPendingTranscriptJob(call.TenantID, call.ID, call.CallerNumber, call.AgentExtension, call.StartedAt, call.EndedAt)
	require.NoError(t, fx.storage.JobStorage().SaveJob(ctx, job))

	_, err := fx.worker.ProcessJob(ctx, job)
	require.NoError(t, err)
	assert.Contains(t, fx.matcher.excluded, "R-OLD")
}

func TestProcessJobExtractionFailureCountsAttempt(t *testing.T) {
	fx := newWorkerFixture(t)
	ctx := context.Background()

	call := testCall()
	require.NoError(t, fx.storage.CallStorage().Save(ctx, call))

	fx.matcher.result = &models.Recording{RecordID: "R-1", Transcript: "some words", DurationSecs: 60}
	fx.extraction.err = errors.New("provider unavailable")

	job := models.NewPendingTranscriptJob(call.TenantID, call.ID, call.CallerNumber, call.AgentExtension, call.StartedAt, call.EndedAt)
	require.NoError(t, fx.storage.JobStorage().SaveJob(ctx, job))

	status, err := fx.worker.ProcessJob(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, status)

	saved, err := fx.storage.JobStorage().GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, saved.AttemptCount)
	assert.Empty(t, saved.RecordID, "a failed hit must not claim the recording")
}

func TestProcessJobTerminalJobIsNoop(t *testing.T) {
	fx := newWorkerFixture(t)
	ctx := context.Background()

	job := models.NewPendingTranscriptJob("default", "call-done", "2055550100", "1023", time.Now().Add(-time.Hour), time.Now())
	job.MarkCompleted("R-77")
	require.NoError(t, fx.storage.JobStorage().SaveJob(ctx, job))

	status, err := fx.worker.ProcessJob(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, status)
	assert.Nil(t, fx.matcher.excluded, "terminal jobs never reach the matcher")
}

func TestRunCountsOutcomes(t *testing.T) {
	fx := newWorkerFixture(t)
	ctx := context.Background()
	fx.matcher.result = nil

	for i, callID := range []string{"call-a", "call-b"} {
		job := models.NewPendingTranscriptJob("default", callID, "2055550100", "1023", time.Now().Add(-time.Hour), time.Now())
		if i == 1 {
			job.AttemptCount = 2 // Exhausts this run
		}
		require.NoError(t, fx.storage.JobStorage().SaveJob(ctx, job))
	}

	stats, err := fx.worker.Run(ctx, TriggerFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Processed)
	assert.Equal(t, 1, stats.Retrying)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 0, stats.Succeeded)
}
