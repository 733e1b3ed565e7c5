package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/wrapline/internal/common"
	"github.com/ternarybob/wrapline/internal/models"
	"github.com/ternarybob/wrapline/internal/queue"
)

type mockRecordingStore struct {
	recordings []*models.Recording
	err        error
}

func (m *mockRecordingStore) Search(ctx context.Context, extension string, start, end time.Time) ([]*models.Recording, error) {
	return m.recordings, m.err
}

func (m *mockRecordingStore) SearchSince(ctx context.Context, since time.Time, limit int) ([]*models.Recording, error) {
	return m.recordings, m.err
}

func newPollerFixture(t *testing.T) (*Poller, *workerFixture, *mockRecordingStore) {
	t.Helper()
	fx := newWorkerFixture(t)
	store := &mockRecordingStore{}

	cfg := common.NewDefaultConfig()
	poller := NewPoller(fx.storage, store, fx.worker, cfg, arbor.NewLogger())
	return poller, fx, store
}

func missedRecording(id string) *models.Recording {
	return &models.Recording{
		RecordID:     id,
		Transcript:   "Outbound follow up about the customer's claim status.",
		DurationSecs: 180,
		Direction:    models.DirectionOutbound,
		CallerNumber: "1023",
		CalledNumber: "2055550177",
		Extension:    "1023",
		RecordedAt:   time.Now().Add(-30 * time.Minute),
	}
}

func TestPollerMaterializesMissedCall(t *testing.T) {
	poller, fx, store := newPollerFixture(t)
	ctx := context.Background()
	store.recordings = []*models.Recording{missedRecording("R-NEW")}

	stats, err := poller.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Found)
	assert.Equal(t, 1, stats.Created)
	assert.Equal(t, 0, stats.Duplicates)

	// The discovered recording now has a call row and an open job
	rec := store.recordings[0]
	calls, err := fx.storage.CallStorage().FindByPhoneAndWindow(ctx, rec.CallerNumber, rec.Extension,
		rec.RecordedAt.Add(-time.Minute), rec.RecordedAt.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, models.SourcePoll, calls[0].Source)

	open, err := fx.storage.JobStorage().GetOpenJobByCallID(ctx, calls[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, open.Status)
}

func TestPollerSkipsClaimedRecording(t *testing.T) {
	poller, fx, store := newPollerFixture(t)
	ctx := context.Background()

	done := models.NewPendingTranscriptJob("default", "call-old", "1023", "1023", time.Now().Add(-time.Hour), time.Now().Add(-55*time.Minute))
	done.MarkCompleted("R-CLAIMED")
	require.NoError(t, fx.storage.JobStorage().SaveJob(ctx, done))

	store.recordings = []*models.Recording{missedRecording("R-CLAIMED")}

	stats, err := poller.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Duplicates)
	assert.Equal(t, 0, stats.Created)
}

func TestPollerSkipsRecordingClaimedByWrapup(t *testing.T) {
	poller, fx, store := newPollerFixture(t)
	ctx := context.Background()

	w := models.NewWrapupDraft("default", "call-w")
	w.Extraction = &models.ExtractionResult{RecordID: "R-WRAPPED"}
	require.NoError(t, fx.storage.WrapupStorage().Save(ctx, w))

	store.recordings = []*models.Recording{missedRecording("R-WRAPPED")}

	stats, err := poller.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Duplicates)
	assert.Equal(t, 0, stats.Created)
}

func TestPollerSkipsRecordingWithExistingCall(t *testing.T) {
	poller, fx, store := newPollerFixture(t)
	ctx := context.Background()
	rec := missedRecording("R-SEEN")

	call := testCall()
	call.CallerNumber = rec.CallerNumber
	call.AgentExtension = rec.Extension
	call.StartedAt = rec.RecordedAt
	require.NoError(t, fx.storage.CallStorage().Save(ctx, call))

	store.recordings = []*models.Recording{rec}

	stats, err := poller.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Duplicates)
}

func TestPollerSkipsRecordingWithOpenJob(t *testing.T) {
	poller, fx, store := newPollerFixture(t)
	ctx := context.Background()
	rec := missedRecording("R-SEARCHING")

	job := models.NewPendingTranscriptJob("default", "call-open", rec.CallerNumber, rec.Extension, rec.RecordedAt, rec.RecordedAt.Add(3*time.Minute))
	require.NoError(t, fx.storage.JobStorage().SaveJob(ctx, job))

	store.recordings = []*models.Recording{rec}

	stats, err := poller.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Duplicates)
	assert.Equal(t, 0, stats.Created)
}

func TestPollerStoreErrorSurfaces(t *testing.T) {
	poller, _, store := newPollerFixture(t)
	store.err = errors.New("store unavailable")

	_, err := poller.Run(context.Background())
	assert.Error(t, err)
}

func TestReapStaleRequeuesRecentJob(t *testing.T) {
	fx := newWorkerFixture(t)
	ctx := context.Background()

	// Pending job whose attempt message was lost an hour ago
	job := models.NewPendingTranscriptJob("default", "call-lost", "2055550100", "1023",
		time.Now().Add(-65*time.Minute), time.Now().Add(-time.Hour))
	require.NoError(t, fx.storage.JobStorage().SaveJob(ctx, job))

	stats, err := fx.worker.ReapStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Examined)
	assert.Equal(t, 1, stats.Requeued)
	assert.Equal(t, 0, stats.Exhausted)

	// A second reap must not stack a duplicate attempt message
	_, err = fx.worker.ReapStale(ctx)
	require.NoError(t, err)
	qstats, err := fx.queue.Stats(queue.QueueReconcile, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, qstats.Waiting)
}

func TestReapStaleExhaustsAbandonedJob(t *testing.T) {
	fx := newWorkerFixture(t)
	ctx := context.Background()

	job := models.NewPendingTranscriptJob("default", "call-abandoned", "2055550100", "1023",
		time.Now().Add(-49*time.Hour), time.Now().Add(-48*time.Hour))
	require.NoError(t, fx.storage.JobStorage().SaveJob(ctx, job))

	stats, err := fx.worker.ReapStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Exhausted)

	saved, err := fx.storage.JobStorage().GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, saved.Status)
	assert.Equal(t, 1, fx.alerts.count())
}

func TestReapStaleIgnoresFreshJobs(t *testing.T) {
	fx := newWorkerFixture(t)
	ctx := context.Background()

	job := models.NewPendingTranscriptJob("default", "call-fresh", "2055550100", "1023",
		time.Now().Add(-5*time.Minute), time.Now())
	require.NoError(t, fx.storage.JobStorage().SaveJob(ctx, job))

	stats, err := fx.worker.ReapStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Examined)
}
