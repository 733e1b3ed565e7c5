package wrapups

import (
	"context"
	"errors"
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
	badgerstore "github.com/ternarybob/wrapline/internal/storage/badger"
)

// fakeCRM records calls and can be made to fail either surface
type fakeCRM struct {
	createCalls atomic.Int32
	noteCalls   atomic.Int32
	createErr   error
	noteErr     error
}

func (f *fakeCRM) CreateTicket(ctx context.Context, params interfaces.CreateTicketParams) (string, error) {
	f.createCalls.Add(1)
	if f.createErr != nil {
		return "", f.createErr
	}
	return "T-9000", nil
}

func (f *fakeCRM) AddNote(ctx context.Context, customerID, text string) (string, error) {
	f.noteCalls.Add(1)
	if f.noteErr != nil {
		return "", f.noteErr
	}
	return "N-9000", nil
}

func (f *fakeCRM) SearchCustomerByPhone(ctx context.Context, phone string) (*models.Customer, error) {
	return nil, nil
}

type wrapupFixture struct {
	svc     *Service
	storage interfaces.StorageManager
	queue   *queue.Manager
	crm     *fakeCRM
	cfg     *common.Config
}

func newWrapupFixture(t *testing.T) *wrapupFixture {
	t.Helper()
	logger := arbor.NewLogger()

	storage, err := badgerstore.NewManager(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })

	queueMgr, err := queue.NewManager(t.TempDir(), 5*time.Minute, 3, logger)
	require.NoError(t, err)
	t.Cleanup(func() { queueMgr.Close() })

	cfg := common.NewDefaultConfig()
	crm := &fakeCRM{}
	ticketSvc := tickets.NewService(storage, crm, cfg, logger)

	return &wrapupFixture{
		svc:     NewService(storage, ticketSvc, crm, queueMgr, cfg, logger),
		storage: storage,
		queue:   queueMgr,
		crm:     crm,
		cfg:     cfg,
	}
}

// pendingWrapup builds a matched, substantive inbound wrapup and saves it
func (fx *wrapupFixture) pendingWrapup(t *testing.T, callID string, mutate func(*models.WrapupDraft)) *models.WrapupDraft {
	t.Helper()
	w := models.NewWrapupDraft("default", callID)
	w.CustomerPhone = "2055550100"
	w.Direction = models.DirectionInbound
	w.RequestType = "policy_change"
	w.Summary = "wants to add a vehicle to an auto policy"
	w.MatchStatus = models.MatchStatusMatched
	if mutate != nil {
		mutate(w)
	}
	require.NoError(t, fx.storage.WrapupStorage().Save(context.Background(), w))
	return w
}

func (fx *wrapupFixture) reload(t *testing.T, id string) *models.WrapupDraft {
	t.Helper()
	w, err := fx.storage.WrapupStorage().Get(context.Background(), id)
	require.NoError(t, err)
	return w
}

func TestAutomateDismissesHangup(t *testing.T) {
	fx := newWrapupFixture(t)
	w := fx.pendingWrapup(t, "call-hangup", func(w *models.WrapupDraft) {
		w.RequestType = "hangup"
		w.Summary = ""
	})

	require.NoError(t, fx.svc.Automate(context.Background(), w))

	saved := fx.reload(t, w.ID)
	assert.Equal(t, models.WrapupStatusCompleted, saved.Status)
	assert.True(t, saved.IsAutoVoided)
	assert.Equal(t, models.DismissReasonHangup, saved.DismissReason)
	assert.Equal(t, models.CompletionActionSkipped, saved.CompletionAction)
	assert.Equal(t, int32(0), fx.crm.createCalls.Load())
}

func TestAutomateInboundVoicemailGetsTicketNotDismissal(t *testing.T) {
	fx := newWrapupFixture(t)
	w := fx.pendingWrapup(t, "call-vm-in", func(w *models.WrapupDraft) {
		w.RequestType = "voicemail"
		w.Summary = "left a voicemail asking for a homeowners quote"
	})

	require.NoError(t, fx.svc.Automate(context.Background(), w))

	saved := fx.reload(t, w.ID)
	assert.Equal(t, models.WrapupStatusCompleted, saved.Status)
	assert.Equal(t, models.CompletionActionTicket, saved.CompletionAction)
	assert.Equal(t, "T-9000", saved.ExternalTicketID)
	assert.False(t, saved.IsAutoVoided)
}

func TestAutomateOutboundVoicemailDismissed(t *testing.T) {
	fx := newWrapupFixture(t)
	w := fx.pendingWrapup(t, "call-vm-out", func(w *models.WrapupDraft) {
		w.Direction = models.DirectionOutbound
		w.RequestType = "voicemail"
		w.Summary = "reached the customer's voicemail"
	})

	require.NoError(t, fx.svc.Automate(context.Background(), w))

	saved := fx.reload(t, w.ID)
	assert.True(t, saved.IsAutoVoided)
	assert.Equal(t, models.DismissReasonVoicemail, saved.DismissReason)
	assert.Equal(t, int32(0), fx.crm.createCalls.Load())
}

func TestAutomateInboundCreatesTicket(t *testing.T) {
	fx := newWrapupFixture(t)
	w := fx.pendingWrapup(t, "call-in", nil)

	require.NoError(t, fx.svc.Automate(context.Background(), w))

	saved := fx.reload(t, w.ID)
	assert.Equal(t, models.CompletionActionTicket, saved.CompletionAction)
	assert.Equal(t, "T-9000", saved.ExternalTicketID)
	assert.Equal(t, int32(1), fx.crm.createCalls.Load())
}

func TestAutomateOutboundEnqueuesNoteAndCompletes(t *testing.T) {
	fx := newWrapupFixture(t)
	ctx := context.Background()

	require.NoError(t, fx.storage.CustomerStorage().Save(ctx, &models.Customer{
		ID:          "cust-1",
		TenantID:    "default",
		ExternalID:  "H-300",
		Phone:       "2055550100",
		PhoneSuffix: "5550100",
		CreatedAt:   time.Now(),
	}))

	w := fx.pendingWrapup(t, "call-out", func(w *models.WrapupDraft) {
		w.Direction = models.DirectionOutbound
		w.Summary = "confirmed the renewal date with the customer"
	})

	require.NoError(t, fx.svc.Automate(ctx, w))

	saved := fx.reload(t, w.ID)
	assert.Equal(t, models.WrapupStatusCompleted, saved.Status)
	assert.Equal(t, models.CompletionActionPosted, saved.CompletionAction)

	// The note is posted asynchronously through the notes queue
	msg, err := fx.queue.Receive(ctx, queue.QueueNotes)
	require.NoError(t, err)
	assert.Equal(t, MsgTypeNote, msg.Type)

	require.NoError(t, fx.svc.handleNote(ctx, msg))
	assert.Equal(t, int32(1), fx.crm.noteCalls.Load())
	assert.Equal(t, "N-9000", fx.reload(t, w.ID).ExternalNoteID)
}

func TestAutomateOutboundWithoutCustomerStaysPending(t *testing.T) {
	fx := newWrapupFixture(t)
	w := fx.pendingWrapup(t, "call-out-unknown", func(w *models.WrapupDraft) {
		w.Direction = models.DirectionOutbound
		w.Summary = "discussed coverage options on an outbound call"
	})

	require.NoError(t, fx.svc.Automate(context.Background(), w))

	saved := fx.reload(t, w.ID)
	assert.True(t, saved.IsPending(), "no customer to note against, the sweep finalizes later")
	assert.Equal(t, int32(0), fx.crm.noteCalls.Load())
}

func TestAutomateGuardSkipLeavesWrapupPending(t *testing.T) {
	fx := newWrapupFixture(t)
	ctx := context.Background()

	// A recent ticket for the same caller trips the cross-path duplicate guard
	prior := models.NewServiceTicket("default", "wrapup-prior")
	prior.CustomerPhone = "2055550100"
	require.NoError(t, fx.storage.TicketStorage().Insert(ctx, prior))

	w := fx.pendingWrapup(t, "call-dup", nil)
	require.NoError(t, fx.svc.Automate(ctx, w))

	saved := fx.reload(t, w.ID)
	assert.True(t, saved.IsPending())
	assert.Equal(t, int32(0), fx.crm.createCalls.Load())
}

func TestAutomateCompletedWrapupIsNoop(t *testing.T) {
	fx := newWrapupFixture(t)
	w := fx.pendingWrapup(t, "call-done", func(w *models.WrapupDraft) {
		w.MarkCompleted(models.CompletionActionPosted)
	})

	require.NoError(t, fx.svc.Automate(context.Background(), w))
	assert.Equal(t, int32(0), fx.crm.createCalls.Load())
}

func TestUpsertFromExtractionCollapsesRepeatedMatches(t *testing.T) {
	fx := newWrapupFixture(t)
	ctx := context.Background()

	call := &models.Call{
		ID:             "call-x",
		TenantID:       "default",
		CallerNumber:   "2055550100",
		AgentExtension: "1023",
		Direction:      models.DirectionInbound,
	}

	first, err := fx.svc.UpsertFromExtraction(ctx, call, &models.ExtractionResult{
		Summary:     "initial summary",
		RequestType: "general_inquiry",
	})
	require.NoError(t, err)

	second, err := fx.svc.UpsertFromExtraction(ctx, call, &models.ExtractionResult{
		Summary:      "refined summary",
		RequestType:  "policy_change",
		CustomerName: "Dana Smith",
	})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "one wrapup per call, the second match updates in place")
	assert.Equal(t, "refined summary", second.Summary)
	assert.Equal(t, "Dana Smith", second.CustomerName)
	assert.Equal(t, models.MatchStatusMatched, second.MatchStatus)
}

func TestCreateManualReviewMarksProcessingFailed(t *testing.T) {
	fx := newWrapupFixture(t)
	ctx := context.Background()

	job := models.NewPendingTranscriptJob("default", "call-manual", "2055550100", "1023", time.Now().Add(-time.Hour), time.Now())
	wrapup, err := fx.svc.CreateManualReview(ctx, job)
	require.NoError(t, err)

	assert.Equal(t, models.MatchStatusUnmatched, wrapup.MatchStatus)
	assert.Equal(t, models.AIProcessingFailed, wrapup.AIProcessingStatus)
	assert.True(t, wrapup.IsPending())
	assert.Equal(t, "2055550100", wrapup.CustomerPhone)
}

func TestCreateManualReviewDoesNotResetExistingWrapup(t *testing.T) {
	fx := newWrapupFixture(t)
	ctx := context.Background()

	existing := fx.pendingWrapup(t, "call-seen", nil)

	job := models.NewPendingTranscriptJob("default", "call-seen", "2055550100", "1023", time.Now().Add(-time.Hour), time.Now())
	wrapup, err := fx.svc.CreateManualReview(ctx, job)
	require.NoError(t, err)

	assert.Equal(t, existing.ID, wrapup.ID)
	assert.Equal(t, existing.Summary, wrapup.Summary, "existing extraction fields survive")
	assert.Equal(t, models.AIProcessingFailed, wrapup.AIProcessingStatus)
}

func TestHandleNoteFailureSurfacesForRetry(t *testing.T) {
	fx := newWrapupFixture(t)
	ctx := context.Background()
	fx.crm.noteErr = errors.New("crm unavailable")

	require.NoError(t, fx.storage.CustomerStorage().Save(ctx, &models.Customer{
		ID: "cust-1", TenantID: "default", ExternalID: "H-300",
		Phone: "2055550100", PhoneSuffix: "5550100", CreatedAt: time.Now(),
	}))

	w := fx.pendingWrapup(t, "call-note-fail", func(w *models.WrapupDraft) {
		w.Direction = models.DirectionOutbound
	})
	require.NoError(t, fx.svc.Automate(ctx, w))

	msg, err := fx.queue.Receive(ctx, queue.QueueNotes)
	require.NoError(t, err)
	assert.Error(t, fx.svc.handleNote(ctx, msg), "the queue retries failed note posts")

	// The wrapup stays completed; the note is best effort
	assert.Equal(t, models.WrapupStatusCompleted, fx.reload(t, w.ID).Status)
}
