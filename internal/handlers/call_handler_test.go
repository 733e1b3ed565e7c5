package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/wrapline/internal/common"
	"github.com/ternarybob/wrapline/internal/interfaces"
	"github.com/ternarybob/wrapline/internal/models"
	"github.com/ternarybob/wrapline/internal/queue"
	"github.com/ternarybob/wrapline/internal/services/reconcile"
	"github.com/ternarybob/wrapline/internal/services/tickets"
	"github.com/ternarybob/wrapline/internal/services/wrapups"
	badgerstore "github.com/ternarybob/wrapline/internal/storage/badger"
)

type noopMatcher struct{}

func (noopMatcher) FindTranscript(ctx context.Context, callerNumber, extension string, start, end time.Time, excludeRecordIDs []string) (*models.Recording, error) {
	return nil, nil
}

type noopExtraction struct{}

func (noopExtraction) Extract(ctx context.Context, transcript string, callCtx interfaces.CallContext) (*models.ExtractionResult, error) {
	return models.DefaultExtractionResult(), nil
}

type noopAlerts struct{}

func (noopAlerts) SendAlert(ctx context.Context, subject, body string) {}
func (noopAlerts) IsConfigured() bool                                  { return false }

type noopCRM struct{}

func (noopCRM) CreateTicket(ctx context.Context, params interfaces.CreateTicketParams) (string, error) {
	return "T-1", nil
}
func (noopCRM) AddNote(ctx context.Context, customerID, text string) (string, error) {
	return "N-1", nil
}
func (noopCRM) SearchCustomerByPhone(ctx context.Context, phone string) (*models.Customer, error) {
	return nil, nil
}

func newCallHandler(t *testing.T) (*CallHandler, interfaces.StorageManager) {
	t.Helper()
	logger := arbor.NewLogger()

	storage, err := badgerstore.NewManager(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })

	queueMgr, err := queue.NewManager(t.TempDir(), 5*time.Minute, 3, logger)
	require.NoError(t, err)
	t.Cleanup(func() { queueMgr.Close() })

	cfg := common.NewDefaultConfig()
	ticketSvc := tickets.NewService(storage, noopCRM{}, cfg, logger)
	wrapupSvc := wrapups.NewService(storage, ticketSvc, noopCRM{}, queueMgr, cfg, logger)
	worker := reconcile.NewWorker(storage, noopMatcher{}, noopExtraction{}, wrapupSvc, noopAlerts{}, queueMgr, cfg, logger)

	return NewCallHandler(storage, worker, logger), storage
}

func postCallEnded(t *testing.T, handler *CallHandler, body map[string]interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/api/calls", bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	handler.CallEndedHandler(rec, req)
	return rec
}

func validEvent() map[string]interface{} {
	now := time.Now()
	return map[string]interface{}{
		"tenant_id":       "default",
		"call_id":         "call-100",
		"caller_number":   "2055550100",
		"agent_extension": "1023",
		"direction":       "inbound",
		"started_at":      now.Add(-5 * time.Minute).Format(time.RFC3339),
		"ended_at":        now.Format(time.RFC3339),
	}
}

func TestCallEndedCreatesCallAndJob(t *testing.T) {
	handler, storage := newCallHandler(t)

	rec := postCallEnded(t, handler, validEvent())
	assert.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "call-100", resp["call_id"])
	assert.NotEmpty(t, resp["job_id"])

	call, err := storage.CallStorage().Get(context.Background(), "call-100")
	require.NoError(t, err)
	assert.Equal(t, models.SourceWebhook, call.Source)
	assert.Equal(t, models.DirectionInbound, call.Direction)

	job, err := storage.JobStorage().GetOpenJobByCallID(context.Background(), "call-100")
	require.NoError(t, err)
	assert.Equal(t, resp["job_id"], job.ID)
}

func TestCallEndedIsIdempotentPerCall(t *testing.T) {
	handler, _ := newCallHandler(t)

	first := postCallEnded(t, handler, validEvent())
	second := postCallEnded(t, handler, validEvent())
	assert.Equal(t, http.StatusAccepted, first.Code)
	assert.Equal(t, http.StatusAccepted, second.Code)

	var respA, respB map[string]string
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &respA))
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &respB))
	assert.Equal(t, respA["job_id"], respB["job_id"], "a replayed event reuses the open job")
}

func TestCallEndedRejectsMissingExtension(t *testing.T) {
	handler, _ := newCallHandler(t)

	event := validEvent()
	delete(event, "agent_extension")

	rec := postCallEnded(t, handler, event)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCallEndedRejectsInvertedTimes(t *testing.T) {
	handler, _ := newCallHandler(t)

	event := validEvent()
	event["started_at"], event["ended_at"] = event["ended_at"], event["started_at"]

	rec := postCallEnded(t, handler, event)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCallEndedRejectsNonPost(t *testing.T) {
	handler, _ := newCallHandler(t)

	req := httptest.NewRequest("GET", "/api/calls", nil)
	rec := httptest.NewRecorder()
	handler.CallEndedHandler(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCallEndedDefaultsMissingFields(t *testing.T) {
	handler, storage := newCallHandler(t)

	event := validEvent()
	delete(event, "call_id")
	delete(event, "tenant_id")
	delete(event, "direction")

	rec := postCallEnded(t, handler, event)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["call_id"], "a call id is generated when the event omits one")

	call, err := storage.CallStorage().Get(context.Background(), resp["call_id"])
	require.NoError(t, err)
	assert.Equal(t, "default", call.TenantID)
	assert.Equal(t, models.DirectionInbound, call.Direction)
}
