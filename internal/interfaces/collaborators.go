package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/wrapline/internal/models"
)

// RecordingStore is the external call-recording system. Read-only.
type RecordingStore interface {
	// Search returns recordings for the extension inside [start, end]
	Search(ctx context.Context, extension string, start, end time.Time) ([]*models.Recording, error)
	// SearchSince returns recordings across all extensions recorded after
	// since, capped at limit. Used by the missed-call poller.
	SearchSince(ctx context.Context, since time.Time, limit int) ([]*models.Recording, error)
}

// TranscriptMatcher finds the recording matching a call's metadata
type TranscriptMatcher interface {
	// FindTranscript returns the best single match or nil when none exists
	// yet. excludeRecordIDs are recordings already claimed by completed jobs.
	FindTranscript(ctx context.Context, callerNumber, extension string, start, end time.Time, excludeRecordIDs []string) (*models.Recording, error)
}

// CallContext carries the call metadata the extraction capability needs
type CallContext struct {
	Direction    models.CallDirection
	Extension    string
	CallerNumber string
	Duration     time.Duration
}

// ExtractionService turns transcript text into a structured classification
type ExtractionService interface {
	Extract(ctx context.Context, transcript string, callCtx CallContext) (*models.ExtractionResult, error)
}

// CreateTicketParams is the CRM ticket creation request
type CreateTicketParams struct {
	HouseholdID string
	Subject     string
	Description string
	PipelineID  int64
	StageID     int64
	CategoryID  int64
	PriorityID  int64
	AgentID     string
}

// CRMService is the external ticketing/CRM write surface
type CRMService interface {
	CreateTicket(ctx context.Context, params CreateTicketParams) (ticketID string, err error)
	AddNote(ctx context.Context, customerID, text string) (noteID string, err error)
	// SearchCustomerByPhone returns the CRM household matching a phone
	// suffix, or nil when none matches.
	SearchCustomerByPhone(ctx context.Context, phone string) (*models.Customer, error)
}

// AlertService delivers fire-and-forget operator notifications
type AlertService interface {
	// SendAlert never blocks the caller's state transition; failures are
	// logged and dropped.
	SendAlert(ctx context.Context, subject, body string)
	IsConfigured() bool
}

// SchedulerService registers recurring jobs
type SchedulerService interface {
	// RegisterJob is idempotent: re-registering a name replaces the schedule
	// and handler rather than duplicating the job.
	RegisterJob(name, schedule, description string, handler func() error) error
	Start() error
	Stop() error
	IsRunning() bool
}
