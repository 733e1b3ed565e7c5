package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/wrapline/internal/models"
)

// JobStorage persists PendingTranscriptJob rows
type JobStorage interface {
	SaveJob(ctx context.Context, job *models.PendingTranscriptJob) error
	GetJob(ctx context.Context, id string) (*models.PendingTranscriptJob, error)
	// GetOpenJobByCallID returns the single non-terminal job for a call, or
	// ErrNotFound. The one-open-job-per-call invariant is enforced at creation
	// through this lookup.
	GetOpenJobByCallID(ctx context.Context, callID string) (*models.PendingTranscriptJob, error)
	// DueJobs returns pending jobs whose next attempt is due, oldest first
	DueJobs(ctx context.Context, now time.Time, limit int) ([]*models.PendingTranscriptJob, error)
	// StalePendingJobs returns pending jobs whose call ended before cutoff
	StalePendingJobs(ctx context.Context, cutoff time.Time, limit int) ([]*models.PendingTranscriptJob, error)
	// ClaimRecord atomically binds recordID to jobID. The first claimer wins;
	// later claims by other jobs fail with ErrRecordClaimed. Re-claiming by
	// the holding job succeeds, so a retried attempt can finish its own work.
	ClaimRecord(ctx context.Context, recordID, jobID string) error
	// ClaimedRecordIDs returns the external record ids taken by claims and
	// completed jobs. Computed per search.
	ClaimedRecordIDs(ctx context.Context) ([]string, error)
	// OpenJobExistsFor reports whether any non-terminal job matches the
	// caller/extension pair within the window.
	OpenJobExistsFor(ctx context.Context, callerNumber, extension string, start, end time.Time) (bool, error)
}

// WrapupStorage persists WrapupDraft rows
type WrapupStorage interface {
	// Upsert writes the wrapup keyed by call id: when a wrapup already exists
	// for the call, apply overwrites its mutable fields on the existing row
	// and preserves identity and terminal state.
	Upsert(ctx context.Context, draft *models.WrapupDraft, apply func(existing *models.WrapupDraft)) (*models.WrapupDraft, error)
	Save(ctx context.Context, draft *models.WrapupDraft) error
	Get(ctx context.Context, id string) (*models.WrapupDraft, error)
	GetByCallID(ctx context.Context, callID string) (*models.WrapupDraft, error)
	// PendingOlderThan returns pending_review wrapups created before cutoff,
	// oldest first, capped at limit.
	PendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*models.WrapupDraft, error)
	// ExistsByRecordID reports whether any wrapup already claims the external
	// recording id in its extraction payload.
	ExistsByRecordID(ctx context.Context, recordID string) (bool, error)
}

// TicketStorage persists ServiceTicket rows
type TicketStorage interface {
	// Insert fails with ErrTicketExists when a ticket already exists for the
	// wrapup id (unique constraint).
	Insert(ctx context.Context, ticket *models.ServiceTicket) error
	// Update overwrites an existing row, typically to record the external
	// ticket id after the CRM call succeeds.
	Update(ctx context.Context, ticket *models.ServiceTicket) error
	GetByWrapupID(ctx context.Context, wrapupID string) (*models.ServiceTicket, error)
	// Delete removes the row for a wrapup. Used to release the reservation
	// when the CRM call fails, so a later attempt can retry. Deleting a
	// missing row is not an error.
	Delete(ctx context.Context, wrapupID string) error
	// RecentByPhoneSuffix returns tickets whose customer phone shares the
	// suffix, created after cutoff. Covers cross-path duplicates.
	RecentByPhoneSuffix(ctx context.Context, suffix string, cutoff time.Time) ([]*models.ServiceTicket, error)
}

// CallStorage persists Call rows
type CallStorage interface {
	Save(ctx context.Context, call *models.Call) error
	Get(ctx context.Context, id string) (*models.Call, error)
	// FindByPhoneAndWindow returns calls matching caller/extension whose start
	// falls inside [start, end].
	FindByPhoneAndWindow(ctx context.Context, callerNumber, extension string, start, end time.Time) ([]*models.Call, error)
}

// CustomerStorage resolves customers by phone suffix
type CustomerStorage interface {
	FindByPhoneSuffix(ctx context.Context, suffix string) (*models.Customer, error)
	Save(ctx context.Context, customer *models.Customer) error
}

// AgentStorage resolves agents by telephony extension
type AgentStorage interface {
	FindByExtension(ctx context.Context, extension string) (*models.Agent, error)
	Save(ctx context.Context, agent *models.Agent) error
}

// DeadLetterStorage records jobs that exhausted all queue attempts
type DeadLetterStorage interface {
	Save(ctx context.Context, job *models.DeadLetterJob) error
	Get(ctx context.Context, id string) (*models.DeadLetterJob, error)
	List(ctx context.Context, limit int) ([]*models.DeadLetterJob, error)
	MarkRequeued(ctx context.Context, id string) error
}

// StorageManager aggregates all storage concerns over one database
type StorageManager interface {
	JobStorage() JobStorage
	WrapupStorage() WrapupStorage
	TicketStorage() TicketStorage
	CallStorage() CallStorage
	CustomerStorage() CustomerStorage
	AgentStorage() AgentStorage
	DeadLetterStorage() DeadLetterStorage
	Close() error
}
