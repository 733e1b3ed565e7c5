package queue

import (
	"encoding/json"
	"time"
)

// Queue names used by the pipeline
const (
	QueueReconcile = "transcript-reconcile"
	QueueNotes     = "crm-notes"
)

// Message is the unit of work stored in a queue
type Message struct {
	ID          string          `json:"id"`
	Queue       string          `json:"queue"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	DedupID     string          `json:"dedup_id,omitempty"`
	MaxAttempts int             `json:"max_attempts"`
	Attempts    int             `json:"attempts"` // Delivery attempts so far
	EnqueuedAt  time.Time       `json:"enqueued_at"`
	VisibleAt   time.Time       `json:"visible_at"`
}

// EnqueueOptions control per-job behavior
type EnqueueOptions struct {
	Delay       time.Duration
	MaxAttempts int
	DedupID     string
}

// EnqueueOption configures an enqueue call
type EnqueueOption func(*EnqueueOptions)

// WithDelay makes the message invisible for d after enqueue
func WithDelay(d time.Duration) EnqueueOption {
	return func(o *EnqueueOptions) { o.Delay = d }
}

// WithMaxAttempts overrides the queue default attempt cap
func WithMaxAttempts(n int) EnqueueOption {
	return func(o *EnqueueOptions) { o.MaxAttempts = n }
}

// WithDedupID suppresses the enqueue when a message with the same dedup id
// is still pending in the queue
func WithDedupID(id string) EnqueueOption {
	return func(o *EnqueueOptions) { o.DedupID = id }
}

// Stats reports per-queue counts for health checks
type Stats struct {
	Queue     string `json:"queue"`
	Waiting   int    `json:"waiting"`
	Delayed   int    `json:"delayed"`
	Active    int    `json:"active"`
	Completed int64  `json:"completed"`
	Failed    int64  `json:"failed"`
	Unhealthy bool   `json:"unhealthy"`
}

// FailureHook is invoked when a message exhausts its attempts. The payload is
// handed to the hook before deletion so callers can dead-letter it.
type FailureHook func(queueName string, msg *Message, err error)
