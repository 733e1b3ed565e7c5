package models

import "time"

// Recording is a record returned by the external recording store. RecordID is
// the stable external id used for claims and deduplication.
type Recording struct {
	RecordID     string        `json:"record_id"`
	Transcript   string        `json:"transcript"`
	DurationSecs int           `json:"duration_secs"`
	Direction    CallDirection `json:"direction"` // Unreliable; webhook-resolved direction wins
	CallerNumber string        `json:"caller_number"`
	CalledNumber string        `json:"called_number"`
	Extension    string        `json:"extension"`
	RecordedAt   time.Time     `json:"recorded_at"`
}
