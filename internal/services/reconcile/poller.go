package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/wrapline/internal/common"
	"github.com/ternarybob/wrapline/internal/interfaces"
	"github.com/ternarybob/wrapline/internal/models"
)

// PollStats summarizes one missed-call sweep
type PollStats struct {
	Found      int `json:"found"`
	Duplicates int `json:"duplicates"`
	Created    int `json:"created"`
	Errors     int `json:"errors"`
}

// Poller sweeps the recording store's recent window for calls the webhook
// path never saw, such as outbound calls and dropped webhooks. Discovered
// recordings get a call row and a pending job like any other call.
type Poller struct {
	storage      interfaces.StorageManager
	store        interfaces.RecordingStore
	worker       *Worker
	logger       arbor.ILogger
	lookback     time.Duration
	limit        int
	suffixDigits int
	tenantID     string
}

// NewPoller creates the missed-call poller
func NewPoller(storage interfaces.StorageManager, store interfaces.RecordingStore, worker *Worker, config *common.Config, logger arbor.ILogger) *Poller {
	lookback := common.MustDuration(config.Poller.LookbackWindow)
	if lookback <= 0 {
		lookback = 2 * time.Hour
	}
	limit := config.Poller.Limit
	if limit <= 0 {
		limit = 100
	}
	suffixDigits := config.Matcher.SuffixDigits
	if suffixDigits <= 0 {
		suffixDigits = 7
	}

	tenantID := "default"
	for id := range config.Tenants {
		tenantID = id
		break
	}

	return &Poller{
		storage:      storage,
		store:        store,
		worker:       worker,
		logger:       logger,
		lookback:     lookback,
		limit:        limit,
		suffixDigits: suffixDigits,
		tenantID:     tenantID,
	}
}

// Run executes one sweep
func (p *Poller) Run(ctx context.Context) (*PollStats, error) {
	stats := &PollStats{}

	since := time.Now().Add(-p.lookback)
	recordings, err := p.store.SearchSince(ctx, since, p.limit)
	if err != nil {
		return stats, fmt.Errorf("missed-call sweep failed: %w", err)
	}
	stats.Found = len(recordings)

	claimed, err := p.claimedSet(ctx)
	if err != nil {
		return stats, err
	}

	for _, rec := range recordings {
		isDup, err := p.isDuplicate(ctx, rec, claimed)
		if err != nil {
			stats.Errors++
			p.logger.Warn().
				Err(err).
				Str("record_id", rec.RecordID).
				Msg("Duplicate check failed, skipping recording")
			continue
		}
		if isDup {
			stats.Duplicates++
			continue
		}

		if err := p.materialize(ctx, rec); err != nil {
			stats.Errors++
			p.logger.Error().
				Err(err).
				Str("record_id", rec.RecordID).
				Msg("Failed to materialize missed call")
			continue
		}
		stats.Created++
	}

	if stats.Found > 0 {
		p.logger.Info().
			Int("found", stats.Found).
			Int("duplicates", stats.Duplicates).
			Int("created", stats.Created).
			Msg("Missed-call sweep finished")
	}

	return stats, nil
}

// claimedSet loads the record ids already claimed by completed jobs
func (p *Poller) claimedSet(ctx context.Context) (map[string]struct{}, error) {
	ids, err := p.storage.JobStorage().ClaimedRecordIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load claimed record ids: %w", err)
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

// isDuplicate runs the dedup strategies in cheapest-first order. A recording
// is a duplicate when any existing record already accounts for the call.
func (p *Poller) isDuplicate(ctx context.Context, rec *models.Recording, claimed map[string]struct{}) (bool, error) {
	// 1. A completed job already claimed this recording
	if _, ok := claimed[rec.RecordID]; ok {
		return true, nil
	}

	// 2. A wrapup already carries this record id in its extraction payload
	exists, err := p.storage.WrapupStorage().ExistsByRecordID(ctx, rec.RecordID)
	if err != nil {
		return false, err
	}
	if exists {
		return true, nil
	}

	windowStart := rec.RecordedAt.Add(-p.lookback)
	windowEnd := rec.RecordedAt.Add(p.lookback)

	// 3. A call row already matches caller and extension inside the window
	calls, err := p.storage.CallStorage().FindByPhoneAndWindow(ctx, rec.CallerNumber, rec.Extension, windowStart, windowEnd)
	if err != nil {
		return false, err
	}
	if len(calls) > 0 {
		return true, nil
	}

	// 4. An open job is already searching for this caller/extension pair
	open, err := p.storage.JobStorage().OpenJobExistsFor(ctx, rec.CallerNumber, rec.Extension, windowStart, windowEnd)
	if err != nil {
		return false, err
	}
	return open, nil
}

// materialize creates the call row and pending job for a discovered recording
func (p *Poller) materialize(ctx context.Context, rec *models.Recording) error {
	call := models.NewPolledCall(p.tenantID, rec)
	if err := p.storage.CallStorage().Save(ctx, call); err != nil {
		return fmt.Errorf("failed to save polled call: %w", err)
	}

	if _, err := p.worker.CreateJobForCall(ctx, call); err != nil {
		return err
	}

	p.logger.Debug().
		Str("call_id", call.ID).
		Str("record_id", rec.RecordID).
		Str("extension", rec.Extension).
		Msg("Missed call materialized")

	return nil
}
