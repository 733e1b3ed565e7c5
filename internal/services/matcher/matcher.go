// Package matcher binds calls to recording-store records by extension, fuzzy
// phone match and recording time.
package matcher

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/wrapline/internal/common"
	"github.com/ternarybob/wrapline/internal/interfaces"
	"github.com/ternarybob/wrapline/internal/models"
)

// Matcher implements interfaces.TranscriptMatcher against a RecordingStore
type Matcher struct {
	store        interfaces.RecordingStore
	logger       arbor.ILogger
	timeWindow   time.Duration
	suffixDigits int
}

// NewMatcher creates a matcher. timeWindow pads the search interval on both
// sides because recording-store timestamps drift from telephony timestamps.
func NewMatcher(store interfaces.RecordingStore, timeWindow time.Duration, suffixDigits int, logger arbor.ILogger) *Matcher {
	if timeWindow <= 0 {
		timeWindow = 15 * time.Minute
	}
	if suffixDigits <= 0 {
		suffixDigits = 7
	}
	return &Matcher{
		store:        store,
		logger:       logger,
		timeWindow:   timeWindow,
		suffixDigits: suffixDigits,
	}
}

// FindTranscript returns the best single recording for the call, or nil when
// none is available yet. Candidates already claimed by completed jobs are
// excluded so one recording never serves two calls.
func (m *Matcher) FindTranscript(ctx context.Context, callerNumber, extension string, start, end time.Time, excludeRecordIDs []string) (*models.Recording, error) {
	searchStart := start.Add(-m.timeWindow)
	searchEnd := end.Add(m.timeWindow)

	recordings, err := m.store.Search(ctx, extension, searchStart, searchEnd)
	if err != nil {
		return nil, fmt.Errorf("recording search failed: %w", err)
	}

	excluded := make(map[string]struct{}, len(excludeRecordIDs))
	for _, id := range excludeRecordIDs {
		excluded[id] = struct{}{}
	}

	var best *models.Recording
	var bestDistance time.Duration

	for _, rec := range recordings {
		if _, claimed := excluded[rec.RecordID]; claimed {
			continue
		}
		if rec.Transcript == "" {
			// Recording exists but transcription has not landed yet
			continue
		}
		if !m.phoneMatches(callerNumber, rec) {
			continue
		}

		distance := absDuration(rec.RecordedAt.Sub(start))
		if best == nil || distance < bestDistance {
			best = rec
			bestDistance = distance
		}
	}

	if best == nil {
		m.logger.Debug().
			Str("extension", extension).
			Str("caller", common.PhoneSuffix(callerNumber, m.suffixDigits)).
			Int("candidates", len(recordings)).
			Msg("No matching transcript found")
		return nil, nil
	}

	m.logger.Debug().
		Str("extension", extension).
		Str("record_id", best.RecordID).
		Dur("time_distance", bestDistance).
		Msg("Transcript matched")

	return best, nil
}

// phoneMatches compares the call's caller number against both parties of the
// recording. The store's caller/called assignment flips for outbound calls.
func (m *Matcher) phoneMatches(callerNumber string, rec *models.Recording) bool {
	if callerNumber == "" {
		// Anonymous callers match on extension and time alone
		return true
	}
	return common.PhonesMatch(callerNumber, rec.CallerNumber, m.suffixDigits) ||
		common.PhonesMatch(callerNumber, rec.CalledNumber, m.suffixDigits)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
