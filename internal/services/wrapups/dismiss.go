package wrapups

import (
	"strings"

	"github.com/ternarybob/wrapline/internal/common"
	"github.com/ternarybob/wrapline/internal/models"
)

// voicemailPhrases mark calls that never reached a live conversation
var voicemailPhrases = []string{
	"left a voicemail",
	"left a message",
	"reached voicemail",
	"went to voicemail",
	"no answer",
	"did not answer",
	"mailbox is full",
}

// classifyDismiss evaluates the dismiss-reason taxonomy for a wrapup.
// Returns the matched reason and true when the wrapup qualifies for
// auto-dismissal. Voicemails match here regardless of direction; the caller
// decides whether an inbound voicemail gets redirected to ticket creation
// instead of being dismissed.
func classifyDismiss(w *models.WrapupDraft, testPhones []string) (models.DismissReason, bool) {
	if w.RequestType == "hangup" || (w.Extraction != nil && w.Extraction.IsHangup) {
		return models.DismissReasonHangup, true
	}

	if strings.EqualFold(w.CustomerPhone, "PlayFile") {
		return models.DismissReasonPlayFile, true
	}

	for _, test := range testPhones {
		if strings.EqualFold(w.CustomerPhone, test) {
			return models.DismissReasonTestPhone, true
		}
	}

	// Both parties on short extensions means agents calling each other
	if common.IsShortExtension(w.CustomerPhone) && common.IsShortExtension(w.AgentExtension) {
		return models.DismissReasonInternalCall, true
	}

	if isVoicemail(w) {
		return models.DismissReasonVoicemail, true
	}

	if len(strings.TrimSpace(w.Summary)) < 10 {
		return models.DismissReasonNoSummary, true
	}

	return "", false
}

// isVoicemail matches the extraction tag or curated summary phrasing
func isVoicemail(w *models.WrapupDraft) bool {
	if w.RequestType == "voicemail" {
		return true
	}
	summary := strings.ToLower(w.Summary)
	for _, phrase := range voicemailPhrases {
		if strings.Contains(summary, phrase) {
			return true
		}
	}
	return false
}
