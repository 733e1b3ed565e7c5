package extraction

import (
	"strings"
	"time"
)

// attendantPhrases are fragments of the phone system's automated greeting and
// hold prompts. A short transcript consisting only of these never reached a
// human.
var attendantPhrases = []string{
	"thank you for calling",
	"your call is important",
	"please hold",
	"please stay on the line",
	"all of our agents are",
	"press 1",
	"press one",
	"para espanol",
	"leave a message",
	"after the tone",
	"this call may be recorded",
}

// conversationalPhrases mark a human exchange: a self-introduction or an
// agent offering help. Any of these vetoes the hangup shortcut outright.
var conversationalPhrases = []string{
	"this is",
	"my name is",
	"how can i help",
	"how may i help",
	"can i help you",
}

// greetingWords are single-word greetings checked on word boundaries so that
// words merely containing them do not count
var greetingWords = map[string]struct{}{
	"hi":    {},
	"hello": {},
	"hey":   {},
}

func hasConversationalMarker(text string) bool {
	for _, phrase := range conversationalPhrases {
		if strings.Contains(text, phrase) {
			return true
		}
	}
	for _, word := range strings.Fields(text) {
		if _, ok := greetingWords[strings.Trim(word, ".,!?")]; ok {
			return true
		}
	}
	return false
}

// isLikelyHangup decides locally whether a call produced no substantive
// conversation. Only calls shorter than maxDuration qualify, and any
// conversational marker in the transcript disqualifies the call even when
// little else was said.
func isLikelyHangup(transcript string, duration, maxDuration time.Duration) bool {
	if duration >= maxDuration {
		return false
	}

	text := strings.ToLower(strings.TrimSpace(transcript))
	if text == "" {
		return true
	}

	if hasConversationalMarker(text) {
		return false
	}

	// Strip attendant phrasing and see whether anything conversational remains
	remaining := text
	for _, phrase := range attendantPhrases {
		remaining = strings.ReplaceAll(remaining, phrase, "")
	}
	remaining = strings.TrimSpace(remaining)

	// Fewer than a handful of words left over means nobody actually spoke
	return len(strings.Fields(remaining)) < 5
}
