package extraction

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/wrapline/internal/interfaces"
	"github.com/ternarybob/wrapline/internal/models"
)

const systemPrompt = `You analyze transcripts of phone calls handled by an insurance agency.
Extract the requested fields and respond with a single JSON object and nothing else.

Fields:
  customer_name: the caller's name, or "" if never stated
  policy_numbers: array of policy numbers mentioned, [] if none
  insurance_type: one of "auto", "home", "life", "commercial", "umbrella", "other", or "" if unclear
  request_type: one of "policy_change", "billing", "claim", "new_quote", "cancellation", "document_request", "general_inquiry", "voicemail", "hangup"
  summary: one or two sentences describing what the caller wanted and what was agreed
  action_items: array of concrete follow-up actions for the agency, [] if none
  sentiment: "positive", "neutral" or "negative"
  topics: array of short topic tags
  is_hangup: true only when the call contains no substantive conversation

Rules:
  A voicemail left by a caller gets request_type "voicemail" with the caller's request summarized.
  Hold music, automated greetings and dead air are not conversation.
  Never invent policy numbers or names not present in the transcript.`

// buildUserPrompt assembles the per-call prompt with call metadata context
func buildUserPrompt(transcript string, callCtx interfaces.CallContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Call direction: %s\n", callCtx.Direction)
	fmt.Fprintf(&b, "Call duration: %s\n", callCtx.Duration.Round(time.Second))
	if callCtx.Extension != "" {
		fmt.Fprintf(&b, "Agent extension: %s\n", callCtx.Extension)
	}
	b.WriteString("\nTranscript:\n")
	b.WriteString(transcript)
	return b.String()
}

// parseResult extracts the JSON object from a provider response. Providers
// sometimes wrap the object in code fences or prose; the first balanced
// object wins.
func parseResult(raw string) (*models.ExtractionResult, error) {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in provider response")
	}

	var result models.ExtractionResult
	if err := json.Unmarshal([]byte(text[start:end+1]), &result); err != nil {
		return nil, fmt.Errorf("failed to parse provider response: %w", err)
	}

	result.Normalize()
	return &result, nil
}

// degradedResult builds a usable result from an unparseable provider response.
// The raw text becomes the summary so a human reviewer still sees something.
func degradedResult(raw string) *models.ExtractionResult {
	result := models.DefaultExtractionResult()
	summary := strings.TrimSpace(raw)
	if len(summary) > 500 {
		summary = summary[:500]
	}
	result.Summary = summary
	result.Degraded = true
	return result
}
