package models

// Sentiment is the caller sentiment classification
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// TranscriptSource tags which path produced the transcript
type TranscriptSource string

const (
	SourceWebhook TranscriptSource = "webhook"
	SourcePoll    TranscriptSource = "poll"
)

// ExtractionResult is the normalized structured classification of a call
// transcript. Every field carries a usable default so a malformed or partial
// external response still satisfies the contract.
type ExtractionResult struct {
	CustomerName  string    `json:"customer_name"`
	PolicyNumbers []string  `json:"policy_numbers"`
	InsuranceType string    `json:"insurance_type"`
	RequestType   string    `json:"request_type"`
	Summary       string    `json:"summary"`
	ActionItems   []string  `json:"action_items"`
	Sentiment     Sentiment `json:"sentiment"`
	Topics        []string  `json:"topics"`
	IsHangup      bool      `json:"is_hangup"`

	// Degraded is set when the provider returned something unparseable and
	// the result was built from the raw text instead.
	Degraded bool `json:"degraded,omitempty"`

	// Source and RecordID tie the extraction back to the recording-store
	// record it came from, for cross-path deduplication.
	Source   TranscriptSource `json:"source,omitempty"`
	RecordID string           `json:"record_id,omitempty"`
}

// DefaultExtractionResult returns a result with every field defaulted
func DefaultExtractionResult() *ExtractionResult {
	return &ExtractionResult{
		PolicyNumbers: []string{},
		ActionItems:   []string{},
		Topics:        []string{},
		RequestType:   "general_inquiry",
		Sentiment:     SentimentNeutral,
	}
}

// HangupExtractionResult returns the canned result for calls with no
// substantive content
func HangupExtractionResult() *ExtractionResult {
	r := DefaultExtractionResult()
	r.RequestType = "hangup"
	r.Summary = "Caller disconnected before reaching an agent."
	r.IsHangup = true
	return r
}

// Normalize fills zero values so downstream consumers never see nils or
// unknown enum values
func (r *ExtractionResult) Normalize() {
	if r.PolicyNumbers == nil {
		r.PolicyNumbers = []string{}
	}
	if r.ActionItems == nil {
		r.ActionItems = []string{}
	}
	if r.Topics == nil {
		r.Topics = []string{}
	}
	if r.RequestType == "" {
		r.RequestType = "general_inquiry"
	}
	switch r.Sentiment {
	case SentimentPositive, SentimentNeutral, SentimentNegative:
	default:
		r.Sentiment = SentimentNeutral
	}
}
