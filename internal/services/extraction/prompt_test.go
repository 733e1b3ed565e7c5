package extraction

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/wrapline/internal/interfaces"
	"github.com/ternarybob/wrapline/internal/models"
)

func TestParseResult(t *testing.T) {
	tests := []struct {
		name        string
		raw         string
		expectError bool
		check       func(t *testing.T, r *models.ExtractionResult)
	}{
		{
			name: "Plain JSON object",
			raw:  `{"customer_name": "Dana Smith", "request_type": "policy_change", "summary": "add a vehicle to my policy", "sentiment": "neutral"}`,
			check: func(t *testing.T, r *models.ExtractionResult) {
				assert.Equal(t, "Dana Smith", r.CustomerName)
				assert.Equal(t, "policy_change", r.RequestType)
			},
		},
		{
			name: "Code fenced response",
			raw:  "```json\n{\"request_type\": \"billing\", \"summary\": \"payment question\"}\n```",
			check: func(t *testing.T, r *models.ExtractionResult) {
				assert.Equal(t, "billing", r.RequestType)
			},
		},
		{
			name: "Object surrounded by prose",
			raw:  `Here is the analysis: {"request_type": "claim", "summary": "windshield damage"} Hope that helps.`,
			check: func(t *testing.T, r *models.ExtractionResult) {
				assert.Equal(t, "claim", r.RequestType)
			},
		},
		{
			name: "Nil arrays are normalized",
			raw:  `{"summary": "quick question"}`,
			check: func(t *testing.T, r *models.ExtractionResult) {
				assert.NotNil(t, r.PolicyNumbers)
				assert.NotNil(t, r.ActionItems)
				assert.NotNil(t, r.Topics)
				assert.Equal(t, "general_inquiry", r.RequestType)
				assert.Equal(t, models.SentimentNeutral, r.Sentiment)
			},
		},
		{
			name: "Unknown sentiment is normalized",
			raw:  `{"summary": "ok", "sentiment": "ecstatic"}`,
			check: func(t *testing.T, r *models.ExtractionResult) {
				assert.Equal(t, models.SentimentNeutral, r.Sentiment)
			},
		},
		{
			name:        "No JSON at all",
			raw:         "I could not analyze this transcript.",
			expectError: true,
		},
		{
			name:        "Broken JSON",
			raw:         `{"summary": "unterminated`,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := parseResult(tt.raw)
			if tt.expectError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, result)
		})
	}
}

func TestDegradedResult(t *testing.T) {
	result := degradedResult("  some unstructured provider babble  ")
	assert.True(t, result.Degraded)
	assert.Equal(t, "some unstructured provider babble", result.Summary)
	assert.Equal(t, "general_inquiry", result.RequestType)

	long := strings.Repeat("x", 600)
	result = degradedResult(long)
	assert.Len(t, result.Summary, 500)
}

func TestBuildUserPrompt(t *testing.T) {
	prompt := buildUserPrompt("Hello, I need help.", interfaces.CallContext{
		Direction: models.DirectionInbound,
		Extension: "1023",
		Duration:  95 * time.Second,
	})

	assert.Contains(t, prompt, "Call direction: inbound")
	assert.Contains(t, prompt, "Call duration: 1m35s")
	assert.Contains(t, prompt, "Agent extension: 1023")
	assert.Contains(t, prompt, "Hello, I need help.")
}
