package extraction

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/wrapline/internal/common"
)

const defaultClaudeModel = "claude-sonnet-4-20250514"

// ClaudeProvider implements Provider using the Anthropic API
type ClaudeProvider struct {
	client      anthropic.Client
	logger      arbor.ILogger
	model       string
	maxTokens   int
	temperature float32
}

// NewClaudeProvider creates a Claude-backed provider
func NewClaudeProvider(cfg *common.ExtractionConfig, logger arbor.ILogger) (*ClaudeProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required (set via ANTHROPIC_API_KEY, WRAPLINE_EXTRACTION_API_KEY, or extraction.api_key in config)")
	}

	model := cfg.Model
	if model == "" {
		model = defaultClaudeModel
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}

	client := anthropic.NewClient(
		option.WithAPIKey(cfg.APIKey),
	)

	logger.Debug().
		Str("model", model).
		Int("max_tokens", maxTokens).
		Float32("temperature", cfg.Temperature).
		Msg("Claude extraction provider initialized")

	return &ClaudeProvider{
		client:      client,
		logger:      logger,
		model:       model,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
	}, nil
}

// Complete sends one system/user prompt pair and returns the text response
func (p *ClaudeProvider) Complete(ctx context.Context, system, user string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: int64(p.maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	}

	if p.temperature > 0 {
		params.Temperature = anthropic.Float(float64(p.temperature))
	}

	if system != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: system},
		}
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("Claude API call failed: %w", err)
	}

	var response strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			response.WriteString(block.Text)
		}
	}

	if response.Len() == 0 {
		return "", fmt.Errorf("no response generated from Claude API")
	}

	return response.String(), nil
}

func (p *ClaudeProvider) Name() string { return "claude" }
