package extraction

import (
	"context"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/wrapline/internal/common"
	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.0-flash"

// GeminiProvider implements Provider using the Google Gemini API
type GeminiProvider struct {
	client      *genai.Client
	logger      arbor.ILogger
	model       string
	temperature float32
}

// NewGeminiProvider creates a Gemini-backed provider
func NewGeminiProvider(cfg *common.ExtractionConfig, logger arbor.ILogger) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Google API key is required (set via WRAPLINE_EXTRACTION_API_KEY or extraction.api_key in config)")
	}

	model := cfg.Model
	if model == "" {
		model = defaultGeminiModel
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize genai client: %w", err)
	}

	logger.Debug().
		Str("model", model).
		Float32("temperature", cfg.Temperature).
		Msg("Gemini extraction provider initialized")

	return &GeminiProvider{
		client:      client,
		logger:      logger,
		model:       model,
		temperature: cfg.Temperature,
	}, nil
}

// Complete sends one system/user prompt pair and returns the text response
func (p *GeminiProvider) Complete(ctx context.Context, system, user string) (string, error) {
	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(p.temperature),
	}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	contents := []*genai.Content{
		genai.NewContentFromText(user, genai.RoleUser),
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("Gemini API call failed: %w", err)
	}

	var response strings.Builder
	if resp != nil && len(resp.Candidates) > 0 {
		for _, candidate := range resp.Candidates {
			if candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part.Text != "" {
					response.WriteString(part.Text)
				}
			}
			if response.Len() > 0 {
				break
			}
		}
	}

	if response.Len() == 0 {
		return "", fmt.Errorf("no response generated from Gemini API")
	}

	return response.String(), nil
}

func (p *GeminiProvider) Name() string { return "gemini" }
