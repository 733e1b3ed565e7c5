package extraction

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/wrapline/internal/common"
	"github.com/ternarybob/wrapline/internal/interfaces"
)

// NewExtractionService creates the configured provider and wraps it in the
// extraction service
func NewExtractionService(cfg *common.ExtractionConfig, logger arbor.ILogger) (interfaces.ExtractionService, error) {
	var provider Provider
	var err error

	switch cfg.Provider {
	case "claude", "":
		provider, err = NewClaudeProvider(cfg, logger)
	case "gemini":
		provider, err = NewGeminiProvider(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported extraction provider %q: must be 'claude' or 'gemini'", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	logger.Info().Str("provider", provider.Name()).Msg("Extraction service initialized")

	return NewService(provider, cfg, logger)
}
