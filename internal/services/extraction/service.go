package extraction

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/wrapline/internal/common"
	"github.com/ternarybob/wrapline/internal/interfaces"
	"github.com/ternarybob/wrapline/internal/models"
	"golang.org/x/time/rate"
)

// Service implements interfaces.ExtractionService. A local hangup heuristic
// short-circuits provider calls for transcripts with no conversational
// content, which keeps hold-music hangups off the API bill.
type Service struct {
	provider    Provider
	logger      arbor.ILogger
	timeout     time.Duration
	hangupMax   time.Duration
	limiter     *rate.Limiter
}

// NewService creates the extraction service around a provider
func NewService(provider Provider, cfg *common.ExtractionConfig, logger arbor.ILogger) (*Service, error) {
	timeout, err := time.ParseDuration(cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid extraction timeout %q: %w", cfg.Timeout, err)
	}

	hangupMax, err := time.ParseDuration(cfg.HangupMaxDuration)
	if err != nil {
		return nil, fmt.Errorf("invalid extraction hangup_max_duration %q: %w", cfg.HangupMaxDuration, err)
	}

	var limiter *rate.Limiter
	if cfg.RateLimit != "" {
		interval, err := time.ParseDuration(cfg.RateLimit)
		if err != nil {
			return nil, fmt.Errorf("invalid extraction rate_limit %q: %w", cfg.RateLimit, err)
		}
		if interval > 0 {
			limiter = rate.NewLimiter(rate.Every(interval), 1)
		}
	}

	return &Service{
		provider:  provider,
		logger:    logger,
		timeout:   timeout,
		hangupMax: hangupMax,
		limiter:   limiter,
	}, nil
}

// Extract classifies a transcript. The returned result always has every
// field populated; provider failures surface as errors while unparseable
// provider output degrades to a raw-text summary instead.
func (s *Service) Extract(ctx context.Context, transcript string, callCtx interfaces.CallContext) (*models.ExtractionResult, error) {
	if isLikelyHangup(transcript, callCtx.Duration, s.hangupMax) {
		s.logger.Debug().
			Str("extension", callCtx.Extension).
			Dur("duration", callCtx.Duration).
			Msg("Hangup heuristic matched, skipping provider")
		return models.HangupExtractionResult(), nil
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("extraction rate limit wait aborted: %w", err)
		}
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	raw, err := s.provider.Complete(timeoutCtx, systemPrompt, buildUserPrompt(transcript, callCtx))
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("provider", s.provider.Name()).
			Int("transcript_length", len(transcript)).
			Msg("Extraction provider call failed")
		return nil, fmt.Errorf("extraction failed: %w", err)
	}

	result, parseErr := parseResult(raw)
	if parseErr != nil {
		s.logger.Warn().
			Err(parseErr).
			Str("provider", s.provider.Name()).
			Msg("Provider response unparseable, degrading to raw summary")
		result = degradedResult(raw)
	}

	s.logger.Debug().
		Str("provider", s.provider.Name()).
		Str("request_type", result.RequestType).
		Bool("degraded", result.Degraded).
		Dur("duration", time.Since(start)).
		Msg("Extraction completed")

	return result, nil
}
