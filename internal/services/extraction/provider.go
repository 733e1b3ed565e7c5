// Package extraction turns call transcripts into structured classifications
// using a configurable LLM provider.
package extraction

import "context"

// Provider is a minimal completion surface over one LLM backend
type Provider interface {
	// Complete sends a system and user prompt and returns the raw text response
	Complete(ctx context.Context, system, user string) (string, error)
	Name() string
}
