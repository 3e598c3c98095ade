// Package llm provides clients for insight generation. The LLM never sits
// on the repair path; it only summarizes structured results that already
// exist in the analysis state.
package llm

import "context"

// Client defines the interface for text generation.
// Use this interface for dependency injection to enable mocking in tests.
type Client interface {
	// GenerateText generates a completion for the given system message and prompt.
	GenerateText(ctx context.Context, systemMessage, prompt string) (string, error)

	// GetModel returns the configured model name.
	GetModel() string
}
