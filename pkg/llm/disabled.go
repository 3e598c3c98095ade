package llm

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned by the disabled client.
var ErrNotConfigured = errors.New("no AI endpoint configured")

type disabledClient struct{}

// NewDisabledClient returns a client that fails every call. Used when no
// AI endpoint is configured so insight requests degrade to a clear error
// instead of a nil dereference.
func NewDisabledClient() Client {
	return disabledClient{}
}

var _ Client = disabledClient{}

func (disabledClient) GenerateText(ctx context.Context, systemMessage, prompt string) (string, error) {
	return "", ErrNotConfigured
}

func (disabledClient) GetModel() string { return "disabled" }
