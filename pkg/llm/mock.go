package llm

import "context"

// MockClient is a configurable mock for testing insight generation.
// Set the function fields to control behavior in tests.
type MockClient struct {
	// GenerateTextFunc is called when GenerateText is invoked.
	// If nil, returns an empty string and nil error.
	GenerateTextFunc func(ctx context.Context, systemMessage, prompt string) (string, error)

	// Model is returned by GetModel. Defaults to "mock-model".
	Model string

	// GenerateTextCalls tracks invocations for verification.
	GenerateTextCalls int
}

// NewMockClient creates a new mock with sensible defaults.
func NewMockClient() *MockClient {
	return &MockClient{Model: "mock-model"}
}

var _ Client = (*MockClient)(nil)

// GenerateText implements Client.
func (m *MockClient) GenerateText(ctx context.Context, systemMessage, prompt string) (string, error) {
	m.GenerateTextCalls++
	if m.GenerateTextFunc != nil {
		return m.GenerateTextFunc(ctx, systemMessage, prompt)
	}
	return "", nil
}

// GetModel implements Client.
func (m *MockClient) GetModel() string {
	if m.Model == "" {
		return "mock-model"
	}
	return m.Model
}
