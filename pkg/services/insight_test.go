package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tablemend/engine/pkg/apperrors"
	"github.com/tablemend/engine/pkg/llm"
)

func TestGenerateInsight(t *testing.T) {
	f := newFixture(t)
	f.seedNullState(t)

	var capturedPrompt string
	client := llm.NewMockClient()
	client.GenerateTextFunc = func(ctx context.Context, systemMessage, prompt string) (string, error) {
		capturedPrompt = prompt
		return "  About 12% of the values are missing.  ", nil
	}
	insights := NewInsightService(f.repo, client, zap.NewNop())

	insight, err := insights.GenerateInsight(context.Background(), testKey())
	require.NoError(t, err)

	assert.Equal(t, "About 12% of the values are missing.", insight)
	assert.Equal(t, 1, client.GenerateTextCalls)
	assert.Contains(t, capturedPrompt, "orders.amount")
	assert.Contains(t, capturedPrompt, "120 null values")
	assert.Contains(t, capturedPrompt, "1000 rows")

	assert.Equal(t, insight, f.state(t).Insight)
}

func TestGenerateInsightRequiresAnalysis(t *testing.T) {
	f := newFixture(t)

	// A profile alone is not summarizable.
	seedProfile(t, f)
	insights := NewInsightService(f.repo, llm.NewMockClient(), zap.NewNop())

	_, err := insights.GenerateInsight(context.Background(), testKey())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
