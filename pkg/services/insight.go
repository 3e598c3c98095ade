package services

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/tablemend/engine/pkg/apperrors"
	"github.com/tablemend/engine/pkg/llm"
	"github.com/tablemend/engine/pkg/models"
	"github.com/tablemend/engine/pkg/repositories"
)

const insightSystemMessage = "You are a data quality analyst. Summarize the " +
	"column analysis below in two or three plain sentences for a non-technical " +
	"reader. Mention data quality issues and what the proposed repair would do. " +
	"Do not invent numbers."

// InsightService produces a natural-language summary of a column's analysis
// state. It only reads structured results that already exist; it never sits
// on the repair path.
type InsightService interface {
	GenerateInsight(ctx context.Context, key models.ColumnKey) (string, error)
}

type insightService struct {
	repo   repositories.AnalysisStateRepository
	client llm.Client
	logger *zap.Logger
}

// NewInsightService creates an insight service.
func NewInsightService(repo repositories.AnalysisStateRepository, client llm.Client, logger *zap.Logger) InsightService {
	return &insightService{
		repo:   repo,
		client: client,
		logger: logger.Named("insight"),
	}
}

var _ InsightService = (*insightService)(nil)

// GenerateInsight summarizes the column's analysis state and persists the
// summary onto it.
func (s *insightService) GenerateInsight(ctx context.Context, key models.ColumnKey) (string, error) {
	state, err := s.repo.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if state.Nulls == nil && state.Conflicts == nil && state.Distribution == nil {
		return "", fmt.Errorf("no analysis to summarize for %s: %w", key, apperrors.ErrNotFound)
	}

	prompt := buildInsightPrompt(key, state)
	insight, err := s.client.GenerateText(ctx, insightSystemMessage, prompt)
	if err != nil {
		return "", fmt.Errorf("generate insight: %w", err)
	}
	insight = strings.TrimSpace(insight)

	_, err = s.repo.Merge(ctx, key, func(state *models.ColumnAnalysisState) error {
		state.Insight = insight
		return nil
	})
	if err != nil {
		return "", err
	}

	s.logger.Debug("Insight generated",
		zap.String("column", key.String()),
		zap.Int("length", len(insight)))
	return insight, nil
}

// buildInsightPrompt renders the structured sections as plain statements.
func buildInsightPrompt(key models.ColumnKey, state *models.ColumnAnalysisState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Column: %s\n", key)

	if n := state.Nulls; n != nil {
		fmt.Fprintf(&b, "Nulls: %s out of %s", countNoun(n.NullCount, "null value"), countNoun(n.TotalCount, "row"))
		if n.Sampled {
			fmt.Fprintf(&b, " (estimated from %s)", countNoun(n.SampleSize, "sampled row"))
		}
		b.WriteString("\n")
	}
	if c := state.Conflicts; c != nil {
		fmt.Fprintf(&b, "Conflicts: %s across %s, grouped by %s\n",
			countNoun(c.ConflictRows, "conflicting row"),
			countNoun(c.ConflictGroups, "group"),
			strings.Join(c.GroupByColumns, ", "))
	}
	if d := state.Distribution; d != nil {
		fmt.Fprintf(&b, "Distribution: %s", countNoun(d.DistinctCount, "distinct value"))
		if len(d.TopValues) > 0 {
			fmt.Fprintf(&b, "; most frequent %q (%s)", d.TopValues[0].Value, countNoun(d.TopValues[0].Count, "occurrence"))
		}
		b.WriteString("\n")
	}
	if p := state.RepairPlan; p != nil {
		if p.NullStep != nil {
			fmt.Fprintf(&b, "Proposed null repair: %s (%s)\n", p.NullStep.Strategy, p.NullStep.Reason)
		}
		if p.ConflictStep != nil {
			fmt.Fprintf(&b, "Proposed conflict repair: %s\n", p.ConflictStep.Strategy)
		}
		if p.Forbidden {
			fmt.Fprintf(&b, "The plan is blocked pending manual review: %s\n",
				strings.Join(p.InconsistencyReasons, "; "))
		}
	}

	return b.String()
}
