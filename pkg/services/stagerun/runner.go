package stagerun

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tablemend/engine/pkg/apperrors"
	"github.com/tablemend/engine/pkg/logging"
	"github.com/tablemend/engine/pkg/models"
	"github.com/tablemend/engine/pkg/repositories"
)

// Call is one requested operation with its raw input payload.
type Call struct {
	Operation string         `json:"operation"`
	Input     map[string]any `json:"input,omitempty"`
}

// CallResult is the recorded outcome of one dispatched call.
type CallResult struct {
	ToolUseID string `json:"tool_use_id"`
	Operation string `json:"operation"`
	Stage     int    `json:"stage"`
	Output    any    `json:"output,omitempty"`
	Error     string `json:"error,omitempty"`
}

// RunResult is the aggregate outcome of a staged run.
type RunResult struct {
	Results   []CallResult              `json:"results"`
	Logs      []models.WorkflowLogEntry `json:"logs"`
	ToolCalls []models.ToolCallRecord   `json:"tool_calls"`
	State     string                    `json:"state"`
}

// Runner dispatches calls into concurrent stages. Stages run in ascending
// order; within a stage all calls run concurrently and the whole stage is
// awaited before the next begins. A failing call never cancels its
// siblings.
type Runner struct {
	repo          repositories.AnalysisStateRepository
	flushInterval time.Duration
	logger        *zap.Logger
}

// NewRunner creates a staged runner.
func NewRunner(repo repositories.AnalysisStateRepository, flushInterval time.Duration, logger *zap.Logger) *Runner {
	return &Runner{
		repo:          repo,
		flushInterval: flushInterval,
		logger:        logger.Named("stagerun"),
	}
}

// RunStaged executes the calls against the run's capability registry.
func (r *Runner) RunStaged(ctx context.Context, key models.ColumnKey, registry *Registry, calls []Call) (*RunResult, error) {
	buffer := NewLogBuffer(r.repo, key, r.flushInterval, r.logger)

	r.setWorkflowState(ctx, key, models.WorkflowStateRunning)
	buffer.Log("workflow", "staged run started", map[string]any{
		"calls": len(calls),
	})

	results := make([]CallResult, len(calls))

	// Group call indexes by stage, then process stages in ascending order.
	byStage := make(map[int][]int)
	for i, call := range calls {
		stage := registry.StageOf(call.Operation)
		byStage[stage] = append(byStage[stage], i)
		results[i] = CallResult{Operation: call.Operation, Stage: stage}
	}
	stages := make([]int, 0, len(byStage))
	for stage := range byStage {
		stages = append(stages, stage)
	}
	sort.Ints(stages)

	for _, stage := range stages {
		var wg sync.WaitGroup
		for _, idx := range byStage[stage] {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				r.dispatch(ctx, key, registry, buffer, calls[idx], &results[idx])
			}(idx)
		}
		wg.Wait()
	}

	state := models.WorkflowStateDone
	for i := range results {
		if results[i].Error != "" {
			state = models.WorkflowStateError
			break
		}
	}

	buffer.Log("workflow", "staged run finished", map[string]any{
		"state": state,
	})
	r.setWorkflowState(ctx, key, state)
	buffer.Close(ctx)

	return &RunResult{
		Results:   results,
		Logs:      buffer.Entries(),
		ToolCalls: buffer.ToolCalls(),
		State:     state,
	}, nil
}

// dispatch runs one call and records its outcome. Errors are captured
// with their original message; they never propagate.
func (r *Runner) dispatch(ctx context.Context, key models.ColumnKey, registry *Registry, buffer *LogBuffer, call Call, result *CallResult) {
	toolUseID := uuid.NewString()
	result.ToolUseID = toolUseID
	buffer.StartToolCall(toolUseID, call.Operation, "stagerun", call.Input)

	output, err := r.invoke(ctx, key, registry, call)
	if err != nil {
		result.Error = err.Error()
		buffer.CompleteToolCall(toolUseID, models.ToolCallError, err.Error())
		buffer.Log("tool_error", fmt.Sprintf("%s failed", call.Operation), map[string]any{
			"tool_use_id": toolUseID,
			"error":       logging.SanitizeError(err),
		})
		r.logger.Warn("Operation failed",
			zap.String("column", key.String()),
			zap.String("operation", call.Operation),
			zap.String("error", logging.SanitizeError(err)))
		return
	}

	result.Output = output
	buffer.CompleteToolCall(toolUseID, models.ToolCallSuccess, "")
}

func (r *Runner) invoke(ctx context.Context, key models.ColumnKey, registry *Registry, call Call) (any, error) {
	capability, ok := registry.Lookup(call.Operation)
	if !ok {
		return nil, fmt.Errorf("%w: %q", apperrors.ErrUnknownOperation, call.Operation)
	}
	input, err := capability.PrepareInput(call.Input, key)
	if err != nil {
		return nil, err
	}
	return capability.Handler(ctx, key, input)
}

// setWorkflowState persists the run state; persistence failures are
// logged, never fatal.
func (r *Runner) setWorkflowState(ctx context.Context, key models.ColumnKey, state string) {
	_, err := r.repo.Merge(ctx, key, func(s *models.ColumnAnalysisState) error {
		s.WorkflowState = state
		return nil
	})
	if err != nil {
		r.logger.Warn("Failed to persist workflow state",
			zap.String("column", key.String()),
			zap.String("state", state),
			zap.String("error", logging.SanitizeError(err)))
	}
}
