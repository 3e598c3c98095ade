package stagerun

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tablemend/engine/pkg/models"
	"github.com/tablemend/engine/pkg/repositories"
)

func testRunner(t *testing.T) (*Runner, *repositories.MemoryAnalysisStateRepository) {
	t.Helper()
	repo := repositories.NewMemoryAnalysisStateRepository()
	return NewRunner(repo, 10*time.Millisecond, zap.NewNop()), repo
}

func recordingCapability(name string, stage int, mu *sync.Mutex, order *[]string, err error) Capability {
	return Capability{
		Name:  name,
		Stage: stage,
		Handler: func(ctx context.Context, key models.ColumnKey, input map[string]any) (any, error) {
			mu.Lock()
			*order = append(*order, name)
			mu.Unlock()
			if err != nil {
				return nil, err
			}
			return name + " done", nil
		},
	}
}

func TestRunStagedRespectsStageOrder(t *testing.T) {
	runner, _ := testRunner(t)

	var mu sync.Mutex
	var order []string
	registry := NewRegistry()
	registry.Register(recordingCapability("scan_a", StageScan, &mu, &order, nil))
	registry.Register(recordingCapability("scan_b", StageScan, &mu, &order, nil))
	registry.Register(recordingCapability("plan", StagePlan, &mu, &order, nil))
	registry.Register(recordingCapability("apply", StageApply, &mu, &order, nil))

	result, err := runner.RunStaged(context.Background(), testKey(), registry, []Call{
		{Operation: "apply"},
		{Operation: "plan"},
		{Operation: "scan_a"},
		{Operation: "scan_b"},
	})
	require.NoError(t, err)
	require.Len(t, result.Results, 4)

	// Results keep the caller's order; execution follows stage order.
	assert.Equal(t, "apply", result.Results[0].Operation)
	assert.Equal(t, StageApply, result.Results[0].Stage)
	assert.Equal(t, "apply done", result.Results[0].Output)

	require.Len(t, order, 4)
	assert.ElementsMatch(t, []string{"scan_a", "scan_b"}, order[:2])
	assert.Equal(t, "plan", order[2])
	assert.Equal(t, "apply", order[3])
	assert.Equal(t, models.WorkflowStateDone, result.State)
}

func TestRunStagedIsolatesFailuresWithinStage(t *testing.T) {
	runner, repo := testRunner(t)

	var mu sync.Mutex
	var order []string
	registry := NewRegistry()
	registry.Register(recordingCapability("scan_a", StageScan, &mu, &order, errors.New("scan a exploded")))
	registry.Register(recordingCapability("scan_b", StageScan, &mu, &order, errors.New("scan b exploded")))
	registry.Register(recordingCapability("scan_c", StageScan, &mu, &order, nil))
	registry.Register(recordingCapability("plan", StagePlan, &mu, &order, nil))

	result, err := runner.RunStaged(context.Background(), testKey(), registry, []Call{
		{Operation: "scan_a"},
		{Operation: "scan_b"},
		{Operation: "scan_c"},
		{Operation: "plan"},
	})
	require.NoError(t, err)

	// Both failures are preserved verbatim; siblings and later stages
	// still ran.
	assert.Equal(t, "scan a exploded", result.Results[0].Error)
	assert.Equal(t, "scan b exploded", result.Results[1].Error)
	assert.Equal(t, "scan_c done", result.Results[2].Output)
	assert.Equal(t, "plan done", result.Results[3].Output)
	assert.Equal(t, models.WorkflowStateError, result.State)

	state, err := repo.Get(context.Background(), testKey())
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStateError, state.WorkflowState)
}

func TestRunStagedUnknownOperationFailsInIsolation(t *testing.T) {
	runner, _ := testRunner(t)

	var mu sync.Mutex
	var order []string
	registry := NewRegistry()
	registry.Register(recordingCapability("scan_a", StageScan, &mu, &order, nil))

	result, err := runner.RunStaged(context.Background(), testKey(), registry, []Call{
		{Operation: "scan_a"},
		{Operation: "mystery_op"},
	})
	require.NoError(t, err)

	assert.Equal(t, "scan_a done", result.Results[0].Output)
	assert.Contains(t, result.Results[1].Error, "unknown operation")
	assert.Contains(t, result.Results[1].Error, "mystery_op")
	assert.Equal(t, DefaultStage, result.Results[1].Stage)
	assert.Equal(t, models.WorkflowStateError, result.State)
}

func TestRunStagedRecordsToolCalls(t *testing.T) {
	runner, repo := testRunner(t)

	var mu sync.Mutex
	var order []string
	registry := NewRegistry()
	registry.Register(recordingCapability("scan_a", StageScan, &mu, &order, nil))
	registry.Register(recordingCapability("plan", StagePlan, &mu, &order, errors.New("planner down")))

	result, err := runner.RunStaged(context.Background(), testKey(), registry, []Call{
		{Operation: "scan_a"},
		{Operation: "plan"},
	})
	require.NoError(t, err)

	require.Len(t, result.ToolCalls, 2)
	byName := make(map[string]models.ToolCallRecord)
	for _, call := range result.ToolCalls {
		byName[call.ToolName] = call
		assert.NotEmpty(t, call.ToolUseID)
		require.NotNil(t, call.EndedAt)
	}
	assert.Equal(t, models.ToolCallSuccess, byName["scan_a"].Status)
	assert.Equal(t, models.ToolCallError, byName["plan"].Status)
	assert.Equal(t, "planner down", byName["plan"].Error)

	// A final flush persisted the same records.
	state, err := repo.Get(context.Background(), testKey())
	require.NoError(t, err)
	assert.Len(t, state.ToolCalls, 2)
	assert.NotEmpty(t, state.Logs)
}
