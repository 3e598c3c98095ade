package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tablemend/engine/pkg/adapters/datasource"
	"github.com/tablemend/engine/pkg/auth"
	"github.com/tablemend/engine/pkg/llm"
	"github.com/tablemend/engine/pkg/models"
	"github.com/tablemend/engine/pkg/repositories"
	"github.com/tablemend/engine/pkg/services"
	"github.com/tablemend/engine/pkg/services/stagerun"
	"github.com/tablemend/engine/pkg/sqlbuild"
)

// stubExecutor serves the count/aggregate query shapes the services issue
// over a fixed data state: 1000 rows, 120 nulls, no conflicts.
type stubExecutor struct{}

var _ datasource.QueryExecutor = (*stubExecutor)(nil)

func (stubExecutor) Query(ctx context.Context, sqlQuery string) (*datasource.QueryResult, error) {
	row := map[string]any{"n": int64(1000)}
	switch {
	case strings.Contains(sqlQuery, "conflict_groups"):
		row = map[string]any{"conflict_groups": int64(0), "conflict_rows": int64(0)}
	case strings.Contains(sqlQuery, "PERCENTILE_CONT"):
		row = map[string]any{"v": 42.5}
	case strings.Contains(sqlQuery, "IS NULL"):
		row = map[string]any{"n": int64(120)}
	}
	return &datasource.QueryResult{Rows: []map[string]any{row}, RowCount: 1}, nil
}

func (stubExecutor) Execute(ctx context.Context, sqlStatement string) (int64, error) {
	return 120, nil
}

func (stubExecutor) Dialect() sqlbuild.Dialect { return sqlbuild.DialectPostgres }
func (stubExecutor) Close() error              { return nil }

func newTestDeps(t *testing.T) (*RepairToolDeps, *repositories.MemoryAnalysisStateRepository) {
	t.Helper()
	logger := zap.NewNop()
	repo := repositories.NewMemoryAnalysisStateRepository()
	executor := stubExecutor{}
	snapshots := services.NewSnapshotEngine(executor, logger)
	planner := services.NewPlanner(repo, executor, snapshots, logger)
	deps := &RepairToolDeps{
		DatasourceID: uuid.MustParse("91d9c2f4-4a0e-44b7-8d4e-57f0f2b3ab10"),
		Services: stagerun.Services{
			Scanner:  services.NewScanner(repo, executor, snapshots, 10000, logger),
			Planner:  planner,
			Gate:     services.NewApprovalGate(repo, auth.NewApproverVerifier(nil, false), logger),
			Applier:  services.NewApplier(repo, executor, snapshots, planner, "_fixing", logger),
			Insights: services.NewInsightService(repo, llm.NewMockClient(), logger),
		},
		Runner: stagerun.NewRunner(repo, stagerun.DefaultFlushInterval, logger),
		Logger: logger,
	}
	return deps, repo
}

func newTestServer(t *testing.T) (*server.MCPServer, *repositories.MemoryAnalysisStateRepository) {
	t.Helper()
	deps, repo := newTestDeps(t)
	mcpServer := server.NewMCPServer("test", "1.0.0", server.WithToolCapabilities(true))
	RegisterRepairTools(mcpServer, deps)
	return mcpServer, repo
}

// callTool invokes a tool through the JSON-RPC surface and returns the
// text content of the result.
func callTool(t *testing.T, s *server.MCPServer, name string, args map[string]any) (string, bool) {
	t.Helper()
	params := map[string]any{"name": name, "arguments": args}
	paramsJSON, err := json.Marshal(params)
	require.NoError(t, err)
	request := fmt.Sprintf(`{"jsonrpc":"2.0","method":"tools/call","params":%s,"id":1}`, paramsJSON)

	raw := s.HandleMessage(context.Background(), []byte(request))
	resultBytes, err := json.Marshal(raw)
	require.NoError(t, err)

	var response struct {
		Result struct {
			IsError bool `json:"isError"`
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(resultBytes, &response))
	require.NotEmpty(t, response.Result.Content)
	return response.Result.Content[0].Text, response.Result.IsError
}

func TestRegisterRepairTools(t *testing.T) {
	mcpServer, _ := newTestServer(t)

	raw := mcpServer.HandleMessage(context.Background(), []byte(`{"jsonrpc":"2.0","method":"tools/list","id":1}`))
	resultBytes, err := json.Marshal(raw)
	require.NoError(t, err)

	var response struct {
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(resultBytes, &response))

	names := make(map[string]bool)
	for _, tool := range response.Result.Tools {
		names[tool.Name] = true
	}
	for _, want := range []string{"plan_repair", "approve_repair", "apply_repair", "run_repair_workflow"} {
		assert.True(t, names[want], "tool %s not registered", want)
	}
}

func seedAnalyzedColumn(t *testing.T, repo *repositories.MemoryAnalysisStateRepository, datasourceID uuid.UUID) models.ColumnKey {
	t.Helper()
	key := models.ColumnKey{DatasourceID: datasourceID, TableName: "orders", ColumnName: "amount"}
	sig := (&models.Snapshot{TotalCount: 1000, NullCount: 120}).ComputeSignature()
	_, err := repo.Merge(context.Background(), key, func(state *models.ColumnAnalysisState) error {
		state.Profile = &models.TableProfile{TableRef: "orders", RowIDColumn: "id", SemanticType: models.SemanticNumeric}
		state.Nulls = &models.NullAnalysis{NullCount: 120, TotalCount: 1000, SnapshotSignature: sig}
		return nil
	})
	require.NoError(t, err)
	return key
}

func TestPlanRepairTool_Execute(t *testing.T) {
	deps, repo := newTestDeps(t)
	mcpServer := server.NewMCPServer("test", "1.0.0", server.WithToolCapabilities(true))
	RegisterRepairTools(mcpServer, deps)
	seedAnalyzedColumn(t, repo, deps.DatasourceID)

	text, isError := callTool(t, mcpServer, "plan_repair", map[string]any{
		"table":  "orders",
		"column": "amount",
	})
	require.False(t, isError, "unexpected error result: %s", text)

	var plan models.RepairPlan
	require.NoError(t, json.Unmarshal([]byte(text), &plan))
	assert.NotEmpty(t, plan.PlanID)
	assert.NotEmpty(t, plan.PlanHash)
	require.NotNil(t, plan.NullStep)
	assert.Equal(t, models.NullStrategyMedianImpute, plan.NullStep.Strategy)
}

func TestPlanRepairTool_EmptyTable(t *testing.T) {
	mcpServer, _ := newTestServer(t)

	text, isError := callTool(t, mcpServer, "plan_repair", map[string]any{
		"table":  "   ",
		"column": "amount",
	})
	assert.True(t, isError)
	assert.Contains(t, text, "invalid_parameters")
}

func TestApproveThenApplyTools(t *testing.T) {
	deps, repo := newTestDeps(t)
	mcpServer := server.NewMCPServer("test", "1.0.0", server.WithToolCapabilities(true))
	RegisterRepairTools(mcpServer, deps)
	key := seedAnalyzedColumn(t, repo, deps.DatasourceID)

	_, isError := callTool(t, mcpServer, "plan_repair", map[string]any{
		"table": "orders", "column": "amount",
	})
	require.False(t, isError)

	approveText, isError := callTool(t, mcpServer, "approve_repair", map[string]any{
		"table": "orders", "column": "amount", "approved": true,
	})
	require.False(t, isError, "approve failed: %s", approveText)
	var approval services.ApproveResult
	require.NoError(t, json.Unmarshal([]byte(approveText), &approval))
	assert.True(t, approval.Approved)
	assert.Equal(t, auth.LocalApprover, approval.ApprovedBy)

	applyText, isError := callTool(t, mcpServer, "apply_repair", map[string]any{
		"table": "orders", "column": "amount",
	})
	require.False(t, isError, "apply failed: %s", applyText)
	var applied services.ApplyResult
	require.NoError(t, json.Unmarshal([]byte(applyText), &applied))
	assert.False(t, applied.Skipped)
	require.Len(t, applied.Results, 1)
	assert.Equal(t, models.OutcomeApplied, applied.Results[0].Status)

	state, err := repo.Get(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, state.RepairPlan.Applied)
}

func TestRunRepairWorkflowTool_Execute(t *testing.T) {
	deps, repo := newTestDeps(t)
	mcpServer := server.NewMCPServer("test", "1.0.0", server.WithToolCapabilities(true))
	RegisterRepairTools(mcpServer, deps)
	seedAnalyzedColumn(t, repo, deps.DatasourceID)

	calls := `[
		{"operation":"null_scan","input":{"sampled":false}},
		{"operation":"generate_insight"},
		{"operation":"plan_repair"}
	]`
	text, isError := callTool(t, mcpServer, "run_repair_workflow", map[string]any{
		"table": "orders", "column": "amount", "calls": calls,
	})
	require.False(t, isError, "workflow failed: %s", text)

	var result stagerun.RunResult
	require.NoError(t, json.Unmarshal([]byte(text), &result))
	assert.Equal(t, models.WorkflowStateDone, result.State)
	require.Len(t, result.Results, 3)
	for _, callResult := range result.Results {
		assert.Empty(t, callResult.Error)
	}

	key := models.ColumnKey{DatasourceID: deps.DatasourceID, TableName: "orders", ColumnName: "amount"}
	state, err := repo.Get(context.Background(), key)
	require.NoError(t, err)
	require.NotNil(t, state.RepairPlan)
	assert.NotEmpty(t, state.Logs)
}

func TestRunRepairWorkflowTool_RejectsMalformedCalls(t *testing.T) {
	mcpServer, _ := newTestServer(t)

	text, isError := callTool(t, mcpServer, "run_repair_workflow", map[string]any{
		"table": "orders", "column": "amount", "calls": "not json",
	})
	assert.True(t, isError)
	assert.Contains(t, text, "invalid_parameters")
}
