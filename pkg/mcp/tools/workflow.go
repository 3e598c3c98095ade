package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/tablemend/engine/pkg/services/stagerun"
)

// registerRunRepairWorkflowTool adds the run_repair_workflow tool.
func registerRunRepairWorkflowTool(s *server.MCPServer, deps *RepairToolDeps) {
	tool := mcp.NewTool(
		"run_repair_workflow",
		mcp.WithDescription(
			"Run a batch of repair operations against one column in dependency-respecting "+
				"stages: scans first, then profiling, planning, approval, and apply. Calls in "+
				"the same stage run concurrently; a failing call never cancels its siblings. "+
				"Returns per-call results plus the buffered workflow log. "+
				"Operations: register_profile, null_scan, conflict_scan, profile_distribution, "+
				"generate_insight, plan_repair, approve_repair, apply_repair.",
		),
		mcp.WithString(
			"table",
			mcp.Required(),
			mcp.Description("Table containing the column"),
		),
		mcp.WithString(
			"column",
			mcp.Required(),
			mcp.Description("Column to analyze and repair"),
		),
		mcp.WithString(
			"schema",
			mcp.Description("Schema name, if not the default"),
		),
		mcp.WithString(
			"calls",
			mcp.Required(),
			mcp.Description(`JSON array of operations to run, e.g. [{"operation":"null_scan","input":{"sampled":true}},{"operation":"plan_repair"}]`),
		),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(false),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		key, errResult, err := requireColumnKey(req, deps.DatasourceID)
		if err != nil {
			return nil, err
		}
		if errResult != nil {
			return errResult, nil
		}

		rawCalls, err := req.RequireString("calls")
		if err != nil {
			return nil, err
		}
		var calls []stagerun.Call
		if err := json.Unmarshal([]byte(rawCalls), &calls); err != nil {
			return NewErrorResult("invalid_parameters",
				fmt.Sprintf("parameter 'calls' is not a JSON array of operations: %v", err)), nil
		}
		if len(calls) == 0 {
			return NewErrorResult("invalid_parameters", "parameter 'calls' cannot be empty"), nil
		}

		// Each run gets its own capability table.
		registry := stagerun.NewServiceRegistry(deps.Services, deps.StageOverrides)
		result, err := deps.Runner.RunStaged(ctx, key, registry, calls)
		if err != nil {
			return nil, fmt.Errorf("workflow run failed: %w", err)
		}

		jsonResult, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal workflow result: %w", err)
		}
		return mcp.NewToolResultText(string(jsonResult)), nil
	})
}
