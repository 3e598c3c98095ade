// Package tools provides the MCP tool surface of the repair engine.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/tablemend/engine/pkg/models"
	"github.com/tablemend/engine/pkg/services"
	"github.com/tablemend/engine/pkg/services/stagerun"
)

// RepairToolDeps contains dependencies for the repair tools.
type RepairToolDeps struct {
	DatasourceID   uuid.UUID
	Services       stagerun.Services
	Runner         *stagerun.Runner
	StageOverrides map[string]int
	Logger         *zap.Logger
}

// RegisterRepairTools registers the repair MCP tools.
func RegisterRepairTools(s *server.MCPServer, deps *RepairToolDeps) {
	registerPlanRepairTool(s, deps)
	registerApproveRepairTool(s, deps)
	registerApplyRepairTool(s, deps)
	registerRunRepairWorkflowTool(s, deps)
}

// registerPlanRepairTool adds the plan_repair tool.
func registerPlanRepairTool(s *server.MCPServer, deps *RepairToolDeps) {
	tool := mcp.NewTool(
		"plan_repair",
		mcp.WithDescription(
			"Generate (or return the cached) repair plan for a column's nulls and conflicts. "+
				"The plan carries a content hash and a snapshot of the data state it was built "+
				"against; approving and applying both re-validate that identity. "+
				"Example: plan_repair(table='orders', column='amount') proposes a fill for the column's nulls.",
		),
		mcp.WithString(
			"table",
			mcp.Required(),
			mcp.Description("Table containing the column"),
		),
		mcp.WithString(
			"column",
			mcp.Required(),
			mcp.Description("Column to repair"),
		),
		mcp.WithString(
			"schema",
			mcp.Description("Schema name, if not the default"),
		),
		mcp.WithString(
			"null_strategy",
			mcp.Description("Null fill strategy override: median_impute, mean_impute, mode_impute, min_impute, max_impute, forward_fill, empty_string, or manual_review"),
		),
		mcp.WithString(
			"conflict_strategy",
			mcp.Description("Conflict resolution override: group_mean, group_median, majority_value, or manual_review"),
		),
		mcp.WithString(
			"apply_mode",
			mcp.Description("Apply target: in_place (default) or fixing_table"),
		),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
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

		plan, err := deps.Services.Planner.Plan(ctx, key, services.PlanRequest{
			NullStrategy:     models.NullStrategy(optionalString(req, "null_strategy")),
			ConflictStrategy: models.ConflictStrategy(optionalString(req, "conflict_strategy")),
			ApplyMode:        models.ApplyMode(optionalString(req, "apply_mode")),
		})
		if err != nil {
			return NewErrorResult("plan_failed", err.Error()), nil
		}

		jsonResult, err := json.Marshal(plan)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal plan: %w", err)
		}
		return mcp.NewToolResultText(string(jsonResult)), nil
	})
}

// registerApproveRepairTool adds the approve_repair tool.
func registerApproveRepairTool(s *server.MCPServer, deps *RepairToolDeps) {
	tool := mcp.NewTool(
		"approve_repair",
		mcp.WithDescription(
			"Approve or revoke approval of the current repair plan. The approval binds to the "+
				"plan's exact identity (plan_id, plan_hash, snapshot_signature); pass the triple "+
				"to pin the approval to one specific plan, or omit it to approve whatever plan "+
				"is current. Revocations always apply.",
		),
		mcp.WithString(
			"table",
			mcp.Required(),
			mcp.Description("Table containing the column"),
		),
		mcp.WithString(
			"column",
			mcp.Required(),
			mcp.Description("Column the plan repairs"),
		),
		mcp.WithString(
			"schema",
			mcp.Description("Schema name, if not the default"),
		),
		mcp.WithBoolean(
			"approved",
			mcp.Required(),
			mcp.Description("true grants approval, false revokes it"),
		),
		mcp.WithString(
			"plan_id",
			mcp.Description("Plan ID to pin the approval to"),
		),
		mcp.WithString(
			"plan_hash",
			mcp.Description("Plan content hash to pin the approval to"),
		),
		mcp.WithString(
			"snapshot_signature",
			mcp.Description("Snapshot signature to pin the approval to"),
		),
		mcp.WithString(
			"token",
			mcp.Description("Approver's bearer token; required when approver verification is enabled"),
		),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
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

		args, _ := req.Params.Arguments.(map[string]any)
		approved, ok := args["approved"].(bool)
		if !ok {
			return NewErrorResult("invalid_parameters", "parameter 'approved' must be a boolean"), nil
		}

		result, err := deps.Services.Gate.Approve(ctx, key, services.ApproveRequest{
			Approved: approved,
			Identity: planIdentityFromParams(req),
			Token:    bearerToken(optionalString(req, "token")),
		})
		if err != nil {
			return NewErrorResult("approval_failed", err.Error()), nil
		}

		jsonResult, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal approval result: %w", err)
		}
		return mcp.NewToolResultText(string(jsonResult)), nil
	})
}

// registerApplyRepairTool adds the apply_repair tool.
func registerApplyRepairTool(s *server.MCPServer, deps *RepairToolDeps) {
	tool := mcp.NewTool(
		"apply_repair",
		mcp.WithDescription(
			"Apply the approved repair plan to the source table (or a cloned fixing table). "+
				"Every precondition failure returns a structured skip with a reason code "+
				"(approval_required, plan_missing, snapshot_mismatch, already_applied, ...) "+
				"instead of an error. Use dry_run=true to preview the SQL and affected rows.",
		),
		mcp.WithString(
			"table",
			mcp.Required(),
			mcp.Description("Table containing the column"),
		),
		mcp.WithString(
			"column",
			mcp.Required(),
			mcp.Description("Column the plan repairs"),
		),
		mcp.WithString(
			"schema",
			mcp.Description("Schema name, if not the default"),
		),
		mcp.WithString(
			"plan_id",
			mcp.Description("Plan ID the caller expects to apply"),
		),
		mcp.WithString(
			"plan_hash",
			mcp.Description("Plan content hash the caller expects to apply"),
		),
		mcp.WithString(
			"snapshot_signature",
			mcp.Description("Snapshot signature the caller expects to apply"),
		),
		mcp.WithBoolean(
			"dry_run",
			mcp.Description("Preview the mutations without executing them"),
		),
		mcp.WithBoolean(
			"to_fixing_table",
			mcp.Description("Clone the source table and mutate the clone instead"),
		),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
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

		applyReq := services.ApplyRequest{
			DryRun:        optionalBool(req, "dry_run"),
			ToFixingTable: optionalBool(req, "to_fixing_table"),
		}
		if identity := planIdentityFromParams(req); !identity.IsZero() {
			applyReq.Identity = &identity
		}

		result, err := deps.Services.Applier.Apply(ctx, key, applyReq)
		if err != nil {
			return NewErrorResult("apply_failed", err.Error()), nil
		}

		jsonResult, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal apply result: %w", err)
		}
		return mcp.NewToolResultText(string(jsonResult)), nil
	})
}
