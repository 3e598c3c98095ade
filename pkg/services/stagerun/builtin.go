package stagerun

import (
	"context"

	"github.com/tablemend/engine/pkg/models"
	"github.com/tablemend/engine/pkg/services"
)

// Services bundles the engine services the builtin capabilities dispatch
// into.
type Services struct {
	Scanner  services.Scanner
	Planner  services.Planner
	Gate     services.ApprovalGate
	Applier  services.Applier
	Insights services.InsightService
}

// NewServiceRegistry builds a fresh capability table for one run. Stage
// overrides, when present, rebind operations after registration.
func NewServiceRegistry(svc Services, stageOverrides map[string]int) *Registry {
	r := NewRegistry()

	r.Register(Capability{
		Name:   "register_profile",
		Stage:  StageScan,
		Params: []string{"table_ref", "row_id_column", "time_column", "time_window_days", "audit_table", "semantic_type"},
		Handler: func(ctx context.Context, key models.ColumnKey, input map[string]any) (any, error) {
			profile := &models.TableProfile{
				TableRef:       inputString(input, "table_ref"),
				RowIDColumn:    inputString(input, "row_id_column"),
				TimeColumn:     inputString(input, "time_column"),
				TimeWindowDays: inputInt(input, "time_window_days"),
				AuditTable:     inputString(input, "audit_table"),
				SemanticType:   models.SemanticType(inputString(input, "semantic_type")),
			}
			if err := svc.Scanner.SetProfile(ctx, key, profile); err != nil {
				return nil, err
			}
			return profile, nil
		},
	})

	r.Register(Capability{
		Name:   "null_scan",
		Stage:  StageScan,
		Params: []string{"sampled"},
		Handler: func(ctx context.Context, key models.ColumnKey, input map[string]any) (any, error) {
			return svc.Scanner.NullScan(ctx, key, inputBool(input, "sampled"))
		},
	})

	r.Register(Capability{
		Name:   "conflict_scan",
		Stage:  StageScan,
		Params: []string{"group_by"},
		Handler: func(ctx context.Context, key models.ColumnKey, input map[string]any) (any, error) {
			return svc.Scanner.ConflictScan(ctx, key, inputStrings(input, "group_by"))
		},
	})

	r.Register(Capability{
		Name:   "profile_distribution",
		Stage:  StageProfile,
		Params: nil,
		Handler: func(ctx context.Context, key models.ColumnKey, input map[string]any) (any, error) {
			return svc.Scanner.DistributionProfile(ctx, key)
		},
	})

	r.Register(Capability{
		Name:   "generate_insight",
		Stage:  StageProfile,
		Params: nil,
		Handler: func(ctx context.Context, key models.ColumnKey, input map[string]any) (any, error) {
			return svc.Insights.GenerateInsight(ctx, key)
		},
	})

	r.Register(Capability{
		Name:   "plan_repair",
		Stage:  StagePlan,
		Params: []string{"null_strategy", "conflict_strategy", "apply_mode"},
		Handler: func(ctx context.Context, key models.ColumnKey, input map[string]any) (any, error) {
			return svc.Planner.Plan(ctx, key, services.PlanRequest{
				NullStrategy:     models.NullStrategy(inputString(input, "null_strategy")),
				ConflictStrategy: models.ConflictStrategy(inputString(input, "conflict_strategy")),
				ApplyMode:        models.ApplyMode(inputString(input, "apply_mode")),
			})
		},
	})

	r.Register(Capability{
		Name:   "approve_repair",
		Stage:  StageApprove,
		Params: []string{"approved", "plan_id", "plan_hash", "snapshot_signature", "token"},
		Handler: func(ctx context.Context, key models.ColumnKey, input map[string]any) (any, error) {
			return svc.Gate.Approve(ctx, key, services.ApproveRequest{
				Approved: inputBool(input, "approved"),
				Identity: models.PlanIdentity{
					PlanID:            inputString(input, "plan_id"),
					PlanHash:          inputString(input, "plan_hash"),
					SnapshotSignature: inputString(input, "snapshot_signature"),
				},
				Token: inputString(input, "token"),
			})
		},
	})

	r.Register(Capability{
		Name:   "apply_repair",
		Stage:  StageApply,
		Params: []string{"plan_id", "plan_hash", "snapshot_signature", "dry_run", "to_fixing_table"},
		Handler: func(ctx context.Context, key models.ColumnKey, input map[string]any) (any, error) {
			req := services.ApplyRequest{
				DryRun:        inputBool(input, "dry_run"),
				ToFixingTable: inputBool(input, "to_fixing_table"),
			}
			identity := models.PlanIdentity{
				PlanID:            inputString(input, "plan_id"),
				PlanHash:          inputString(input, "plan_hash"),
				SnapshotSignature: inputString(input, "snapshot_signature"),
			}
			if identity != (models.PlanIdentity{}) {
				req.Identity = &identity
			}
			return svc.Applier.Apply(ctx, key, req)
		},
	})

	r.ApplyStageOverrides(stageOverrides)
	return r
}

func inputString(input map[string]any, field string) string {
	s, _ := input[field].(string)
	return s
}

func inputBool(input map[string]any, field string) bool {
	b, _ := input[field].(bool)
	return b
}

// inputInt tolerates both native ints and the float64 that JSON decoding
// produces.
func inputInt(input map[string]any, field string) int {
	switch v := input[field].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func inputStrings(input map[string]any, field string) []string {
	switch v := input[field].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
