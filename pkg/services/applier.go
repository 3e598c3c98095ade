package services

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/tablemend/engine/pkg/adapters/datasource"
	"github.com/tablemend/engine/pkg/jsonutil"
	"github.com/tablemend/engine/pkg/logging"
	"github.com/tablemend/engine/pkg/models"
	"github.com/tablemend/engine/pkg/repositories"
	"github.com/tablemend/engine/pkg/sqlbuild"
)

// ApplyRequest carries an apply call's options.
type ApplyRequest struct {
	// Identity optionally pins the call to one exact plan identity.
	Identity *models.PlanIdentity `json:"identity,omitempty"`

	// DryRun returns the would-be SQL and target counts without executing.
	DryRun bool `json:"dry_run,omitempty"`

	// ToFixingTable clones the source table and mutates the clone.
	ToFixingTable bool `json:"to_fixing_table,omitempty"`
}

// ApplyResult is the structured outcome of an apply call. A whole-call
// precondition failure sets Skipped and Reason; per-step outcomes are in
// Results either way.
type ApplyResult struct {
	Results     []models.RepairOutcome `json:"results"`
	Skipped     bool                   `json:"skipped,omitempty"`
	Reason      models.SkipReason      `json:"reason,omitempty"`
	TargetTable string                 `json:"target_table,omitempty"`
}

// Applier mutates the source table (or a clone) under a validated, current
// approval. Every failure terminates in a structured skip; nothing in the
// apply path propagates as an unhandled fault.
type Applier interface {
	Apply(ctx context.Context, key models.ColumnKey, req ApplyRequest) (*ApplyResult, error)
}

type applier struct {
	repo         repositories.AnalysisStateRepository
	executor     datasource.QueryExecutor
	snapshots    SnapshotEngine
	planner      Planner
	fixingSuffix string
	logger       *zap.Logger
}

// NewApplier creates a repair applier. fixingSuffix names the cloned apply
// target: <table><suffix>.
func NewApplier(repo repositories.AnalysisStateRepository, executor datasource.QueryExecutor, snapshots SnapshotEngine, planner Planner, fixingSuffix string, logger *zap.Logger) Applier {
	return &applier{
		repo:         repo,
		executor:     executor,
		snapshots:    snapshots,
		planner:      planner,
		fixingSuffix: fixingSuffix,
		logger:       logger.Named("applier"),
	}
}

var _ Applier = (*applier)(nil)

// replanAction signals what the applier should do after an attempt.
type replanAction int

const (
	replanNone replanAction = iota
	// replanRetry regenerates the missing plan and retries the call once.
	replanRetry
	// replanOnly regenerates eagerly so the next call sees a fresh,
	// consistent plan, without retrying this one.
	replanOnly
)

// Apply runs the precondition chain and, if it passes, executes the plan's
// steps against the target table.
func (a *applier) Apply(ctx context.Context, key models.ColumnKey, req ApplyRequest) (*ApplyResult, error) {
	result, action, err := a.applyOnce(ctx, key, req)
	if err != nil {
		return nil, err
	}

	switch action {
	case replanRetry:
		if _, perr := a.planner.Plan(ctx, key, PlanRequest{}); perr != nil {
			a.logger.Warn("Re-plan after missing plan failed",
				zap.String("column", key.String()),
				zap.String("error", logging.SanitizeError(perr)))
			return result, nil
		}
		retried, _, err := a.applyOnce(ctx, key, req)
		if err != nil {
			return nil, err
		}
		return retried, nil

	case replanOnly:
		if _, perr := a.planner.Plan(ctx, key, PlanRequest{}); perr != nil {
			a.logger.Warn("Eager re-plan after snapshot mismatch failed",
				zap.String("column", key.String()),
				zap.String("error", logging.SanitizeError(perr)))
		}
	}
	return result, nil
}

func (a *applier) applyOnce(ctx context.Context, key models.ColumnKey, req ApplyRequest) (*ApplyResult, replanAction, error) {
	var result *ApplyResult
	action := replanNone

	_, err := a.repo.Merge(ctx, key, func(state *models.ColumnAnalysisState) error {
		profile := state.Profile
		plan := state.RepairPlan
		now := time.Now().UTC()

		// skip records a whole-call precondition failure: one skipped
		// outcome per plan step, zero mutations.
		skip := func(reason models.SkipReason) {
			result = &ApplyResult{Skipped: true, Reason: reason}
			if plan == nil {
				return
			}
			for _, stepType := range planStepTypes(plan) {
				outcome := models.RepairOutcome{
					StepType: stepType,
					Status:   models.OutcomeSkipped,
					Reason:   reason,
					PlanID:   plan.PlanID,
					At:       now,
				}
				state.RecordOutcome(outcome)
				result.Results = append(result.Results, outcome)
			}
		}

		// 1. Approval flag.
		approved := (state.Overrides != nil && state.Overrides.Approved) ||
			(plan != nil && plan.Approved)
		if !approved {
			skip(models.ReasonApprovalRequired)
			return nil
		}

		// 2. Physical table reference.
		if profile == nil || profile.TableRef == "" {
			skip(models.ReasonNoTableReference)
			return nil
		}

		// 3. Valid plan. Missing plans trigger a transparent re-plan and
		// one retry; nothing is persisted for this attempt.
		if plan == nil || !plan.HasIdentity() {
			result = &ApplyResult{Skipped: true, Reason: models.ReasonPlanMissing}
			action = replanRetry
			return errSkipWrite
		}

		// 4. Consistency.
		if plan.Forbidden || plan.RequiresManualReview {
			skip(models.ReasonPlanInconsistent)
			return nil
		}

		// 5. Approved identity triple: override record first, then the
		// plan's approved fields, then the plan's own identity.
		approvedID := plan.Identity()
		if state.Overrides != nil && !state.Overrides.Identity().IsZero() {
			approvedID = state.Overrides.Identity()
		} else if !plan.ApprovedIdentity().IsZero() {
			approvedID = plan.ApprovedIdentity()
		}
		if !approvedID.Matches(plan.Identity()) {
			skip(models.ReasonApprovalPlanMismatch)
			return nil
		}
		if req.Identity != nil && !req.Identity.Matches(plan.Identity()) {
			skip(models.ReasonApprovalPlanMismatch)
			return nil
		}

		// Concurrent applies serialize on the document lock; the loser
		// re-reads the plan and lands here.
		if plan.Applied {
			skip(models.ReasonAlreadyApplied)
			return nil
		}

		// 6. The data must still look exactly as it did when approved.
		var groupBy []string
		if plan.Snapshot != nil {
			groupBy = plan.Snapshot.GroupByColumns
		}
		fresh := a.snapshots.Capture(ctx, profile, key.ColumnName, groupBy)
		if fresh.Signature != approvedID.SnapshotSignature {
			skip(models.ReasonSnapshotMismatch)
			action = replanOnly
			return nil
		}

		result = a.execute(ctx, state, profile, plan, key.ColumnName, req, now)
		return nil
	})
	if err != nil && !errors.Is(err, errSkipWrite) {
		return nil, replanNone, err
	}
	return result, action, nil
}

func planStepTypes(plan *models.RepairPlan) []models.RepairStepType {
	var types []models.RepairStepType
	if plan.NullStep != nil {
		types = append(types, models.StepNullRepair)
	}
	if plan.ConflictStep != nil {
		types = append(types, models.StepConflictRepair)
	}
	return types
}

// execute runs the plan's steps. Preconditions have all passed.
func (a *applier) execute(ctx context.Context, state *models.ColumnAnalysisState, profile *models.TableProfile, plan *models.RepairPlan, column string, req ApplyRequest, now time.Time) *ApplyResult {
	builder := sqlbuild.New(a.executor.Dialect())
	result := &ApplyResult{}

	mode := plan.ApplyMode
	if req.ToFixingTable {
		mode = models.ApplyModeFixingTable
	}

	targetTable := profile.TableRef
	if mode == models.ApplyModeFixingTable {
		fixingTable := profile.TableRef + a.fixingSuffix
		if !req.DryRun {
			statements, err := builder.CloneTable(fixingTable, profile.TableRef)
			if err == nil {
				for _, stmt := range statements {
					if _, execErr := a.executor.Execute(ctx, stmt); execErr != nil {
						err = execErr
						break
					}
				}
			}
			if err != nil {
				for _, stepType := range planStepTypes(plan) {
					outcome := a.errorOutcome(stepType, plan, targetTable, err, now)
					state.RecordOutcome(outcome)
					result.Results = append(result.Results, outcome)
				}
				return result
			}
		}
		targetTable = fixingTable
		result.TargetTable = fixingTable
	}

	record := func(o models.RepairOutcome) {
		state.RecordOutcome(o)
		result.Results = append(result.Results, o)
	}

	anyApplied := false

	if step := plan.NullStep; step != nil {
		outcome := a.applyNullStep(ctx, builder, profile, plan, step, column, targetTable, req.DryRun, now)
		record(outcome)
		anyApplied = anyApplied || outcome.Status == models.OutcomeApplied
	}

	if step := plan.ConflictStep; step != nil {
		outcome := a.applyConflictStep(ctx, builder, profile, plan, step, column, targetTable, req.DryRun, now)
		record(outcome)
		anyApplied = anyApplied || outcome.Status == models.OutcomeApplied
	}

	if anyApplied && !req.DryRun {
		plan.Applied = true
		plan.AppliedAt = &now
		plan.ApplyMode = mode
		if mode == models.ApplyModeFixingTable {
			plan.TargetTable = targetTable
		}
	}

	a.logger.Info("Apply finished",
		zap.String("plan_id", plan.PlanID),
		zap.String("target", targetTable),
		zap.Bool("dry_run", req.DryRun),
		zap.Bool("applied", anyApplied))

	return result
}

func (a *applier) applyNullStep(ctx context.Context, builder *sqlbuild.Builder, profile *models.TableProfile, plan *models.RepairPlan, step *models.NullRepairStep, column, targetTable string, dryRun bool, now time.Time) models.RepairOutcome {
	outcome := models.RepairOutcome{
		StepType:    models.StepNullRepair,
		PlanID:      plan.PlanID,
		TargetTable: targetTable,
		At:          now,
	}

	switch {
	case step.Strategy == models.NullStrategyManualReview:
		outcome.Status = models.OutcomeSkipped
		outcome.Reason = models.ReasonManualReview
		return outcome
	case step.RequiresManualDefault:
		outcome.Status = models.OutcomeSkipped
		outcome.Reason = models.ReasonManualDefault
		return outcome
	}

	update, err := builder.NullUpdate(targetTable, column, step.FillExpr)
	if err != nil {
		return a.failOutcome(outcome, err)
	}
	outcome.SQL = update

	if dryRun {
		outcome.Status = models.OutcomeDryRun
		outcome.RowsAffected = a.countRows(ctx, builderNullCount(builder, targetTable, column), step.EstimatedRows)
		return outcome
	}

	if profile.AuditTable != "" && profile.RowIDColumn != "" {
		where, err := builder.NullWhere(column)
		if err != nil {
			return a.failOutcome(outcome, err)
		}
		audit, err := builder.AuditInsert(profile.AuditTable, targetTable, profile.RowIDColumn, column, step.FillExpr, plan.PlanID, where)
		if err != nil {
			return a.failOutcome(outcome, err)
		}
		if _, err := a.executor.Execute(ctx, audit); err != nil {
			return a.failOutcome(outcome, err)
		}
	}

	affected, err := a.executor.Execute(ctx, update)
	if err != nil {
		return a.failOutcome(outcome, err)
	}
	outcome.Status = models.OutcomeApplied
	outcome.RowsAffected = affected
	return outcome
}

func (a *applier) applyConflictStep(ctx context.Context, builder *sqlbuild.Builder, profile *models.TableProfile, plan *models.RepairPlan, step *models.ConflictRepairStep, column, targetTable string, dryRun bool, now time.Time) models.RepairOutcome {
	outcome := models.RepairOutcome{
		StepType:    models.StepConflictRepair,
		PlanID:      plan.PlanID,
		TargetTable: targetTable,
		At:          now,
	}

	if step.Strategy == models.ConflictStrategyManualReview {
		outcome.Status = models.OutcomeSkipped
		outcome.Reason = models.ReasonManualReview
		return outcome
	}

	update, err := builder.ConflictUpdate(targetTable, column, step.GroupByColumns, conflictAggregate(step.Strategy))
	if err != nil {
		return a.failOutcome(outcome, err)
	}
	outcome.SQL = update

	if dryRun {
		outcome.Status = models.OutcomeDryRun
		outcome.RowsAffected = step.EstimatedRows
		return outcome
	}

	if profile.AuditTable != "" && profile.RowIDColumn != "" {
		where, err := builder.ConflictWhere(targetTable, column, step.GroupByColumns)
		if err != nil {
			return a.failOutcome(outcome, err)
		}
		winner := "t0." + sqlbuild.QuoteIdentifier(builder.Dialect(), column)
		audit, err := builder.AuditInsert(profile.AuditTable, targetTable, profile.RowIDColumn, column, winner, plan.PlanID, where)
		if err != nil {
			return a.failOutcome(outcome, err)
		}
		if _, err := a.executor.Execute(ctx, audit); err != nil {
			return a.failOutcome(outcome, err)
		}
	}

	affected, err := a.executor.Execute(ctx, update)
	if err != nil {
		return a.failOutcome(outcome, err)
	}
	outcome.Status = models.OutcomeApplied
	outcome.RowsAffected = affected
	return outcome
}

func (a *applier) failOutcome(outcome models.RepairOutcome, err error) models.RepairOutcome {
	outcome.Status = models.OutcomeError
	outcome.Error = logging.SanitizeError(err)
	a.logger.Error("Repair step failed",
		zap.String("plan_id", outcome.PlanID),
		zap.String("step", string(outcome.StepType)),
		zap.String("error", outcome.Error))
	return outcome
}

func (a *applier) errorOutcome(stepType models.RepairStepType, plan *models.RepairPlan, targetTable string, err error, now time.Time) models.RepairOutcome {
	return a.failOutcome(models.RepairOutcome{
		StepType:    stepType,
		PlanID:      plan.PlanID,
		TargetTable: targetTable,
		At:          now,
	}, err)
}

// countRows runs a read-only count for dry-run reporting, falling back to
// the plan's estimate on failure.
func (a *applier) countRows(ctx context.Context, stmt string, fallback int64) int64 {
	if stmt == "" {
		return fallback
	}
	result, err := a.executor.Query(ctx, stmt)
	if err != nil || result.RowCount == 0 {
		return fallback
	}
	for _, v := range result.Rows[0] {
		if n, ok := jsonutil.Int64Value(v); ok {
			return n
		}
	}
	return fallback
}

func builderNullCount(builder *sqlbuild.Builder, tableRef, column string) string {
	stmt, err := builder.NullCount(tableRef, column, sqlbuild.TimeWindow{})
	if err != nil {
		return ""
	}
	return stmt
}
