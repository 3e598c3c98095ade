package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tablemend/engine/pkg/adapters/datasource"
	"github.com/tablemend/engine/pkg/apperrors"
	"github.com/tablemend/engine/pkg/jsonutil"
	"github.com/tablemend/engine/pkg/models"
	"github.com/tablemend/engine/pkg/repositories"
	"github.com/tablemend/engine/pkg/sqlbuild"
)

// totalCountDriftLimit is the tolerated relative difference between the
// sampled and full total row counts before the plan is forbidden.
const totalCountDriftLimit = 0.10

// PlanRequest carries optional strategy overrides for plan generation.
type PlanRequest struct {
	NullStrategy     models.NullStrategy     `json:"null_strategy,omitempty"`
	ConflictStrategy models.ConflictStrategy `json:"conflict_strategy,omitempty"`
	ApplyMode        models.ApplyMode        `json:"apply_mode,omitempty"`
}

// Planner turns prior analysis plus a fresh snapshot into a hashed repair
// plan owned by the column's analysis state.
type Planner interface {
	// Plan generates (or returns the cached) repair plan for the column.
	// The cached plan is returned unchanged when its embedded snapshot
	// signature still matches the current data state and its recorded
	// strategies match the requested ones (or the corresponding issue
	// count is now zero).
	Plan(ctx context.Context, key models.ColumnKey, req PlanRequest) (*models.RepairPlan, error)
}

type planner struct {
	repo      repositories.AnalysisStateRepository
	executor  datasource.QueryExecutor
	snapshots SnapshotEngine
	logger    *zap.Logger
}

// NewPlanner creates a repair planner.
func NewPlanner(repo repositories.AnalysisStateRepository, executor datasource.QueryExecutor, snapshots SnapshotEngine, logger *zap.Logger) Planner {
	return &planner{
		repo:      repo,
		executor:  executor,
		snapshots: snapshots,
		logger:    logger.Named("planner"),
	}
}

var _ Planner = (*planner)(nil)

// Plan generates or returns the cached repair plan for the column.
func (p *planner) Plan(ctx context.Context, key models.ColumnKey, req PlanRequest) (*models.RepairPlan, error) {
	var plan *models.RepairPlan
	_, err := p.repo.Merge(ctx, key, func(state *models.ColumnAnalysisState) error {
		generated, err := p.plan(ctx, key, state, req)
		if err != nil {
			return err
		}
		plan = generated
		state.RepairPlan = generated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return plan, nil
}

func (p *planner) plan(ctx context.Context, key models.ColumnKey, state *models.ColumnAnalysisState, req PlanRequest) (*models.RepairPlan, error) {
	if state.Nulls == nil && state.Conflicts == nil {
		return nil, fmt.Errorf("no analysis available for %s: %w", key, apperrors.ErrNotFound)
	}

	profile := state.Profile
	if profile == nil {
		profile = &models.TableProfile{SemanticType: models.SemanticUnknown}
	}

	nullStrategy, conflictStrategy, err := resolveStrategies(state, req)
	if err != nil {
		return nil, err
	}

	var groupBy []string
	if state.Conflicts != nil {
		groupBy = state.Conflicts.GroupByColumns
	}

	snap := p.snapshots.Capture(ctx, profile, key.ColumnName, groupBy)

	if cached := cachedPlan(state, snap, nullStrategy, conflictStrategy); cached != nil {
		p.logger.Debug("Returning cached plan",
			zap.String("column", key.String()),
			zap.String("plan_id", cached.PlanID))
		return cached, nil
	}

	applyMode := req.ApplyMode
	if applyMode == "" {
		applyMode = models.ApplyModeInPlace
	}

	plan := &models.RepairPlan{
		PlanID:           uuid.NewString(),
		Snapshot:         snap,
		ApplyMode:        applyMode,
		ApprovalRequired: true,
		ApprovalStatus:   models.ApprovalStatusPending,
		CreatedAt:        time.Now().UTC(),
	}

	builder := sqlbuild.New(p.executor.Dialect())

	nullCount := snap.NullCount
	if snap.IsError() && state.Nulls != nil {
		nullCount = state.Nulls.NullCount
	}
	if nullCount > 0 {
		step, err := p.buildNullStep(ctx, builder, profile, key.ColumnName, nullStrategy, nullCount, snap.TotalCount-snap.NullCount)
		if err != nil {
			return nil, err
		}
		plan.NullStep = step
	}

	conflictRows := snap.ConflictRows
	if snap.IsError() && state.Conflicts != nil {
		conflictRows = state.Conflicts.ConflictRows
	}
	if conflictRows > 0 && len(groupBy) > 0 {
		step := &models.ConflictRepairStep{
			Strategy:       conflictStrategy,
			GroupByColumns: groupBy,
			EstimatedRows:  conflictRows,
		}
		if state.Conflicts != nil {
			step.EstimatedGroups = state.Conflicts.ConflictGroups
		}
		plan.ConflictStep = step
	}

	plan.InconsistencyReasons = inconsistencyReasons(state, snap, plan)
	if len(plan.InconsistencyReasons) > 0 {
		plan.RequiresManualReview = true
		plan.Forbidden = true
	}

	if err := p.addPreviews(builder, profile, key.ColumnName, plan); err != nil {
		return nil, err
	}

	plan.RollbackStrategy = rollbackStrategy(profile, applyMode)
	plan.ApplyReady = profile.TableRef != "" &&
		(profile.RowIDColumn != "" || applyMode == models.ApplyModeFixingTable)

	if err := plan.SealHash(); err != nil {
		return nil, err
	}

	p.logger.Info("Generated repair plan",
		zap.String("column", key.String()),
		zap.String("plan_id", plan.PlanID),
		zap.Bool("forbidden", plan.Forbidden),
		zap.Bool("apply_ready", plan.ApplyReady))

	return plan, nil
}

// resolveStrategies picks the effective strategies: explicit request, then
// the strategy recorded by the scans, then the semantic-type default.
func resolveStrategies(state *models.ColumnAnalysisState, req PlanRequest) (models.NullStrategy, models.ConflictStrategy, error) {
	semType := models.SemanticUnknown
	if state.Profile != nil && state.Profile.SemanticType != "" {
		semType = state.Profile.SemanticType
	}

	nullStrategy := req.NullStrategy
	if nullStrategy == "" && state.Nulls != nil {
		nullStrategy = state.Nulls.Strategy
	}
	if nullStrategy == "" {
		nullStrategy = models.DefaultNullStrategy(semType)
	}
	switch nullStrategy {
	case models.NullStrategyMedianImpute, models.NullStrategyMeanImpute,
		models.NullStrategyModeImpute, models.NullStrategyMinImpute,
		models.NullStrategyMaxImpute, models.NullStrategyForwardFill,
		models.NullStrategyEmptyString, models.NullStrategyManualReview:
	default:
		return "", "", fmt.Errorf("unknown null strategy %q", nullStrategy)
	}

	conflictStrategy := req.ConflictStrategy
	if conflictStrategy == "" && state.Conflicts != nil {
		conflictStrategy = state.Conflicts.Strategy
	}
	if conflictStrategy == "" {
		conflictStrategy = models.DefaultConflictStrategy(semType)
	}
	switch conflictStrategy {
	case models.ConflictStrategyGroupMean, models.ConflictStrategyGroupMedian,
		models.ConflictStrategyMajority, models.ConflictStrategyManualReview:
	default:
		return "", "", fmt.Errorf("unknown conflict strategy %q", conflictStrategy)
	}

	return nullStrategy, conflictStrategy, nil
}

// cachedPlan returns the existing plan when it is still valid for the
// current snapshot and the requested strategies.
func cachedPlan(state *models.ColumnAnalysisState, snap *models.Snapshot, nullStrategy models.NullStrategy, conflictStrategy models.ConflictStrategy) *models.RepairPlan {
	existing := state.RepairPlan
	if existing == nil || existing.Snapshot == nil || existing.Snapshot.Signature != snap.Signature {
		return nil
	}
	nullMatch := snap.NullCount == 0 ||
		(existing.NullStep != nil && existing.NullStep.Strategy == nullStrategy)
	conflictMatch := snap.ConflictRows == 0 ||
		(existing.ConflictStep != nil && existing.ConflictStep.Strategy == conflictStrategy)
	if nullMatch && conflictMatch {
		return existing
	}
	return nil
}

func (p *planner) buildNullStep(ctx context.Context, builder *sqlbuild.Builder, profile *models.TableProfile, column string, strategy models.NullStrategy, estRows, nonNullCount int64) (*models.NullRepairStep, error) {
	step := &models.NullRepairStep{
		Strategy:      strategy,
		EstimatedRows: estRows,
	}

	switch strategy {
	case models.NullStrategyManualReview:
		step.Reason = "Manual review requested; no automatic fill"
		return step, nil

	case models.NullStrategyEmptyString:
		step.FillExpr = "''"
		step.FillValue = ""
		step.Reason = "Empty string for missing text"
		return step, nil

	case models.NullStrategyForwardFill:
		if profile.TimeColumn == "" {
			step.RequiresManualDefault = true
			step.Reason = "No time column available for forward fill"
			return step, nil
		}
		expr, err := builder.ForwardFillExpr(profile.TableRef, column, profile.TimeColumn)
		if err != nil {
			return nil, err
		}
		step.FillExpr = expr
		step.Reason = "Latest preceding non-null value (forward fill)"
		step.Basis = fmt.Sprintf("ordered by %s", profile.TimeColumn)
		return step, nil
	}

	// Aggregate-derived fill value.
	agg, reason := aggregateForStrategy(strategy)
	if nonNullCount <= 0 {
		step.RequiresManualDefault = true
		step.Reason = "No non-null values to derive a fill value"
		return step, nil
	}

	value, err := p.aggregateValue(ctx, builder, profile.TableRef, column, agg)
	if err != nil {
		return nil, err
	}
	if value == nil {
		step.RequiresManualDefault = true
		step.Reason = "No non-null values to derive a fill value"
		return step, nil
	}

	step.FillValue = jsonutil.Stringify(value)
	expr, err := sqlbuild.QuoteLiteral(step.FillValue)
	if err != nil {
		return nil, fmt.Errorf("fill value for %s: %w", column, err)
	}
	step.FillExpr = expr
	step.Reason = reason
	step.Basis = fmt.Sprintf("%s of %s", agg, countNoun(nonNullCount, "non-null value"))
	return step, nil
}

func aggregateForStrategy(strategy models.NullStrategy) (agg, reason string) {
	switch strategy {
	case models.NullStrategyMeanImpute:
		return sqlbuild.AggMean, "Mean of non-null values"
	case models.NullStrategyModeImpute:
		return sqlbuild.AggMode, "Most frequent non-null value"
	case models.NullStrategyMinImpute:
		return sqlbuild.AggMin, "Minimum of non-null values"
	case models.NullStrategyMaxImpute:
		return sqlbuild.AggMax, "Maximum of non-null values"
	default:
		return sqlbuild.AggMedian, "Median of non-null values (robust to outliers)"
	}
}

// aggregateValue queries the analysis backend for a single aggregate over
// the column's non-null values.
func (p *planner) aggregateValue(ctx context.Context, builder *sqlbuild.Builder, tableRef, column, agg string) (any, error) {
	stmt, err := builder.AggregateValue(tableRef, column, agg)
	if err != nil {
		return nil, err
	}
	result, err := p.executor.Query(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("%s of %s: %w", agg, column, err)
	}
	if result.RowCount == 0 {
		return nil, nil
	}
	return result.Rows[0]["v"], nil
}

// inconsistencyReasons evaluates the checks that permanently forbid a plan
// instance. Any hit means the prior analysis and the live data disagree in
// a way automatic repair must not paper over.
func inconsistencyReasons(state *models.ColumnAnalysisState, snap *models.Snapshot, plan *models.RepairPlan) []string {
	var reasons []string
	nulls := state.Nulls

	if nulls != nil && nulls.Sampled && snap.IsError() {
		reasons = append(reasons, "full-population snapshot unavailable while a sampled null count exists")
	}

	if !snap.IsError() && nulls != nil {
		if nulls.SnapshotSignature != "" && nulls.SnapshotSignature != snap.Signature {
			reasons = append(reasons, "snapshot changed since the null scan")
		}
		if nulls.Sampled {
			if snap.NullCount == 0 && nulls.NullCount > 0 {
				reasons = append(reasons, "full null count is zero but the sampled scan found nulls")
			}
			if drift := relativeDiff(snap.TotalCount, nulls.TotalCount); drift > totalCountDriftLimit {
				reasons = append(reasons, fmt.Sprintf("sampled and full total row counts differ by %.0f%%", drift*100))
			}
		}
	}

	if !snap.IsError() {
		var estimated int64
		if plan.NullStep != nil {
			estimated += plan.NullStep.EstimatedRows
		}
		if plan.ConflictStep != nil {
			estimated += plan.ConflictStep.EstimatedRows
		}
		if estimated > snap.TotalCount {
			reasons = append(reasons, "estimated repair row count exceeds the total row count")
		}
	}

	return reasons
}

func relativeDiff(full, sampled int64) float64 {
	if full == 0 {
		if sampled == 0 {
			return 0
		}
		return 1
	}
	diff := float64(full - sampled)
	if diff < 0 {
		diff = -diff
	}
	return diff / float64(full)
}

// addPreviews builds (but does not execute) the UPDATE and companion
// row-count statement for each step.
func (p *planner) addPreviews(builder *sqlbuild.Builder, profile *models.TableProfile, column string, plan *models.RepairPlan) error {
	if profile.TableRef == "" {
		return nil
	}
	previews := make(map[string]string)

	if step := plan.NullStep; step != nil && step.FillExpr != "" {
		update, err := builder.NullUpdate(profile.TableRef, column, step.FillExpr)
		if err != nil {
			return err
		}
		count, err := builder.NullCount(profile.TableRef, column, sqlbuild.TimeWindow{})
		if err != nil {
			return err
		}
		previews["null_repair_update"] = update
		previews["null_repair_count"] = count
	}

	if step := plan.ConflictStep; step != nil && step.Strategy != models.ConflictStrategyManualReview {
		update, err := builder.ConflictUpdate(profile.TableRef, column, step.GroupByColumns, conflictAggregate(step.Strategy))
		if err != nil {
			return err
		}
		count, err := builder.ConflictStats(profile.TableRef, column, step.GroupByColumns)
		if err != nil {
			return err
		}
		previews["conflict_repair_update"] = update
		previews["conflict_repair_count"] = count
	}

	if len(previews) > 0 {
		plan.SQLPreviews = previews
	}
	return nil
}

// conflictAggregate maps a conflict strategy to its per-group aggregate;
// empty means the most-frequent-value winner.
func conflictAggregate(strategy models.ConflictStrategy) string {
	switch strategy {
	case models.ConflictStrategyGroupMean:
		return sqlbuild.AggMean
	case models.ConflictStrategyGroupMedian:
		return sqlbuild.AggMedian
	default:
		return ""
	}
}

func rollbackStrategy(profile *models.TableProfile, mode models.ApplyMode) string {
	switch {
	case profile.AuditTable != "":
		return "audit_table"
	case mode == models.ApplyModeFixingTable:
		return "source_preserved"
	default:
		return "none"
	}
}
