package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ColumnKey identifies one analyzed column of one datasource table.
type ColumnKey struct {
	DatasourceID uuid.UUID `json:"datasource_id"`
	SchemaName   string    `json:"schema_name"`
	TableName    string    `json:"table_name"`
	ColumnName   string    `json:"column_name"`
}

// String renders the key for logging and display.
func (k ColumnKey) String() string {
	if k.SchemaName != "" && k.SchemaName != "public" {
		return fmt.Sprintf("%s.%s.%s", k.SchemaName, k.TableName, k.ColumnName)
	}
	return fmt.Sprintf("%s.%s", k.TableName, k.ColumnName)
}

// TableProfile holds the physical context needed to build and apply SQL
// against the source table.
type TableProfile struct {
	// TableRef is the physical table reference. Empty means the column was
	// profiled from an external sample and cannot be repaired in place.
	TableRef       string       `json:"table_ref,omitempty"`
	RowIDColumn    string       `json:"row_id_column,omitempty"`
	TimeColumn     string       `json:"time_column,omitempty"`
	TimeWindowDays int          `json:"time_window_days,omitempty"`
	AuditTable     string       `json:"audit_table,omitempty"`
	SemanticType   SemanticType `json:"semantic_type,omitempty"`
}

// NullAnalysis is the persisted result of a (possibly sampled) null scan.
type NullAnalysis struct {
	NullCount         int64        `json:"null_count"`
	TotalCount        int64        `json:"total_count"`
	Sampled           bool         `json:"sampled"`
	SampleSize        int64        `json:"sample_size,omitempty"`
	SnapshotSignature string       `json:"snapshot_signature,omitempty"`
	Strategy          NullStrategy `json:"strategy,omitempty"`
	ScannedAt         time.Time    `json:"scanned_at"`
}

// ConflictAnalysis is the persisted result of a conflict scan.
type ConflictAnalysis struct {
	GroupByColumns    []string         `json:"group_by_columns"`
	ConflictGroups    int64            `json:"conflict_groups"`
	ConflictRows      int64            `json:"conflict_rows"`
	SnapshotSignature string           `json:"snapshot_signature,omitempty"`
	Strategy          ConflictStrategy `json:"strategy,omitempty"`
	ScannedAt         time.Time        `json:"scanned_at"`
}

// ValueCount is one entry of a value distribution.
type ValueCount struct {
	Value string `json:"value"`
	Count int64  `json:"count"`
}

// DistributionAnalysis is the persisted result of a distribution profile.
type DistributionAnalysis struct {
	DistinctCount int64        `json:"distinct_count"`
	TopValues     []ValueCount `json:"top_values,omitempty"`
	ProfiledAt    time.Time    `json:"profiled_at"`
}

// RepairStepType identifies which plan step an outcome belongs to.
type RepairStepType string

const (
	StepNullRepair     RepairStepType = "null_repair"
	StepConflictRepair RepairStepType = "conflict_repair"
)

// RepairOutcomeStatus values for a terminal repair outcome.
type RepairOutcomeStatus string

const (
	OutcomeApplied RepairOutcomeStatus = "applied"
	OutcomeSkipped RepairOutcomeStatus = "skipped"
	OutcomeDryRun  RepairOutcomeStatus = "dry_run"
	OutcomeError   RepairOutcomeStatus = "error"
)

// SkipReason is the machine-readable reason code attached to a structured
// skip. Every failure in the repair path terminates in one of these.
type SkipReason string

const (
	ReasonApprovalRequired     SkipReason = "approval_required"
	ReasonNoTableReference     SkipReason = "no_table_reference"
	ReasonPlanMissing          SkipReason = "plan_missing"
	ReasonPlanInconsistent     SkipReason = "plan_inconsistent"
	ReasonApprovalPlanMismatch SkipReason = "approval_plan_mismatch"
	ReasonSnapshotMismatch     SkipReason = "snapshot_mismatch"
	ReasonAlreadyApplied       SkipReason = "already_applied"
	ReasonManualReview         SkipReason = "manual_review"
	ReasonManualDefault        SkipReason = "manual_default_required"
)

// RepairOutcome is one terminal per-step result of an apply call.
type RepairOutcome struct {
	StepType     RepairStepType      `json:"step_type"`
	Status       RepairOutcomeStatus `json:"status"`
	Reason       SkipReason          `json:"reason,omitempty"`
	Error        string              `json:"error,omitempty"`
	RowsAffected int64               `json:"rows_affected,omitempty"`
	SQL          string              `json:"sql,omitempty"`
	PlanID       string              `json:"plan_id,omitempty"`
	TargetTable  string              `json:"target_table,omitempty"`
	At           time.Time           `json:"at"`
}

// Workflow run states persisted on the analysis state.
const (
	WorkflowStateRunning = "running"
	WorkflowStateDone    = "done"
	WorkflowStateError   = "error"
)

// CurrentStateVersion is the document schema version written by this build.
const CurrentStateVersion = 1

// ColumnAnalysisState is the per-column analysis document. Sections are
// optional and independently mergeable so partial updates from concurrent
// writers (planner, gate, applier, log flusher) stay safe.
type ColumnAnalysisState struct {
	Version int `json:"version"`

	Profile      *TableProfile         `json:"profile,omitempty"`
	Nulls        *NullAnalysis         `json:"nulls,omitempty"`
	Conflicts    *ConflictAnalysis     `json:"conflicts,omitempty"`
	Distribution *DistributionAnalysis `json:"distribution,omitempty"`

	RepairPlan    *RepairPlan     `json:"repair_plan,omitempty"`
	RepairResults []RepairOutcome `json:"repair_results,omitempty"`
	Overrides     *ApprovalRecord `json:"overrides,omitempty"`

	Insight string `json:"insight,omitempty"`

	WorkflowState string             `json:"workflow_state,omitempty"`
	Logs          []WorkflowLogEntry `json:"logs,omitempty"`
	ToolCalls     []ToolCallRecord   `json:"tool_calls,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// NewColumnAnalysisState returns an empty document at the current version.
func NewColumnAnalysisState() *ColumnAnalysisState {
	return &ColumnAnalysisState{Version: CurrentStateVersion}
}

// EnsureOverrides returns the override record, creating it if absent.
func (s *ColumnAnalysisState) EnsureOverrides() *ApprovalRecord {
	if s.Overrides == nil {
		s.Overrides = &ApprovalRecord{}
	}
	return s.Overrides
}

// RecordOutcome appends a terminal repair outcome.
func (s *ColumnAnalysisState) RecordOutcome(o RepairOutcome) {
	s.RepairResults = append(s.RepairResults, o)
}
