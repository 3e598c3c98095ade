package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// SemanticType classifies a column for strategy selection.
type SemanticType string

const (
	SemanticNumeric     SemanticType = "numeric"
	SemanticTemporal    SemanticType = "temporal"
	SemanticCategorical SemanticType = "categorical"
	SemanticText        SemanticType = "text"
	SemanticUnknown     SemanticType = "unknown"
)

// NullStrategy is a remediation strategy for null values.
type NullStrategy string

const (
	NullStrategyMedianImpute NullStrategy = "median_impute"
	NullStrategyMeanImpute   NullStrategy = "mean_impute"
	NullStrategyModeImpute   NullStrategy = "mode_impute"
	NullStrategyMinImpute    NullStrategy = "min_impute"
	NullStrategyMaxImpute    NullStrategy = "max_impute"
	NullStrategyForwardFill  NullStrategy = "forward_fill"
	NullStrategyEmptyString  NullStrategy = "empty_string"
	NullStrategyManualReview NullStrategy = "manual_review"
)

// DefaultNullStrategy returns the default null strategy for a semantic type.
func DefaultNullStrategy(st SemanticType) NullStrategy {
	switch st {
	case SemanticNumeric:
		return NullStrategyMedianImpute
	case SemanticTemporal:
		return NullStrategyForwardFill
	case SemanticCategorical:
		return NullStrategyModeImpute
	case SemanticText:
		return NullStrategyEmptyString
	default:
		return NullStrategyManualReview
	}
}

// ConflictStrategy is a remediation strategy for cross-column conflicts.
type ConflictStrategy string

const (
	ConflictStrategyGroupMean    ConflictStrategy = "group_mean"
	ConflictStrategyGroupMedian  ConflictStrategy = "group_median"
	ConflictStrategyMajority     ConflictStrategy = "majority_value"
	ConflictStrategyManualReview ConflictStrategy = "manual_review"
)

// DefaultConflictStrategy returns the default conflict strategy for a
// semantic type.
func DefaultConflictStrategy(st SemanticType) ConflictStrategy {
	switch st {
	case SemanticNumeric:
		return ConflictStrategyGroupMean
	case SemanticTemporal, SemanticCategorical, SemanticText:
		return ConflictStrategyMajority
	default:
		return ConflictStrategyManualReview
	}
}

// ApplyMode selects the apply target.
type ApplyMode string

const (
	ApplyModeInPlace     ApplyMode = "in_place"
	ApplyModeFixingTable ApplyMode = "fixing_table"
)

// NullRepairStep proposes a single UPDATE filling nulls in the column.
type NullRepairStep struct {
	Strategy              NullStrategy `json:"strategy"`
	FillExpr              string       `json:"fill_expr"`
	FillValue             string       `json:"fill_value,omitempty"`
	EstimatedRows         int64        `json:"estimated_rows"`
	Reason                string       `json:"reason"`
	Basis                 string       `json:"basis,omitempty"`
	RequiresManualDefault bool         `json:"requires_manual_default,omitempty"`
}

// ConflictRepairStep proposes a single UPDATE resolving per-group conflicts.
type ConflictRepairStep struct {
	Strategy        ConflictStrategy `json:"strategy"`
	GroupByColumns  []string         `json:"group_by_columns"`
	EstimatedGroups int64            `json:"estimated_groups"`
	EstimatedRows   int64            `json:"estimated_rows"`
}

// PlanIdentity is the triple that binds an approval to one exact plan.
type PlanIdentity struct {
	PlanID            string `json:"plan_id"`
	PlanHash          string `json:"plan_hash"`
	SnapshotSignature string `json:"snapshot_signature"`
}

// Matches reports whether two identity triples are exactly equal.
func (id PlanIdentity) Matches(other PlanIdentity) bool {
	return id.PlanID == other.PlanID &&
		id.PlanHash == other.PlanHash &&
		id.SnapshotSignature == other.SnapshotSignature
}

// IsZero reports whether no identity was supplied.
func (id PlanIdentity) IsZero() bool {
	return id.PlanID == "" && id.PlanHash == "" && id.SnapshotSignature == ""
}

// ApprovalStatus values for a plan.
const (
	ApprovalStatusPending  = "pending"
	ApprovalStatusApproved = "approved"
)

// RepairPlan is a proposed, hashed remediation for a column's nulls and
// conflicts. Plans are superseded, never deleted: regenerating writes a new
// plan with a fresh plan_id over the old one.
type RepairPlan struct {
	PlanID   string    `json:"plan_id"`
	PlanHash string    `json:"plan_hash"`
	Snapshot *Snapshot `json:"snapshot,omitempty"`

	NullStep     *NullRepairStep     `json:"null_step,omitempty"`
	ConflictStep *ConflictRepairStep `json:"conflict_step,omitempty"`

	ApplyMode        ApplyMode `json:"apply_mode"`
	RollbackStrategy string    `json:"rollback_strategy,omitempty"`

	ApprovalRequired bool   `json:"approval_required"`
	Approved         bool   `json:"approved"`
	ApprovalStatus   string `json:"approval_status,omitempty"`

	ApprovedPlanID            string `json:"approved_plan_id,omitempty"`
	ApprovedPlanHash          string `json:"approved_plan_hash,omitempty"`
	ApprovedSnapshotSignature string `json:"approved_snapshot_signature,omitempty"`

	RequiresManualReview bool     `json:"requires_manual_review"`
	Forbidden            bool     `json:"forbidden"`
	InconsistencyReasons []string `json:"inconsistency_reasons,omitempty"`

	SQLPreviews map[string]string `json:"sql_previews,omitempty"`

	// ApplyReady is true only when a physical table reference exists and
	// either a row-id column is known or fixing-table mode is selected.
	ApplyReady bool `json:"apply_ready"`

	Applied     bool       `json:"applied,omitempty"`
	AppliedAt   *time.Time `json:"applied_at,omitempty"`
	TargetTable string     `json:"target_table,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Identity returns the plan's own identity triple.
func (p *RepairPlan) Identity() PlanIdentity {
	id := PlanIdentity{PlanID: p.PlanID, PlanHash: p.PlanHash}
	if p.Snapshot != nil {
		id.SnapshotSignature = p.Snapshot.Signature
	}
	return id
}

// ApprovedIdentity returns the identity triple recorded at approval time,
// or a zero identity if the plan was never approved.
func (p *RepairPlan) ApprovedIdentity() PlanIdentity {
	return PlanIdentity{
		PlanID:            p.ApprovedPlanID,
		PlanHash:          p.ApprovedPlanHash,
		SnapshotSignature: p.ApprovedSnapshotSignature,
	}
}

// HasIdentity reports whether the plan carries a usable identity.
func (p *RepairPlan) HasIdentity() bool {
	return p.PlanID != "" && p.PlanHash != ""
}

// ComputeHash hashes the full plan payload excluding the hash field itself.
// The plan is serialized to JSON, the plan_hash field removed, and the
// remainder re-marshalled with sorted keys before hashing, so any field
// change — including nested step or snapshot fields — changes the hash.
func (p *RepairPlan) ComputeHash() (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal plan: %w", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("unmarshal plan payload: %w", err)
	}
	delete(payload, "plan_hash")

	canonical, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal canonical payload: %w", err)
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// SealHash computes and stores the plan hash.
func (p *RepairPlan) SealHash() error {
	hash, err := p.ComputeHash()
	if err != nil {
		return err
	}
	p.PlanHash = hash
	return nil
}

// ApprovalRecord is the persisted override sub-document binding an explicit
// approval to one plan identity. Written only by the approval gate on a
// successful match; read by the applier.
type ApprovalRecord struct {
	Approved                  bool       `json:"approved"`
	ApprovedPlanID            string     `json:"approved_plan_id,omitempty"`
	ApprovedPlanHash          string     `json:"approved_plan_hash,omitempty"`
	ApprovedSnapshotSignature string     `json:"approved_snapshot_signature,omitempty"`
	ApprovedBy                string     `json:"approved_by,omitempty"`
	ApprovedAt                *time.Time `json:"approved_at,omitempty"`
}

// Identity returns the approved identity triple.
func (r *ApprovalRecord) Identity() PlanIdentity {
	return PlanIdentity{
		PlanID:            r.ApprovedPlanID,
		PlanHash:          r.ApprovedPlanHash,
		SnapshotSignature: r.ApprovedSnapshotSignature,
	}
}
