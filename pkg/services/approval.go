package services

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/tablemend/engine/pkg/auth"
	"github.com/tablemend/engine/pkg/models"
	"github.com/tablemend/engine/pkg/repositories"
)

// errSkipWrite aborts a repository merge without persisting anything.
var errSkipWrite = errors.New("skip write")

// ApproveRequest carries an explicit approval decision.
type ApproveRequest struct {
	// Approved grants (true) or revokes (false) approval.
	Approved bool `json:"approved"`

	// Identity optionally pins the approval to one exact plan identity.
	// Zero means first-time approval of whatever the current plan is.
	Identity models.PlanIdentity `json:"identity,omitempty"`

	// Token is the approver's bearer token.
	Token string `json:"-"`
}

// ApproveResult is the structured outcome of an approval call.
type ApproveResult struct {
	Approved   bool              `json:"approved"`
	Status     string            `json:"status"`
	Reason     models.SkipReason `json:"reason,omitempty"`
	ApprovedBy string            `json:"approved_by,omitempty"`
}

// ApprovalGate binds an explicit approval to one specific plan identity.
type ApprovalGate interface {
	// Approve validates the decision against the current plan and, on a
	// successful match, persists the approval triple onto the column's
	// override record so later apply calls can re-validate without
	// parameters.
	Approve(ctx context.Context, key models.ColumnKey, req ApproveRequest) (*ApproveResult, error)
}

type approvalGate struct {
	repo     repositories.AnalysisStateRepository
	verifier *auth.ApproverVerifier
	logger   *zap.Logger
}

// NewApprovalGate creates an approval gate.
func NewApprovalGate(repo repositories.AnalysisStateRepository, verifier *auth.ApproverVerifier, logger *zap.Logger) ApprovalGate {
	return &approvalGate{
		repo:     repo,
		verifier: verifier,
		logger:   logger.Named("approval"),
	}
}

var _ ApprovalGate = (*approvalGate)(nil)

// Approve validates an approval decision against the current plan.
func (g *approvalGate) Approve(ctx context.Context, key models.ColumnKey, req ApproveRequest) (*ApproveResult, error) {
	approvedBy, err := g.verifier.VerifyApprover(req.Token)
	if err != nil {
		return nil, err
	}

	var result *ApproveResult
	_, err = g.repo.Merge(ctx, key, func(state *models.ColumnAnalysisState) error {
		plan := state.RepairPlan
		if plan == nil || !plan.HasIdentity() {
			result = &ApproveResult{Status: models.ApprovalStatusPending, Reason: models.ReasonPlanMissing}
			return errSkipWrite
		}

		if !req.Approved {
			plan.Approved = false
			plan.ApprovalStatus = models.ApprovalStatusPending
			overrides := state.EnsureOverrides()
			overrides.Approved = false
			result = &ApproveResult{Status: models.ApprovalStatusPending, Reason: models.ReasonApprovalRequired}
			return nil
		}

		// First-time approval binds to the current plan; an explicit
		// identity must match it exactly.
		if !req.Identity.IsZero() && !req.Identity.Matches(plan.Identity()) {
			result = &ApproveResult{Status: models.ApprovalStatusPending, Reason: models.ReasonApprovalPlanMismatch}
			return errSkipWrite
		}

		identity := plan.Identity()
		now := time.Now().UTC()

		plan.Approved = true
		plan.ApprovalStatus = models.ApprovalStatusApproved
		plan.ApprovedPlanID = identity.PlanID
		plan.ApprovedPlanHash = identity.PlanHash
		plan.ApprovedSnapshotSignature = identity.SnapshotSignature

		overrides := state.EnsureOverrides()
		overrides.Approved = true
		overrides.ApprovedPlanID = identity.PlanID
		overrides.ApprovedPlanHash = identity.PlanHash
		overrides.ApprovedSnapshotSignature = identity.SnapshotSignature
		overrides.ApprovedBy = approvedBy
		overrides.ApprovedAt = &now

		result = &ApproveResult{
			Approved:   true,
			Status:     models.ApprovalStatusApproved,
			ApprovedBy: approvedBy,
		}

		g.logger.Info("Plan approved",
			zap.String("column", key.String()),
			zap.String("plan_id", identity.PlanID),
			zap.String("approved_by", approvedBy))
		return nil
	})
	if err != nil && !errors.Is(err, errSkipWrite) {
		return nil, err
	}
	return result, nil
}
