package auth

import (
	"fmt"

	"github.com/tablemend/engine/pkg/apperrors"
)

// LocalApprover is recorded on approvals when verification is disabled and
// no token was supplied.
const LocalApprover = "local"

// ApproverVerifier resolves an approver identity from a bearer token.
type ApproverVerifier struct {
	validator TokenValidator
	required  bool
}

// NewApproverVerifier creates a verifier over the given token validator.
// When required is false, a missing token resolves to LocalApprover.
func NewApproverVerifier(validator TokenValidator, required bool) *ApproverVerifier {
	return &ApproverVerifier{validator: validator, required: required}
}

// VerifyApprover validates the token and returns the identity to record on
// an approval. Returns apperrors.ErrApproverRequired when a token is
// required but missing.
func (v *ApproverVerifier) VerifyApprover(tokenString string) (string, error) {
	if tokenString == "" {
		if v.required {
			return "", apperrors.ErrApproverRequired
		}
		return LocalApprover, nil
	}

	claims, err := v.validator.ValidateToken(tokenString)
	if err != nil {
		return "", fmt.Errorf("verify approver token: %w", err)
	}

	id := claims.ApproverID()
	if id == "" {
		return "", fmt.Errorf("approver token has no subject")
	}
	return id, nil
}
