// Package auth identifies repair approvers. Approval requests carry a JWT
// whose subject is recorded on the approval; tokens are validated against
// the issuers' JWKS endpoints.
package auth

import (
	"github.com/golang-jwt/jwt/v5"
)

// Claims represents the JWT claims carried by an approver token.
// It embeds RegisteredClaims for standard JWT fields (sub, iss, exp, etc.).
type Claims struct {
	jwt.RegisteredClaims
	Email string   `json:"email,omitempty"` // Approver email address
	Roles []string `json:"roles,omitempty"` // Approver roles
}

// ApproverID returns the identity to record on an approval.
// Prefers the email claim, falling back to the token subject.
func (c *Claims) ApproverID() string {
	if c.Email != "" {
		return c.Email
	}
	return c.Subject
}
