package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablemend/engine/pkg/apperrors"
)

// unsignedToken builds a token string parseable in unverified mode.
func unsignedToken(t *testing.T, subject, email string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    "https://issuer.test",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Email: email,
	})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

func newUnverifiedVerifier(t *testing.T, required bool) *ApproverVerifier {
	t.Helper()
	client, err := NewJWKSClient(&JWKSConfig{EnableVerification: false})
	require.NoError(t, err)
	return NewApproverVerifier(client, required)
}

func TestVerifyApprover_MissingTokenRequired(t *testing.T) {
	v := newUnverifiedVerifier(t, true)

	_, err := v.VerifyApprover("")
	assert.ErrorIs(t, err, apperrors.ErrApproverRequired)
}

func TestVerifyApprover_MissingTokenOptional(t *testing.T) {
	v := newUnverifiedVerifier(t, false)

	id, err := v.VerifyApprover("")
	require.NoError(t, err)
	assert.Equal(t, LocalApprover, id)
}

func TestVerifyApprover_PrefersEmail(t *testing.T) {
	v := newUnverifiedVerifier(t, false)

	id, err := v.VerifyApprover(unsignedToken(t, "user-123", "analyst@example.com"))
	require.NoError(t, err)
	assert.Equal(t, "analyst@example.com", id)
}

func TestVerifyApprover_FallsBackToSubject(t *testing.T) {
	v := newUnverifiedVerifier(t, false)

	id, err := v.VerifyApprover(unsignedToken(t, "user-123", ""))
	require.NoError(t, err)
	assert.Equal(t, "user-123", id)
}

func TestVerifyApprover_GarbageToken(t *testing.T) {
	v := newUnverifiedVerifier(t, false)

	_, err := v.VerifyApprover("not-a-jwt")
	assert.Error(t, err)
}
