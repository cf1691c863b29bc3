// Package auth guards the internal endpoints (cron sweep, generation
// callback). The service token circulating between workers and the API is
// stored server-side only as a bcrypt hash; plaintext exists in the caller's
// environment and in transit, never at rest.
package auth

import (
	"crypto/subtle"

	"golang.org/x/crypto/bcrypt"

	"medevent/internal/types"
)

// HashToken produces the bcrypt hash stored in INTERNAL_TOKEN_HASH. Used by
// provisioning tooling, not on the request path.
func HashToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected,
			"failed to hash internal token", err)
	}
	return string(hash), nil
}

// VerifyInternalToken checks a presented token against the configured hash.
// Both missing token and mismatch return the same error code so callers
// cannot distinguish an empty guess from a wrong one.
func VerifyInternalToken(hash types.SecretString, token string) error {
	stored := hash.Unmask()
	if token == "" || stored == "" {
		return types.NewAppError(types.ErrCodeAuthTokenMissing,
			"internal token required", nil)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(stored), []byte(token)); err != nil {
		return types.NewAppError(types.ErrCodeAuthTokenInvalid,
			"internal token rejected", err)
	}
	return nil
}

// ConstantTimeEquals compares two short strings without leaking the position
// of the first difference. Used for the service bypass secret, which is a
// shared plaintext rather than a hash.
func ConstantTimeEquals(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
