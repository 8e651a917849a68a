// Package auth authenticates API tokens and attaches the caller's
// identity to the request context. Tokens are presented as
// "identity:secret" bearer values; only the bcrypt hash of the secret
// is stored.
package auth

import "errors"

// ErrInvalidToken is returned for any credential failure. The cause is
// never distinguished to the caller.
var ErrInvalidToken = errors.New("auth: invalid token")

// Credential is the stored secret for one identity.
type Credential struct {
	Identity   string
	SecretHash string
	RoleName   string
	IsActive   bool
}
