package core

import (
	"context"

	"viberesume/internal/types"
)

// Authenticator decouples the HTTP layer from session verification and
// principal resolution, allowing easy mocking in tests.
type Authenticator interface {
	// ResolveToken verifies a session token and returns the Actor for the
	// local account it belongs to, creating the account on first sight.
	//
	// Returns auth_token_invalid for malformed or unverifiable tokens and
	// auth_token_expired for expired ones. Resolution failures (identity
	// provider or database) are returned unchanged.
	ResolveToken(ctx context.Context, token string) (*types.Actor, error)
}
