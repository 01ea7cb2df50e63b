package auth

import (
	"context"

	"viberesume/internal/types"
)

// TokenVerifier validates a raw session token.
type TokenVerifier interface {
	Verify(token string) (*Session, error)
}

// AccountResolver maps a subject to a local account.
type AccountResolver interface {
	Resolve(ctx context.Context, externalID string) (*types.Account, error)
}

// Authenticator turns a session token into a request Actor. Every
// authenticated request resolves its principal, so the account row exists
// before any handler runs.
type Authenticator struct {
	verifier TokenVerifier
	resolver AccountResolver
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(verifier TokenVerifier, resolver AccountResolver) *Authenticator {
	return &Authenticator{verifier: verifier, resolver: resolver}
}

// ResolveToken verifies the token and resolves its subject.
func (a *Authenticator) ResolveToken(ctx context.Context, token string) (*types.Actor, error) {
	session, err := a.verifier.Verify(token)
	if err != nil {
		return nil, err
	}
	acct, err := a.resolver.Resolve(ctx, session.Subject)
	if err != nil {
		return nil, err
	}
	return &types.Actor{
		ExternalID: session.Subject,
		AccountID:  acct.ID,
		Type:       types.ActorTypeUser,
		PlanClaim:  session.PlanClaim,
	}, nil
}
