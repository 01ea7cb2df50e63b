package auth

import (
	"context"
	"log/slog"

	"viberesume/internal/external"
	"viberesume/internal/types"
)

// UserStore is the slice of the user repository the resolver needs.
type UserStore interface {
	GetByExternalID(ctx context.Context, externalID string) (*types.Account, error)
	InsertIfAbsent(ctx context.Context, externalID, email string) (bool, error)
}

// PrincipalResolver maps an identity provider subject to a local account,
// creating the account on first sight.
type PrincipalResolver struct {
	users    UserStore
	identity external.IdentityProvider
	logger   *slog.Logger
}

// NewPrincipalResolver creates a PrincipalResolver.
func NewPrincipalResolver(users UserStore, identity external.IdentityProvider, logger *slog.Logger) *PrincipalResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &PrincipalResolver{users: users, identity: identity, logger: logger}
}

// Resolve returns the account for externalID. Concurrent first calls for the
// same subject insert at most one row and all return it: the insert ignores
// conflicts and every caller re-reads.
func (r *PrincipalResolver) Resolve(ctx context.Context, externalID string) (*types.Account, error) {
	if externalID == "" {
		return nil, types.NewAppError(types.ErrCodeAuthNoPrincipal, "no authenticated principal", nil)
	}

	acct, err := r.users.GetByExternalID(ctx, externalID)
	if err == nil {
		return acct, nil
	}
	if !types.IsCode(err, types.ErrCodeNotFoundAccount) {
		return nil, err
	}

	info, err := r.identity.GetAccountInfo(ctx, externalID)
	if err != nil {
		return nil, err
	}

	inserted, err := r.users.InsertIfAbsent(ctx, externalID, info.Email)
	if err != nil {
		return nil, err
	}

	acct, err = r.users.GetByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}
	if inserted {
		r.logger.InfoContext(ctx, "account created",
			"account_id", acct.ID,
			"external_id", externalID,
		)
	}
	return acct, nil
}
