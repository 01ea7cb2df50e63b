package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"viberesume/internal/types"
)

// UserRepository provides data access for the users table.
type UserRepository struct {
	db DBTX
}

// NewUserRepository creates a new UserRepository backed by the given
// database connection (pool or transaction).
func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, external_id, email, created_at`

func scanAccount(row pgx.Row) (*types.Account, error) {
	var a types.Account
	if err := row.Scan(&a.ID, &a.ExternalID, &a.Email, &a.CreatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// GetByExternalID returns the account for an identity provider subject.
func (r *UserRepository) GetByExternalID(ctx context.Context, externalID string) (*types.Account, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE external_id = $1`,
		externalID,
	)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundAccount, "account not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve account", err)
	}
	return a, nil
}

// InsertIfAbsent creates the account unless one already exists for the
// external id. It reports whether this call inserted the row. Concurrent
// callers race safely on the unique constraint.
func (r *UserRepository) InsertIfAbsent(ctx context.Context, externalID, email string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO users (external_id, email) VALUES ($1, $2)
		 ON CONFLICT (external_id) DO NOTHING`,
		externalID,
		email,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to create account", err)
	}
	return tag.RowsAffected() == 1, nil
}

// LockForUpdate takes a row lock on the account. Must be called inside a
// transaction; it serializes per-account writes such as site creation.
func (r *UserRepository) LockForUpdate(ctx context.Context, accountID int64) error {
	var id int64
	err := r.db.QueryRow(ctx,
		`SELECT id FROM users WHERE id = $1 FOR UPDATE`,
		accountID,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.NewAppError(types.ErrCodeNotFoundAccount, "account not found", nil)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to lock account", err)
	}
	return nil
}
