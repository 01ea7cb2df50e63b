package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"viberesume/internal/types"
)

func TestUserRepository_GetByExternalID_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepository(db)
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	db.On("QueryRow", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return assert.Contains(t, sql, "WHERE external_id = $1")
	}), []any{"user_2abc"}).Return(&mockRow{scanFn: func(dest ...any) error {
		*dest[0].(*int64) = 7
		*dest[1].(*string) = "user_2abc"
		*dest[2].(*string) = "jane@example.com"
		*dest[3].(*time.Time) = created
		return nil
	}})

	a, err := repo.GetByExternalID(context.Background(), "user_2abc")
	require.NoError(t, err)
	assert.Equal(t, &types.Account{ID: 7, ExternalID: "user_2abc", Email: "jane@example.com", CreatedAt: created}, a)
	db.AssertExpectations(t)
}

func TestUserRepository_GetByExternalID_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepository(db)

	db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.GetByExternalID(context.Background(), "user_missing")
	assert.True(t, types.IsCode(err, types.ErrCodeNotFoundAccount))
}

func TestUserRepository_GetByExternalID_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepository(db)
	boom := errors.New("connection reset")

	db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).
		Return(&mockRow{scanErr: boom})

	_, err := repo.GetByExternalID(context.Background(), "user_2abc")
	assert.True(t, types.IsCode(err, types.ErrCodeInternalDB))
	assert.ErrorIs(t, err, boom)
}

func TestUserRepository_InsertIfAbsent(t *testing.T) {
	tests := []struct {
		name     string
		tag      string
		inserted bool
	}{
		{"new account", "INSERT 0 1", true},
		{"already exists", "INSERT 0 0", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := new(mockDBTX)
			repo := NewUserRepository(db)

			db.On("Exec", mock.Anything, mock.MatchedBy(func(sql string) bool {
				return assert.Contains(t, sql, "ON CONFLICT (external_id) DO NOTHING")
			}), []any{"user_2abc", "jane@example.com"}).
				Return(pgconn.NewCommandTag(tt.tag), nil)

			inserted, err := repo.InsertIfAbsent(context.Background(), "user_2abc", "jane@example.com")
			require.NoError(t, err)
			assert.Equal(t, tt.inserted, inserted)
		})
	}
}

func TestUserRepository_InsertIfAbsent_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepository(db)

	db.On("Exec", mock.Anything, mock.Anything, mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("timeout"))

	_, err := repo.InsertIfAbsent(context.Background(), "user_2abc", "jane@example.com")
	assert.True(t, types.IsCode(err, types.ErrCodeInternalDB))
}

func TestUserRepository_LockForUpdate(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepository(db)

	db.On("QueryRow", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return assert.Contains(t, sql, "FOR UPDATE")
	}), []any{int64(7)}).Return(&mockRow{scanFn: func(dest ...any) error {
		*dest[0].(*int64) = 7
		return nil
	}}).Once()
	db.On("QueryRow", mock.Anything, mock.Anything, []any{int64(8)}).
		Return(&mockRow{scanErr: pgx.ErrNoRows}).Once()

	require.NoError(t, repo.LockForUpdate(context.Background(), 7))
	err := repo.LockForUpdate(context.Background(), 8)
	assert.True(t, types.IsCode(err, types.ErrCodeNotFoundAccount))
}
