package db

import (
	"errors"

	"viberesume/internal/types"
)

// wrapDBError converts a driver error into the internal database AppError,
// leaving errors that are already AppErrors untouched.
func wrapDBError(msg string, err error) error {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return types.NewAppError(types.ErrCodeInternalDB, msg, err)
}
