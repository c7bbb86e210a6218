package service

import (
	"errors"

	"rental-marketplace/internal/apperrors"
	"rental-marketplace/internal/store"
)

// storeError translates store sentinels into API errors. resource names the
// thing that was looked up, for the not found message.
func storeError(err error, resource string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return apperrors.NotFound(resource)
	case errors.Is(err, store.ErrDateConflict):
		e := apperrors.Conflict("The product is not available for the selected dates")
		e.Err = err
		return e
	case errors.Is(err, store.ErrInvalidState):
		e := apperrors.Conflict("The " + resource + " cannot be changed in its current state")
		e.Err = err
		return e
	case errors.Is(err, store.ErrDuplicate):
		e := apperrors.Conflict("The " + resource + " already exists")
		e.Err = err
		return e
	default:
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return appErr
		}
		return apperrors.Internal("Failed to access "+resource, err)
	}
}
