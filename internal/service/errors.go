package service

import (
	"errors"

	appErrors "github.com/noah-isme/sma-discipline-api/pkg/errors"
)

// asAppError keeps typed errors raised deeper in the call chain and wraps anything else as internal.
func asAppError(err error, message string) error {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return appErrors.Internal(err, message)
}

func validationError(err error, message string) error {
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, message)
}
