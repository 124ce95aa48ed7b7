package services

import (
	"errors"

	"github.com/pixlabel/backend/pkg/response"
	"gorm.io/gorm"
)

// asAppError passes AppErrors through unchanged and wraps anything else as a system error.
func asAppError(err error, msg string) error {
	var appErr *response.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return response.NewSystemError(msg, err)
}

func asNotFound(err error, notFoundMsg, systemMsg string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return response.NewNotFound(notFoundMsg)
	}
	return response.NewSystemError(systemMsg, err)
}
