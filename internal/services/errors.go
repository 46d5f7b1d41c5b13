package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/Uriel-Ondo/agro/internal/repository"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("forbidden")
	ErrAlreadyHandled     = errors.New("request already handled")
	ErrAlreadyCompleted   = errors.New("session already completed")
	ErrInvalidContent     = errors.New("invalid content")
	ErrSessionClosed      = errors.New("session closed")
	ErrStorageUnavailable = errors.New("storage unavailable")
)

var domainErrors = []error{
	ErrNotFound,
	ErrForbidden,
	ErrAlreadyHandled,
	ErrAlreadyCompleted,
	ErrInvalidContent,
	ErrSessionClosed,
	ErrStorageUnavailable,
}

func isDomainError(err error) bool {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// storageError folds repository failures into the service taxonomy.
// Missing rows become ErrNotFound, domain errors pass through, and anything
// else is reported as ErrStorageUnavailable.
func storageError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return ErrNotFound
	case isDomainError(err):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
}
