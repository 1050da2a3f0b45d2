package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation error")
	ErrConflict   = errors.New("conflict")
	ErrForbidden  = errors.New("forbidden")

	// ErrUnavailable marks a storage channel that could not be reached
	// (backend down, quota exceeded, store disabled). The replicator treats
	// such a channel as empty for the operation; the error never reaches
	// engine callers.
	ErrUnavailable = errors.New("storage unavailable")

	// ErrParse marks corrupt or legacy-shaped data read from a channel.
	// That channel's contribution is discarded for the current read while
	// the remaining channels are still consulted.
	ErrParse = errors.New("parse error")

	// ErrInsufficient is returned by callers that enforce affordability
	// before committing a spend. The ledger itself performs no bounds check.
	ErrInsufficient = errors.New("insufficient balance")
)

type AppError struct {
	Err     error  // actual error
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// Unavailable wraps a raw storage failure from the named channel.
func Unavailable(channel string, err error) *AppError {
	return &AppError{
		Err:     ErrUnavailable,
		Message: fmt.Sprintf("channel %s unavailable: %v", channel, err),
	}
}

// Parse wraps a decode failure from the named channel.
func Parse(channel string, err error) *AppError {
	return &AppError{
		Err:     ErrParse,
		Message: fmt.Sprintf("channel %s holds undecodable data: %v", channel, err),
	}
}

// Insufficient reports a spend the current balance cannot cover.
func Insufficient(balance, amount int64) *AppError {
	return &AppError{
		Err:     ErrInsufficient,
		Message: fmt.Sprintf("balance %d cannot cover spend of %d", balance, amount),
	}
}
