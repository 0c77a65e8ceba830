package engine

import (
	"errors"
	"fmt"

	"entity-api/internal/storage"
	"entity-api/internal/store"
)

type AppError struct {
	Code    string        `json:"code"`
	Status  int           `json:"-"`
	Message string        `json:"message"`
	Details []ErrorDetail `json:"details,omitempty"`
}

type ErrorDetail struct {
	Field   string `json:"field,omitempty"`
	Rule    string `json:"rule,omitempty"`
	Message string `json:"message"`
}

func (e *AppError) Error() string {
	return e.Message
}

type ErrorResponse struct {
	Error *AppError `json:"error"`
}

func NewAppError(code string, status int, msg string) *AppError {
	return &AppError{Code: code, Status: status, Message: msg}
}

func NotFoundError(entity, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Status:  404,
		Message: fmt.Sprintf("%s with id %s not found", entity, id),
	}
}

func UnknownEntityError(name string) *AppError {
	return &AppError{
		Code:    "UNKNOWN_ENTITY",
		Status:  404,
		Message: fmt.Sprintf("Unknown entity: %s", name),
	}
}

func ValidationError(details []ErrorDetail) *AppError {
	return &AppError{
		Code:    "VALIDATION_FAILED",
		Status:  422,
		Message: "Validation failed",
		Details: details,
	}
}

func ForbiddenError(action, entity, reason string) *AppError {
	return &AppError{
		Code:    "FORBIDDEN",
		Status:  403,
		Message: fmt.Sprintf("%s action on %s is not %s", action, entity, reason),
	}
}

func UnauthorizedError(msg string) *AppError {
	return NewAppError("UNAUTHORIZED", 401, msg)
}

func BadUploadError(field string, err error) *AppError {
	return &AppError{
		Code:    "BAD_UPLOAD",
		Status:  400,
		Message: fmt.Sprintf("Upload for %s failed: %v", field, err),
	}
}

func InvalidPayloadError(msg string) *AppError {
	return NewAppError("INVALID_PAYLOAD", 400, msg)
}

func ConflictError(msg string) *AppError {
	return NewAppError("CONFLICT", 409, msg)
}

func MethodNotSupportedError(entity, action string) *AppError {
	return &AppError{
		Code:    "METHOD_NOT_SUPPORTED",
		Status:  404,
		Message: fmt.Sprintf("%s handler does not support action %s", entity, action),
	}
}

// PersistenceError maps a failed save. Unique violations become CONFLICT,
// application errors pass through, everything else is fatal.
func PersistenceError(entity string, err error) error {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	if errors.Is(err, store.ErrUniqueViolation) {
		return ConflictError(fmt.Sprintf("%s violates a unique constraint", entity))
	}
	return &AppError{
		Code:    "PERSISTENCE_FAILURE",
		Status:  500,
		Message: fmt.Sprintf("saving %s failed: %v", entity, err),
	}
}

// uploadError turns storage sentinels into BAD_UPLOAD.
func uploadError(field string, err error) error {
	if errors.Is(err, storage.ErrBadSource) || errors.Is(err, storage.ErrNotImage) {
		return BadUploadError(field, err)
	}
	return err
}
