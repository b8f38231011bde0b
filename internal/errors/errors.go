package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrCode represents an error code
type ErrCode string

const (
	ErrCodeNotFound          ErrCode = "NOT_FOUND"
	ErrCodeInternal          ErrCode = "INTERNAL_ERROR"
	ErrCodeBadRequest        ErrCode = "BAD_REQUEST"
	ErrCodeResolutionFailed  ErrCode = "RESOLUTION_FAILED"
	ErrCodeMalformedResponse ErrCode = "MALFORMED_RESPONSE"
	ErrCodeStoreWriteFailed  ErrCode = "STORE_WRITE_FAILED"
	ErrCodeUnknownTaskType   ErrCode = "UNKNOWN_TASK_TYPE"
	ErrCodeConfig            ErrCode = "CONFIG_ERROR"
)

// AppError represents an application error
type AppError struct {
	Code    ErrCode
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// NewBadRequestError creates a new bad request error
func NewBadRequestError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeBadRequest,
		Message: message,
	}
}

// NewResolutionFailedError reports that a login could not be tied to a contributor
func NewResolutionFailedError(login string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeResolutionFailed,
		Message: fmt.Sprintf("could not resolve contributor %q", login),
		Err:     err,
	}
}

// NewMalformedResponseError reports a provider payload missing an expected field
func NewMalformedResponseError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeMalformedResponse,
		Message: message,
	}
}

// NewStoreWriteError wraps an insert rejected by the store
func NewStoreWriteError(table string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeStoreWriteFailed,
		Message: fmt.Sprintf("insert into %s failed", table),
		Err:     err,
	}
}

// NewUnknownTaskTypeError reports a queue entry with an unrecognized type
func NewUnknownTaskTypeError(taskType string) *AppError {
	return &AppError{
		Code:    ErrCodeUnknownTaskType,
		Message: fmt.Sprintf("%s is not a recognized task type", taskType),
	}
}

// NewConfigError reports a configuration problem that retrying cannot fix
func NewConfigError(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeConfig,
		Message: message,
		Err:     err,
	}
}

// CodeOf returns the code of the first AppError in err's chain, or "" if there is none
func CodeOf(err error) ErrCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// IsNotFound checks if the error is a not found error
func IsNotFound(err error) bool {
	return CodeOf(err) == ErrCodeNotFound
}

// IsResolutionFailed checks if the error is a contributor resolution failure
func IsResolutionFailed(err error) bool {
	return CodeOf(err) == ErrCodeResolutionFailed
}

// IsMalformedResponse checks if the error is a malformed provider payload
func IsMalformedResponse(err error) bool {
	return CodeOf(err) == ErrCodeMalformedResponse
}

// IsStoreWriteFailed checks if the error is a rejected store write
func IsStoreWriteFailed(err error) bool {
	return CodeOf(err) == ErrCodeStoreWriteFailed
}

// IsFatal reports errors that must stop the worker loop
func IsFatal(err error) bool {
	switch CodeOf(err) {
	case ErrCodeUnknownTaskType, ErrCodeConfig:
		return true
	}
	return false
}
