package common

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrInternal     = errors.New("internal error")

	ErrDocument   = errors.New("document error")
	ErrModel      = errors.New("model error")
	ErrValidation = errors.New("validation failed")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// DocumentError reports a malformed, unreadable or empty document.
// It is raised before any model call is made.
type DocumentError struct {
	Reason string
	Cause  error
}

func NewDocumentError(reason string, cause error) *DocumentError {
	return &DocumentError{Reason: reason, Cause: cause}
}

func (e *DocumentError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("document error: %s: %v", e.Reason, e.Cause)
	}
	return "document error: " + e.Reason
}

func (e *DocumentError) Unwrap() error        { return e.Cause }
func (e *DocumentError) Is(target error) bool { return target == ErrDocument }

// ModelError reports that the external model call failed on every attempt.
type ModelError struct {
	Attempts int
	Cause    error
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("model error after %d attempt(s): %v", e.Attempts, e.Cause)
}

func (e *ModelError) Unwrap() error        { return e.Cause }
func (e *ModelError) Is(target error) bool { return target == ErrModel }

// ValidationError reports model output that did not decode or did not match
// the record shape. Raw keeps the offending payload for diagnostics.
type ValidationError struct {
	Raw   string
	Cause error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid model output: %v", e.Cause)
}

func (e *ValidationError) Unwrap() error        { return e.Cause }
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// HTTPStatus maps an extraction error to the status code the HTTP endpoint returns.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrDocument):
		return http.StatusBadRequest
	case errors.Is(err, ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrModel):
		return http.StatusFailedDependency
	default:
		return http.StatusInternalServerError
	}
}

// GRPCStatus converts an extraction error into a gRPC status error.
func GRPCStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrDocument):
		return InvalidArgumentError(err.Error())
	case errors.Is(err, ErrValidation):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, ErrModel):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return InternalError(err.Error())
	}
}

// gRPC error helpers
func InvalidArgumentError(message string) error {
	return status.Error(codes.InvalidArgument, message)
}

func InternalError(message string) error {
	return status.Error(codes.Internal, message)
}

func InvalidArgumentErrorf(format string, args ...interface{}) error {
	return InvalidArgumentError(fmt.Sprintf(format, args...))
}
