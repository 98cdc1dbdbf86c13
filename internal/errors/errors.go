package errors

import (
	stderrors "errors"
	"fmt"

	"trialsynth/domain/core"
)

// AppError represents a structured application error
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates a new AppError
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an error with additional context, keeping the code of an inner
// AppError or deriving one from the domain sentinel it carries.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return &AppError{
		Code:    codeFor(err),
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an error with formatted additional context
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WithCode adds an error code to an existing error
func WithCode(code string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return &AppError{
			Code:    code,
			Message: appErr.Message,
			Cause:   appErr.Cause,
		}
	}
	return &AppError{
		Code:    code,
		Message: err.Error(),
		Cause:   err,
	}
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// GetCode returns the error code if it's an AppError, otherwise returns "UNKNOWN"
func GetCode(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return "UNKNOWN"
}

func codeFor(err error) string {
	var appErr *AppError
	switch {
	case stderrors.As(err, &appErr):
		return appErr.Code
	case stderrors.Is(err, core.ErrInsufficientData):
		return CodeInsufficientData
	case stderrors.Is(err, core.ErrSingularCorrelation):
		return CodeSingularCorrelation
	case core.IsRequestError(err):
		return CodeInvalidInput
	default:
		return CodeGenerationError
	}
}

// Predefined error codes
const (
	CodeConfigInvalid       = "CONFIG_INVALID"
	CodeInsufficientData    = "INSUFFICIENT_DATA"
	CodeSingularCorrelation = "SINGULAR_CORRELATION"
	CodeInvalidInput        = "INVALID_INPUT"
	CodeGenerationError     = "GENERATION_ERROR"
	CodeSinkError           = "SINK_ERROR"
	CodeCanceled            = "CANCELED"
)

// Common error constructors
func ConfigInvalid(message string) *AppError {
	return New(CodeConfigInvalid, message)
}

func InvalidInput(message string) *AppError {
	return New(CodeInvalidInput, message)
}

func InsufficientData(message string, cause error) *AppError {
	return &AppError{
		Code:    CodeInsufficientData,
		Message: message,
		Cause:   cause,
	}
}

func GenerationError(strategy string, cause error) *AppError {
	return &AppError{
		Code:    CodeGenerationError,
		Message: fmt.Sprintf("%s generation failed", strategy),
		Cause:   cause,
	}
}

func SinkError(chunk int, cause error) *AppError {
	return &AppError{
		Code:    CodeSinkError,
		Message: fmt.Sprintf("writing chunk %d", chunk),
		Cause:   cause,
	}
}
