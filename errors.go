package apiflow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrorCode represents a machine-readable error code.
type ErrorCode string

const (
	CodeConfiguration  ErrorCode = "configuration"
	CodeInvalidRequest ErrorCode = "invalid_request"
	CodeTransport      ErrorCode = "transport"
	CodeInternal       ErrorCode = "internal"
)

// Error is the single error type produced by this package.
// Dispatch-time errors are never returned; they travel inside Event.Error.
type Error struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`

	cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the error this one was built from, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target is an *Error with the same code.
// This lets callers write errors.Is(err, &apiflow.Error{Code: apiflow.CodeTransport}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}

// NewError creates a new error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Errorf creates a new error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// WithDetail returns a new Error with the key-value pair added to details.
func (e *Error) WithDetail(key string, value any) *Error {
	details := make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		cause:   e.cause,
	}
}

// WithDetails returns a new Error with the provided map merged into details.
func (e *Error) WithDetails(details map[string]any) *Error {
	if len(details) == 0 {
		return e
	}
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Details: merged,
		cause:   e.cause,
	}
}

// ConfigurationError reports an invalid API declaration.
func ConfigurationError(format string, args ...any) *Error {
	return &Error{
		Code:    CodeConfiguration,
		Message: "invalid API configuration: " + fmt.Sprintf(format, args...),
	}
}

// InvalidRequestError reports a call to an unknown endpoint or entity.
func InvalidRequestError(format string, args ...any) *Error {
	return Errorf(CodeInvalidRequest, format, args...)
}

// TransportError wraps a network failure. A nil err produces a plain message error,
// which is how non-2xx/3xx responses are reported.
func TransportError(err error, format string, args ...any) *Error {
	e := Errorf(CodeTransport, format, args...)
	if err != nil {
		e.Message += ": " + err.Error()
		e.cause = err
	}
	return e
}

// InternalError wraps an error returned (or a panic raised) by a user resolver.
// Errors that already carry a code are returned unchanged.
func InternalError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{
		Code:    CodeInternal,
		Message: err.Error(),
		cause:   err,
	}
}

// HasCode reports whether err is an *Error with the given code.
func HasCode(err error, code ErrorCode) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

// validationError maps validator errors onto a ConfigurationError.
func validationError(err error) *Error {
	var valErrs validator.ValidationErrors
	if !errors.As(err, &valErrs) {
		return ConfigurationError("%v", err)
	}
	details := make(map[string]any)
	messages := make([]string, 0, len(valErrs))
	for _, ve := range valErrs {
		msg := formatValidationError(ve)
		details[ve.Namespace()] = msg
		messages = append(messages, ve.Namespace()+": "+msg)
	}
	return ConfigurationError("%s", strings.Join(messages, "; ")).WithDetails(details)
}

// formatValidationError converts a validator.FieldError to a human-readable message.
func formatValidationError(ve validator.FieldError) string {
	switch ve.Tag() {
	case "required":
		return "required"
	case "url":
		return "must be a valid absolute URL"
	case "apiname":
		return "must start with a letter and contain only letters, digits and underscores"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", ve.Param())
	default:
		if ve.Param() != "" {
			return fmt.Sprintf("failed %s=%s validation", ve.Tag(), ve.Param())
		}
		return fmt.Sprintf("failed %s validation", ve.Tag())
	}
}
