// SPDX-License-Identifier: Apache-2.0
// Package errors provides typed error handling with rich context for the
// memory server. Every failure that crosses a package boundary is a
// *KairosError so the protocol layer can decide how to surface it.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
)

// ErrorCode classifies errors for monitoring and for protocol replies.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeInvalidInput indicates the input failed validation before any side effect.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeNotFound indicates a referenced resource (e.g. a persona) was not found.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeUnsupported indicates a capability value the server refuses locally.
	CodeUnsupported ErrorCode = "UNSUPPORTED"

	// CodeBackend indicates the remote backend failed or could not be reached.
	CodeBackend ErrorCode = "BACKEND_ERROR"

	// CodeConflict indicates a conditional write lost against a concurrent writer.
	CodeConflict ErrorCode = "CONFLICT"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeUnauthorized indicates the backend rejected the shared secret.
	CodeUnauthorized ErrorCode = "UNAUTHORIZED"

	// CodeRateLimit indicates rate limiting was triggered.
	CodeRateLimit ErrorCode = "RATE_LIMITED"
)

// KairosError is a typed error with rich context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type KairosError struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Recoverable bool
	StatusCode  int
}

// Error implements the error interface.
func (e *KairosError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *KairosError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a *KairosError carrying the same code and
// message. Sentinel errors declared with New compare equal to copies
// decorated with WithContext.
func (e *KairosError) Is(target error) bool {
	t, ok := target.(*KairosError)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *KairosError) MarshalJSON() ([]byte, error) {
	out := struct {
		Code        string                 `json:"code"`
		Message     string                 `json:"message"`
		Err         string                 `json:"error,omitempty"`
		Context     map[string]interface{} `json:"context,omitempty"`
		Recoverable bool                   `json:"recoverable"`
		StatusCode  int                    `json:"status_code"`
	}{
		Code:        string(e.Code),
		Message:     e.Message,
		Context:     e.Context,
		Recoverable: e.Recoverable,
		StatusCode:  e.StatusCode,
	}
	if e.Err != nil {
		out.Err = e.Err.Error()
	}
	return json.Marshal(out)
}

// New creates a new KairosError with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *KairosError {
	return &KairosError{
		Code:       code,
		Message:    msg,
		Err:        cause,
		Context:    make(map[string]interface{}),
		StatusCode: codeToStatusCode(code),
	}
}

// Wrap returns a copy of sentinel with cause attached. The sentinel itself is
// never mutated, so package-level error values stay safe for concurrent use.
func Wrap(sentinel *KairosError, cause error) *KairosError {
	ke := New(sentinel.Code, sentinel.Message, cause)
	ke.Recoverable = sentinel.Recoverable
	return ke
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *KairosError) WithContext(key string, value interface{}) *KairosError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
// Returns the error for method chaining.
func (e *KairosError) WithRecoverable(recoverable bool) *KairosError {
	e.Recoverable = recoverable
	return e
}

// AsKairosError attempts to convert an error to a KairosError.
// Returns the error as KairosError if one is in the chain, or wraps it otherwise.
func AsKairosError(err error) *KairosError {
	if err == nil {
		return nil
	}
	var ke *KairosError
	if stderrors.As(err, &ke) {
		return ke
	}
	return New(CodeInternal, "wrapped error", err)
}

// CodeOf returns the code of the first KairosError in err's chain,
// or CodeInternal when there is none.
func CodeOf(err error) ErrorCode {
	var ke *KairosError
	if stderrors.As(err, &ke) {
		return ke.Code
	}
	return CodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	var ke *KairosError
	if stderrors.As(err, &ke) {
		return ke.Code == code
	}
	return false
}

// RecoverableString returns "true" or "false" as a string for observability.
func (e *KairosError) RecoverableString() string {
	if e.Recoverable {
		return "true"
	}
	return "false"
}

// codeToStatusCode maps error codes to HTTP status codes.
func codeToStatusCode(code ErrorCode) int {
	switch code {
	case CodeNotFound:
		return 404
	case CodeUnauthorized:
		return 401
	case CodeInvalidInput, CodeUnsupported:
		return 400
	case CodeConflict:
		return 409
	case CodeTimeout:
		return 408
	case CodeRateLimit:
		return 429
	case CodeBackend:
		return 502
	default:
		return 500
	}
}
