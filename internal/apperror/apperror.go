package apperror

import (
	"errors"
	"fmt"
)

// Sentinel errors for the verification engine's failure taxonomy.
//
// Services wrap these inside an AppError; handlers translate them to HTTP
// status codes with errors.Is. The split matters: ErrUpstream means a
// platform API misbehaved (recoverable, never retried automatically here),
// ErrConfiguration means the adapter itself is unusable (missing
// credentials), and the rest are caller mistakes.
var (
	ErrNotFound      = errors.New("not found")
	ErrValidation    = errors.New("validation error")
	ErrConflict      = errors.New("conflict")
	ErrNotLinked     = errors.New("account not linked")
	ErrUpstream      = errors.New("upstream platform error")
	ErrConfiguration = errors.New("configuration error")

	// Telegram code flow failures. Each is its own sentinel so callers can
	// tell "restart the flow" (expired) apart from "retype the code"
	// (mismatch) without parsing messages.
	ErrNoPendingCode = errors.New("no pending verification code")
	ErrCodeMismatch  = errors.New("verification code mismatch")
	ErrCodeExpired   = errors.New("verification code expired")
)

// AppError pairs a sentinel with a message that is safe to show the caller.
// Diagnostic detail (upstream bodies, raw tokens) belongs in logs, never in
// Message.
type AppError struct {
	Err     error  // sentinel, matched with errors.Is
	Message string // human-readable, credential-free
	Field   string // optional: request field causing the error
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

// NotLinked indicates the user has no SocialAccount for the platform the
// task requires. The message tells the caller what to do about it.
func NotLinked(platform string) *AppError {
	return &AppError{
		Err:     ErrNotLinked,
		Message: fmt.Sprintf("no linked %s account — complete the %s linking flow first", platform, platform),
	}
}

// Upstream indicates a platform API returned a non-2xx status or an
// unparseable body. Only the operation name reaches the caller; the raw
// upstream response stays in the logs.
func Upstream(operation string) *AppError {
	return &AppError{
		Err:     ErrUpstream,
		Message: fmt.Sprintf("%s failed", operation),
	}
}

// Configuration indicates the adapter is missing credentials or endpoints.
// Handlers surface this as a 5xx — the request was fine, the deployment isn't.
func Configuration(what string) *AppError {
	return &AppError{
		Err:     ErrConfiguration,
		Message: fmt.Sprintf("%s is not configured", what),
	}
}

func NoPendingCode() *AppError {
	return &AppError{
		Err:     ErrNoPendingCode,
		Message: "no pending verification code — start the flow again",
	}
}

func CodeMismatch() *AppError {
	return &AppError{
		Err:     ErrCodeMismatch,
		Message: "verification code does not match",
	}
}

func CodeExpired() *AppError {
	return &AppError{
		Err:     ErrCodeExpired,
		Message: "verification code expired — start the flow again",
	}
}
