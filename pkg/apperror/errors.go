// Package apperror defines the structured errors surfaced by the
// orchestrator and background jobs, each mapped to an HTTP status.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies a class of failure independent of its message.
type Kind string

const (
	KindBadRequest          Kind = "bad_request"
	KindUnauthorized        Kind = "unauthorized"
	KindMakerChecker        Kind = "maker_checker_violation"
	KindNotFound            Kind = "not_found"
	KindInvalidTransition   Kind = "invalid_transition"
	KindIdempotencyConflict Kind = "idempotency_conflict"
	KindProviderUnavailable Kind = "provider_unavailable"
	KindProviderTimeout     Kind = "provider_timeout"
	KindProviderError       Kind = "provider_error"
	KindInternal            Kind = "internal"
)

// AppError carries an HTTP status and a client-safe detail message.
// The wrapped error, if any, is for logs only.
type AppError struct {
	Kind       Kind
	Detail     string
	HTTPStatus int
	Err        error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *AppError) Unwrap() error { return e.Err }

// IsKind reports whether err is an AppError of the given kind.
func IsKind(err error, kind Kind) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Kind == kind
}

func newf(kind Kind, status int, format string, args ...any) *AppError {
	return &AppError{Kind: kind, Detail: fmt.Sprintf(format, args...), HTTPStatus: status}
}

func BadRequest(format string, args ...any) *AppError {
	return newf(KindBadRequest, http.StatusBadRequest, format, args...)
}

func Unauthorized(detail string) *AppError {
	return newf(KindUnauthorized, http.StatusUnauthorized, "%s", detail)
}

func MakerCheckerViolation() *AppError {
	return newf(KindMakerChecker, http.StatusForbidden,
		"Approver must be different from requester (maker-checker)")
}

func NotFound(entity, id string) *AppError {
	return newf(KindNotFound, http.StatusNotFound, "%s %s not found", entity, id)
}

func InvalidTransition(entityType, current, target string) *AppError {
	return newf(KindInvalidTransition, http.StatusConflict,
		"Invalid %s transition: %s -> %s", entityType, current, target)
}

func Conflict(format string, args ...any) *AppError {
	return newf(KindInvalidTransition, http.StatusConflict, format, args...)
}

func IdempotencyConflict(key string) *AppError {
	return newf(KindIdempotencyConflict, http.StatusUnprocessableEntity,
		"Idempotency key %q already used with different request body", key)
}

func ProviderUnavailable(providerID string) *AppError {
	return newf(KindProviderUnavailable, http.StatusBadGateway,
		"Provider %s circuit is open", providerID)
}

func ProviderTimeout(providerID string) *AppError {
	return newf(KindProviderTimeout, http.StatusBadGateway,
		"Provider %s request timed out", providerID)
}

func ProviderError(providerID, detail string) *AppError {
	return newf(KindProviderError, http.StatusBadGateway,
		"Provider %s error: %s", providerID, detail)
}

func BadGateway(format string, args ...any) *AppError {
	return newf(KindProviderError, http.StatusBadGateway, format, args...)
}

// Internal wraps an unexpected error; the detail shown to clients stays
// generic.
func Internal(err error) *AppError {
	return &AppError{
		Kind:       KindInternal,
		Detail:     "Internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}
