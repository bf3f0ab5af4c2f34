// Package admitkit provides request-admission middleware for Chi routers: named
// fixed-window rate limiters, client identity extraction, delegated authentication,
// request binding with input sanitization, and structured JSON error responses.
//
// Every rejection reaches the client as {"error": APIError}. A limiter rejection
// surfaces as ErrRateLimited (429); the limiter itself never returns an error for
// a rejection.
package admitkit

import (
	"net/http"
)

// APIError is the body of an error response. Status is the HTTP status and is
// not serialized.
type APIError struct {
	Type    string       `json:"type"`
	Code    string       `json:"code,omitempty"`
	Message string       `json:"message"`
	Param   string       `json:"param,omitempty"`
	Errors  []FieldError `json:"errors,omitempty"`
	Status  int          `json:"-"`
}

// FieldError is one rejected field of a bound request.
type FieldError struct {
	Param   string `json:"param"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error *APIError `json:"error"`
}

func (e *APIError) Error() string {
	return e.Message
}

// Is matches on Type and Code, so a copy made by With still matches its sentinel.
func (e *APIError) Is(target error) bool {
	if e == nil {
		return target == nil
	}
	t, ok := target.(*APIError)
	return ok && e.Type == t.Type && e.Code == t.Code
}

// With returns a copy of e carrying message. Sentinels are never modified.
func (e *APIError) With(message string) *APIError {
	if e == nil {
		return nil
	}
	dup := *e
	dup.Message = message
	return &dup
}

// WithParam is With that also names the offending parameter.
func (e *APIError) WithParam(message, param string) *APIError {
	dup := e.With(message)
	if dup != nil {
		dup.Param = param
	}
	return dup
}

// Errors written by the admission middleware and the portfolio handlers.
var (
	ErrBadRequest           = &APIError{Type: "request_error", Code: "bad_request", Message: "Bad request", Status: http.StatusBadRequest}
	ErrUnauthorized         = &APIError{Type: "auth_error", Code: "unauthorized", Message: "Unauthorized", Status: http.StatusUnauthorized}
	ErrForbidden            = &APIError{Type: "auth_error", Code: "forbidden", Message: "Forbidden", Status: http.StatusForbidden}
	ErrNotFound             = &APIError{Type: "not_found", Code: "resource_not_found", Message: "Resource not found", Status: http.StatusNotFound}
	ErrMethodNotAllowed     = &APIError{Type: "request_error", Code: "method_not_allowed", Message: "Method not allowed", Status: http.StatusMethodNotAllowed}
	ErrPayloadTooLarge      = &APIError{Type: "request_error", Code: "payload_too_large", Message: "Payload too large", Status: http.StatusRequestEntityTooLarge}
	ErrUnsupportedMediaType = &APIError{Type: "request_error", Code: "unsupported_media_type", Message: "Unsupported media type", Status: http.StatusUnsupportedMediaType}
	ErrRateLimited          = &APIError{Type: "rate_limit_error", Code: "limit_exceeded", Message: "Rate limit exceeded", Status: http.StatusTooManyRequests}
	ErrInternal             = &APIError{Type: "internal_error", Code: "internal", Message: "Internal server error", Status: http.StatusInternalServerError}
	ErrServiceUnavailable   = &APIError{Type: "request_error", Code: "service_unavailable", Message: "Service unavailable", Status: http.StatusServiceUnavailable}
)

// NewValidationError reports the fields a bound request failed on as a single 400.
func NewValidationError(fields []FieldError) *APIError {
	return &APIError{
		Type:    "validation_error",
		Code:    "invalid_request",
		Message: "Validation failed",
		Errors:  fields,
		Status:  http.StatusBadRequest,
	}
}
