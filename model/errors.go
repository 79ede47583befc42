package model

import (
	"fmt"
	"strings"
)

// Standard error codes.
const (
	ErrBadRequest        = "BAD_REQUEST"
	ErrUnauthorized      = "UNAUTHORIZED"
	ErrForbidden         = "FORBIDDEN"
	ErrNotFound          = "NOT_FOUND"
	ErrConflict          = "CONFLICT"
	ErrValidationError   = "VALIDATION_ERROR"
	ErrInvalidTransition = "INVALID_TRANSITION"
	ErrPayloadTooLarge   = "PAYLOAD_TOO_LARGE"
	ErrInternalError     = "INTERNAL_ERROR"
)

// Charge configuration error codes.
const (
	ErrPublishBlocked     = "PUBLISH_BLOCKED"
	ErrRuleNotMatched     = "RULE_NOT_MATCHED"
	ErrPricingUnavailable = "PRICING_UNAVAILABLE"
)

// ChargesRoute is where a client recovers to when a charge cannot be found.
const ChargesRoute = "/charges"

// ErrorEnvelope is the standard error response envelope.
// It implements the error interface.
type ErrorEnvelope struct {
	Code          string       `json:"code"`
	Message       string       `json:"message"`
	Details       []FieldError `json:"details,omitempty"`
	RecoveryRoute string       `json:"recovery_route,omitempty"`
	TraceID       string       `json:"trace_id"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewUnauthorizedError returns an UNAUTHORIZED error.
func NewUnauthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthorized, Message: msg}
}

// NewForbiddenError returns a FORBIDDEN error.
func NewForbiddenError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrForbidden, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewChargeNotFoundError returns a NOT_FOUND error pointing back to the
// charge listing.
func NewChargeNotFoundError(code string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:          ErrNotFound,
		Message:       fmt.Sprintf("Charge %q not found", code),
		RecoveryRoute: ChargesRoute,
	}
}

// NewConflictError returns a CONFLICT error.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewInvalidTransitionError returns an INVALID_TRANSITION error.
func NewInvalidTransitionError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrInvalidTransition, Message: msg}
}

// NewValidationError returns a VALIDATION_ERROR with field-level details.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrValidationError,
		Message: "One or more fields are invalid",
		Details: details,
	}
}

// NewPublishBlockedError returns a PUBLISH_BLOCKED error carrying every
// publish validation message, in order.
func NewPublishBlockedError(messages []string) *ErrorEnvelope {
	details := make([]FieldError, len(messages))
	for i, m := range messages {
		details[i] = FieldError{Code: ErrPublishBlocked, Message: m}
	}
	return &ErrorEnvelope{
		Code:    ErrPublishBlocked,
		Message: "Validation failed: " + strings.Join(messages, "; "),
		Details: details,
	}
}

// NewRuleNotMatchedError returns a RULE_NOT_MATCHED error.
func NewRuleNotMatchedError(chargeCode string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrRuleNotMatched,
		Message: fmt.Sprintf("No active rule of charge %q applies", chargeCode),
	}
}

// NewPricingUnavailableError returns a PRICING_UNAVAILABLE error.
func NewPricingUnavailableError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrPricingUnavailable, Message: msg}
}

// NewPayloadTooLargeError returns a PAYLOAD_TOO_LARGE error.
func NewPayloadTooLargeError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrPayloadTooLarge, Message: msg}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}
