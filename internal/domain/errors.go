package domain

import "fmt"

// FieldError describes a single invalid field in a request body or params.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// AppError is the base domain error type.
type AppError struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Status  int          `json:"-"`
	Details []FieldError `json:"details,omitempty"`
	Cause   error        `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }

// Standard domain error constructors.

func ErrValidation(msg string, details ...FieldError) *AppError {
	return &AppError{Code: "VALIDATION_ERROR", Message: msg, Status: 400, Details: details}
}

// ErrBadInput is a semantic rejection: the body parsed fine but the request
// cannot be honoured (e.g. mode requires an in-progress game).
func ErrBadInput(msg string) *AppError {
	return &AppError{Code: "BAD_INPUT", Message: msg, Status: 400}
}

func ErrUnauthorized(msg string) *AppError {
	return &AppError{Code: "UNAUTHORIZED", Message: msg, Status: 401}
}

func ErrForbidden(msg string) *AppError {
	return &AppError{Code: "FORBIDDEN", Message: msg, Status: 403}
}

func ErrNotFound(entity, id string) *AppError {
	return &AppError{Code: "NOT_FOUND", Message: fmt.Sprintf("%s %s not found", entity, id), Status: 404}
}

func ErrConflict(msg string) *AppError {
	return &AppError{Code: "CONFLICT", Message: msg, Status: 409}
}

// ErrIdempotencyConflict signals a replayed request whose first attempt has
// not completed yet.
func ErrIdempotencyConflict() *AppError {
	return &AppError{Code: "IDEMPOTENCY_CONFLICT", Message: "request with this idempotency key is still processing", Status: 409}
}

func ErrRateLimited(msg string) *AppError {
	return &AppError{Code: "RATE_LIMITED", Message: msg, Status: 429}
}

func ErrModeNotFound(modeKey string) *AppError {
	return &AppError{Code: "MODE_NOT_FOUND", Message: fmt.Sprintf("mode %s is not registered", modeKey), Status: 404}
}

func ErrModeUnavailableForLeague(modeKey, league string) *AppError {
	return &AppError{Code: "MODE_UNAVAILABLE_FOR_LEAGUE", Message: fmt.Sprintf("mode %s is not available for league %s", modeKey, league), Status: 400}
}

func ErrInternal(msg string, cause error) *AppError {
	return &AppError{Code: "INTERNAL_ERROR", Message: msg, Status: 500, Cause: cause}
}
