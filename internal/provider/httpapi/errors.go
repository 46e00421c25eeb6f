package httpapi

import (
	"fmt"
)

// Error codes carried in the response envelope.
const (
	CodeLessonNotFound  = "lesson_not_found"
	CodeVariantNotFound = "variant_not_found"
	CodeBadRequest      = "bad_request"
	CodeInternal        = "internal"
)

// APIError is a non-2xx response from the content backend.
type APIError struct {
	Status int
	Code   string
	Err    error
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *APIError) Unwrap() error { return e.Err }

// NewAPIError builds an APIError.
func NewAPIError(status int, code string, err error) *APIError {
	return &APIError{Status: status, Code: code, Err: err}
}
