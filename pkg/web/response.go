// Package web defines common components for a web application.
package web

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// IdempotencyKeyHeader carries the client key of a money moving request.
const IdempotencyKeyHeader = "Idempotency-Key"

// JSONError provides type for explicit json encoded error response.
type JSONError struct {
	Error string `json:"error"`
}

// Error wraps a given err into json friendly struct.
func Error(err error) JSONError {
	return JSONError{Error: err.Error()}
}

// Response holds the common response type for all APIs.
type Response struct {
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// GetErrorMsg returns a readable message for a failed validation tag.
func GetErrorMsg(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return " is required"
	case "currency":
		return " is not supported"
	case "oneof":
		return " must be one of " + fe.Param()
	case "min":
		return fmt.Sprintf(" must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf(" must be at most %s", fe.Param())
	}

	return " is invalid"
}

// BindErrorMsg returns a readable message for a request binding error.
// The first failed field is reported for validation errors.
func BindErrorMsg(err error) string {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) && len(ve) > 0 {
		return ve[0].Field() + GetErrorMsg(ve[0])
	}

	return err.Error()
}
