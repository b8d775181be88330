package service

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies failures of the fulfillment operations
type ErrorKind string

const (
	KindValidation      ErrorKind = "validation"
	KindNotFound        ErrorKind = "not_found"
	KindConflict        ErrorKind = "conflict"
	KindExternalService ErrorKind = "external_service"
	KindInternal        ErrorKind = "internal"
)

// OrderError is returned by every Coordinator operation. Status is the HTTP
// status the API layer answers with.
type OrderError struct {
	Kind    ErrorKind
	Code    string
	Message string
	Status  int
	Err     error
}

func (e *OrderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *OrderError) Unwrap() error { return e.Err }

func newValidationError(code, msg string) *OrderError {
	return &OrderError{Kind: KindValidation, Code: code, Message: msg, Status: http.StatusBadRequest}
}

func newNotFoundError(code, msg string, err error) *OrderError {
	return &OrderError{Kind: KindNotFound, Code: code, Message: msg, Status: http.StatusNotFound, Err: err}
}

func newConflictError(code, msg string, err error) *OrderError {
	return &OrderError{Kind: KindConflict, Code: code, Message: msg, Status: http.StatusConflict, Err: err}
}

// newRejectionError is a conflict the caller can fix by changing the request
// (coupon rules, illegal transitions), answered with 400.
func newRejectionError(code, msg string) *OrderError {
	return &OrderError{Kind: KindConflict, Code: code, Message: msg, Status: http.StatusBadRequest}
}

func newInternalError(msg string, err error) *OrderError {
	return &OrderError{Kind: KindInternal, Code: "internal_error", Message: msg, Status: http.StatusInternalServerError, Err: err}
}

// AsOrderError extracts an OrderError, wrapping anything else as internal
func AsOrderError(err error) *OrderError {
	var oe *OrderError
	if errors.As(err, &oe) {
		return oe
	}
	return newInternalError("unexpected error", err)
}

// IsKind reports whether err is an OrderError of the given kind
func IsKind(err error, kind ErrorKind) bool {
	var oe *OrderError
	return errors.As(err, &oe) && oe.Kind == kind
}
