package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so callers can map them to responses
// without inspecting messages.
type ErrorKind string

const (
	KindValidation        ErrorKind = "VALIDATION_ERROR"
	KindUnauthenticated   ErrorKind = "UNAUTHENTICATED"
	KindVersionMismatch   ErrorKind = "VERSION_MISMATCH"
	KindForbidden         ErrorKind = "FORBIDDEN"
	KindMissingResource   ErrorKind = "MISSING_RESOURCE"
	KindInsufficientStock ErrorKind = "INSUFFICIENT_STOCK"
	KindSimulatedFailure  ErrorKind = "SIMULATED_FAILURE"
	KindDuplicateRequest  ErrorKind = "DUPLICATE_REQUEST"
	KindPersistence       ErrorKind = "PERSISTENCE_FAILURE"
)

// Sentinels for errors.Is. Matching is by kind only.
var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrUnauthenticated   = &Error{Kind: KindUnauthenticated}
	ErrVersionMismatch   = &Error{Kind: KindVersionMismatch}
	ErrForbidden         = &Error{Kind: KindForbidden}
	ErrMissingResource   = &Error{Kind: KindMissingResource}
	ErrInsufficientStock = &Error{Kind: KindInsufficientStock}
	ErrSimulatedFailure  = &Error{Kind: KindSimulatedFailure}
	ErrDuplicateRequest  = &Error{Kind: KindDuplicateRequest}
	ErrPersistence       = &Error{Kind: KindPersistence}
)

type Error struct {
	Kind    ErrorKind
	Message string
	Details any
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindPersistence for anything untyped.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindPersistence
}

// FieldError describes one invalid input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// StockShortfall reports an artifact whose stock cannot cover a request.
type StockShortfall struct {
	ArtifactID int64 `json:"artifactId"`
	Requested  int   `json:"requested"`
	Available  int   `json:"available"`
}

func NewValidationError(fields ...FieldError) *Error {
	return &Error{Kind: KindValidation, Message: "validation error", Details: fields}
}

func NewMissingResourceError(message string, details any) *Error {
	return &Error{Kind: KindMissingResource, Message: message, Details: details}
}

func NewInsufficientStockError(shortfalls []StockShortfall) *Error {
	return &Error{
		Kind:    KindInsufficientStock,
		Message: "insufficient stock for one or more artifacts",
		Details: shortfalls,
	}
}

func NewPersistenceError(op string, err error) *Error {
	return &Error{Kind: KindPersistence, Message: op, Err: err}
}

func NewUnauthenticatedError(message string, err error) *Error {
	return &Error{Kind: KindUnauthenticated, Message: message, Err: err}
}
