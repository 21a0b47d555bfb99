// Package errors provides structured error types for AgenticKanban.
package errors

import (
	"encoding/json"
	"strings"
)

// Code represents a unique error code.
type Code string

// Error codes for the board engine.
const (
	// Task errors
	CodeTaskNotFound  Code = "TASK_NOT_FOUND"
	CodeTaskUnbound   Code = "TASK_UNBOUND"
	CodeStageInvalid  Code = "STAGE_INVALID"
	CodeStoreConflict Code = "STORE_CONFLICT"

	// Remote persistence errors
	CodeRemoteRejected    Code = "REMOTE_REJECTED"
	CodeRemoteUnavailable Code = "REMOTE_UNAVAILABLE"
	CodeRemoteTimeout     Code = "REMOTE_TIMEOUT"

	// Transport errors
	CodeTransportClosed Code = "TRANSPORT_CLOSED"
	CodeEventInvalid    Code = "EVENT_INVALID"

	// Config errors
	CodeConfigInvalid Code = "CONFIG_INVALID"
	CodeConfigMissing Code = "CONFIG_MISSING"
)

// Category groups error codes for HTTP status mapping.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryNotFound
	CategoryBadRequest
	CategoryConflict
	CategoryInternal
	CategoryTimeout
	CategoryUnavailable
)

// codeCategories maps error codes to their categories.
var codeCategories = map[Code]Category{
	CodeTaskNotFound:      CategoryNotFound,
	CodeTaskUnbound:       CategoryBadRequest,
	CodeStageInvalid:      CategoryBadRequest,
	CodeStoreConflict:     CategoryConflict,
	CodeRemoteRejected:    CategoryBadRequest,
	CodeRemoteUnavailable: CategoryUnavailable,
	CodeRemoteTimeout:     CategoryTimeout,
	CodeTransportClosed:   CategoryUnavailable,
	CodeEventInvalid:      CategoryBadRequest,
	CodeConfigInvalid:     CategoryBadRequest,
	CodeConfigMissing:     CategoryBadRequest,
}

// HTTPStatus returns the HTTP status code for a category.
func (c Category) HTTPStatus() int {
	switch c {
	case CategoryNotFound:
		return 404
	case CategoryBadRequest:
		return 400
	case CategoryConflict:
		return 409
	case CategoryTimeout:
		return 504
	case CategoryUnavailable:
		return 503
	default:
		return 500
	}
}

// BoardError is the structured error type for the board engine.
type BoardError struct {
	Code   Code   `json:"code"`
	What   string `json:"what"`
	Detail string `json:"detail,omitempty"`
	Cause  error  `json:"-"`
}

// Error implements the error interface.
func (e *BoardError) Error() string {
	var b strings.Builder
	b.WriteString(e.What)
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *BoardError) Unwrap() error {
	return e.Cause
}

// Category returns the error category for HTTP status mapping.
func (e *BoardError) Category() Category {
	if cat, ok := codeCategories[e.Code]; ok {
		return cat
	}
	return CategoryUnknown
}

// HTTPStatus returns the appropriate HTTP status code for this error.
func (e *BoardError) HTTPStatus() int {
	return e.Category().HTTPStatus()
}

// MarshalJSON implements json.Marshaler, including the cause message.
func (e *BoardError) MarshalJSON() ([]byte, error) {
	type alias BoardError
	aux := struct {
		*alias
		CauseMsg string `json:"cause,omitempty"`
	}{
		alias: (*alias)(e),
	}
	if e.Cause != nil {
		aux.CauseMsg = e.Cause.Error()
	}
	return json.Marshal(aux)
}

// New creates a structured error.
func New(code Code, what string) *BoardError {
	return &BoardError{Code: code, What: what}
}

// Wrap creates a structured error with an underlying cause.
func Wrap(code Code, what string, cause error) *BoardError {
	return &BoardError{Code: code, What: what, Cause: cause}
}

// WithDetail attaches a human-readable detail string.
func (e *BoardError) WithDetail(detail string) *BoardError {
	e.Detail = detail
	return e
}

// CodeOf extracts the error code from an error chain, or empty.
func CodeOf(err error) Code {
	for err != nil {
		if be, ok := err.(*BoardError); ok {
			return be.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = u.Unwrap()
	}
	return ""
}
