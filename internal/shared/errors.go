package shared

import (
	"errors"
	"fmt"
)

// Kind classifies a domain failure for transport mapping.
type Kind int

const (
	KindUnknown Kind = iota
	KindBadRequest
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
	KindMonthClosed
)

// DomainError is the error type returned by services. Handlers map the
// Kind to an HTTP status; everything else stays opaque.
type DomainError struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error { return e.Err }

// Is lets errors.Is match two domain errors on kind and code.
func (e *DomainError) Is(target error) bool {
	var de *DomainError
	if !errors.As(target, &de) {
		return false
	}
	return e.Kind == de.Kind && (de.Code == "" || e.Code == de.Code)
}

func BadRequest(code, message string) *DomainError {
	return &DomainError{Kind: KindBadRequest, Code: code, Message: message}
}

func Unauthorized(message string) *DomainError {
	return &DomainError{Kind: KindUnauthorized, Code: "UNAUTHORIZED", Message: message}
}

func Forbidden(code, message string) *DomainError {
	return &DomainError{Kind: KindForbidden, Code: code, Message: message}
}

func NotFound(message string) *DomainError {
	return &DomainError{Kind: KindNotFound, Code: "NOT_FOUND", Message: message}
}

func Conflict(code, message string) *DomainError {
	return &DomainError{Kind: KindConflict, Code: code, Message: message}
}

// MonthClosed is returned by the period gate when a mutation lands in a
// closed accounting month. It keeps its own kind so handlers preserve
// the dedicated error code on the wire.
func MonthClosed(message string) *DomainError {
	return &DomainError{Kind: KindMonthClosed, Code: "MONTH_CLOSED", Message: message}
}

// KindOf extracts the Kind from err, or KindUnknown for non-domain errors.
func KindOf(err error) Kind {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}

var (
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
)
