package models

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRequest     = errors.New("invalid request")
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrTimeout            = errors.New("scan timed out")
	ErrNotFound           = errors.New("scan not found")
	ErrClosed             = errors.New("orchestrator shut down")
	// ErrInvariant marks orchestrator bugs such as a record vanishing mid-transition.
	ErrInvariant = errors.New("internal invariant violated")
)

// ErrorKind is the published classification of a scan failure.
type ErrorKind string

const (
	KindInvalidRequest     ErrorKind = "invalid_request"
	KindBackendUnavailable ErrorKind = "backend_unavailable"
	KindBackendError       ErrorKind = "backend_error"
	KindParseError         ErrorKind = "parse_error"
	KindTimeout            ErrorKind = "timeout"
	KindInternal           ErrorKind = "internal"
)

// BackendError is a failed call to an external backend after a scan started.
type BackendError struct {
	Backend string // "zap", "anthropic", "local", ...
	Op      string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// ParseError reports analysis output that could not be decoded into findings.
type ParseError struct {
	Backend string
	Reason  string
	Err     error
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("%s: unparseable analysis output: %s", e.Backend, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error { return e.Err }

// KindOf maps err onto the published error taxonomy. ParseError is checked
// before BackendError so a parse failure wrapped by a provider keeps its kind.
func KindOf(err error) ErrorKind {
	var (
		pe *ParseError
		be *BackendError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.As(err, &pe):
		return KindParseError
	case errors.Is(err, ErrInvalidRequest):
		return KindInvalidRequest
	case errors.Is(err, ErrBackendUnavailable):
		return KindBackendUnavailable
	case errors.As(err, &be):
		return KindBackendError
	default:
		return KindInternal
	}
}

// BackendOf returns the backend name carried by err, if any.
func BackendOf(err error) string {
	var pe *ParseError
	if errors.As(err, &pe) {
		return pe.Backend
	}
	var be *BackendError
	if errors.As(err, &be) {
		return be.Backend
	}
	return ""
}
