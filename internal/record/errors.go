package record

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for record operations.
var (
	ErrNotFound   = errors.New("record not found")
	ErrConflict   = errors.New("record conflict")
	ErrMissingID  = errors.New("record identifier is required")
	ErrInvalidID  = errors.New("invalid record identifier")
	ErrThrottled  = errors.New("request throttled")
	ErrBadRequest = errors.New("bad request")
	ErrAuth       = errors.New("not authorized")
)

// Error codes returned by the Web API in the "code" field of an error body.
const (
	CodeNotFound       = "0x80040217"
	CodeDuplicate      = "0x80040237"
	CodeInvalidArgs    = "0x80040203"
	CodeBadQuery       = "0x80041103"
	CodeUnauthorized   = "0x80040220"
	CodeUnexpected     = "0x80040216"
	CodeConcurrency    = "0x80060882"
	CodeRequestLimited = "0x80072322"
)

// RemoteError reports that a call to the record store failed. It carries the
// HTTP status and the store's error code and message.
type RemoteError struct {
	Op         string
	StatusCode int
	Code       string
	Message    string
}

func (e *RemoteError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: remote call failed (%d %s): %s", e.Op, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: remote call failed (%d): %s", e.Op, e.StatusCode, e.Message)
}

// Is maps the status code onto the package sentinels so callers can write
// errors.Is(err, record.ErrNotFound).
func (e *RemoteError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound || e.Code == CodeNotFound
	case ErrConflict:
		return e.StatusCode == http.StatusConflict || e.StatusCode == http.StatusPreconditionFailed || e.Code == CodeDuplicate
	case ErrThrottled:
		return e.StatusCode == http.StatusTooManyRequests || e.Code == CodeRequestLimited
	case ErrBadRequest:
		return e.StatusCode == http.StatusBadRequest
	case ErrAuth:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	}
	return false
}

// Temporary reports whether retrying the same request may succeed.
func (e *RemoteError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}
