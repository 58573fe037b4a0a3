package relay

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a relay failure.
type Kind int

const (
	KindNotFound Kind = iota + 1
	KindServiceUnavailable
	KindUpstream
	KindTimeout
	KindTranscodeUnavailable
	KindInvalidRange
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindServiceUnavailable:
		return "service_unavailable"
	case KindUpstream:
		return "upstream_error"
	case KindTimeout:
		return "timeout"
	case KindTranscodeUnavailable:
		return "transcode_unavailable"
	case KindInvalidRange:
		return "invalid_range"
	default:
		return "unknown"
	}
}

// Error is returned by every relay operation that fails before streaming
// starts. Status is the HTTP status the client should see.
type Error struct {
	Kind   Kind
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds an Error with the default status for kind.
func NewError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Status: defaultStatus(kind), Err: err}
}

func defaultStatus(kind Kind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindServiceUnavailable:
		return http.StatusServiceUnavailable
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindTranscodeUnavailable:
		return http.StatusInternalServerError
	case KindInvalidRange:
		return http.StatusRequestedRangeNotSatisfiable
	default:
		return http.StatusBadGateway
	}
}

// upstreamStatus wraps an origin error response, keeping its status code.
func upstreamStatus(status int, url string) *Error {
	return &Error{
		Kind:   KindUpstream,
		Status: status,
		Err:    fmt.Errorf("origin %s answered %d", url, status),
	}
}

// AsError extracts a relay error from err.
func AsError(err error) (*Error, bool) {
	var re *Error
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// StatusOf maps err onto an HTTP status, defaulting to 500.
func StatusOf(err error) int {
	if re, ok := AsError(err); ok {
		return re.Status
	}
	return http.StatusInternalServerError
}

// ErrClientGone reports that the downstream client stopped reading.
var ErrClientGone = errors.New("client disconnected")
