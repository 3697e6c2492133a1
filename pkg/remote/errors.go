package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a remote failure.
type Kind string

const (
	KindNotFound    Kind = "not_found"
	KindAuth        Kind = "auth"
	KindInvalid     Kind = "invalid"
	KindRateLimited Kind = "rate_limited"
	KindServer      Kind = "server"
	KindNetwork     Kind = "network"
	KindTimeout     Kind = "timeout"
	KindCanceled    Kind = "canceled"
	KindDecode      Kind = "decode"
)

// RemoteError is returned once every internal retry has been spent.
// Retryable reports whether the last failure was transient.
type RemoteError struct {
	Op         string
	Kind       Kind
	StatusCode int
	Retryable  bool
	Attempts   int
	Body       string
	Err        error
}

func (e *RemoteError) Error() string {
	msg := fmt.Sprintf("remote %s: %s", e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (http %d)", e.StatusCode)
	}
	if e.Attempts > 1 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	} else if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func (e *RemoteError) Unwrap() error { return e.Err }

// AsRemoteError extracts a *RemoteError from err.
func AsRemoteError(err error) (*RemoteError, bool) {
	var re *RemoteError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// statusError classifies a non-2xx response. 429 and 5xx are retryable;
// every other status is permanent.
func statusError(status int, body string) *RemoteError {
	e := &RemoteError{StatusCode: status, Body: body}
	switch {
	case status == http.StatusTooManyRequests:
		e.Kind, e.Retryable = KindRateLimited, true
	case status >= 500:
		e.Kind, e.Retryable = KindServer, true
	case status == http.StatusNotFound:
		e.Kind = KindNotFound
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Kind = KindAuth
	default:
		e.Kind = KindInvalid
	}
	return e
}

// transportError classifies a failure to get any response. attemptCtx is the
// per-attempt context, callerCtx the context passed by the caller.
func transportError(err error, attemptCtx, callerCtx context.Context) *RemoteError {
	switch {
	case callerCtx.Err() != nil && errors.Is(callerCtx.Err(), context.Canceled):
		return &RemoteError{Kind: KindCanceled, Err: err}
	case callerCtx.Err() != nil, errors.Is(attemptCtx.Err(), context.DeadlineExceeded):
		return &RemoteError{Kind: KindTimeout, Retryable: true, Err: err}
	default:
		return &RemoteError{Kind: KindNetwork, Retryable: true, Err: err}
	}
}
