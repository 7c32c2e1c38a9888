package upstream

import (
	"errors"
	"fmt"
)

// Failure taxonomy. The pipeline is the single chokepoint for
// credential-related failures; callers match with errors.Is and never need
// their own 401 handling.
var (
	// ErrCredentialExpired: the access token was rejected and could not be
	// silently refreshed. The session has already been torn down.
	ErrCredentialExpired = errors.New("credential expired")

	// ErrStaleAccount: the upstream reports the account no longer exists or
	// is inactive. Never retried; the session has already been torn down.
	ErrStaleAccount = errors.New("account no longer active")

	// ErrAuthorizationDenied: the session is valid but under-permissioned
	// for this one call. Handled locally by the caller, never a redirect.
	ErrAuthorizationDenied = errors.New("authorization denied")

	// ErrNotFound: the upstream resource does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrUnreachable: connectivity failure, no response received.
	ErrUnreachable = errors.New("upstream unreachable")
)

// Error carries an upstream failure with its HTTP status and server message.
type Error struct {
	Status  int
	Message string
	kind    error
}

func newError(status int, message string, kind error) *Error {
	return &Error{Status: status, Message: message, kind: kind}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("upstream error: status %d", e.Status)
	}
	return fmt.Sprintf("upstream error: status %d: %s", e.Status, e.Message)
}

func (e *Error) Unwrap() error {
	return e.kind
}
