package gateway

import (
	"errors"
	"fmt"
)

// ErrSessionLost is broadcast to observers when keepalive exhaustion
// invalidates the session. The state is terminal: callers need a new
// Client, because handle ids from the dead session are stale.
var ErrSessionLost = errors.New("gateway session lost")

// ErrSessionNotOpen reports an operation that requires an open session.
var ErrSessionNotOpen = errors.New("session not open")

// SetupError reports a failed create-session transaction.
type SetupError struct {
	Err error
}

func (e *SetupError) Error() string { return fmt.Sprintf("session setup failed: %v", e.Err) }

func (e *SetupError) Unwrap() error { return e.Err }

// AttachError reports a failed plugin attach transaction.
type AttachError struct {
	Plugin Plugin
	Err    error
}

func (e *AttachError) Error() string {
	return fmt.Sprintf("attach %s failed: %v", e.Plugin, e.Err)
}

func (e *AttachError) Unwrap() error { return e.Err }

// CommandError reports a failed plugin command transaction. StatusCode
// is the HTTP status; Code and Reason carry the gateway's error object
// when the failure was reported at the protocol level. Err is set when
// the command never produced a gateway response at all, so StatusCode
// stays zero.
type CommandError struct {
	StatusCode int
	Code       int
	Reason     string
	Body       []byte
	Err        error
}

func (e *CommandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("command failed: %v", e.Err)
	}
	if e.Reason != "" {
		return fmt.Sprintf("command failed: %d %s (http %d)", e.Code, e.Reason, e.StatusCode)
	}
	return fmt.Sprintf("command failed: http %d", e.StatusCode)
}

func (e *CommandError) Unwrap() error { return e.Err }
