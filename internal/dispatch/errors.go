package dispatch

import (
	"errors"
	"fmt"
)

var (
	// ErrDaemonUnavailable wraps every fast-path transport failure: no
	// socket, refused or stale connection, timeout, torn response.
	ErrDaemonUnavailable = errors.New("daemon unavailable")
	// ErrUnsupported is returned by the daemon transport for operations it
	// has no RPC for.
	ErrUnsupported = errors.New("operation not supported by daemon")
)

// DaemonError is an application-level failure reported by a reachable
// daemon (success=false). The dispatcher retries it once on the CLI but
// keeps the daemon as first choice.
type DaemonError struct {
	Operation string
	Message   string
}

func (e *DaemonError) Error() string {
	return fmt.Sprintf("daemon %s: %s", e.Operation, e.Message)
}

// CommandError is a tracker operation that failed on the path that served
// it. Diagnostic carries the tool's own explanation (stderr, daemon error
// text) so callers can show it verbatim.
type CommandError struct {
	Op         Op
	Transport  string
	Diagnostic string
	Err        error
}

func (e *CommandError) Error() string {
	if e.Diagnostic == "" {
		return fmt.Sprintf("bd %s failed via %s: %v", e.Op, e.Transport, e.Err)
	}
	return fmt.Sprintf("bd %s failed via %s: %s", e.Op, e.Transport, e.Diagnostic)
}

func (e *CommandError) Unwrap() error { return e.Err }
