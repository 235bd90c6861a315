// Package apperr implements the error taxonomy used across the agent
// execution core so that propagation policy (retry, surface-to-LLM, abort
// run, HTTP-only) can be enforced mechanically at call sites instead of by
// string-matching error messages.
package apperr

import "fmt"

// Kind distinguishes the seven error categories and their propagation
// policy: InvariantError aborts the run, PersistenceError retries with
// bounded back-off, ToolError surfaces to the LLM without failing the run,
// ModelError retries bounded then fails the run, TimeoutError surfaces as a
// timeout finish, AuthError never reaches the Store, and TransportError
// leaves the run running while the stream waits to be resumed.
type Kind string

const (
	Invariant   Kind = "invariant"
	Persistence Kind = "persistence"
	Tool        Kind = "tool"
	Model       Kind = "model"
	Timeout     Kind = "timeout"
	Auth        Kind = "auth"
	Transport   Kind = "transport"
)

// Error is the concrete type for every error raised by this module. Retry
// and abort policy is derived from Kind by callers, not re-declared per
// error site.
type Error struct {
	Kind      Kind
	Op        string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind, so callers can
// write errors.Is(err, &apperr.Error{Kind: apperr.Invariant}); KindOf reads
// the Kind directly.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func newErr(kind Kind, op string, retryable bool, err error) *Error {
	return &Error{Kind: kind, Op: op, Retryable: retryable, Err: err}
}

func InvariantErr(op string, err error) *Error   { return newErr(Invariant, op, false, err) }
func PersistenceErr(op string, err error) *Error { return newErr(Persistence, op, true, err) }
func ToolErr(op string, err error) *Error        { return newErr(Tool, op, false, err) }
func ModelErr(op string, err error) *Error       { return newErr(Model, op, true, err) }
func TimeoutErr(op string) *Error                { return newErr(Timeout, op, false, nil) }
func AuthErr(op string, err error) *Error        { return newErr(Auth, op, false, err) }
func TransportErr(op string, err error) *Error   { return newErr(Transport, op, true, err) }

// KindOf extracts the Kind of err if it (or something it wraps) is an
// *Error, and reports whether one was found.
func KindOf(err error) (Kind, bool) {
	var e *Error
	for err != nil {
		if ae, ok := err.(*Error); ok {
			e = ae
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if e == nil {
		return "", false
	}
	return e.Kind, true
}
