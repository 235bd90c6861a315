// Package agentcontext implements the Agent Context (C2): a value binding
// {session, workspace, stores, trace/correlation tags} that tool functions
// and middleware read via a scoped lookup, propagating to child tasks and,
// via an optional guarded fallback cell, to worker goroutines spawned by
// third-party model client libraries that do not receive a context.
//
// Grounded on the teacher's runtime/agent/engine.WithWorkflowContext /
// WorkflowContextFromContext private-key pattern, generalized from "one
// workflow context per activity" to "one Context per logical execution".
package agentcontext

import (
	"context"
	"errors"
	"sync"

	"github.com/mgx-platform/agentcore/internal/store"
)

// Context binds the values a tool or middleware needs to resolve a running
// execution without threading them through every call signature.
type Context struct {
	SessionID     string
	WorkspaceID   string
	WorkspacePath string
	EventStore    store.EventStore
	MessageStore  store.MessageStore
	TraceID       string
	Tags          map[string]string
}

type ctxKey struct{}

// ErrNotSet is returned by Current when no Context has been installed on
// the given context.Context and no fallback cell is set.
var ErrNotSet = errors.New("agentcontext: not set")

// With returns a child context carrying c, for child tasks/goroutines
// spawned with that context to inherit via WithValue semantics.
func With(ctx context.Context, c *Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

// FromContext extracts the Context value carried by ctx, if any.
func FromContext(ctx context.Context) (*Context, bool) {
	c, ok := ctx.Value(ctxKey{}).(*Context)
	return c, ok
}

var (
	fallbackMu sync.RWMutex
	fallback   *Context
)

// SetFallback installs c as the process-wide fallback cell read by Current
// when no context.Context value is available — the case for worker
// goroutines spawned internally by third-party LLM client libraries, which
// do not receive this package's context.Context. Pass nil to clear it.
func SetFallback(c *Context) {
	fallbackMu.Lock()
	defer fallbackMu.Unlock()
	fallback = c
}

// Current resolves the Context for ctx: the explicit value if present,
// otherwise the process-wide fallback cell, otherwise ErrNotSet.
func Current(ctx context.Context) (*Context, error) {
	if c, ok := FromContext(ctx); ok {
		return c, nil
	}
	fallbackMu.RLock()
	defer fallbackMu.RUnlock()
	if fallback == nil {
		return nil, ErrNotSet
	}
	return fallback, nil
}

// WithFallback runs fn with c installed both as ctx's explicit value and,
// for the duration of the call, as the process-wide fallback, restoring the
// previous fallback on return so sibling goroutines with their own
// explicit context are unaffected once fn returns. This is the primitive
// invoke loops use to make a Context visible to model-SDK worker threads
// that call back into this package without the caller's context.Context.
func WithFallback(ctx context.Context, c *Context, fn func(context.Context) error) error {
	fallbackMu.Lock()
	prev := fallback
	fallback = c
	fallbackMu.Unlock()

	defer func() {
		fallbackMu.Lock()
		fallback = prev
		fallbackMu.Unlock()
	}()

	return fn(With(ctx, c))
}
