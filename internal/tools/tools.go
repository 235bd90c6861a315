// Package tools implements the Tool Registry (C3): named, schema-validated
// functions grouped by purpose and visible to agents through the LLM Agent's
// tool-calling loop. Schemas are compiled once at registration time with
// santhosh-tekuri/jsonschema/v6, following the teacher's tools.ToolSpec
// shape (schema-carrying metadata plus a codec) adapted to validate
// arguments at call time rather than at generated-code time, since this
// repository hand-declares specs instead of generating them from a DSL.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Group classifies a tool by the kind of side effect it has, per §4.3.
type Group string

const (
	GroupWorkspace      Group = "workspace"
	GroupContainerExec  Group = "container_exec"
	GroupDevServer      Group = "dev_server"
	GroupWorkflow       Group = "workflow"
)

// Handler executes a tool call and returns its result as a string (or a
// value JSON-marshalable to one) — never an error the LLM should see
// directly: tool failures are reported as results carrying an error
// marker, per §4.3, so call ErrorResult instead of returning a non-nil
// error for expected failures. A non-nil error return is reserved for
// programmer/infrastructure failures that should surface as apperr.
type Handler func(ctx context.Context, rawArgs json.RawMessage) (Result, error)

// Result is a tool's outcome, always representable as a string for the
// model to observe.
type Result struct {
	Output      string
	IsError     bool
	ErrorDetail string
}

// ErrorResult builds a Result carrying an error marker so the LLM observes
// the failure instead of the loop aborting.
func ErrorResult(err error) Result {
	return Result{IsError: true, ErrorDetail: err.Error(), Output: fmt.Sprintf("error: %v", err)}
}

// Spec is a tool's declared metadata: name, description, argument schema,
// handler, and the Destructive/Async metadata flags.
type Spec struct {
	Name        string
	Group       Group
	Description string
	// ArgsSchema is the tool's JSON Schema for argument validation, compiled
	// once at registration time.
	ArgsSchema json.RawMessage
	Handler    Handler
	// Destructive marks tools that remove workspace state. It is metadata
	// only: neither the Registry nor the LLM Agent reads it, and no
	// confirmation step is enforced (container-exec commands that match the
	// deny-list are rejected by the handler itself).
	Destructive bool
	// Async is metadata only: Call runs every handler inline, and nothing in
	// this module dispatches tools through the Background Worker Broker (C10).
	Async bool

	compiled *jsonschema.Schema
}

// Registry holds compiled Specs keyed by name and dispatches calls.
type Registry struct {
	specs map[string]*Spec
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{specs: make(map[string]*Spec)}
}

// Register compiles spec's argument schema and adds it to the registry.
// Returns an error if the schema does not compile or the name is already
// registered.
func (r *Registry) Register(spec *Spec) error {
	if spec.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if _, exists := r.specs[spec.Name]; exists {
		return fmt.Errorf("tool %q already registered", spec.Name)
	}
	if len(spec.ArgsSchema) > 0 {
		compiler := jsonschema.NewCompiler()
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(spec.ArgsSchema))
		if err != nil {
			return fmt.Errorf("tool %q: parse schema: %w", spec.Name, err)
		}
		resource := "mem://" + spec.Name + ".json"
		if err := compiler.AddResource(resource, doc); err != nil {
			return fmt.Errorf("tool %q: add schema resource: %w", spec.Name, err)
		}
		compiled, err := compiler.Compile(resource)
		if err != nil {
			return fmt.Errorf("tool %q: compile schema: %w", spec.Name, err)
		}
		spec.compiled = compiled
	}
	r.specs[spec.Name] = spec
	return nil
}

// Lookup returns the Spec registered under name, if any.
func (r *Registry) Lookup(name string) (*Spec, bool) {
	s, ok := r.specs[name]
	return s, ok
}

// Subset returns the Specs belonging to the given groups — the
// "tool_subset" bound to an agent per §4.4. The order of the returned Specs
// is not defined.
func (r *Registry) Subset(groups ...Group) []*Spec {
	want := make(map[Group]bool, len(groups))
	for _, g := range groups {
		want[g] = true
	}
	var out []*Spec
	for _, s := range r.specs {
		if want[s.Group] {
			out = append(out, s)
		}
	}
	return out
}

// Call validates rawArgs against the tool's schema, then invokes its
// handler. Schema violations are reported as an error Result rather than a
// Go error, per §4.3 — the LLM observes the validation failure and may
// retry with corrected arguments.
func (r *Registry) Call(ctx context.Context, name string, rawArgs json.RawMessage) (Result, error) {
	spec, ok := r.specs[name]
	if !ok {
		return ErrorResult(fmt.Errorf("unknown tool %q", name)), nil
	}
	if spec.compiled != nil {
		var v any
		if err := json.Unmarshal(rawArgs, &v); err != nil {
			return ErrorResult(fmt.Errorf("args for %q must be valid JSON: %w", name, err)), nil
		}
		if err := spec.compiled.Validate(v); err != nil {
			return ErrorResult(fmt.Errorf("args for %q failed validation: %w", name, err)), nil
		}
	}
	return spec.Handler(ctx, rawArgs)
}

