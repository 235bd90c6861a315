package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// WorkflowDecisionToolName is the fixed name the Graph Orchestrator scans
// tool_calls for when resolving dynamic routing (§4.6, §9 "two decision
// channels"). Its handler has no side effect beyond acknowledging the
// choice in the tool result — the orchestrator reads the decision from the
// tool_call arguments directly, not from the handler's return value, since
// the sentinel's only real effect is on graph routing, not domain state.
const WorkflowDecisionToolName = "workflow_decision"

// DecisionArgs is the workflow-decision tool's argument shape: next_action
// ∈ {continue, end, back_to_<node>} plus an optional rationale.
type DecisionArgs struct {
	NextAction string `json:"next_action"`
	Rationale  string `json:"rationale,omitempty"`
}

const decisionArgsSchema = `{
  "type": "object",
  "properties": {
    "next_action": {"type": "string"},
    "rationale": {"type": "string"}
  },
  "required": ["next_action"]
}`

// NewWorkflowDecisionSpec builds the sentinel tool every role has access
// to. allowedActions restricts next_action to the node's known successor
// set, per §4.6; an invalid choice is reported as an error Result rather
// than a Go error, so the LLM can retry.
func NewWorkflowDecisionSpec(allowedActions []string) *Spec {
	allowed := make(map[string]bool, len(allowedActions))
	for _, a := range allowedActions {
		allowed[a] = true
	}
	return &Spec{
		Name:        WorkflowDecisionToolName,
		Group:       GroupWorkflow,
		Description: "Record this node's routing decision: continue, end, or back_to_<node>.",
		ArgsSchema:  json.RawMessage(decisionArgsSchema),
		Handler: func(_ context.Context, raw json.RawMessage) (Result, error) {
			var args DecisionArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return ErrorResult(err), nil
			}
			if len(allowed) > 0 && !allowed[args.NextAction] {
				return ErrorResult(fmt.Errorf("next_action %q is not a valid choice at this node", args.NextAction)), nil
			}
			return Result{Output: fmt.Sprintf("decision recorded: %s", args.NextAction)}, nil
		},
	}
}

// decisionMarkerPrefix/Suffix delimit the legacy textual fallback decision
// channel per §9: an assistant message may embed `<<decision:next_action>>`
// instead of calling the workflow-decision tool. The tool-call form is
// preferred; ParseTextualDecision is consulted only when no tool_calls are
// present.
const (
	decisionMarkerPrefix = "<<decision:"
	decisionMarkerSuffix = ">>"
)

// ParseTextualDecision extracts a next_action from an embedded
// `<<decision:next_action>>` marker in text, the legacy fallback channel.
// Returns ok=false if no marker is present.
func ParseTextualDecision(text string) (nextAction string, ok bool) {
	start := strings.Index(text, decisionMarkerPrefix)
	if start < 0 {
		return "", false
	}
	rest := text[start+len(decisionMarkerPrefix):]
	end := strings.Index(rest, decisionMarkerSuffix)
	if end < 0 {
		return "", false
	}
	return rest[:end], true
}
