package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// ContainerExecutor runs a command for a run and returns its combined output
// plus exit code. cmd/agentrun satisfies it with an in-process os/exec
// runner, so commands run inside the agent's own container against the
// mounted workspace; no executor in this module runs commands in a separate
// dev container.
type ContainerExecutor interface {
	Exec(ctx context.Context, cmd []string, workdir string) (exitCode int, output string, err error)
}

// execReaderExecutor adapts a raw exec function returning an io.Reader
// (the shape testcontainers-go's Container.Exec returns) to ContainerExecutor.
type execReaderExecutor struct {
	exec func(ctx context.Context, cmd []string) (int, io.Reader, error)
}

// NewContainerExecutor wraps a testcontainers.Container-shaped Exec
// function (exit code, output reader, error) as a ContainerExecutor.
func NewContainerExecutor(exec func(ctx context.Context, cmd []string) (int, io.Reader, error)) ContainerExecutor {
	return &execReaderExecutor{exec: exec}
}

func (e *execReaderExecutor) Exec(ctx context.Context, cmd []string, workdir string) (int, string, error) {
	full := cmd
	if workdir != "" {
		quoted := make([]string, len(cmd))
		for i, arg := range cmd {
			quoted[i] = shellQuote(arg)
		}
		full = []string{"sh", "-c", "cd " + shellQuote(workdir) + " && " + strings.Join(quoted, " ")}
	}
	code, r, err := e.exec(ctx, full)
	if err != nil {
		return code, "", err
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return code, string(out), err
	}
	return code, string(out), nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// denyPatterns are command substrings that a container-exec call must never
// contain, per §4.3's deny-list for destructive patterns.
var denyPatterns = []string{
	"rm -rf /",
	"rm -rf /*",
	":(){:|:&};:", // fork bomb
	"mkfs",
	"dd if=/dev/zero",
}

func isDenied(cmd string) (string, bool) {
	for _, p := range denyPatterns {
		if strings.Contains(cmd, p) {
			return p, true
		}
	}
	return "", false
}

type execArgs struct {
	Command string `json:"command"`
}

const execArgsSchema = `{
  "type": "object",
  "properties": {"command": {"type": "string"}},
  "required": ["command"]
}`

// MaxExecOutputBytes bounds tool-exec output size to protect memory, per
// §5's "output sizes for tool exec are truncated".
const MaxExecOutputBytes = 64 * 1024

// NewExecCommandSpec builds the container-exec tool: runs a shell command
// through executor with its working directory set to the workspace root,
// rejecting deny-listed destructive patterns.
func NewExecCommandSpec(executor ContainerExecutor, workspaceRoot string) *Spec {
	return &Spec{
		Name:        "exec_command",
		Group:       GroupContainerExec,
		Description: "Run a shell command inside the dev container, working directory confined to the workspace root.",
		ArgsSchema:  json.RawMessage(execArgsSchema),
		Handler: func(ctx context.Context, raw json.RawMessage) (Result, error) {
			var args execArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return ErrorResult(err), nil
			}
			if pattern, denied := isDenied(args.Command); denied {
				return ErrorResult(fmt.Errorf("command matches deny-listed pattern %q", pattern)), nil
			}
			code, output, err := executor.Exec(ctx, []string{"sh", "-c", args.Command}, workspaceRoot)
			if err != nil {
				return ErrorResult(err), nil
			}
			if len(output) > MaxExecOutputBytes {
				output = output[:MaxExecOutputBytes] + "\n...[truncated]"
			}
			if code != 0 {
				return Result{IsError: true, Output: output, ErrorDetail: fmt.Sprintf("exit code %d", code)}, nil
			}
			return Result{Output: output}, nil
		},
	}
}
