package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// devServerPID/Log/Cmd name the well-known artifact files the dev-server
// manager writes relative to the workspace root, per §6's persisted
// layout (<workspace>/.dev-server.{pid,log,cmd}).
const (
	devServerPIDFile = ".dev-server.pid"
	devServerLogFile = ".dev-server.log"
	devServerCmdFile = ".dev-server.cmd"
)

type startDevServerArgs struct {
	Command string `json:"command"`
}

const startDevServerArgsSchema = `{
  "type": "object",
  "properties": {"command": {"type": "string"}},
  "required": ["command"]
}`

// NewStartDevServerSpec builds the dev-server tool that starts a
// long-running server inside the dev container via a detach pattern: it
// writes the launched PID to devServerPIDFile and redirects logs to
// devServerLogFile, per §4.3.
func NewStartDevServerSpec(executor ContainerExecutor) *Spec {
	return &Spec{
		Name:        "start_dev_server",
		Group:       GroupDevServer,
		Description: "Start the dev server in the background, recording its PID and log path.",
		ArgsSchema:  json.RawMessage(startDevServerArgsSchema),
		Handler: func(ctx context.Context, raw json.RawMessage) (Result, error) {
			var args startDevServerArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return ErrorResult(err), nil
			}
			detached := fmt.Sprintf(
				"echo %s > %s && nohup %s > %s 2>&1 & echo $! > %s",
				shellQuote(args.Command), devServerCmdFile,
				args.Command, devServerLogFile,
				devServerPIDFile,
			)
			code, output, err := executor.Exec(ctx, []string{"sh", "-c", detached}, "")
			if err != nil {
				return ErrorResult(err), nil
			}
			if code != 0 {
				return Result{IsError: true, Output: output, ErrorDetail: fmt.Sprintf("exit code %d", code)}, nil
			}
			return Result{Output: "dev server started"}, nil
		},
	}
}

// NewDevServerStatusSpec builds the dev-server tool that queries status by
// checking PID liveness and tailing the log, per §4.3.
func NewDevServerStatusSpec(executor ContainerExecutor) *Spec {
	return &Spec{
		Name:        "dev_server_status",
		Group:       GroupDevServer,
		Description: "Check whether the dev server process is alive and return the tail of its log.",
		Handler: func(ctx context.Context, _ json.RawMessage) (Result, error) {
			cmd := fmt.Sprintf(
				"if [ -f %s ] && kill -0 \"$(cat %s)\" 2>/dev/null; then echo RUNNING; else echo STOPPED; fi; echo ---; tail -n 50 %s 2>/dev/null",
				devServerPIDFile, devServerPIDFile, devServerLogFile,
			)
			_, output, err := executor.Exec(ctx, []string{"sh", "-c", cmd}, "")
			if err != nil {
				return ErrorResult(err), nil
			}
			return Result{Output: output}, nil
		},
	}
}

// NewStopDevServerSpec builds the dev-server tool that stops the server by
// sending TERM then KILL after a grace window, per §4.3.
func NewStopDevServerSpec(executor ContainerExecutor, grace time.Duration) *Spec {
	return &Spec{
		Name:        "stop_dev_server",
		Group:       GroupDevServer,
		Description: "Stop the dev server, sending SIGTERM then SIGKILL after a grace period.",
		Handler: func(ctx context.Context, _ json.RawMessage) (Result, error) {
			cmd := fmt.Sprintf(
				"[ -f %s ] && kill -TERM \"$(cat %s)\" 2>/dev/null; sleep %d; [ -f %s ] && kill -KILL \"$(cat %s)\" 2>/dev/null; rm -f %s; echo ok",
				devServerPIDFile, devServerPIDFile, int(grace.Seconds()), devServerPIDFile, devServerPIDFile, devServerPIDFile,
			)
			_, output, err := executor.Exec(ctx, []string{"sh", "-c", cmd}, "")
			if err != nil {
				return ErrorResult(err), nil
			}
			return Result{Output: strings.TrimSpace(output)}, nil
		},
	}
}
