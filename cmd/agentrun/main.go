// Command agentrun is the entrypoint baked into the agent container image
// spawned by the Task Orchestrator (C8) for exactly one task. It reads its
// configuration from the environment (spec.md §6's container environment
// table), drives the Streaming Runtime to completion, and exits — there is
// no long-lived process here, matching the teacher's unadorned cmd/demo
// style rather than the HTTP service pattern used by cmd/gateway.
package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"goa.design/clue/log"

	"github.com/mgx-platform/agentcore/internal/agent"
	"github.com/mgx-platform/agentcore/internal/compression"
	"github.com/mgx-platform/agentcore/internal/graph"
	"github.com/mgx-platform/agentcore/internal/model"
	"github.com/mgx-platform/agentcore/internal/model/anthropic"
	"github.com/mgx-platform/agentcore/internal/model/bedrock"
	"github.com/mgx-platform/agentcore/internal/model/openai"
	"github.com/mgx-platform/agentcore/internal/runtime"
	"github.com/mgx-platform/agentcore/internal/store"
	"github.com/mgx-platform/agentcore/internal/store/inmem"
	storemongo "github.com/mgx-platform/agentcore/internal/store/mongo"
	clientsmongo "github.com/mgx-platform/agentcore/internal/store/mongo/clients/mongo"
	"github.com/mgx-platform/agentcore/internal/telemetry"
	"github.com/mgx-platform/agentcore/internal/tools"
)

func main() {
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	logger := telemetry.NewClueLogger()

	sessionID := os.Getenv("SESSION_ID")
	workspaceID := os.Getenv("WORKSPACE_ID")
	framework := os.Getenv("FRAMEWORK")
	if sessionID == "" {
		log.Fatal(ctx, fmt.Errorf("SESSION_ID is required"))
	}

	events, messages, err := openStore(ctx)
	if err != nil {
		log.Fatal(ctx, fmt.Errorf("open store: %w", err))
	}

	workspaceRoot := envOr("WORKSPACE_PATH", "/workspace")
	registry := buildToolRegistry(workspaceRoot)

	client, err := buildModelClient(ctx)
	if err != nil {
		log.Fatal(ctx, fmt.Errorf("build model client: %w", err))
	}

	// Long sessions accumulate transcript faster than any model's context
	// window; the compression middleware summarizes the oldest turns before
	// each model call once the estimate crosses the trigger, keeping the most
	// recent exchange verbatim.
	compressor, err := compression.New(compression.Options{
		TriggerTokens:  48000,
		RetainMessages: 12,
		Summarizer:     client,
		Log:            logger,
	})
	if err != nil {
		log.Fatal(ctx, fmt.Errorf("build compression middleware: %w", err))
	}

	team := agent.NewTeam(client, registry, 25, []agent.Middleware{compressor}, logger)
	g := graph.NewTeamTable()

	rt := runtime.New(runtime.Options{
		SessionID:   sessionID,
		WorkspaceID: workspaceID,
		Framework:   framework,
		Team:        team,
		Graph:       g,
		Events:      events,
		Messages:    messages,
		Log:         logger,
	})

	if err := rt.Run(ctx); err != nil {
		log.Fatal(ctx, fmt.Errorf("run: %w", err))
	}
	log.Print(ctx, log.KV{K: "session_id", V: sessionID}, log.KV{K: "msg", V: "run complete"})
}

// openStore picks the Event/Message Store backend named by RUN_MODE, per
// spec.md §6's RUN_MODE ∈ {memory, database}.
func openStore(ctx context.Context) (store.EventStore, store.MessageStore, error) {
	if os.Getenv("RUN_MODE") != "database" {
		s := inmem.New()
		return s, s, nil
	}

	uri := os.Getenv("STORE_CONN")
	if uri == "" {
		return nil, nil, fmt.Errorf("STORE_CONN is required when RUN_MODE=database")
	}
	mc, err := mongodriver.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("connect mongo: %w", err)
	}
	s, err := storemongo.NewStoreFromOptions(clientsmongo.Options{
		Client:   mc,
		Database: envOr("STORE_DATABASE", "agentcore"),
		Timeout:  10 * time.Second,
	})
	if err != nil {
		return nil, nil, err
	}
	_ = ctx
	return s, s, nil
}

// buildModelClient selects a provider adapter by model-family prefix:
// Bedrock foundation-model identifiers carry a vendor prefix ending in a
// dot ("anthropic.claude-...", "amazon.nova-..."), Anthropic's direct API
// models start with "claude", and OpenAI's with "gpt-" or "o". Credentials
// come from each provider's own environment convention.
func buildModelClient(ctx context.Context) (model.Client, error) {
	modelID := envOr("MODEL_ID", "claude-sonnet-4-5")
	switch {
	case strings.Contains(modelID, "."):
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config for model %q: %w", modelID, err)
		}
		return bedrock.New(bedrockruntime.NewFromConfig(cfg), modelID)
	case strings.HasPrefix(modelID, "claude"):
		apiKey := os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY is required for model %q", modelID)
		}
		return anthropic.NewFromAPIKey(apiKey, modelID, 4096)
	case strings.HasPrefix(modelID, "gpt-") || strings.HasPrefix(modelID, "o"):
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for model %q", modelID)
		}
		return openai.NewFromAPIKey(apiKey, modelID)
	default:
		return nil, fmt.Errorf("unrecognized model family %q", modelID)
	}
}

// buildToolRegistry wires the workspace and container-exec/dev-server tool
// groups (§4.3) against the workspace mounted into this container by the
// Task Orchestrator. Container-exec runs in-process since agentrun is
// already inside the target container — there is no further sandbox
// boundary to cross.
func buildToolRegistry(workspaceRoot string) *tools.Registry {
	r := tools.New()
	_ = r.Register(tools.NewReadFileSpec(workspaceRoot))
	_ = r.Register(tools.NewWriteFileSpec(workspaceRoot))
	_ = r.Register(tools.NewCreateDirectorySpec(workspaceRoot))
	_ = r.Register(tools.NewListFilesSpec(workspaceRoot))
	_ = r.Register(tools.NewDeleteFileSpec(workspaceRoot))
	_ = r.Register(tools.NewGrepSpec(workspaceRoot))

	executor := tools.NewContainerExecutor(shellExec)
	_ = r.Register(tools.NewExecCommandSpec(executor, workspaceRoot))
	_ = r.Register(tools.NewStartDevServerSpec(executor))
	_ = r.Register(tools.NewDevServerStatusSpec(executor))
	_ = r.Register(tools.NewStopDevServerSpec(executor, 10*time.Second))
	_ = r.Register(tools.NewWorkflowDecisionSpec([]string{
		"continue", "end",
		"back_to_boss", "back_to_pm", "back_to_architect", "back_to_engineer",
		"continue_development",
	}))
	return r
}

// shellExec runs cmd directly on the container's own filesystem and
// captures its combined output. agentrun is already running inside the
// target container (it is the container's entrypoint), so there is no
// further sandbox boundary to cross the way there is for the dev
// container the Task Orchestrator supervises from outside.
func shellExec(ctx context.Context, cmd []string) (int, io.Reader, error) {
	if len(cmd) == 0 {
		return 0, bytes.NewReader(nil), fmt.Errorf("empty command")
	}
	c := exec.CommandContext(ctx, cmd[0], cmd[1:]...)
	var buf bytes.Buffer
	c.Stdout = &buf
	c.Stderr = &buf
	err := c.Run()
	if err == nil {
		return 0, bytes.NewReader(buf.Bytes()), nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), bytes.NewReader(buf.Bytes()), nil
	}
	return -1, bytes.NewReader(buf.Bytes()), err
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
