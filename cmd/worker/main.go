// Command worker dequeues tasks from the Background Worker Broker (C10) and
// drives each one through the Task Orchestrator (C8). Workers are stateless
// and horizontally scalable: any worker can pick up any task, since the
// Orchestrator itself carries no state across tasks.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	mongooptions "go.mongodb.org/mongo-driver/v2/mongo/options"
	"goa.design/clue/log"

	"github.com/mgx-platform/agentcore/internal/broker"
	"github.com/mgx-platform/agentcore/internal/session"
	sessioninmem "github.com/mgx-platform/agentcore/internal/session/inmem"
	sessionmongo "github.com/mgx-platform/agentcore/internal/session/mongo"
	sessionclients "github.com/mgx-platform/agentcore/internal/session/mongo/clients/mongo"
	"github.com/mgx-platform/agentcore/internal/store"
	storeinmem "github.com/mgx-platform/agentcore/internal/store/inmem"
	storemongo "github.com/mgx-platform/agentcore/internal/store/mongo"
	storeclients "github.com/mgx-platform/agentcore/internal/store/mongo/clients/mongo"
	"github.com/mgx-platform/agentcore/internal/taskorch"
	"github.com/mgx-platform/agentcore/internal/telemetry"
)

func main() {
	var (
		redisAddrF = flag.String("redis-addr", envOr("REDIS_ADDR", "localhost:6379"), "Redis address backing the task broker")
		imageF     = flag.String("image", envOr("AGENT_IMAGE", "agentcore/runtime:latest"), "Agent container image")
		storeConnF = flag.String("store-conn", os.Getenv("STORE_CONN"), "Mongo connection string shared with the Gateway; empty means in-memory (single-process development only)")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	logger := telemetry.NewClueLogger()

	b, err := broker.New(broker.Options{
		Redis: redis.NewClient(&redis.Options{Addr: *redisAddrF}),
		Log:   logger,
	})
	if err != nil {
		log.Fatal(ctx, err)
	}

	// The session store backing stop requests and the event store the
	// monitor loop polls for finish events must be the same ones the
	// Gateway and the agent containers write to, so both default to the
	// shared Mongo deployment; a worker run without -store-conn falls back
	// to its own in-memory view, which only works when everything shares
	// one process.
	sessions, events, err := openStores(*storeConnF)
	if err != nil {
		log.Fatal(ctx, err)
	}

	orchestrator := taskorch.New(taskorch.NewDockerEngine(), events, taskorch.Config{Image: *imageF}, logger)

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Print(ctx, log.KV{K: "msg", V: "worker started"}, log.KV{K: "redis-addr", V: *redisAddrF})

	err = b.Consume(sigCtx, func(taskCtx context.Context, t broker.Task) error {
		runCtx, cancel := context.WithCancel(taskCtx)
		defer cancel()
		go watchStop(runCtx, cancel, sessions, t.RunID, logger)

		return orchestrator.Run(runCtx, taskorch.Task{
			SessionID:         t.SessionID,
			WorkspaceID:       t.WorkspaceID,
			Framework:         t.Framework,
			WorkspaceHostPath: t.WorkspaceHostPath,
			StoreConn:         t.StoreConn,
		})
	})
	if err != nil && sigCtx.Err() == nil {
		log.Fatal(ctx, err)
	}
}

// watchStop polls the run's StopRequested flag, set by the Gateway's stop
// endpoint (§4.9), and cancels cancel once observed. The Orchestrator's
// monitor loop treats context cancellation as the sole stop signal, so this
// is the only bridge needed between the cross-process stop request and the
// task-scoped context the Orchestrator actually watches.
func watchStop(ctx context.Context, cancel context.CancelFunc, sessions session.Store, runID string, log telemetry.Logger) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run, err := sessions.GetRun(ctx, runID)
			if err != nil {
				continue
			}
			if run.StopRequested {
				log.Info(ctx, "worker: stop requested", "run_id", runID)
				cancel()
				return
			}
		}
	}
}

func openStores(storeConn string) (session.Store, store.EventStore, error) {
	if storeConn == "" {
		return sessioninmem.New(), storeinmem.New(), nil
	}

	mc, err := mongodriver.Connect(mongooptions.Client().ApplyURI(storeConn))
	if err != nil {
		return nil, nil, fmt.Errorf("connect mongo: %w", err)
	}
	database := envOr("STORE_DATABASE", "agentcore")
	eventStore, err := storemongo.NewStoreFromOptions(storeclients.Options{
		Client:   mc,
		Database: database,
	})
	if err != nil {
		return nil, nil, err
	}
	sessionStore, err := sessionmongo.NewStoreFromOptions(sessionclients.Options{
		Client:   mc,
		Database: database,
	})
	if err != nil {
		return nil, nil, err
	}
	return sessionStore, eventStore, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
