// Command gateway serves the SSE Gateway (C9): the HTTP surface clients use
// to start and stream agent runs. It owns no orchestration itself — every
// generate request it accepts is durably enqueued onto the Background
// Worker Broker (C10) for a worker process to pick up.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
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
	"github.com/mgx-platform/agentcore/internal/ssegateway"
	"github.com/mgx-platform/agentcore/internal/telemetry"
)

func main() {
	var (
		httpPortF  = flag.String("http-port", envOr("HTTP_PORT", "8080"), "HTTP port to listen on")
		redisAddrF = flag.String("redis-addr", envOr("REDIS_ADDR", "localhost:6379"), "Redis address backing the task broker")
		jwksURLF   = flag.String("jwks-url", os.Getenv("JWKS_URL"), "JWKS endpoint used to verify bearer tokens")
		issuerF    = flag.String("jwt-issuer", os.Getenv("JWT_ISSUER"), "Expected JWT issuer claim")
		workspaceF = flag.String("workspace-root", envOr("WORKSPACE_ROOT", "/var/lib/agentcore/workspaces"), "Host path agent workspaces are created under")
		storeConnF = flag.String("store-conn", os.Getenv("STORE_CONN"), "Connection string handed to agent containers for durable storage; empty means memory mode")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	logger := telemetry.NewClueLogger()

	if *jwksURLF == "" {
		log.Fatal(ctx, fmt.Errorf("-jwks-url (or JWKS_URL) is required"))
	}

	validator, err := ssegateway.NewJWKSValidator(ctx, *jwksURLF, *issuerF)
	if err != nil {
		log.Fatal(ctx, err)
	}

	b, err := broker.New(broker.Options{
		Redis: redis.NewClient(&redis.Options{Addr: *redisAddrF}),
		Log:   logger,
	})
	if err != nil {
		log.Fatal(ctx, err)
	}

	sessions, events, messages, err := openStores(ctx, *storeConnF)
	if err != nil {
		log.Fatal(ctx, err)
	}

	gw := ssegateway.New(sessions, events, messages, b, ssegateway.Config{
		WorkspaceRoot: *workspaceF,
		StoreConn:     *storeConnF,
	}, validator, logger)

	srv := &http.Server{
		Addr:              net.JoinHostPort("", *httpPortF),
		Handler:           gw.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		log.Print(ctx, log.KV{K: "msg", V: "gateway listening"}, log.KV{K: "http-port", V: *httpPortF})
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if err != nil && err != http.ErrServerClosed {
			log.Fatal(ctx, err)
		}
	case <-sigCtx.Done():
		log.Print(ctx, log.KV{K: "msg", V: "gateway shutting down"})
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Fatal(ctx, err)
		}
	}
}

// openStores picks the durable Mongo backends when a store connection is
// configured, matching what the spawned agent containers use in
// RUN_MODE=database; with no connection string everything stays in-memory,
// which only works for single-process development (the worker then cannot
// observe this Gateway's sessions or stop requests).
func openStores(ctx context.Context, storeConn string) (session.Store, store.EventStore, store.MessageStore, error) {
	if storeConn == "" {
		s := storeinmem.New()
		return sessioninmem.New(), s, s, nil
	}

	mc, err := mongodriver.Connect(mongooptions.Client().ApplyURI(storeConn))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect mongo: %w", err)
	}
	database := envOr("STORE_DATABASE", "agentcore")
	eventStore, err := storemongo.NewStoreFromOptions(storeclients.Options{
		Client:   mc,
		Database: database,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	sessionStore, err := sessionmongo.NewStoreFromOptions(sessionclients.Options{
		Client:   mc,
		Database: database,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	if err := eventStore.Ping(ctx); err != nil {
		return nil, nil, nil, fmt.Errorf("ping mongo: %w", err)
	}
	return sessionStore, eventStore, eventStore, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
