// Package ssegateway implements the SSE Gateway: the HTTP surface described
// by spec.md §4.9/§6 — initiate, resume, and stop endpoints that translate
// stored events to the SSE wire format. Routing is hand-registered against
// the standard library's method-and-pattern http.ServeMux, grounded on
// kadirpekel-hector/pkg/server/http.go's setupRoutes; the SSE frame writer
// and bearer/JWKS auth are grounded on kadirpekel-hector's a2a server and
// auth packages respectively (see auth.go, sse.go).
package ssegateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/mgx-platform/agentcore/internal/broker"
	"github.com/mgx-platform/agentcore/internal/session"
	"github.com/mgx-platform/agentcore/internal/store"
	"github.com/mgx-platform/agentcore/internal/telemetry"
)

// Config holds deployment-specific Gateway settings, matching the defaults
// named in spec.md §4.9/§5.
type Config struct {
	PollInterval    time.Duration
	PollBatchSize   int
	IdleTimeout     time.Duration
	WorkspaceRoot   string // host path agent containers mount under
	StoreConn       string // opaque connection string handed to containers
	JWKSURL         string
	JWTIssuer       string
}

const (
	DefaultPollInterval  = 500 * time.Millisecond
	DefaultPollBatchSize = 100
	DefaultIdleTimeout   = 300 * time.Second
)

func (c Config) pollInterval() time.Duration {
	if c.PollInterval > 0 {
		return c.PollInterval
	}
	return DefaultPollInterval
}

func (c Config) pollBatchSize() int {
	if c.PollBatchSize > 0 {
		return c.PollBatchSize
	}
	return DefaultPollBatchSize
}

func (c Config) idleTimeout() time.Duration {
	if c.IdleTimeout > 0 {
		return c.IdleTimeout
	}
	return DefaultIdleTimeout
}

// TaskEnqueuer is the producer half of the Background Worker Broker the
// Gateway needs; satisfied by *broker.Broker.
type TaskEnqueuer interface {
	Enqueue(ctx context.Context, task broker.Task) (string, error)
}

// Gateway wires the Session Registry, the Event/Message Stores, and the
// Background Worker Broker behind the hand-specified HTTP surface. It never
// drives a graph itself — that is the Streaming Runtime's job inside the
// spawned container — it only persists the triggering user turn, enqueues
// work, and streams back whatever the runtime appends.
type Gateway struct {
	Sessions session.Store
	Events   store.EventStore
	Messages store.MessageStore
	Broker   TaskEnqueuer
	Config   Config
	Log      telemetry.Logger

	validator *JWKSValidator
}

// New constructs a Gateway. validator may be nil only in tests that exercise
// the protocol-peer (X-API-Key) path exclusively; production wiring always
// supplies one via NewJWKSValidator.
func New(sessions session.Store, events store.EventStore, messages store.MessageStore, b TaskEnqueuer, cfg Config, validator *JWKSValidator, log telemetry.Logger) *Gateway {
	if log == nil {
		log = telemetry.NoopLogger{}
	}
	return &Gateway{Sessions: sessions, Events: events, Messages: messages, Broker: b, Config: cfg, Log: log, validator: validator}
}

// Routes builds the HTTP handler. Patterns use Go's method-and-wildcard
// ServeMux syntax (method SP pattern), mirroring the teacher's plain
// http.ServeMux routing rather than a generated or third-party router —
// there is no design-time route DSL here to generate from, and the routes
// are few and fixed.
func (g *Gateway) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /sessions/{sid}/generate", g.handleGenerate)
	mux.HandleFunc("GET /sessions/{sid}/stream-continue", g.handleStreamContinue)
	mux.HandleFunc("POST /sessions/{sid}/stop", g.handleStop)

	mux.HandleFunc("POST /api/sessions", g.handleCreateSession)
	mux.HandleFunc("GET /api/sessions", g.handleListSessions)
	mux.HandleFunc("GET /api/sessions/{id}", g.handleGetSession)
	mux.HandleFunc("POST /api/apps/{sid}/agent/generate", g.handleGenerate)
	mux.HandleFunc("GET /api/apps/{sid}/agent/stream-continue", g.handleStreamContinue)
	mux.HandleFunc("POST /api/apps/{sid}/agent/stop", g.handleStop)
	mux.HandleFunc("GET /api/apps/{sid}/agent/history", g.handleHistory)

	return mux
}

func sessionIDParam(r *http.Request) string {
	if sid := r.PathValue("sid"); sid != "" {
		return sid
	}
	return r.PathValue("id")
}

// requireSession loads the session and enforces creator-ownership or
// protocol-peer authorization per spec.md §4.9. Responses are written
// directly and the second return value is false if the handler must stop.
func (g *Gateway) requireSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sid := sessionIDParam(r)
	if sid == "" {
		http.Error(w, "session id is required", http.StatusBadRequest)
		return nil, false
	}

	sess, err := g.Sessions.GetSession(r.Context(), sid)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			http.Error(w, "session not found", http.StatusNotFound)
		} else {
			http.Error(w, "session lookup failed", http.StatusInternalServerError)
		}
		return nil, false
	}

	id, err := g.authenticate(r, sid)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return nil, false
	}
	if !id.protocolPeer && sess.CreatorID != "" && id.userID != sess.CreatorID {
		http.Error(w, "forbidden", http.StatusForbidden)
		return nil, false
	}
	return sess, true
}

type createSessionRequest struct {
	Name      string           `json:"name"`
	Framework session.Framework `json:"framework"`
}

func (g *Gateway) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	authz := r.Header.Get("Authorization")
	if authz == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	token, ok := bearerToken(authz)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	userID, err := g.validator.Validate(r.Context(), token)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	if req.Framework != session.FrameworkNextJS && req.Framework != session.FrameworkFastAPIVite {
		http.Error(w, "unsupported framework", http.StatusBadRequest)
		return
	}

	sess := &session.Session{
		ID:          uuid.NewString(),
		DisplayName: req.Name,
		Framework:   req.Framework,
		WorkspaceID: uuid.NewString(),
		CreatorID:   userID,
	}
	if err := g.Sessions.CreateSession(r.Context(), sess); err != nil {
		http.Error(w, "failed to create session", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (g *Gateway) handleListSessions(w http.ResponseWriter, r *http.Request) {
	authz := r.Header.Get("Authorization")
	token, ok := bearerToken(authz)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	userID, err := g.validator.Validate(r.Context(), token)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	sessions, err := g.Sessions.ListSessions(r.Context(), userID)
	if err != nil {
		http.Error(w, "failed to list sessions", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (g *Gateway) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := g.requireSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

type generateRequest struct {
	Prompt string `json:"prompt"`
}

// handleGenerate implements spec.md §4.9's generate endpoint: synchronously
// append the user message, enqueue an execution task carrying no prompt
// (the container rediscovers it from the Store), then open an SSE response
// polling from "now".
func (g *Gateway) handleGenerate(w http.ResponseWriter, r *http.Request) {
	sess, ok := g.requireSession(w, r)
	if !ok {
		return
	}

	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Prompt == "" {
		http.Error(w, "prompt is required", http.StatusBadRequest)
		return
	}

	watermark := store.Now()
	if _, err := g.Messages.AppendMessage(r.Context(), &store.Message{
		SessionID: sess.ID,
		Role:      store.RoleUser,
		Content:   req.Prompt,
		Timestamp: watermark,
	}); err != nil {
		g.Log.Error(r.Context(), "ssegateway: failed to append user message", "session_id", sess.ID, "err", err)
		http.Error(w, "failed to record prompt", http.StatusInternalServerError)
		return
	}

	runID := uuid.NewString()
	if err := g.Sessions.UpsertRun(r.Context(), &session.Run{ID: runID, SessionID: sess.ID, Status: session.RunPending}); err != nil {
		g.Log.Error(r.Context(), "ssegateway: failed to record run", "session_id", sess.ID, "err", err)
	}

	task := broker.Task{
		RunID:             runID,
		SessionID:         sess.ID,
		WorkspaceID:       sess.WorkspaceID,
		Framework:         sess.Framework,
		WorkspaceHostPath: g.workspacePath(sess.WorkspaceID),
		StoreConn:         g.Config.StoreConn,
	}
	if _, err := g.Broker.Enqueue(r.Context(), task); err != nil {
		g.Log.Error(r.Context(), "ssegateway: failed to enqueue task", "session_id", sess.ID, "err", err)
		http.Error(w, "failed to enqueue task", http.StatusInternalServerError)
		return
	}

	g.stream(w, r, sess.ID, &watermark)
}

// handleStreamContinue implements spec.md §4.9's reconnect endpoint: poll
// events_since(sid, τ), where an absent since_timestamp streams from the
// beginning (τ treated as 0, resolving Open Question (b) in favor of full
// replay rather than erroring on a missing watermark).
func (g *Gateway) handleStreamContinue(w http.ResponseWriter, r *http.Request) {
	sess, ok := g.requireSession(w, r)
	if !ok {
		return
	}

	var since *float64
	if raw := r.URL.Query().Get("since_timestamp"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			http.Error(w, "invalid since_timestamp", http.StatusBadRequest)
			return
		}
		since = &v
	} else {
		zero := 0.0
		since = &zero
	}

	g.stream(w, r, sess.ID, since)
}

// handleStop implements spec.md §4.9's control endpoint: persist a stop
// marker for the session's active run. The response is acknowledgement
// only — the actual cancellation and the resulting finish{status=stopped}
// happen asynchronously in whichever worker process is running the task.
func (g *Gateway) handleStop(w http.ResponseWriter, r *http.Request) {
	sess, ok := g.requireSession(w, r)
	if !ok {
		return
	}

	run, err := g.activeRun(r.Context(), sess.ID)
	if err != nil {
		http.Error(w, "failed to look up active run", http.StatusInternalServerError)
		return
	}
	if run != nil {
		if err := g.Sessions.RequestStop(r.Context(), run.ID); err != nil {
			g.Log.Error(r.Context(), "ssegateway: failed to request stop", "session_id", sess.ID, "run_id", run.ID, "err", err)
			http.Error(w, "failed to request stop", http.StatusInternalServerError)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (g *Gateway) activeRun(ctx context.Context, sessionID string) (*session.Run, error) {
	runs, err := g.Sessions.ListRunsBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	for _, run := range runs {
		if run.Status == session.RunPending || run.Status == session.RunRunning {
			return run, nil
		}
	}
	return nil, nil
}

func (g *Gateway) handleHistory(w http.ResponseWriter, r *http.Request) {
	sess, ok := g.requireSession(w, r)
	if !ok {
		return
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}
	// Descending selects the most recent limit messages; the response
	// contract is ascending by timestamp, so reverse after truncation.
	msgs, err := g.Messages.ListMessages(r.Context(), sess.ID, limit, store.Descending)
	if err != nil {
		http.Error(w, "failed to list messages", http.StatusInternalServerError)
		return
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (g *Gateway) workspacePath(workspaceID string) string {
	if g.Config.WorkspaceRoot == "" {
		return workspaceID
	}
	return fmt.Sprintf("%s/%s", g.Config.WorkspaceRoot, workspaceID)
}

func bearerToken(authz string) (string, bool) {
	const prefix = "Bearer "
	if len(authz) <= len(prefix) || authz[:len(prefix)] != prefix {
		return "", false
	}
	return authz[len(prefix):], true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
