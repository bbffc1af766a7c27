// Package httpapi implements the HTTP API gateway for Sanduku.
//
// Security:
//   - API key authentication on every /v1 request (constant-time comparison)
//   - Request body size limits (default 8 MB; context payloads are large)
//   - Strict session ownership: a session is only reachable through its ID
//   - All requests logged with correlation IDs
//   - TLS expected via reverse proxy (not handled here)
package httpapi

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/okapi"

	"github.com/jkaninda/sanduku/internal/llm"
	"github.com/jkaninda/sanduku/internal/observability"
	"github.com/jkaninda/sanduku/internal/repl"
	"github.com/jkaninda/sanduku/internal/storage"
	"github.com/jkaninda/sanduku/internal/tools/execute"
)

const defaultMaxRequestSize = 8 << 20 // 8 MB

// ErrorBody is the standard error response used in OpenAPI documentation.
type ErrorBody struct {
	Error string `json:"error"`
}

// Config configures the HTTP API gateway.
type Config struct {
	ListenAddr     string            // e.g., ":8080"
	EnableDocs     bool
	APIKeys        map[string]string // API key → user ID mapping. Keys from env.
	MaxRequestSize int64             // Maximum request body in bytes. 0 = 8 MB default.

	// Observability
	MetricsRegistry *prometheus.Registry            // Custom Prometheus registry for /metrics.
	MetricsPath     string                          // Path for metrics endpoint. Default: "/metrics".
	Metrics         *observability.MetricsCollector // Metrics collector for HTTP middleware.
	Tracer          trace.Tracer                    // OTel tracer for HTTP middleware.
	ReadyCheck      func(ctx context.Context) error // nil = always ready.
}

// Gateway is the HTTP API gateway. It owns the mapping from public session
// IDs to dependency bundles; the tool owns the sandbox sessions themselves.
type Gateway struct {
	config   Config
	tool     *execute.Tool
	defaults repl.Config
	provider llm.Provider         // nil = llm_query disabled.
	history  storage.ExecutionStore // nil = history endpoint disabled.
	logger   *slog.Logger
	server   *http.Server

	runsMu sync.RWMutex
	runs   map[string]*execute.Deps // session ID → dependency bundle.

	// Extra handlers mounted on the HTTP mux (e.g., WebSocket REPL endpoint).
	extraRoutes []extraRoute

	okapi *okapi.Okapi
	group *okapi.Group
}

// extraRoute stores an additional handler to be mounted on the HTTP mux.
type extraRoute struct {
	pattern string
	handler http.Handler
}

// NewGateway creates an HTTP API gateway. defaults bounds every session
// created through the API unless the request overrides a limit.
func NewGateway(cfg Config, tool *execute.Tool, defaults repl.Config, logger *slog.Logger) *Gateway {
	maxBody := cfg.MaxRequestSize
	if maxBody <= 0 {
		maxBody = defaultMaxRequestSize
	}
	return &Gateway{
		config:   cfg,
		tool:     tool,
		defaults: defaults,
		logger:   logger,
		runs:     make(map[string]*execute.Deps),
		okapi:    okapi.New(okapi.WithMaxMultipartMemory(maxBody)),
	}
}

// WithDelegate enables llm_query inside sessions created through the API.
func (g *Gateway) WithDelegate(provider llm.Provider) *Gateway {
	g.provider = provider
	return g
}

// WithHistory enables the session history endpoint.
func (g *Gateway) WithHistory(store storage.ExecutionStore) *Gateway {
	g.history = store
	return g
}

// WithHandler mounts an additional handler on the HTTP mux at the given
// pattern. Useful for adding the WebSocket REPL endpoint alongside the API.
func (g *Gateway) WithHandler(pattern string, handler http.Handler) *Gateway {
	g.extraRoutes = append(g.extraRoutes, extraRoute{pattern: pattern, handler: handler})
	return g
}

func (g *Gateway) WithOpenAPIDocs() *Gateway {
	g.okapi.WithOpenAPIDocs(
		okapi.OpenAPI{
			Title:   "Sanduku",
			Version: "v0.0.1",
		},
	)
	return g
}

// Start launches the HTTP server and blocks until it exits or ctx is canceled.
func (g *Gateway) Start(ctx context.Context) error {
	// Authenticated /v1 group, instrumented when observability is enabled.
	middlewares := []okapi.Middleware{g.authenticate}
	if g.config.Metrics != nil || g.config.Tracer != nil {
		middlewares = append([]okapi.Middleware{
			observability.MetricsMiddleware(g.config.Metrics, g.config.Tracer),
		}, middlewares...)
	}
	g.group = g.okapi.Group("/v1", middlewares...)

	g.group.Post("/sessions", g.handleSessionCreate,
		okapi.DocSummary("Create a sandbox session bound to an analysis context"),
		okapi.DocTags("Sessions"),
		okapi.DocRequestBody(SessionCreateRequest{}),
		okapi.DocResponse(http.StatusCreated, SessionCreateResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
	)
	g.group.Post("/sessions/{id}/execute", g.handleExecute,
		okapi.DocSummary("Execute code in a session"),
		okapi.DocTags("Sessions"),
		okapi.DocPathParam("id", "string", "Session ID (UUID)"),
		okapi.DocRequestBody(ExecuteRequest{}),
		okapi.DocResponse(ExecuteResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Get("/sessions/{id}/history", g.handleHistory,
		okapi.DocSummary("List past executions of a session, newest first"),
		okapi.DocTags("Sessions"),
		okapi.DocPathParam("id", "string", "Session ID (UUID)"),
		okapi.DocResponse([]HistoryEntry{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Delete("/sessions/{id}", g.handleSessionDelete,
		okapi.DocSummary("Tear down a session and delete its scratch directory"),
		okapi.DocTags("Sessions"),
		okapi.DocPathParam("id", "string", "Session ID (UUID)"),
		okapi.DocResponse(map[string]string{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Get("/healthz", g.handleHealth,
		okapi.DocSummary("Authenticated health check"),
		okapi.DocTags("Health"),
		okapi.DocResponse(HealthResponse{}),
	)

	// Extra handlers (e.g., WebSocket REPL endpoint).
	for _, er := range g.extraRoutes {
		g.okapi.HandleStd("GET", er.pattern, er.handler.ServeHTTP)
	}

	// Observability endpoints (unauthenticated).
	g.okapi.Get("/healthz", g.handleLiveness)
	g.okapi.Get("/readyz", g.handleReadiness)

	if g.config.MetricsRegistry != nil {
		path := g.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		g.okapi.HandleStd("GET", path, promhttp.HandlerFor(g.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if g.config.EnableDocs {
		g.WithOpenAPIDocs()
	}

	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("http api gateway starting", slog.String("addr", g.config.ListenAddr))
	return g.okapi.StartServer(g.server)
}

// Stop gracefully shuts down the HTTP server. Sessions survive a restart
// request only in history; their in-memory state is torn down by the caller
// via the registry, not here.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("http api gateway stopping")
	return g.okapi.Shutdown(g.server)
}

// --- Handlers ---

// SessionCreateRequest is the JSON body for POST /v1/sessions.
// Exactly one of context or context_data must be provided.
type SessionCreateRequest struct {
	Context             string  `json:"context,omitempty"`      // Plain-text analysis payload.
	ContextData         any     `json:"context_data,omitempty"` // Structured analysis payload. Takes precedence.
	TimeoutSeconds      float64 `json:"timeout_seconds,omitempty"`
	TruncateOutputChars int     `json:"truncate_output_chars,omitempty"`
	MaxVarDisplayChars  int     `json:"max_var_display_chars,omitempty"`
}

// SessionCreateResponse is the JSON response for POST /v1/sessions.
type SessionCreateResponse struct {
	SessionID string `json:"session_id"`
}

func (g *Gateway) handleSessionCreate(c *okapi.Context) error {
	userID := c.GetString("userID")

	var req SessionCreateRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.Context == "" && req.ContextData == nil {
		return c.AbortBadRequest("context or context_data is required")
	}

	cfg := g.defaults
	if req.TimeoutSeconds > 0 {
		cfg.Timeout = time.Duration(req.TimeoutSeconds * float64(time.Second))
	}
	if req.TruncateOutputChars > 0 {
		cfg.TruncateOutputChars = req.TruncateOutputChars
	}
	if req.MaxVarDisplayChars > 0 {
		cfg.MaxVarDisplayChars = req.MaxVarDisplayChars
	}

	deps, err := execute.NewDeps(execute.Deps{
		ContextText: req.Context,
		ContextData: req.ContextData,
		Config:      cfg,
		Provider:    g.provider,
	})
	if err != nil {
		return c.AbortBadRequest(err.Error())
	}

	g.runsMu.Lock()
	g.runs[deps.ID] = deps
	g.runsMu.Unlock()

	g.logger.Info("session created",
		slog.String("user_id", userID),
		slog.String("session_id", deps.ID),
	)

	return c.JSON(http.StatusCreated, SessionCreateResponse{SessionID: deps.ID})
}

// ExecuteRequest is the JSON body for POST /v1/sessions/{id}/execute.
type ExecuteRequest struct {
	Code string `json:"code"`
}

// ExecuteResponse is the JSON response for POST /v1/sessions/{id}/execute.
// Output is always model-readable text; evaluation failures and timeouts
// are reported inside it, not as HTTP errors.
type ExecuteResponse struct {
	Output        string `json:"output"`
	CorrelationID string `json:"correlation_id"`
}

func (g *Gateway) handleExecute(c *okapi.Context) error {
	deps := g.lookup(c.Param("id"))
	if deps == nil {
		return c.JSON(http.StatusNotFound, okapi.M{"error": "session not found"})
	}

	var req ExecuteRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("code is required")
	}
	if req.Code == "" {
		return c.AbortBadRequest("code is required")
	}

	correlationID := newCorrelationID()
	g.logger.Info("http execute",
		slog.String("session_id", deps.ID),
		slog.String("correlation_id", correlationID),
		slog.Int("code_chars", len(req.Code)),
	)

	output := g.tool.ExecuteCode(c.Context(), deps, req.Code)
	return c.OK(ExecuteResponse{
		Output:        output,
		CorrelationID: correlationID,
	})
}

// HistoryEntry is a single past execution in the history listing.
type HistoryEntry struct {
	ID         string    `json:"id"`
	Code       string    `json:"code"`
	Output     string    `json:"output"`
	Errors     string    `json:"errors,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	Success    bool      `json:"success"`
	Truncated  bool      `json:"truncated"`
	CreatedAt  time.Time `json:"created_at"`
}

func (g *Gateway) handleHistory(c *okapi.Context) error {
	if g.history == nil {
		return c.AbortServiceUnavailable("execution history not configured")
	}
	deps := g.lookup(c.Param("id"))
	if deps == nil {
		return c.JSON(http.StatusNotFound, okapi.M{"error": "session not found"})
	}

	records, err := g.history.ListBySession(c.Context(), deps.ID, 0)
	if err != nil {
		g.logger.Error("listing session history",
			slog.String("session_id", deps.ID),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("listing history failed")
	}

	resp := make([]HistoryEntry, len(records))
	for i, rec := range records {
		resp[i] = HistoryEntry{
			ID:         rec.ID.String(),
			Code:       rec.Code,
			Output:     rec.Output,
			Errors:     rec.Errors,
			DurationMs: rec.DurationMs,
			Success:    rec.Success,
			Truncated:  rec.Truncated,
			CreatedAt:  rec.CreatedAt,
		}
	}
	return c.OK(resp)
}

func (g *Gateway) handleSessionDelete(c *okapi.Context) error {
	id := c.Param("id")

	g.runsMu.Lock()
	deps, ok := g.runs[id]
	delete(g.runs, id)
	g.runsMu.Unlock()
	if !ok {
		return c.JSON(http.StatusNotFound, okapi.M{"error": "session not found"})
	}

	g.tool.Teardown(deps)
	g.logger.Info("session deleted", slog.String("session_id", id))
	return c.OK(map[string]string{"status": "deleted"})
}

func (g *Gateway) lookup(id string) *execute.Deps {
	g.runsMu.RLock()
	defer g.runsMu.RUnlock()
	return g.runs[id]
}

// HealthResponse is the JSON response for the health endpoints.
type HealthResponse struct {
	Status string `json:"status"`
}

func (g *Gateway) handleHealth(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleLiveness is the Kubernetes liveness probe.
func (g *Gateway) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleReadiness checks configured dependencies and returns 200 or 503.
func (g *Gateway) handleReadiness(c *okapi.Context) error {
	if g.config.ReadyCheck != nil {
		if err := g.config.ReadyCheck(c.Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, &HealthResponse{Status: "unavailable"})
		}
	}
	return c.OK(&HealthResponse{Status: "ok"})
}

// --- Authentication ---

// authenticate validates the API key and stores the mapped user ID on the
// request context.
func (g *Gateway) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		authHeader := c.Header("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.AbortUnauthorized("missing or invalid Authorization header")
		}
		apiKey := strings.TrimPrefix(authHeader, "Bearer ")

		userID := ""
		for key, uid := range g.config.APIKeys {
			if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
				userID = uid
			}
		}
		if userID == "" {
			return c.AbortUnauthorized("invalid API key")
		}
		c.Set("userID", userID)
		return next(c)
	}
}

func newCorrelationID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
