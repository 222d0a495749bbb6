package mcpgateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/auth"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/cors"

	"github.com/vikashloomba/mcp-tool-router-go/pkg/mcpmgr"
)

// Gateway exposes a Streamable MCP server that mirrors every dispatchable
// tool of an mcpmgr.Manager, plus a JSON command API, under one HTTP handler.
type Gateway struct {
	manager *mcpmgr.Manager
	opts    Options

	tools  *toolIndex
	events *broker

	server        *mcp.Server
	streamHandler *mcp.StreamableHTTPHandler
	mux           *http.ServeMux
	httpHandler   http.Handler

	serverMu     sync.Mutex
	httpServerMu sync.Mutex
	httpServer   *http.Server

	syncCh chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewGateway builds a Gateway, mirrors the manager's current tools, and
// re-syncs whenever servers connect, disconnect or are bulk-updated.
func NewGateway(mgr *mcpmgr.Manager, opts *Options) (*Gateway, error) {
	if mgr == nil {
		return nil, fmt.Errorf("mcpgateway: manager is required")
	}
	options := opts.withDefaults()
	if options.TokenOptions != nil && options.TokenVerifier == nil {
		return nil, fmt.Errorf("mcpgateway: TokenOptions requires TokenVerifier")
	}
	ctx, cancel := context.WithCancel(context.Background())
	g := &Gateway{
		manager: mgr,
		opts:    options,
		tools:   newToolIndex(),
		events:  newBroker(),
		syncCh:  make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	g.server = mcp.NewServer(options.Implementation, &mcp.ServerOptions{HasTools: true})
	g.streamHandler = mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return g.server
	}, &options.Streamable)
	g.mux = http.NewServeMux()
	g.mountRoutes()
	g.httpHandler = g.corsHandler(g.mux)

	mgr.OnServersUpdated(func() {
		g.requestSync()
		g.events.publish(EventServersUpdated)
	})
	mgr.OnConnectionChange(func(string, bool) { g.requestSync() })

	if err := g.SyncTools(ctx); err != nil {
		cancel()
		return nil, err
	}
	go g.syncLoop()
	return g, nil
}

// Handler exposes the HTTP handler serving the MCP endpoint and the API.
func (g *Gateway) Handler() http.Handler {
	return g.httpHandler
}

// Options returns the normalized options the gateway runs with.
func (g *Gateway) Options() Options {
	return g.opts
}

// ServeMux exposes the underlying mux so callers can add routes. Routes
// added here are served with the gateway's CORS policy but without its
// bearer authentication.
func (g *Gateway) ServeMux() *http.ServeMux {
	return g.mux
}

// ListenAndServe runs an HTTP server until the provided context is cancelled or
// the server stops.
func (g *Gateway) ListenAndServe(ctx context.Context) error {
	g.httpServerMu.Lock()
	if g.httpServer != nil {
		serv := g.httpServer
		g.httpServerMu.Unlock()
		return fmt.Errorf("mcpgateway: server already running on %s", serv.Addr)
	}
	srv := &http.Server{Addr: g.opts.Addr, Handler: g.Handler()}
	g.httpServer = srv
	g.httpServerMu.Unlock()
	defer func() {
		g.httpServerMu.Lock()
		if g.httpServer == srv {
			g.httpServer = nil
		}
		g.httpServerMu.Unlock()
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), g.opts.SyncTimeout)
		defer cancel()
		g.events.closeAll()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown stops the embedded HTTP server if it is running.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.httpServerMu.Lock()
	srv := g.httpServer
	g.httpServer = nil
	g.httpServerMu.Unlock()
	if srv == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	g.events.closeAll()
	return srv.Shutdown(ctx)
}

// Close stops the background sync loop and ends event streams. It does not
// close the manager.
func (g *Gateway) Close() {
	g.cancel()
	<-g.done
	g.events.closeAll()
}

// SyncTools mirrors the manager's current tool snapshot onto the gateway
// server.
func (g *Gateway) SyncTools(ctx context.Context) error {
	ctx, cancel := g.syncContext(ctx)
	defer cancel()
	snapshot := g.manager.ListAllTools(ctx)
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mcpgateway: sync tools: %w", err)
	}

	g.serverMu.Lock()
	defer g.serverMu.Unlock()
	removed, added := g.tools.Update(snapshot)
	if len(removed) > 0 {
		g.server.RemoveTools(removed...)
	}
	for _, reg := range added {
		g.server.AddTool(reg.Tool, g.makeToolHandler(reg.Tool.Name))
	}
	if len(removed) > 0 || len(added) > 0 {
		g.opts.Logger.Debug("tool mirror updated", "removed", len(removed), "added", len(added), "total", g.tools.Len())
	}
	return nil
}

// requestSync schedules a sync without blocking; bursts collapse into one.
func (g *Gateway) requestSync() {
	select {
	case g.syncCh <- struct{}{}:
	default:
	}
}

func (g *Gateway) syncLoop() {
	defer close(g.done)
	for {
		select {
		case <-g.ctx.Done():
			return
		case <-g.syncCh:
			if err := g.SyncTools(g.ctx); err != nil && g.ctx.Err() == nil {
				g.logError("sync tools", err)
			}
		}
	}
}

// makeToolHandler routes a downstream call through the manager's dispatcher
// under a fresh cancellation token that fires when the downstream request
// ends.
func (g *Gateway) makeToolHandler(name string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, err := decodeArguments(req)
		if err != nil {
			return toolError(err), nil
		}
		token := uuid.NewString()
		stop := context.AfterFunc(ctx, func() { _ = g.manager.CancelToolCall(token) })
		defer stop()

		res, err := g.manager.CallTool(ctx, name, args, token)
		if err != nil {
			g.opts.Logger.Warn("gateway tool call failed", slog.String("tool", name), slog.String("token", token), slog.Any("error", err))
			return toolError(err), nil
		}
		return res, nil
	}
}

func decodeArguments(req *mcp.CallToolRequest) (map[string]any, error) {
	if req == nil || req.Params == nil || len(req.Params.Arguments) == 0 {
		return nil, nil
	}
	var args map[string]any
	if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
		return nil, fmt.Errorf("mcpgateway: arguments must be a JSON object: %w", err)
	}
	return args, nil
}

func toolError(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
	}
}

func (g *Gateway) mountRoutes() {
	path := g.opts.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	stream := g.protect(g.streamHandler)
	g.mux.Handle(path, stream)
	if !strings.HasSuffix(path, "/") {
		g.mux.Handle(path+"/", stream)
	}
	g.mountAPI()
}

// protect applies bearer authentication when a verifier is configured.
func (g *Gateway) protect(h http.Handler) http.Handler {
	if g.opts.TokenVerifier == nil {
		return h
	}
	return auth.RequireBearerToken(g.opts.TokenVerifier, g.opts.TokenOptions)(h)
}

func (g *Gateway) corsHandler(h http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: g.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"Mcp-Session-Id"},
	}).Handler(h)
}

func (g *Gateway) syncContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	if g.opts.SyncTimeout <= 0 {
		return parent, func() {}
	}
	return context.WithTimeout(parent, g.opts.SyncTimeout)
}

func (g *Gateway) logError(msg string, err error, args ...any) {
	if err == nil {
		return
	}
	attrs := append([]any{"error", err}, args...)
	g.opts.Logger.Error(msg, attrs...)
}
