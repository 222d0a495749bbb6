package mcpmgr

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Connection is a live MCP client session as seen by the manager.
type Connection interface {
	// ListTools returns every tool the server advertises, following cursors.
	ListTools(ctx context.Context) ([]*mcp.Tool, error)
	// CallTool invokes a tool by its server-local name.
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
	// Wait blocks until the session ends.
	Wait() error
	// Close terminates the session and releases its transport.
	Close() error
}

// Connector establishes connections for server configurations. Connect
// returns only after the MCP initialize handshake completed.
type Connector interface {
	Connect(ctx context.Context, name string, cfg ServerConfig) (Connection, error)
}

// ConnectorFunc adapts a function to the Connector interface.
type ConnectorFunc func(ctx context.Context, name string, cfg ServerConfig) (Connection, error)

// Connect calls f.
func (f ConnectorFunc) Connect(ctx context.Context, name string, cfg ServerConfig) (Connection, error) {
	return f(ctx, name, cfg)
}

// NewSessionConnection wraps an established go-sdk client session.
func NewSessionConnection(session *mcp.ClientSession) Connection {
	return &sessionConnection{session: session}
}

type sessionConnection struct {
	session *mcp.ClientSession
}

func (c *sessionConnection) ListTools(ctx context.Context) ([]*mcp.Tool, error) {
	var (
		tools  []*mcp.Tool
		cursor string
	)
	for {
		res, err := c.session.ListTools(ctx, &mcp.ListToolsParams{Cursor: cursor})
		if err != nil {
			if isMethodUnavailableError(err, "tools/list") {
				return []*mcp.Tool{}, nil
			}
			return nil, err
		}
		tools = append(tools, res.Tools...)
		if res.NextCursor == "" || res.NextCursor == cursor {
			break
		}
		cursor = res.NextCursor
	}
	if tools == nil {
		tools = []*mcp.Tool{}
	}
	return tools, nil
}

func (c *sessionConnection) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	if args == nil {
		args = map[string]any{}
	}
	return c.session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
}

func (c *sessionConnection) Wait() error  { return c.session.Wait() }
func (c *sessionConnection) Close() error { return c.session.Close() }

// sdkConnector connects over stdio, Streamable HTTP or SSE using the go-sdk.
// Tool list change notifications are left to the caller's handlers; cached
// tool lists live until the server leaves the registry.
type sdkConnector struct {
	opts ManagerOptions
}

func newSDKConnector(opts ManagerOptions) *sdkConnector {
	return &sdkConnector{opts: opts}
}

func (c *sdkConnector) Connect(ctx context.Context, name string, cfg ServerConfig) (Connection, error) {
	if err := validateConfig(name, cfg); err != nil {
		return nil, err
	}
	base := cfg.base()
	timeout := base.Timeout
	if timeout <= 0 {
		timeout = c.opts.ConnectTimeout
	}
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	impl := &mcp.Implementation{Name: c.clientName(name), Version: c.clientVersion(base)}
	clientOpts := c.composeClientOptions(base)
	logger := c.resolveLogger(base)

	attempt := func(ctx context.Context, transport mcp.Transport) (*mcp.ClientSession, error) {
		client := mcp.NewClient(impl, &clientOpts)
		wrapped := transport
		if logger != nil {
			wrapped = &loggingTransport{serverID: name, delegate: transport, logger: logger}
		}
		return client.Connect(ctx, wrapped, nil)
	}

	switch typed := cfg.(type) {
	case *StdioServerConfig:
		session, err := attempt(connectCtx, buildStdioTransport(typed))
		if err != nil {
			return nil, fmt.Errorf("mcpmgr: connect %q: %w", name, err)
		}
		return NewSessionConnection(session), nil
	case *HTTPServerConfig:
		session, err := c.connectHTTP(connectCtx, typed, attempt)
		if err != nil {
			return nil, fmt.Errorf("mcpmgr: connect %q: %w", name, err)
		}
		return NewSessionConnection(session), nil
	default:
		return nil, &ConfigError{Server: name, Reason: fmt.Sprintf("unsupported config type %T", cfg)}
	}
}

// connectHTTP tries Streamable HTTP first and falls back to SSE, unless the
// endpoint looks like an SSE endpoint.
func (c *sdkConnector) connectHTTP(
	ctx context.Context,
	cfg *HTTPServerConfig,
	attempt func(context.Context, mcp.Transport) (*mcp.ClientSession, error),
) (*mcp.ClientSession, error) {
	tracker := newSessionIDTracker(cfg.SessionID)
	httpClient := decorateHTTPClient(cfg.HTTPClient, cfg.Headers, tracker, cfg.AuthProvider)

	var streamErr error
	if !shouldPreferSSE(cfg) {
		session, err := attempt(ctx, &mcp.StreamableClientTransport{
			Endpoint:   cfg.Endpoint,
			HTTPClient: httpClient,
			MaxRetries: cfg.MaxRetries,
		})
		if err == nil {
			tracker.Set(session.ID())
			return session, nil
		}
		streamErr = err
	}
	session, err := attempt(ctx, &mcp.SSEClientTransport{Endpoint: cfg.Endpoint, HTTPClient: httpClient})
	if err != nil {
		if streamErr != nil {
			return nil, fmt.Errorf("streamable error: %v; sse error: %w", streamErr, err)
		}
		return nil, err
	}
	tracker.Set(session.ID())
	return session, nil
}

func (c *sdkConnector) clientName(name string) string {
	if c.opts.DefaultClientName != "" {
		return c.opts.DefaultClientName
	}
	return name
}

func (c *sdkConnector) clientVersion(base *BaseServerConfig) string {
	if base.Version != "" {
		return base.Version
	}
	return c.opts.DefaultClientVersion
}

func (c *sdkConnector) composeClientOptions(base *BaseServerConfig) mcp.ClientOptions {
	opts := c.opts.DefaultClientOptions
	mergeClientOptions(&opts, &base.ClientOptions)
	return opts
}

func (c *sdkConnector) resolveLogger(base *BaseServerConfig) RPCLogger {
	if base.RPCLogger != nil {
		return base.RPCLogger
	}
	if c.opts.RPCLogger != nil {
		return c.opts.RPCLogger
	}
	if base.LogJSONRPC || c.opts.DefaultLogJSONRPC {
		return slogRPCLogger(c.opts.Logger)
	}
	return nil
}

func mergeClientOptions(dst, src *mcp.ClientOptions) {
	if src == nil {
		return
	}
	if src.CreateMessageHandler != nil {
		dst.CreateMessageHandler = src.CreateMessageHandler
	}
	if src.ElicitationHandler != nil {
		dst.ElicitationHandler = src.ElicitationHandler
	}
	if src.ToolListChangedHandler != nil {
		dst.ToolListChangedHandler = src.ToolListChangedHandler
	}
	if src.LoggingMessageHandler != nil {
		dst.LoggingMessageHandler = src.LoggingMessageHandler
	}
	if src.ProgressNotificationHandler != nil {
		dst.ProgressNotificationHandler = src.ProgressNotificationHandler
	}
	if src.KeepAlive != 0 {
		dst.KeepAlive = src.KeepAlive
	}
}
