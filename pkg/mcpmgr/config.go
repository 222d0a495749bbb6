package mcpmgr

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// RPCDirection represents the direction of an observed JSON-RPC message.
type RPCDirection string

const (
	RPCDirectionSend    RPCDirection = "send"
	RPCDirectionReceive RPCDirection = "receive"
)

// RPCLogEvent encapsulates JSON-RPC traffic for custom logging.
type RPCLogEvent struct {
	Direction RPCDirection
	Message   []byte
	ServerID  string
}

// RPCLogger is invoked for each JSON-RPC message when logging is enabled.
type RPCLogger func(RPCLogEvent)

// HTTPAuthProvider dynamically supplies an Authorization header (for example,
// "Bearer <token>") for outbound HTTP requests initiated by the manager.
type HTTPAuthProvider func(context.Context) (string, error)

// BaseServerConfig captures settings shared by all transport types.
type BaseServerConfig struct {
	ClientOptions mcp.ClientOptions
	// Timeout bounds the connection handshake. Zero uses ManagerOptions.ConnectTimeout.
	Timeout    time.Duration
	Version    string
	LogJSONRPC bool
	RPCLogger  RPCLogger
}

// StdioServerConfig describes an MCP server launched as a subprocess.
type StdioServerConfig struct {
	BaseServerConfig
	Command string
	Args    []string
	Env     map[string]string
}

func (c *StdioServerConfig) base() *BaseServerConfig { return &c.BaseServerConfig }

func (c *StdioServerConfig) validate(name string) error {
	if strings.TrimSpace(c.Command) == "" {
		return &ConfigError{Server: name, Reason: "command missing"}
	}
	return nil
}

// HTTPServerConfig describes an MCP server reachable over the Streamable HTTP
// or SSE transports.
type HTTPServerConfig struct {
	BaseServerConfig
	Endpoint   string
	Headers    http.Header
	HTTPClient *http.Client
	MaxRetries int

	AuthProvider HTTPAuthProvider
	SessionID    string
	PreferSSE    *bool
}

func (c *HTTPServerConfig) base() *BaseServerConfig { return &c.BaseServerConfig }

func (c *HTTPServerConfig) validate(name string) error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return &ConfigError{Server: name, Reason: "endpoint missing"}
	}
	return nil
}

// ServerConfig is implemented by all transport-specific configurations. It is
// everything needed to (re)start a named server without the caller supplying
// it again.
type ServerConfig interface {
	base() *BaseServerConfig
	validate(name string) error
}

// validateConfig reports a *ConfigError for nil or incomplete configurations.
func validateConfig(name string, cfg ServerConfig) error {
	if strings.TrimSpace(name) == "" {
		return &ConfigError{Server: name, Reason: "server name is required"}
	}
	if cfg == nil {
		return &ConfigError{Server: name, Reason: "missing configuration"}
	}
	return cfg.validate(name)
}

const (
	// DefaultToolCallTimeout applies to tool-list fetches and tool calls alike.
	DefaultToolCallTimeout = 30 * time.Second
	// DefaultStartupAttempts is the attempt ceiling for StartServer.
	DefaultStartupAttempts = 3
	// DefaultMaxRestarts bounds monitor-triggered restarts after a connection is lost.
	DefaultMaxRestarts = 5
	// DefaultBuiltinServer names the server that backs the HTTP fallback path.
	DefaultBuiltinServer = "salesboxai-builtin"
)

// ManagerOptions configures a Manager instance.
type ManagerOptions struct {
	// DefaultClientName overrides the client name advertised during
	// initialization. When empty, the server ID is used.
	DefaultClientName string
	// DefaultClientVersion controls the semantic version reported to servers.
	DefaultClientVersion string
	// ConnectTimeout is applied whenever a server configuration omits an
	// explicit handshake timeout.
	ConnectTimeout time.Duration
	// ToolCallTimeout bounds every tools/list and tools/call round trip.
	ToolCallTimeout time.Duration
	// DefaultClientOptions are merged into each server's BaseServerConfig
	// options prior to connection.
	DefaultClientOptions mcp.ClientOptions
	// DefaultLogJSONRPC routes JSON-RPC traffic for all servers to Logger at
	// debug level unless overridden per server.
	DefaultLogJSONRPC bool
	// RPCLogger provides a custom logger for JSON-RPC traffic; it takes
	// precedence over DefaultLogJSONRPC.
	RPCLogger RPCLogger
	// Backoff shapes the delay between restart attempts.
	Backoff Backoff
	// StartupAttempts caps the attempts made by StartServer, the first in
	// the foreground and the rest in the background.
	StartupAttempts int
	// MaxRestarts caps the restarts made after an established connection is lost.
	MaxRestarts int
	// BuiltinServer names the server whose configuration backs the HTTP
	// fallback adapter.
	BuiltinServer string
	// HTTPClient is used by the fallback adapter. Defaults to http.DefaultClient.
	HTTPClient *http.Client
	// Connector establishes connections. Defaults to the go-sdk connector.
	Connector Connector
	// Logger receives structured diagnostics.
	Logger *slog.Logger
	// AutoConnect starts every server passed to NewManager in the background.
	AutoConnect bool
}

func (o *ManagerOptions) normalized() ManagerOptions {
	if o == nil {
		o = &ManagerOptions{}
	}
	opts := *o
	if opts.DefaultClientVersion == "" {
		opts.DefaultClientVersion = "1.0.0"
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 30 * time.Second
	}
	if opts.ToolCallTimeout <= 0 {
		opts.ToolCallTimeout = DefaultToolCallTimeout
	}
	opts.Backoff = opts.Backoff.normalized()
	if opts.StartupAttempts <= 0 {
		opts.StartupAttempts = DefaultStartupAttempts
	}
	if opts.MaxRestarts <= 0 {
		opts.MaxRestarts = DefaultMaxRestarts
	}
	if opts.BuiltinServer == "" {
		opts.BuiltinServer = DefaultBuiltinServer
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return opts
}
