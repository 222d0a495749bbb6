package mcpgateway

import (
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/auth"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Options configure a Gateway instance.
type Options struct {
	// Implementation identifies the gateway's MCP server implementation metadata.
	Implementation *mcp.Implementation
	// Addr controls the listen address used by ListenAndServe. Defaults to ":8700".
	Addr string
	// Path mounts the Streamable handler. Defaults to "/mcp".
	Path string
	// APIPath prefixes the JSON command API. Defaults to "/api".
	APIPath string
	// AllowedOrigins lists the origins permitted by CORS. Empty allows any
	// origin.
	AllowedOrigins []string
	// ConfigPath locates the server document (mcp_config.json) behind the
	// config and activate/deactivate routes. When empty those routes answer
	// 404 and activation falls back to configurations already known to the
	// manager.
	ConfigPath string
	// KeepServers are never deactivated when the server document is
	// reconciled, typically the built-in server.
	KeepServers []string
	// Streamable tweaks the Streamable HTTP handler behavior passed to
	// mcp.NewStreamableHTTPHandler.
	Streamable mcp.StreamableHTTPOptions
	// TokenVerifier enables bearer authentication on the MCP endpoint and
	// the command API.
	TokenVerifier auth.TokenVerifier
	// TokenOptions configures the bearer middleware. It requires TokenVerifier.
	TokenOptions *auth.RequireBearerTokenOptions
	// Logger receives structured diagnostics.
	Logger *slog.Logger
	// SyncTimeout bounds how long a tool mirror synchronization may take.
	SyncTimeout time.Duration
}

func (o *Options) withDefaults() Options {
	if o == nil {
		o = &Options{}
	}
	opts := *o
	if opts.Implementation == nil {
		opts.Implementation = &mcp.Implementation{
			Name:    "mcp-router",
			Title:   "MCP Tool Router",
			Version: "1.0.0",
		}
	} else {
		impl := *opts.Implementation
		opts.Implementation = &impl
	}
	if opts.Addr == "" {
		opts.Addr = ":8700"
	}
	if opts.Path == "" {
		opts.Path = "/mcp"
	}
	if opts.APIPath == "" {
		opts.APIPath = "/api"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.SyncTimeout <= 0 {
		opts.SyncTimeout = 30 * time.Second
	}
	return opts
}
