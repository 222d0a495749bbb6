package mcpmgr

import "strings"

// Helpers for narrowing and inspecting ServerConfig values. Summaries, the
// fallback adapter and the gateway use them instead of type switches.

// ConfigTransport identifies the transport family used by a ServerConfig.
type ConfigTransport string

const (
	TransportStdio ConfigTransport = "stdio"
	TransportHTTP  ConfigTransport = "http"
)

// TransportOf returns the transport kind for a ServerConfig.
// Returns an empty string when the value is nil or an unknown implementation.
func TransportOf(cfg ServerConfig) ConfigTransport {
	switch cfg.(type) {
	case *StdioServerConfig:
		return TransportStdio
	case *HTTPServerConfig:
		return TransportHTTP
	default:
		return ""
	}
}

// IsStdio reports whether cfg is a *StdioServerConfig.
func IsStdio(cfg ServerConfig) bool {
	_, ok := cfg.(*StdioServerConfig)
	return ok
}

// IsHTTP reports whether cfg is a *HTTPServerConfig.
func IsHTTP(cfg ServerConfig) bool {
	_, ok := cfg.(*HTTPServerConfig)
	return ok
}

// AsStdio narrows cfg to *StdioServerConfig, returning (nil, false) when it
// does not match.
func AsStdio(cfg ServerConfig) (*StdioServerConfig, bool) {
	c, ok := cfg.(*StdioServerConfig)
	return c, ok
}

// AsHTTP narrows cfg to *HTTPServerConfig, returning (nil, false) when it
// does not match.
func AsHTTP(cfg ServerConfig) (*HTTPServerConfig, bool) {
	c, ok := cfg.(*HTTPServerConfig)
	return c, ok
}

// HeaderOf returns the first value of a configured request header for HTTP
// configs. Stdio configs never carry headers.
func HeaderOf(cfg ServerConfig, key string) string {
	c, ok := AsHTTP(cfg)
	if !ok || c == nil || c.Headers == nil {
		return ""
	}
	return strings.TrimSpace(c.Headers.Get(key))
}

// TargetOf renders what a config launches or dials: the command line for
// stdio servers, the endpoint for HTTP servers.
func TargetOf(cfg ServerConfig) string {
	if c, ok := AsStdio(cfg); ok && c != nil {
		return strings.TrimSpace(c.Command + " " + strings.Join(c.Args, " "))
	}
	if c, ok := AsHTTP(cfg); ok && c != nil {
		return c.Endpoint
	}
	return ""
}
