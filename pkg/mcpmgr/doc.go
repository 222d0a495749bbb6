// Package mcpmgr owns the Model Context Protocol (MCP) server connections of
// a process and routes tool calls to whichever server advertises the tool.
// It layers connection lifecycle tracking, restart with backoff, tool-list
// caching and cooperative cancellation on top of the
// modelcontextprotocol/go-sdk client, so callers never need to know which
// server exposes which tool.
//
// # Core entry points
//
//   - Manager is the long-lived orchestration type. Construct it with
//     NewManager, then call StartServer / StopServer / DeactivateServer, or
//     set ManagerOptions.AutoConnect to dial the initial set eagerly.
//   - ServerConfig (and the HTTPServerConfig / StdioServerConfig variants)
//     declare how each MCP server is launched or contacted.
//   - CallTool dispatches by tool name. A transport failure triggers one
//     reconnect and one retry; tools no server owns may be served by the
//     HTTP fallback adapter of the built-in server.
//   - CancelToolCall fires the cancellation token supplied to CallTool.
//
// Background restarts never revive a server that was deactivated. Stopped
// servers keep their configuration and come back with RestartActiveServers.
//
// When inspecting configurations returned from GetServerSummaries or
// GetServerConfig, use IsStdio/IsHTTP, AsStdio/AsHTTP or TransportOf to
// branch on the concrete transport type (avoid marshaling BaseServerConfig
// directly because it contains function fields).
package mcpmgr
