// Package mcpgateway is the HTTP command surface of the router. It mirrors
// every tool an mcpmgr.Manager can dispatch onto a single Streamable MCP
// server, routing each call through the manager's dispatcher, and serves a
// JSON API for server lifecycle, tool calls, cancellation and the server
// document, plus a server-sent event stream of lifecycle updates.
package mcpgateway
