package mcpgateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcp-tool-router-go/pkg/mcpmgr"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// newUpstream returns an MCP server exposing the named tools. Each tool
// answers with "<server>:<tool>:<json args>"; a tool named "slow" blocks
// until cancelled.
func newUpstream(server string, tools ...string) *mcp.Server {
	s := mcp.NewServer(&mcp.Implementation{Name: server, Version: "v0.0.1"}, nil)
	for _, name := range tools {
		name := name
		s.AddTool(&mcp.Tool{
			Name:        name,
			Description: name + " from " + server,
			InputSchema: &jsonschema.Schema{Type: "object"},
		}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if name == "slow" {
				<-ctx.Done()
				return nil, ctx.Err()
			}
			raw, err := json.Marshal(req.Params.Arguments)
			if err != nil {
				return nil, err
			}
			return &mcp.CallToolResult{Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("%s:%s:%s", server, name, raw)},
			}}, nil
		})
	}
	return s
}

// upstreams connects each server name to an in-memory session of its
// registered mcp.Server.
type upstreams struct {
	t  *testing.T
	mu sync.Mutex
	by map[string]*mcp.Server
}

func newUpstreams(t *testing.T) *upstreams {
	return &upstreams{t: t, by: make(map[string]*mcp.Server)}
}

func (u *upstreams) add(name string, tools ...string) *upstreams {
	u.mu.Lock()
	u.by[name] = newUpstream(name, tools...)
	u.mu.Unlock()
	return u
}

func (u *upstreams) Connect(ctx context.Context, name string, cfg mcpmgr.ServerConfig) (mcpmgr.Connection, error) {
	u.mu.Lock()
	server, ok := u.by[name]
	u.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("connection refused: no upstream %q", name)
	}
	clientTransport, serverTransport := mcp.NewInMemoryTransports()
	ss, err := server.Connect(ctx, serverTransport, nil)
	if err != nil {
		return nil, err
	}
	u.t.Cleanup(func() { _ = ss.Close() })
	client := mcp.NewClient(&mcp.Implementation{Name: "gateway-test", Version: "v0.0.1"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		return nil, err
	}
	return mcpmgr.NewSessionConnection(cs), nil
}

func newTestManager(t *testing.T, connector mcpmgr.Connector) *mcpmgr.Manager {
	t.Helper()
	m := mcpmgr.NewManager(nil, &mcpmgr.ManagerOptions{
		Connector:       connector,
		ToolCallTimeout: 5 * time.Second,
		Backoff:         mcpmgr.Backoff{Base: 5 * time.Millisecond, Max: 20 * time.Millisecond, Multiplier: 2},
		Logger:          quietLogger(),
	})
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func newTestGateway(t *testing.T, m *mcpmgr.Manager, opts *Options) *Gateway {
	t.Helper()
	if opts == nil {
		opts = &Options{}
	}
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}
	g, err := NewGateway(m, opts)
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	t.Cleanup(g.Close)
	return g
}

func stdioCfg() mcpmgr.ServerConfig {
	return &mcpmgr.StdioServerConfig{Command: "in-memory"}
}

func firstText(res *mcp.CallToolResult) string {
	if res == nil {
		return ""
	}
	for _, c := range res.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}
