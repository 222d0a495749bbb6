package mcpmgr

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// fakeConn is an in-process Connection whose behavior is scripted per test.
type fakeConn struct {
	tools   []*mcp.Tool
	listErr error
	listFn  func(ctx context.Context) ([]*mcp.Tool, error)
	callFn  func(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)

	listCalls atomic.Int32
	calls     atomic.Int32
	closed    atomic.Bool

	once sync.Once
	done chan struct{}
}

func newFakeConn(toolNames ...string) *fakeConn {
	c := &fakeConn{done: make(chan struct{})}
	for _, name := range toolNames {
		c.tools = append(c.tools, &mcp.Tool{Name: name, Description: name + " tool"})
	}
	return c
}

func (c *fakeConn) ListTools(ctx context.Context) ([]*mcp.Tool, error) {
	c.listCalls.Add(1)
	if c.listFn != nil {
		return c.listFn(ctx)
	}
	if c.listErr != nil {
		return nil, c.listErr
	}
	return append([]*mcp.Tool(nil), c.tools...), nil
}

func (c *fakeConn) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	c.calls.Add(1)
	if c.callFn != nil {
		return c.callFn(ctx, name, args)
	}
	return echoResult(args), nil
}

func (c *fakeConn) Wait() error {
	<-c.done
	return nil
}

func (c *fakeConn) Close() error {
	c.closed.Store(true)
	c.drop()
	return nil
}

// drop ends the session without Close, as a crashed server would.
func (c *fakeConn) drop() { c.once.Do(func() { close(c.done) }) }

func echoResult(args map[string]any) *mcp.CallToolResult {
	b, _ := json.Marshal(args)
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(b)}}}
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if res == nil || len(res.Content) == 0 {
		t.Fatalf("empty tool result: %#v", res)
	}
	text, ok := res.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("expected text content, got %T", res.Content[0])
	}
	return text.Text
}

// fakeConnector hands out scripted connections per server name. The last
// step of a script repeats; an empty script refuses the connection.
type fakeConnector struct {
	mu       sync.Mutex
	scripts  map[string][]func() (Connection, error)
	attempts map[string]int
	configs  map[string]ServerConfig
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{
		scripts:  make(map[string][]func() (Connection, error)),
		attempts: make(map[string]int),
		configs:  make(map[string]ServerConfig),
	}
}

func (f *fakeConnector) script(name string, steps ...func() (Connection, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[name] = append(f.scripts[name], steps...)
}

func (f *fakeConnector) Connect(_ context.Context, name string, cfg ServerConfig) (Connection, error) {
	f.mu.Lock()
	f.attempts[name]++
	f.configs[name] = cfg
	steps := f.scripts[name]
	if len(steps) == 0 {
		f.mu.Unlock()
		return nil, errors.New("dial tcp 127.0.0.1:1: connect: connection refused")
	}
	step := steps[0]
	if len(steps) > 1 {
		f.scripts[name] = steps[1:]
	}
	f.mu.Unlock()
	return step()
}

func (f *fakeConnector) attemptsFor(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[name]
}

func (f *fakeConnector) configFor(name string) ServerConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.configs[name]
}

func connOK(c Connection) func() (Connection, error) {
	return func() (Connection, error) { return c, nil }
}

func connErr(err error) func() (Connection, error) {
	return func() (Connection, error) { return nil, err }
}

func testOptions(connector Connector) *ManagerOptions {
	return &ManagerOptions{
		Connector:       connector,
		ToolCallTimeout: 2 * time.Second,
		Backoff:         Backoff{Base: 5 * time.Millisecond, Max: 20 * time.Millisecond, Multiplier: 2},
		HTTPClient:      http.DefaultClient,
	}
}

func newTestManager(t *testing.T, connector Connector, mutate ...func(*ManagerOptions)) *Manager {
	t.Helper()
	opts := testOptions(connector)
	for _, fn := range mutate {
		fn(opts)
	}
	m := NewManager(nil, opts)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func stdioCfg() ServerConfig {
	return &StdioServerConfig{Command: "fake-server"}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func envContains(env []string, key, value string) bool {
	target := key + "=" + value
	for _, item := range env {
		if item == target {
			return true
		}
	}
	return false
}
