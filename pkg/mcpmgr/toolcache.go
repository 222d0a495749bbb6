package mcpmgr

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/singleflight"
)

// ToolCache memoizes each server's tool list. Entries are cleared whenever a
// server is started, restarted, reconnected or deactivated, so a cached list
// is never served for a connection other than the one it was fetched from.
// Failed fetches are never cached.
type ToolCache struct {
	timeout time.Duration

	mu    sync.RWMutex
	tools map[string][]*mcp.Tool
	gen   map[string]uint64

	group singleflight.Group
}

// NewToolCache returns a cache whose fetches are bounded by timeout.
func NewToolCache(timeout time.Duration) *ToolCache {
	if timeout <= 0 {
		timeout = DefaultToolCallTimeout
	}
	return &ToolCache{
		timeout: timeout,
		tools:   make(map[string][]*mcp.Tool),
		gen:     make(map[string]uint64),
	}
}

// Get returns a copy of the cached list for server.
func (c *ToolCache) Get(server string) ([]*mcp.Tool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tools, ok := c.tools[server]
	if !ok {
		return nil, false
	}
	return append([]*mcp.Tool(nil), tools...), true
}

// GetOrFetch returns the cached list for server or fetches it from conn.
// Concurrent misses for the same server share one tools/list request.
func (c *ToolCache) GetOrFetch(ctx context.Context, server string, conn Connection) ([]*mcp.Tool, error) {
	if tools, ok := c.Get(server); ok {
		return tools, nil
	}
	c.mu.RLock()
	gen := c.gen[server]
	c.mu.RUnlock()

	key := fmt.Sprintf("%s#%d", server, gen)
	ch := c.group.DoChan(key, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		tools, err := conn.ListTools(fetchCtx)
		if err != nil {
			if errors.Is(fetchCtx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: listing tools for %q after %s", ErrToolCallTimeout, server, c.timeout)
			}
			return nil, err
		}
		c.store(server, gen, tools)
		return tools, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		tools := res.Val.([]*mcp.Tool)
		return append([]*mcp.Tool(nil), tools...), nil
	}
}

// store records tools unless the server was invalidated while the fetch ran.
func (c *ToolCache) store(server string, gen uint64, tools []*mcp.Tool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen[server] != gen {
		return
	}
	if tools == nil {
		tools = []*mcp.Tool{}
	}
	c.tools[server] = tools
}

// Invalidate drops the cached list for server.
func (c *ToolCache) Invalidate(server string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tools, server)
	c.gen[server]++
}

func hasTool(tools []*mcp.Tool, name string) bool {
	for _, tool := range tools {
		if tool != nil && tool.Name == name {
			return true
		}
	}
	return false
}
