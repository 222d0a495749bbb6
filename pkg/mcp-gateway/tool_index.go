package mcpgateway

import (
	"maps"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcp-tool-router-go/pkg/mcpmgr"
)

const metaKeyServerID = "mcpgateway.server_id"

// toolIndex tracks which tools the gateway currently mirrors and the server
// that owns each one. A name advertised by several servers belongs to the
// first in the snapshot order, which is the order dispatch searches.
type toolIndex struct {
	mu    sync.RWMutex
	owner map[string]string
	tools map[string]*mcp.Tool
}

type toolRegistration struct {
	Tool   *mcp.Tool
	Server string
}

func newToolIndex() *toolIndex {
	return &toolIndex{
		owner: make(map[string]string),
		tools: make(map[string]*mcp.Tool),
	}
}

// Update replaces the index with snapshot. It returns the names to remove
// from the mirror and the tools to (re)register; unchanged tools appear in
// neither.
func (x *toolIndex) Update(snapshot []mcpmgr.ToolWithServer) (removed []string, added []toolRegistration) {
	next := make(map[string]string, len(snapshot))
	nextTools := make(map[string]*mcp.Tool, len(snapshot))
	for _, entry := range snapshot {
		if entry.Tool == nil || entry.Tool.Name == "" {
			continue
		}
		if _, taken := next[entry.Tool.Name]; taken {
			continue
		}
		next[entry.Tool.Name] = entry.Server
		nextTools[entry.Tool.Name] = entry.Tool
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	for name, server := range x.owner {
		if nextServer, ok := next[name]; !ok || nextServer != server {
			removed = append(removed, name)
		}
	}
	for name, server := range next {
		prevServer, ok := x.owner[name]
		if ok && prevServer == server && sameTool(x.tools[name], nextTools[name]) {
			continue
		}
		if ok && prevServer == server {
			removed = append(removed, name)
		}
		added = append(added, toolRegistration{Tool: cloneTool(nextTools[name], server), Server: server})
	}
	x.owner = next
	x.tools = nextTools
	return removed, added
}

// Owner reports the server a mirrored tool belongs to.
func (x *toolIndex) Owner(name string) (string, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	server, ok := x.owner[name]
	return server, ok
}

// Len returns the number of mirrored tools.
func (x *toolIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.owner)
}

func sameTool(a, b *mcp.Tool) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Name == b.Name && a.Description == b.Description && a.Title == b.Title
}

// cloneTool copies tool for registration on the gateway server, tagging its
// origin and guaranteeing an object input schema.
func cloneTool(tool *mcp.Tool, server string) *mcp.Tool {
	clone := *tool
	clone.Meta = withMeta(tool.Meta, map[string]any{metaKeyServerID: server})
	clone.InputSchema = objectSchema(tool.InputSchema)
	return &clone
}

func objectSchema(schema any) any {
	switch s := schema.(type) {
	case nil:
		return &jsonschema.Schema{Type: "object"}
	case *jsonschema.Schema:
		if s == nil {
			return &jsonschema.Schema{Type: "object"}
		}
		if s.Type == "" {
			c := *s
			c.Type = "object"
			return &c
		}
		return s
	case map[string]any:
		if _, ok := s["type"]; ok {
			return s
		}
		c := maps.Clone(s)
		c["type"] = "object"
		return c
	default:
		return s
	}
}

func withMeta(base map[string]any, extras map[string]any) map[string]any {
	out := maps.Clone(base)
	if out == nil {
		out = make(map[string]any)
	}
	for k, v := range extras {
		out[k] = v
	}
	return out
}
