package mcpgateway

import (
	"testing"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vikashloomba/mcp-tool-router-go/pkg/mcpmgr"
)

func TestToolIndexFirstOwnerWins(t *testing.T) {
	t.Parallel()

	x := newToolIndex()
	removed, added := x.Update([]mcpmgr.ToolWithServer{
		{Server: "alpha", Tool: &mcp.Tool{Name: "echo"}},
		{Server: "beta", Tool: &mcp.Tool{Name: "echo"}},
		{Server: "beta", Tool: &mcp.Tool{Name: "sum"}},
		{Server: "beta", Tool: nil},
	})
	assert.Empty(t, removed)
	require.Len(t, added, 2)

	owner, ok := x.Owner("echo")
	require.True(t, ok)
	assert.Equal(t, "alpha", owner)
	owner, _ = x.Owner("sum")
	assert.Equal(t, "beta", owner)
	assert.Equal(t, 2, x.Len())

	for _, reg := range added {
		assert.Equal(t, reg.Server, reg.Tool.Meta[metaKeyServerID])
		assert.NotNil(t, reg.Tool.InputSchema)
	}
}

func TestToolIndexDiffs(t *testing.T) {
	t.Parallel()

	x := newToolIndex()
	x.Update([]mcpmgr.ToolWithServer{
		{Server: "alpha", Tool: &mcp.Tool{Name: "echo"}},
		{Server: "beta", Tool: &mcp.Tool{Name: "sum"}},
	})

	// Unchanged snapshot: nothing to do.
	removed, added := x.Update([]mcpmgr.ToolWithServer{
		{Server: "alpha", Tool: &mcp.Tool{Name: "echo"}},
		{Server: "beta", Tool: &mcp.Tool{Name: "sum"}},
	})
	assert.Empty(t, removed)
	assert.Empty(t, added)

	// alpha disconnects: echo moves to beta, sum is unchanged.
	removed, added = x.Update([]mcpmgr.ToolWithServer{
		{Server: "beta", Tool: &mcp.Tool{Name: "echo"}},
		{Server: "beta", Tool: &mcp.Tool{Name: "sum"}},
	})
	assert.Equal(t, []string{"echo"}, removed)
	require.Len(t, added, 1)
	assert.Equal(t, "beta", added[0].Server)

	// Description change re-registers the tool.
	removed, added = x.Update([]mcpmgr.ToolWithServer{
		{Server: "beta", Tool: &mcp.Tool{Name: "echo", Description: "new"}},
		{Server: "beta", Tool: &mcp.Tool{Name: "sum"}},
	})
	assert.Equal(t, []string{"echo"}, removed)
	require.Len(t, added, 1)

	removed, added = x.Update(nil)
	assert.ElementsMatch(t, []string{"echo", "sum"}, removed)
	assert.Empty(t, added)
	assert.Zero(t, x.Len())
}

func TestObjectSchema(t *testing.T) {
	t.Parallel()

	s, ok := objectSchema(nil).(*jsonschema.Schema)
	require.True(t, ok)
	assert.Equal(t, "object", s.Type)

	in := map[string]any{"properties": map[string]any{}}
	out := objectSchema(in).(map[string]any)
	assert.Equal(t, "object", out["type"])
	assert.NotContains(t, in, "type")

	typed := &jsonschema.Schema{}
	assert.Equal(t, "object", objectSchema(typed).(*jsonschema.Schema).Type)
	assert.Empty(t, typed.Type)
}
