package mcpgateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vikashloomba/mcp-tool-router-go/pkg/mcpconfig"
	"github.com/vikashloomba/mcp-tool-router-go/pkg/mcpmgr"
)

type apiClient struct {
	t   *testing.T
	srv *httptest.Server
}

func (c apiClient) do(method, path string, body any) (*http.Response, []byte) {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(c.t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req, err := http.NewRequest(method, c.srv.URL+path, &buf)
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.srv.Client().Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()
	var out bytes.Buffer
	_, _ = out.ReadFrom(resp.Body)
	return resp, out.Bytes()
}

func newAPI(t *testing.T, m *mcpmgr.Manager, opts *Options) (*Gateway, apiClient) {
	g := newTestGateway(t, m, opts)
	srv := httptest.NewServer(g.Handler())
	t.Cleanup(srv.Close)
	return g, apiClient{t: t, srv: srv}
}

func TestAPIServersAndTools(t *testing.T) {
	t.Parallel()

	ups := newUpstreams(t).add("alpha", "echo")
	m := newTestManager(t, ups)
	require.NoError(t, m.StartServer(context.Background(), "alpha", stdioCfg()))
	_, api := newAPI(t, m, nil)

	resp, body := api.do(http.MethodGet, "/api/servers", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"servers":["alpha"],"connected":["alpha"]}`, string(body))

	resp, body = api.do(http.MethodGet, "/api/servers/summaries", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var summaries []ServerSummaryView
	require.NoError(t, json.Unmarshal(body, &summaries))
	require.Len(t, summaries, 1)
	assert.Equal(t, "connected", summaries[0].Status)
	assert.Equal(t, "in-memory", summaries[0].Target)

	resp, body = api.do(http.MethodGet, "/api/tools", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var tools []ToolView
	require.NoError(t, json.Unmarshal(body, &tools))
	require.Len(t, tools, 1)
	assert.Equal(t, ToolView{Server: "alpha", Name: "echo", Description: "echo from alpha", InputSchema: map[string]any{"type": "object"}}, tools[0])
}

func TestAPICallAndCancel(t *testing.T) {
	t.Parallel()

	ups := newUpstreams(t).add("alpha", "echo", "slow")
	m := newTestManager(t, ups)
	require.NoError(t, m.StartServer(context.Background(), "alpha", stdioCfg()))
	_, api := newAPI(t, m, nil)

	resp, body := api.do(http.MethodPost, "/api/tools/call", CallRequest{Tool: "echo", Arguments: map[string]any{"q": "hi"}})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var call CallResponse
	require.NoError(t, json.Unmarshal(body, &call))
	assert.NotEmpty(t, call.Token)
	assert.Equal(t, `alpha:echo:{"q":"hi"}`, firstText(call.Result))

	resp, _ = api.do(http.MethodPost, "/api/tools/call", CallRequest{Tool: "nope"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = api.do(http.MethodPost, "/api/tools/call", `{"tool":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = api.do(http.MethodPost, "/api/tools/cancel", CancelRequest{Token: "unknown"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	status := make(chan int, 1)
	go func() {
		resp, _ := api.do(http.MethodPost, "/api/tools/call", CallRequest{Tool: "slow", Token: "tok-1"})
		status <- resp.StatusCode
	}()
	require.Eventually(t, func() bool {
		resp, _ := api.do(http.MethodPost, "/api/tools/cancel", CancelRequest{Token: "tok-1"})
		return resp.StatusCode == http.StatusNoContent
	}, 5*time.Second, 10*time.Millisecond)

	select {
	case code := <-status:
		assert.Equal(t, http.StatusConflict, code)
	case <-time.After(5 * time.Second):
		t.Fatalf("cancelled call did not return")
	}
}

func TestAPILifecycleRoutes(t *testing.T) {
	t.Parallel()

	ups := newUpstreams(t).add("alpha", "echo")
	m := newTestManager(t, ups)
	require.NoError(t, m.StartServer(context.Background(), "alpha", stdioCfg()))
	_, api := newAPI(t, m, nil)

	resp, _ := api.do(http.MethodPost, "/api/servers/alpha/reset-restart-count", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = api.do(http.MethodPost, "/api/servers/ghost/reset-restart-count", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = api.do(http.MethodPost, "/api/servers/restart", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, []string{"alpha"}, m.ListConnectedServers())

	resp, _ = api.do(http.MethodPost, "/api/servers/alpha/deactivate", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, m.ListConnectedServers())

	// Without a server document a deactivated server has no stored config.
	resp, _ = api.do(http.MethodPost, "/api/servers/alpha/activate", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = api.do(http.MethodGet, "/api/config", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIConfigDocumentRoutes(t *testing.T) {
	t.Parallel()

	ups := newUpstreams(t).add("alpha", "echo").add("beta", "sum")
	m := newTestManager(t, ups)
	path := filepath.Join(t.TempDir(), mcpconfig.FileName)
	_, api := newAPI(t, m, &Options{ConfigPath: path})

	resp, body := api.do(http.MethodGet, "/api/config", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "sequential-thinking")

	doc := `{"mcpServers":{"alpha":{"command":"in-memory","active":true},"beta":{"command":"in-memory","active":false}}}`
	resp, body = api.do(http.MethodPut, "/api/config", doc)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.JSONEq(t, `{"started":["alpha"],"deactivated":[]}`, string(body))
	assert.Equal(t, []string{"alpha"}, m.ListConnectedServers())

	resp, body = api.do(http.MethodPost, "/api/servers/beta/activate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.ElementsMatch(t, []string{"alpha", "beta"}, m.ListConnectedServers())

	resp, _ = api.do(http.MethodPost, "/api/servers/alpha/deactivate", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	saved, err := mcpconfig.Load(path)
	require.NoError(t, err)
	assert.False(t, saved.MCPServers["alpha"].Active)
	assert.True(t, saved.MCPServers["beta"].Active)

	resp, _ = api.do(http.MethodPost, "/api/servers/ghost/activate", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = api.do(http.MethodPut, "/api/config", "{broken")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPIEventsStreamServerUpdates(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, newUpstreams(t))
	g, api := newAPI(t, m, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, api.srv.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := api.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return g.events.subscribers() == 1 }, 5*time.Second, 5*time.Millisecond)
	m.NotifyServersUpdated()

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "event: ") {
			assert.Equal(t, "event: "+EventServersUpdated+"\n", line)
			return
		}
	}
}

func TestAPICORSPreflight(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, newUpstreams(t))
	_, api := newAPI(t, m, &Options{AllowedOrigins: []string{"http://localhost:1420"}})

	req, err := http.NewRequest(http.MethodOptions, api.srv.URL+"/api/tools/call", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:1420")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := api.srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "http://localhost:1420", resp.Header.Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "http://evil.example")
	resp, err = api.srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestStatusFor(t *testing.T) {
	t.Parallel()

	cases := map[error]int{
		mcpmgr.ErrToolNotFound:                                 http.StatusNotFound,
		fmt.Errorf("x: %w", mcpmgr.ErrUnknownServer):           http.StatusNotFound,
		mcpmgr.ErrTokenInUse:                                   http.StatusConflict,
		mcpmgr.ErrToolCallCancelled:                            http.StatusConflict,
		mcpmgr.ErrToolCallTimeout:                              http.StatusGatewayTimeout,
		&mcpmgr.ConfigError{Server: "s", Reason: "r"}:          http.StatusBadRequest,
		errors.New("mcpmgr: HTTP fallback failed with status"): http.StatusBadGateway,
	}
	for err, want := range cases {
		assert.Equal(t, want, statusFor(err), err.Error())
	}
}
