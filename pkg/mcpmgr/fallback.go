package mcpmgr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// fallbackRoutes maps built-in tool names to REST paths on the built-in
// server's base URL.
var fallbackRoutes = map[string]string{
	"prospect_lead":            "/mcp/prospect-lead",
	"send_email":               "/mcp/send-email",
	"get_lead_info":            "/mcp/lead-info",
	"find_leads":               "/mcp/discover-leads",
	"list_jobs":                "/mcp/job-list",
	"get_job_info":             "/mcp/job-status",
	"delete_job":               "/mcp/job-delete",
	"cancel_job":               "/mcp/job-cancel",
	"retry_job":                "/mcp/job-retry",
	"send_linkedin_message":    "/mcp/send-linkedin-message",
	"comment_on_linkedin_post": "/mcp/comment-on-post",
	"react_to_linkedin_post":   "/mcp/react-to-post",
}

// agentContextFields renames lead arguments for tools whose REST endpoint
// expects them nested under "agentContext".
var agentContextFields = []struct{ from, to string }{
	{"linkedinUrl", "lead_linkedin"},
	{"leadId", "lead_id"},
	{"leadName", "lead_name"},
	{"leadEmail", "lead_email"},
	{"leadTitle", "lead_title"},
	{"leadCompany", "lead_company"},
}

var agentContextTools = map[string]bool{
	"get_lead_info": true,
	"prospect_lead": true,
}

// FallbackAdapter serves a fixed set of built-in tools over plain HTTP when
// no connected server owns them.
type FallbackAdapter struct {
	client *http.Client
	// builtin returns the built-in server's stored configuration.
	builtin func() (ServerConfig, bool)
	logger  *slog.Logger
}

// NewFallbackAdapter builds an adapter that resolves the built-in server's
// endpoint and credentials through builtin on every call.
func NewFallbackAdapter(client *http.Client, builtin func() (ServerConfig, bool), logger *slog.Logger) *FallbackAdapter {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackAdapter{client: client, builtin: builtin, logger: logger}
}

// FallbackRoute returns the REST path serving tool, if any.
func FallbackRoute(tool string) (string, bool) {
	path, ok := fallbackRoutes[tool]
	return path, ok
}

// FallbackBody converts tool arguments into the request body the built-in
// REST endpoint expects.
func FallbackBody(tool string, args map[string]any) map[string]any {
	if args == nil {
		return map[string]any{}
	}
	if !agentContextTools[tool] {
		out := make(map[string]any, len(args))
		for k, v := range args {
			out[k] = v
		}
		return out
	}
	agentContext := map[string]any{}
	for _, field := range agentContextFields {
		if v, ok := args[field.from]; ok {
			agentContext[field.to] = v
		}
	}
	return map[string]any{"agentContext": agentContext}
}

// Call issues a single authenticated POST for tool. Non-2xx responses and
// transport failures are returned as errors and never retried.
func (a *FallbackAdapter) Call(ctx context.Context, tool string, args map[string]any) (*mcp.CallToolResult, error) {
	path, ok := FallbackRoute(tool)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoFallback, tool)
	}
	target, auth, err := a.resolveTarget(path)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(FallbackBody(tool, args))
	if err != nil {
		return nil, fmt.Errorf("mcpmgr: encode fallback body for %q: %w", tool, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("mcpmgr: build fallback request for %q: %w", tool, err)
	}
	req.Header.Set("Authorization", auth)
	req.Header.Set("Content-Type", "application/json")

	a.logger.Info("calling HTTP fallback", slog.String("tool", tool), slog.String("url", target))
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mcpmgr: HTTP fallback request failed: %w", err)
	}
	defer resp.Body.Close()
	text, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("mcpmgr: read HTTP fallback response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("mcpmgr: HTTP fallback failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(text)))
	}
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(text)}}}, nil
}

func (a *FallbackAdapter) resolveTarget(path string) (string, string, error) {
	if a.builtin == nil {
		return "", "", fmt.Errorf("mcpmgr: built-in server not configured")
	}
	cfg, ok := a.builtin()
	if !ok {
		return "", "", fmt.Errorf("mcpmgr: built-in server not configured")
	}
	httpCfg, ok := AsHTTP(cfg)
	if !ok || strings.TrimSpace(httpCfg.Endpoint) == "" {
		return "", "", fmt.Errorf("mcpmgr: built-in server has no URL")
	}
	auth := HeaderOf(cfg, "Authorization")
	if auth == "" {
		return "", "", fmt.Errorf("mcpmgr: built-in server has no Authorization header")
	}
	base := strings.TrimSuffix(strings.TrimRight(strings.TrimSpace(httpCfg.Endpoint), "/"), "/mcp")
	return base + path, auth, nil
}
