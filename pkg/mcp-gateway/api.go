package mcpgateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcp-tool-router-go/pkg/mcpconfig"
	"github.com/vikashloomba/mcp-tool-router-go/pkg/mcpmgr"
)

const maxBodyBytes = 4 << 20

// ServerSummaryView is the JSON shape of one server summary.
type ServerSummaryView struct {
	Name            string `json:"name"`
	Status          string `json:"status"`
	Transport       string `json:"transport,omitempty"`
	RestartAttempts int    `json:"restartAttempts"`
	Initialized     bool   `json:"initialized"`
	Target          string `json:"target,omitempty"`
}

// ToolView is the JSON shape of one tool in the tools listing.
type ToolView struct {
	Server      string `json:"server"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"inputSchema,omitempty"`
}

// CallRequest is the body of POST tools/call.
type CallRequest struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Token     string         `json:"token,omitempty"`
}

// CallResponse is the reply of POST tools/call.
type CallResponse struct {
	Token  string              `json:"token"`
	Result *mcp.CallToolResult `json:"result"`
}

// CancelRequest is the body of POST tools/cancel.
type CancelRequest struct {
	Token string `json:"token"`
}

func (g *Gateway) mountAPI() {
	base := "/" + strings.Trim(g.opts.APIPath, "/")
	route := func(method, path string, h http.HandlerFunc) {
		g.mux.Handle(method+" "+base+path, g.protect(h))
	}
	route(http.MethodGet, "/servers", g.handleListServers)
	route(http.MethodGet, "/servers/summaries", g.handleSummaries)
	route(http.MethodPost, "/servers/restart", g.handleRestart)
	route(http.MethodPost, "/servers/{name}/activate", g.handleActivate)
	route(http.MethodPost, "/servers/{name}/deactivate", g.handleDeactivate)
	route(http.MethodPost, "/servers/{name}/reset-restart-count", g.handleResetRestartCount)
	route(http.MethodGet, "/tools", g.handleListTools)
	route(http.MethodPost, "/tools/call", g.handleCallTool)
	route(http.MethodPost, "/tools/cancel", g.handleCancelTool)
	route(http.MethodGet, "/config", g.handleGetConfig)
	route(http.MethodPut, "/config", g.handlePutConfig)
	route(http.MethodGet, "/events", g.events.serveEvents)
}

func (g *Gateway) handleListServers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{
		"servers":   g.manager.ListServers(),
		"connected": g.manager.ListConnectedServers(),
	})
}

func (g *Gateway) handleSummaries(w http.ResponseWriter, r *http.Request) {
	summaries := g.manager.GetServerSummaries()
	out := make([]ServerSummaryView, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, ServerSummaryView{
			Name:            s.ID,
			Status:          string(s.Status),
			Transport:       string(s.Transport),
			RestartAttempts: s.RestartAttempts,
			Initialized:     s.Initialized,
			Target:          mcpmgr.TargetOf(s.Config),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (g *Gateway) handleRestart(w http.ResponseWriter, r *http.Request) {
	if err := g.manager.RestartActiveServers(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleActivate(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if g.opts.ConfigPath == "" {
		cfg := g.manager.GetServerConfig(name)
		if cfg == nil {
			writeError(w, http.StatusNotFound, fmt.Errorf("%w: %q", mcpmgr.ErrUnknownServer, name))
			return
		}
		if err := g.manager.StartServer(r.Context(), name, cfg); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		g.manager.NotifyServersUpdated()
		w.WriteHeader(http.StatusNoContent)
		return
	}

	doc, err := mcpconfig.Load(g.opts.ConfigPath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := doc.SetActive(name, true); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err := mcpconfig.Save(g.opts.ConfigPath, doc); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	g.reconcile(w, r, doc)
}

func (g *Gateway) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	inDocument := false
	if g.opts.ConfigPath != "" {
		doc, err := mcpconfig.Load(g.opts.ConfigPath)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if doc.SetActive(name, false) == nil {
			inDocument = true
			if err := mcpconfig.Save(g.opts.ConfigPath, doc); err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
		}
	}
	err := g.manager.DeactivateServer(name)
	if err != nil && !(inDocument && errors.Is(err, mcpmgr.ErrUnknownServer)) {
		writeError(w, statusFor(err), err)
		return
	}
	g.manager.NotifyServersUpdated()
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleResetRestartCount(w http.ResponseWriter, r *http.Request) {
	if err := g.manager.ResetRestartCount(r.PathValue("name")); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleListTools(w http.ResponseWriter, r *http.Request) {
	tools := g.manager.ListAllTools(r.Context())
	out := make([]ToolView, 0, len(tools))
	for _, t := range tools {
		if t.Tool == nil {
			continue
		}
		out = append(out, ToolView{
			Server:      t.Server,
			Name:        t.Tool.Name,
			Description: t.Tool.Description,
			InputSchema: t.Tool.InputSchema,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (g *Gateway) handleCallTool(w http.ResponseWriter, r *http.Request) {
	var req CallRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Tool) == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("tool is required"))
		return
	}
	if req.Token == "" {
		req.Token = uuid.NewString()
	}
	res, err := g.manager.CallTool(r.Context(), req.Tool, req.Arguments, req.Token)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, CallResponse{Token: req.Token, Result: res})
}

func (g *Gateway) handleCancelTool(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := g.manager.CancelToolCall(req.Token); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if g.opts.ConfigPath == "" {
		http.NotFound(w, r)
		return
	}
	doc, err := mcpconfig.Load(g.opts.ConfigPath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (g *Gateway) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	if g.opts.ConfigPath == "" {
		http.NotFound(w, r)
		return
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	doc, err := mcpconfig.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := mcpconfig.Save(g.opts.ConfigPath, doc); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	g.reconcile(w, r, doc)
}

// reconcile applies doc to the manager and reports what changed. Start
// failures are reported alongside the result rather than as an HTTP error:
// the document itself was accepted.
func (g *Gateway) reconcile(w http.ResponseWriter, r *http.Request, doc *mcpconfig.Document) {
	res, err := mcpconfig.Reconcile(r.Context(), g.manager, doc, g.opts.Logger, g.opts.KeepServers...)
	body := map[string]any{"started": nonNil(res.Started), "deactivated": nonNil(res.Deactivated)}
	if err != nil {
		body["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, body)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// statusFor maps manager errors onto HTTP status codes.
func statusFor(err error) int {
	var cfgErr *mcpmgr.ConfigError
	switch {
	case errors.Is(err, mcpmgr.ErrToolNotFound),
		errors.Is(err, mcpmgr.ErrUnknownServer),
		errors.Is(err, mcpmgr.ErrTokenNotFound):
		return http.StatusNotFound
	case errors.Is(err, mcpmgr.ErrTokenInUse),
		errors.Is(err, mcpmgr.ErrServerDeactivated),
		errors.Is(err, mcpmgr.ErrToolCallCancelled):
		return http.StatusConflict
	case errors.Is(err, mcpmgr.ErrToolCallTimeout):
		return http.StatusGatewayTimeout
	case errors.As(err, &cfgErr):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

func readJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
