package mcpmgr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// maxDispatchAttempts is the initial pass plus one retry after a reconnect.
const maxDispatchAttempts = 2

// CallTool invokes tool on the first connected server that advertises it.
//
// A transport-shaped failure while listing tools or calling the tool triggers
// one reconnect of that server followed by one more pass. When no server owns
// the tool the HTTP fallback adapter is tried once. A non-empty token binds a
// cancellation signal to the call for CancelToolCall; the token is released
// on every return path. A fired token stops tool listing, the reconnect and
// the fallback as well as the call itself.
func (m *Manager) CallTool(ctx context.Context, tool string, args map[string]any, token string) (*mcp.CallToolResult, error) {
	var sig *cancelSignal
	if validToken(token) {
		s, err := m.cancels.Register(token)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", err, token)
		}
		sig = s
		defer m.cancels.Release(token, sig)
	}
	ctx, stop := withCancelSignal(ctx, sig)
	defer stop()

	for attempt := 1; attempt <= maxDispatchAttempts; attempt++ {
		if err := interrupted(ctx, sig, tool); err != nil {
			return nil, err
		}
		retryable := attempt < maxDispatchAttempts
		reconnect, cause, res, err := m.dispatchPass(ctx, tool, args, sig, retryable)
		if reconnect == "" {
			if res != nil || err != nil {
				return res, err
			}
			break
		}

		if err := interrupted(ctx, sig, tool); err != nil {
			return nil, err
		}
		m.logger.Info("transport error, reconnecting before retry",
			slog.String("server", reconnect), slog.String("tool", tool), slog.Any("error", cause))
		if rerr := m.Reconnect(ctx, reconnect); rerr != nil {
			if err := interrupted(ctx, sig, tool); err != nil {
				return nil, err
			}
			m.logger.Error("reconnect failed", slog.String("server", reconnect), slog.Any("error", rerr))
			return nil, fmt.Errorf("mcpmgr: error calling tool %q: %v (reconnection failed: %w)", tool, cause, rerr)
		}
	}

	if _, ok := FallbackRoute(tool); ok {
		if err := interrupted(ctx, sig, tool); err != nil {
			return nil, err
		}
		m.logger.Info("tool not found via MCP, attempting HTTP fallback", slog.String("tool", tool))
		res, err := m.fallback.Call(ctx, tool, args)
		if err == nil {
			return res, nil
		}
		if ierr := interrupted(ctx, sig, tool); ierr != nil {
			return nil, ierr
		}
		m.logger.Warn("HTTP fallback failed", slog.String("tool", tool), slog.Any("error", err))
		return nil, fmt.Errorf("%w: %q (fallback: %v)", ErrToolNotFound, tool, err)
	}
	return nil, fmt.Errorf("%w: %q", ErrToolNotFound, tool)
}

// withCancelSignal derives a context that also ends when sig fires, with
// ErrToolCallCancelled as its cause.
func withCancelSignal(ctx context.Context, sig *cancelSignal) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(ctx)
	if sig == nil {
		return ctx, func() { cancel(nil) }
	}
	stop := make(chan struct{})
	go func() {
		select {
		case <-sig.Done():
			cancel(ErrToolCallCancelled)
		case <-stop:
		}
	}()
	return ctx, func() {
		close(stop)
		cancel(nil)
	}
}

// interrupted reports why the call must stop, or nil while it may go on. A
// fired token wins over the context so the outcome does not depend on which
// of the two was observed first.
func interrupted(ctx context.Context, sig *cancelSignal, tool string) error {
	if sig != nil {
		select {
		case <-sig.Done():
			return fmt.Errorf("%w: %q", ErrToolCallCancelled, tool)
		default:
		}
	}
	if ctx.Err() == nil {
		return nil
	}
	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, ErrToolCallCancelled):
		return fmt.Errorf("%w: %q", ErrToolCallCancelled, tool)
	case errors.Is(cause, context.DeadlineExceeded):
		return fmt.Errorf("%w: %q: %v", ErrToolCallTimeout, tool, cause)
	default:
		return fmt.Errorf("%w: %q: %v", ErrToolCallCancelled, tool, cause)
	}
}

// dispatchPass walks one registry snapshot. It returns a server name to
// reconnect, or the call outcome, or nothing when no server owns the tool.
// The first broken server aborts the pass even if a later one owns the tool.
func (m *Manager) dispatchPass(
	ctx context.Context,
	tool string,
	args map[string]any,
	sig *cancelSignal,
	retryable bool,
) (reconnect string, cause error, res *mcp.CallToolResult, err error) {
	for _, sc := range m.registry.Snapshot() {
		if ierr := interrupted(ctx, sig, tool); ierr != nil {
			return "", nil, nil, ierr
		}
		tools, ferr := m.tools.GetOrFetch(ctx, sc.Name, sc.Handle)
		if ferr != nil {
			if ierr := interrupted(ctx, sig, tool); ierr != nil {
				return "", nil, nil, ierr
			}
			if retryable && IsTransportError(ferr) {
				return sc.Name, ferr, nil, nil
			}
			m.logger.Warn("failed to list tools", slog.String("server", sc.Name), slog.Any("error", ferr))
			continue
		}
		if !hasTool(tools, tool) {
			continue
		}

		m.logger.Debug("dispatching tool", slog.String("server", sc.Name), slog.String("tool", tool))
		out, cerr := m.invoke(ctx, sc, tool, args, sig)
		if cerr == nil {
			return "", nil, out, nil
		}
		if retryable && IsTransportError(cerr) {
			return sc.Name, cerr, nil, nil
		}
		return "", nil, nil, fmt.Errorf("mcpmgr: call %q on %q: %w", tool, sc.Name, cerr)
	}
	return "", nil, nil, nil
}

// invoke races the call against the tool-call timeout, the cancellation
// signal and ctx. Whatever resolves first wins; the call itself is abandoned
// and its context cancelled. A signal that fired before the call starts
// short-circuits it.
func (m *Manager) invoke(ctx context.Context, sc *ServerConnection, tool string, args map[string]any, sig *cancelSignal) (*mcp.CallToolResult, error) {
	if err := interrupted(ctx, sig, tool); err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		res *mcp.CallToolResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := sc.Handle.CallTool(callCtx, tool, args)
		done <- outcome{res: res, err: err}
	}()

	timer := time.NewTimer(m.options.ToolCallTimeout)
	defer timer.Stop()
	var cancelled <-chan struct{}
	if sig != nil {
		cancelled = sig.Done()
	}

	select {
	case out := <-done:
		if out.err == nil && out.res == nil {
			return &mcp.CallToolResult{Content: []mcp.Content{}}, nil
		}
		return out.res, out.err
	case <-timer.C:
		return nil, fmt.Errorf("%w: %q after %s", ErrToolCallTimeout, tool, m.options.ToolCallTimeout)
	case <-cancelled:
		return nil, fmt.Errorf("%w: %q", ErrToolCallCancelled, tool)
	case <-ctx.Done():
		return nil, interrupted(ctx, sig, tool)
	}
}
