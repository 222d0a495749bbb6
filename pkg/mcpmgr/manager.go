package mcpmgr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"
)

// ConnectionStatus represents the lifecycle of a managed connection.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusDeactivated  ConnectionStatus = "deactivated"
)

// ServerSummary aggregates status information for a managed server.
type ServerSummary struct {
	ID              string
	Status          ConnectionStatus
	Transport       ConfigTransport
	RestartAttempts int
	Initialized     bool
	Config          ServerConfig
}

// ToolWithServer tags a tool descriptor with the server that owns it.
type ToolWithServer struct {
	Server string
	Tool   *mcp.Tool
}

// Manager owns every server connection of the process and routes tool calls
// to whichever server advertises the tool.
//
// Each table has its own lock. When two are needed, the restart lock is
// taken before the registry lock, never the reverse.
type Manager struct {
	options   ManagerOptions
	connector Connector
	logger    *slog.Logger

	registry *Registry
	tools    *ToolCache
	cancels  *CancellationRegistry
	fallback *FallbackAdapter

	// restartMu guards restarts, active and closed.
	restartMu sync.Mutex
	restarts  map[string]*RestartState
	active    map[string]ServerConfig
	closed    bool

	observersMu   sync.RWMutex
	observers     []func()
	connObservers []func(server string, connected bool)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager registers cfg as the active server set. With
// ManagerOptions.AutoConnect every server is started in the background.
// Callers can provide nil options to fall back to sensible defaults.
func NewManager(cfg map[string]ServerConfig, opts *ManagerOptions) *Manager {
	options := opts.normalized()
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		options:  options,
		logger:   options.Logger,
		registry: NewRegistry(),
		tools:    NewToolCache(options.ToolCallTimeout),
		cancels:  NewCancellationRegistry(),
		restarts: make(map[string]*RestartState),
		active:   make(map[string]ServerConfig),
		ctx:      ctx,
		cancel:   cancel,
	}
	m.connector = options.Connector
	if m.connector == nil {
		m.connector = newSDKConnector(options)
	}
	m.fallback = NewFallbackAdapter(options.HTTPClient, m.builtinConfig, m.logger)
	for name, sc := range cfg {
		if sc != nil {
			m.active[name] = sc
		}
	}
	if options.AutoConnect {
		for _, name := range sortedKeys(m.active) {
			sc := m.active[name]
			m.goBackground(func() {
				if err := m.StartServer(m.ctx, name, sc); err != nil {
					m.logger.Warn("auto-connect failed", slog.String("server", name), slog.Any("error", err))
				}
			})
		}
	}
	return m
}

// goBackground runs fn on a goroutine tracked by Close. It reports false
// once the manager is closed.
func (m *Manager) goBackground(fn func()) bool {
	m.restartMu.Lock()
	defer m.restartMu.Unlock()
	if m.closed {
		return false
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		fn()
	}()
	return true
}

// ListServers returns the names of every server with a stored configuration.
func (m *Manager) ListServers() []string {
	m.restartMu.Lock()
	defer m.restartMu.Unlock()
	return sortedKeys(m.active)
}

// ListConnectedServers returns the names present in the connection registry.
func (m *Manager) ListConnectedServers() []string {
	return m.registry.Names()
}

// HasServer reports whether name is connected.
func (m *Manager) HasServer(name string) bool {
	_, ok := m.registry.Get(name)
	return ok
}

// GetServerConfig returns the stored configuration for name, or nil.
func (m *Manager) GetServerConfig(name string) ServerConfig {
	m.restartMu.Lock()
	defer m.restartMu.Unlock()
	return m.active[name]
}

// ActiveServers returns a copy of the active server map.
func (m *Manager) ActiveServers() map[string]ServerConfig {
	m.restartMu.Lock()
	defer m.restartMu.Unlock()
	out := make(map[string]ServerConfig, len(m.active))
	for name, sc := range m.active {
		out[name] = sc
	}
	return out
}

func (m *Manager) builtinConfig() (ServerConfig, bool) {
	m.restartMu.Lock()
	defer m.restartMu.Unlock()
	sc, ok := m.active[m.options.BuiltinServer]
	return sc, ok
}

// GetServerSummaries returns a status snapshot for every server the manager
// knows of, sorted by name.
func (m *Manager) GetServerSummaries() []ServerSummary {
	m.restartMu.Lock()
	names := map[string]struct{}{}
	for name := range m.active {
		names[name] = struct{}{}
	}
	for name := range m.restarts {
		names[name] = struct{}{}
	}
	for _, name := range m.registry.Names() {
		names[name] = struct{}{}
	}
	summaries := make([]ServerSummary, 0, len(names))
	for _, name := range sortedKeys(names) {
		summary := ServerSummary{ID: name, Status: StatusDisconnected, Config: m.active[name]}
		summary.Transport = TransportOf(summary.Config)
		st := m.restarts[name]
		if st != nil {
			summary.RestartAttempts = st.Attempts
		}
		if sc, ok := m.registry.Get(name); ok {
			summary.Status = StatusConnected
			summary.Initialized = sc.Initialized
		} else if st != nil && st.Deactivated {
			summary.Status = StatusDeactivated
		} else if st != nil && st.connecting {
			summary.Status = StatusConnecting
		}
		summaries = append(summaries, summary)
	}
	m.restartMu.Unlock()
	return summaries
}

// ListAllTools returns every tool of every connected server, tagged with its
// owner. Servers whose tool list cannot be fetched within the tool-call
// timeout are skipped.
func (m *Manager) ListAllTools(ctx context.Context) []ToolWithServer {
	snapshot := m.registry.Snapshot()
	perServer := make([][]*mcp.Tool, len(snapshot))
	var g errgroup.Group
	for i, sc := range snapshot {
		g.Go(func() error {
			tools, err := m.tools.GetOrFetch(ctx, sc.Name, sc.Handle)
			if err != nil {
				m.logger.Warn("skipping server while listing tools", slog.String("server", sc.Name), slog.Any("error", err))
				return nil
			}
			perServer[i] = tools
			return nil
		})
	}
	_ = g.Wait()

	var out []ToolWithServer
	for i, sc := range snapshot {
		for _, tool := range perServer[i] {
			out = append(out, ToolWithServer{Server: sc.Name, Tool: tool})
		}
	}
	return out
}

// ListTools returns the tool list of a single connected server.
func (m *Manager) ListTools(ctx context.Context, name string) ([]*mcp.Tool, error) {
	sc, ok := m.registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not connected", ErrUnknownServer, name)
	}
	return m.tools.GetOrFetch(ctx, name, sc.Handle)
}

// CancelToolCall fires the cancellation signal bound to token.
func (m *Manager) CancelToolCall(token string) error {
	if err := m.cancels.Cancel(token); err != nil {
		return fmt.Errorf("%w: %q", err, token)
	}
	m.logger.Info("tool call cancelled", slog.String("token", token))
	return nil
}

// OnServersUpdated registers fn to run after bulk lifecycle operations.
func (m *Manager) OnServersUpdated(fn func()) {
	if fn == nil {
		return
	}
	m.observersMu.Lock()
	m.observers = append(m.observers, fn)
	m.observersMu.Unlock()
}

// NotifyServersUpdated runs every registered OnServersUpdated observer.
func (m *Manager) NotifyServersUpdated() {
	m.observersMu.RLock()
	observers := append([]func(){}, m.observers...)
	m.observersMu.RUnlock()
	for _, fn := range observers {
		fn()
	}
}

// OnConnectionChange registers fn to run whenever a server's connection is
// installed or torn down, including background restarts. fn runs on the
// goroutine that made the change and must not block.
func (m *Manager) OnConnectionChange(fn func(server string, connected bool)) {
	if fn == nil {
		return
	}
	m.observersMu.Lock()
	m.connObservers = append(m.connObservers, fn)
	m.observersMu.Unlock()
}

func (m *Manager) notifyConnection(name string, connected bool) {
	m.observersMu.RLock()
	observers := append([]func(string, bool){}, m.connObservers...)
	m.observersMu.RUnlock()
	for _, fn := range observers {
		fn(name, connected)
	}
}

// Close stops background restarts and shuts down every connection.
func (m *Manager) Close() error {
	m.restartMu.Lock()
	if m.closed {
		m.restartMu.Unlock()
		return nil
	}
	m.closed = true
	m.restartMu.Unlock()

	m.cancel()
	err := m.StopAll()
	m.wg.Wait()
	return err
}

func closeConnection(sc *ServerConnection) error {
	if sc == nil || sc.Handle == nil {
		return nil
	}
	if err := sc.Handle.Close(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcpmgr: close %q: %w", sc.Name, err)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
