package mcpmgr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// RestartState is the per-server restart bookkeeping.
type RestartState struct {
	// Attempts counts failed connection attempts since the last success.
	Attempts int
	// Deactivated suppresses every automatic restart until the next StartServer.
	Deactivated bool
	// Connected reports whether the server connected at least once since it
	// was last started.
	Connected bool

	connecting bool
	// epoch is bumped by StartServer, StopServer and DeactivateServer so
	// stale background loops can tell they were superseded.
	epoch uint64
}

var errSuperseded = errors.New("mcpmgr: connection attempt superseded")

// RestartStatus returns a copy of the restart state for name.
func (m *Manager) RestartStatus(name string) (RestartState, bool) {
	m.restartMu.Lock()
	defer m.restartMu.Unlock()
	st, ok := m.restarts[name]
	if !ok {
		return RestartState{}, false
	}
	return *st, true
}

// stateLocked returns the restart state for name, creating it lazily.
// Callers hold restartMu.
func (m *Manager) stateLocked(name string) *RestartState {
	st, ok := m.restarts[name]
	if !ok {
		st = &RestartState{}
		m.restarts[name] = st
	}
	return st
}

// StartServer stores cfg as name's active configuration and connects it.
// Only the first attempt is awaited: on failure the remaining startup
// attempts continue in the background and a later success is visible through
// the registry only. Configuration errors are never retried.
func (m *Manager) StartServer(ctx context.Context, name string, cfg ServerConfig) error {
	if err := validateConfig(name, cfg); err != nil {
		return err
	}
	m.restartMu.Lock()
	if m.closed {
		m.restartMu.Unlock()
		return fmt.Errorf("mcpmgr: manager closed")
	}
	st := m.stateLocked(name)
	st.epoch++
	st.Deactivated = false
	st.Connected = false
	st.Attempts = 0
	st.connecting = true
	epoch := st.epoch
	m.active[name] = cfg
	m.restartMu.Unlock()

	m.logger.Info("starting server", slog.String("server", name), slog.Int("attempt", 1))
	err := m.connectAndInstall(ctx, name, cfg, epoch)
	if err == nil {
		return nil
	}
	m.logger.Warn("server start failed", slog.String("server", name), slog.Int("attempt", 1), slog.Any("error", err))

	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) || errors.Is(err, errSuperseded) || m.options.StartupAttempts <= 1 {
		m.finishConnecting(name, epoch)
		return err
	}
	if !m.goBackground(func() { m.retryLoop(name, cfg, epoch, m.options.StartupAttempts, "startup retry") }) {
		m.finishConnecting(name, epoch)
	}
	return err
}

// connectAndInstall makes one connection attempt and installs the result.
func (m *Manager) connectAndInstall(ctx context.Context, name string, cfg ServerConfig, epoch uint64) error {
	conn, err := m.connector.Connect(ctx, name, cfg)
	if err != nil {
		m.recordFailure(name, epoch)
		return err
	}
	return m.install(name, conn, epoch)
}

// install adds conn to the registry if epoch is still current, then starts
// its monitor. The restart lock is held across the registry insert so a
// concurrent deactivation either runs first and wins, or runs after and
// removes the new entry.
func (m *Manager) install(name string, conn Connection, epoch uint64) error {
	m.restartMu.Lock()
	st := m.restarts[name]
	if m.closed || st == nil || st.epoch != epoch || st.Deactivated {
		m.restartMu.Unlock()
		_ = conn.Close()
		return fmt.Errorf("%w: %q", errSuperseded, name)
	}
	sc := &ServerConnection{Name: name, Handle: conn, Initialized: true}
	prev := m.registry.Add(name, sc)
	m.tools.Invalidate(name)
	st.Connected = true
	st.Attempts = 0
	st.connecting = false
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.monitor(name, sc, epoch)
	}()
	m.restartMu.Unlock()

	if prev != nil {
		if err := closeConnection(prev); err != nil {
			m.logger.Warn("closing replaced connection", slog.String("server", name), slog.Any("error", err))
		}
	}
	m.logger.Info("server connected", slog.String("server", name))
	m.notifyConnection(name, true)
	return nil
}

func (m *Manager) recordFailure(name string, epoch uint64) {
	m.restartMu.Lock()
	defer m.restartMu.Unlock()
	if st, ok := m.restarts[name]; ok && st.epoch == epoch {
		st.Attempts++
	}
}

func (m *Manager) finishConnecting(name string, epoch uint64) {
	m.restartMu.Lock()
	defer m.restartMu.Unlock()
	if st, ok := m.restarts[name]; ok && st.epoch == epoch {
		st.connecting = false
	}
}

// stillWanted reports whether a background loop for epoch should keep
// trying to connect name.
func (m *Manager) stillWanted(name string, epoch uint64) bool {
	m.restartMu.Lock()
	defer m.restartMu.Unlock()
	st, ok := m.restarts[name]
	if m.closed || !ok || st.epoch != epoch || st.Deactivated {
		return false
	}
	_, connected := m.registry.Get(name)
	return !connected
}

// retryLoop keeps reconnecting name while its restart counter is below
// limit. Each failed attempt bumps the counter, so ResetRestartCount grants a
// running loop a fresh budget and restarts its backoff ramp.
func (m *Manager) retryLoop(name string, cfg ServerConfig, epoch uint64, limit int, reason string) {
	defer m.finishConnecting(name, epoch)
	start, _ := m.attemptsWithin(name, epoch, limit)
	for {
		failures, ok := m.attemptsWithin(name, epoch, limit)
		if !ok {
			if m.stillWanted(name, epoch) {
				m.logger.Error("giving up on server", slog.String("server", name), slog.String("reason", reason),
					slog.Int("attempts", failures))
			}
			return
		}
		delay := m.options.Backoff.Delay(failures - start)
		m.logger.Info("scheduling reconnect", slog.String("server", name), slog.String("reason", reason),
			slog.Int("attempt", failures+1), slog.Duration("delay", delay))
		if !sleepContext(m.ctx, delay) || !m.stillWanted(name, epoch) {
			return
		}
		err := m.connectAndInstall(m.ctx, name, cfg, epoch)
		if err == nil || errors.Is(err, errSuperseded) {
			return
		}
		m.logger.Warn("reconnect attempt failed", slog.String("server", name), slog.Int("attempt", failures+1), slog.Any("error", err))
		var cfgErr *ConfigError
		if errors.As(err, &cfgErr) {
			return
		}
	}
}

// attemptsWithin returns name's restart counter and whether another attempt
// fits under limit for epoch.
func (m *Manager) attemptsWithin(name string, epoch uint64, limit int) (int, bool) {
	m.restartMu.Lock()
	defer m.restartMu.Unlock()
	st, ok := m.restarts[name]
	if !ok || st.epoch != epoch {
		return 0, false
	}
	return st.Attempts, st.Attempts < limit
}

// monitor waits for sc to end and restarts the server unless it was stopped,
// replaced or deactivated in the meantime.
func (m *Manager) monitor(name string, sc *ServerConnection, epoch uint64) {
	waitErr := sc.Handle.Wait()

	m.restartMu.Lock()
	st := m.restarts[name]
	if m.closed || st == nil || st.epoch != epoch || st.Deactivated || !st.Connected {
		m.restartMu.Unlock()
		return
	}
	if !m.registry.RemoveIf(name, sc) {
		m.restartMu.Unlock()
		return
	}
	m.tools.Invalidate(name)
	cfg, ok := m.active[name]
	st.connecting = ok
	m.restartMu.Unlock()

	_ = closeConnection(sc)
	m.logger.Warn("server connection lost", slog.String("server", name), slog.Any("error", waitErr))
	m.notifyConnection(name, false)
	if !ok {
		return
	}
	m.retryLoop(name, cfg, epoch, m.options.MaxRestarts, "connection lost")
}

// Reconnect tears down name's connection and makes one attempt with the
// stored configuration. Success resets the restart counter; failure
// increments it. Deactivated servers fail fast.
func (m *Manager) Reconnect(ctx context.Context, name string) error {
	m.restartMu.Lock()
	st := m.restarts[name]
	if st != nil && st.Deactivated {
		m.restartMu.Unlock()
		return fmt.Errorf("%w: %q", ErrServerDeactivated, name)
	}
	cfg, ok := m.active[name]
	if !ok {
		m.restartMu.Unlock()
		return fmt.Errorf("%w: no stored configuration for %q", ErrUnknownServer, name)
	}
	st = m.stateLocked(name)
	epoch := st.epoch
	old, _ := m.registry.Remove(name)
	m.tools.Invalidate(name)
	m.restartMu.Unlock()

	if err := closeConnection(old); err != nil {
		m.logger.Warn("closing stale connection", slog.String("server", name), slog.Any("error", err))
	}
	m.logger.Info("reconnecting server", slog.String("server", name))
	if err := m.connectAndInstall(ctx, name, cfg, epoch); err != nil {
		return fmt.Errorf("mcpmgr: reconnect %q: %w", name, err)
	}
	return nil
}

// DeactivateServer stops name and suppresses every automatic restart. The
// flags are updated before the registry entry and active configuration are
// removed, all under the restart lock, and the connection is closed last.
// Names with neither a connection nor a configuration report
// ErrUnknownServer after the flags are applied.
func (m *Manager) DeactivateServer(name string) error {
	m.restartMu.Lock()
	st := m.stateLocked(name)
	st.Deactivated = true
	st.Connected = false
	st.Attempts = 0
	st.connecting = false
	st.epoch++
	sc, connected := m.registry.Remove(name)
	_, configured := m.active[name]
	delete(m.active, name)
	m.tools.Invalidate(name)
	m.restartMu.Unlock()

	m.logger.Info("server deactivated", slog.String("server", name))
	if connected {
		m.notifyConnection(name, false)
	}
	if err := closeConnection(sc); err != nil {
		return err
	}
	if !connected && !configured {
		return fmt.Errorf("%w: %q", ErrUnknownServer, name)
	}
	return nil
}

// StopServer closes name's connection without deactivating it. Its
// configuration stays active so RestartActiveServers brings it back.
func (m *Manager) StopServer(name string) error {
	m.restartMu.Lock()
	if st, ok := m.restarts[name]; ok {
		st.epoch++
		st.Connected = false
		st.connecting = false
	}
	sc, ok := m.registry.Remove(name)
	m.tools.Invalidate(name)
	m.restartMu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q is not connected", ErrUnknownServer, name)
	}
	m.logger.Info("server stopped", slog.String("server", name))
	m.notifyConnection(name, false)
	return closeConnection(sc)
}

// StopAll stops every connected server.
func (m *Manager) StopAll() error {
	var errs []error
	for _, name := range m.registry.Names() {
		if err := m.StopServer(name); err != nil && !errors.Is(err, ErrUnknownServer) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ResetRestartCount zeroes name's restart counter. A background retry loop
// that is still running gets a fresh attempt budget.
func (m *Manager) ResetRestartCount(name string) error {
	m.restartMu.Lock()
	defer m.restartMu.Unlock()
	st, ok := m.restarts[name]
	if !ok {
		if _, configured := m.active[name]; !configured {
			return fmt.Errorf("%w: %q", ErrUnknownServer, name)
		}
		st = m.stateLocked(name)
	}
	st.Attempts = 0
	return nil
}

// RestartActiveServers restarts every server in the active map concurrently
// and notifies OnServersUpdated observers. Each server's result is its first
// start attempt; failures are joined.
func (m *Manager) RestartActiveServers(ctx context.Context) error {
	active := m.ActiveServers()
	names := sortedKeys(active)
	errs := make([]error, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.StopServer(name); err != nil && !errors.Is(err, ErrUnknownServer) {
				m.logger.Warn("stopping server for restart", slog.String("server", name), slog.Any("error", err))
			}
			if err := m.StartServer(ctx, name, active[name]); err != nil {
				errs[i] = fmt.Errorf("mcpmgr: restart %q: %w", name, err)
			}
		}()
	}
	wg.Wait()
	m.NotifyServersUpdated()
	return errors.Join(errs...)
}
