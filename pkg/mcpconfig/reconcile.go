package mcpconfig

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"reflect"
	"slices"

	"github.com/vikashloomba/mcp-tool-router-go/pkg/mcpmgr"
)

// Lifecycle is the part of *mcpmgr.Manager that Reconcile drives.
type Lifecycle interface {
	ActiveServers() map[string]mcpmgr.ServerConfig
	StartServer(ctx context.Context, name string, cfg mcpmgr.ServerConfig) error
	DeactivateServer(name string) error
	NotifyServersUpdated()
}

// ReconcileResult lists what a reconciliation changed.
type ReconcileResult struct {
	Started     []string
	Deactivated []string
}

// Changed reports whether any server was started or deactivated.
func (r ReconcileResult) Changed() bool {
	return len(r.Started) > 0 || len(r.Deactivated) > 0
}

// Reconcile brings mgr in line with doc: active entries that are new or
// whose configuration changed are (re)started, and running servers no longer
// active in doc are deactivated. Servers named in keep are never
// deactivated, which protects servers configured outside the document.
// Start failures do not stop the pass; they are joined into the returned
// error.
func Reconcile(ctx context.Context, mgr Lifecycle, doc *Document, logger *slog.Logger, keep ...string) (ReconcileResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var result ReconcileResult
	desired, convErr := doc.ActiveConfigs()
	errs := []error{convErr}

	protected := make(map[string]bool, len(keep))
	for _, name := range keep {
		protected[name] = true
	}

	current := mgr.ActiveServers()
	for _, name := range sortedNames(current) {
		if _, ok := desired[name]; ok || protected[name] {
			continue
		}
		if err := mgr.DeactivateServer(name); err != nil && !errors.Is(err, mcpmgr.ErrUnknownServer) {
			errs = append(errs, fmt.Errorf("deactivate %s: %w", name, err))
			continue
		}
		logger.Info("server deactivated by config", "server", name)
		result.Deactivated = append(result.Deactivated, name)
	}

	for _, name := range sortedNames(desired) {
		cfg := desired[name]
		if prev, ok := current[name]; ok && sameServer(prev, cfg) {
			continue
		}
		result.Started = append(result.Started, name)
		if err := mgr.StartServer(ctx, name, cfg); err != nil {
			logger.Warn("server start failed", "server", name, "error", err)
			errs = append(errs, fmt.Errorf("start %s: %w", name, err))
			continue
		}
		logger.Info("server started by config", "server", name)
	}

	if result.Changed() {
		mgr.NotifyServersUpdated()
	}
	return result, errors.Join(errs...)
}

// sameServer compares the launch-relevant fields of two configurations.
func sameServer(a, b mcpmgr.ServerConfig) bool {
	switch x := a.(type) {
	case *mcpmgr.StdioServerConfig:
		y, ok := b.(*mcpmgr.StdioServerConfig)
		if !ok {
			return false
		}
		return x.Command == y.Command &&
			reflect.DeepEqual(nonNilSlice(x.Args), nonNilSlice(y.Args)) &&
			reflect.DeepEqual(nonNilMap(x.Env), nonNilMap(y.Env))
	case *mcpmgr.HTTPServerConfig:
		y, ok := b.(*mcpmgr.HTTPServerConfig)
		if !ok {
			return false
		}
		if len(x.Headers) == 0 && len(y.Headers) == 0 {
			return x.Endpoint == y.Endpoint
		}
		return x.Endpoint == y.Endpoint && reflect.DeepEqual(x.Headers, y.Headers)
	default:
		return false
	}
}

func nonNilSlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func sortedNames[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
