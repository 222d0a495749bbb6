package mcpmgr

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

const (
	// SettingEndpoint holds {"state":{"endpoint":...}}.
	SettingEndpoint = "salesbox-endpoint"
	// SettingAPIKey holds {"state":{"apiKey":...}}.
	SettingAPIKey = "salesbox-api-key"
	// DefaultBuiltinEndpoint is used when no endpoint was saved.
	DefaultBuiltinEndpoint = "https://agent.salesbox.ai"
)

// SettingsStore is the key-value store holding the built-in server's
// endpoint and API key.
type SettingsStore interface {
	Get(key string) (json.RawMessage, bool)
	Set(key string, value any) error
	Save() error
}

// BuiltinCredentials locate and authenticate the built-in server.
type BuiltinCredentials struct {
	Endpoint string
	APIKey   string
}

type settingsEnvelope struct {
	State   map[string]any `json:"state"`
	Version int            `json:"version"`
}

func readStateString(store SettingsStore, key, field string) string {
	raw, ok := store.Get(key)
	if !ok {
		return ""
	}
	var env settingsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return ""
	}
	s, _ := env.State[field].(string)
	return strings.TrimSpace(s)
}

// ReadBuiltinCredentials reads the built-in server's endpoint and API key.
// A missing endpoint falls back to DefaultBuiltinEndpoint.
func ReadBuiltinCredentials(store SettingsStore) BuiltinCredentials {
	creds := BuiltinCredentials{
		Endpoint: readStateString(store, SettingEndpoint, "endpoint"),
		APIKey:   readStateString(store, SettingAPIKey, "apiKey"),
	}
	if creds.Endpoint == "" {
		creds.Endpoint = DefaultBuiltinEndpoint
	}
	return creds
}

// SaveBuiltinCredentials writes endpoint and apiKey in the envelope shape the
// desktop client uses, then persists the store. Empty values are skipped.
func SaveBuiltinCredentials(store SettingsStore, endpoint, apiKey string) error {
	if endpoint = strings.TrimSpace(endpoint); endpoint != "" {
		if err := store.Set(SettingEndpoint, settingsEnvelope{State: map[string]any{"endpoint": endpoint}}); err != nil {
			return fmt.Errorf("mcpmgr: store endpoint: %w", err)
		}
	}
	if apiKey = strings.TrimSpace(apiKey); apiKey != "" {
		if err := store.Set(SettingAPIKey, settingsEnvelope{State: map[string]any{"apiKey": apiKey}}); err != nil {
			return fmt.Errorf("mcpmgr: store api key: %w", err)
		}
	}
	if err := store.Save(); err != nil {
		return fmt.Errorf("mcpmgr: save settings: %w", err)
	}
	return nil
}

// BuiltinServerConfig returns the Streamable HTTP configuration for the
// built-in server at <endpoint>/mcp with a bearer Authorization header.
func BuiltinServerConfig(creds BuiltinCredentials) *HTTPServerConfig {
	endpoint := strings.TrimRight(strings.TrimSpace(creds.Endpoint), "/")
	if !strings.HasSuffix(endpoint, "/mcp") {
		endpoint += "/mcp"
	}
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+creds.APIKey)
	return &HTTPServerConfig{Endpoint: endpoint, Headers: headers}
}

// StartBuiltinServer starts the designated built-in server from the saved
// credentials. Without an API key nothing is started and a *ConfigError is
// returned.
func (m *Manager) StartBuiltinServer(ctx context.Context, store SettingsStore) error {
	creds := ReadBuiltinCredentials(store)
	name := m.options.BuiltinServer
	if creds.APIKey == "" {
		m.logger.Info("no API key saved, built-in server not started", slog.String("server", name))
		return &ConfigError{Server: name, Reason: "api key missing"}
	}
	return m.StartServer(ctx, name, BuiltinServerConfig(creds))
}
