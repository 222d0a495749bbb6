package mcpmgr

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu    sync.Mutex
	data  map[string]json.RawMessage
	saves int
}

func newMemStore() *memStore { return &memStore{data: make(map[string]json.RawMessage)} }

func (s *memStore) Get(key string) (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok
}

func (s *memStore) Set(key string, value any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = b
	return nil
}

func (s *memStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	return nil
}

func TestBuiltinCredentialsRoundTrip(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	creds := ReadBuiltinCredentials(store)
	assert.Equal(t, DefaultBuiltinEndpoint, creds.Endpoint)
	assert.Empty(t, creds.APIKey)

	require.NoError(t, SaveBuiltinCredentials(store, "https://staging.example.com", "key-1"))
	assert.Equal(t, 1, store.saves)
	raw, ok := store.Get(SettingAPIKey)
	require.True(t, ok)
	assert.JSONEq(t, `{"state":{"apiKey":"key-1"},"version":0}`, string(raw))

	creds = ReadBuiltinCredentials(store)
	assert.Equal(t, BuiltinCredentials{Endpoint: "https://staging.example.com", APIKey: "key-1"}, creds)
}

func TestBuiltinServerConfig(t *testing.T) {
	t.Parallel()

	cfg := BuiltinServerConfig(BuiltinCredentials{Endpoint: "https://agent.example.com/", APIKey: "k"})
	assert.Equal(t, "https://agent.example.com/mcp", cfg.Endpoint)
	assert.Equal(t, "Bearer k", HeaderOf(cfg, "Authorization"))

	cfg = BuiltinServerConfig(BuiltinCredentials{Endpoint: "https://agent.example.com/mcp", APIKey: "k"})
	assert.Equal(t, "https://agent.example.com/mcp", cfg.Endpoint)
}

func TestStartBuiltinServer(t *testing.T) {
	t.Parallel()

	connector := newFakeConnector()
	connector.script(DefaultBuiltinServer, connOK(newFakeConn("prospect_lead")))
	m := newTestManager(t, connector)
	store := newMemStore()

	err := m.StartBuiltinServer(context.Background(), store)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Zero(t, connector.attemptsFor(DefaultBuiltinServer))

	require.NoError(t, SaveBuiltinCredentials(store, "", "key-2"))
	require.NoError(t, m.StartBuiltinServer(context.Background(), store))
	assert.True(t, m.HasServer(DefaultBuiltinServer))

	httpCfg, ok := AsHTTP(connector.configFor(DefaultBuiltinServer))
	require.True(t, ok)
	assert.Equal(t, DefaultBuiltinEndpoint+"/mcp", httpCfg.Endpoint)
	assert.Equal(t, "Bearer key-2", httpCfg.Headers.Get("Authorization"))
}
