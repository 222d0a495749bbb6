package mcpconfig

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)

	var mu sync.Mutex
	var seen []*Document
	w := NewWatcher(path, func(doc *Document) {
		mu.Lock()
		seen = append(seen, doc)
		mu.Unlock()
	}, quietLogger())
	w.SetDebounce(20 * time.Millisecond)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	doc := Default()
	require.NoError(t, doc.SetActive("fetch", true))
	require.NoError(t, Save(path, doc))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) > 0
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	last := seen[len(seen)-1]
	mu.Unlock()
	assert.True(t, last.MCPServers["fetch"].Active)
}

func TestWatcherIgnoresOtherFilesAndBadJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)

	var mu sync.Mutex
	calls := 0
	w := NewWatcher(path, func(*Document) {
		mu.Lock()
		calls++
		mu.Unlock()
	}, quietLogger())
	w.SetDebounce(20 * time.Millisecond)
	require.NoError(t, w.Start(context.Background()))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "store.json"), []byte(`{}`), 0o644))
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o644))
	time.Sleep(200 * time.Millisecond)
	w.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, calls)
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	t.Parallel()

	w := NewWatcher(filepath.Join(t.TempDir(), "sub", FileName), nil, quietLogger())
	w.Stop()
	require.NoError(t, w.Start(context.Background()))
	w.Stop()
	w.Stop()
}
