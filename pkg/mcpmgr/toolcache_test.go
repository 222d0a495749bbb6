package mcpmgr

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolCacheFetchesOnce(t *testing.T) {
	t.Parallel()

	cache := NewToolCache(time.Second)
	conn := newFakeConn("echo", "sum")

	first, err := cache.GetOrFetch(context.Background(), "alpha", conn)
	require.NoError(t, err)
	second, err := cache.GetOrFetch(context.Background(), "alpha", conn)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), conn.listCalls.Load())

	// Callers get their own slice.
	first[0] = &mcp.Tool{Name: "mutated"}
	cached, ok := cache.Get("alpha")
	require.True(t, ok)
	assert.Equal(t, "echo", cached[0].Name)
}

func TestToolCacheDoesNotCacheFailures(t *testing.T) {
	t.Parallel()

	cache := NewToolCache(time.Second)
	conn := newFakeConn("echo")
	conn.listErr = errors.New("boom")

	_, err := cache.GetOrFetch(context.Background(), "alpha", conn)
	require.Error(t, err)
	_, ok := cache.Get("alpha")
	assert.False(t, ok)

	conn.listErr = nil
	tools, err := cache.GetOrFetch(context.Background(), "alpha", conn)
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, int32(2), conn.listCalls.Load())
}

func TestToolCacheInvalidateForcesRefetch(t *testing.T) {
	t.Parallel()

	cache := NewToolCache(time.Second)
	conn := newFakeConn("echo")
	_, err := cache.GetOrFetch(context.Background(), "alpha", conn)
	require.NoError(t, err)

	cache.Invalidate("alpha")
	_, ok := cache.Get("alpha")
	assert.False(t, ok)

	_, err = cache.GetOrFetch(context.Background(), "alpha", conn)
	require.NoError(t, err)
	assert.Equal(t, int32(2), conn.listCalls.Load())
}

func TestToolCacheDeduplicatesConcurrentMisses(t *testing.T) {
	t.Parallel()

	cache := NewToolCache(time.Second)
	release := make(chan struct{})
	conn := newFakeConn()
	conn.listFn = func(ctx context.Context) ([]*mcp.Tool, error) {
		<-release
		return []*mcp.Tool{{Name: "echo"}}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tools, err := cache.GetOrFetch(context.Background(), "alpha", conn)
			assert.NoError(t, err)
			assert.Len(t, tools, 1)
		}()
	}
	require.Eventually(t, func() bool { return conn.listCalls.Load() >= 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.Equal(t, int32(1), conn.listCalls.Load())
}

func TestToolCacheInvalidateDuringFetchDropsResult(t *testing.T) {
	t.Parallel()

	cache := NewToolCache(time.Second)
	release := make(chan struct{})
	conn := newFakeConn()
	conn.listFn = func(ctx context.Context) ([]*mcp.Tool, error) {
		<-release
		return []*mcp.Tool{{Name: "stale"}}, nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = cache.GetOrFetch(context.Background(), "alpha", conn)
	}()
	require.Eventually(t, func() bool { return conn.listCalls.Load() == 1 }, time.Second, time.Millisecond)
	cache.Invalidate("alpha")
	close(release)
	<-done

	_, ok := cache.Get("alpha")
	assert.False(t, ok, "a list fetched from a replaced connection must not be cached")
}

func TestToolCacheTimeout(t *testing.T) {
	t.Parallel()

	cache := NewToolCache(20 * time.Millisecond)
	conn := newFakeConn()
	conn.listFn = func(ctx context.Context) ([]*mcp.Tool, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	_, err := cache.GetOrFetch(context.Background(), "slow", conn)
	require.ErrorIs(t, err, ErrToolCallTimeout)
	assert.False(t, IsTransportError(err))
}
