// ABOUTME: Tests for the idempotency cache.
// ABOUTME: Validates reservation states, TTL expiration, eviction, cleanup, and concurrency safety.

package dedupe

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_Reserve_NewKey(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	value, state := cache.Reserve("k1")
	assert.Equal(t, Reserved, state)
	assert.Empty(t, value)
}

func TestCache_Reserve_InFlight(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	cache.Reserve("k1")
	_, state := cache.Reserve("k1")
	assert.Equal(t, InFlight, state)
}

func TestCache_Complete_ReturnsStoredValue(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	cache.Reserve("k1")
	cache.Complete("k1", "msg-123")

	value, state := cache.Reserve("k1")
	assert.Equal(t, Done, state)
	assert.Equal(t, "msg-123", value)
}

func TestCache_Forget_AllowsRetry(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	cache.Reserve("k1")
	cache.Forget("k1")

	_, state := cache.Reserve("k1")
	assert.Equal(t, Reserved, state)

	// Forgetting an unknown key is harmless
	cache.Forget("unknown")
}

func TestCache_Expired(t *testing.T) {
	cache := New(time.Minute, 100)
	defer cache.Close()

	now := time.Now()
	cache.now = func() time.Time { return now }

	cache.Reserve("k1")
	cache.Complete("k1", "msg-1")

	now = now.Add(2 * time.Minute)

	_, state := cache.Reserve("k1")
	assert.Equal(t, Reserved, state, "expired keys can be reused")
}

func TestCache_Key_ScopesByUser(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	cache.Reserve(Key("alice", "retry-1"))
	cache.Complete(Key("alice", "retry-1"), "msg-a")

	_, state := cache.Reserve(Key("bob", "retry-1"))
	assert.Equal(t, Reserved, state)
}

func TestCache_Eviction(t *testing.T) {
	cache := New(5*time.Minute, 3)
	defer cache.Close()

	cache.Reserve("key-1")
	cache.Reserve("key-2")
	cache.Reserve("key-3")
	cache.Reserve("key-4")

	assert.Equal(t, 3, cache.Len())

	// Oldest key was evicted so it can be reserved again
	_, state := cache.Reserve("key-1")
	assert.Equal(t, Reserved, state)
	_, state = cache.Reserve("key-4")
	assert.Equal(t, InFlight, state)
}

func TestCache_Cleanup(t *testing.T) {
	cache := New(time.Minute, 100)
	defer cache.Close()

	now := time.Now()
	cache.now = func() time.Time { return now }

	cache.Reserve("old")
	now = now.Add(2 * time.Minute)
	cache.Reserve("fresh")

	cache.runCleanup()

	assert.Equal(t, 1, cache.Len())
	_, state := cache.Reserve("fresh")
	assert.Equal(t, InFlight, state)
}

func TestCache_Reserve_Atomic(t *testing.T) {
	cache := New(5*time.Minute, 1000)
	defer cache.Close()

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, state := cache.Reserve("contended"); state == Reserved {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), winners.Load(), "exactly one caller may own the key")
}

func TestCache_Close(t *testing.T) {
	cache := New(5*time.Minute, 100)

	cache.Close()
	// Second close must not panic
	assert.NotPanics(t, cache.Close)
}
