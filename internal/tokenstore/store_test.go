package tokenstore

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/mcpgate/internal/config"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type storeFactory func(t *testing.T, clock *fakeClock) Store

func memoryFactory(t *testing.T, clock *fakeClock) Store {
	s := NewMemoryStore(WithClock(clock.Now), WithShards(4))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sqliteFactory(t *testing.T, clock *fakeClock) Store {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "tokens.db"))
	require.NoError(t, err)
	s.now = clock.Now
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func runStoreContract(t *testing.T, factory storeFactory) {
	ctx := context.Background()

	t.Run("put and get", func(t *testing.T) {
		s := factory(t, newFakeClock())
		require.NoError(t, s.Put(ctx, KindGrant, "code-1", []byte("grant"), time.Minute))

		v, err := s.Get(ctx, KindGrant, "code-1")
		require.NoError(t, err)
		assert.Equal(t, []byte("grant"), v)
	})

	t.Run("kinds are separate namespaces", func(t *testing.T) {
		s := factory(t, newFakeClock())
		require.NoError(t, s.Put(ctx, KindGrant, "k", []byte("grant"), 0))

		_, err := s.Get(ctx, KindAccess, "k")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("expires exactly at ttl", func(t *testing.T) {
		clock := newFakeClock()
		s := factory(t, clock)
		require.NoError(t, s.Put(ctx, KindAccess, "tok", []byte("v"), time.Minute))

		clock.Advance(time.Minute - time.Nanosecond)
		_, err := s.Get(ctx, KindAccess, "tok")
		require.NoError(t, err)

		clock.Advance(time.Nanosecond)
		_, err = s.Get(ctx, KindAccess, "tok")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("zero ttl never expires", func(t *testing.T) {
		clock := newFakeClock()
		s := factory(t, clock)
		require.NoError(t, s.Put(ctx, KindClient, "c", []byte("v"), 0))

		clock.Advance(1000 * time.Hour)
		_, err := s.Get(ctx, KindClient, "c")
		assert.NoError(t, err)
	})

	t.Run("take is single use", func(t *testing.T) {
		s := factory(t, newFakeClock())
		require.NoError(t, s.Put(ctx, KindGrant, "code", []byte("g"), time.Minute))

		v, err := s.Take(ctx, KindGrant, "code")
		require.NoError(t, err)
		assert.Equal(t, []byte("g"), v)

		_, err = s.Take(ctx, KindGrant, "code")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.Get(ctx, KindGrant, "code")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("take of expired entry fails", func(t *testing.T) {
		clock := newFakeClock()
		s := factory(t, clock)
		require.NoError(t, s.Put(ctx, KindGrant, "code", []byte("g"), time.Second))
		clock.Advance(time.Second)

		_, err := s.Take(ctx, KindGrant, "code")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("concurrent take has one winner", func(t *testing.T) {
		s := factory(t, newFakeClock())
		require.NoError(t, s.Put(ctx, KindGrant, "race", []byte("g"), time.Minute))

		var wins int32
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.Take(ctx, KindGrant, "race"); err == nil {
					atomic.AddInt32(&wins, 1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins)
	})

	t.Run("delete and overwrite", func(t *testing.T) {
		s := factory(t, newFakeClock())
		require.NoError(t, s.Put(ctx, KindRefresh, "r", []byte("one"), 0))
		require.NoError(t, s.Put(ctx, KindRefresh, "r", []byte("two"), 0))

		v, err := s.Get(ctx, KindRefresh, "r")
		require.NoError(t, err)
		assert.Equal(t, []byte("two"), v)

		require.NoError(t, s.Delete(ctx, KindRefresh, "r"))
		require.NoError(t, s.Delete(ctx, KindRefresh, "r"))
		_, err = s.Get(ctx, KindRefresh, "r")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, memoryFactory)
}

func TestSQLiteStore(t *testing.T) {
	runStoreContract(t, sqliteFactory)
}

func TestValkeyStore(t *testing.T) {
	addr := os.Getenv("MCPGATE_TEST_VALKEY_ADDR")
	if addr == "" {
		t.Skip("MCPGATE_TEST_VALKEY_ADDR not set")
	}
	// Valkey expires keys on its own clock, so only the clock-free cases apply.
	ctx := context.Background()
	s, err := NewValkeyStore(ValkeyConfig{Addresses: []string{addr}, KeyPrefix: "mcpgate-test:" + t.Name() + ":"})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put(ctx, KindGrant, "code", []byte("g"), time.Minute))
	v, err := s.Take(ctx, KindGrant, "code")
	require.NoError(t, err)
	assert.Equal(t, []byte("g"), v)

	_, err = s.Take(ctx, KindGrant, "code")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_CleanupRemovesExpired(t *testing.T) {
	clock := newFakeClock()
	s := NewMemoryStore(WithClock(clock.Now))
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Put(ctx, KindPending, "a", []byte("1"), time.Second))
	require.NoError(t, s.Put(ctx, KindPending, "b", []byte("2"), time.Hour))
	assert.Equal(t, 2, s.Len())

	clock.Advance(time.Minute)
	s.cleanup()
	assert.Equal(t, 1, s.Len())
}

func TestSQLiteStore_PurgeAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.db")
	clock := newFakeClock()
	ctx := context.Background()

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	s.now = clock.Now
	require.NoError(t, s.Put(ctx, KindClient, "durable", []byte("c"), 0))
	require.NoError(t, s.Put(ctx, KindGrant, "short", []byte("g"), time.Second))
	clock.Advance(time.Minute)
	require.NoError(t, s.purge(ctx))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()

	v, err := s.Get(ctx, KindClient, "durable")
	require.NoError(t, err)
	assert.Equal(t, []byte("c"), v)

	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM entries`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestOpen(t *testing.T) {
	s, err := Open(config.StorageConfig{Type: config.StorageMemory})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)
	_ = s.Close()

	s, err = Open(config.StorageConfig{Type: config.StorageSQLite, SQLitePath: filepath.Join(t.TempDir(), "t.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	_ = s.Close()

	_, err = Open(config.StorageConfig{Type: "etcd"})
	assert.Error(t, err)
}
