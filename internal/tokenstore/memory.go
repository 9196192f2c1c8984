package tokenstore

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/giantswarm/mcpgate/pkg/logging"
)

const (
	defaultShards          = 16
	defaultCleanupInterval = time.Minute
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time // zero: never
}

type memoryShard struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

// MemoryStore is a sharded in-process Store. Each shard has its own lock so
// unrelated keys never contend.
type MemoryStore struct {
	shards []*memoryShard
	now    func() time.Time

	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// WithShards sets the number of shards.
func WithShards(n int) MemoryOption {
	return func(s *MemoryStore) {
		if n > 0 {
			s.shards = make([]*memoryShard, n)
		}
	}
}

// NewMemoryStore creates a MemoryStore and starts its cleanup loop.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		shards:      make([]*memoryShard, defaultShards),
		now:         time.Now,
		stopCleanup: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	for i := range s.shards {
		s.shards[i] = &memoryShard{entries: make(map[string]memoryEntry)}
	}

	go s.cleanupLoop(defaultCleanupInterval)
	return s
}

func (s *MemoryStore) shard(k string) *memoryShard {
	return s.shards[xxhash.Sum64String(k)%uint64(len(s.shards))]
}

func (s *MemoryStore) expired(e memoryEntry) bool {
	return !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt)
}

// Put stores value under kind/key, replacing any previous entry.
func (s *MemoryStore) Put(_ context.Context, kind Kind, key string, value []byte, ttl time.Duration) error {
	k := compositeKey(kind, key)
	e := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}

	sh := s.shard(k)
	sh.mu.Lock()
	sh.entries[k] = e
	sh.mu.Unlock()
	return nil
}

// Get returns a copy of the stored value.
func (s *MemoryStore) Get(_ context.Context, kind Kind, key string) ([]byte, error) {
	k := compositeKey(kind, key)
	sh := s.shard(k)

	sh.mu.RLock()
	e, ok := sh.entries[k]
	sh.mu.RUnlock()

	if !ok || s.expired(e) {
		return nil, ErrNotFound
	}
	return append([]byte(nil), e.value...), nil
}

// Take removes and returns the entry under the shard's write lock.
func (s *MemoryStore) Take(_ context.Context, kind Kind, key string) ([]byte, error) {
	k := compositeKey(kind, key)
	sh := s.shard(k)

	sh.mu.Lock()
	e, ok := sh.entries[k]
	if ok {
		delete(sh.entries, k)
	}
	sh.mu.Unlock()

	if !ok || s.expired(e) {
		return nil, ErrNotFound
	}
	return e.value, nil
}

// Delete removes an entry. Deleting a missing key is not an error.
func (s *MemoryStore) Delete(_ context.Context, kind Kind, key string) error {
	k := compositeKey(kind, key)
	sh := s.shard(k)

	sh.mu.Lock()
	delete(sh.entries, k)
	sh.mu.Unlock()
	return nil
}

// Len returns the number of entries, expired ones included until the next sweep.
func (s *MemoryStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.entries)
		sh.mu.RUnlock()
	}
	return n
}

// Close stops the cleanup loop.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
	return nil
}

func (s *MemoryStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCleanup:
			return
		}
	}
}

// cleanup removes expired entries one shard at a time.
func (s *MemoryStore) cleanup() {
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for k, e := range sh.entries {
			if s.expired(e) {
				delete(sh.entries, k)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	if removed > 0 {
		logging.Debug("TokenStore", "Cleaned up %d expired entries", removed)
	}
}
