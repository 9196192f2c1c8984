package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/giantswarm/mcpgate/pkg/logging"
)

// CloseReason records why a session ended.
type CloseReason string

const (
	CloseReasonClient   CloseReason = "client"
	CloseReasonIdle     CloseReason = "idle"
	CloseReasonShutdown CloseReason = "shutdown"
)

// Observer is notified of session lifecycle changes.
type Observer interface {
	SessionOpened()
	SessionClosed(reason CloseReason, lifetime time.Duration)
}

// Config bounds the registry.
type Config struct {
	MaxSessions  int
	QueueSize    int
	Shards       int
	IdleTimeout  time.Duration
	ReapInterval time.Duration
	ClosedGrace  time.Duration
	FlushTimeout time.Duration
}

const (
	DefaultMaxSessions  = 1000
	DefaultQueueSize    = 256
	DefaultShards       = 16
	DefaultIdleTimeout  = 30 * time.Minute
	DefaultClosedGrace  = 30 * time.Second
	DefaultFlushTimeout = 5 * time.Second

	minReapInterval = time.Second
)

type shard struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// Registry tracks open sessions. The session map is sharded so lookups for
// unrelated sessions never contend on one lock.
type Registry struct {
	shards []*shard
	cfg    Config
	now    func() time.Time

	active   atomic.Int64
	observer Observer

	stopReaper chan struct{}
	stopOnce   sync.Once
	reaperDone chan struct{}
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// WithObserver registers a lifecycle observer.
func WithObserver(o Observer) Option {
	return func(r *Registry) {
		r.observer = o
	}
}

// WithoutReaper disables the background idle sweep; Reap can still be called directly.
func WithoutReaper() Option {
	return func(r *Registry) {
		r.cfg.ReapInterval = -1
	}
}

// NewRegistry creates a registry and starts its idle reaper.
func NewRegistry(cfg Config, opts ...Option) *Registry {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Shards <= 0 {
		cfg.Shards = DefaultShards
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.ClosedGrace <= 0 {
		cfg.ClosedGrace = DefaultClosedGrace
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = DefaultFlushTimeout
	}
	if cfg.ReapInterval == 0 {
		cfg.ReapInterval = cfg.IdleTimeout / 2
	}

	r := &Registry{
		shards:     make([]*shard, cfg.Shards),
		cfg:        cfg,
		now:        time.Now,
		stopReaper: make(chan struct{}),
		reaperDone: make(chan struct{}),
	}
	for i := range r.shards {
		r.shards[i] = &shard{sessions: make(map[string]*Session)}
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.cfg.ReapInterval > 0 {
		interval := r.cfg.ReapInterval
		if interval < minReapInterval {
			interval = minReapInterval
		}
		go r.reapLoop(interval)
	} else {
		close(r.reaperDone)
	}

	return r
}

func (r *Registry) shardFor(id string) *shard {
	return r.shards[xxhash.Sum64String(id)%uint64(len(r.shards))]
}

// Open allocates a new ACTIVE session owned by owner.
func (r *Registry) Open(owner string) (*Session, error) {
	for {
		current := r.active.Load()
		if current >= int64(r.cfg.MaxSessions) {
			return nil, &RegistryExhaustedError{Limit: r.cfg.MaxSessions}
		}
		if r.active.CompareAndSwap(current, current+1) {
			break
		}
	}

	for {
		id := uuid.NewString()
		sh := r.shardFor(id)
		sh.mu.Lock()
		if _, exists := sh.sessions[id]; exists {
			sh.mu.Unlock()
			continue
		}
		s := newSession(id, owner, r.now, r.cfg.QueueSize)
		sh.sessions[id] = s
		sh.mu.Unlock()

		if r.observer != nil {
			r.observer.SessionOpened()
		}
		logging.Debug("SessionRegistry", "Opened session %s for %s", logging.TruncateSessionID(id), owner)
		return s, nil
	}
}

// Get returns the session with the given ID, in any state.
func (r *Registry) Get(id string) (*Session, error) {
	sh := r.shardFor(id)
	sh.mu.RLock()
	s, ok := sh.sessions[id]
	sh.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Send appends msg to the session's queue. Messages sent to one session are
// observed by its consumer in the order Send was called.
func (r *Registry) Send(id string, msg Message) error {
	s, err := r.Get(id)
	if err != nil {
		return err
	}
	return s.enqueue(msg, r.now())
}

// Reserve holds a queue slot on the session for a message sent later. The
// slot counts against the queue bound until its message is consumed, and
// Reservation.Send never fails with ErrQueueFull.
func (r *Registry) Reserve(id string) (*Reservation, error) {
	s, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	if err := s.reserve(); err != nil {
		return nil, err
	}
	return &Reservation{session: s}, nil
}

// Touch records inbound activity on a session.
func (r *Registry) Touch(id string) error {
	s, err := r.Get(id)
	if err != nil {
		return err
	}
	if !s.touch(r.now()) {
		return ErrSessionClosed
	}
	return nil
}

// Close moves a session through CLOSING to CLOSED, waiting up to the flush
// timeout for an attached consumer to drain pending messages. Closing a session
// that is already closing or closed is a no-op.
func (r *Registry) Close(id string) error {
	s, err := r.Get(id)
	if err != nil {
		return err
	}
	r.close(s, CloseReasonClient)
	return nil
}

func (r *Registry) close(s *Session, reason CloseReason) {
	drained, ok := s.beginClose()
	if !ok {
		return
	}
	r.active.Add(-1)

	timer := time.NewTimer(r.cfg.FlushTimeout)
	select {
	case <-drained:
	case <-timer.C:
	}
	timer.Stop()

	now := r.now()
	if dropped := s.finishClose(now); dropped > 0 {
		logging.Warn("SessionRegistry", "Session %s closed with %d undelivered messages",
			logging.TruncateSessionID(s.ID), dropped)
	}
	if r.observer != nil {
		r.observer.SessionClosed(reason, now.Sub(s.CreatedAt))
	}
	logging.Debug("SessionRegistry", "Closed session %s (%s)", logging.TruncateSessionID(s.ID), reason)
}

// Count returns the number of ACTIVE sessions.
func (r *Registry) Count() int {
	return int(r.active.Load())
}

// Active returns a snapshot of all ACTIVE sessions.
func (r *Registry) Active() []*Session {
	var out []*Session
	for _, sh := range r.shards {
		sh.mu.RLock()
		for _, s := range sh.sessions {
			if s.State() == StateActive {
				out = append(out, s)
			}
		}
		sh.mu.RUnlock()
	}
	return out
}

// Broadcast sends msg to every ACTIVE session and returns how many accepted it.
func (r *Registry) Broadcast(msg Message) int {
	n := 0
	for _, s := range r.Active() {
		if err := s.enqueue(msg, r.now()); err == nil {
			n++
		}
	}
	return n
}

// Reap closes idle sessions and removes CLOSED sessions past their grace period.
func (r *Registry) Reap() {
	now := r.now()
	var idle []*Session
	removed := 0

	for _, sh := range r.shards {
		sh.mu.Lock()
		for id, s := range sh.sessions {
			switch {
			case s.expiredClosed(now, r.cfg.ClosedGrace):
				delete(sh.sessions, id)
				removed++
			case s.idleSince(now, r.cfg.IdleTimeout):
				idle = append(idle, s)
			}
		}
		sh.mu.Unlock()
	}

	var wg sync.WaitGroup
	for _, s := range idle {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			r.close(s, CloseReasonIdle)
		}(s)
	}
	wg.Wait()

	if len(idle) > 0 || removed > 0 {
		logging.Debug("SessionRegistry", "Reaped %d idle sessions, removed %d closed sessions", len(idle), removed)
	}
}

// Stop halts the reaper and closes every open session.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopReaper)
		<-r.reaperDone

		var wg sync.WaitGroup
		for _, s := range r.Active() {
			wg.Add(1)
			go func(s *Session) {
				defer wg.Done()
				r.close(s, CloseReasonShutdown)
			}(s)
		}
		wg.Wait()
		logging.Debug("SessionRegistry", "Session registry stopped")
	})
}

func (r *Registry) reapLoop(interval time.Duration) {
	defer close(r.reaperDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Reap()
		case <-r.stopReaper:
			return
		}
	}
}
