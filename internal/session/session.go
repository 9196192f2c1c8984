package session

import (
	"context"
	"io"
	"sync"
	"time"
)

// State is the lifecycle state of a session.
type State int

const (
	StateActive State = iota
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "ACTIVE"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Message is one framed event on a session's stream.
type Message struct {
	Event string // SSE event name, e.g. "message"
	Data  []byte
}

// Session is one agent's long-lived stream. The registry owns its lifecycle;
// the stream consumer reads it with Next.
type Session struct {
	ID        string
	Owner     string
	CreatedAt time.Time

	clock        func() time.Time
	mu           sync.Mutex
	state        State
	queue        []Message
	maxQueue     int
	reserved     int // queue slots held by outstanding reservations
	lastActivity time.Time
	closedAt     time.Time
	consumers    int

	notify  chan struct{} // capacity 1; signalled on enqueue and state change
	drained chan struct{} // closed once a CLOSING session has no pending messages
}

func newSession(id, owner string, clock func() time.Time, maxQueue int) *Session {
	now := clock()
	return &Session{
		ID:           id,
		Owner:        owner,
		CreatedAt:    now,
		clock:        clock,
		state:        StateActive,
		maxQueue:     maxQueue,
		lastActivity: now,
		notify:       make(chan struct{}, 1),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastActivity returns the time of the last send, receive or touch.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Consumers returns the number of attached stream consumers.
func (s *Session) Consumers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consumers
}

// Pending returns the number of queued messages.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Attach registers a stream consumer. The returned function detaches it.
// The idle timeout does not run while a consumer is attached; it restarts
// when the last one detaches.
func (s *Session) Attach() (detach func()) {
	s.mu.Lock()
	s.consumers++
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.consumers--
			if s.consumers == 0 {
				if s.state == StateActive {
					s.lastActivity = s.clock()
				}
				s.markDrainedLocked()
			}
			s.mu.Unlock()
		})
	}
}

// Next blocks until a message is available, the session is closed and
// drained (io.EOF), or ctx is done.
func (s *Session) Next(ctx context.Context) (Message, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			msg := s.queue[0]
			s.queue[0] = Message{}
			s.queue = s.queue[1:]
			if len(s.queue) == 0 && s.state != StateActive {
				s.markDrainedLocked()
			}
			s.mu.Unlock()
			return msg, nil
		}
		if s.state != StateActive {
			s.markDrainedLocked()
			s.mu.Unlock()
			return Message{}, io.EOF
		}
		s.mu.Unlock()

		select {
		case <-s.notify:
		case <-ctx.Done():
			return Message{}, ctx.Err()
		}
	}
}

func (s *Session) enqueue(msg Message, now time.Time) error {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.fullLocked() {
		s.mu.Unlock()
		return ErrQueueFull
	}
	s.queue = append(s.queue, msg)
	s.lastActivity = now
	s.mu.Unlock()

	s.signal()
	return nil
}

func (s *Session) fullLocked() bool {
	return s.maxQueue > 0 && len(s.queue)+s.reserved >= s.maxQueue
}

func (s *Session) reserve() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return ErrSessionClosed
	}
	if s.fullLocked() {
		return ErrQueueFull
	}
	s.reserved++
	return nil
}

// sendReserved enqueues into a slot counted against the bound by reserve.
func (s *Session) sendReserved(msg Message) error {
	s.mu.Lock()
	s.reserved--
	if s.state != StateActive {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.queue = append(s.queue, msg)
	s.lastActivity = s.clock()
	s.mu.Unlock()

	s.signal()
	return nil
}

// Reservation holds one queue slot for a message sent later, typically the
// result of a tool call accepted on the session.
type Reservation struct {
	session *Session
	once    sync.Once
}

// SessionID returns the ID of the session the slot belongs to.
func (r *Reservation) SessionID() string {
	return r.session.ID
}

// Send delivers msg into the reserved slot. A reservation is good for one
// Send; later calls return ErrReservationUsed.
func (r *Reservation) Send(msg Message) error {
	err := ErrReservationUsed
	r.once.Do(func() {
		err = r.session.sendReserved(msg)
	})
	return err
}

func (s *Session) touch(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return false
	}
	s.lastActivity = now
	return true
}

// beginClose moves ACTIVE to CLOSING and returns a channel closed once the
// pending messages are consumed. It returns false if the session was not ACTIVE.
func (s *Session) beginClose() (<-chan struct{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return nil, false
	}
	s.state = StateClosing
	s.drained = make(chan struct{})
	if len(s.queue) == 0 || s.consumers == 0 {
		s.markDrainedLocked()
	}
	s.signal()
	return s.drained, true
}

// finishClose moves CLOSING to CLOSED and drops anything left undelivered.
func (s *Session) finishClose(now time.Time) (dropped int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dropped = len(s.queue)
	s.queue = nil
	s.state = StateClosed
	s.closedAt = now
	s.signal()
	return dropped
}

func (s *Session) markDrainedLocked() {
	if s.drained == nil {
		return
	}
	select {
	case <-s.drained:
	default:
		close(s.drained)
	}
}

func (s *Session) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// idleSince reports whether an ACTIVE session has been idle for at least d.
// A session with an attached consumer is never idle.
func (s *Session) idleSince(now time.Time, d time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateActive && s.consumers == 0 && now.Sub(s.lastActivity) >= d
}

// expiredClosed reports whether a CLOSED session has outlived its grace period.
func (s *Session) expiredClosed(now time.Time, grace time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateClosed && now.Sub(s.closedAt) >= grace
}
