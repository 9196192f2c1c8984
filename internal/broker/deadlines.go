package broker

import (
	"sync"
	"time"
)

// deadlineSweepInterval bounds how often expired entries are pruned.
const deadlineSweepInterval = time.Minute

// deadlines remembers when access tokens issued by this process expire. The
// times come straight from the broker clock and keep their monotonic reading,
// which a record decoded from the token store has lost. Tokens issued by
// another replica, or before a restart, fall back to the stored expiry.
type deadlines struct {
	mu        sync.Mutex
	byDigest  map[string]time.Time
	lastSweep time.Time
}

func newDeadlines() *deadlines {
	return &deadlines{byDigest: make(map[string]time.Time)}
}

func (d *deadlines) set(key string, expiresAt, now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.byDigest[key] = expiresAt
	if now.Sub(d.lastSweep) < deadlineSweepInterval {
		return
	}
	d.lastSweep = now
	for k, t := range d.byDigest {
		if !now.Before(t) {
			delete(d.byDigest, k)
		}
	}
}

func (d *deadlines) get(key string) (time.Time, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.byDigest[key]
	return t, ok
}

func (d *deadlines) forget(key string) {
	d.mu.Lock()
	delete(d.byDigest, key)
	d.mu.Unlock()
}

func (d *deadlines) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.byDigest)
}
