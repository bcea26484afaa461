package server

import (
	"sort"
	"sync"
	"time"
)

// SendHandle is the outbound side of a live connection. QueueFrame
// must not block; it reports whether the frame was accepted.
type SendHandle interface {
	QueueFrame(f *ServerFrame) bool
	Close()
}

// ConnectionRegistry maps online user ids to their send handles and
// tracks each user's first-seen time. First-seen is recorded once, on
// the user's first ever registration, and survives disconnects for
// the lifetime of the process.
type ConnectionRegistry struct {
	mu        sync.RWMutex
	conns     map[string]SendHandle
	firstSeen map[string]time.Time
}

func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		conns:     make(map[string]SendHandle),
		firstSeen: make(map[string]time.Time),
	}
}

// Register stores the handle for the user, superseding any prior one.
// The superseded handle is returned so the caller's transport layer
// can close it; registration itself never closes connections.
func (r *ConnectionRegistry) Register(user string, h SendHandle) SendHandle {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.conns[user]
	r.conns[user] = h

	if _, ok := r.firstSeen[user]; !ok {
		r.firstSeen[user] = Now()
	}

	return prev
}

// Unregister removes the user's registration iff h is still the
// current handle. It returns false when a newer registration has
// superseded h, in which case the user remains online.
func (r *ConnectionRegistry) Unregister(user string, h SendHandle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.conns[user]
	if !ok || cur != h {
		return false
	}

	delete(r.conns, user)
	return true
}

func (r *ConnectionRegistry) Lookup(user string) (SendHandle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.conns[user]
	return h, ok
}

// FirstSeen returns the user's first-seen time, or false if the user
// has never registered.
func (r *ConnectionRegistry) FirstSeen(user string) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.firstSeen[user]
	return t, ok
}

func (r *ConnectionRegistry) ListOnline() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]string, 0, len(r.conns))
	for user := range r.conns {
		users = append(users, user)
	}
	sort.Strings(users)

	return users
}

func (r *ConnectionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.conns)
}
