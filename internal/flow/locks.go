// Package flow implements the per-session order configuration flow: the
// context manager, the prerequisite gate, the line assignment resolver, and
// the conversational router.
package flow

import "sync"

// sessionLocks serializes mutations per session id. Tool calls for the same
// conversation can arrive concurrently; every read-modify-write of a
// session's context or cart must hold that session's lock so grow/shrink and
// flag recompute sequences never interleave. Cross-session operations share
// nothing and need no coordination.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[string]*sync.Mutex)}
}

// get returns the mutex for a session id, creating it on first use. Lock
// entries are never removed; the per-session footprint is one mutex.
func (l *sessionLocks) get(sessionID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[sessionID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[sessionID] = m
	}
	return m
}
