package session

import (
	"sync"

	"github.com/zhouzirui/hangout/backend/internal/model/hangout"
)

// Entry guards one session. Operations that span external calls hold the
// operation lock for their whole duration so a session is mutated by one
// interaction at a time, while snapshots only need the short state lock.
type Entry struct {
	op   sync.Mutex
	mu   sync.RWMutex
	data *hangout.Session
}

// ID returns the session identifier.
func (e *Entry) ID() string {
	return e.data.ID
}

// Lock serialises an interaction on this session. Callers must Unlock.
func (e *Entry) Lock() { e.op.Lock() }

// Unlock releases the interaction lock.
func (e *Entry) Unlock() { e.op.Unlock() }

// Read runs fn with read access to the session state.
func (e *Entry) Read(fn func(s *hangout.Session)) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	fn(e.data)
}

// Update runs fn with write access to the session state.
func (e *Entry) Update(fn func(s *hangout.Session)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.data)
}

// Snapshot returns a deep copy of the session.
func (e *Entry) Snapshot() hangout.Session {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.data.Clone()
}
