package session

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/hangout/backend/internal/model/hangout"
)

var (
	ErrSessionNotFound = hangout.ErrSessionNotFound
	ErrInvalidID       = errors.New("invalid session id")
)

const shortIDLength = 8

var validID = regexp.MustCompile(`^[A-Za-z0-9_-]{4,64}$`)

// Registry holds every live session of the process. It is created once in
// main and handed to whoever needs it.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Entry
	now      func() time.Time
	newID    func() string
}

// Option customises a Registry.
type Option func(*Registry)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithIDGenerator overrides session id generation.
func WithIDGenerator(gen func() string) Option {
	return func(r *Registry) { r.newID = gen }
}

// NewRegistry bootstraps an empty in-memory registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		sessions: make(map[string]*Entry),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    shortID,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create provisions a brand new session.
func (r *Registry) Create(_ context.Context) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.newID()
	for _, taken := r.sessions[id]; taken; _, taken = r.sessions[id] {
		id = r.newID()
	}
	return r.insertLocked(id), nil
}

// Get returns the session with the given id.
func (r *Registry) Get(_ context.Context, id string) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return entry, nil
}

// Join resolves the shareable-link parameter: an empty id creates a new
// session, a known id rejoins it and an unknown id starts a session under
// that id. The boolean reports whether a session was created.
func (r *Registry) Join(ctx context.Context, id string) (*Entry, bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		entry, err := r.Create(ctx)
		return entry, true, err
	}
	if !validID.MatchString(id) {
		return nil, false, ErrInvalidID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.sessions[id]; ok {
		return entry, false, nil
	}
	return r.insertLocked(id), true, nil
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) insertLocked(id string) *Entry {
	entry := &Entry{data: hangout.NewSession(id, r.now())}
	r.sessions[id] = entry
	return entry
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:shortIDLength]
}
