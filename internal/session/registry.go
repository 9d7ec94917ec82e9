package session

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codesync/backend/internal/db"
)

const (
	// Buffer contents handed to the first participant of a fresh session
	DefaultCode     = "// Start coding here\nconsole.log(\"Hello World!\");"
	DefaultLanguage = "javascript"
)

var ErrSessionNotFound = errors.New("session not found")

// Snapshot is a read-only copy of a session's shared state.
type Snapshot struct {
	ID       string
	Code     string
	Language string
	Members  int
}

// Departure reports a room a connection was removed from and the
// member count after removal.
type Departure struct {
	SessionID string
	Count     int
}

type sessionState struct {
	id         string
	code       string
	language   string
	members    map[string]struct{}
	emptySince time.Time
}

// Registry is the single authority for session state and room membership.
// The session map and the connection index are guarded by one mutex so the
// two views cannot diverge. The database, when present, is a write-through
// record store: sessions survive restarts and in-memory eviction.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*sessionState
	byConn   map[string]string
	database *db.Database
}

// NewRegistry creates an empty registry. database may be nil (no persistence).
func NewRegistry(database *db.Database) *Registry {
	return &Registry{
		sessions: make(map[string]*sessionState),
		byConn:   make(map[string]string),
		database: database,
	}
}

// Create allocates a new session with a fresh ID and the default buffer.
func (r *Registry) Create() Snapshot {
	id := uuid.NewString()

	r.mu.Lock()
	s := &sessionState{
		id:         id,
		code:       DefaultCode,
		language:   DefaultLanguage,
		members:    make(map[string]struct{}),
		emptySince: time.Now(),
	}
	r.sessions[id] = s
	r.mu.Unlock()

	if r.database != nil {
		if err := r.database.CreateSession(id, DefaultCode, DefaultLanguage); err != nil {
			log.Printf("Failed to persist session %s: %v", id, err)
		}
	}

	return Snapshot{ID: id, Code: DefaultCode, Language: DefaultLanguage}
}

// Get returns the current state of a session. Sessions evicted from memory
// (or created before a restart) are revived from the database record.
func (r *Registry) Get(id string) (Snapshot, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	if ok {
		snap := snapshotOf(s)
		r.mu.RUnlock()
		return snap, nil
	}
	r.mu.RUnlock()

	return r.revive(id)
}

func (r *Registry) revive(id string) (Snapshot, error) {
	if r.database == nil {
		return Snapshot{}, ErrSessionNotFound
	}

	rec, err := r.database.GetSession(id)
	if err != nil {
		log.Printf("Failed to read session %s: %v", id, err)
		return Snapshot{}, ErrSessionNotFound
	}
	if rec == nil {
		return Snapshot{}, ErrSessionNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Lost a race with another reviver or a concurrent create
	if s, ok := r.sessions[id]; ok {
		return snapshotOf(s), nil
	}

	s := &sessionState{
		id:         rec.ID,
		code:       rec.Code,
		language:   rec.Language,
		members:    make(map[string]struct{}),
		emptySince: time.Now(),
	}
	r.sessions[id] = s
	return snapshotOf(s), nil
}

// SetCode overwrites the shared buffer. Last writer wins.
func (r *Registry) SetCode(id, code string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return ErrSessionNotFound
	}
	s.code = code
	r.mu.Unlock()

	if r.database != nil {
		if err := r.database.UpdateCode(id, code); err != nil {
			log.Printf("Failed to persist code for session %s: %v", id, err)
		}
	}
	return nil
}

// SetLanguage overwrites the language tag. Last writer wins.
func (r *Registry) SetLanguage(id, language string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return ErrSessionNotFound
	}
	s.language = language
	r.mu.Unlock()

	if r.database != nil {
		if err := r.database.UpdateLanguage(id, language); err != nil {
			log.Printf("Failed to persist language for session %s: %v", id, err)
		}
	}
	return nil
}

// Join adds a connection to a session's member set. Idempotent: joining the
// same session twice leaves the count unchanged. A connection belongs to at
// most one session; joining while a member elsewhere moves the membership.
func (r *Registry) Join(sessionID, connID string) (int, error) {
	if _, err := r.Get(sessionID); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return 0, ErrSessionNotFound
	}

	if prev, ok := r.byConn[connID]; ok && prev != sessionID {
		r.removeLocked(prev, connID)
	}

	s.members[connID] = struct{}{}
	s.emptySince = time.Time{}
	r.byConn[connID] = sessionID
	return len(s.members), nil
}

// Leave removes a connection from a session's member set. Idempotent.
func (r *Registry) Leave(sessionID, connID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(sessionID, connID)
}

// LeaveAll removes a connection from every session it belongs to (at most
// one) and reports the affected rooms with their post-removal counts.
func (r *Registry) LeaveAll(connID string) []Departure {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessionID, ok := r.byConn[connID]
	if !ok {
		return nil
	}

	count := r.removeLocked(sessionID, connID)
	return []Departure{{SessionID: sessionID, Count: count}}
}

func (r *Registry) removeLocked(sessionID, connID string) int {
	if r.byConn[connID] == sessionID {
		delete(r.byConn, connID)
	}

	s, ok := r.sessions[sessionID]
	if !ok {
		return 0
	}

	if _, ok := s.members[connID]; ok {
		delete(s.members, connID)
		if len(s.members) == 0 {
			s.emptySince = time.Now()
		}
	}
	return len(s.members)
}

// Count returns the current member count, 0 for unknown sessions.
func (r *Registry) Count(sessionID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return 0
	}
	return len(s.members)
}

// IsMember reports whether a connection is joined to the given session.
func (r *Registry) IsMember(sessionID, connID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byConn[connID] == sessionID
}

// Len returns the number of sessions held in memory.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// EvictIdle drops sessions that have had no members for at least ttl.
// The database record is untouched, so an evicted session revives on the
// next Get or Join. Returns the evicted session IDs.
func (r *Registry) EvictIdle(ttl time.Duration) []string {
	cutoff := time.Now().Add(-ttl)

	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted []string
	for id, s := range r.sessions {
		if len(s.members) == 0 && !s.emptySince.IsZero() && s.emptySince.Before(cutoff) {
			delete(r.sessions, id)
			evicted = append(evicted, id)
		}
	}
	return evicted
}

func snapshotOf(s *sessionState) Snapshot {
	return Snapshot{
		ID:       s.id,
		Code:     s.code,
		Language: s.language,
		Members:  len(s.members),
	}
}
