package registry

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/example/trip-dispatch/internal/models"
	"github.com/example/trip-dispatch/internal/observability"
)

// ErrNotConnected is returned when a send targets a participant with no
// live session. Being offline is an expected state, not a failure; callers
// decide whether to degrade or surface it.
var ErrNotConnected = errors.New("participant not connected")

// Conn is the subset of *websocket.Conn the registry needs. Tests supply
// in-memory fakes.
type Conn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// Session is one live connection to a participant. Writes are serialized
// with a per-session mutex because gorilla/websocket allows only one
// concurrent writer.
type Session struct {
	ID            string
	ParticipantID string
	Role          models.Role

	mu   sync.Mutex
	conn Conn
}

func (s *Session) Send(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

func (s *Session) Close() error {
	return s.conn.Close()
}

// Registry maps participant ids to their latest live session. A new
// registration for the same id supersedes the previous one; a disconnect
// for a superseded session must never evict the fresher one, which is why
// Unregister compares handles before deleting.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Register binds the connection as the participant's current session,
// replacing and closing any prior one. Re-registration is normal (mobile
// clients reconnect constantly) and never errors.
func (r *Registry) Register(participantID string, role models.Role, conn Conn) *Session {
	s := &Session{
		ID:            uuid.NewString(),
		ParticipantID: participantID,
		Role:          role,
		conn:          conn,
	}
	r.mu.Lock()
	prev := r.sessions[participantID]
	r.sessions[participantID] = s
	r.mu.Unlock()

	if prev != nil {
		_ = prev.Close()
	} else {
		observability.SessionsConnected.Inc()
	}
	return s
}

// Lookup returns the participant's current session, if any.
func (r *Registry) Lookup(participantID string) (*Session, bool) {
	r.mu.RLock()
	s, ok := r.sessions[participantID]
	r.mu.RUnlock()
	return s, ok
}

// Connected reports whether the participant has a live session.
func (r *Registry) Connected(participantID string) bool {
	_, ok := r.Lookup(participantID)
	return ok
}

// Send writes a message to the participant's current session, returning
// ErrNotConnected when there is none.
func (r *Registry) Send(participantID string, v interface{}) error {
	s, ok := r.Lookup(participantID)
	if !ok {
		return ErrNotConnected
	}
	return s.Send(v)
}

// Unregister removes the mapping only if s is still the current session
// for its participant. A late disconnect event from a connection that has
// already been superseded is a no-op and returns false.
func (r *Registry) Unregister(s *Session) bool {
	if s == nil {
		return false
	}
	r.mu.Lock()
	cur, ok := r.sessions[s.ParticipantID]
	if !ok || cur != s {
		r.mu.Unlock()
		return false
	}
	delete(r.sessions, s.ParticipantID)
	r.mu.Unlock()
	observability.SessionsConnected.Dec()
	return true
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
