package calls

import "sync"

// Registry is the concurrent table of active call sessions, keyed by call id.
//
// Count invariant: at any instant Count equals the number of sessions in
// Joining or Established state. Sessions enter on join success (Joining) and
// leave only after drain-and-terminate, so components must never hold a raw
// session pointer across the registry boundary longer than one operation.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Add inserts a session under its call id. Returns false if the id is
// already present; the existing session is left untouched.
func (r *Registry) Add(s *Session) bool {
	id := s.CallID()
	if id == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[id]; exists {
		return false
	}
	r.sessions[id] = s
	return true
}

// Remove deletes a session by call id. Returns the removed session, if any.
func (r *Registry) Remove(callID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[callID]
	if ok {
		delete(r.sessions, callID)
	}
	return s, ok
}

// TryGet looks up a session by call id.
func (r *Registry) TryGet(callID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[callID]
	return s, ok
}

// Count returns the number of tracked sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
