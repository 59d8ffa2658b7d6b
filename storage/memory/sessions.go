// Package memory provides in-memory implementations of every persistence
// collaborator. They are the reference backends for tests and the demo
// CLI; production embedders supply durable implementations.
package memory

import (
	"sync"

	"github.com/voxwire/voxwire/crypto"
	"github.com/voxwire/voxwire/session"
)

// SessionStore is an in-memory session.Store.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[crypto.PeerAddress]session.Session
}

// NewSessionStore creates an empty session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[crypto.PeerAddress]session.Session)}
}

func (s *SessionStore) Load(peer crypto.PeerAddress) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.sessions[peer]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	return &stored, nil
}

func (s *SessionStore) Save(sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.Peer] = *sess
	return nil
}

func (s *SessionStore) Delete(peer crypto.PeerAddress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, peer)
	return nil
}

func (s *SessionStore) Contains(peer crypto.PeerAddress) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[peer]
	return ok, nil
}
