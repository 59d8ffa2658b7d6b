package session

import (
	"context"
	"errors"

	"github.com/voxwire/voxwire/crypto"
)

// ErrSessionNotFound is returned by Store implementations when no session
// exists for the requested peer address.
var ErrSessionNotFound = errors.New("session not found")

// Store holds per-peer session state. Implementations need not be
// thread-safe: the Service serializes all access behind a single lock so
// that two callers can never build divergent sessions for the same peer.
type Store interface {
	// Load returns the session for the peer, or ErrSessionNotFound.
	Load(peer crypto.PeerAddress) (*Session, error)

	// Save persists the session, replacing any previous state for its peer.
	Save(s *Session) error

	// Delete removes the session for the peer. Deleting a missing session
	// is not an error.
	Delete(peer crypto.PeerAddress) error

	// Contains reports whether a session exists for the peer.
	Contains(peer crypto.PeerAddress) (bool, error)
}

// BundleFetcher retrieves a peer's published prekey bundle. Implementations
// perform a network round-trip to the prekey service.
type BundleFetcher interface {
	FetchBundle(ctx context.Context, peer crypto.PeerAddress) (*PreKeyBundle, error)
}
