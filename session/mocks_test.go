package session

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/voxwire/voxwire/crypto"
)

// memStore is an in-memory session store for tests.
type memStore struct {
	sessions map[crypto.PeerAddress]*Session
}

func newMemStore() *memStore {
	return &memStore{sessions: make(map[crypto.PeerAddress]*Session)}
}

func (m *memStore) Load(peer crypto.PeerAddress) (*Session, error) {
	s, ok := m.sessions[peer]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (m *memStore) Save(s *Session) error {
	m.sessions[s.Peer] = s
	return nil
}

func (m *memStore) Delete(peer crypto.PeerAddress) error {
	delete(m.sessions, peer)
	return nil
}

func (m *memStore) Contains(peer crypto.PeerAddress) (bool, error) {
	_, ok := m.sessions[peer]
	return ok, nil
}

// countingFetcher returns a fixed bundle and counts fetches.
type countingFetcher struct {
	bundle *PreKeyBundle
	err    error
	count  atomic.Int64
}

func (f *countingFetcher) FetchBundle(ctx context.Context, peer crypto.PeerAddress) (*PreKeyBundle, error) {
	f.count.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	if f.bundle == nil {
		return nil, errors.New("no bundle configured")
	}
	return f.bundle, nil
}

// testPeer builds one side of a conversation: an identity, local prekeys
// and a service wired to the given fetcher.
type testPeer struct {
	addr     crypto.PeerAddress
	identity *crypto.KeyPair
	local    *LocalPreKeys
	store    *memStore
	service  *Service
}

func newTestPeer(userID uint64, fetcher BundleFetcher) (*testPeer, error) {
	identity, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	signing, err := crypto.GenerateSigningKeyPair()
	if err != nil {
		return nil, err
	}
	local, err := NewLocalPreKeys(signing, 4)
	if err != nil {
		return nil, err
	}

	store := newMemStore()
	return &testPeer{
		addr:     crypto.NewPeerAddress(userID, 1),
		identity: identity,
		local:    local,
		store:    store,
		service:  NewService(identity, store, fetcher, local),
	}, nil
}
