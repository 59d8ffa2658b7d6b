package voxwire

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/voxwire/voxwire/crypto"
	"github.com/voxwire/voxwire/relay"
	"github.com/voxwire/voxwire/session"
)

// mockConn is an in-memory relay server endpoint. It answers
// authentication automatically and records every frame the client sends.
type mockConn struct {
	mu     sync.Mutex
	sent   []*relay.Frame
	inbox  chan *relay.Frame
	closed chan struct{}
	once   sync.Once
}

func newMockConn() *mockConn {
	return &mockConn{
		inbox:  make(chan *relay.Frame, 64),
		closed: make(chan struct{}),
	}
}

func (c *mockConn) SendFrame(f *relay.Frame) error {
	c.mu.Lock()
	c.sent = append(c.sent, f)
	c.mu.Unlock()

	if f.Command == relay.CmdRegisterRequest {
		c.deliver(&relay.Frame{Command: relay.CmdRegisterSuccessful})
	}
	return nil
}

func (c *mockConn) ReadFrame() (*relay.Frame, error) {
	select {
	case f := <-c.inbox:
		return f, nil
	case <-c.closed:
		return nil, io.EOF
	}
}

func (c *mockConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *mockConn) deliver(f *relay.Frame) {
	select {
	case c.inbox <- f:
	case <-c.closed:
	}
}

// sentFrames returns every frame matching cmd, or all frames when cmd is 0.
func (c *mockConn) sentFrames(cmd relay.Command) []*relay.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*relay.Frame
	for _, f := range c.sent {
		if cmd == 0 || f.Command == cmd {
			out = append(out, f)
		}
	}
	return out
}

type mockConnector struct {
	conn *mockConn
}

func (c *mockConnector) Connect(ctx context.Context, addr string) (relay.Conn, error) {
	return c.conn, nil
}

// testPeer is a remote user with real session crypto, so inbound messages
// exercise the full decrypt path.
type testPeer struct {
	addr    crypto.PeerAddress
	service *session.Service
	local   *session.LocalPreKeys
	bundle  *session.PreKeyBundle
}

func newTestPeer(userID uint64) (*testPeer, error) {
	identity, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	signing, err := crypto.GenerateSigningKeyPair()
	if err != nil {
		return nil, err
	}
	local, err := session.NewLocalPreKeys(signing, 4)
	if err != nil {
		return nil, err
	}

	p := &testPeer{
		addr:   crypto.NewPeerAddress(userID, 1),
		local:  local,
		bundle: local.PublishBundle(identity),
	}
	p.service = session.NewService(identity, newPeerSessionStore(), nil, local)
	return p, nil
}

// peerSessionStore is a minimal session.Store for test peers.
type peerSessionStore struct {
	mu       sync.Mutex
	sessions map[crypto.PeerAddress]session.Session
}

func newPeerSessionStore() *peerSessionStore {
	return &peerSessionStore{sessions: make(map[crypto.PeerAddress]session.Session)}
}

func (s *peerSessionStore) Load(peer crypto.PeerAddress) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.sessions[peer]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	return &stored, nil
}

func (s *peerSessionStore) Save(sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.Peer] = *sess
	return nil
}

func (s *peerSessionStore) Delete(peer crypto.PeerAddress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, peer)
	return nil
}

func (s *peerSessionStore) Contains(peer crypto.PeerAddress) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[peer]
	return ok, nil
}

// bundleDirectory serves prekey bundles for known test peers.
type bundleDirectory struct {
	mu      sync.Mutex
	bundles map[crypto.PeerAddress]*session.PreKeyBundle
}

func newBundleDirectory() *bundleDirectory {
	return &bundleDirectory{bundles: make(map[crypto.PeerAddress]*session.PreKeyBundle)}
}

func (d *bundleDirectory) register(p *testPeer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bundles[p.addr] = p.bundle
}

func (d *bundleDirectory) FetchBundle(ctx context.Context, peer crypto.PeerAddress) (*session.PreKeyBundle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if b, ok := d.bundles[peer]; ok {
		return b, nil
	}
	return nil, fmt.Errorf("no bundle registered for %s", peer.String())
}
