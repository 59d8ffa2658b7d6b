package relay

import (
	"context"
	"io"
	"sync"
)

// mockConn is a scriptable relay connection for tests. Frames pushed via
// deliver appear to the client's read loop; frames the client sends are
// recorded.
type mockConn struct {
	mu     sync.Mutex
	sent   []*Frame
	inbox  chan *Frame
	closed chan struct{}
	once   sync.Once
}

func newMockConn() *mockConn {
	return &mockConn{
		inbox:  make(chan *Frame, 16),
		closed: make(chan struct{}),
	}
}

func (m *mockConn) SendFrame(f *Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, f)
	return nil
}

func (m *mockConn) ReadFrame() (*Frame, error) {
	select {
	case f := <-m.inbox:
		return f, nil
	case <-m.closed:
		return nil, io.EOF
	}
}

func (m *mockConn) Close() error {
	m.once.Do(func() { close(m.closed) })
	return nil
}

func (m *mockConn) deliver(f *Frame) {
	m.inbox <- f
}

func (m *mockConn) sentFrames() []*Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Frame, len(m.sent))
	copy(out, m.sent)
	return out
}

// mockConnector hands out a prepared mockConn.
type mockConnector struct {
	conn *mockConn
	err  error
}

func (m *mockConnector) Connect(ctx context.Context, addr string) (Conn, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.conn, nil
}
