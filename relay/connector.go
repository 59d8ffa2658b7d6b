package relay

import (
	"context"
)

// Conn is one established relay connection. ReadFrame blocks until a frame
// arrives, the peer closes (io.EOF) or the transport fails.
type Conn interface {
	SendFrame(f *Frame) error
	ReadFrame() (*Frame, error)
	Close() error
}

// Connector establishes relay connections. TLS, proxying and timeouts are
// the connector's concern; the client only sees framed bytes.
type Connector interface {
	Connect(ctx context.Context, addr string) (Conn, error)
}
