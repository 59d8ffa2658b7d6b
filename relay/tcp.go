package relay

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
)

// maxFrameSize bounds a single relay frame (4MB).
const maxFrameSize = 4 * 1024 * 1024

// TCPConnector dials the relay over TCP. Frames are length-prefixed with a
// 4-byte big-endian count on the stream.
type TCPConnector struct {
	// Dialer is used for outbound connections; the zero value is usable.
	Dialer net.Dialer
}

// Connect implements Connector.
func (c *TCPConnector) Connect(ctx context.Context, addr string) (Conn, error) {
	conn, err := c.Dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial relay at %s: %w", addr, err)
	}
	return &tcpConn{conn: conn}, nil
}

type tcpConn struct {
	conn net.Conn
}

func (t *tcpConn) SendFrame(f *Frame) error {
	data, err := f.Serialize()
	if err != nil {
		return err
	}

	prefix := make([]byte, 4)
	binary.BigEndian.PutUint32(prefix, uint32(len(data)))

	if _, err := t.conn.Write(prefix); err != nil {
		return err
	}
	_, err = t.conn.Write(data)
	return err
}

func (t *tcpConn) ReadFrame() (*Frame, error) {
	prefix := make([]byte, 4)
	if _, err := io.ReadFull(t.conn, prefix); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.EOF
		}
		return nil, err
	}

	length := binary.BigEndian.Uint32(prefix)
	if length == 0 || length > maxFrameSize {
		return nil, fmt.Errorf("invalid frame length %d", length)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(t.conn, data); err != nil {
		return nil, err
	}

	return ParseFrame(data)
}

func (t *tcpConn) Close() error {
	return t.conn.Close()
}
