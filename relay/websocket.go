package relay

import (
	"context"
	"fmt"
	"io"

	"github.com/fasthttp/websocket"
)

// WSConnector dials the relay over a WebSocket endpoint. Each relay frame
// travels as one binary WebSocket message, so no extra length prefix is
// needed.
type WSConnector struct {
	Dialer *websocket.Dialer
}

// Connect implements Connector. addr is a ws:// or wss:// URL.
func (c *WSConnector) Connect(ctx context.Context, addr string) (Conn, error) {
	dialer := c.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, _, err := dialer.DialContext(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial relay at %s: %w", addr, err)
	}

	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (w *wsConn) SendFrame(f *Frame) error {
	data, err := f.Serialize()
	if err != nil {
		return err
	}
	return w.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (w *wsConn) ReadFrame() (*Frame, error) {
	messageType, data, err := w.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, io.EOF
		}
		return nil, err
	}
	if messageType != websocket.BinaryMessage {
		return nil, fmt.Errorf("unexpected websocket message type %d", messageType)
	}

	return ParseFrame(data)
}

func (w *wsConn) Close() error {
	_ = w.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return w.conn.Close()
}
