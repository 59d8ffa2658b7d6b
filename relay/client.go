package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/voxwire/voxwire/crypto"
)

// State represents the relay client connection state. Exactly one logical
// connection exists per client; transitions are serialized.
type State uint8

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateAuthenticating
	StateAuthenticated
	StateDisconnecting
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

var (
	// ErrNotConnected reports a send attempted without a connection.
	ErrNotConnected = errors.New("relay: not connected")
	// ErrNotAuthenticated reports a send attempted before authentication
	// completed.
	ErrNotAuthenticated = errors.New("relay: not authenticated")
)

// Credentials authenticate this device against the relay.
type Credentials struct {
	Address   crypto.PeerAddress
	AuthToken string
}

type authRequest struct {
	Address   string `json:"address"`
	AuthToken string `json:"authToken"`
}

// DefaultPingInterval is the keepalive cadence while authenticated.
const DefaultPingInterval = 30 * time.Second

// Client maintains one logical connection to the relay server, exposing a
// typed event stream and imperative send operations.
type Client struct {
	mu sync.Mutex

	connector Connector
	addr      string
	creds     Credentials

	state        State
	conn         Conn
	wasRequested bool
	pingStop     chan struct{}
	pingInterval time.Duration

	events chan Event
}

// NewClient creates a relay client for the given server address. The client
// starts disconnected; call Connect to establish the session.
func NewClient(connector Connector, addr string, creds Credentials) *Client {
	return &Client{
		connector:    connector,
		addr:         addr,
		creds:        creds,
		state:        StateDisconnected,
		pingInterval: DefaultPingInterval,
		events:       make(chan Event, 64),
	}
}

// SetPingInterval overrides the keepalive cadence. Must be called before
// Connect.
func (c *Client) SetPingInterval(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.pingInterval = d
	}
}

// Events returns the client event stream. Events are delivered in order and
// the channel is never closed on transport failure; ConnectionLost is data,
// not stream termination. Consumers must drain the channel.
func (c *Client) Events() <-chan Event {
	return c.events
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect opens the transport and automatically issues authentication once
// it is established. It is idempotent by state: anything but Disconnected
// makes it a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		logrus.WithFields(logrus.Fields{
			"function": "Connect",
			"state":    c.state.String(),
		}).Warn("Connect requested but not disconnected, ignoring")
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.wasRequested = false
	c.mu.Unlock()

	conn, err := c.connector.Connect(ctx, c.addr)
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		c.emit(ConnectionFailure{Err: err})
		return err
	}

	pingStop := make(chan struct{})

	c.mu.Lock()
	c.conn = conn
	c.state = StateConnected
	c.pingStop = pingStop
	c.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Connect",
		"addr":     c.addr,
	}).Info("Relay connection established")
	c.emit(ConnectionEstablished{})

	if err := c.authenticate(conn); err != nil {
		conn.Close()
		c.mu.Lock()
		c.state = StateDisconnected
		c.conn = nil
		c.mu.Unlock()
		c.emit(ConnectionLost{Err: err})
		return err
	}

	go c.readLoop(conn)
	go c.pingLoop(pingStop)

	return nil
}

// Disconnect requests an orderly close. Already disconnected is a warning,
// not an error. In-flight queue entries and pending syncs are resumed on
// the next connect, never discarded.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		logrus.WithField("function", "Disconnect").
			Warn("Disconnect requested but not connected, ignoring")
		c.mu.Unlock()
		return
	}
	c.wasRequested = true
	c.state = StateDisconnecting
	c.mu.Unlock()

	conn.Close()
}

// closeTransport closes the connection without marking the disconnect as
// locally requested. Used when the server terminates the session.
func (c *Client) closeTransport() {
	c.mu.Lock()
	conn := c.conn
	c.state = StateDisconnecting
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// SendMessage frames and transmits ciphertext to the peer. It does not
// block awaiting acknowledgement: delivery is reported later through
// ServerReceived / MessageSent events.
func (c *Client) SendMessage(to crypto.PeerAddress, content []byte, messageID string) error {
	logrus.WithFields(logrus.Fields{
		"function":   "SendMessage",
		"to":         to.String(),
		"message_id": messageID,
	}).Debug("Sending message")

	return c.sendAuthenticated(&Frame{
		Command: CmdSendMessage,
		Header: Header{
			FromAddress: c.creds.Address.String(),
			ToAddress:   to.String(),
			MessageID:   messageID,
		},
		Content: content,
	})
}

// SendAck acknowledges a received message to the server. Only after this
// ack will the server drop its queued copy.
func (c *Client) SendAck(messageID string) error {
	logrus.WithFields(logrus.Fields{
		"function":   "SendAck",
		"message_id": messageID,
	}).Debug("Sending received ack")

	return c.sendAuthenticated(&Frame{
		Command: CmdMessageReceivedAck,
		Header: Header{
			FromAddress: c.creds.Address.String(),
			MessageID:   messageID,
		},
	})
}

// SendPing sends a keepalive ping.
func (c *Client) SendPing() error {
	return c.sendAuthenticated(&Frame{Command: CmdPing})
}

// sendAuthenticated transmits a frame, enforcing the state preconditions
// shared by all post-auth send operations.
func (c *Client) sendAuthenticated(frame *Frame) error {
	c.mu.Lock()
	conn := c.conn
	state := c.state
	c.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}
	if state != StateAuthenticated {
		return fmt.Errorf("%w (state %s)", ErrNotAuthenticated, state)
	}

	return conn.SendFrame(frame)
}

// authenticate sends the register request using the current credentials.
func (c *Client) authenticate(conn Conn) error {
	logrus.WithFields(logrus.Fields{
		"function": "authenticate",
		"address":  c.creds.Address.String(),
	}).Info("Authenticating with relay")

	content, err := json.Marshal(&authRequest{
		Address:   c.creds.Address.String(),
		AuthToken: c.creds.AuthToken,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal auth request: %w", err)
	}

	frame := &Frame{
		Command: CmdRegisterRequest,
		Header:  Header{FromAddress: c.creds.Address.String()},
		Content: content,
	}
	if err := conn.SendFrame(frame); err != nil {
		return fmt.Errorf("failed to send auth request: %w", err)
	}

	c.mu.Lock()
	c.state = StateAuthenticating
	c.mu.Unlock()

	return nil
}

// readLoop owns all transport reads for one connection and performs the
// resulting state transitions before emitting events.
func (c *Client) readLoop(conn Conn) {
	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			c.handleConnectionLoss(err)
			return
		}
		c.handleFrame(frame)
	}
}

// handleConnectionLoss transitions to Disconnected and reports the loss as
// an event. An orderly EOF carries no error.
func (c *Client) handleConnectionLoss(err error) {
	c.mu.Lock()
	wasRequested := c.wasRequested
	c.state = StateDisconnected
	c.conn = nil
	if c.pingStop != nil {
		close(c.pingStop)
		c.pingStop = nil
	}
	c.mu.Unlock()

	if errors.Is(err, io.EOF) {
		err = nil
	}

	logrus.WithFields(logrus.Fields{
		"function":      "handleConnectionLoss",
		"was_requested": wasRequested,
	}).Info("Relay connection lost")

	c.emit(ConnectionLost{WasRequested: wasRequested, Err: err})
}

// handleFrame maps one inbound frame to a typed event, updating state
// before the event is emitted.
func (c *Client) handleFrame(frame *Frame) {
	switch frame.Command {
	case CmdRegisterSuccessful:
		c.mu.Lock()
		c.state = StateAuthenticated
		c.mu.Unlock()
		logrus.WithField("function", "handleFrame").Info("Relay authentication successful")
		c.emit(AuthSuccess{})

	case CmdRegisterRequest:
		c.mu.Lock()
		wasAuthenticating := c.state == StateAuthenticating
		c.mu.Unlock()
		if wasAuthenticating {
			logrus.WithField("function", "handleFrame").Info("Authentication failed, disconnecting")
			c.emit(AuthFailure{})
		} else {
			logrus.WithField("function", "handleFrame").Info("Authentication expired, disconnecting")
			c.emit(AuthExpired{})
		}
		// The server rejected us, so the close is not a requested
		// disconnect. ConnectionLost must report WasRequested false.
		c.closeTransport()

	case CmdMessageSent:
		to, ok := c.parseAddress(frame.Header.ToAddress)
		if !ok {
			return
		}
		c.emit(MessageSent{To: to, MessageID: frame.Header.MessageID})

	case CmdMessageReceived:
		to, ok := c.parseAddress(frame.Header.ToAddress)
		if !ok {
			return
		}
		logrus.WithFields(logrus.Fields{
			"function":   "handleFrame",
			"to":         to.String(),
			"message_id": frame.Header.MessageID,
		}).Debug("Server received message")
		c.emit(ServerReceived{To: to, MessageID: frame.Header.MessageID})

	case CmdSendMessage:
		from, ok := c.parseAddress(frame.Header.FromAddress)
		if !ok {
			return
		}
		logrus.WithFields(logrus.Fields{
			"function":   "handleFrame",
			"from":       from.String(),
			"message_id": frame.Header.MessageID,
		}).Debug("Received message")
		c.emit(IncomingMessage{
			From:      from,
			MessageID: frame.Header.MessageID,
			Content:   frame.Content,
		})

	case CmdUserOffline:
		to, ok := c.parseAddress(frame.Header.ToAddress)
		if !ok {
			return
		}
		logrus.WithFields(logrus.Fields{
			"function":   "handleFrame",
			"to":         to.String(),
			"message_id": frame.Header.MessageID,
		}).Info("Recipient offline")
		c.emit(UserOffline{To: to, MessageID: frame.Header.MessageID})

	case CmdDeviceMismatch:
		to, ok := c.parseAddress(frame.Header.ToAddress)
		if !ok {
			return
		}
		var content DeviceMismatchContent
		if err := json.Unmarshal(frame.Content, &content); err != nil {
			logrus.WithField("function", "handleFrame").
				WithError(err).Warn("Malformed device mismatch content, dropping")
			return
		}
		logrus.WithFields(logrus.Fields{
			"function": "handleFrame",
			"to":       to.String(),
			"stale":    content.Stale,
			"missing":  content.Missing,
			"removed":  content.Removed,
		}).Info("Device mismatch")
		c.emit(DeviceMismatch{To: to, MessageID: frame.Header.MessageID, Content: content})

	case CmdPong:
		logrus.WithField("function", "handleFrame").Debug("PONG")
		c.emit(Pong{})

	default:
		// Unknown command codes are dropped, never fatal.
		logrus.WithFields(logrus.Fields{
			"function": "handleFrame",
			"command":  frame.Command,
		}).Warn("Unhandled relay command")
	}
}

// pingLoop keeps the connection alive and detects silent failure while
// authenticated.
func (c *Client) pingLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if c.State() != StateAuthenticated {
				continue
			}
			if err := c.SendPing(); err != nil {
				logrus.WithField("function", "pingLoop").
					WithError(err).Warn("Keepalive ping failed")
			}
		}
	}
}

func (c *Client) parseAddress(s string) (crypto.PeerAddress, bool) {
	addr, err := crypto.ParsePeerAddress(s)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "parseAddress",
			"address":  s,
		}).Warn("Malformed address in relay frame, dropping")
		return crypto.PeerAddress{}, false
	}
	return addr, true
}

func (c *Client) emit(event Event) {
	c.events <- event
}
