package relay

import (
	"github.com/voxwire/voxwire/crypto"
)

// Event is a typed relay client event. The client delivers events one at a
// time through a single ordered channel.
type Event interface {
	isRelayEvent()
}

// ConnectionEstablished is emitted when the transport connects, before
// authentication begins.
type ConnectionEstablished struct{}

// ConnectionFailure is emitted when the transport could not be established.
type ConnectionFailure struct {
	Err error
}

// ConnectionLost is emitted on any transition to Disconnected after a
// connection existed. WasRequested distinguishes a local Disconnect call
// from involuntary loss; Err is nil on orderly close.
type ConnectionLost struct {
	WasRequested bool
	Err          error
}

// AuthSuccess is emitted when the server accepts our credentials.
type AuthSuccess struct{}

// AuthFailure is emitted when the server rejects authentication.
type AuthFailure struct{}

// AuthExpired is emitted when an established authentication lapses.
type AuthExpired struct{}

// MessageSent reports the recipient was online and received the message.
type MessageSent struct {
	To        crypto.PeerAddress
	MessageID string
}

// ServerReceived reports the server durably queued or forwarded a message
// we sent. This is the delivery acknowledgement the send queue keys on.
type ServerReceived struct {
	To        crypto.PeerAddress
	MessageID string
}

// IncomingMessage carries inbound ciphertext from a peer.
type IncomingMessage struct {
	From      crypto.PeerAddress
	MessageID string
	Content   []byte
}

// UserOffline reports the recipient of a sent message is unreachable.
type UserOffline struct {
	To        crypto.PeerAddress
	MessageID string
}

// DeviceMismatch reports our device list for the recipient is out of date.
type DeviceMismatch struct {
	To        crypto.PeerAddress
	MessageID string
	Content   DeviceMismatchContent
}

// Pong is emitted when the server answers a keepalive ping.
type Pong struct{}

func (ConnectionEstablished) isRelayEvent() {}
func (ConnectionFailure) isRelayEvent()     {}
func (ConnectionLost) isRelayEvent()        {}
func (AuthSuccess) isRelayEvent()           {}
func (AuthFailure) isRelayEvent()           {}
func (AuthExpired) isRelayEvent()           {}
func (MessageSent) isRelayEvent()           {}
func (ServerReceived) isRelayEvent()        {}
func (IncomingMessage) isRelayEvent()       {}
func (UserOffline) isRelayEvent()           {}
func (DeviceMismatch) isRelayEvent()        {}
func (Pong) isRelayEvent()                  {}
