// Package relay implements the client side of the relay wire protocol: a
// stateful session over one persistent connection, with connect,
// authenticate, send, receive and acknowledge operations.
//
// The client is an explicit state machine. One reader goroutine owns
// transport reads and performs all state transitions; consumers receive
// typed events through a channel and never observe partial states. The
// event stream itself never terminates with an error: transport failures
// are delivered as ConnectionLost events.
package relay

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Command identifies the type of a relay frame.
type Command byte

const (
	// CmdRegisterRequest initiates authentication (client to server); the
	// server echoes it back to reject or expire an authentication.
	CmdRegisterRequest Command = iota + 1
	// CmdRegisterSuccessful confirms authentication (server to client).
	CmdRegisterSuccessful
	// CmdSendMessage carries outbound ciphertext (client to server) and
	// inbound ciphertext (server to client).
	CmdSendMessage
	// CmdMessageSent reports the recipient was online and the message was
	// delivered.
	CmdMessageSent
	// CmdMessageReceived reports the server durably queued or forwarded
	// the message.
	CmdMessageReceived
	// CmdMessageReceivedAck acknowledges a received message (client to
	// server).
	CmdMessageReceivedAck
	// CmdUserOffline reports the recipient is unreachable.
	CmdUserOffline
	// CmdDeviceMismatch reports a stale, missing or removed device list
	// for the recipient.
	CmdDeviceMismatch
	// CmdPing and CmdPong are the keepalive pair.
	CmdPing
	CmdPong
)

// Header carries frame addressing. Addresses use the canonical
// "userID.deviceID" form; either side may be empty depending on direction.
type Header struct {
	FromAddress string `json:"fromAddress,omitempty"`
	ToAddress   string `json:"toAddress,omitempty"`
	MessageID   string `json:"messageId,omitempty"`
}

// Frame is one relay protocol unit.
type Frame struct {
	Command Command
	Header  Header
	Content []byte
}

// Serialize converts a frame to its wire form:
// [command (1 byte)][header length (2 bytes, big endian)][header JSON][content].
func (f *Frame) Serialize() ([]byte, error) {
	header, err := json.Marshal(&f.Header)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal frame header: %w", err)
	}
	if len(header) > 0xffff {
		return nil, errors.New("frame header too large")
	}

	result := make([]byte, 0, 3+len(header)+len(f.Content))
	result = append(result, byte(f.Command))
	result = append(result, byte(len(header)>>8), byte(len(header)))
	result = append(result, header...)
	result = append(result, f.Content...)

	return result, nil
}

// ParseFrame converts wire bytes back to a Frame.
func ParseFrame(data []byte) (*Frame, error) {
	if len(data) < 3 {
		return nil, errors.New("frame too short")
	}

	headerLen := int(data[1])<<8 | int(data[2])
	if len(data) < 3+headerLen {
		return nil, errors.New("frame truncated: header exceeds frame")
	}

	frame := &Frame{Command: Command(data[0])}
	if err := json.Unmarshal(data[3:3+headerLen], &frame.Header); err != nil {
		return nil, fmt.Errorf("failed to parse frame header: %w", err)
	}

	if content := data[3+headerLen:]; len(content) > 0 {
		frame.Content = make([]byte, len(content))
		copy(frame.Content, content)
	}

	return frame, nil
}

// DeviceMismatchContent is the payload of a CmdDeviceMismatch frame.
type DeviceMismatchContent struct {
	Stale   []uint32 `json:"stale"`
	Missing []uint32 `json:"missing"`
	Removed []uint32 `json:"removed"`
}
