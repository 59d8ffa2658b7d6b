// Package messaging implements the plaintext message envelope format and
// the durable send/receive pipelines that sit between the orchestrator, the
// crypto service and the relay client.
package messaging

import (
	"encoding/json"
	"errors"
	"fmt"
)

// WrapperVersion is the current version of the serialized plaintext
// envelope. Decoding rejects newer versions but tolerates unknown fields,
// keeping the format forward-compatible.
const WrapperVersion = 1

// Wrapper type discriminants.
const (
	TypeText    = "text"
	TypeGroup   = "group"
	TypeSync    = "sync"
	TypeControl = "control"
)

// Wrapper is the tagged union carried inside every encrypted envelope.
// Exactly one of the payload pointers is set, matching Type.
type Wrapper struct {
	Version int             `json:"version"`
	Type    string          `json:"type"`
	Text    *TextMessage    `json:"text,omitempty"`
	Group   *GroupEvent     `json:"group,omitempty"`
	Sync    *SyncMessage    `json:"sync,omitempty"`
	Control *ControlMessage `json:"control,omitempty"`
}

// TextMessage is a conversational message to a user or group.
type TextMessage struct {
	SentAt  int64  `json:"sentAt"`
	Message string `json:"message"`
	GroupID string `json:"groupId,omitempty"`
	TTL     int64  `json:"ttl,omitempty"`
}

// GroupEvent kinds.
const (
	GroupEventInvitation = "invitation"
	GroupEventJoin       = "join"
	GroupEventPart       = "part"
)

// GroupEvent announces group membership changes.
type GroupEvent struct {
	Kind    string   `json:"kind"`
	GroupID string   `json:"groupId"`
	Name    string   `json:"name,omitempty"`
	Members []uint64 `json:"members,omitempty"`
}

// SyncMessage kinds.
const (
	SyncSelfMessage     = "selfMessage"
	SyncAddressBookSync = "addressBookSync"
	SyncNewDevice       = "newDevice"
)

// SyncMessage keeps the user's other devices consistent: sent-message
// copies, address book change notifications and new device announcements
// all travel through the normal send pipeline as sync messages.
type SyncMessage struct {
	Kind        string           `json:"kind"`
	SentMessage *SyncSentMessage `json:"sentMessage,omitempty"`
	Device      *DeviceInfo      `json:"device,omitempty"`
}

// SyncSentMessage mirrors a message sent from this device so other devices
// can record it.
type SyncSentMessage struct {
	MessageID  string `json:"messageId"`
	UserID     uint64 `json:"userId"`
	GroupID    string `json:"groupId,omitempty"`
	Message    string `json:"message"`
	SentAt     int64  `json:"sentAt"`
	ReceivedAt int64  `json:"receivedAt"`
}

// DeviceInfo describes one device of an account.
type DeviceInfo struct {
	DeviceID uint32 `json:"deviceId"`
	Name     string `json:"name,omitempty"`
}

// ControlMessage kinds.
const (
	ControlWasAdded = "wasAdded"
)

// ControlMessage carries protocol-level notifications with no
// conversational content.
type ControlMessage struct {
	Kind string `json:"kind"`
}

// NewTextWrapper builds a text wrapper.
func NewTextWrapper(m *TextMessage) *Wrapper {
	return &Wrapper{Version: WrapperVersion, Type: TypeText, Text: m}
}

// NewGroupWrapper builds a group event wrapper.
func NewGroupWrapper(e *GroupEvent) *Wrapper {
	return &Wrapper{Version: WrapperVersion, Type: TypeGroup, Group: e}
}

// NewSyncWrapper builds a sync wrapper.
func NewSyncWrapper(m *SyncMessage) *Wrapper {
	return &Wrapper{Version: WrapperVersion, Type: TypeSync, Sync: m}
}

// NewControlWrapper builds a control wrapper.
func NewControlWrapper(m *ControlMessage) *Wrapper {
	return &Wrapper{Version: WrapperVersion, Type: TypeControl, Control: m}
}

// Marshal serializes the wrapper.
func (w *Wrapper) Marshal() ([]byte, error) {
	return json.Marshal(w)
}

// ParseWrapper deserializes a wrapper, validating version and type.
func ParseWrapper(data []byte) (*Wrapper, error) {
	var w Wrapper
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("malformed message wrapper: %w", err)
	}
	if w.Version == 0 {
		return nil, errors.New("message wrapper missing version field")
	}
	if w.Version > WrapperVersion {
		return nil, fmt.Errorf("unsupported message wrapper version %d", w.Version)
	}

	switch w.Type {
	case TypeText:
		if w.Text == nil {
			return nil, errors.New("text wrapper missing payload")
		}
	case TypeGroup:
		if w.Group == nil {
			return nil, errors.New("group wrapper missing payload")
		}
	case TypeSync:
		if w.Sync == nil {
			return nil, errors.New("sync wrapper missing payload")
		}
	case TypeControl:
		if w.Control == nil {
			return nil, errors.New("control wrapper missing payload")
		}
	default:
		return nil, fmt.Errorf("unknown message wrapper type %q", w.Type)
	}

	return &w, nil
}
