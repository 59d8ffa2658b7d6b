package messaging

import (
	"github.com/voxwire/voxwire/crypto"
)

// Category classifies an outbound message for post-send processing.
type Category uint8

const (
	// CategoryTextSingle is a one-to-one text message.
	CategoryTextSingle Category = iota
	// CategoryTextGroup is a text message fanned out to a group.
	CategoryTextGroup
	// CategoryOther covers control, sync and group event messages.
	CategoryOther
)

// Metadata is attached to every outbound queue entry. Immutable once
// created.
type Metadata struct {
	UserID    uint64   `json:"userId"`
	GroupID   string   `json:"groupId,omitempty"`
	Category  Category `json:"category"`
	MessageID string   `json:"messageId"`

	// DeviceID addresses a specific device of the recipient. Zero means
	// the sender's default device, which covers everything except
	// fan-out to the account's own other devices.
	DeviceID uint32 `json:"deviceId,omitempty"`
}

// QueueEntry is one durable outbound unit: serialized plaintext plus its
// metadata. It lives in the send queue until the relay confirms receipt.
type QueueEntry struct {
	Metadata Metadata `json:"metadata"`
	Payload  []byte   `json:"payload"`
}

// SendRecord reports a queue entry the server has acknowledged.
type SendRecord struct {
	Metadata        Metadata
	ServerTimestamp int64
}

// MessageInfo is one locally stored conversation message.
type MessageInfo struct {
	ID            string `json:"id"`
	Message       string `json:"message"`
	IsSent        bool   `json:"isSent"`
	SentAt        int64  `json:"sentAt"`
	ReceivedAt    int64  `json:"receivedAt"`
	Delivered     bool   `json:"delivered"`
	DecryptFailed bool   `json:"decryptFailed,omitempty"`
	TTL           int64  `json:"ttl,omitempty"`
}

// PackageID identifies one inbound unit of work. Duplicates (at-least-once
// relay delivery) are detected by this key and idempotently ignored.
type PackageID struct {
	Sender    crypto.PeerAddress `json:"sender"`
	MessageID string             `json:"messageId"`
}

// Package is durably queued inbound ciphertext awaiting decryption and
// storage. It survives crashes and offline periods: a package is never
// deleted before its plaintext has been durably stored.
type Package struct {
	ID         PackageID `json:"id"`
	ReceivedAt int64     `json:"receivedAt"`
	Payload    []byte    `json:"payload"`
}
