package messaging

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/voxwire/voxwire/crypto"
	"github.com/voxwire/voxwire/session"
)

type cacheKey struct {
	userID    uint64
	messageID string
}

// RelaySender is the slice of the relay client the sender needs.
type RelaySender interface {
	SendMessage(to crypto.PeerAddress, content []byte, messageID string) error
}

// Encrypter is the slice of the session service the sender needs.
type Encrypter interface {
	Encrypt(ctx context.Context, peer crypto.PeerAddress, plaintext []byte) (*session.EncryptedEnvelope, error)
}

// Sender drains the durable outbound queue through per-peer encryption and
// the relay. An entry is removed only when the server acknowledges that
// specific message, so entries survive restarts and are retried; duplicate
// transmission is harmless because receivers deduplicate by package id.
type Sender struct {
	mu sync.Mutex

	queue    QueueStore
	relay    RelaySender
	cipher   Encrypter
	deviceID uint32

	// encrypted caches the wire form per entry so a retry retransmits
	// identical ciphertext instead of advancing the send chain again.
	// Group fan-out shares one message id across recipients, so the key
	// includes the recipient.
	encrypted map[cacheKey][]byte

	onSent func(SendRecord)
}

// NewSender creates a sender addressing each user's deviceID device.
func NewSender(queue QueueStore, relay RelaySender, cipher Encrypter, deviceID uint32) *Sender {
	return &Sender{
		queue:     queue,
		relay:     relay,
		cipher:    cipher,
		deviceID:  deviceID,
		encrypted: make(map[cacheKey][]byte),
	}
}

// OnSent registers the callback invoked when the server acknowledges an
// entry. Must be set before the sender is used.
func (s *Sender) OnSent(cb func(SendRecord)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSent = cb
}

// Enqueue persists entries and immediately attempts to transmit them.
// Transmission failure is not an error: the entries stay queued for the
// next flush.
func (s *Sender) Enqueue(ctx context.Context, entries ...QueueEntry) error {
	if err := s.queue.Add(entries); err != nil {
		return fmt.Errorf("failed to enqueue messages: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range entries {
		s.trySendLocked(ctx, &entries[i])
	}
	return nil
}

// Flush retransmits every queued entry, in order. Called on (re)connect.
func (s *Sender) Flush(ctx context.Context) error {
	entries, err := s.queue.All()
	if err != nil {
		return fmt.Errorf("failed to read send queue: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Flush",
		"entries":  len(entries),
	}).Debug("Flushing send queue")

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range entries {
		s.trySendLocked(ctx, &entries[i])
	}
	return nil
}

// Ack removes the acknowledged entry from the queue and reports it via the
// OnSent callback. Acks for entries already removed (duplicate server
// acks) are ignored.
func (s *Sender) Ack(userID uint64, messageID string, serverTimestamp int64) error {
	entry, err := s.queue.Remove(userID, messageID)
	if err != nil {
		return fmt.Errorf("failed to remove acked entry: %w", err)
	}
	if entry == nil {
		return nil
	}

	s.mu.Lock()
	delete(s.encrypted, cacheKey{userID: userID, messageID: messageID})
	cb := s.onSent
	s.mu.Unlock()

	if cb != nil {
		cb(SendRecord{Metadata: entry.Metadata, ServerTimestamp: serverTimestamp})
	}
	return nil
}

// trySendLocked encrypts and transmits one entry, logging failure rather
// than propagating it. Callers hold s.mu.
func (s *Sender) trySendLocked(ctx context.Context, entry *QueueEntry) {
	deviceID := entry.Metadata.DeviceID
	if deviceID == 0 {
		deviceID = s.deviceID
	}
	peer := crypto.NewPeerAddress(entry.Metadata.UserID, deviceID)

	key := cacheKey{userID: entry.Metadata.UserID, messageID: entry.Metadata.MessageID}
	content, ok := s.encrypted[key]
	if !ok {
		envelope, err := s.cipher.Encrypt(ctx, peer, entry.Payload)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function":   "trySendLocked",
				"peer":       peer.String(),
				"message_id": entry.Metadata.MessageID,
			}).WithError(err).Warn("Failed to encrypt queued message, will retry")
			return
		}

		content, err = envelope.Marshal()
		if err != nil {
			logrus.WithField("function", "trySendLocked").
				WithError(err).Error("Failed to marshal envelope")
			return
		}
		s.encrypted[key] = content
	}

	if err := s.relay.SendMessage(peer, content, entry.Metadata.MessageID); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "trySendLocked",
			"peer":       peer.String(),
			"message_id": entry.Metadata.MessageID,
		}).WithError(err).Debug("Relay send failed, entry stays queued")
	}
}
