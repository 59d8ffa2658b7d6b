package voxwire

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/voxwire/voxwire/contacts"
	"github.com/voxwire/voxwire/crypto"
	"github.com/voxwire/voxwire/messaging"
)

// SendToUser queues a text message for userID and returns its message id.
// Sending is fire-and-forget: the message is durably queued first and
// transmitted when the relay is available. Sending to oneself never
// touches the network; the message is persisted and a local receive is
// synthesized after a short delay.
func (m *Messenger) SendToUser(ctx context.Context, userID uint64, text string, ttl int64) (string, error) {
	messageID := newMessageID()
	sentAt := time.Now().UnixMilli()

	info := messaging.MessageInfo{
		ID:      messageID,
		Message: text,
		IsSent:  true,
		SentAt:  sentAt,
		TTL:     ttl,
	}

	if userID == m.self.UserID {
		return messageID, m.sendToSelf(userID, info)
	}

	wrapper := messaging.NewTextWrapper(&messaging.TextMessage{
		SentAt:  sentAt,
		Message: text,
		TTL:     ttl,
	})
	payload, err := wrapper.Marshal()
	if err != nil {
		return "", err
	}

	entry := messaging.QueueEntry{
		Metadata: messaging.Metadata{
			UserID:    userID,
			Category:  messaging.CategoryTextSingle,
			MessageID: messageID,
		},
		Payload: payload,
	}
	// Queue before persisting the conversation record so a queue failure
	// never leaves a "sent" message that was never in flight.
	if err := m.sender.Enqueue(ctx, entry); err != nil {
		return "", err
	}

	if err := m.messages.AddMessage(userID, info); err != nil {
		return "", fmt.Errorf("failed to persist message: %w", err)
	}

	m.syncSentMessage(ctx, messageID, userID, "", text, sentAt)
	return messageID, nil
}

// sendToSelf persists a message to oneself as sent and delivered, then
// synthesizes the receive side locally after SelfSendDelay.
func (m *Messenger) sendToSelf(userID uint64, info messaging.MessageInfo) error {
	info.Delivered = true
	info.ReceivedAt = info.SentAt
	if err := m.messages.AddMessage(userID, info); err != nil {
		return fmt.Errorf("failed to persist message: %w", err)
	}

	received := info
	received.IsSent = false

	delay := m.opts.SelfSendDelay
	go func() {
		time.Sleep(delay)
		if err := m.messages.AddMessage(userID, received); err != nil {
			logrus.WithField("function", "sendToSelf").
				WithError(err).Error("Failed to persist self message")
			return
		}
		m.emitNew(Conversation{UserID: userID}, received)
	}()
	return nil
}

// SendToGroup queues a text message for every non-blocked member of the
// group. Each member gets an independently encrypted copy sharing one
// message id; exactly one group conversation record is stored.
func (m *Messenger) SendToGroup(ctx context.Context, groupID, text string, ttl int64) (string, error) {
	members, err := m.groups.NonBlockedMembers(groupID)
	if err != nil {
		return "", err
	}

	messageID := newMessageID()
	sentAt := time.Now().UnixMilli()

	if err := m.groups.AddMessage(groupID, messaging.GroupMessageInfo{
		Info: messaging.MessageInfo{
			ID:      messageID,
			Message: text,
			IsSent:  true,
			SentAt:  sentAt,
			TTL:     ttl,
		},
	}); err != nil {
		return "", fmt.Errorf("failed to persist group message: %w", err)
	}

	wrapper := messaging.NewTextWrapper(&messaging.TextMessage{
		SentAt:  sentAt,
		Message: text,
		GroupID: groupID,
		TTL:     ttl,
	})
	payload, err := wrapper.Marshal()
	if err != nil {
		return "", err
	}

	entries := make([]messaging.QueueEntry, 0, len(members))
	for _, member := range members {
		if member == m.self.UserID {
			continue
		}
		entries = append(entries, messaging.QueueEntry{
			Metadata: messaging.Metadata{
				UserID:    member,
				GroupID:   groupID,
				Category:  messaging.CategoryTextGroup,
				MessageID: messageID,
			},
			Payload: payload,
		})
	}
	if err := m.sender.Enqueue(ctx, entries...); err != nil {
		return "", err
	}

	m.syncSentMessage(ctx, messageID, 0, groupID, text, sentAt)
	return messageID, nil
}

// SetContactLevel records a message-permission change locally and queues
// it for the next address book push.
func (m *Messenger) SetContactLevel(ctx context.Context, userID uint64, level contacts.AllowedMessageLevel) error {
	info, err := m.contactStore.Get(userID)
	if err != nil {
		return err
	}
	if info == nil {
		return fmt.Errorf("unknown contact %d", userID)
	}
	info.Level = level
	if err := m.contactStore.Add(*info); err != nil {
		return err
	}
	return m.contactStore.AddRemoteUpdates([]contacts.RemoteUpdate{{UserID: userID, Level: level}})
}

// SyncContacts runs the requested contact sync phases. When the run
// changed anything, the account's other devices are notified so they
// re-sync their own address books.
func (m *Messenger) SyncContacts(ctx context.Context, job contacts.JobDescription) error {
	if m.sync == nil {
		return fmt.Errorf("contact sync not configured")
	}
	result, err := m.sync.Run(ctx, job)
	if err != nil {
		return err
	}
	if result.Changed {
		m.broadcastToOwnDevices(ctx, messaging.NewSyncWrapper(&messaging.SyncMessage{
			Kind: messaging.SyncAddressBookSync,
		}))
	}
	return nil
}

// AnnounceDevice tells the account's other devices this device exists.
func (m *Messenger) AnnounceDevice(ctx context.Context, name string) {
	m.broadcastToOwnDevices(ctx, messaging.NewSyncWrapper(&messaging.SyncMessage{
		Kind:   messaging.SyncNewDevice,
		Device: &messaging.DeviceInfo{DeviceID: m.self.DeviceID, Name: name},
	}))
}

// syncSentMessage mirrors a sent message to the account's other devices.
func (m *Messenger) syncSentMessage(ctx context.Context, messageID string, userID uint64, groupID, text string, sentAt int64) {
	m.broadcastToOwnDevices(ctx, messaging.NewSyncWrapper(&messaging.SyncMessage{
		Kind: messaging.SyncSelfMessage,
		SentMessage: &messaging.SyncSentMessage{
			MessageID: messageID,
			UserID:    userID,
			GroupID:   groupID,
			Message:   text,
			SentAt:    sentAt,
		},
	}))
}

// broadcastToOwnDevices queues one copy of the wrapper per other device of
// this account, each independently encrypted.
func (m *Messenger) broadcastToOwnDevices(ctx context.Context, wrapper *messaging.Wrapper) {
	if len(m.opts.OwnDevices) == 0 {
		return
	}

	payload, err := wrapper.Marshal()
	if err != nil {
		logrus.WithField("function", "broadcastToOwnDevices").
			WithError(err).Error("Failed to serialize sync message")
		return
	}

	entries := make([]messaging.QueueEntry, 0, len(m.opts.OwnDevices))
	for _, deviceID := range m.opts.OwnDevices {
		if deviceID == m.self.DeviceID {
			continue
		}
		entries = append(entries, messaging.QueueEntry{
			Metadata: messaging.Metadata{
				UserID:    m.self.UserID,
				DeviceID:  deviceID,
				Category:  messaging.CategoryOther,
				MessageID: newMessageID(),
			},
			Payload: payload,
		})
	}
	if len(entries) == 0 {
		return
	}
	if err := m.sender.Enqueue(ctx, entries...); err != nil {
		logrus.WithField("function", "broadcastToOwnDevices").
			WithError(err).Error("Failed to queue sync messages")
	}
}

// handleWrapper routes one decrypted inbound message. It runs on the
// dispatch goroutine and must persist before returning nil so the backing
// package can be deleted.
func (m *Messenger) handleWrapper(from crypto.PeerAddress, w *messaging.Wrapper) error {
	switch w.Type {
	case messaging.TypeText:
		return m.handleTextMessage(from, w.Text)
	case messaging.TypeGroup:
		return m.handleGroupEvent(from, w.Group)
	case messaging.TypeSync:
		return m.handleSyncMessage(from, w.Sync)
	case messaging.TypeControl:
		logrus.WithFields(logrus.Fields{
			"function": "handleWrapper",
			"from":     from.String(),
			"kind":     w.Control.Kind,
		}).Debug("Control message received")
		return nil
	default:
		return fmt.Errorf("unroutable wrapper type %q", w.Type)
	}
}

func (m *Messenger) handleTextMessage(from crypto.PeerAddress, msg *messaging.TextMessage) error {
	info := messaging.MessageInfo{
		ID:         newMessageID(),
		Message:    msg.Message,
		SentAt:     msg.SentAt,
		ReceivedAt: time.Now().UnixMilli(),
		TTL:        msg.TTL,
	}

	if msg.GroupID != "" {
		if err := m.groups.AddMessage(msg.GroupID, messaging.GroupMessageInfo{
			SpeakerID: from.UserID,
			Info:      info,
		}); err != nil {
			return err
		}
		m.emitNew(Conversation{UserID: from.UserID, GroupID: msg.GroupID}, info)
		return nil
	}

	if err := m.messages.AddMessage(from.UserID, info); err != nil {
		return err
	}
	m.emitNew(Conversation{UserID: from.UserID}, info)
	return nil
}

func (m *Messenger) handleGroupEvent(from crypto.PeerAddress, ev *messaging.GroupEvent) error {
	switch ev.Kind {
	case messaging.GroupEventInvitation:
		return m.groups.Join(messaging.GroupInfo{ID: ev.GroupID, Name: ev.Name}, ev.Members)
	case messaging.GroupEventJoin:
		return m.groups.AddMembers(ev.GroupID, ev.Members)
	case messaging.GroupEventPart:
		return m.groups.RemoveMember(ev.GroupID, from.UserID)
	default:
		logrus.WithFields(logrus.Fields{
			"function": "handleGroupEvent",
			"kind":     ev.Kind,
		}).Warn("Unknown group event kind, dropping")
		return nil
	}
}

func (m *Messenger) handleSyncMessage(from crypto.PeerAddress, msg *messaging.SyncMessage) error {
	// Sync messages are only honored from our own account's devices.
	if from.UserID != m.self.UserID {
		logrus.WithFields(logrus.Fields{
			"function": "handleSyncMessage",
			"from":     from.String(),
		}).Warn("Sync message from foreign account, dropping")
		return nil
	}

	switch msg.Kind {
	case messaging.SyncSelfMessage:
		sent := msg.SentMessage
		if sent == nil {
			return fmt.Errorf("sync self-message missing payload")
		}
		info := messaging.MessageInfo{
			ID:        sent.MessageID,
			Message:   sent.Message,
			IsSent:    true,
			SentAt:    sent.SentAt,
			Delivered: true,
		}
		if sent.GroupID != "" {
			return m.groups.AddMessage(sent.GroupID, messaging.GroupMessageInfo{
				SpeakerID: m.self.UserID,
				Info:      info,
			})
		}
		return m.messages.AddMessage(sent.UserID, info)

	case messaging.SyncAddressBookSync:
		go func() {
			if err := m.SyncContacts(context.Background(), contacts.JobDescription{RemoteSync: true}); err != nil {
				logrus.WithField("function", "handleSyncMessage").
					WithError(err).Warn("Triggered address book sync failed")
			}
		}()
		return nil

	case messaging.SyncNewDevice:
		if msg.Device != nil {
			logrus.WithFields(logrus.Fields{
				"function":  "handleSyncMessage",
				"device_id": msg.Device.DeviceID,
				"name":      msg.Device.Name,
			}).Info("New device announced for this account")
		}
		return nil

	default:
		logrus.WithFields(logrus.Fields{
			"function": "handleSyncMessage",
			"kind":     msg.Kind,
		}).Warn("Unknown sync message kind, dropping")
		return nil
	}
}

// handleDecryptFailure stores a marker so the conversation shows the
// message could not be decrypted without blocking its siblings.
func (m *Messenger) handleDecryptFailure(from crypto.PeerAddress, err error) {
	info := messaging.MessageInfo{
		ID:            newMessageID(),
		ReceivedAt:    time.Now().UnixMilli(),
		DecryptFailed: true,
	}
	if storeErr := m.messages.AddMessage(from.UserID, info); storeErr != nil {
		logrus.WithField("function", "handleDecryptFailure").
			WithError(storeErr).Error("Failed to store decryption failure marker")
		return
	}
	m.emitNew(Conversation{UserID: from.UserID}, info)
}
