// Package voxwire is an end-to-end encrypted messaging client core. It
// maintains a persistent relay connection, establishes per-peer
// cryptographic sessions, delivers one-to-one and group messages reliably
// across reconnects, and keeps the local contact set in sync with the
// device address book and the server-held encrypted address book.
//
// Basic usage:
//
//	options := voxwire.NewOptions()
//	options.ServerAddr = "relay.example.com:2153"
//	options.Credentials = relay.Credentials{Address: self, AuthToken: token}
//	options.BundleFetcher = fetcher
//
//	m, err := voxwire.New(options)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer m.Shutdown()
//
//	m.OnNewMessage(func(conv voxwire.Conversation, info messaging.MessageInfo) {
//		fmt.Printf("[%v] %s\n", conv, info.Message)
//	})
//
//	if err := m.Connect(ctx); err != nil {
//		log.Fatal(err)
//	}
package voxwire

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/voxwire/voxwire/contacts"
	"github.com/voxwire/voxwire/crypto"
	"github.com/voxwire/voxwire/messaging"
	"github.com/voxwire/voxwire/relay"
	"github.com/voxwire/voxwire/session"
)

// Conversation identifies where a message belongs: a one-to-one chat when
// GroupID is empty, a group chat otherwise.
type Conversation struct {
	UserID  uint64
	GroupID string
}

func (c Conversation) String() string {
	if c.GroupID != "" {
		return "group:" + c.GroupID
	}
	return fmt.Sprintf("user:%d", c.UserID)
}

// ConnectionStatus reports relay connectivity.
type ConnectionStatus struct {
	Connected     bool
	Authenticated bool
}

// NewMessageCallback is invoked for every received (or self-synthesized)
// message after it has been persisted.
type NewMessageCallback func(conv Conversation, info messaging.MessageInfo)

// MessageUpdateCallback is invoked when a sent message transitions to
// delivered.
type MessageUpdateCallback func(conv Conversation, info messaging.MessageInfo)

// ConnectionStatusCallback is invoked on relay connectivity changes.
type ConnectionStatusCallback func(status ConnectionStatus)

// Messenger composes the relay client, session crypto, send/receive
// pipelines and contact sync into one client core.
type Messenger struct {
	mu sync.Mutex

	opts *Options
	self crypto.PeerAddress

	relay    *relay.Client
	cipher   *session.Service
	sender   *messaging.Sender
	receiver *messaging.Receiver
	sync     *contacts.SyncEngine

	contactStore contacts.Store
	messages     messaging.MessageStore
	groups       messaging.GroupStore

	newMessageCallback       NewMessageCallback
	messageUpdateCallback    MessageUpdateCallback
	connectionStatusCallback ConnectionStatusCallback

	stop chan struct{}
	done chan struct{}
}

// New creates a Messenger from options.
func New(options *Options) (*Messenger, error) {
	if err := options.validate(); err != nil {
		return nil, err
	}
	options.Stores.fillDefaults()

	identity := options.IdentityKey
	if identity == nil {
		var err error
		identity, err = crypto.GenerateKeyPair()
		if err != nil {
			return nil, fmt.Errorf("failed to generate identity key: %w", err)
		}
	}

	signing, err := crypto.GenerateSigningKeyPair()
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	local, err := session.NewLocalPreKeys(signing, session.DefaultOneTimeKeyCount)
	if err != nil {
		return nil, fmt.Errorf("failed to generate prekeys: %w", err)
	}

	relayClient := relay.NewClient(options.connector(), options.ServerAddr, options.Credentials)
	relayClient.SetPingInterval(options.PingInterval)

	cipher := session.NewService(identity, options.Stores.Sessions, options.BundleFetcher, local)

	m := &Messenger{
		opts:         options,
		self:         options.Credentials.Address,
		relay:        relayClient,
		cipher:       cipher,
		contactStore: options.Stores.Contacts,
		messages:     options.Stores.Messages,
		groups:       options.Stores.Groups,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}

	m.sender = messaging.NewSender(options.Stores.Queue, relayClient, cipher, options.PeerDeviceID)
	m.sender.OnSent(m.handleQueueEntryAcked)

	m.receiver = messaging.NewReceiver(options.Stores.Packages, cipher)
	m.receiver.OnWrapper(m.handleWrapper)
	m.receiver.OnFailure(m.handleDecryptFailure)

	if options.ContactsClient != nil {
		bookKey, err := contacts.DeriveBookKey(identity.Private)
		if err != nil {
			return nil, err
		}
		m.sync = contacts.NewSyncEngine(
			options.Stores.Contacts,
			options.ContactsClient,
			options.BookClient,
			options.Platform,
			bookKey,
			options.DefaultRegion,
		)
	}

	go m.dispatch()
	return m, nil
}

// OnNewMessage sets the callback for received messages.
func (m *Messenger) OnNewMessage(callback NewMessageCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.newMessageCallback = callback
}

// OnMessageUpdate sets the callback for delivery updates.
func (m *Messenger) OnMessageUpdate(callback MessageUpdateCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messageUpdateCallback = callback
}

// OnConnectionStatus sets the callback for connectivity changes.
func (m *Messenger) OnConnectionStatus(callback ConnectionStatusCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectionStatusCallback = callback
}

// Connect establishes and authenticates the relay connection. Messages
// queued while offline are flushed once the server accepts authentication.
func (m *Messenger) Connect(ctx context.Context) error {
	return m.relay.Connect(ctx)
}

// Disconnect tears down the transport only. Queued outbound entries and
// unprocessed inbound packages survive and are resumed on the next
// Connect.
func (m *Messenger) Disconnect() {
	m.relay.Disconnect()
}

// Shutdown disconnects and stops event dispatch. The Messenger cannot be
// reused afterwards.
func (m *Messenger) Shutdown() {
	m.relay.Disconnect()
	close(m.stop)
	<-m.done
}

// dispatch consumes relay events one at a time, in order. All inbound
// processing for the session runs on this goroutine.
func (m *Messenger) dispatch() {
	defer close(m.done)
	for {
		select {
		case <-m.stop:
			return
		case event := <-m.relay.Events():
			m.handleRelayEvent(event)
		}
	}
}

func (m *Messenger) handleRelayEvent(event relay.Event) {
	ctx := context.Background()

	switch ev := event.(type) {
	case relay.ConnectionEstablished:
		m.emitStatus(ConnectionStatus{Connected: true})

	case relay.AuthSuccess:
		m.emitStatus(ConnectionStatus{Connected: true, Authenticated: true})
		if err := m.sender.Flush(ctx); err != nil {
			logrus.WithField("function", "handleRelayEvent").
				WithError(err).Error("Failed to flush send queue")
		}
		if err := m.receiver.ProcessPending(ctx); err != nil {
			logrus.WithField("function", "handleRelayEvent").
				WithError(err).Error("Failed to process pending packages")
		}

	case relay.AuthFailure, relay.AuthExpired:
		m.emitStatus(ConnectionStatus{})

	case relay.ConnectionLost:
		m.emitStatus(ConnectionStatus{})

	case relay.ConnectionFailure:
		m.emitStatus(ConnectionStatus{})

	case relay.IncomingMessage:
		m.handleIncoming(ctx, ev)

	case relay.ServerReceived:
		m.handleServerAck(ev.To, ev.MessageID)

	case relay.MessageSent:
		m.handleServerAck(ev.To, ev.MessageID)

	case relay.UserOffline:
		// The server queues for offline recipients; the entry stays in
		// our queue until the durable-receipt ack arrives.
		logrus.WithFields(logrus.Fields{
			"function":   "handleRelayEvent",
			"to":         ev.To.String(),
			"message_id": ev.MessageID,
		}).Debug("Recipient offline, message queued server-side")

	case relay.DeviceMismatch:
		logrus.WithFields(logrus.Fields{
			"function": "handleRelayEvent",
			"to":       ev.To.String(),
			"stale":    ev.Content.Stale,
			"missing":  ev.Content.Missing,
			"removed":  ev.Content.Removed,
		}).Warn("Device list out of date for recipient")

	case relay.Pong:

	default:
		logrus.WithField("function", "handleRelayEvent").
			Debugf("Unhandled relay event %T", event)
	}
}

// handleIncoming runs the inbound pipeline: blocked senders are dropped
// before any decryption or contact fetch, unknown senders are inserted as
// pending contacts, then the package is decrypted, persisted and acked.
func (m *Messenger) handleIncoming(ctx context.Context, ev relay.IncomingMessage) {
	blocked, err := m.isBlocked(ev.From.UserID)
	if err != nil {
		logrus.WithField("function", "handleIncoming").
			WithError(err).Error("Failed to check sender block state")
		return
	}
	if blocked {
		// Ack so the server stops redelivering; nothing is decrypted or
		// stored for a blocked sender.
		m.ack(ev.MessageID)
		return
	}

	if m.sync != nil {
		if _, err := m.sync.AddMissing(ctx, []uint64{ev.From.UserID}); err != nil {
			logrus.WithField("function", "handleIncoming").
				WithError(err).Warn("Could not resolve sender contact info")
		}
	}

	pkg := messaging.Package{
		ID:         messaging.PackageID{Sender: ev.From, MessageID: ev.MessageID},
		ReceivedAt: time.Now().UnixMilli(),
		Payload:    ev.Content,
	}
	if _, err := m.receiver.Enqueue(pkg); err != nil {
		logrus.WithField("function", "handleIncoming").
			WithError(err).Error("Failed to persist inbound package")
		return
	}

	if err := m.receiver.ProcessPending(ctx); err != nil {
		logrus.WithField("function", "handleIncoming").
			WithError(err).Error("Failed to process inbound package")
		return
	}

	m.ack(ev.MessageID)
}

func (m *Messenger) handleServerAck(to crypto.PeerAddress, messageID string) {
	if err := m.sender.Ack(to.UserID, messageID, time.Now().UnixMilli()); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "handleServerAck",
			"message_id": messageID,
		}).WithError(err).Error("Failed to ack queue entry")
	}
}

// handleQueueEntryAcked runs when the send queue confirms an entry. Text
// messages transition to delivered; for group messages only the first
// member ack performs the transition and later acks emit nothing.
func (m *Messenger) handleQueueEntryAcked(rec messaging.SendRecord) {
	switch rec.Metadata.Category {
	case messaging.CategoryTextSingle:
		info, err := m.messages.MarkDelivered(rec.Metadata.UserID, rec.Metadata.MessageID, rec.ServerTimestamp)
		if err != nil {
			logrus.WithField("function", "handleQueueEntryAcked").
				WithError(err).Error("Failed to mark message delivered")
			return
		}
		if info != nil {
			m.emitUpdate(Conversation{UserID: rec.Metadata.UserID}, *info)
		}

	case messaging.CategoryTextGroup:
		transitioned, err := m.groups.MarkDelivered(rec.Metadata.GroupID, rec.Metadata.MessageID, rec.ServerTimestamp)
		if err != nil {
			logrus.WithField("function", "handleQueueEntryAcked").
				WithError(err).Error("Failed to mark group message delivered")
			return
		}
		if transitioned {
			m.emitUpdate(Conversation{GroupID: rec.Metadata.GroupID}, messaging.MessageInfo{
				ID:         rec.Metadata.MessageID,
				IsSent:     true,
				Delivered:  true,
				ReceivedAt: rec.ServerTimestamp,
			})
		}

	case messaging.CategoryOther:
		// Control, sync and group event messages need no delivery state.
	}
}

func (m *Messenger) isBlocked(userID uint64) (bool, error) {
	info, err := m.contactStore.Get(userID)
	if err != nil {
		return false, err
	}
	return info != nil && info.Level == contacts.LevelBlocked, nil
}

func (m *Messenger) ack(messageID string) {
	if err := m.relay.SendAck(messageID); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "ack",
			"message_id": messageID,
		}).WithError(err).Warn("Failed to send relay ack")
	}
}

func (m *Messenger) emitNew(conv Conversation, info messaging.MessageInfo) {
	m.mu.Lock()
	cb := m.newMessageCallback
	m.mu.Unlock()
	if cb != nil {
		cb(conv, info)
	}
}

func (m *Messenger) emitUpdate(conv Conversation, info messaging.MessageInfo) {
	m.mu.Lock()
	cb := m.messageUpdateCallback
	m.mu.Unlock()
	if cb != nil {
		cb(conv, info)
	}
}

func (m *Messenger) emitStatus(status ConnectionStatus) {
	m.mu.Lock()
	cb := m.connectionStatusCallback
	m.mu.Unlock()
	if cb != nil {
		cb(status)
	}
}

func newMessageID() string {
	return uuid.New().String()
}
