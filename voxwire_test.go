package voxwire

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxwire/voxwire/contacts"
	"github.com/voxwire/voxwire/crypto"
	"github.com/voxwire/voxwire/messaging"
	"github.com/voxwire/voxwire/relay"
	"github.com/voxwire/voxwire/session"
	"github.com/voxwire/voxwire/storage/memory"
)

type testEnv struct {
	m        *Messenger
	conn     *mockConn
	dir      *bundleDirectory
	queue    *memory.QueueStore
	messages *memory.MessageStore
	groups   *memory.GroupStore
	contacts *memory.ContactStore

	mu          sync.Mutex
	newMessages []Conversation
	newInfos    []messaging.MessageInfo
	updates     []Conversation
}

func newTestEnv(t *testing.T, tweaks ...func(*Options)) *testEnv {
	t.Helper()

	env := &testEnv{
		conn:     newMockConn(),
		dir:      newBundleDirectory(),
		queue:    memory.NewQueueStore(),
		messages: memory.NewMessageStore(),
		contacts: memory.NewContactStore(),
	}
	env.groups = memory.NewGroupStore(env.contacts)

	options := NewOptions()
	options.ServerAddr = "relay.test:2153"
	options.Credentials = relay.Credentials{
		Address:   crypto.NewPeerAddress(1, 1),
		AuthToken: "test-token",
	}
	options.Connector = &mockConnector{conn: env.conn}
	options.BundleFetcher = env.dir
	options.SelfSendDelay = 10 * time.Millisecond
	options.PingInterval = time.Hour
	options.Stores = Stores{
		Queue:    env.queue,
		Messages: env.messages,
		Groups:   env.groups,
		Contacts: env.contacts,
	}
	for _, tweak := range tweaks {
		tweak(options)
	}

	m, err := New(options)
	require.NoError(t, err)
	env.m = m
	m.OnNewMessage(func(conv Conversation, info messaging.MessageInfo) {
		env.mu.Lock()
		defer env.mu.Unlock()
		env.newMessages = append(env.newMessages, conv)
		env.newInfos = append(env.newInfos, info)
	})
	m.OnMessageUpdate(func(conv Conversation, info messaging.MessageInfo) {
		env.mu.Lock()
		defer env.mu.Unlock()
		env.updates = append(env.updates, conv)
	})

	t.Cleanup(m.Shutdown)
	return env
}

func (env *testEnv) connect(t *testing.T) {
	t.Helper()
	authed := make(chan struct{}, 1)
	env.m.OnConnectionStatus(func(status ConnectionStatus) {
		if status.Authenticated {
			select {
			case authed <- struct{}{}:
			default:
			}
		}
	})
	require.NoError(t, env.m.Connect(context.Background()))
	select {
	case <-authed:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for authentication")
	}
}

func (env *testEnv) addPeer(t *testing.T, userID uint64) *testPeer {
	t.Helper()
	peer, err := newTestPeer(userID)
	require.NoError(t, err)
	env.dir.register(peer)
	return peer
}

func (env *testEnv) newMessageCount() int {
	env.mu.Lock()
	defer env.mu.Unlock()
	return len(env.newMessages)
}

func (env *testEnv) updateCount() int {
	env.mu.Lock()
	defer env.mu.Unlock()
	return len(env.updates)
}

func TestSendToGroupFansOutPerMember(t *testing.T) {
	env := newTestEnv(t)
	for _, id := range []uint64{10, 11, 12} {
		env.addPeer(t, id)
	}
	require.NoError(t, env.groups.Join(messaging.GroupInfo{ID: "g1", Name: "friends"}, []uint64{10, 11, 12}))

	messageID, err := env.m.SendToGroup(context.Background(), "g1", "hi all", 0)
	require.NoError(t, err)

	// One queue entry per member, all sharing the message id.
	entries, err := env.queue.All()
	require.NoError(t, err)
	require.Len(t, entries, 3)
	seen := map[uint64]bool{}
	for _, e := range entries {
		assert.Equal(t, messageID, e.Metadata.MessageID)
		assert.Equal(t, "g1", e.Metadata.GroupID)
		assert.Equal(t, messaging.CategoryTextGroup, e.Metadata.Category)
		seen[e.Metadata.UserID] = true
	}
	assert.Len(t, seen, 3)

	// Exactly one conversation record.
	msgs, err := env.groups.Messages("g1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, messageID, msgs[0].Info.ID)
}

func TestSendToGroupSkipsBlockedMembers(t *testing.T) {
	env := newTestEnv(t)
	env.addPeer(t, 10)
	env.addPeer(t, 11)
	require.NoError(t, env.contacts.Add(contacts.ContactInfo{UserID: 11, Level: contacts.LevelBlocked}))
	require.NoError(t, env.groups.Join(messaging.GroupInfo{ID: "g1"}, []uint64{10, 11}))

	_, err := env.m.SendToGroup(context.Background(), "g1", "hi", 0)
	require.NoError(t, err)

	entries, err := env.queue.All()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.EqualValues(t, 10, entries[0].Metadata.UserID)
}

func TestGroupDeliveryFirstAckWins(t *testing.T) {
	env := newTestEnv(t)
	env.addPeer(t, 10)
	env.addPeer(t, 11)
	require.NoError(t, env.groups.Join(messaging.GroupInfo{ID: "g1"}, []uint64{10, 11}))
	env.connect(t)

	messageID, err := env.m.SendToGroup(context.Background(), "g1", "hi", 0)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(env.conn.sentFrames(relay.CmdSendMessage)) == 2
	}, 2*time.Second, 10*time.Millisecond)

	// Both members ack; only the first transitions the group record.
	for _, member := range []uint64{10, 11} {
		env.conn.deliver(&relay.Frame{
			Command: relay.CmdMessageReceived,
			Header:  relay.Header{ToAddress: fmt.Sprintf("%d.1", member), MessageID: messageID},
		})
	}

	require.Eventually(t, func() bool {
		entries, err := env.queue.All()
		return err == nil && len(entries) == 0
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, env.updateCount(), "second ack must not emit a second update")

	msgs, err := env.groups.Messages("g1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Info.Delivered)
}

func TestBlockedSenderDroppedBeforeDecrypt(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.contacts.Add(contacts.ContactInfo{UserID: 66, Level: contacts.LevelBlocked}))
	env.connect(t)

	env.conn.deliver(&relay.Frame{
		Command: relay.CmdSendMessage,
		Header:  relay.Header{FromAddress: "66.1", MessageID: "blocked-1"},
		Content: []byte("garbage that would fail decryption"),
	})

	// The message is acked so the server stops redelivering.
	require.Eventually(t, func() bool {
		return len(env.conn.sentFrames(relay.CmdMessageReceivedAck)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Nothing was decrypted or stored: a decrypt attempt on garbage would
	// have produced a failure marker.
	msgs, err := env.messages.LastMessages(66, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Equal(t, 0, env.newMessageCount())
}

func TestSelfSendSynthesizesLocalReceive(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.m.SendToUser(context.Background(), 1, "note to self", 0)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return env.newMessageCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	env.mu.Lock()
	defer env.mu.Unlock()
	assert.EqualValues(t, 1, env.newMessages[0].UserID)
	assert.False(t, env.newInfos[0].IsSent)
	assert.Equal(t, "note to self", env.newInfos[0].Message)

	// Self-sends never touch the network.
	assert.Empty(t, env.conn.sentFrames(relay.CmdSendMessage))
}

func TestInboundMessageEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	peer := env.addPeer(t, 42)
	env.connect(t)

	// Establish the session from our side.
	_, err := env.m.SendToUser(context.Background(), 42, "hello", 0)
	require.NoError(t, err)

	var outbound *relay.Frame
	require.Eventually(t, func() bool {
		frames := env.conn.sentFrames(relay.CmdSendMessage)
		if len(frames) == 0 {
			return false
		}
		outbound = frames[0]
		return true
	}, 2*time.Second, 10*time.Millisecond)

	// The peer decrypts our prekey message and replies.
	selfAddr := crypto.NewPeerAddress(1, 1)
	envelope, err := session.UnmarshalEnvelope(outbound.Content)
	require.NoError(t, err)
	plaintext, err := peer.service.Decrypt(context.Background(), selfAddr, envelope)
	require.NoError(t, err)
	wrapper, err := messaging.ParseWrapper(plaintext)
	require.NoError(t, err)
	assert.Equal(t, "hello", wrapper.Text.Message)

	reply := messaging.NewTextWrapper(&messaging.TextMessage{
		SentAt:  time.Now().UnixMilli(),
		Message: "hey back",
	})
	replyPlain, err := reply.Marshal()
	require.NoError(t, err)
	replyEnvelope, err := peer.service.Encrypt(context.Background(), selfAddr, replyPlain)
	require.NoError(t, err)
	replyWire, err := replyEnvelope.Marshal()
	require.NoError(t, err)

	env.conn.deliver(&relay.Frame{
		Command: relay.CmdSendMessage,
		Header:  relay.Header{FromAddress: "42.1", MessageID: "peer-msg-1"},
		Content: replyWire,
	})

	require.Eventually(t, func() bool {
		return env.newMessageCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	env.mu.Lock()
	received := env.newInfos[0]
	conv := env.newMessages[0]
	env.mu.Unlock()
	assert.EqualValues(t, 42, conv.UserID)
	assert.Equal(t, "hey back", received.Message)
	assert.False(t, received.DecryptFailed)

	// The inbound message was acked after persistence.
	require.Eventually(t, func() bool {
		return len(env.conn.sentFrames(relay.CmdMessageReceivedAck)) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSingleMessageDeliveryUpdate(t *testing.T) {
	env := newTestEnv(t)
	env.addPeer(t, 42)
	env.connect(t)

	messageID, err := env.m.SendToUser(context.Background(), 42, "hello", 0)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(env.conn.sentFrames(relay.CmdSendMessage)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	env.conn.deliver(&relay.Frame{
		Command: relay.CmdMessageReceived,
		Header:  relay.Header{ToAddress: "42.1", MessageID: messageID},
	})

	require.Eventually(t, func() bool {
		return env.updateCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	msgs, err := env.messages.LastMessages(42, 0, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Delivered)
}

// failingQueue rejects every append, simulating an unavailable queue store.
type failingQueue struct {
	messaging.QueueStore
}

func (failingQueue) Add([]messaging.QueueEntry) error {
	return fmt.Errorf("queue store unavailable")
}

func TestSendToUserQueueFailureLeavesNoRecord(t *testing.T) {
	env := newTestEnv(t, func(o *Options) {
		o.Stores.Queue = failingQueue{}
	})
	env.addPeer(t, 42)

	_, err := env.m.SendToUser(context.Background(), 42, "hello", 0)
	require.Error(t, err)

	// The message was never in flight, so the conversation must not show
	// it as sent.
	msgs, err := env.messages.LastMessages(42, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
