package voxwire

import (
	"errors"
	"time"

	"github.com/voxwire/voxwire/contacts"
	"github.com/voxwire/voxwire/crypto"
	"github.com/voxwire/voxwire/messaging"
	"github.com/voxwire/voxwire/relay"
	"github.com/voxwire/voxwire/session"
	"github.com/voxwire/voxwire/storage/memory"
)

// Transport selects the relay wire transport.
type Transport uint8

const (
	// TransportTCP frames relay traffic over a plain TCP stream.
	TransportTCP Transport = iota
	// TransportWebSocket carries one relay frame per binary WebSocket
	// message, for environments where raw TCP is unavailable.
	TransportWebSocket
)

// Stores bundles the persistence collaborators. Any nil store is replaced
// by an in-memory implementation.
type Stores struct {
	Sessions session.Store
	Queue    messaging.QueueStore
	Packages messaging.PackageStore
	Messages messaging.MessageStore
	Groups   messaging.GroupStore
	Contacts contacts.Store
}

// Options configures a Messenger.
type Options struct {
	// ServerAddr is the relay server address (host:port for TCP, URL for
	// WebSocket).
	ServerAddr string
	Transport  Transport

	// Connector overrides the transport built from Transport when set.
	Connector relay.Connector

	// Credentials authenticate the relay session.
	Credentials relay.Credentials

	// IdentityKey is the long-term identity. Generated when nil.
	IdentityKey *crypto.KeyPair

	// BundleFetcher resolves peers' prekey bundles.
	BundleFetcher session.BundleFetcher

	// ContactsClient, BookClient and Platform back the contact sync
	// engine. Leaving them nil disables the corresponding sync phases.
	ContactsClient contacts.Client
	BookClient     contacts.BookClient
	Platform       contacts.PlatformContacts

	// DefaultRegion is the ISO region for phone number normalization.
	DefaultRegion string

	// PeerDeviceID is the device addressed when sending to a peer.
	PeerDeviceID uint32

	// OwnDevices lists the account's other device ids for sync fan-out.
	OwnDevices []uint32

	// PingInterval is the relay keepalive cadence.
	PingInterval time.Duration

	// SelfSendDelay is how long a message to oneself waits before the
	// local receive is synthesized.
	SelfSendDelay time.Duration

	Stores Stores
}

// NewOptions returns Options with sensible defaults.
func NewOptions() *Options {
	return &Options{
		Transport:     TransportTCP,
		DefaultRegion: "US",
		PeerDeviceID:  1,
		PingInterval:  relay.DefaultPingInterval,
		SelfSendDelay: 500 * time.Millisecond,
	}
}

func (o *Options) validate() error {
	if o.ServerAddr == "" {
		return errors.New("options missing relay server address")
	}
	if o.Credentials.Address.UserID == 0 {
		return errors.New("options missing relay credentials")
	}
	if o.BundleFetcher == nil {
		return errors.New("options missing prekey bundle fetcher")
	}
	return nil
}

func (o *Options) connector() relay.Connector {
	if o.Connector != nil {
		return o.Connector
	}
	if o.Transport == TransportWebSocket {
		return &relay.WSConnector{}
	}
	return &relay.TCPConnector{}
}

func (s *Stores) fillDefaults() {
	if s.Contacts == nil {
		s.Contacts = memory.NewContactStore()
	}
	if s.Sessions == nil {
		s.Sessions = memory.NewSessionStore()
	}
	if s.Queue == nil {
		s.Queue = memory.NewQueueStore()
	}
	if s.Packages == nil {
		s.Packages = memory.NewPackageStore()
	}
	if s.Messages == nil {
		s.Messages = memory.NewMessageStore()
	}
	if s.Groups == nil {
		s.Groups = memory.NewGroupStore(s.Contacts)
	}
}
