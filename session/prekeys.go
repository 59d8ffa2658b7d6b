package session

import (
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/voxwire/voxwire/crypto"
)

// DefaultOneTimeKeyCount is the number of one-time prekeys generated for a
// fresh local store.
const DefaultOneTimeKeyCount = 100

// LocalPreKeys holds this device's published prekey private material: the
// signed prekey and a pool of one-time prekeys. One-time keys are removed
// on use so a replayed prekey message referencing a consumed id fails.
type LocalPreKeys struct {
	mu sync.Mutex

	signing        *crypto.SigningKeyPair
	signedPreKeyID uint32
	signedPreKey   *crypto.KeyPair
	signature      []byte

	oneTime  map[uint32]*crypto.KeyPair
	consumed map[uint32]bool
}

// NewLocalPreKeys generates a signed prekey and count one-time prekeys.
func NewLocalPreKeys(signing *crypto.SigningKeyPair, count int) (*LocalPreKeys, error) {
	if count <= 0 {
		count = DefaultOneTimeKeyCount
	}

	signedPreKey, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("failed to generate signed prekey: %w", err)
	}

	lpk := &LocalPreKeys{
		signing:        signing,
		signedPreKeyID: randomKeyID(),
		signedPreKey:   signedPreKey,
		signature:      signing.Sign(signedPreKey.Public[:]),
		oneTime:        make(map[uint32]*crypto.KeyPair, count),
		consumed:       make(map[uint32]bool),
	}

	for i := 0; i < count; i++ {
		keyPair, err := crypto.GenerateKeyPair()
		if err != nil {
			return nil, fmt.Errorf("failed to generate one-time prekey %d: %w", i, err)
		}
		lpk.oneTime[randomKeyID()] = keyPair
	}

	logrus.WithFields(logrus.Fields{
		"function":      "NewLocalPreKeys",
		"one_time_keys": count,
	}).Info("Generated local prekey material")

	return lpk, nil
}

// SignedPreKey returns the signed prekey matching id.
func (l *LocalPreKeys) SignedPreKey(id uint32) (*crypto.KeyPair, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if id != l.signedPreKeyID {
		return nil, fmt.Errorf("unknown signed prekey id %d", id)
	}
	return l.signedPreKey, nil
}

// TakeOneTime consumes the one-time prekey matching id. A second call with
// the same id reports a replay.
func (l *LocalPreKeys) TakeOneTime(id uint32) (*crypto.KeyPair, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.consumed[id] {
		return nil, fmt.Errorf("one-time prekey %d already consumed", id)
	}

	keyPair, ok := l.oneTime[id]
	if !ok {
		return nil, fmt.Errorf("unknown one-time prekey id %d", id)
	}

	delete(l.oneTime, id)
	l.consumed[id] = true
	return keyPair, nil
}

// Remaining returns the number of unconsumed one-time prekeys.
func (l *LocalPreKeys) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.oneTime)
}

// PublishBundle produces a bundle for the server to hand to a peer wishing
// to start a session with us. Each call includes a different one-time
// prekey while the pool lasts; when the pool is exhausted the bundle is
// published without one.
func (l *LocalPreKeys) PublishBundle(identity *crypto.KeyPair) *PreKeyBundle {
	l.mu.Lock()
	defer l.mu.Unlock()

	bundle := &PreKeyBundle{
		IdentityKey:    identity.Public,
		SigningKey:     l.signing.Public,
		SignedPreKeyID: l.signedPreKeyID,
		SignedPreKey:   l.signedPreKey.Public,
		Signature:      l.signature,
	}

	for id, keyPair := range l.oneTime {
		pub := keyPair.Public
		bundle.OneTimePreKeyID = id
		bundle.OneTimePreKey = &pub
		break
	}

	return bundle
}

func randomKeyID() uint32 {
	idBytes := make([]byte, 4)
	if _, err := rand.Read(idBytes); err != nil {
		// crypto/rand failing is unrecoverable for key generation anyway.
		panic(fmt.Sprintf("failed to generate key id: %v", err))
	}
	id := uint32(idBytes[0])<<24 | uint32(idBytes[1])<<16 | uint32(idBytes[2])<<8 | uint32(idBytes[3])
	if id == 0 {
		id = 1
	}
	return id
}
