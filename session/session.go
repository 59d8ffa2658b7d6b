package session

import (
	"crypto/rand"
	"fmt"

	"github.com/flynn/noise"

	"github.com/voxwire/voxwire/crypto"
)

const x3dhInfo = "voxwire-x3dh-v1"

// Session holds the ratchet state shared with one peer address. It is
// created on the first successful prekey exchange, mutated on every encrypt
// and decrypt, and deleted only on explicit session reset.
type Session struct {
	Peer      crypto.PeerAddress `json:"peer"`
	RootKey   [32]byte           `json:"rootKey"`
	SendChain [32]byte           `json:"sendChain"`
	RecvChain [32]byte           `json:"recvChain"`
	SendCount uint32             `json:"sendCount"`
	RecvCount uint32             `json:"recvCount"`

	// Handshake is retained on the initiator side until the peer answers;
	// while present, outgoing messages are prekey-typed and repeat the
	// header so the responder can establish its half at any point.
	Handshake *HandshakeHeader `json:"handshake,omitempty"`
}

// deriveSessionKeys expands the concatenated DH results into a root key and
// the two directional chain keys. The initiator sends on chain A; the
// responder sends on chain B.
func deriveSessionKeys(dhConcat []byte) (root, chainA, chainB [32]byte, err error) {
	okm, err := crypto.DeriveKeys(dhConcat, []byte(x3dhInfo), 96)
	if err != nil {
		return
	}
	copy(root[:], okm[0:32])
	copy(chainA[:], okm[32:64])
	copy(chainB[:], okm[64:96])
	return
}

// establishInitiator performs the initiator side of the X3DH agreement
// against a fetched prekey bundle and returns the new session.
func establishInitiator(peer crypto.PeerAddress, identity *crypto.KeyPair, bundle *PreKeyBundle) (*Session, error) {
	if err := bundle.Validate(); err != nil {
		return nil, err
	}

	ephemeralKey, err := noise.DH25519.GenerateKeypair(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
	}
	var ephemeral crypto.KeyPair
	copy(ephemeral.Public[:], ephemeralKey.Public)
	copy(ephemeral.Private[:], ephemeralKey.Private)

	dh1, err := identity.DH(bundle.SignedPreKey)
	if err != nil {
		return nil, err
	}
	dh2, err := ephemeral.DH(bundle.IdentityKey)
	if err != nil {
		return nil, err
	}
	dh3, err := ephemeral.DH(bundle.SignedPreKey)
	if err != nil {
		return nil, err
	}

	dhConcat := make([]byte, 0, 32*4)
	dhConcat = append(dhConcat, dh1[:]...)
	dhConcat = append(dhConcat, dh2[:]...)
	dhConcat = append(dhConcat, dh3[:]...)

	if bundle.OneTimePreKey != nil {
		dh4, err := ephemeral.DH(*bundle.OneTimePreKey)
		if err != nil {
			return nil, err
		}
		dhConcat = append(dhConcat, dh4[:]...)
	}

	root, chainA, chainB, err := deriveSessionKeys(dhConcat)
	if err != nil {
		return nil, err
	}

	handshake := &HandshakeHeader{
		IdentityKey:    identity.Public,
		EphemeralKey:   ephemeral.Public,
		SignedPreKeyID: bundle.SignedPreKeyID,
	}
	if bundle.OneTimePreKey != nil {
		handshake.OneTimePreKeyID = bundle.OneTimePreKeyID
	}

	return &Session{
		Peer:      peer,
		RootKey:   root,
		SendChain: chainA,
		RecvChain: chainB,
		Handshake: handshake,
	}, nil
}

// establishResponder performs the responder side of the agreement using the
// handshake header from a prekey message and our local prekey privates. A
// one-time prekey named by the header is consumed exactly once; replaying a
// consumed id fails.
func establishResponder(peer crypto.PeerAddress, identity *crypto.KeyPair, local *LocalPreKeys, header *HandshakeHeader) (*Session, error) {
	signedPreKey, err := local.SignedPreKey(header.SignedPreKeyID)
	if err != nil {
		return nil, err
	}

	dh1, err := signedPreKey.DH(header.IdentityKey)
	if err != nil {
		return nil, err
	}
	dh2, err := identity.DH(header.EphemeralKey)
	if err != nil {
		return nil, err
	}
	dh3, err := signedPreKey.DH(header.EphemeralKey)
	if err != nil {
		return nil, err
	}

	dhConcat := make([]byte, 0, 32*4)
	dhConcat = append(dhConcat, dh1[:]...)
	dhConcat = append(dhConcat, dh2[:]...)
	dhConcat = append(dhConcat, dh3[:]...)

	if header.OneTimePreKeyID != 0 {
		oneTime, err := local.TakeOneTime(header.OneTimePreKeyID)
		if err != nil {
			return nil, err
		}
		dh4, err := oneTime.DH(header.EphemeralKey)
		if err != nil {
			return nil, err
		}
		dhConcat = append(dhConcat, dh4[:]...)
	}

	root, chainA, chainB, err := deriveSessionKeys(dhConcat)
	if err != nil {
		return nil, err
	}

	// Mirror of the initiator: we receive on chain A and send on chain B.
	return &Session{
		Peer:      peer,
		RootKey:   root,
		SendChain: chainB,
		RecvChain: chainA,
	}, nil
}

// encrypt advances the send chain one step and seals the plaintext.
func (s *Session) encrypt(plaintext []byte) (*payloadV1, error) {
	messageKey, nextChain := crypto.AdvanceChain(s.SendChain[:])

	ciphertext, err := crypto.Seal(messageKey, s.SendCount, plaintext)
	if err != nil {
		return nil, err
	}

	p := &payloadV1{
		Handshake:  s.Handshake,
		Counter:    s.SendCount,
		Ciphertext: ciphertext,
	}

	s.SendChain = nextChain
	s.SendCount++
	return p, nil
}

// decrypt advances the receive chain one step and opens the ciphertext.
// Receiving any message from the peer completes a pending handshake.
func (s *Session) decrypt(p *payloadV1) ([]byte, error) {
	if p.Counter != s.RecvCount {
		return nil, fmt.Errorf("message counter %d out of order, expected %d", p.Counter, s.RecvCount)
	}

	messageKey, nextChain := crypto.AdvanceChain(s.RecvChain[:])

	plaintext, err := crypto.Open(messageKey, p.Counter, p.Ciphertext)
	if err != nil {
		return nil, err
	}

	s.RecvChain = nextChain
	s.RecvCount++
	s.Handshake = nil
	return plaintext, nil
}
