// Package session implements per-peer cryptographic session management:
// prekey-bundle based session establishment, message encryption and
// decryption, and batch decryption with partial-failure isolation.
//
// Sessions follow an X3DH-style agreement: the initiator fetches the peer's
// published prekey bundle, derives a shared root key from three (or four,
// when a one-time prekey is present) Diffie-Hellman results, and seeds two
// symmetric message chains. Each message advances its chain by one HMAC
// ratchet step, so message keys are single-use.
package session

import (
	"crypto/ed25519"
	"errors"
)

// PreKeyBundle is the ephemeral public key material a peer publishes to
// allow others to start a session without an interactive handshake. It is
// consumed once to establish a session, then discarded.
type PreKeyBundle struct {
	IdentityKey     [32]byte          `json:"identityKey"`
	SigningKey      ed25519.PublicKey `json:"signingKey"`
	SignedPreKeyID  uint32            `json:"signedPreKeyId"`
	SignedPreKey    [32]byte          `json:"signedPreKey"`
	Signature       []byte            `json:"signature"`
	OneTimePreKeyID uint32            `json:"oneTimePreKeyId,omitempty"`
	OneTimePreKey   *[32]byte         `json:"oneTimePreKey,omitempty"`
}

// Validate checks the structural integrity of the bundle and verifies the
// signed prekey signature against the bundle's signing key.
func (b *PreKeyBundle) Validate() error {
	if b == nil {
		return errors.New("nil prekey bundle")
	}
	if len(b.SigningKey) != ed25519.PublicKeySize {
		return errors.New("prekey bundle: malformed signing key")
	}
	if !ed25519.Verify(b.SigningKey, b.SignedPreKey[:], b.Signature) {
		return errors.New("prekey bundle: signed prekey signature verification failed")
	}
	if b.OneTimePreKey != nil && b.OneTimePreKeyID == 0 {
		return errors.New("prekey bundle: one-time prekey missing its id")
	}
	return nil
}
