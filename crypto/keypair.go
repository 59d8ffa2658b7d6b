// Package crypto implements the cryptographic primitives used by the
// messaging core: X25519 key pairs, Ed25519 signing keys, HKDF-based key
// derivation, chain-key ratcheting and authenticated encryption.
//
// Example:
//
//	keys, err := crypto.GenerateKeyPair()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println("Public key:", hex.EncodeToString(keys.Public[:]))
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"

	"github.com/flynn/noise"
	"golang.org/x/crypto/curve25519"
)

// KeyPair represents an X25519 key pair used for session key agreement.
type KeyPair struct {
	Public  [32]byte `json:"public"`
	Private [32]byte `json:"private"`
}

// GenerateKeyPair creates a new random X25519 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	dhKey, err := noise.DH25519.GenerateKeypair(rand.Reader)
	if err != nil {
		return nil, err
	}

	keyPair := &KeyPair{}
	copy(keyPair.Public[:], dhKey.Public)
	copy(keyPair.Private[:], dhKey.Private)

	return keyPair, nil
}

// FromPrivateKey reconstructs a key pair from an existing private key.
func FromPrivateKey(privateKey [32]byte) (*KeyPair, error) {
	if isZeroKey(privateKey) {
		return nil, errors.New("invalid private key: all zeros")
	}

	pub, err := curve25519.X25519(privateKey[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}

	keyPair := &KeyPair{Private: privateKey}
	copy(keyPair.Public[:], pub)
	return keyPair, nil
}

// DH computes the X25519 shared secret between our private key and the
// given peer public key.
func (kp *KeyPair) DH(peerPublic [32]byte) ([32]byte, error) {
	var out [32]byte
	if isZeroKey(peerPublic) {
		return out, errors.New("invalid peer public key: all zeros")
	}

	shared, err := noise.DH25519.DH(kp.Private[:], peerPublic[:])
	if err != nil {
		return out, err
	}

	copy(out[:], shared)
	return out, nil
}

// SigningKeyPair is an Ed25519 key pair used to sign published prekeys.
type SigningKeyPair struct {
	Public  ed25519.PublicKey  `json:"public"`
	Private ed25519.PrivateKey `json:"private"`
}

// GenerateSigningKeyPair creates a new random Ed25519 signing key pair.
func GenerateSigningKeyPair() (*SigningKeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &SigningKeyPair{Public: pub, Private: priv}, nil
}

// Sign signs the given data with the private signing key.
func (sk *SigningKeyPair) Sign(data []byte) []byte {
	return ed25519.Sign(sk.Private, data)
}

// VerifySignature checks an Ed25519 signature over data.
func VerifySignature(publicKey ed25519.PublicKey, data, signature []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(publicKey, data, signature)
}

// isZeroKey checks if a key consists of all zeros.
func isZeroKey(key [32]byte) bool {
	for _, b := range key {
		if b != 0 {
			return false
		}
	}
	return true
}
