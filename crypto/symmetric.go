package crypto

import (
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/nacl/secretbox"
)

// Nonce is a 24-byte value used for symmetric encryption.
type Nonce [24]byte

// GenerateNonce creates a cryptographically secure random nonce.
func GenerateNonce() (Nonce, error) {
	var nonce Nonce
	if _, err := rand.Read(nonce[:]); err != nil {
		return Nonce{}, err
	}
	return nonce, nil
}

// EncryptSymmetric encrypts a message using a symmetric key with NaCl's
// secretbox. The nonce is prepended to the returned ciphertext.
func EncryptSymmetric(message []byte, key [32]byte) ([]byte, error) {
	if len(message) == 0 {
		return nil, errors.New("empty message")
	}
	if len(message) > MaxMessageSize {
		return nil, errors.New("message too large")
	}

	nonce, err := GenerateNonce()
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(nonce)+len(message)+secretbox.Overhead)
	out = append(out, nonce[:]...)
	return secretbox.Seal(out, message, (*[24]byte)(&nonce), (*[32]byte)(&key)), nil
}

// DecryptSymmetric decrypts a message produced by EncryptSymmetric.
func DecryptSymmetric(ciphertext []byte, key [32]byte) ([]byte, error) {
	if len(ciphertext) < 24+secretbox.Overhead {
		return nil, errors.New("ciphertext too short")
	}

	var nonce [24]byte
	copy(nonce[:], ciphertext[:24])

	out, ok := secretbox.Open(nil, ciphertext[24:], &nonce, (*[32]byte)(&key))
	if !ok {
		return nil, ErrDecryptionFailed
	}
	return out, nil
}
