package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Maximum plaintext size accepted by Seal (1MB to prevent excessive memory usage).
const MaxMessageSize = 1024 * 1024

var (
	// ErrDecryptionFailed indicates an authentication failure or corrupt
	// ciphertext. It is attached to the single offending message and never
	// aborts sibling operations.
	ErrDecryptionFailed = errors.New("decryption failed: message authentication failed")
)

// DeriveKeys expands the input key material into outLen bytes using
// HKDF-SHA256 with the given context info.
func DeriveKeys(secret, info []byte, outLen int) ([]byte, error) {
	out := make([]byte, outLen)
	r := hkdf.New(sha256.New, secret, nil, info)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}

// AdvanceChain performs one symmetric ratchet step: it derives the message
// key for the current position and returns the next chain key. The two
// outputs are domain-separated HMAC evaluations of the chain key.
func AdvanceChain(chainKey []byte) (messageKey, nextChainKey [32]byte) {
	messageKey = hmacByte(chainKey, 0x01)
	nextChainKey = hmacByte(chainKey, 0x02)
	return
}

func hmacByte(key []byte, b byte) [32]byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte{b})
	var out [32]byte
	copy(out[:], mac.Sum(nil))
	return out
}

// Seal encrypts plaintext with ChaCha20-Poly1305 under the given message
// key. The counter is folded into the nonce; message keys are single-use so
// nonce reuse cannot occur.
func Seal(messageKey [32]byte, counter uint32, plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, errors.New("empty plaintext")
	}
	if len(plaintext) > MaxMessageSize {
		return nil, errors.New("message too large")
	}

	aead, err := chacha20poly1305.New(messageKey[:])
	if err != nil {
		return nil, err
	}

	nonce := counterNonce(counter)
	return aead.Seal(nil, nonce, plaintext, nil), nil
}

// Open decrypts ciphertext produced by Seal.
func Open(messageKey [32]byte, counter uint32, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 {
		return nil, errors.New("empty ciphertext")
	}

	aead, err := chacha20poly1305.New(messageKey[:])
	if err != nil {
		return nil, err
	}

	nonce := counterNonce(counter)
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

func counterNonce(counter uint32) []byte {
	nonce := make([]byte, chacha20poly1305.NonceSize)
	nonce[0] = byte(counter >> 24)
	nonce[1] = byte(counter >> 16)
	nonce[2] = byte(counter >> 8)
	nonce[3] = byte(counter)
	return nonce
}
