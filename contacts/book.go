package contacts

import (
	"encoding/json"
	"fmt"

	"github.com/voxwire/voxwire/crypto"
)

const bookKeyInfo = "voxwire-address-book-v1"

// bookEntry is the plaintext form of one remote address-book entry.
type bookEntry struct {
	UserID uint64              `json:"userId"`
	Level  AllowedMessageLevel `json:"allowedMessageLevel"`
}

// DeriveBookKey derives the symmetric key protecting remote address-book
// entries from the local identity private key. The server only ever sees
// ciphertext; the same identity always derives the same key so every
// device of the account can read the book.
func DeriveBookKey(identityPrivate [32]byte) ([32]byte, error) {
	var key [32]byte
	raw, err := crypto.DeriveKeys(identityPrivate[:], []byte(bookKeyInfo), 32)
	if err != nil {
		return key, fmt.Errorf("failed to derive address book key: %w", err)
	}
	copy(key[:], raw)
	return key, nil
}

// EncryptEntries encrypts one remote entry per update.
func EncryptEntries(key [32]byte, updates []RemoteUpdate) ([][]byte, error) {
	encrypted := make([][]byte, 0, len(updates))
	for _, u := range updates {
		plaintext, err := json.Marshal(bookEntry{UserID: u.UserID, Level: u.Level})
		if err != nil {
			return nil, err
		}
		ciphertext, err := crypto.EncryptSymmetric(plaintext, key)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt address book entry: %w", err)
		}
		encrypted = append(encrypted, ciphertext)
	}
	return encrypted, nil
}

// DecryptEntries decrypts remote entries back into updates.
func DecryptEntries(key [32]byte, entries [][]byte) ([]RemoteUpdate, error) {
	updates := make([]RemoteUpdate, 0, len(entries))
	for _, ciphertext := range entries {
		plaintext, err := crypto.DecryptSymmetric(ciphertext, key)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt address book entry: %w", err)
		}
		var entry bookEntry
		if err := json.Unmarshal(plaintext, &entry); err != nil {
			return nil, fmt.Errorf("malformed address book entry: %w", err)
		}
		updates = append(updates, RemoteUpdate{UserID: entry.UserID, Level: entry.Level})
	}
	return updates, nil
}

// BookHash computes the order-independent content hash of a contact set.
// The server compares hashes to answer "has anything changed" without
// shipping entries.
func BookHash(contacts []ContactInfo) string {
	entries := make([]string, 0, len(contacts))
	for _, c := range contacts {
		entries = append(entries, fmt.Sprintf("%d:%s", c.UserID, c.Level))
	}
	return crypto.ContentHash(entries)
}
