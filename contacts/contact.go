// Package contacts reconciles the local contact set against the device's
// platform address book and the server-held encrypted address book.
package contacts

import "fmt"

// AllowedMessageLevel gates which messages from a contact are accepted.
type AllowedMessageLevel uint8

const (
	// LevelAll accepts every message from the contact.
	LevelAll AllowedMessageLevel = iota
	// LevelGroupOnly accepts only messages addressed to shared groups.
	LevelGroupOnly
	// LevelBlocked drops every message before decryption.
	LevelBlocked
)

func (l AllowedMessageLevel) String() string {
	switch l {
	case LevelAll:
		return "ALL"
	case LevelGroupOnly:
		return "GROUP_ONLY"
	case LevelBlocked:
		return "BLOCKED"
	default:
		return fmt.Sprintf("AllowedMessageLevel(%d)", uint8(l))
	}
}

// ContactInfo is the local source of truth for one contact. It is mutated
// by the sync engine and by user action.
type ContactInfo struct {
	UserID      uint64              `json:"userId"`
	Name        string              `json:"name"`
	Email       string              `json:"email"`
	PhoneNumber string              `json:"phoneNumber,omitempty"`
	PublicKey   []byte              `json:"publicKey"`
	Level       AllowedMessageLevel `json:"allowedMessageLevel"`

	// IsPending marks a contact inserted automatically on first inbound
	// message, awaiting user confirmation.
	IsPending bool `json:"isPending,omitempty"`
}

// RemoteUpdate is a not-yet-acknowledged change to push to the server's
// address book. It stays in the durable pending queue until the push
// round-trip succeeds.
type RemoteUpdate struct {
	UserID uint64              `json:"userId"`
	Level  AllowedMessageLevel `json:"allowedMessageLevel"`
}

// Store persists contacts and the pending remote-update queue.
type Store interface {
	// Add inserts a contact. Inserting an existing contact updates it.
	Add(info ContactInfo) error

	// Get returns the contact, or nil if unknown.
	Get(userID uint64) (*ContactInfo, error)

	// All returns every stored contact.
	All() ([]ContactInfo, error)

	// AllIDs returns the ids of every stored contact.
	AllIDs() ([]uint64, error)

	// Exists reports whether every given id is stored, returning the
	// subset that is not.
	Exists(ids []uint64) (missing []uint64, err error)

	// FilterBlocked returns the subset of ids whose contact is not
	// blocked. Unknown ids pass the filter.
	FilterBlocked(ids []uint64) ([]uint64, error)

	// ApplyDiff atomically inserts add and deletes removeIDs.
	ApplyDiff(add []ContactInfo, removeIDs []uint64) error

	// AddRemoteUpdates appends to the durable pending-update queue. A
	// second update for the same user replaces the queued one.
	AddRemoteUpdates(updates []RemoteUpdate) error

	// PendingUpdates returns every queued remote update.
	PendingUpdates() ([]RemoteUpdate, error)

	// RemoveRemoteUpdates deletes acknowledged queue entries.
	RemoveRemoteUpdates(userIDs []uint64) error
}
