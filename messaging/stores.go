package messaging

// QueueStore persists outbound queue entries until acknowledged.
type QueueStore interface {
	// Add appends entries to the queue.
	Add(entries []QueueEntry) error

	// All returns every queued entry in insertion order.
	All() ([]QueueEntry, error)

	// Remove deletes the entry matching user and message id, returning it,
	// or nil if no such entry is queued.
	Remove(userID uint64, messageID string) (*QueueEntry, error)
}

// PackageStore persists inbound packages until processed.
type PackageStore interface {
	// Add persists a package. It returns false when a package with the
	// same id already exists (at-least-once duplicate).
	Add(pkg Package) (bool, error)

	// Pending returns all unprocessed packages in receive order.
	Pending() ([]Package, error)

	// Remove deletes a processed package.
	Remove(id PackageID) error
}

// MessageStore persists one-to-one conversation messages.
type MessageStore interface {
	// AddMessage stores a message in the conversation with userID.
	AddMessage(userID uint64, info MessageInfo) error

	// MarkDelivered marks a sent message as delivered and returns the
	// updated record.
	MarkDelivered(userID uint64, messageID string, serverTimestamp int64) (*MessageInfo, error)

	// LastMessages returns up to count messages starting at offset,
	// newest first.
	LastMessages(userID uint64, offset, count int) ([]MessageInfo, error)
}

// GroupInfo describes a group this account belongs to.
type GroupInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// GroupMessageInfo is one stored group conversation message.
type GroupMessageInfo struct {
	SpeakerID uint64      `json:"speakerId,omitempty"`
	Info      MessageInfo `json:"info"`
}

// GroupStore persists group membership and group conversation messages.
type GroupStore interface {
	// Join records membership in a group with the given initial members.
	Join(info GroupInfo, members []uint64) error

	// Part abandons the group. Block abandons it and refuses future
	// invitations.
	Part(groupID string) error
	Block(groupID string) error

	// Members returns all current member user ids.
	Members(groupID string) ([]uint64, error)

	// NonBlockedMembers returns member ids whose contact entries are not
	// blocked; text messages fan out to exactly this set.
	NonBlockedMembers(groupID string) ([]uint64, error)

	// AddMembers merges new members into the group.
	AddMembers(groupID string, members []uint64) error

	// RemoveMember drops a member that parted the group.
	RemoveMember(groupID string, member uint64) error

	// AddMessage stores a group conversation message.
	AddMessage(groupID string, info GroupMessageInfo) error

	// MarkDelivered marks a sent group message delivered on the first
	// member ack. It returns true only for the ack that performed the
	// transition; later acks for the same message return false.
	MarkDelivered(groupID, messageID string, serverTimestamp int64) (bool, error)
}
