package contacts

import "context"

// PlatformContact is one entry from the device's own address book.
type PlatformContact struct {
	Name        string
	Email       string
	PhoneNumber string
}

// PlatformContacts provides a snapshot of the device address book.
type PlatformContacts interface {
	Fetch(ctx context.Context) ([]PlatformContact, error)
}

// Client looks up registered users on the server.
type Client interface {
	// FindRegistered returns the registered users among the given
	// E.164-normalized phone numbers.
	FindRegistered(ctx context.Context, phoneNumbers []string) ([]ContactInfo, error)

	// FetchInfoByID returns contact info for the given ids. Ids the
	// server does not know are simply absent from the result.
	FetchInfoByID(ctx context.Context, ids []uint64) ([]ContactInfo, error)
}

// BookResponse is the server's answer to an address book fetch.
type BookResponse struct {
	// Changed is false when the supplied hash matched, in which case
	// Entries is empty and the caller skips reconciliation.
	Changed bool

	// Hash of the returned entry set.
	Hash string

	// Entries are encrypted address book entries.
	Entries [][]byte
}

// UpdateResponse is the server's answer to an address book push.
type UpdateResponse struct {
	Hash    string
	Updated bool
}

// BookClient is the server-side encrypted address book.
type BookClient interface {
	// Get fetches the address book when its hash differs from currentHash.
	Get(ctx context.Context, currentHash string) (*BookResponse, error)

	// Update pushes encrypted entries and the local content hash.
	Update(ctx context.Context, hash string, entries [][]byte) (*UpdateResponse, error)
}
