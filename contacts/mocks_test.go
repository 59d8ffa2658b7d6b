package contacts

import (
	"context"
	"errors"
	"sync"
)

type memContacts struct {
	mu       sync.Mutex
	contacts map[uint64]ContactInfo
	pending  []RemoteUpdate
}

func newMemContacts() *memContacts {
	return &memContacts{contacts: make(map[uint64]ContactInfo)}
}

func (m *memContacts) Add(info ContactInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contacts[info.UserID] = info
	return nil
}

func (m *memContacts) Get(userID uint64) (*ContactInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if info, ok := m.contacts[userID]; ok {
		return &info, nil
	}
	return nil, nil
}

func (m *memContacts) All() ([]ContactInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ContactInfo, 0, len(m.contacts))
	for _, info := range m.contacts {
		out = append(out, info)
	}
	return out, nil
}

func (m *memContacts) AllIDs() ([]uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]uint64, 0, len(m.contacts))
	for id := range m.contacts {
		out = append(out, id)
	}
	return out, nil
}

func (m *memContacts) Exists(ids []uint64) ([]uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var missing []uint64
	for _, id := range ids {
		if _, ok := m.contacts[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

func (m *memContacts) FilterBlocked(ids []uint64) ([]uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []uint64
	for _, id := range ids {
		if info, ok := m.contacts[id]; ok && info.Level == LevelBlocked {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

func (m *memContacts) ApplyDiff(add []ContactInfo, removeIDs []uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, info := range add {
		m.contacts[info.UserID] = info
	}
	for _, id := range removeIDs {
		delete(m.contacts, id)
	}
	return nil
}

func (m *memContacts) AddRemoteUpdates(updates []RemoteUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range updates {
		replaced := false
		for i := range m.pending {
			if m.pending[i].UserID == u.UserID {
				m.pending[i] = u
				replaced = true
				break
			}
		}
		if !replaced {
			m.pending = append(m.pending, u)
		}
	}
	return nil
}

func (m *memContacts) PendingUpdates() ([]RemoteUpdate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RemoteUpdate, len(m.pending))
	copy(out, m.pending)
	return out, nil
}

func (m *memContacts) RemoveRemoteUpdates(userIDs []uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	remove := make(map[uint64]bool, len(userIDs))
	for _, id := range userIDs {
		remove[id] = true
	}
	var kept []RemoteUpdate
	for _, u := range m.pending {
		if !remove[u.UserID] {
			kept = append(kept, u)
		}
	}
	m.pending = kept
	return nil
}

// fakeClient serves registered-user lookups from a fixed directory.
type fakeClient struct {
	mu         sync.Mutex
	registered map[string]ContactInfo // by phone number
	directory  map[uint64]ContactInfo // by user id
	offline    bool

	lookedUp []string
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		registered: make(map[string]ContactInfo),
		directory:  make(map[uint64]ContactInfo),
	}
}

func (c *fakeClient) FindRegistered(ctx context.Context, phoneNumbers []string) ([]ContactInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.offline {
		return nil, errors.New("network unreachable")
	}
	c.lookedUp = append(c.lookedUp, phoneNumbers...)
	var out []ContactInfo
	for _, num := range phoneNumbers {
		if info, ok := c.registered[num]; ok {
			out = append(out, info)
		}
	}
	return out, nil
}

func (c *fakeClient) FetchInfoByID(ctx context.Context, ids []uint64) ([]ContactInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.offline {
		return nil, errors.New("network unreachable")
	}
	var out []ContactInfo
	for _, id := range ids {
		if info, ok := c.directory[id]; ok {
			out = append(out, info)
		}
	}
	return out, nil
}

// fakeBook is an in-memory server-side address book.
type fakeBook struct {
	mu      sync.Mutex
	entries [][]byte
	hash    string
	offline bool

	pushes int
}

func (b *fakeBook) Get(ctx context.Context, currentHash string) (*BookResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.offline {
		return nil, errors.New("network unreachable")
	}
	if currentHash == b.hash {
		return &BookResponse{Changed: false, Hash: b.hash}, nil
	}
	return &BookResponse{Changed: true, Hash: b.hash, Entries: b.entries}, nil
}

func (b *fakeBook) Update(ctx context.Context, hash string, entries [][]byte) (*UpdateResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.offline {
		return nil, errors.New("network unreachable")
	}
	b.pushes++
	b.entries = append(b.entries, entries...)
	b.hash = hash
	return &UpdateResponse{Hash: hash, Updated: true}, nil
}

type fakePlatform struct {
	contacts []PlatformContact
	err      error
}

func (p *fakePlatform) Fetch(ctx context.Context) ([]PlatformContact, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.contacts, nil
}
