package memory

import (
	"sync"

	"github.com/voxwire/voxwire/contacts"
)

// ContactStore is an in-memory contacts.Store, including the pending
// remote-update queue.
type ContactStore struct {
	mu      sync.Mutex
	byID    map[uint64]contacts.ContactInfo
	pending []contacts.RemoteUpdate
}

// NewContactStore creates an empty contact store.
func NewContactStore() *ContactStore {
	return &ContactStore{byID: make(map[uint64]contacts.ContactInfo)}
}

func (c *ContactStore) Add(info contacts.ContactInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byID[info.UserID] = info
	return nil
}

func (c *ContactStore) Get(userID uint64) (*contacts.ContactInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if info, ok := c.byID[userID]; ok {
		return &info, nil
	}
	return nil, nil
}

func (c *ContactStore) All() ([]contacts.ContactInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]contacts.ContactInfo, 0, len(c.byID))
	for _, info := range c.byID {
		out = append(out, info)
	}
	return out, nil
}

func (c *ContactStore) AllIDs() ([]uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]uint64, 0, len(c.byID))
	for id := range c.byID {
		out = append(out, id)
	}
	return out, nil
}

func (c *ContactStore) Exists(ids []uint64) ([]uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var missing []uint64
	for _, id := range ids {
		if _, ok := c.byID[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

func (c *ContactStore) FilterBlocked(ids []uint64) ([]uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []uint64
	for _, id := range ids {
		if info, ok := c.byID[id]; ok && info.Level == contacts.LevelBlocked {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

func (c *ContactStore) ApplyDiff(add []contacts.ContactInfo, removeIDs []uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, info := range add {
		c.byID[info.UserID] = info
	}
	for _, id := range removeIDs {
		delete(c.byID, id)
	}
	return nil
}

func (c *ContactStore) AddRemoteUpdates(updates []contacts.RemoteUpdate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, u := range updates {
		replaced := false
		for i := range c.pending {
			if c.pending[i].UserID == u.UserID {
				c.pending[i] = u
				replaced = true
				break
			}
		}
		if !replaced {
			c.pending = append(c.pending, u)
		}
	}
	return nil
}

func (c *ContactStore) PendingUpdates() ([]contacts.RemoteUpdate, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]contacts.RemoteUpdate, len(c.pending))
	copy(out, c.pending)
	return out, nil
}

func (c *ContactStore) RemoveRemoteUpdates(userIDs []uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	remove := make(map[uint64]bool, len(userIDs))
	for _, id := range userIDs {
		remove[id] = true
	}
	kept := c.pending[:0]
	for _, u := range c.pending {
		if !remove[u.UserID] {
			kept = append(kept, u)
		}
	}
	c.pending = kept
	return nil
}
