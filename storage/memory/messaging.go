package memory

import (
	"sync"

	"github.com/voxwire/voxwire/messaging"
)

// QueueStore is an in-memory messaging.QueueStore.
type QueueStore struct {
	mu      sync.Mutex
	entries []messaging.QueueEntry
}

// NewQueueStore creates an empty send queue.
func NewQueueStore() *QueueStore {
	return &QueueStore{}
}

func (q *QueueStore) Add(entries []messaging.QueueEntry) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, entries...)
	return nil
}

func (q *QueueStore) All() ([]messaging.QueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]messaging.QueueEntry, len(q.entries))
	copy(out, q.entries)
	return out, nil
}

func (q *QueueStore) Remove(userID uint64, messageID string) (*messaging.QueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, e := range q.entries {
		if e.Metadata.UserID == userID && e.Metadata.MessageID == messageID {
			removed := e
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return &removed, nil
		}
	}
	return nil, nil
}

// PackageStore is an in-memory messaging.PackageStore. Duplicate package
// ids are rejected, implementing at-least-once deduplication.
type PackageStore struct {
	mu    sync.Mutex
	order []messaging.PackageID
	pkgs  map[messaging.PackageID]messaging.Package
}

// NewPackageStore creates an empty package store.
func NewPackageStore() *PackageStore {
	return &PackageStore{pkgs: make(map[messaging.PackageID]messaging.Package)}
}

func (p *PackageStore) Add(pkg messaging.Package) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.pkgs[pkg.ID]; ok {
		return false, nil
	}
	p.pkgs[pkg.ID] = pkg
	p.order = append(p.order, pkg.ID)
	return true, nil
}

func (p *PackageStore) Pending() ([]messaging.Package, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]messaging.Package, 0, len(p.pkgs))
	for _, id := range p.order {
		if pkg, ok := p.pkgs[id]; ok {
			out = append(out, pkg)
		}
	}
	return out, nil
}

func (p *PackageStore) Remove(id messaging.PackageID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.pkgs, id)
	for i, stored := range p.order {
		if stored == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	return nil
}

// MessageStore is an in-memory messaging.MessageStore keyed by peer user
// id, newest message last.
type MessageStore struct {
	mu            sync.Mutex
	conversations map[uint64][]messaging.MessageInfo
}

// NewMessageStore creates an empty message store.
func NewMessageStore() *MessageStore {
	return &MessageStore{conversations: make(map[uint64][]messaging.MessageInfo)}
}

func (m *MessageStore) AddMessage(userID uint64, info messaging.MessageInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversations[userID] = append(m.conversations[userID], info)
	return nil
}

func (m *MessageStore) MarkDelivered(userID uint64, messageID string, serverTimestamp int64) (*messaging.MessageInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.conversations[userID]
	for i := range msgs {
		if msgs[i].ID == messageID {
			msgs[i].Delivered = true
			msgs[i].ReceivedAt = serverTimestamp
			updated := msgs[i]
			return &updated, nil
		}
	}
	return nil, nil
}

func (m *MessageStore) LastMessages(userID uint64, offset, count int) ([]messaging.MessageInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.conversations[userID]

	out := make([]messaging.MessageInfo, 0, count)
	for i := len(msgs) - 1 - offset; i >= 0 && len(out) < count; i-- {
		out = append(out, msgs[i])
	}
	return out, nil
}
