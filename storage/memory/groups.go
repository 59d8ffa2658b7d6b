package memory

import (
	"fmt"
	"sync"

	"github.com/voxwire/voxwire/contacts"
	"github.com/voxwire/voxwire/messaging"
)

type groupState struct {
	info     messaging.GroupInfo
	members  map[uint64]bool
	messages []messaging.GroupMessageInfo
	blocked  bool
}

// GroupStore is an in-memory messaging.GroupStore. It consults the
// contact store so blocked members are excluded from fan-out.
type GroupStore struct {
	mu       sync.Mutex
	groups   map[string]*groupState
	contacts contacts.Store
}

// NewGroupStore creates an empty group store over the given contacts.
func NewGroupStore(contactStore contacts.Store) *GroupStore {
	return &GroupStore{groups: make(map[string]*groupState), contacts: contactStore}
}

func (g *GroupStore) Join(info messaging.GroupInfo, members []uint64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if existing, ok := g.groups[info.ID]; ok && existing.blocked {
		return fmt.Errorf("group %s is blocked", info.ID)
	}
	state := &groupState{info: info, members: make(map[uint64]bool, len(members))}
	for _, id := range members {
		state.members[id] = true
	}
	g.groups[info.ID] = state
	return nil
}

func (g *GroupStore) Part(groupID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.groups, groupID)
	return nil
}

func (g *GroupStore) Block(groupID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.groups[groupID] = &groupState{
		info:    messaging.GroupInfo{ID: groupID},
		members: make(map[uint64]bool),
		blocked: true,
	}
	return nil
}

func (g *GroupStore) Members(groupID string) ([]uint64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	state, ok := g.groups[groupID]
	if !ok || state.blocked {
		return nil, fmt.Errorf("not a member of group %s", groupID)
	}
	out := make([]uint64, 0, len(state.members))
	for id := range state.members {
		out = append(out, id)
	}
	return out, nil
}

func (g *GroupStore) NonBlockedMembers(groupID string) ([]uint64, error) {
	members, err := g.Members(groupID)
	if err != nil {
		return nil, err
	}
	return g.contacts.FilterBlocked(members)
}

func (g *GroupStore) AddMembers(groupID string, members []uint64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	state, ok := g.groups[groupID]
	if !ok || state.blocked {
		return fmt.Errorf("not a member of group %s", groupID)
	}
	for _, id := range members {
		state.members[id] = true
	}
	return nil
}

func (g *GroupStore) RemoveMember(groupID string, member uint64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if state, ok := g.groups[groupID]; ok {
		delete(state.members, member)
	}
	return nil
}

func (g *GroupStore) AddMessage(groupID string, info messaging.GroupMessageInfo) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	state, ok := g.groups[groupID]
	if !ok || state.blocked {
		return fmt.Errorf("not a member of group %s", groupID)
	}
	state.messages = append(state.messages, info)
	return nil
}

func (g *GroupStore) MarkDelivered(groupID, messageID string, serverTimestamp int64) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	state, ok := g.groups[groupID]
	if !ok {
		return false, nil
	}
	for i := range state.messages {
		info := &state.messages[i].Info
		if info.ID != messageID {
			continue
		}
		if info.Delivered {
			return false, nil
		}
		info.Delivered = true
		info.ReceivedAt = serverTimestamp
		return true, nil
	}
	return false, nil
}

// Messages returns the stored conversation for a group, oldest first.
func (g *GroupStore) Messages(groupID string) ([]messaging.GroupMessageInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	state, ok := g.groups[groupID]
	if !ok {
		return nil, nil
	}
	out := make([]messaging.GroupMessageInfo, len(state.messages))
	copy(out, state.messages)
	return out, nil
}
