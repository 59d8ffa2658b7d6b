package voxwire

import (
	"context"
	"fmt"

	"github.com/voxwire/voxwire/messaging"
)

// CreateGroup creates a group with the given initial members and fans out
// invitations, including to this account's other devices.
func (m *Messenger) CreateGroup(ctx context.Context, name string, members []uint64) (string, error) {
	groupID := newMessageID()

	allMembers := append([]uint64{m.self.UserID}, members...)
	if err := m.groups.Join(messaging.GroupInfo{ID: groupID, Name: name}, allMembers); err != nil {
		return "", err
	}

	invitation := messaging.NewGroupWrapper(&messaging.GroupEvent{
		Kind:    messaging.GroupEventInvitation,
		GroupID: groupID,
		Name:    name,
		Members: allMembers,
	})
	if err := m.sendGroupEvent(ctx, invitation, members); err != nil {
		return "", err
	}
	m.broadcastToOwnDevices(ctx, invitation)

	return groupID, nil
}

// InviteToGroup adds newMembers to the group: existing members learn of
// the join, new members receive a full invitation.
func (m *Messenger) InviteToGroup(ctx context.Context, groupID string, newMembers []uint64) error {
	existing, err := m.groups.Members(groupID)
	if err != nil {
		return err
	}
	if err := m.groups.AddMembers(groupID, newMembers); err != nil {
		return err
	}

	join := messaging.NewGroupWrapper(&messaging.GroupEvent{
		Kind:    messaging.GroupEventJoin,
		GroupID: groupID,
		Members: newMembers,
	})
	if err := m.sendGroupEvent(ctx, join, existing); err != nil {
		return err
	}

	all := append(append([]uint64{}, existing...), newMembers...)
	invitation := messaging.NewGroupWrapper(&messaging.GroupEvent{
		Kind:    messaging.GroupEventInvitation,
		GroupID: groupID,
		Members: all,
	})
	return m.sendGroupEvent(ctx, invitation, newMembers)
}

// PartGroup tells the members this account is leaving, then abandons the
// group locally.
func (m *Messenger) PartGroup(ctx context.Context, groupID string) error {
	if err := m.notifyPart(ctx, groupID); err != nil {
		return err
	}
	return m.groups.Part(groupID)
}

// BlockGroup leaves the group and refuses future invitations to it.
func (m *Messenger) BlockGroup(ctx context.Context, groupID string) error {
	if err := m.notifyPart(ctx, groupID); err != nil {
		return err
	}
	return m.groups.Block(groupID)
}

// NotifyContactAdded tells userID this account added them as a contact.
func (m *Messenger) NotifyContactAdded(ctx context.Context, userID uint64) error {
	wrapper := messaging.NewControlWrapper(&messaging.ControlMessage{Kind: messaging.ControlWasAdded})
	return m.sendGroupEvent(ctx, wrapper, []uint64{userID})
}

func (m *Messenger) notifyPart(ctx context.Context, groupID string) error {
	members, err := m.groups.Members(groupID)
	if err != nil {
		return err
	}
	part := messaging.NewGroupWrapper(&messaging.GroupEvent{
		Kind:    messaging.GroupEventPart,
		GroupID: groupID,
	})
	return m.sendGroupEvent(ctx, part, members)
}

// sendGroupEvent queues one copy of the wrapper per recipient, skipping
// this account's own user id.
func (m *Messenger) sendGroupEvent(ctx context.Context, wrapper *messaging.Wrapper, recipients []uint64) error {
	payload, err := wrapper.Marshal()
	if err != nil {
		return fmt.Errorf("failed to serialize group event: %w", err)
	}

	entries := make([]messaging.QueueEntry, 0, len(recipients))
	for _, userID := range recipients {
		if userID == m.self.UserID {
			continue
		}
		entries = append(entries, messaging.QueueEntry{
			Metadata: messaging.Metadata{
				UserID:    userID,
				Category:  messaging.CategoryOther,
				MessageID: newMessageID(),
			},
			Payload: payload,
		})
	}
	if len(entries) == 0 {
		return nil
	}
	return m.sender.Enqueue(ctx, entries...)
}
