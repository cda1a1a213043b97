package service

import (
	"context"
	"testing"

	"github.com/parleyhq/parley/pkg/constant"
	"github.com/parleyhq/parley/pkg/errcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequireMembership(t *testing.T) {
	f := newFixture()
	conv := f.seedGroup(t)
	ctx := context.Background()

	m, caps, err := f.directory.RequireMembership(ctx, conv.Id, "alice")
	require.NoError(t, err)
	assert.Equal(t, constant.RoleOwner, m.Role)
	assert.True(t, caps.Has(constant.CapManageMembers))

	_, _, err = f.directory.RequireMembership(ctx, conv.Id, "mallory")
	assert.Equal(t, errcode.ErrNoAccess, err)

	// Stored permissions beyond the role never leak in: a member with a
	// stale grant row still normalizes to nothing
	perms := `{"manage-members":true}`
	f.store.addUser("eve", "Eve")
	em := f.store.addMembership(conv.Id, "eve", constant.RoleMember)
	em.Permissions = &perms
	_, caps, err = f.directory.RequireMembership(ctx, conv.Id, "eve")
	require.NoError(t, err)
	assert.False(t, caps.Has(constant.CapManageMembers))
}

func TestListConversationsOrdering(t *testing.T) {
	f := newFixture()
	f.store.addUser("alice", "Alice")
	ctx := context.Background()

	older := f.store.addConversation(constant.ConversationGroup, "older", "alice")
	f.store.addMembership(older.Id, "alice", constant.RoleOwner)
	newer := f.store.addConversation(constant.ConversationGroup, "newer", "alice")
	f.store.addMembership(newer.Id, "alice", constant.RoleOwner)

	items, err := f.directory.ListConversations(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, newer.Id, items[0].Id)

	// Activity in the older conversation moves it to the front
	f.sendAs(t, "alice", older.Id, "bump")
	items, err = f.directory.ListConversations(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, older.Id, items[0].Id)
	require.NotNil(t, items[0].LastMessage)
}

func TestListConversationsUnread(t *testing.T) {
	f := newFixture()
	conv := f.seedGroup(t)
	ctx := context.Background()

	f.sendAs(t, "alice", conv.Id, "first")
	f.sendAs(t, "alice", conv.Id, "second")

	// Bob has never read: everything counts
	items, err := f.directory.ListConversations(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.EqualValues(t, 2, items[0].UnreadCount)

	require.NoError(t, f.directory.MarkRead(ctx, "bob", conv.Id))

	items, err = f.directory.ListConversations(ctx, "bob")
	require.NoError(t, err)
	assert.EqualValues(t, 0, items[0].UnreadCount)

	// Only bob's own entry was pushed on mark-read
	recs := f.pusher.records(constant.EventConversationList)
	last := recs[len(recs)-1]
	assert.Equal(t, "bob", last.UserId)

	err = f.directory.MarkRead(ctx, "mallory", conv.Id)
	assert.Equal(t, errcode.ErrNoAccess, err)
}

func TestListMembersOrdering(t *testing.T) {
	f := newFixture()
	conv := f.seedGroup(t)
	ctx := context.Background()

	// Nickname collision falls back to user id order
	f.store.addUser("bob2", "Bob")
	f.store.addMembership(conv.Id, "bob2", constant.RoleMember)

	roster, err := f.directory.ListMembers(ctx, conv.Id)
	require.NoError(t, err)
	require.Len(t, roster, 4)

	names := make([]string, 0, len(roster))
	for _, m := range roster {
		names = append(names, m.UserId)
	}
	assert.Equal(t, []string{"alice", "bob", "bob2", "carol"}, names)

	for _, m := range roster {
		if m.UserId == "alice" {
			assert.Equal(t, constant.RoleOwner, m.Role)
			assert.True(t, m.Capabilities[constant.CapManageSettings])
		} else {
			assert.False(t, m.Capabilities[constant.CapManageSettings])
		}
	}
}
