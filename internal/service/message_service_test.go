package service

import (
	"context"
	"strings"
	"testing"

	"github.com/parleyhq/parley/internal/entity"
	"github.com/parleyhq/parley/pkg/constant"
	"github.com/parleyhq/parley/pkg/errcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store         *fakeStore
	pusher        *fakePusher
	directory     *DirectoryService
	messages      *MessageService
	conversations *ConversationService
	pins          *PinService
}

func newFixture() *fixture {
	store := newFakeStore()
	pusher := newFakePusher()

	directory := NewDirectoryService(store.stores())
	messages := NewMessageService(store.stores(), directory)
	conversations := NewConversationService(store.stores(), directory)
	pins := NewPinService(store.stores(), directory, messages)

	directory.SetPusher(pusher)
	messages.SetPusher(pusher)
	conversations.SetPusher(pusher)
	pins.SetPusher(pusher)

	return &fixture{
		store:         store,
		pusher:        pusher,
		directory:     directory,
		messages:      messages,
		conversations: conversations,
		pins:          pins,
	}
}

// seedGroup creates a group with alice as owner and bob and carol as
// members, all three in the conversation room
func (f *fixture) seedGroup(t *testing.T) *entity.Conversation {
	t.Helper()
	f.store.addUser("alice", "Alice")
	f.store.addUser("bob", "Bob")
	f.store.addUser("carol", "Carol")

	conv := f.store.addConversation(constant.ConversationGroup, "engineering", "alice")
	f.store.addMembership(conv.Id, "alice", constant.RoleOwner)
	f.store.addMembership(conv.Id, "bob", constant.RoleMember)
	f.store.addMembership(conv.Id, "carol", constant.RoleMember)

	room := constant.ConversationRoom(conv.Id)
	f.pusher.joinRoom(room, "alice")
	f.pusher.joinRoom(room, "bob")
	f.pusher.joinRoom(room, "carol")
	return conv
}

func TestSendMessageValidation(t *testing.T) {
	f := newFixture()
	conv := f.seedGroup(t)
	ctx := context.Background()

	_, err := f.messages.SendMessage(ctx, "alice", &SendMessageRequest{ConversationId: conv.Id})
	assert.Equal(t, errcode.ErrEmptyMessage, err)

	_, err = f.messages.SendMessage(ctx, "alice", &SendMessageRequest{
		ConversationId: conv.Id,
		Content:        strings.Repeat("a", constant.MaxContentLength+1),
	})
	assert.Equal(t, errcode.ErrContentTooLong, err)

	// Exactly at the ceiling passes
	_, err = f.messages.SendMessage(ctx, "alice", &SendMessageRequest{
		ConversationId: conv.Id,
		Content:        strings.Repeat("é", constant.MaxContentLength),
	})
	assert.NoError(t, err)

	// Attachment-only messages are valid
	_, err = f.messages.SendMessage(ctx, "alice", &SendMessageRequest{
		ConversationId: conv.Id,
		Attachments:    []entity.Attachment{{Url: "https://files.example/x.png", Name: "x.png"}},
	})
	assert.NoError(t, err)
}

func TestSendMessageRequiresMembership(t *testing.T) {
	f := newFixture()
	conv := f.seedGroup(t)
	f.store.addUser("mallory", "Mallory")

	_, err := f.messages.SendMessage(context.Background(), "mallory", &SendMessageRequest{
		ConversationId: conv.Id,
		Content:        "hello",
	})
	assert.Equal(t, errcode.ErrNoAccess, err)
}

func TestSendMessageFanOut(t *testing.T) {
	f := newFixture()
	conv := f.seedGroup(t)
	ctx := context.Background()

	info, err := f.messages.SendMessage(ctx, "alice", &SendMessageRequest{
		ConversationId: conv.Id,
		Content:        "hello",
	})
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "alice", info.SenderId)
	require.NotNil(t, info.Content)
	assert.Equal(t, "hello", *info.Content)

	// Every room member got a rendered copy
	created := f.pusher.records(constant.EventMessageCreated)
	require.Len(t, created, 3)
	viewers := map[string]bool{}
	for _, rec := range created {
		viewers[rec.UserId] = true
	}
	assert.True(t, viewers["alice"] && viewers["bob"] && viewers["carol"])

	// And a refreshed conversation-list entry
	lists := f.pusher.records(constant.EventConversationList)
	assert.Len(t, lists, 3)
}

func TestSendMessageSenderNotUnread(t *testing.T) {
	f := newFixture()
	conv := f.seedGroup(t)
	ctx := context.Background()

	_, err := f.messages.SendMessage(ctx, "bob", &SendMessageRequest{
		ConversationId: conv.Id,
		Content:        "hi",
	})
	require.NoError(t, err)

	// Everyone's entry counts the message unread except the sender's
	unread := map[string]int64{}
	for _, rec := range f.pusher.records(constant.EventConversationList) {
		items := rec.Payload.([]*entity.ConversationListItem)
		require.Len(t, items, 1)
		unread[rec.UserId] = items[0].UnreadCount
	}
	assert.EqualValues(t, 0, unread["bob"])
	assert.EqualValues(t, 1, unread["alice"])
	assert.EqualValues(t, 1, unread["carol"])

	// The read position survives into a direct list pull
	items, err := f.directory.ListConversations(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.EqualValues(t, 0, items[0].UnreadCount)
}

func TestReplySnapshot(t *testing.T) {
	f := newFixture()
	conv := f.seedGroup(t)
	ctx := context.Background()

	parent, err := f.messages.SendMessage(ctx, "bob", &SendMessageRequest{
		ConversationId: conv.Id,
		Content:        "original",
	})
	require.NoError(t, err)

	reply, err := f.messages.SendMessage(ctx, "alice", &SendMessageRequest{
		ConversationId: conv.Id,
		Content:        "replying",
		ParentId:       &parent.Id,
	})
	require.NoError(t, err)
	require.NotNil(t, reply.Parent)
	assert.Equal(t, parent.Id, reply.Parent.MessageId)
	assert.Equal(t, "bob", reply.Parent.SenderId)
	assert.Equal(t, "Bob", reply.Parent.SenderName)

	// Snapshot survives the parent's later edit untouched
	_, err = f.messages.EditMessage(ctx, "bob", parent.Id, "edited")
	require.NoError(t, err)
	refetched, err := f.messages.RenderMessage(ctx, reply.Id, "alice")
	require.NoError(t, err)
	require.NotNil(t, refetched.Parent)
	assert.Equal(t, "original", *refetched.Parent.Content)

	// Reply target in another conversation is rejected
	other := f.store.addConversation(constant.ConversationGroup, "random", "alice")
	f.store.addMembership(other.Id, "alice", constant.RoleOwner)
	_, err = f.messages.SendMessage(ctx, "alice", &SendMessageRequest{
		ConversationId: other.Id,
		Content:        "bad reply",
		ParentId:       &parent.Id,
	})
	assert.Equal(t, errcode.ErrReplyCrossConv, err)

	// Missing parent is indistinguishable from no access
	missing := int64(99999)
	_, err = f.messages.SendMessage(ctx, "alice", &SendMessageRequest{
		ConversationId: conv.Id,
		Content:        "ghost reply",
		ParentId:       &missing,
	})
	assert.Equal(t, errcode.ErrNoAccess, err)
}

func TestEditMessageAuthorWindow(t *testing.T) {
	f := newFixture()
	conv := f.seedGroup(t)
	ctx := context.Background()

	msg, err := f.messages.SendMessage(ctx, "bob", &SendMessageRequest{
		ConversationId: conv.Id,
		Content:        "typo",
	})
	require.NoError(t, err)

	edited, err := f.messages.EditMessage(ctx, "bob", msg.Id, "fixed")
	require.NoError(t, err)
	assert.Equal(t, "fixed", *edited.Content)
	assert.NotNil(t, edited.EditedAt)

	// Age the message past the window
	stored, _ := f.store.GetMessage(ctx, msg.Id)
	stored.CreatedAt -= constant.SelfEditWindowMillis + 1000

	_, err = f.messages.EditMessage(ctx, "bob", msg.Id, "too late")
	assert.Equal(t, errcode.ErrEditWindowClosed, err)
}

func TestEditMessageModerator(t *testing.T) {
	f := newFixture()
	conv := f.seedGroup(t)
	ctx := context.Background()

	msg, err := f.messages.SendMessage(ctx, "bob", &SendMessageRequest{
		ConversationId: conv.Id,
		Content:        "spam",
	})
	require.NoError(t, err)

	// Plain members cannot edit others' messages
	_, err = f.messages.EditMessage(ctx, "carol", msg.Id, "hijack")
	assert.Equal(t, errcode.ErrNoCapability, err)

	// The owner moderates any message, window included
	stored, _ := f.store.GetMessage(ctx, msg.Id)
	stored.CreatedAt -= constant.SelfEditWindowMillis + 1000

	edited, err := f.messages.EditMessage(ctx, "alice", msg.Id, "[moderated]")
	require.NoError(t, err)
	assert.Equal(t, "[moderated]", *edited.Content)
}

func TestDeleteMessage(t *testing.T) {
	f := newFixture()
	conv := f.seedGroup(t)
	ctx := context.Background()

	msg, err := f.messages.SendMessage(ctx, "bob", &SendMessageRequest{
		ConversationId: conv.Id,
		Content:        "regret",
		Attachments:    []entity.Attachment{{Url: "https://files.example/a.png", Name: "a.png"}},
	})
	require.NoError(t, err)

	err = f.messages.DeleteMessage(ctx, "carol", msg.Id)
	assert.Equal(t, errcode.ErrNoCapability, err)

	require.NoError(t, f.messages.DeleteMessage(ctx, "bob", msg.Id))

	stored, _ := f.store.GetMessage(ctx, msg.Id)
	assert.Nil(t, stored.Content)
	assert.NotNil(t, stored.DeletedAt)
	// Attachments stay for audit
	assert.NotNil(t, stored.Attachments)

	// Deleting twice reads as gone
	assert.Equal(t, errcode.ErrNoAccess, f.messages.DeleteMessage(ctx, "bob", msg.Id))
}

func TestReactionToggle(t *testing.T) {
	f := newFixture()
	conv := f.seedGroup(t)
	ctx := context.Background()

	msg, err := f.messages.SendMessage(ctx, "alice", &SendMessageRequest{
		ConversationId: conv.Id,
		Content:        "react to me",
	})
	require.NoError(t, err)

	_, err = f.messages.ReactMessage(ctx, "bob", msg.Id, "")
	assert.Equal(t, errcode.ErrInvalidEmoji, err)

	info, err := f.messages.ReactMessage(ctx, "bob", msg.Id, "\U0001F44D")
	require.NoError(t, err)
	require.Len(t, info.Reactions, 1)
	assert.Equal(t, 1, info.Reactions[0].Count)
	assert.True(t, info.Reactions[0].Reacted)

	// A second reactor bumps the recomputed count; Reacted stays
	// per-viewer
	info, err = f.messages.ReactMessage(ctx, "carol", msg.Id, "\U0001F44D")
	require.NoError(t, err)
	require.Len(t, info.Reactions, 1)
	assert.Equal(t, 2, info.Reactions[0].Count)

	rendered, err := f.messages.RenderMessage(ctx, msg.Id, "alice")
	require.NoError(t, err)
	assert.False(t, rendered.Reactions[0].Reacted)

	// Toggling again removes
	info, err = f.messages.ReactMessage(ctx, "bob", msg.Id, "\U0001F44D")
	require.NoError(t, err)
	require.Len(t, info.Reactions, 1)
	assert.Equal(t, 1, info.Reactions[0].Count)
	assert.False(t, info.Reactions[0].Reacted)
}

func TestReactionSkipsListRefresh(t *testing.T) {
	f := newFixture()
	conv := f.seedGroup(t)
	ctx := context.Background()

	msg, err := f.messages.SendMessage(ctx, "alice", &SendMessageRequest{
		ConversationId: conv.Id,
		Content:        "quiet",
	})
	require.NoError(t, err)

	baseline := len(f.pusher.records(constant.EventConversationList))
	_, err = f.messages.ReactMessage(ctx, "bob", msg.Id, "\U0001F389")
	require.NoError(t, err)

	assert.Len(t, f.pusher.records(constant.EventConversationList), baseline)
}

func TestToggleFavoriteViewerLocal(t *testing.T) {
	f := newFixture()
	conv := f.seedGroup(t)
	ctx := context.Background()

	msg, err := f.messages.SendMessage(ctx, "alice", &SendMessageRequest{
		ConversationId: conv.Id,
		Content:        "keep this",
	})
	require.NoError(t, err)

	baselineBob := len(f.pusher.eventsFor("bob"))
	baselineCarol := len(f.pusher.eventsFor("carol"))

	info, err := f.messages.ToggleFavorite(ctx, "bob", msg.Id)
	require.NoError(t, err)
	assert.True(t, info.Favorite)

	// Only bob was pushed the refreshed message
	assert.Greater(t, len(f.pusher.eventsFor("bob")), baselineBob)
	assert.Len(t, f.pusher.eventsFor("carol"), baselineCarol)

	// Other viewers never see the flag
	rendered, err := f.messages.RenderMessage(ctx, msg.Id, "carol")
	require.NoError(t, err)
	assert.False(t, rendered.Favorite)

	info, err = f.messages.ToggleFavorite(ctx, "bob", msg.Id)
	require.NoError(t, err)
	assert.False(t, info.Favorite)
}

func TestForwardMessage(t *testing.T) {
	f := newFixture()
	conv := f.seedGroup(t)
	ctx := context.Background()

	source, err := f.messages.SendMessage(ctx, "bob", &SendMessageRequest{
		ConversationId: conv.Id,
		Content:        "worth sharing",
	})
	require.NoError(t, err)

	// Exactly one target must be set
	_, err = f.messages.ForwardMessage(ctx, "alice", &ForwardMessageRequest{MessageId: source.Id})
	assert.Equal(t, errcode.ErrInvalidParam, err)

	// Forward to a user find-or-creates the direct conversation
	target := "carol"
	fwd, err := f.messages.ForwardMessage(ctx, "alice", &ForwardMessageRequest{
		MessageId:    source.Id,
		TargetUserId: &target,
	})
	require.NoError(t, err)
	assert.Equal(t, "alice", fwd.SenderId)
	assert.Equal(t, "worth sharing", *fwd.Content)
	require.NotNil(t, fwd.Forward)
	assert.Equal(t, source.Id, fwd.Forward.MessageId)
	assert.Equal(t, "bob", fwd.Forward.SenderId)
	assert.Equal(t, "Bob", fwd.Forward.SenderName)
	assert.NotEqual(t, conv.Id, fwd.ConversationId)

	// A second forward to the same user reuses the conversation
	fwd2, err := f.messages.ForwardMessage(ctx, "alice", &ForwardMessageRequest{
		MessageId:    source.Id,
		TargetUserId: &target,
	})
	require.NoError(t, err)
	assert.Equal(t, fwd.ConversationId, fwd2.ConversationId)

	// Forward into a conversation the actor is not in fails
	private := f.store.addConversation(constant.ConversationGroup, "private", "bob")
	f.store.addMembership(private.Id, "bob", constant.RoleOwner)
	_, err = f.messages.ForwardMessage(ctx, "alice", &ForwardMessageRequest{
		MessageId:            source.Id,
		TargetConversationId: &private.Id,
	})
	assert.Equal(t, errcode.ErrNoAccess, err)
}

func TestGetHistory(t *testing.T) {
	f := newFixture()
	conv := f.seedGroup(t)
	ctx := context.Background()

	var ids []int64
	for _, text := range []string{"one", "two", "three"} {
		msg, err := f.messages.SendMessage(ctx, "alice", &SendMessageRequest{
			ConversationId: conv.Id,
			Content:        text,
		})
		require.NoError(t, err)
		ids = append(ids, msg.Id)
	}

	history, err := f.messages.GetHistory(ctx, "bob", conv.Id, 0, 10)
	require.NoError(t, err)
	require.Len(t, history, 3)
	// Newest first
	assert.Equal(t, ids[2], history[0].Id)
	assert.Equal(t, ids[0], history[2].Id)

	page, err := f.messages.GetHistory(ctx, "bob", conv.Id, ids[2], 10)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[1], page[0].Id)

	_, err = f.messages.GetHistory(ctx, "mallory", conv.Id, 0, 10)
	assert.Equal(t, errcode.ErrNoAccess, err)
}
