package service

import (
	"context"

	"github.com/parleyhq/parley/internal/entity"
)

// UserStore reads identities and persists last-seen timestamps
type UserStore interface {
	GetUser(ctx context.Context, id string) (*entity.User, error)
	GetUsers(ctx context.Context, ids []string) (map[string]*entity.User, error)
	TouchLastSeen(ctx context.Context, userId string, ts int64) error
}

// ConversationStore persists conversations
type ConversationStore interface {
	GetConversation(ctx context.Context, id int64) (*entity.Conversation, error)
	CreateWithMembers(ctx context.Context, conv *entity.Conversation, members []*entity.Membership) error
	FindOrCreateDirect(ctx context.Context, creatorId, peerId string) (*entity.Conversation, bool, error)
	UpdateConversation(ctx context.Context, id int64, updates map[string]interface{}) error
	TouchConversation(ctx context.Context, id int64) error
}

// MembershipStore persists the (conversation, user) relation
type MembershipStore interface {
	GetMembership(ctx context.Context, conversationId int64, userId string) (*entity.Membership, error)
	ListMemberships(ctx context.Context, conversationId int64) ([]*entity.Membership, error)
	ListUserMemberships(ctx context.Context, userId string) ([]*entity.Membership, error)
	AddMembership(ctx context.Context, m *entity.Membership) error
	UpdateMemberRole(ctx context.Context, conversationId int64, userId, role string, permissions *string) error
	SetLastReadAt(ctx context.Context, conversationId int64, userId string, ts int64) error
	RemoveMembership(ctx context.Context, conversationId int64, userId string) error
	CountMembers(ctx context.Context, conversationId int64) (int64, error)
}

// MessageStore persists messages, reactions and favorites
type MessageStore interface {
	CreateMessage(ctx context.Context, msg *entity.Message) error
	GetMessage(ctx context.Context, id int64) (*entity.Message, error)
	LatestMessage(ctx context.Context, conversationId int64) (*entity.Message, error)
	CountMessagesAfter(ctx context.Context, conversationId int64, since *int64) (int64, error)
	ListHistory(ctx context.Context, conversationId int64, beforeId int64, limit int) ([]*entity.Message, error)
	UpdateMessageContent(ctx context.Context, id int64, content string, editedAt int64) error
	SoftDeleteMessage(ctx context.Context, id int64, deletedAt int64) error
	ToggleReaction(ctx context.Context, messageId int64, userId, emoji string) (bool, error)
	ListReactions(ctx context.Context, messageId int64) ([]*entity.Reaction, error)
	ToggleFavorite(ctx context.Context, messageId int64, userId string) (bool, error)
	ListFavorites(ctx context.Context, messageId int64) ([]string, error)
}

// PinStore persists conversation pins
type PinStore interface {
	ListPins(ctx context.Context, conversationId int64) ([]*entity.Pin, error)
	AddPin(ctx context.Context, pin *entity.Pin, limit int) ([]int64, error)
	RemovePin(ctx context.Context, conversationId, messageId int64) (bool, error)
}

// Stores bundles every store a service may need
type Stores struct {
	Users         UserStore
	Conversations ConversationStore
	Memberships   MembershipStore
	Messages      MessageStore
	Pins          PinStore
}

// Broadcaster is the outbound side of the fan-out engine, implemented
// by the gateway. Broadcast failures to individual connections are
// swallowed by the implementation; callers never see partial
// delivery.
type Broadcaster interface {
	// RoomBroadcast sends one shared payload to every connection in
	// the room
	RoomBroadcast(ctx context.Context, room, event string, payload interface{})
	// RoomBroadcastEach re-renders the payload per recipient identity,
	// for entities embedding per-viewer fields
	RoomBroadcastEach(ctx context.Context, room, event string, render func(viewerId string) interface{})
	// PushToUser sends to every live connection of one user
	PushToUser(ctx context.Context, userId, event string, payload interface{})
	// AttachToConversation joins the user's live connections to the
	// conversation's room
	AttachToConversation(ctx context.Context, conversationId int64, userId string)
	// DetachFromConversation force-leaves any active call in the
	// conversation and removes the user's connections from its room
	DetachFromConversation(ctx context.Context, conversationId int64, userId string)
}
