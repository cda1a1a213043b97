package service

import (
	"context"
	"sort"

	"github.com/mbeoliero/kit/log"
	"github.com/parleyhq/parley/internal/entity"
	"github.com/parleyhq/parley/internal/permission"
	"github.com/parleyhq/parley/pkg/constant"
	"github.com/parleyhq/parley/pkg/errcode"
	"github.com/samber/lo"
)

// DirectoryService assembles a member's view of a conversation:
// membership with normalized capabilities, roster, unread count and
// last-message preview
type DirectoryService struct {
	stores Stores
	pusher Broadcaster
}

// NewDirectoryService creates a new DirectoryService
func NewDirectoryService(stores Stores) *DirectoryService {
	return &DirectoryService{stores: stores}
}

// SetPusher sets the broadcaster
func (s *DirectoryService) SetPusher(pusher Broadcaster) {
	s.pusher = pusher
}

// GetMembership returns the membership row with its normalized
// capability set, or (nil, nil) when the user is not a member.
// Capabilities are always re-derived from the stored role; a
// caller-supplied role is never trusted.
func (s *DirectoryService) GetMembership(ctx context.Context, conversationId int64, userId string) (*entity.Membership, permission.Set, error) {
	m, err := s.stores.Memberships.GetMembership(ctx, conversationId, userId)
	if err != nil {
		log.CtxError(ctx, "get membership failed: conversation_id=%d, user_id=%s, error=%v", conversationId, userId, err)
		return nil, nil, errcode.ErrInternalServer
	}
	if m == nil {
		return nil, nil, nil
	}
	return m, permission.Normalize(m.Role, m.RawPermissions(), nil), nil
}

// RequireMembership is GetMembership with absence turned into the
// uniform access failure
func (s *DirectoryService) RequireMembership(ctx context.Context, conversationId int64, userId string) (*entity.Membership, permission.Set, error) {
	m, caps, err := s.GetMembership(ctx, conversationId, userId)
	if err != nil {
		return nil, nil, err
	}
	if m == nil {
		return nil, nil, errcode.ErrNoAccess
	}
	return m, caps, nil
}

// BuildListItem renders one member's conversation-list entry
func (s *DirectoryService) BuildListItem(ctx context.Context, conv *entity.Conversation, m *entity.Membership) (*entity.ConversationListItem, error) {
	unread, err := s.stores.Messages.CountMessagesAfter(ctx, conv.Id, m.LastReadAt)
	if err != nil {
		return nil, err
	}

	latest, err := s.stores.Messages.LatestMessage(ctx, conv.Id)
	if err != nil {
		return nil, err
	}

	memberCount, err := s.stores.Memberships.CountMembers(ctx, conv.Id)
	if err != nil {
		return nil, err
	}

	item := &entity.ConversationListItem{
		Id:                   conv.Id,
		Kind:                 conv.Kind,
		Title:                conv.Title,
		Description:          conv.Description,
		Private:              conv.Private,
		CreatorId:            conv.CreatorId,
		MemberCount:          memberCount,
		UnreadCount:          unread,
		Role:                 m.Role,
		Capabilities:         permission.Normalize(m.Role, m.RawPermissions(), nil),
		NotificationsEnabled: m.NotificationsEnabled,
		UpdatedAt:            conv.UpdatedAt,
	}
	if latest != nil {
		item.LastMessage = latest.ToPreview()
	}
	return item, nil
}

// ListConversations lists every conversation the user belongs to,
// most recently updated first, higher id first on ties
func (s *DirectoryService) ListConversations(ctx context.Context, userId string) ([]*entity.ConversationListItem, error) {
	memberships, err := s.stores.Memberships.ListUserMemberships(ctx, userId)
	if err != nil {
		log.CtxError(ctx, "list user memberships failed: user_id=%s, error=%v", userId, err)
		return nil, errcode.ErrInternalServer
	}

	items := make([]*entity.ConversationListItem, 0, len(memberships))
	for _, m := range memberships {
		conv, err := s.stores.Conversations.GetConversation(ctx, m.ConversationId)
		if err != nil {
			log.CtxError(ctx, "get conversation failed: conversation_id=%d, error=%v", m.ConversationId, err)
			return nil, errcode.ErrInternalServer
		}
		if conv == nil {
			continue
		}
		item, err := s.BuildListItem(ctx, conv, m)
		if err != nil {
			log.CtxError(ctx, "build list item failed: conversation_id=%d, error=%v", conv.Id, err)
			return nil, errcode.ErrInternalServer
		}
		items = append(items, item)
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].UpdatedAt != items[j].UpdatedAt {
			return items[i].UpdatedAt > items[j].UpdatedAt
		}
		return items[i].Id > items[j].Id
	})
	return items, nil
}

// ListMembers returns the full roster with per-member role and
// capability set, ordered by display name
func (s *DirectoryService) ListMembers(ctx context.Context, conversationId int64) ([]*entity.MemberInfo, error) {
	memberships, err := s.stores.Memberships.ListMemberships(ctx, conversationId)
	if err != nil {
		log.CtxError(ctx, "list memberships failed: conversation_id=%d, error=%v", conversationId, err)
		return nil, errcode.ErrInternalServer
	}

	userIds := lo.Map(memberships, func(m *entity.Membership, _ int) string { return m.UserId })
	users, err := s.stores.Users.GetUsers(ctx, userIds)
	if err != nil {
		log.CtxError(ctx, "get users failed: conversation_id=%d, error=%v", conversationId, err)
		return nil, errcode.ErrInternalServer
	}

	roster := make([]*entity.MemberInfo, 0, len(memberships))
	for _, m := range memberships {
		info := &entity.MemberInfo{
			UserId:       m.UserId,
			Role:         m.Role,
			Capabilities: permission.Normalize(m.Role, m.RawPermissions(), nil),
			JoinedAt:     m.CreatedAt,
		}
		if u := users[m.UserId]; u != nil {
			info.Nickname = u.Nickname
			info.Avatar = u.Avatar
			info.Color = u.Color
			info.Status = u.Status
		}
		roster = append(roster, info)
	}

	sort.Slice(roster, func(i, j int) bool {
		if roster[i].Nickname != roster[j].Nickname {
			return roster[i].Nickname < roster[j].Nickname
		}
		return roster[i].UserId < roster[j].UserId
	})
	return roster, nil
}

// PushListEntries recomputes and pushes each member's own list entry
// for the conversation. Unread count and preview are per-viewer, so
// one message changes every member's entry differently.
func (s *DirectoryService) PushListEntries(ctx context.Context, conversationId int64) {
	if s.pusher == nil {
		return
	}

	conv, err := s.stores.Conversations.GetConversation(ctx, conversationId)
	if err != nil || conv == nil {
		log.CtxWarn(ctx, "push list entries: conversation gone: conversation_id=%d, error=%v", conversationId, err)
		return
	}

	memberships, err := s.stores.Memberships.ListMemberships(ctx, conversationId)
	if err != nil {
		log.CtxWarn(ctx, "push list entries: list memberships failed: conversation_id=%d, error=%v", conversationId, err)
		return
	}

	for _, m := range memberships {
		item, err := s.BuildListItem(ctx, conv, m)
		if err != nil {
			log.CtxWarn(ctx, "push list entries: build item failed: conversation_id=%d, user_id=%s, error=%v", conversationId, m.UserId, err)
			continue
		}
		s.pusher.PushToUser(ctx, m.UserId, constant.EventConversationList, []*entity.ConversationListItem{item})
	}
}

// MarkRead moves the member's read position to now and refreshes
// their own list entry
func (s *DirectoryService) MarkRead(ctx context.Context, userId string, conversationId int64) error {
	m, _, err := s.RequireMembership(ctx, conversationId, userId)
	if err != nil {
		return err
	}

	now := entity.NowUnixMilli()
	if err := s.stores.Memberships.SetLastReadAt(ctx, conversationId, userId, now); err != nil {
		log.CtxError(ctx, "set last read failed: conversation_id=%d, user_id=%s, error=%v", conversationId, userId, err)
		return errcode.ErrInternalServer
	}

	if s.pusher != nil {
		conv, err := s.stores.Conversations.GetConversation(ctx, conversationId)
		if err == nil && conv != nil {
			m.LastReadAt = &now
			if item, err := s.BuildListItem(ctx, conv, m); err == nil {
				s.pusher.PushToUser(ctx, userId, constant.EventConversationList, []*entity.ConversationListItem{item})
			}
		}
	}
	return nil
}
