package service

import (
	"context"

	"github.com/mbeoliero/kit/log"
	"github.com/parleyhq/parley/internal/entity"
	"github.com/parleyhq/parley/internal/permission"
	"github.com/parleyhq/parley/pkg/constant"
	"github.com/parleyhq/parley/pkg/errcode"
	"github.com/samber/lo"
)

// ConversationService handles conversation lifecycle and membership
// mutations, with the same persist-then-broadcast discipline as
// messages
type ConversationService struct {
	stores    Stores
	directory *DirectoryService
	pusher    Broadcaster
}

// NewConversationService creates a new ConversationService
func NewConversationService(stores Stores, directory *DirectoryService) *ConversationService {
	return &ConversationService{stores: stores, directory: directory}
}

// SetPusher sets the broadcaster
func (s *ConversationService) SetPusher(pusher Broadcaster) {
	s.pusher = pusher
}

// CreateConversationRequest represents a create conversation request
type CreateConversationRequest struct {
	Kind        string   `json:"kind"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Private     bool     `json:"private"`
	PeerId      string   `json:"peer_id,omitempty"`    // direct only
	MemberIds   []string `json:"member_ids,omitempty"` // group only
}

// CreateConversation creates a conversation. Direct creation is
// idempotent: at most one conversation exists per unordered user
// pair, and concurrent requests converge on the same row.
func (s *ConversationService) CreateConversation(ctx context.Context, creatorId string, req *CreateConversationRequest) (*entity.ConversationListItem, error) {
	switch req.Kind {
	case constant.ConversationDirect:
		return s.createDirect(ctx, creatorId, req.PeerId)
	case constant.ConversationGroup:
		return s.createGroup(ctx, creatorId, req)
	default:
		return nil, errcode.ErrInvalidParam
	}
}

func (s *ConversationService) createDirect(ctx context.Context, creatorId, peerId string) (*entity.ConversationListItem, error) {
	if peerId == "" {
		return nil, errcode.ErrInvalidParam
	}
	if peerId == creatorId {
		return nil, errcode.ErrSelfTarget
	}
	if peer, err := s.stores.Users.GetUser(ctx, peerId); err != nil || peer == nil {
		return nil, errcode.ErrInvalidParam
	}

	conv, created, err := s.stores.Conversations.FindOrCreateDirect(ctx, creatorId, peerId)
	if err != nil {
		log.CtxError(ctx, "find or create direct failed: user_id=%s, peer_id=%s, error=%v", creatorId, peerId, err)
		return nil, errcode.ErrInternalServer
	}

	if created {
		s.announce(ctx, conv)
		log.CtxInfo(ctx, "direct conversation created: conversation_id=%d, creator_id=%s, peer_id=%s", conv.Id, creatorId, peerId)
	}

	m, _, err := s.directory.RequireMembership(ctx, conv.Id, creatorId)
	if err != nil {
		return nil, err
	}
	return s.directory.BuildListItem(ctx, conv, m)
}

func (s *ConversationService) createGroup(ctx context.Context, creatorId string, req *CreateConversationRequest) (*entity.ConversationListItem, error) {
	if req.Title == "" {
		return nil, errcode.ErrInvalidParam
	}

	conv := &entity.Conversation{
		Kind:        constant.ConversationGroup,
		Title:       req.Title,
		Description: req.Description,
		Private:     req.Private,
		CreatorId:   creatorId,
	}

	members := []*entity.Membership{
		{UserId: creatorId, Role: constant.RoleOwner, NotificationsEnabled: true},
	}
	for _, memberId := range lo.Uniq(req.MemberIds) {
		if memberId == creatorId {
			continue
		}
		members = append(members, &entity.Membership{
			UserId:               memberId,
			Role:                 constant.RoleMember,
			NotificationsEnabled: true,
		})
	}

	if err := s.stores.Conversations.CreateWithMembers(ctx, conv, members); err != nil {
		log.CtxError(ctx, "create group conversation failed: creator_id=%s, error=%v", creatorId, err)
		return nil, errcode.ErrInternalServer
	}

	s.announce(ctx, conv)
	log.CtxInfo(ctx, "group conversation created: conversation_id=%d, creator_id=%s, members=%d", conv.Id, creatorId, len(members))

	ownerMembership := members[0]
	return s.directory.BuildListItem(ctx, conv, ownerMembership)
}

// announce attaches members' connections to the new room and pushes
// each their personalized view of the conversation
func (s *ConversationService) announce(ctx context.Context, conv *entity.Conversation) {
	if s.pusher == nil {
		return
	}
	memberships, err := s.stores.Memberships.ListMemberships(ctx, conv.Id)
	if err != nil {
		log.CtxWarn(ctx, "announce: list memberships failed: conversation_id=%d, error=%v", conv.Id, err)
		return
	}
	for _, m := range memberships {
		s.pusher.AttachToConversation(ctx, conv.Id, m.UserId)
		if item, err := s.directory.BuildListItem(ctx, conv, m); err == nil {
			s.pusher.PushToUser(ctx, m.UserId, constant.EventConversationCreated, item)
		}
	}
}

// UpdateConversationRequest represents conversation settings changes
type UpdateConversationRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Private     *bool   `json:"private,omitempty"`
}

// UpdateConversation renames or reconfigures a conversation. Requires
// manage-settings.
func (s *ConversationService) UpdateConversation(ctx context.Context, actorId string, conversationId int64, req *UpdateConversationRequest) error {
	_, caps, err := s.directory.RequireMembership(ctx, conversationId, actorId)
	if err != nil {
		return err
	}
	if !caps.Has(constant.CapManageSettings) {
		return errcode.ErrNoCapability
	}

	updates := map[string]interface{}{}
	if req.Title != nil {
		if *req.Title == "" {
			return errcode.ErrInvalidParam
		}
		updates["title"] = *req.Title
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.Private != nil {
		updates["private"] = *req.Private
	}
	if len(updates) == 0 {
		return errcode.ErrInvalidParam
	}

	if err := s.stores.Conversations.UpdateConversation(ctx, conversationId, updates); err != nil {
		log.CtxError(ctx, "update conversation failed: conversation_id=%d, error=%v", conversationId, err)
		return errcode.ErrInternalServer
	}

	conv, err := s.stores.Conversations.GetConversation(ctx, conversationId)
	if err != nil || conv == nil {
		log.CtxError(ctx, "re-read conversation failed: conversation_id=%d, error=%v", conversationId, err)
		return errcode.ErrInternalServer
	}

	if s.pusher != nil {
		s.pusher.RoomBroadcast(ctx, constant.ConversationRoom(conversationId), constant.EventConversationUpdated, conv)
		s.directory.PushListEntries(ctx, conversationId)
	}
	return nil
}

// AddMember adds a member to a group conversation. Requires
// manage-members.
func (s *ConversationService) AddMember(ctx context.Context, actorId string, conversationId int64, targetId string) error {
	_, caps, err := s.directory.RequireMembership(ctx, conversationId, actorId)
	if err != nil {
		return err
	}
	if !caps.Has(constant.CapManageMembers) {
		return errcode.ErrNoCapability
	}

	conv, err := s.stores.Conversations.GetConversation(ctx, conversationId)
	if err != nil {
		log.CtxError(ctx, "get conversation failed: conversation_id=%d, error=%v", conversationId, err)
		return errcode.ErrInternalServer
	}
	if conv == nil {
		return errcode.ErrNoAccess
	}
	if conv.IsDirect() {
		return errcode.ErrInvalidParam
	}

	if target, err := s.stores.Users.GetUser(ctx, targetId); err != nil || target == nil {
		return errcode.ErrInvalidParam
	}

	existing, err := s.stores.Memberships.GetMembership(ctx, conversationId, targetId)
	if err != nil {
		log.CtxError(ctx, "get membership failed: conversation_id=%d, user_id=%s, error=%v", conversationId, targetId, err)
		return errcode.ErrInternalServer
	}
	if existing != nil {
		return errcode.ErrAlreadyMember
	}

	m := &entity.Membership{
		ConversationId:       conversationId,
		UserId:               targetId,
		Role:                 constant.RoleMember,
		NotificationsEnabled: true,
	}
	if err := s.stores.Memberships.AddMembership(ctx, m); err != nil {
		log.CtxError(ctx, "add membership failed: conversation_id=%d, user_id=%s, error=%v", conversationId, targetId, err)
		return errcode.ErrInternalServer
	}

	if s.pusher != nil {
		s.pusher.AttachToConversation(ctx, conversationId, targetId)

		info := &entity.MemberInfo{
			UserId:       targetId,
			Role:         m.Role,
			Capabilities: permission.None(),
			JoinedAt:     m.CreatedAt,
		}
		if u, err := s.stores.Users.GetUser(ctx, targetId); err == nil && u != nil {
			info.Nickname = u.Nickname
			info.Avatar = u.Avatar
			info.Color = u.Color
			info.Status = u.Status
		}
		s.pusher.RoomBroadcast(ctx, constant.ConversationRoom(conversationId), constant.EventMemberAdded, info)
		if item, err := s.directory.BuildListItem(ctx, conv, m); err == nil {
			s.pusher.PushToUser(ctx, targetId, constant.EventConversationCreated, item)
		}
		s.directory.PushListEntries(ctx, conversationId)
	}

	log.CtxInfo(ctx, "member added: conversation_id=%d, actor_id=%s, user_id=%s", conversationId, actorId, targetId)
	return nil
}

// RemoveMember removes a member. Before the call returns, the removed
// user is out of any active call in the conversation, their
// connections are detached from its room, and the conversation is
// pruned from their folders. Owner removal is a refused operation,
// not a silent no-op. Members may remove themselves without
// manage-members.
func (s *ConversationService) RemoveMember(ctx context.Context, actorId string, conversationId int64, targetId string) error {
	_, caps, err := s.directory.RequireMembership(ctx, conversationId, actorId)
	if err != nil {
		return err
	}
	if actorId != targetId && !caps.Has(constant.CapManageMembers) {
		return errcode.ErrNoCapability
	}

	target, err := s.stores.Memberships.GetMembership(ctx, conversationId, targetId)
	if err != nil {
		log.CtxError(ctx, "get target membership failed: conversation_id=%d, user_id=%s, error=%v", conversationId, targetId, err)
		return errcode.ErrInternalServer
	}
	if target == nil {
		return errcode.ErrNoAccess
	}
	if target.Role == constant.RoleOwner {
		return errcode.ErrOwnerImmutable
	}

	if err := s.stores.Memberships.RemoveMembership(ctx, conversationId, targetId); err != nil {
		log.CtxError(ctx, "remove membership failed: conversation_id=%d, user_id=%s, error=%v", conversationId, targetId, err)
		return errcode.ErrInternalServer
	}

	removedPayload := map[string]interface{}{
		"conversation_id": conversationId,
		"user_id":         targetId,
	}
	if s.pusher != nil {
		// Call eviction and room detach come first so the removed
		// user's connections observe nothing after this point
		s.pusher.DetachFromConversation(ctx, conversationId, targetId)
		s.pusher.RoomBroadcast(ctx, constant.ConversationRoom(conversationId), constant.EventMemberRemoved, removedPayload)
		s.pusher.PushToUser(ctx, targetId, constant.EventMemberRemoved, removedPayload)
		s.directory.PushListEntries(ctx, conversationId)
	}

	log.CtxInfo(ctx, "member removed: conversation_id=%d, actor_id=%s, user_id=%s", conversationId, actorId, targetId)
	return nil
}

// ChangeRoleRequest represents a role change. Capabilities apply only
// when promoting to admin; nil means the promotion defaults.
type ChangeRoleRequest struct {
	UserId       string          `json:"user_id"`
	Role         string          `json:"role"`
	Capabilities map[string]bool `json:"capabilities,omitempty"`
}

// ChangeRole promotes or demotes a member. The owner role is never
// granted or taken this way.
func (s *ConversationService) ChangeRole(ctx context.Context, actorId string, conversationId int64, req *ChangeRoleRequest) error {
	if !permission.ValidRole(req.Role) {
		return errcode.ErrInvalidRole
	}
	if req.Role == constant.RoleOwner {
		return errcode.ErrOwnerImmutable
	}

	_, caps, err := s.directory.RequireMembership(ctx, conversationId, actorId)
	if err != nil {
		return err
	}
	if !caps.Has(constant.CapManageMembers) {
		return errcode.ErrNoCapability
	}

	target, err := s.stores.Memberships.GetMembership(ctx, conversationId, req.UserId)
	if err != nil {
		log.CtxError(ctx, "get target membership failed: conversation_id=%d, user_id=%s, error=%v", conversationId, req.UserId, err)
		return errcode.ErrInternalServer
	}
	if target == nil {
		return errcode.ErrNoAccess
	}
	if target.Role == constant.RoleOwner {
		return errcode.ErrOwnerImmutable
	}

	var permsJSON *string
	if req.Role == constant.RoleAdmin {
		granted := permission.DefaultAdmin()
		if req.Capabilities != nil {
			granted = permission.Normalize(constant.RoleAdmin, nil, nil)
			for k, v := range req.Capabilities {
				if _, known := granted[k]; known {
					granted[k] = v
				}
			}
		}
		encoded, err := permission.Encode(granted)
		if err != nil {
			return errcode.ErrInternalServer
		}
		permsJSON = &encoded
	}

	if err := s.stores.Memberships.UpdateMemberRole(ctx, conversationId, req.UserId, req.Role, permsJSON); err != nil {
		log.CtxError(ctx, "update member role failed: conversation_id=%d, user_id=%s, error=%v", conversationId, req.UserId, err)
		return errcode.ErrInternalServer
	}

	if s.pusher != nil {
		fresh, _, err := s.directory.GetMembership(ctx, conversationId, req.UserId)
		if err == nil && fresh != nil {
			info := &entity.MemberInfo{
				UserId:       fresh.UserId,
				Role:         fresh.Role,
				Capabilities: permission.Normalize(fresh.Role, fresh.RawPermissions(), nil),
				JoinedAt:     fresh.CreatedAt,
			}
			if u, uerr := s.stores.Users.GetUser(ctx, req.UserId); uerr == nil && u != nil {
				info.Nickname = u.Nickname
				info.Avatar = u.Avatar
				info.Color = u.Color
				info.Status = u.Status
			}
			s.pusher.RoomBroadcast(ctx, constant.ConversationRoom(conversationId), constant.EventMemberUpdated, info)
		}
		s.directory.PushListEntries(ctx, conversationId)
	}

	log.CtxInfo(ctx, "role changed: conversation_id=%d, actor_id=%s, user_id=%s, role=%s", conversationId, actorId, req.UserId, req.Role)
	return nil
}
