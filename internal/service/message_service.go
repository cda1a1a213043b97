package service

import (
	"context"
	"unicode/utf8"

	"github.com/mbeoliero/kit/log"
	"github.com/parleyhq/parley/internal/entity"
	"github.com/parleyhq/parley/pkg/constant"
	"github.com/parleyhq/parley/pkg/errcode"
	"github.com/samber/lo"
)

// MessageService runs the persist-then-broadcast sequence for message
// mutations. Membership and capability are re-validated immediately
// before every write; the broadcast always carries the post-write
// form of the entity.
type MessageService struct {
	stores    Stores
	directory *DirectoryService
	pusher    Broadcaster
}

// NewMessageService creates a new MessageService
func NewMessageService(stores Stores, directory *DirectoryService) *MessageService {
	return &MessageService{stores: stores, directory: directory}
}

// SetPusher sets the broadcaster
func (s *MessageService) SetPusher(pusher Broadcaster) {
	s.pusher = pusher
}

// SendMessageRequest represents a send message request
type SendMessageRequest struct {
	ConversationId int64               `json:"conversation_id"`
	Content        string              `json:"content"`
	Attachments    []entity.Attachment `json:"attachments,omitempty"`
	ParentId       *int64              `json:"parent_id,omitempty"`
}

func validateContent(content string, attachments []entity.Attachment) error {
	if content == "" && len(attachments) == 0 {
		return errcode.ErrEmptyMessage
	}
	if utf8.RuneCountInString(content) > constant.MaxContentLength {
		return errcode.ErrContentTooLong
	}
	return nil
}

// SendMessage persists a new message and fans it out to the
// conversation room
func (s *MessageService) SendMessage(ctx context.Context, senderId string, req *SendMessageRequest) (*entity.MessageInfo, error) {
	if err := validateContent(req.Content, req.Attachments); err != nil {
		return nil, err
	}

	if _, _, err := s.directory.RequireMembership(ctx, req.ConversationId, senderId); err != nil {
		return nil, err
	}

	msg := &entity.Message{
		ConversationId: req.ConversationId,
		SenderId:       senderId,
		CreatedAt:      entity.NowUnixMilli(),
	}
	if req.Content != "" {
		content := req.Content
		msg.Content = &content
	}
	msg.SetAttachments(req.Attachments)

	if req.ParentId != nil {
		snap, err := s.buildReplySnapshot(ctx, req.ConversationId, *req.ParentId)
		if err != nil {
			return nil, err
		}
		msg.ParentId = req.ParentId
		msg.SetParentSnapshot(snap)
	}

	if err := s.stores.Messages.CreateMessage(ctx, msg); err != nil {
		log.CtxError(ctx, "create message failed: conversation_id=%d, sender_id=%s, error=%v", req.ConversationId, senderId, err)
		return nil, errcode.ErrSendFailed
	}

	if err := s.stores.Conversations.TouchConversation(ctx, req.ConversationId); err != nil {
		log.CtxWarn(ctx, "touch conversation failed: conversation_id=%d, error=%v", req.ConversationId, err)
	}

	// The sender has seen their own message; without this their own
	// list entry would count it unread
	if err := s.stores.Memberships.SetLastReadAt(ctx, req.ConversationId, senderId, msg.CreatedAt); err != nil {
		log.CtxWarn(ctx, "advance sender read position failed: conversation_id=%d, user_id=%s, error=%v", req.ConversationId, senderId, err)
	}

	return s.fanOutMessage(ctx, msg.Id, constant.EventMessageCreated, senderId, true)
}

// buildReplySnapshot captures the parent's display fields at reply
// time. The snapshot is never refreshed afterwards.
func (s *MessageService) buildReplySnapshot(ctx context.Context, conversationId, parentId int64) (*entity.ReplySnapshot, error) {
	parent, err := s.stores.Messages.GetMessage(ctx, parentId)
	if err != nil {
		log.CtxError(ctx, "get reply target failed: message_id=%d, error=%v", parentId, err)
		return nil, errcode.ErrInternalServer
	}
	if parent == nil {
		return nil, errcode.ErrNoAccess
	}
	if parent.ConversationId != conversationId {
		return nil, errcode.ErrReplyCrossConv
	}

	snap := &entity.ReplySnapshot{
		MessageId:   parent.Id,
		SenderId:    parent.SenderId,
		Content:     parent.Content,
		Attachments: parent.GetAttachments(),
	}
	if u, err := s.stores.Users.GetUser(ctx, parent.SenderId); err == nil && u != nil {
		snap.SenderName = u.Nickname
	}
	return snap, nil
}

// EditMessage applies an edit. Authors may edit their own messages
// within the edit window; holders of moderate-messages may edit any
// message with no window.
func (s *MessageService) EditMessage(ctx context.Context, actorId string, messageId int64, content string) (*entity.MessageInfo, error) {
	if err := validateContent(content, nil); err != nil {
		return nil, err
	}

	msg, err := s.stores.Messages.GetMessage(ctx, messageId)
	if err != nil {
		log.CtxError(ctx, "get message failed: message_id=%d, error=%v", messageId, err)
		return nil, errcode.ErrInternalServer
	}
	if msg == nil || msg.IsDeleted() {
		return nil, errcode.ErrNoAccess
	}

	_, caps, err := s.directory.RequireMembership(ctx, msg.ConversationId, actorId)
	if err != nil {
		return nil, err
	}

	now := entity.NowUnixMilli()
	if msg.SenderId == actorId {
		if now-msg.CreatedAt > constant.SelfEditWindowMillis && !caps.Has(constant.CapModerateMessages) {
			return nil, errcode.ErrEditWindowClosed
		}
	} else if !caps.Has(constant.CapModerateMessages) {
		return nil, errcode.ErrNoCapability
	}

	if err := s.stores.Messages.UpdateMessageContent(ctx, messageId, content, now); err != nil {
		log.CtxError(ctx, "update message failed: message_id=%d, error=%v", messageId, err)
		return nil, errcode.ErrInternalServer
	}

	return s.fanOutMessage(ctx, messageId, constant.EventMessageUpdated, actorId, true)
}

// DeleteMessage soft-deletes a message: content cleared, deleted
// timestamp set, attachments retained for audit. Same authorization
// split as edit, but no age window.
func (s *MessageService) DeleteMessage(ctx context.Context, actorId string, messageId int64) error {
	msg, err := s.stores.Messages.GetMessage(ctx, messageId)
	if err != nil {
		log.CtxError(ctx, "get message failed: message_id=%d, error=%v", messageId, err)
		return errcode.ErrInternalServer
	}
	if msg == nil || msg.IsDeleted() {
		return errcode.ErrNoAccess
	}

	_, caps, err := s.directory.RequireMembership(ctx, msg.ConversationId, actorId)
	if err != nil {
		return err
	}
	if msg.SenderId != actorId && !caps.Has(constant.CapModerateMessages) {
		return errcode.ErrNoCapability
	}

	if err := s.stores.Messages.SoftDeleteMessage(ctx, messageId, entity.NowUnixMilli()); err != nil {
		log.CtxError(ctx, "delete message failed: message_id=%d, error=%v", messageId, err)
		return errcode.ErrInternalServer
	}

	_, err = s.fanOutMessage(ctx, messageId, constant.EventMessageDeleted, actorId, true)
	return err
}

// ReactMessage toggles the (message, user, emoji) reaction: removed
// if present, added otherwise. Counts in the broadcast are recomputed
// from the full reaction set.
func (s *MessageService) ReactMessage(ctx context.Context, actorId string, messageId int64, emoji string) (*entity.MessageInfo, error) {
	if emoji == "" || utf8.RuneCountInString(emoji) > 16 {
		return nil, errcode.ErrInvalidEmoji
	}

	msg, err := s.stores.Messages.GetMessage(ctx, messageId)
	if err != nil {
		log.CtxError(ctx, "get message failed: message_id=%d, error=%v", messageId, err)
		return nil, errcode.ErrInternalServer
	}
	if msg == nil || msg.IsDeleted() {
		return nil, errcode.ErrNoAccess
	}

	if _, _, err := s.directory.RequireMembership(ctx, msg.ConversationId, actorId); err != nil {
		return nil, err
	}

	if _, err := s.stores.Messages.ToggleReaction(ctx, messageId, actorId, emoji); err != nil {
		log.CtxError(ctx, "toggle reaction failed: message_id=%d, user_id=%s, error=%v", messageId, actorId, err)
		return nil, errcode.ErrInternalServer
	}

	// Reactions do not move read positions or previews, so the
	// conversation-list refresh is skipped
	return s.fanOutMessage(ctx, messageId, constant.EventMessageUpdated, actorId, false)
}

// ToggleFavorite flips the viewer's favorite flag. The flag is
// viewer-local state, so only the toggling user gets the refreshed
// message.
func (s *MessageService) ToggleFavorite(ctx context.Context, actorId string, messageId int64) (*entity.MessageInfo, error) {
	msg, err := s.stores.Messages.GetMessage(ctx, messageId)
	if err != nil {
		log.CtxError(ctx, "get message failed: message_id=%d, error=%v", messageId, err)
		return nil, errcode.ErrInternalServer
	}
	if msg == nil {
		return nil, errcode.ErrNoAccess
	}

	if _, _, err := s.directory.RequireMembership(ctx, msg.ConversationId, actorId); err != nil {
		return nil, err
	}

	if _, err := s.stores.Messages.ToggleFavorite(ctx, messageId, actorId); err != nil {
		log.CtxError(ctx, "toggle favorite failed: message_id=%d, user_id=%s, error=%v", messageId, actorId, err)
		return nil, errcode.ErrInternalServer
	}

	info, err := s.RenderMessage(ctx, messageId, actorId)
	if err != nil {
		return nil, err
	}
	if s.pusher != nil {
		s.pusher.PushToUser(ctx, actorId, constant.EventMessageUpdated, info)
	}
	return info, nil
}

// ForwardMessageRequest represents a forward request. Exactly one of
// TargetConversationId or TargetUserId must be set; the latter
// find-or-creates the direct conversation with that user.
type ForwardMessageRequest struct {
	MessageId            int64   `json:"message_id"`
	TargetConversationId *int64  `json:"target_conversation_id,omitempty"`
	TargetUserId         *string `json:"target_user_id,omitempty"`
}

// ForwardMessage copies a message into another conversation with an
// immutable origin snapshot, then fans out as a normal send
func (s *MessageService) ForwardMessage(ctx context.Context, actorId string, req *ForwardMessageRequest) (*entity.MessageInfo, error) {
	if (req.TargetConversationId == nil) == (req.TargetUserId == nil) {
		return nil, errcode.ErrInvalidParam
	}

	source, err := s.stores.Messages.GetMessage(ctx, req.MessageId)
	if err != nil {
		log.CtxError(ctx, "get source message failed: message_id=%d, error=%v", req.MessageId, err)
		return nil, errcode.ErrInternalServer
	}
	if source == nil || source.IsDeleted() {
		return nil, errcode.ErrNoAccess
	}
	if _, _, err := s.directory.RequireMembership(ctx, source.ConversationId, actorId); err != nil {
		return nil, err
	}

	var targetId int64
	if req.TargetUserId != nil {
		conv, created, err := s.stores.Conversations.FindOrCreateDirect(ctx, actorId, *req.TargetUserId)
		if err != nil {
			log.CtxError(ctx, "find or create direct failed: user_id=%s, peer_id=%s, error=%v", actorId, *req.TargetUserId, err)
			return nil, errcode.ErrInternalServer
		}
		targetId = conv.Id
		if created {
			s.announceConversation(ctx, conv)
		}
	} else {
		targetId = *req.TargetConversationId
		if _, _, err := s.directory.RequireMembership(ctx, targetId, actorId); err != nil {
			return nil, err
		}
	}

	origin := &entity.ForwardOrigin{
		MessageId:      source.Id,
		ConversationId: source.ConversationId,
		SenderId:       source.SenderId,
		SentAt:         source.CreatedAt,
	}
	if u, err := s.stores.Users.GetUser(ctx, source.SenderId); err == nil && u != nil {
		origin.SenderName = u.Nickname
	}

	msg := &entity.Message{
		ConversationId: targetId,
		SenderId:       actorId,
		Content:        source.Content,
		Attachments:    source.Attachments,
		CreatedAt:      entity.NowUnixMilli(),
	}
	msg.SetForwardSnapshot(origin)

	if err := s.stores.Messages.CreateMessage(ctx, msg); err != nil {
		log.CtxError(ctx, "create forwarded message failed: conversation_id=%d, error=%v", targetId, err)
		return nil, errcode.ErrSendFailed
	}
	if err := s.stores.Conversations.TouchConversation(ctx, targetId); err != nil {
		log.CtxWarn(ctx, "touch conversation failed: conversation_id=%d, error=%v", targetId, err)
	}
	if err := s.stores.Memberships.SetLastReadAt(ctx, targetId, actorId, msg.CreatedAt); err != nil {
		log.CtxWarn(ctx, "advance sender read position failed: conversation_id=%d, user_id=%s, error=%v", targetId, actorId, err)
	}

	return s.fanOutMessage(ctx, msg.Id, constant.EventMessageCreated, actorId, true)
}

// announceConversation attaches every member's connections to the new
// conversation's room and pushes them their personalized view
func (s *MessageService) announceConversation(ctx context.Context, conv *entity.Conversation) {
	if s.pusher == nil {
		return
	}
	memberships, err := s.stores.Memberships.ListMemberships(ctx, conv.Id)
	if err != nil {
		log.CtxWarn(ctx, "announce conversation: list memberships failed: conversation_id=%d, error=%v", conv.Id, err)
		return
	}
	for _, m := range memberships {
		s.pusher.AttachToConversation(ctx, conv.Id, m.UserId)
		if item, err := s.directory.BuildListItem(ctx, conv, m); err == nil {
			s.pusher.PushToUser(ctx, m.UserId, constant.EventConversationCreated, item)
		}
	}
}

// GetHistory pulls rendered messages before the given id, newest
// first
func (s *MessageService) GetHistory(ctx context.Context, viewerId string, conversationId, beforeId int64, limit int) ([]*entity.MessageInfo, error) {
	if _, _, err := s.directory.RequireMembership(ctx, conversationId, viewerId); err != nil {
		return nil, err
	}

	msgs, err := s.stores.Messages.ListHistory(ctx, conversationId, beforeId, limit)
	if err != nil {
		log.CtxError(ctx, "list history failed: conversation_id=%d, error=%v", conversationId, err)
		return nil, errcode.ErrInternalServer
	}

	infos := make([]*entity.MessageInfo, 0, len(msgs))
	for _, msg := range msgs {
		info, err := s.renderLoaded(ctx, msg, viewerId)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// RenderMessage renders the post-write form of a message for one
// viewer, derived fields included
func (s *MessageService) RenderMessage(ctx context.Context, messageId int64, viewerId string) (*entity.MessageInfo, error) {
	msg, err := s.stores.Messages.GetMessage(ctx, messageId)
	if err != nil {
		log.CtxError(ctx, "get message failed: message_id=%d, error=%v", messageId, err)
		return nil, errcode.ErrInternalServer
	}
	if msg == nil {
		return nil, errcode.ErrNoAccess
	}
	return s.renderLoaded(ctx, msg, viewerId)
}

func (s *MessageService) renderLoaded(ctx context.Context, msg *entity.Message, viewerId string) (*entity.MessageInfo, error) {
	reactions, err := s.stores.Messages.ListReactions(ctx, msg.Id)
	if err != nil {
		log.CtxError(ctx, "list reactions failed: message_id=%d, error=%v", msg.Id, err)
		return nil, errcode.ErrInternalServer
	}
	favorites, err := s.stores.Messages.ListFavorites(ctx, msg.Id)
	if err != nil {
		log.CtxError(ctx, "list favorites failed: message_id=%d, error=%v", msg.Id, err)
		return nil, errcode.ErrInternalServer
	}
	return renderMessage(msg, reactions, favorites, viewerId), nil
}

// renderMessage builds the per-viewer view from loaded rows. Reaction
// counts come from the full set every time, never from stored
// counters.
func renderMessage(msg *entity.Message, reactions []*entity.Reaction, favorites []string, viewerId string) *entity.MessageInfo {
	info := &entity.MessageInfo{
		Id:             msg.Id,
		ConversationId: msg.ConversationId,
		SenderId:       msg.SenderId,
		Content:        msg.Content,
		Attachments:    msg.GetAttachments(),
		Parent:         msg.GetParentSnapshot(),
		Forward:        msg.GetForwardSnapshot(),
		Reactions:      []entity.ReactionSummary{},
		Favorite:       lo.Contains(favorites, viewerId),
		EditedAt:       msg.EditedAt,
		DeletedAt:      msg.DeletedAt,
		CreatedAt:      msg.CreatedAt,
	}

	order := make([]string, 0, 4)
	byEmoji := make(map[string]*entity.ReactionSummary, 4)
	for _, r := range reactions {
		summary, ok := byEmoji[r.Emoji]
		if !ok {
			summary = &entity.ReactionSummary{Emoji: r.Emoji}
			byEmoji[r.Emoji] = summary
			order = append(order, r.Emoji)
		}
		summary.Count++
		if r.UserId == viewerId {
			summary.Reacted = true
		}
	}
	for _, emoji := range order {
		info.Reactions = append(info.Reactions, *byEmoji[emoji])
	}
	return info
}

// fanOutMessage re-reads the entity post-write, broadcasts it to the
// conversation room re-rendered per recipient, and optionally
// refreshes every member's list entry. Returns the actor's own view.
func (s *MessageService) fanOutMessage(ctx context.Context, messageId int64, event, actorId string, refreshLists bool) (*entity.MessageInfo, error) {
	msg, err := s.stores.Messages.GetMessage(ctx, messageId)
	if err != nil || msg == nil {
		log.CtxError(ctx, "re-read message failed: message_id=%d, error=%v", messageId, err)
		return nil, errcode.ErrInternalServer
	}

	reactions, err := s.stores.Messages.ListReactions(ctx, messageId)
	if err != nil {
		log.CtxError(ctx, "list reactions failed: message_id=%d, error=%v", messageId, err)
		return nil, errcode.ErrInternalServer
	}
	favorites, err := s.stores.Messages.ListFavorites(ctx, messageId)
	if err != nil {
		log.CtxError(ctx, "list favorites failed: message_id=%d, error=%v", messageId, err)
		return nil, errcode.ErrInternalServer
	}

	if s.pusher != nil {
		room := constant.ConversationRoom(msg.ConversationId)
		s.pusher.RoomBroadcastEach(ctx, room, event, func(viewerId string) interface{} {
			return renderMessage(msg, reactions, favorites, viewerId)
		})
		if refreshLists {
			s.directory.PushListEntries(ctx, msg.ConversationId)
		}
	}

	log.CtxInfo(ctx, "message fan-out: event=%s, message_id=%d, conversation_id=%d, actor_id=%s", event, messageId, msg.ConversationId, actorId)
	return renderMessage(msg, reactions, favorites, actorId), nil
}
