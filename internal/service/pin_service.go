package service

import (
	"context"
	"errors"

	"github.com/mbeoliero/kit/log"
	"github.com/parleyhq/parley/internal/entity"
	"github.com/parleyhq/parley/pkg/constant"
	"github.com/parleyhq/parley/pkg/errcode"
	"gorm.io/gorm"
)

// PinService manages conversation pins. Pin mutations require the
// moderate-messages capability and always end with a personalized
// pinned-list push to every member, because the favorite flag inside
// each pinned message is per-viewer.
type PinService struct {
	stores    Stores
	directory *DirectoryService
	messages  *MessageService
	pusher    Broadcaster
}

// NewPinService creates a new PinService
func NewPinService(stores Stores, directory *DirectoryService, messages *MessageService) *PinService {
	return &PinService{stores: stores, directory: directory, messages: messages}
}

// SetPusher sets the broadcaster
func (s *PinService) SetPusher(pusher Broadcaster) {
	s.pusher = pusher
}

// ListPinned renders the conversation's live pins for one viewer,
// oldest pin first
func (s *PinService) ListPinned(ctx context.Context, viewerId string, conversationId int64) ([]*entity.PinnedMessage, error) {
	if _, _, err := s.directory.RequireMembership(ctx, conversationId, viewerId); err != nil {
		return nil, err
	}
	return s.renderPins(ctx, conversationId, viewerId)
}

func (s *PinService) renderPins(ctx context.Context, conversationId int64, viewerId string) ([]*entity.PinnedMessage, error) {
	pins, err := s.stores.Pins.ListPins(ctx, conversationId)
	if err != nil {
		log.CtxError(ctx, "list pins failed: conversation_id=%d, error=%v", conversationId, err)
		return nil, errcode.ErrInternalServer
	}

	rendered := make([]*entity.PinnedMessage, 0, len(pins))
	for _, pin := range pins {
		info, err := s.messages.RenderMessage(ctx, pin.MessageId, viewerId)
		if err != nil {
			return nil, err
		}
		rendered = append(rendered, &entity.PinnedMessage{
			Id:       pin.Id,
			PinnedBy: pin.PinnedBy,
			PinnedAt: pin.PinnedAt,
			Message:  info,
		})
	}
	return rendered, nil
}

// Pin pins a message. Inserting past the ceiling evicts the oldest
// pin by pin time; pinning an already-pinned message is a no-op that
// still refreshes the list.
func (s *PinService) Pin(ctx context.Context, actorId string, conversationId, messageId int64) error {
	_, caps, err := s.directory.RequireMembership(ctx, conversationId, actorId)
	if err != nil {
		return err
	}
	if !caps.Has(constant.CapModerateMessages) {
		return errcode.ErrNoCapability
	}

	msg, err := s.stores.Messages.GetMessage(ctx, messageId)
	if err != nil {
		log.CtxError(ctx, "get message failed: message_id=%d, error=%v", messageId, err)
		return errcode.ErrInternalServer
	}
	if msg == nil || msg.IsDeleted() || msg.ConversationId != conversationId {
		return errcode.ErrNoAccess
	}

	pin := &entity.Pin{
		ConversationId: conversationId,
		MessageId:      messageId,
		PinnedBy:       actorId,
		PinnedAt:       entity.NowUnixMilli(),
	}
	evicted, err := s.stores.Pins.AddPin(ctx, pin, constant.MaxPinsPerConversation)
	if err != nil && !errors.Is(err, gorm.ErrDuplicatedKey) {
		log.CtxError(ctx, "add pin failed: conversation_id=%d, message_id=%d, error=%v", conversationId, messageId, err)
		return errcode.ErrInternalServer
	}
	if len(evicted) > 0 {
		log.CtxInfo(ctx, "pin ceiling enforced: conversation_id=%d, evicted=%v", conversationId, evicted)
	}

	s.pushPins(ctx, conversationId)
	return nil
}

// Unpin removes a pin. A missing pin is a no-op that still refreshes
// the list.
func (s *PinService) Unpin(ctx context.Context, actorId string, conversationId, messageId int64) error {
	_, caps, err := s.directory.RequireMembership(ctx, conversationId, actorId)
	if err != nil {
		return err
	}
	if !caps.Has(constant.CapModerateMessages) {
		return errcode.ErrNoCapability
	}

	if _, err := s.stores.Pins.RemovePin(ctx, conversationId, messageId); err != nil {
		log.CtxError(ctx, "remove pin failed: conversation_id=%d, message_id=%d, error=%v", conversationId, messageId, err)
		return errcode.ErrInternalServer
	}

	s.pushPins(ctx, conversationId)
	return nil
}

// pushPins recomputes the pinned list per member and pushes it to
// each individually
func (s *PinService) pushPins(ctx context.Context, conversationId int64) {
	if s.pusher == nil {
		return
	}

	memberships, err := s.stores.Memberships.ListMemberships(ctx, conversationId)
	if err != nil {
		log.CtxWarn(ctx, "push pins: list memberships failed: conversation_id=%d, error=%v", conversationId, err)
		return
	}

	for _, m := range memberships {
		rendered, err := s.renderPins(ctx, conversationId, m.UserId)
		if err != nil {
			log.CtxWarn(ctx, "push pins: render failed: conversation_id=%d, user_id=%s, error=%v", conversationId, m.UserId, err)
			continue
		}
		s.pusher.PushToUser(ctx, m.UserId, constant.EventConversationPins, map[string]interface{}{
			"conversation_id": conversationId,
			"pins":            rendered,
		})
	}
}
