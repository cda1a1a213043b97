package handler

import (
	"context"
	"strconv"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/parleyhq/parley/internal/middleware"
	"github.com/parleyhq/parley/internal/service"
	"github.com/parleyhq/parley/pkg/errcode"
	"github.com/parleyhq/parley/pkg/response"
)

// ConversationHandler handles conversation-related requests. The REST
// surface mirrors the WebSocket operations for clients that need a
// request/response read path.
type ConversationHandler struct {
	directory     *service.DirectoryService
	conversations *service.ConversationService
	pins          *service.PinService
}

// NewConversationHandler creates a new ConversationHandler
func NewConversationHandler(directory *service.DirectoryService, conversations *service.ConversationService, pins *service.PinService) *ConversationHandler {
	return &ConversationHandler{directory: directory, conversations: conversations, pins: pins}
}

func conversationIdParam(c *app.RequestContext) (int64, bool) {
	id, err := strconv.ParseInt(c.Query("conversation_id"), 10, 64)
	return id, err == nil && id > 0
}

// List handles get conversation list request
func (h *ConversationHandler) List(ctx context.Context, c *app.RequestContext) {
	userId := middleware.GetUserId(c)
	if userId == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrUnauthorized)
		return
	}

	items, err := h.directory.ListConversations(ctx, userId)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, items)
}

// Members handles get conversation roster request
func (h *ConversationHandler) Members(ctx context.Context, c *app.RequestContext) {
	userId := middleware.GetUserId(c)
	if userId == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrUnauthorized)
		return
	}

	conversationId, ok := conversationIdParam(c)
	if !ok {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return
	}

	if _, _, err := h.directory.RequireMembership(ctx, conversationId, userId); err != nil {
		response.Error(ctx, c, err)
		return
	}

	members, err := h.directory.ListMembers(ctx, conversationId)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, members)
}

// Pinned handles get pinned messages request
func (h *ConversationHandler) Pinned(ctx context.Context, c *app.RequestContext) {
	userId := middleware.GetUserId(c)
	if userId == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrUnauthorized)
		return
	}

	conversationId, ok := conversationIdParam(c)
	if !ok {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return
	}

	pins, err := h.pins.ListPinned(ctx, userId, conversationId)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, pins)
}

// Create handles create conversation request
func (h *ConversationHandler) Create(ctx context.Context, c *app.RequestContext) {
	userId := middleware.GetUserId(c)
	if userId == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrUnauthorized)
		return
	}

	var req service.CreateConversationRequest
	if err := c.BindAndValidate(&req); err != nil {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return
	}

	item, err := h.conversations.CreateConversation(ctx, userId, &req)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, item)
}

// Update handles update conversation settings request
func (h *ConversationHandler) Update(ctx context.Context, c *app.RequestContext) {
	userId := middleware.GetUserId(c)
	if userId == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrUnauthorized)
		return
	}

	conversationId, ok := conversationIdParam(c)
	if !ok {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return
	}

	var req service.UpdateConversationRequest
	if err := c.BindAndValidate(&req); err != nil {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return
	}

	if err := h.conversations.UpdateConversation(ctx, userId, conversationId, &req); err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, nil)
}

// MarkReadRequest represents mark read request
type MarkReadRequest struct {
	ConversationId int64 `json:"conversation_id"`
}

// MarkRead handles mark conversation as read request
func (h *ConversationHandler) MarkRead(ctx context.Context, c *app.RequestContext) {
	userId := middleware.GetUserId(c)
	if userId == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrUnauthorized)
		return
	}

	var req MarkReadRequest
	if err := c.BindAndValidate(&req); err != nil {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return
	}

	if err := h.directory.MarkRead(ctx, userId, req.ConversationId); err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, nil)
}

// MemberRequest represents add/remove member request
type MemberRequest struct {
	ConversationId int64  `json:"conversation_id"`
	UserId         string `json:"user_id"`
}

// AddMember handles add member request
func (h *ConversationHandler) AddMember(ctx context.Context, c *app.RequestContext) {
	userId := middleware.GetUserId(c)
	if userId == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrUnauthorized)
		return
	}

	var req MemberRequest
	if err := c.BindAndValidate(&req); err != nil {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return
	}

	if err := h.conversations.AddMember(ctx, userId, req.ConversationId, req.UserId); err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, nil)
}

// RemoveMember handles remove member request
func (h *ConversationHandler) RemoveMember(ctx context.Context, c *app.RequestContext) {
	userId := middleware.GetUserId(c)
	if userId == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrUnauthorized)
		return
	}

	var req MemberRequest
	if err := c.BindAndValidate(&req); err != nil {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return
	}

	if err := h.conversations.RemoveMember(ctx, userId, req.ConversationId, req.UserId); err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, nil)
}

// ChangeRoleRequest represents change role request
type ChangeRoleRequest struct {
	ConversationId int64           `json:"conversation_id"`
	UserId         string          `json:"user_id"`
	Role           string          `json:"role"`
	Capabilities   map[string]bool `json:"capabilities,omitempty"`
}

// ChangeRole handles change member role request
func (h *ConversationHandler) ChangeRole(ctx context.Context, c *app.RequestContext) {
	userId := middleware.GetUserId(c)
	if userId == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrUnauthorized)
		return
	}

	var req ChangeRoleRequest
	if err := c.BindAndValidate(&req); err != nil {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return
	}

	err := h.conversations.ChangeRole(ctx, userId, req.ConversationId, &service.ChangeRoleRequest{
		UserId:       req.UserId,
		Role:         req.Role,
		Capabilities: req.Capabilities,
	})
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, nil)
}
