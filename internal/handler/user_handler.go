package handler

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/parleyhq/parley/internal/middleware"
	"github.com/parleyhq/parley/internal/service"
	"github.com/parleyhq/parley/pkg/errcode"
	"github.com/parleyhq/parley/pkg/response"
)

// OnlineChecker reports derived presence for a user
type OnlineChecker interface {
	IsUserOnline(ctx context.Context, userId string) bool
}

// UserHandler handles user profile and presence lookups
type UserHandler struct {
	users    service.UserStore
	presence OnlineChecker
}

// NewUserHandler creates a new UserHandler
func NewUserHandler(users service.UserStore, presence OnlineChecker) *UserHandler {
	return &UserHandler{users: users, presence: presence}
}

// GetUserInfo handles get user info request. Presence is derived: a
// user is online while any of their connections is live, and offline
// users carry their persisted last-seen timestamp.
func (h *UserHandler) GetUserInfo(ctx context.Context, c *app.RequestContext) {
	if middleware.GetUserId(c) == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrUnauthorized)
		return
	}

	targetId := c.Param("user_id")
	if targetId == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return
	}

	user, err := h.users.GetUser(ctx, targetId)
	if err != nil {
		response.ErrorWithCode(ctx, c, errcode.ErrInternalServer)
		return
	}
	if user == nil {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return
	}

	info := user.ToUserInfo()
	info.Online = h.presence.IsUserOnline(ctx, targetId)

	response.Success(ctx, c, info)
}
