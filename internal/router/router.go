package router

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/parleyhq/parley/internal/handler"
	"github.com/parleyhq/parley/internal/middleware"
)

// Handlers holds all HTTP handlers
type Handlers struct {
	User         *handler.UserHandler
	Message      *handler.MessageHandler
	Conversation *handler.ConversationHandler
}

// SetupRouter sets up all routes. The WebSocket endpoint runs on its
// own listener and is not registered here.
func SetupRouter(h *server.Hertz, handlers *Handlers) {
	h.Use(middleware.CORS())

	// Health check
	h.GET("/health", func(ctx context.Context, c *app.RequestContext) {
		c.JSON(consts.StatusOK, map[string]string{"status": "ok"})
	})

	// User routes (auth required)
	userGroup := h.Group("/user", middleware.JWTAuth())
	{
		userGroup.GET("/info/:user_id", handlers.User.GetUserInfo)
	}

	// Conversation routes (auth required)
	convGroup := h.Group("/conversation", middleware.JWTAuth())
	{
		convGroup.GET("/list", handlers.Conversation.List)
		convGroup.GET("/members", handlers.Conversation.Members)
		convGroup.GET("/pinned", handlers.Conversation.Pinned)
		convGroup.POST("/create", handlers.Conversation.Create)
		convGroup.PUT("/update", handlers.Conversation.Update)
		convGroup.POST("/mark_read", handlers.Conversation.MarkRead)
		convGroup.POST("/member/add", handlers.Conversation.AddMember)
		convGroup.POST("/member/remove", handlers.Conversation.RemoveMember)
		convGroup.POST("/member/role", handlers.Conversation.ChangeRole)
	}

	// Message routes (auth required)
	msgGroup := h.Group("/msg", middleware.JWTAuth())
	{
		msgGroup.GET("/history", handlers.Message.History)
		msgGroup.POST("/send", handlers.Message.Send)
		msgGroup.PUT("/edit", handlers.Message.Edit)
		msgGroup.POST("/delete", handlers.Message.Delete)
		msgGroup.POST("/react", handlers.Message.React)
		msgGroup.POST("/favorite", handlers.Message.Favorite)
		msgGroup.POST("/forward", handlers.Message.Forward)
	}
}
