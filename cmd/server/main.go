package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/mbeoliero/kit/log"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/gateway"
	"github.com/parleyhq/parley/internal/handler"
	"github.com/parleyhq/parley/internal/repository"
	"github.com/parleyhq/parley/internal/router"
	"github.com/parleyhq/parley/internal/service"
	"github.com/parleyhq/parley/pkg/constant"
)

func main() {
	ctx := context.TODO()

	// Load configuration
	cfg, err := config.Load("config/config.yaml")
	if err != nil {
		log.CtxError(ctx, "failed to load config: %v", err)
		panic(err)
	}

	log.CtxInfo(ctx, "config loaded: mode=%s", cfg.Server.Mode)

	// Initialize Redis key prefix
	constant.InitRedisKeyPrefix(cfg.Redis.KeyPrefix)
	log.CtxInfo(ctx, "redis key prefix: %s", constant.GetRedisKeyPrefix())

	// Initialize repositories
	repos, err := repository.NewRepositories(cfg)
	if err != nil {
		log.CtxError(ctx, "failed to initialize repositories: %v", err)
		panic(err)
	}
	defer repos.Close()

	// Check database connection
	if err := repos.CheckConnection(ctx); err != nil {
		log.CtxError(ctx, "database connection check failed: %v", err)
		panic(err)
	}
	log.CtxInfo(ctx, "database connection established")

	stores := service.Stores{
		Users:         repos.User,
		Conversations: repos.Conversation,
		Memberships:   repos.Membership,
		Messages:      repos.Message,
		Pins:          repos.Pin,
	}

	// Initialize services
	directory := service.NewDirectoryService(stores)
	messages := service.NewMessageService(stores, directory)
	conversations := service.NewConversationService(stores, directory)
	pins := service.NewPinService(stores, directory, messages)

	// Initialize WebSocket server and bind it as the broadcaster
	wsServer := gateway.NewWsServer(cfg, repos.Redis, stores, directory, messages, conversations, pins)
	directory.SetPusher(wsServer)
	messages.SetPusher(wsServer)
	conversations.SetPusher(wsServer)
	pins.SetPusher(wsServer)

	wsServer.Run(ctx)
	log.CtxInfo(ctx, "websocket server started")

	// WebSocket listener on its own port
	wsMux := http.NewServeMux()
	wsMux.HandleFunc("/ws", wsServer.HandleConnection)
	wsListener := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.WSPort),
		Handler: wsMux,
	}
	go func() {
		log.CtxInfo(ctx, "websocket listening on port %d", cfg.Server.WSPort)
		if err := wsListener.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.CtxError(ctx, "websocket listener error: %v", err)
		}
	}()

	// Initialize handlers
	handlers := &router.Handlers{
		User:         handler.NewUserHandler(repos.User, wsServer),
		Message:      handler.NewMessageHandler(messages),
		Conversation: handler.NewConversationHandler(directory, conversations, pins),
	}

	// Create Hertz server
	h := server.Default(
		server.WithHostPorts(fmt.Sprintf(":%d", cfg.Server.HTTPPort)),
	)

	// Setup routes
	router.SetupRouter(h, handlers)

	log.CtxInfo(ctx, "server starting on port %d", cfg.Server.HTTPPort)

	// Start server in goroutine
	go func() {
		h.Spin()
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.CtxInfo(ctx, "shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := wsListener.Shutdown(shutdownCtx); err != nil {
		log.CtxError(ctx, "websocket listener shutdown error: %v", err)
	}
	if err := h.Shutdown(shutdownCtx); err != nil {
		log.CtxError(ctx, "server shutdown error: %v", err)
	}

	log.CtxInfo(ctx, "server stopped")
}
