package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mbeoliero/kit/log"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/entity"
	"github.com/parleyhq/parley/internal/service"
	"github.com/parleyhq/parley/pkg/constant"
	"github.com/parleyhq/parley/pkg/errcode"
	"github.com/parleyhq/parley/pkg/jwt"
	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
)

// WsServer is the WebSocket server. It owns the connection registry
// and the call engine, and implements service.Broadcaster so the
// services can fan events out without knowing about sockets.
type WsServer struct {
	upgrader       *websocket.Upgrader
	cfg            *config.Config
	registry       *ConnRegistry
	calls          *CallEngine
	registerChan   chan *Client
	unregisterChan chan *Client

	stores        service.Stores
	directory     *service.DirectoryService
	messages      *service.MessageService
	conversations *service.ConversationService
	pins          *service.PinService

	onlineUserNum atomic.Int64
	onlineConnNum atomic.Int64
	maxConnNum    int64
}

// NewWsServer creates a new WebSocket server
func NewWsServer(cfg *config.Config, rdb *redis.Client, stores service.Stores,
	directory *service.DirectoryService, messages *service.MessageService,
	conversations *service.ConversationService, pins *service.PinService) *WsServer {

	upgrader := &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.Server.AllowedOrigins),
	}

	server := &WsServer{
		upgrader:       upgrader,
		cfg:            cfg,
		registry:       NewConnRegistry(rdb),
		registerChan:   make(chan *Client, 1000),
		unregisterChan: make(chan *Client, 1000),
		stores:         stores,
		directory:      directory,
		messages:       messages,
		conversations:  conversations,
		pins:           pins,
		maxConnNum:     cfg.WebSocket.MaxConnNum,
	}
	server.calls = NewCallEngine(server)

	return server
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		return lo.Contains(allowed, r.Header.Get("Origin"))
	}
}

// Run starts the WebSocket server event loop
func (s *WsServer) Run(ctx context.Context) {
	go s.eventLoop(ctx)
}

// eventLoop handles client registration and unregistration
func (s *WsServer) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case client := <-s.registerChan:
			s.registerClient(ctx, client)
		case client := <-s.unregisterChan:
			s.unregisterClient(ctx, client)
		}
	}
}

// registerClient registers a client and runs the connect bootstrap:
// join the rooms of every conversation the user belongs to, push the
// full conversation list, and announce the online transition when
// this is the user's first connection.
func (s *WsServer) registerClient(ctx context.Context, client *Client) {
	first := s.registry.Register(ctx, client)
	s.onlineConnNum.Add(1)
	if first {
		s.onlineUserNum.Add(1)
	}

	memberships, err := s.stores.Memberships.ListUserMemberships(ctx, client.UserId)
	if err != nil {
		log.CtxWarn(ctx, "bootstrap: list memberships failed: user_id=%s, error=%v", client.UserId, err)
		memberships = nil
	}
	for _, m := range memberships {
		s.registry.Join(constant.ConversationRoom(m.ConversationId), client)
	}

	if items, err := s.directory.ListConversations(ctx, client.UserId); err == nil {
		if perr := client.Push(constant.EventConversationList, items); perr != nil {
			log.CtxDebug(ctx, "bootstrap: push conversation list failed: user_id=%s, error=%v", client.UserId, perr)
		}
	}

	if first {
		s.broadcastPresence(ctx, client.UserId, true, 0)
	}

	log.CtxInfo(ctx, "client registered: user_id=%s, device_id=%s, conn_id=%s, first=%v, online_users=%d, online_conns=%d",
		client.UserId, client.DeviceId, client.ConnId, first, s.onlineUserNum.Load(), s.onlineConnNum.Load())
}

// unregisterClient unregisters a client. Call participation goes
// first so the roster reflects the disconnect, then room and registry
// state. The last connection persists last-seen and flips presence.
func (s *WsServer) unregisterClient(ctx context.Context, client *Client) {
	s.calls.LeaveAllForConn(ctx, client.UserId, client.ConnId)

	last := s.registry.Unregister(ctx, client)
	s.onlineConnNum.Add(-1)
	if last {
		s.onlineUserNum.Add(-1)

		lastSeen := entity.NowUnixMilli()
		if err := s.stores.Users.TouchLastSeen(ctx, client.UserId, lastSeen); err != nil {
			log.CtxWarn(ctx, "touch last seen failed: user_id=%s, error=%v", client.UserId, err)
		}
		s.broadcastPresence(ctx, client.UserId, false, lastSeen)
	}

	log.CtxInfo(ctx, "client unregistered: user_id=%s, conn_id=%s, user_offline=%v, online_users=%d, online_conns=%d",
		client.UserId, client.ConnId, last, s.onlineUserNum.Load(), s.onlineConnNum.Load())
}

// broadcastPresence announces a presence transition to everyone who
// shares a conversation with the user, each connection at most once
func (s *WsServer) broadcastPresence(ctx context.Context, userId string, online bool, lastSeenAt int64) {
	memberships, err := s.stores.Memberships.ListUserMemberships(ctx, userId)
	if err != nil {
		log.CtxWarn(ctx, "presence: list memberships failed: user_id=%s, error=%v", userId, err)
		return
	}

	push := &PresencePush{UserId: userId, Online: online, LastSeenAt: lastSeenAt}
	seen := make(map[string]struct{})
	for _, m := range memberships {
		for _, c := range s.registry.RoomClients(constant.ConversationRoom(m.ConversationId)) {
			if c.UserId == userId {
				continue
			}
			if _, dup := seen[c.ConnId]; dup {
				continue
			}
			seen[c.ConnId] = struct{}{}
			if err := c.Push(constant.EventPresenceUpdate, push); err != nil {
				log.CtxDebug(ctx, "presence push failed: conn_id=%s, error=%v", c.ConnId, err)
			}
		}
	}
}

// UnregisterClient queues client for unregistration
func (s *WsServer) UnregisterClient(client *Client) {
	select {
	case s.unregisterChan <- client:
	default:
		log.Warn("unregister channel full: user_id=%s", client.UserId)
	}
}

// HandleConnection handles a new WebSocket connection
func (s *WsServer) HandleConnection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if s.onlineConnNum.Load() >= s.maxConnNum {
		http.Error(w, errcode.ErrConnOverLimit.Msg, http.StatusServiceUnavailable)
		return
	}

	token := r.URL.Query().Get(QueryToken)
	userId := r.URL.Query().Get(QueryUserId)
	deviceId := r.URL.Query().Get(QueryDeviceId)

	if token == "" || userId == "" {
		http.Error(w, "missing required parameters", http.StatusBadRequest)
		return
	}

	claims, err := jwt.ValidateToken(token, s.cfg.JWT.Secret, userId)
	if err != nil {
		log.CtxDebug(ctx, "token validation failed: user_id=%s, error=%v", userId, err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if deviceId == "" {
		deviceId = claims.DeviceId
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.CtxWarn(ctx, "websocket upgrade failed: %v", err)
		return
	}

	connId := uuid.New().String()
	wsConn := NewWebSocketClientConn(conn, s.cfg.WebSocket.MaxMessageSize,
		s.cfg.WebSocket.PongWait, s.cfg.WebSocket.PingPeriod, s.cfg.WebSocket.WriteChannelSize)
	client := NewClient(wsConn, claims.UserId, deviceId, connId, s)

	s.registerChan <- client
	client.Start()
}

// ========== service.Broadcaster ==========

// RoomBroadcast sends one payload to every connection in a room
func (s *WsServer) RoomBroadcast(ctx context.Context, room, event string, payload interface{}) {
	s.roomBroadcastExcept(ctx, room, "", event, payload)
}

func (s *WsServer) roomBroadcastExcept(ctx context.Context, room, exceptConnId, event string, payload interface{}) {
	for _, c := range s.registry.RoomClients(room) {
		if exceptConnId != "" && c.ConnId == exceptConnId {
			continue
		}
		if err := c.Push(event, payload); err != nil {
			log.CtxDebug(ctx, "room push failed: room=%s, conn_id=%s, error=%v", room, c.ConnId, err)
		}
	}
}

// RoomBroadcastEach renders the payload once per recipient user and
// delivers it to each of their connections in the room. A nil render
// result skips the user.
func (s *WsServer) RoomBroadcastEach(ctx context.Context, room, event string, render func(viewerId string) interface{}) {
	byUser := lo.GroupBy(s.registry.RoomClients(room), func(c *Client) string { return c.UserId })
	for viewerId, clients := range byUser {
		payload := render(viewerId)
		if payload == nil {
			continue
		}
		for _, c := range clients {
			if err := c.Push(event, payload); err != nil {
				log.CtxDebug(ctx, "room push failed: room=%s, conn_id=%s, error=%v", room, c.ConnId, err)
			}
		}
	}
}

// PushToUser sends an event to every connection of a user
func (s *WsServer) PushToUser(ctx context.Context, userId, event string, payload interface{}) {
	for _, c := range s.registry.UserClients(userId) {
		if err := c.Push(event, payload); err != nil {
			log.CtxDebug(ctx, "user push failed: user_id=%s, conn_id=%s, error=%v", userId, c.ConnId, err)
		}
	}
}

// AttachToConversation joins all of a user's connections to a
// conversation's room
func (s *WsServer) AttachToConversation(ctx context.Context, conversationId int64, userId string) {
	for _, c := range s.registry.UserClients(userId) {
		s.registry.Join(constant.ConversationRoom(conversationId), c)
	}
}

// DetachFromConversation evicts a user from a conversation: out of
// any active call first, then out of the conversation and call rooms
func (s *WsServer) DetachFromConversation(ctx context.Context, conversationId int64, userId string) {
	s.calls.ForceLeave(ctx, conversationId, userId)
	s.registry.LeaveUser(constant.CallRoom(conversationId), userId)
	s.registry.LeaveUser(constant.ConversationRoom(conversationId), userId)
}

// ========== gateway.Emitter ==========

// EmitToUser delivers a call event to a user's connections
func (s *WsServer) EmitToUser(ctx context.Context, userId, event string, payload interface{}) {
	s.PushToUser(ctx, userId, event, payload)
}

// EmitToRoom delivers a call event to a room
func (s *WsServer) EmitToRoom(ctx context.Context, room, event string, payload interface{}) {
	s.RoomBroadcast(ctx, room, event, payload)
}

// ========== Event Handlers ==========

// HandleRead handles a read marker update
func (s *WsServer) HandleRead(ctx context.Context, client *Client, req *WSRequest) ([]byte, error) {
	var readReq ReadReq
	if err := json.Unmarshal(req.Data, &readReq); err != nil {
		return nil, errcode.ErrInvalidParam
	}
	return nil, s.directory.MarkRead(ctx, client.UserId, readReq.ConversationId)
}

// HandleTyping relays a typing indicator to the conversation room,
// excluding the sender's own connection
func (s *WsServer) HandleTyping(ctx context.Context, client *Client, req *WSRequest) ([]byte, error) {
	var typingReq TypingReq
	if err := json.Unmarshal(req.Data, &typingReq); err != nil {
		return nil, errcode.ErrInvalidParam
	}

	room := constant.ConversationRoom(typingReq.ConversationId)
	if !s.registry.InRoom(room, client.ConnId) {
		return nil, errcode.ErrNotInRoom
	}

	s.roomBroadcastExcept(ctx, room, client.ConnId, constant.EventTyping, &TypingPush{
		ConversationId: typingReq.ConversationId,
		UserId:         client.UserId,
		Typing:         req.Event == EventTypingStart,
	})
	return nil, nil
}

// HandleMessageCreate handles message send
func (s *WsServer) HandleMessageCreate(ctx context.Context, client *Client, req *WSRequest) ([]byte, error) {
	var sendReq service.SendMessageRequest
	if err := json.Unmarshal(req.Data, &sendReq); err != nil {
		return nil, errcode.ErrInvalidParam
	}

	msg, err := s.messages.SendMessage(ctx, client.UserId, &sendReq)
	if err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}

// HandleMessageUpdate handles message edit
func (s *WsServer) HandleMessageUpdate(ctx context.Context, client *Client, req *WSRequest) ([]byte, error) {
	var editReq MessageUpdateReq
	if err := json.Unmarshal(req.Data, &editReq); err != nil {
		return nil, errcode.ErrInvalidParam
	}

	msg, err := s.messages.EditMessage(ctx, client.UserId, editReq.MessageId, editReq.Content)
	if err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}

// HandleMessageDelete handles message deletion
func (s *WsServer) HandleMessageDelete(ctx context.Context, client *Client, req *WSRequest) ([]byte, error) {
	var delReq MessageDeleteReq
	if err := json.Unmarshal(req.Data, &delReq); err != nil {
		return nil, errcode.ErrInvalidParam
	}
	return nil, s.messages.DeleteMessage(ctx, client.UserId, delReq.MessageId)
}

// HandleMessageReact handles reaction toggle
func (s *WsServer) HandleMessageReact(ctx context.Context, client *Client, req *WSRequest) ([]byte, error) {
	var reactReq MessageReactReq
	if err := json.Unmarshal(req.Data, &reactReq); err != nil {
		return nil, errcode.ErrInvalidParam
	}

	msg, err := s.messages.ReactMessage(ctx, client.UserId, reactReq.MessageId, reactReq.Emoji)
	if err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}

// HandleMessageFavorite handles favorite toggle
func (s *WsServer) HandleMessageFavorite(ctx context.Context, client *Client, req *WSRequest) ([]byte, error) {
	var favReq MessageFavoriteReq
	if err := json.Unmarshal(req.Data, &favReq); err != nil {
		return nil, errcode.ErrInvalidParam
	}

	msg, err := s.messages.ToggleFavorite(ctx, client.UserId, favReq.MessageId)
	if err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}

// HandleMessageForward handles message forwarding
func (s *WsServer) HandleMessageForward(ctx context.Context, client *Client, req *WSRequest) ([]byte, error) {
	var fwdReq service.ForwardMessageRequest
	if err := json.Unmarshal(req.Data, &fwdReq); err != nil {
		return nil, errcode.ErrInvalidParam
	}

	msg, err := s.messages.ForwardMessage(ctx, client.UserId, &fwdReq)
	if err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}

// HandlePinAdd handles pinning a message
func (s *WsServer) HandlePinAdd(ctx context.Context, client *Client, req *WSRequest) ([]byte, error) {
	var pinReq PinReq
	if err := json.Unmarshal(req.Data, &pinReq); err != nil {
		return nil, errcode.ErrInvalidParam
	}
	return nil, s.pins.Pin(ctx, client.UserId, pinReq.ConversationId, pinReq.MessageId)
}

// HandlePinRemove handles unpinning a message
func (s *WsServer) HandlePinRemove(ctx context.Context, client *Client, req *WSRequest) ([]byte, error) {
	var pinReq PinReq
	if err := json.Unmarshal(req.Data, &pinReq); err != nil {
		return nil, errcode.ErrInvalidParam
	}
	return nil, s.pins.Unpin(ctx, client.UserId, pinReq.ConversationId, pinReq.MessageId)
}

// HandleConversationCreate handles conversation creation
func (s *WsServer) HandleConversationCreate(ctx context.Context, client *Client, req *WSRequest) ([]byte, error) {
	var createReq service.CreateConversationRequest
	if err := json.Unmarshal(req.Data, &createReq); err != nil {
		return nil, errcode.ErrInvalidParam
	}

	item, err := s.conversations.CreateConversation(ctx, client.UserId, &createReq)
	if err != nil {
		return nil, err
	}
	return json.Marshal(item)
}

// HandleConversationUpdate handles conversation settings changes
func (s *WsServer) HandleConversationUpdate(ctx context.Context, client *Client, req *WSRequest) ([]byte, error) {
	var updateReq ConversationUpdateReq
	if err := json.Unmarshal(req.Data, &updateReq); err != nil {
		return nil, errcode.ErrInvalidParam
	}

	return nil, s.conversations.UpdateConversation(ctx, client.UserId, updateReq.ConversationId, &service.UpdateConversationRequest{
		Title:       updateReq.Title,
		Description: updateReq.Description,
		Private:     updateReq.Private,
	})
}

// HandleMemberAdd handles adding a member
func (s *WsServer) HandleMemberAdd(ctx context.Context, client *Client, req *WSRequest) ([]byte, error) {
	var memberReq MemberReq
	if err := json.Unmarshal(req.Data, &memberReq); err != nil {
		return nil, errcode.ErrInvalidParam
	}
	return nil, s.conversations.AddMember(ctx, client.UserId, memberReq.ConversationId, memberReq.UserId)
}

// HandleMemberRemove handles removing a member
func (s *WsServer) HandleMemberRemove(ctx context.Context, client *Client, req *WSRequest) ([]byte, error) {
	var memberReq MemberReq
	if err := json.Unmarshal(req.Data, &memberReq); err != nil {
		return nil, errcode.ErrInvalidParam
	}
	return nil, s.conversations.RemoveMember(ctx, client.UserId, memberReq.ConversationId, memberReq.UserId)
}

// HandleRoleChange handles a role change
func (s *WsServer) HandleRoleChange(ctx context.Context, client *Client, req *WSRequest) ([]byte, error) {
	var roleReq RoleChangeReq
	if err := json.Unmarshal(req.Data, &roleReq); err != nil {
		return nil, errcode.ErrInvalidParam
	}

	return nil, s.conversations.ChangeRole(ctx, client.UserId, roleReq.ConversationId, &service.ChangeRoleRequest{
		UserId:       roleReq.UserId,
		Role:         roleReq.Role,
		Capabilities: roleReq.Capabilities,
	})
}

// HandleCallJoin handles joining (or starting) a call. Membership is
// re-checked against the store; room state alone is not trusted.
func (s *WsServer) HandleCallJoin(ctx context.Context, client *Client, req *WSRequest) ([]byte, error) {
	var joinReq CallJoinReq
	if err := json.Unmarshal(req.Data, &joinReq); err != nil {
		return nil, errcode.ErrInvalidParam
	}

	if _, _, err := s.directory.RequireMembership(ctx, joinReq.ConversationId, client.UserId); err != nil {
		return nil, err
	}

	user, err := s.stores.Users.GetUser(ctx, client.UserId)
	if err != nil {
		log.CtxWarn(ctx, "call join: get user failed: user_id=%s, error=%v", client.UserId, err)
	}

	roster, created := s.calls.Join(ctx, joinReq.ConversationId, client, user, joinReq.Muted, joinReq.Sharing)
	s.registry.Join(constant.CallRoom(joinReq.ConversationId), client)

	if created {
		s.roomBroadcastExcept(ctx, constant.ConversationRoom(joinReq.ConversationId), client.ConnId,
			constant.EventCallIncoming, roster)
	}

	return json.Marshal(roster)
}

// HandleCallLeave handles leaving a call from one connection
func (s *WsServer) HandleCallLeave(ctx context.Context, client *Client, req *WSRequest) ([]byte, error) {
	var leaveReq CallLeaveReq
	if err := json.Unmarshal(req.Data, &leaveReq); err != nil {
		return nil, errcode.ErrInvalidParam
	}

	s.calls.Leave(ctx, leaveReq.ConversationId, client.UserId, client.ConnId)
	s.registry.Leave(constant.CallRoom(leaveReq.ConversationId), client)
	return nil, nil
}

// HandleCallState handles muted/sharing state changes
func (s *WsServer) HandleCallState(ctx context.Context, client *Client, req *WSRequest) ([]byte, error) {
	var stateReq CallStateReq
	if err := json.Unmarshal(req.Data, &stateReq); err != nil {
		return nil, errcode.ErrInvalidParam
	}

	if err := s.calls.SetState(ctx, stateReq.ConversationId, client.UserId, stateReq.Muted, stateReq.Sharing); err != nil {
		return nil, errcode.ErrNotInCall
	}
	return nil, nil
}

// HandleCallRelay relays an opaque signaling payload, either to one
// target user or to everyone else in the call room. The payload is
// never inspected.
func (s *WsServer) HandleCallRelay(ctx context.Context, client *Client, req *WSRequest) ([]byte, error) {
	var relayReq CallRelayReq
	if err := json.Unmarshal(req.Data, &relayReq); err != nil {
		return nil, errcode.ErrInvalidParam
	}

	if _, _, err := s.directory.RequireMembership(ctx, relayReq.ConversationId, client.UserId); err != nil {
		return nil, err
	}

	push := &CallRelayPush{
		ConversationId: relayReq.ConversationId,
		FromUserId:     client.UserId,
		Payload:        relayReq.Payload,
	}

	if relayReq.TargetUserId != "" {
		s.PushToUser(ctx, relayReq.TargetUserId, req.Event, push)
		return nil, nil
	}

	if !s.calls.InCall(relayReq.ConversationId, client.UserId) {
		return nil, errcode.ErrNotInCall
	}
	s.roomBroadcastExcept(ctx, constant.CallRoom(relayReq.ConversationId), client.ConnId, req.Event, push)
	return nil, nil
}

// IsUserOnline reports whether the user has any live connection,
// locally or on another instance via Redis
func (s *WsServer) IsUserOnline(ctx context.Context, userId string) bool {
	return s.registry.IsOnline(ctx, userId)
}

// GetOnlineUserCount returns online user count
func (s *WsServer) GetOnlineUserCount() int64 {
	return s.onlineUserNum.Load()
}

// GetOnlineConnCount returns online connection count
func (s *WsServer) GetOnlineConnCount() int64 {
	return s.onlineConnNum.Load()
}
