package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/mbeoliero/kit/log"
	"github.com/parleyhq/parley/pkg/constant"
	"github.com/parleyhq/parley/pkg/errcode"
)

// Client represents a connected WebSocket client. One user can hold
// several clients at once, one per device.
type Client struct {
	mu        sync.Mutex
	conn      ClientConn
	UserId    string
	DeviceId  string
	ConnId    string
	server    *WsServer
	closed    atomic.Bool
	closedErr error
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewClient creates a new client
func NewClient(conn ClientConn, userId, deviceId, connId string, server *WsServer) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		conn:     conn,
		UserId:   userId,
		DeviceId: deviceId,
		ConnId:   connId,
		server:   server,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start starts the client message handling
func (c *Client) Start() {
	go c.readLoop()
}

// readLoop continuously reads messages from the connection
func (c *Client) readLoop() {
	defer func() {
		if r := recover(); r != nil {
			c.closedErr = ErrPanic
			log.CtxError(c.ctx, "client read loop panic: user_id=%s, error=%v", c.UserId, r)
		}
		c.close()
	}()

	for {
		message, err := c.conn.ReadMessage()
		if err != nil {
			log.CtxDebug(c.ctx, "read message error: user_id=%s, error=%v", c.UserId, err)
			c.closedErr = err
			return
		}

		if c.closed.Load() {
			c.closedErr = ErrConnClosed
			return
		}

		if err := c.handleMessage(message); err != nil {
			log.CtxWarn(c.ctx, "handle message error: user_id=%s, error=%v", c.UserId, err)
			c.closedErr = err
			return
		}
	}
}

// handleMessage handles a single incoming message
func (c *Client) handleMessage(message []byte) error {
	var req WSRequest
	if err := json.Unmarshal(message, &req); err != nil {
		return c.replyError(&req, ErrInvalidProtocol)
	}

	// Validate sender Id matches authenticated user
	if req.SendId != "" && req.SendId != c.UserId {
		return c.replyError(&req, ErrUserIdMismatch)
	}

	log.CtxDebug(c.ctx, "received message: event=%s, user_id=%s", req.Event, c.UserId)

	var resp []byte
	var err error

	switch req.Event {
	case EventRead:
		resp, err = c.server.HandleRead(c.ctx, c, &req)
	case EventTypingStart, EventTypingStop:
		resp, err = c.server.HandleTyping(c.ctx, c, &req)
	case EventMessageCreate:
		resp, err = c.server.HandleMessageCreate(c.ctx, c, &req)
	case EventMessageUpdate:
		resp, err = c.server.HandleMessageUpdate(c.ctx, c, &req)
	case EventMessageDelete:
		resp, err = c.server.HandleMessageDelete(c.ctx, c, &req)
	case EventMessageReact:
		resp, err = c.server.HandleMessageReact(c.ctx, c, &req)
	case EventMessageFavorite:
		resp, err = c.server.HandleMessageFavorite(c.ctx, c, &req)
	case EventMessageForward:
		resp, err = c.server.HandleMessageForward(c.ctx, c, &req)
	case EventPinAdd:
		resp, err = c.server.HandlePinAdd(c.ctx, c, &req)
	case EventPinRemove:
		resp, err = c.server.HandlePinRemove(c.ctx, c, &req)
	case EventConversationCreate:
		resp, err = c.server.HandleConversationCreate(c.ctx, c, &req)
	case EventConversationUpdate:
		resp, err = c.server.HandleConversationUpdate(c.ctx, c, &req)
	case EventMemberAdd:
		resp, err = c.server.HandleMemberAdd(c.ctx, c, &req)
	case EventMemberRemove:
		resp, err = c.server.HandleMemberRemove(c.ctx, c, &req)
	case EventRoleChange:
		resp, err = c.server.HandleRoleChange(c.ctx, c, &req)
	case EventCallStart, EventCallJoin:
		resp, err = c.server.HandleCallJoin(c.ctx, c, &req)
	case EventCallLeave:
		resp, err = c.server.HandleCallLeave(c.ctx, c, &req)
	case constant.EventCallState:
		resp, err = c.server.HandleCallState(c.ctx, c, &req)
	case constant.EventCallOffer, constant.EventCallAnswer, constant.EventCallIce,
		constant.EventCallSignal, constant.EventCallAudio,
		constant.EventCallAccept, constant.EventCallReject, constant.EventCallBusy:
		resp, err = c.server.HandleCallRelay(c.ctx, c, &req)
	default:
		return c.replyError(&req, ErrInvalidProtocol)
	}

	return c.reply(&req, err, resp)
}

// reply sends a response to the client
func (c *Client) reply(req *WSRequest, err error, data []byte) error {
	resp := WSResponse{
		Event:       req.Event,
		OperationId: req.OperationId,
		Data:        data,
	}

	if err != nil {
		resp.ErrCode, resp.ErrMsg = errToWire(err)
	}

	return c.writeResponse(resp)
}

// replyError sends an error response
func (c *Client) replyError(req *WSRequest, err error) error {
	resp := WSResponse{
		Event:       req.Event,
		OperationId: req.OperationId,
	}
	resp.ErrCode, resp.ErrMsg = errToWire(err)
	return c.writeResponse(resp)
}

func errToWire(err error) (int, string) {
	var e *errcode.Error
	if errors.As(err, &e) {
		return e.Code, e.Msg
	}
	return 1, err.Error()
}

// writeResponse writes a response to the connection
func (c *Client) writeResponse(resp WSResponse) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return nil
	}

	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}

	return c.conn.WriteMessage(data)
}

// Push sends a server-initiated event to the client
func (c *Client) Push(event string, payload interface{}) error {
	if c.closed.Load() {
		return ErrConnClosed
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	return c.writeResponse(WSResponse{Event: event, Data: data})
}

// Close closes the client connection
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return nil
	}

	c.closed.Store(true)
	c.cancel()
	return c.conn.Close()
}

// close handles cleanup when connection is closed
func (c *Client) close() {
	c.Close()
	c.server.UnregisterClient(c)
}

// IsClosed returns whether the client is closed
func (c *Client) IsClosed() bool {
	return c.closed.Load()
}
