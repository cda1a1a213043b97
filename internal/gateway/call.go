package gateway

import (
	"context"
	"sync"

	"github.com/mbeoliero/kit/log"
	"github.com/parleyhq/parley/internal/entity"
	"github.com/parleyhq/parley/pkg/constant"
)

// Emitter delivers call events. WsServer implements it; tests
// substitute a recording fake.
type Emitter interface {
	EmitToUser(ctx context.Context, userId, event string, payload interface{})
	EmitToRoom(ctx context.Context, room, event string, payload interface{})
}

// RosterEntry is one participant in a call. A user on several devices
// holds a single entry; the connection set underneath it merges.
type RosterEntry struct {
	UserId   string `json:"user_id"`
	Nickname string `json:"nickname"`
	Avatar   string `json:"avatar,omitempty"`
	Color    string `json:"color,omitempty"`
	Muted    bool   `json:"muted"`
	Sharing  bool   `json:"sharing"`
	JoinedAt int64  `json:"joined_at"`

	conns map[string]struct{}
}

// RosterPush is the roster snapshot payload
type RosterPush struct {
	ConversationId int64          `json:"conversation_id"`
	StartedBy      string         `json:"started_by"`
	StartedAt      int64          `json:"started_at"`
	Participants   []*RosterEntry `json:"participants"`
}

type callRoom struct {
	startedBy string
	startedAt int64
	entries   map[string]*RosterEntry
	order     []string // join order, for stable roster snapshots
}

// CallEngine owns per-conversation call rosters. Signaling payloads
// are opaque to it; it only tracks who is in which call and on which
// connections.
type CallEngine struct {
	mu      sync.Mutex
	calls   map[int64]*callRoom
	emitter Emitter
}

// NewCallEngine creates a new CallEngine
func NewCallEngine(emitter Emitter) *CallEngine {
	return &CallEngine{
		calls:   make(map[int64]*callRoom),
		emitter: emitter,
	}
}

// Join adds a connection to a conversation's call, creating the call
// when it does not exist. A second device of a participant merges
// into the existing entry without a re-announcement. Returns the
// roster snapshot and whether the call was newly created.
func (e *CallEngine) Join(ctx context.Context, conversationId int64, client *Client, user *entity.User, muted, sharing bool) (*RosterPush, bool) {
	e.mu.Lock()

	call, exists := e.calls[conversationId]
	created := !exists
	if !exists {
		call = &callRoom{
			startedBy: client.UserId,
			startedAt: entity.NowUnixMilli(),
			entries:   make(map[string]*RosterEntry),
		}
		e.calls[conversationId] = call
	}

	entry, joined := call.entries[client.UserId]
	if !joined {
		entry = &RosterEntry{
			UserId:   client.UserId,
			Muted:    muted,
			Sharing:  sharing,
			JoinedAt: entity.NowUnixMilli(),
			conns:    make(map[string]struct{}),
		}
		if user != nil {
			entry.Nickname = user.Nickname
			entry.Avatar = user.Avatar
			entry.Color = user.Color
		}
		call.entries[client.UserId] = entry
		call.order = append(call.order, client.UserId)
	}
	entry.conns[client.ConnId] = struct{}{}

	roster := e.snapshotLocked(conversationId, call)
	announce := !joined
	announced := *entry
	e.mu.Unlock()

	if announce && e.emitter != nil {
		e.emitter.EmitToRoom(ctx, constant.CallRoom(conversationId), constant.EventCallUserJoined, &announced)
	}
	log.CtxInfo(ctx, "call join: conversation_id=%d, user_id=%s, conn_id=%s, created=%v, new_participant=%v",
		conversationId, client.UserId, client.ConnId, created, announce)

	return roster, created
}

// Leave removes one connection from a call. The participant leaves
// only when their last connection does.
func (e *CallEngine) Leave(ctx context.Context, conversationId int64, userId, connId string) bool {
	e.mu.Lock()

	call, exists := e.calls[conversationId]
	if !exists {
		e.mu.Unlock()
		return false
	}
	entry, joined := call.entries[userId]
	if !joined {
		e.mu.Unlock()
		return false
	}

	delete(entry.conns, connId)
	left := len(entry.conns) == 0
	if left {
		e.removeEntryLocked(conversationId, call, userId)
	}
	e.mu.Unlock()

	if left {
		e.announceLeft(ctx, conversationId, userId)
		log.CtxInfo(ctx, "call leave: conversation_id=%d, user_id=%s", conversationId, userId)
	}
	return left
}

// ForceLeave evicts a participant across all their devices. Used when
// a member is removed from the conversation mid-call.
func (e *CallEngine) ForceLeave(ctx context.Context, conversationId int64, userId string) bool {
	e.mu.Lock()

	call, exists := e.calls[conversationId]
	if !exists {
		e.mu.Unlock()
		return false
	}
	if _, joined := call.entries[userId]; !joined {
		e.mu.Unlock()
		return false
	}

	e.removeEntryLocked(conversationId, call, userId)
	e.mu.Unlock()

	e.announceLeft(ctx, conversationId, userId)
	log.CtxInfo(ctx, "call force leave: conversation_id=%d, user_id=%s", conversationId, userId)
	return true
}

// LeaveAllForConn removes a disconnecting connection from every call
// it is part of
func (e *CallEngine) LeaveAllForConn(ctx context.Context, userId, connId string) {
	e.mu.Lock()
	var affected []int64
	for conversationId, call := range e.calls {
		entry, joined := call.entries[userId]
		if !joined {
			continue
		}
		if _, ok := entry.conns[connId]; !ok {
			continue
		}
		delete(entry.conns, connId)
		if len(entry.conns) == 0 {
			e.removeEntryLocked(conversationId, call, userId)
			affected = append(affected, conversationId)
		}
	}
	e.mu.Unlock()

	for _, conversationId := range affected {
		e.announceLeft(ctx, conversationId, userId)
	}
}

// SetState updates a participant's muted/sharing flags and announces
// the new state to the call
func (e *CallEngine) SetState(ctx context.Context, conversationId int64, userId string, muted, sharing *bool) error {
	e.mu.Lock()

	call, exists := e.calls[conversationId]
	if !exists {
		e.mu.Unlock()
		return ErrNotInCall
	}
	entry, joined := call.entries[userId]
	if !joined {
		e.mu.Unlock()
		return ErrNotInCall
	}

	if muted != nil {
		entry.Muted = *muted
	}
	if sharing != nil {
		entry.Sharing = *sharing
	}
	updated := *entry
	e.mu.Unlock()

	if e.emitter != nil {
		e.emitter.EmitToRoom(ctx, constant.CallRoom(conversationId), constant.EventCallState, &updated)
	}
	return nil
}

// InCall reports whether a user participates in a conversation's call
func (e *CallEngine) InCall(conversationId int64, userId string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	call, exists := e.calls[conversationId]
	if !exists {
		return false
	}
	_, joined := call.entries[userId]
	return joined
}

// Roster returns the current roster snapshot, or nil when no call is
// active
func (e *CallEngine) Roster(conversationId int64) *RosterPush {
	e.mu.Lock()
	defer e.mu.Unlock()

	call, exists := e.calls[conversationId]
	if !exists {
		return nil
	}
	return e.snapshotLocked(conversationId, call)
}

func (e *CallEngine) snapshotLocked(conversationId int64, call *callRoom) *RosterPush {
	participants := make([]*RosterEntry, 0, len(call.entries))
	for _, userId := range call.order {
		if entry, ok := call.entries[userId]; ok {
			copied := *entry
			participants = append(participants, &copied)
		}
	}
	return &RosterPush{
		ConversationId: conversationId,
		StartedBy:      call.startedBy,
		StartedAt:      call.startedAt,
		Participants:   participants,
	}
}

func (e *CallEngine) removeEntryLocked(conversationId int64, call *callRoom, userId string) {
	delete(call.entries, userId)
	for i, id := range call.order {
		if id == userId {
			call.order = append(call.order[:i], call.order[i+1:]...)
			break
		}
	}
	if len(call.entries) == 0 {
		delete(e.calls, conversationId)
		log.Info("call ended: conversation_id=%d", conversationId)
	}
}

func (e *CallEngine) announceLeft(ctx context.Context, conversationId int64, userId string) {
	if e.emitter == nil {
		return
	}
	e.emitter.EmitToRoom(ctx, constant.CallRoom(conversationId), constant.EventCallUserLeft, map[string]interface{}{
		"conversation_id": conversationId,
		"user_id":         userId,
	})
}
