package gateway

import (
	"context"
	"sync"
	"testing"

	"github.com/parleyhq/parley/internal/entity"
	"github.com/parleyhq/parley/pkg/constant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type emitRecord struct {
	Room    string
	UserId  string
	Event   string
	Payload interface{}
}

// fakeEmitter records call events instead of delivering them
type fakeEmitter struct {
	mu    sync.Mutex
	emits []emitRecord
}

func (f *fakeEmitter) EmitToUser(ctx context.Context, userId, event string, payload interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emits = append(f.emits, emitRecord{UserId: userId, Event: event, Payload: payload})
}

func (f *fakeEmitter) EmitToRoom(ctx context.Context, room, event string, payload interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emits = append(f.emits, emitRecord{Room: room, Event: event, Payload: payload})
}

func (f *fakeEmitter) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.emits))
	for _, e := range f.emits {
		out = append(out, e.Event)
	}
	return out
}

func TestCallJoinAndAnnounce(t *testing.T) {
	emitter := &fakeEmitter{}
	engine := NewCallEngine(emitter)
	ctx := context.Background()
	alice := &entity.User{Id: "alice", Nickname: "Alice"}

	roster, created := engine.Join(ctx, 7, newTestClient("alice", "conn-1"), alice, true, false)
	assert.True(t, created)
	require.Len(t, roster.Participants, 1)
	assert.Equal(t, "alice", roster.StartedBy)
	assert.Equal(t, "alice", roster.Participants[0].UserId)
	assert.Equal(t, "Alice", roster.Participants[0].Nickname)
	assert.True(t, roster.Participants[0].Muted)

	require.Equal(t, []string{constant.EventCallUserJoined}, emitter.events())
	assert.Equal(t, constant.CallRoom(7), emitter.emits[0].Room)

	// A second user joins the existing call
	roster, created = engine.Join(ctx, 7, newTestClient("bob", "conn-2"), nil, false, false)
	assert.False(t, created)
	require.Len(t, roster.Participants, 2)
	assert.Equal(t, "alice", roster.StartedBy)
	require.Len(t, emitter.emits, 2)
}

func TestCallSecondDeviceMerges(t *testing.T) {
	emitter := &fakeEmitter{}
	engine := NewCallEngine(emitter)
	ctx := context.Background()

	engine.Join(ctx, 7, newTestClient("alice", "conn-1"), nil, false, false)
	roster, created := engine.Join(ctx, 7, newTestClient("alice", "conn-2"), nil, false, false)

	assert.False(t, created)
	assert.Len(t, roster.Participants, 1)
	// No second join announcement for the same participant
	assert.Len(t, emitter.emits, 1)

	// Leaving on one device keeps the participant in the call
	assert.False(t, engine.Leave(ctx, 7, "alice", "conn-1"))
	assert.True(t, engine.InCall(7, "alice"))

	assert.True(t, engine.Leave(ctx, 7, "alice", "conn-2"))
	assert.False(t, engine.InCall(7, "alice"))
	assert.Equal(t, []string{constant.EventCallUserJoined, constant.EventCallUserLeft}, emitter.events())

	// The call ended with its last participant
	assert.Nil(t, engine.Roster(7))
}

func TestCallForceLeave(t *testing.T) {
	emitter := &fakeEmitter{}
	engine := NewCallEngine(emitter)
	ctx := context.Background()

	engine.Join(ctx, 7, newTestClient("alice", "conn-1"), nil, false, false)
	engine.Join(ctx, 7, newTestClient("bob", "conn-2"), nil, false, false)
	engine.Join(ctx, 7, newTestClient("bob", "conn-3"), nil, false, false)

	// Eviction clears every device at once
	assert.True(t, engine.ForceLeave(ctx, 7, "bob"))
	assert.False(t, engine.InCall(7, "bob"))
	assert.True(t, engine.InCall(7, "alice"))

	assert.False(t, engine.ForceLeave(ctx, 7, "bob"))
	assert.False(t, engine.ForceLeave(ctx, 99, "alice"))
}

func TestCallLeaveAllForConn(t *testing.T) {
	emitter := &fakeEmitter{}
	engine := NewCallEngine(emitter)
	ctx := context.Background()

	engine.Join(ctx, 7, newTestClient("alice", "conn-1"), nil, false, false)
	engine.Join(ctx, 8, newTestClient("alice", "conn-1"), nil, false, false)
	engine.Join(ctx, 7, newTestClient("alice", "conn-2"), nil, false, false)

	// The disconnecting device leaves both calls; the second device
	// keeps the first call alive
	engine.LeaveAllForConn(ctx, "alice", "conn-1")
	assert.True(t, engine.InCall(7, "alice"))
	assert.False(t, engine.InCall(8, "alice"))
}

func TestCallSetState(t *testing.T) {
	emitter := &fakeEmitter{}
	engine := NewCallEngine(emitter)
	ctx := context.Background()

	muted := true
	err := engine.SetState(ctx, 7, "alice", &muted, nil)
	assert.Equal(t, ErrNotInCall, err)

	engine.Join(ctx, 7, newTestClient("alice", "conn-1"), nil, false, false)
	require.NoError(t, engine.SetState(ctx, 7, "alice", &muted, nil))

	roster := engine.Roster(7)
	require.NotNil(t, roster)
	assert.True(t, roster.Participants[0].Muted)
	assert.False(t, roster.Participants[0].Sharing)

	sharing := true
	require.NoError(t, engine.SetState(ctx, 7, "alice", nil, &sharing))
	roster = engine.Roster(7)
	assert.True(t, roster.Participants[0].Muted)
	assert.True(t, roster.Participants[0].Sharing)

	last := emitter.emits[len(emitter.emits)-1]
	assert.Equal(t, constant.EventCallState, last.Event)
	assert.Equal(t, constant.CallRoom(7), last.Room)

	err = engine.SetState(ctx, 7, "bob", &muted, nil)
	assert.Equal(t, ErrNotInCall, err)
}

func TestCallRosterOrder(t *testing.T) {
	engine := NewCallEngine(&fakeEmitter{})
	ctx := context.Background()

	engine.Join(ctx, 7, newTestClient("carol", "conn-1"), nil, false, false)
	engine.Join(ctx, 7, newTestClient("alice", "conn-2"), nil, false, false)
	engine.Join(ctx, 7, newTestClient("bob", "conn-3"), nil, false, false)

	// Snapshots follow join order, not map order
	roster := engine.Roster(7)
	require.Len(t, roster.Participants, 3)
	assert.Equal(t, "carol", roster.Participants[0].UserId)
	assert.Equal(t, "alice", roster.Participants[1].UserId)
	assert.Equal(t, "bob", roster.Participants[2].UserId)

	// A participant leaving and rejoining moves to the back
	engine.Leave(ctx, 7, "carol", "conn-1")
	engine.Join(ctx, 7, newTestClient("carol", "conn-1"), nil, false, false)
	roster = engine.Roster(7)
	assert.Equal(t, "carol", roster.Participants[2].UserId)
}
