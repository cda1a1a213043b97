package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/parleyhq/parley/pkg/constant"
	"github.com/redis/go-redis/v9"
)

// ConnRegistry tracks every live connection, the per-user connection
// sets they merge into, and the broadcast rooms each connection has
// joined. Presence is derived from it: a user is online while at
// least one of their connections is registered.
type ConnRegistry struct {
	mu    sync.RWMutex
	users map[string][]*Client            // userId -> connections
	conns map[string]*Client              // connId -> connection
	rooms map[string]map[string]*Client   // room -> connId -> connection
	rdb   *redis.Client
}

// NewConnRegistry creates a new ConnRegistry
func NewConnRegistry(rdb *redis.Client) *ConnRegistry {
	return &ConnRegistry{
		users: make(map[string][]*Client),
		conns: make(map[string]*Client),
		rooms: make(map[string]map[string]*Client),
		rdb:   rdb,
	}
}

// Register registers a client. Returns true when it is the user's
// first live connection, which is the online transition.
func (r *ConnRegistry) Register(ctx context.Context, client *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	first := len(r.users[client.UserId]) == 0
	r.users[client.UserId] = append(r.users[client.UserId], client)
	r.conns[client.ConnId] = client

	r.setOnline(ctx, client.UserId)
	return first
}

// Unregister removes a client and its room entries. Returns true when
// it was the user's last live connection, which is the offline
// transition.
func (r *ConnRegistry) Unregister(ctx context.Context, client *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	clients, exists := r.users[client.UserId]
	if !exists {
		return false
	}

	kept := make([]*Client, 0, len(clients))
	for _, c := range clients {
		if c.ConnId != client.ConnId {
			kept = append(kept, c)
		}
	}
	delete(r.conns, client.ConnId)

	for room, members := range r.rooms {
		delete(members, client.ConnId)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}

	if len(kept) == 0 {
		delete(r.users, client.UserId)
		r.setOffline(ctx, client.UserId)
		return true
	}

	r.users[client.UserId] = kept
	return false
}

// Join adds a connection to a room
func (r *ConnRegistry) Join(room string, client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, exists := r.rooms[room]
	if !exists {
		members = make(map[string]*Client)
		r.rooms[room] = members
	}
	members[client.ConnId] = client
}

// Leave removes a connection from a room
func (r *ConnRegistry) Leave(room string, client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, exists := r.rooms[room]
	if !exists {
		return
	}
	delete(members, client.ConnId)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
}

// LeaveUser removes every connection of a user from a room
func (r *ConnRegistry) LeaveUser(room, userId string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, exists := r.rooms[room]
	if !exists {
		return
	}
	for connId, c := range members {
		if c.UserId == userId {
			delete(members, connId)
		}
	}
	if len(members) == 0 {
		delete(r.rooms, room)
	}
}

// InRoom reports whether a connection has joined a room
func (r *ConnRegistry) InRoom(room, connId string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, exists := r.rooms[room]
	if !exists {
		return false
	}
	_, ok := members[connId]
	return ok
}

// RoomClients returns a snapshot of all connections in a room
func (r *ConnRegistry) RoomClients(room string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, exists := r.rooms[room]
	if !exists {
		return nil
	}
	clients := make([]*Client, 0, len(members))
	for _, c := range members {
		clients = append(clients, c)
	}
	return clients
}

// UserClients returns a snapshot of a user's connections
func (r *ConnRegistry) UserClients(userId string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients, exists := r.users[userId]
	if !exists {
		return nil
	}
	out := make([]*Client, len(clients))
	copy(out, clients)
	return out
}

// HasConnection checks if user has any local connection
func (r *ConnRegistry) HasConnection(userId string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userId]) > 0
}

// OnlineUserCount returns the number of locally online users
func (r *ConnRegistry) OnlineUserCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

// OnlineConnCount returns the total number of local connections
func (r *ConnRegistry) OnlineConnCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// IsOnline checks if user is online (checks Redis for distributed support)
func (r *ConnRegistry) IsOnline(ctx context.Context, userId string) bool {
	if r.HasConnection(userId) {
		return true
	}

	if r.rdb != nil {
		key := fmt.Sprintf(constant.RedisKeyOnline(), userId)
		exists, _ := r.rdb.Exists(ctx, key).Result()
		return exists > 0
	}

	return false
}

// setOnline marks user as online in Redis
func (r *ConnRegistry) setOnline(ctx context.Context, userId string) {
	if r.rdb == nil {
		return
	}
	key := fmt.Sprintf(constant.RedisKeyOnline(), userId)
	r.rdb.Set(ctx, key, "1", 60*time.Second)
}

// setOffline marks user as offline in Redis
func (r *ConnRegistry) setOffline(ctx context.Context, userId string) {
	if r.rdb == nil {
		return
	}
	key := fmt.Sprintf(constant.RedisKeyOnline(), userId)
	r.rdb.Del(ctx, key)
}

// RefreshOnline refreshes the online status TTL
func (r *ConnRegistry) RefreshOnline(ctx context.Context, userId string) {
	if r.rdb == nil {
		return
	}
	if r.HasConnection(userId) {
		key := fmt.Sprintf(constant.RedisKeyOnline(), userId)
		r.rdb.Expire(ctx, key, 60*time.Second)
	}
}
