package service

import (
	"context"
	"sync"

	"github.com/parleyhq/parley/internal/entity"
	"github.com/parleyhq/parley/pkg/constant"
	"github.com/samber/lo"
	"gorm.io/gorm"
)

// fakeStore is an in-memory implementation of every store interface,
// mirroring the repository semantics (nil on absence, duplicate-key
// on double pin, deterministic pin eviction).
type fakeStore struct {
	mu sync.Mutex

	users       map[string]*entity.User
	convs       map[int64]*entity.Conversation
	memberships []*entity.Membership
	messages    map[int64]*entity.Message
	reactions   []*entity.Reaction
	favorites   []*entity.Favorite
	pins        []*entity.Pin

	nextConvId   int64
	nextMsgId    int64
	nextMemberId int64
	nextPinId    int64
	clock        int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:    make(map[string]*entity.User),
		convs:    make(map[int64]*entity.Conversation),
		messages: make(map[int64]*entity.Message),
		clock:    1_000_000,
	}
}

func (f *fakeStore) stores() Stores {
	return Stores{Users: f, Conversations: f, Memberships: f, Messages: f, Pins: f}
}

func (f *fakeStore) tick() int64 {
	f.clock++
	return f.clock
}

func (f *fakeStore) addUser(id, nickname string) *entity.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := &entity.User{Id: id, Nickname: nickname}
	f.users[id] = u
	return u
}

func (f *fakeStore) addConversation(kind, title, creatorId string) *entity.Conversation {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextConvId++
	conv := &entity.Conversation{
		Id:        f.nextConvId,
		Kind:      kind,
		Title:     title,
		CreatorId: creatorId,
		CreatedAt: f.tick(),
		UpdatedAt: f.tick(),
	}
	f.convs[conv.Id] = conv
	return conv
}

func (f *fakeStore) addMembership(conversationId int64, userId, role string) *entity.Membership {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addMembershipLocked(conversationId, userId, role)
}

func (f *fakeStore) addMembershipLocked(conversationId int64, userId, role string) *entity.Membership {
	f.nextMemberId++
	m := &entity.Membership{
		Id:                   f.nextMemberId,
		ConversationId:       conversationId,
		UserId:               userId,
		Role:                 role,
		NotificationsEnabled: true,
		CreatedAt:            f.tick(),
	}
	f.memberships = append(f.memberships, m)
	return m
}

// ========== UserStore ==========

func (f *fakeStore) GetUser(ctx context.Context, id string) (*entity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[id], nil
}

func (f *fakeStore) GetUsers(ctx context.Context, ids []string) (map[string]*entity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]*entity.User, len(ids))
	for _, id := range ids {
		if u, ok := f.users[id]; ok {
			out[id] = u
		}
	}
	return out, nil
}

func (f *fakeStore) TouchLastSeen(ctx context.Context, userId string, ts int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[userId]; ok {
		u.LastSeenAt = ts
	}
	return nil
}

// ========== ConversationStore ==========

func (f *fakeStore) GetConversation(ctx context.Context, id int64) (*entity.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.convs[id], nil
}

func (f *fakeStore) CreateWithMembers(ctx context.Context, conv *entity.Conversation, members []*entity.Membership) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextConvId++
	conv.Id = f.nextConvId
	conv.CreatedAt = f.tick()
	conv.UpdatedAt = conv.CreatedAt
	f.convs[conv.Id] = conv
	for _, m := range members {
		f.nextMemberId++
		m.Id = f.nextMemberId
		m.ConversationId = conv.Id
		m.CreatedAt = f.tick()
		f.memberships = append(f.memberships, m)
	}
	return nil
}

func (f *fakeStore) FindOrCreateDirect(ctx context.Context, creatorId, peerId string) (*entity.Conversation, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := entity.DirectPairKey(creatorId, peerId)
	for _, conv := range f.convs {
		if conv.DirectKey != nil && *conv.DirectKey == key {
			return conv, false, nil
		}
	}

	f.nextConvId++
	conv := &entity.Conversation{
		Id:        f.nextConvId,
		Kind:      constant.ConversationDirect,
		DirectKey: &key,
		CreatorId: creatorId,
		CreatedAt: f.tick(),
	}
	conv.UpdatedAt = conv.CreatedAt
	f.convs[conv.Id] = conv
	f.addMembershipLocked(conv.Id, creatorId, constant.RoleOwner)
	f.addMembershipLocked(conv.Id, peerId, constant.RoleMember)
	return conv, true, nil
}

func (f *fakeStore) UpdateConversation(ctx context.Context, id int64, updates map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.convs[id]
	if !ok {
		return nil
	}
	if v, ok := updates["title"].(string); ok {
		conv.Title = v
	}
	if v, ok := updates["description"].(string); ok {
		conv.Description = v
	}
	if v, ok := updates["private"].(bool); ok {
		conv.Private = v
	}
	conv.UpdatedAt = f.tick()
	return nil
}

func (f *fakeStore) TouchConversation(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if conv, ok := f.convs[id]; ok {
		conv.UpdatedAt = f.tick()
	}
	return nil
}

// ========== MembershipStore ==========

func (f *fakeStore) GetMembership(ctx context.Context, conversationId int64, userId string) (*entity.Membership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.memberships {
		if m.ConversationId == conversationId && m.UserId == userId {
			return m, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) ListMemberships(ctx context.Context, conversationId int64) ([]*entity.Membership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return lo.Filter(f.memberships, func(m *entity.Membership, _ int) bool {
		return m.ConversationId == conversationId
	}), nil
}

func (f *fakeStore) ListUserMemberships(ctx context.Context, userId string) ([]*entity.Membership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return lo.Filter(f.memberships, func(m *entity.Membership, _ int) bool {
		return m.UserId == userId
	}), nil
}

func (f *fakeStore) AddMembership(ctx context.Context, m *entity.Membership) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextMemberId++
	m.Id = f.nextMemberId
	m.CreatedAt = f.tick()
	f.memberships = append(f.memberships, m)
	return nil
}

func (f *fakeStore) UpdateMemberRole(ctx context.Context, conversationId int64, userId, role string, permissions *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.memberships {
		if m.ConversationId == conversationId && m.UserId == userId {
			m.Role = role
			m.Permissions = permissions
		}
	}
	return nil
}

func (f *fakeStore) SetLastReadAt(ctx context.Context, conversationId int64, userId string, ts int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.memberships {
		if m.ConversationId == conversationId && m.UserId == userId {
			m.LastReadAt = &ts
		}
	}
	return nil
}

func (f *fakeStore) RemoveMembership(ctx context.Context, conversationId int64, userId string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.memberships = lo.Filter(f.memberships, func(m *entity.Membership, _ int) bool {
		return !(m.ConversationId == conversationId && m.UserId == userId)
	})
	return nil
}

func (f *fakeStore) CountMembers(ctx context.Context, conversationId int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(lo.CountBy(f.memberships, func(m *entity.Membership) bool {
		return m.ConversationId == conversationId
	})), nil
}

// ========== MessageStore ==========

func (f *fakeStore) CreateMessage(ctx context.Context, msg *entity.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextMsgId++
	msg.Id = f.nextMsgId
	if msg.CreatedAt == 0 {
		msg.CreatedAt = f.tick()
	}
	msg.UpdatedAt = msg.CreatedAt
	f.messages[msg.Id] = msg
	return nil
}

func (f *fakeStore) GetMessage(ctx context.Context, id int64) (*entity.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messages[id], nil
}

func (f *fakeStore) LatestMessage(ctx context.Context, conversationId int64) (*entity.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *entity.Message
	for _, msg := range f.messages {
		if msg.ConversationId != conversationId {
			continue
		}
		if latest == nil || msg.Id > latest.Id {
			latest = msg
		}
	}
	return latest, nil
}

func (f *fakeStore) CountMessagesAfter(ctx context.Context, conversationId int64, since *int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for _, msg := range f.messages {
		if msg.ConversationId != conversationId {
			continue
		}
		if since != nil && msg.CreatedAt <= *since {
			continue
		}
		count++
	}
	return count, nil
}

func (f *fakeStore) ListHistory(ctx context.Context, conversationId int64, beforeId int64, limit int) ([]*entity.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	var msgs []*entity.Message
	for _, msg := range f.messages {
		if msg.ConversationId != conversationId {
			continue
		}
		if beforeId > 0 && msg.Id >= beforeId {
			continue
		}
		msgs = append(msgs, msg)
	}
	// Newest first
	for i := 0; i < len(msgs); i++ {
		for j := i + 1; j < len(msgs); j++ {
			if msgs[j].Id > msgs[i].Id {
				msgs[i], msgs[j] = msgs[j], msgs[i]
			}
		}
	}
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

func (f *fakeStore) UpdateMessageContent(ctx context.Context, id int64, content string, editedAt int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg, ok := f.messages[id]; ok {
		msg.Content = &content
		msg.EditedAt = &editedAt
		msg.UpdatedAt = f.tick()
	}
	return nil
}

func (f *fakeStore) SoftDeleteMessage(ctx context.Context, id int64, deletedAt int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg, ok := f.messages[id]; ok {
		msg.Content = nil
		msg.DeletedAt = &deletedAt
		msg.UpdatedAt = f.tick()
	}
	return nil
}

func (f *fakeStore) ToggleReaction(ctx context.Context, messageId int64, userId, emoji string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	before := len(f.reactions)
	f.reactions = lo.Filter(f.reactions, func(r *entity.Reaction, _ int) bool {
		return !(r.MessageId == messageId && r.UserId == userId && r.Emoji == emoji)
	})
	if len(f.reactions) < before {
		return false, nil
	}
	f.reactions = append(f.reactions, &entity.Reaction{
		Id:        int64(len(f.reactions) + 1),
		MessageId: messageId,
		UserId:    userId,
		Emoji:     emoji,
		CreatedAt: f.tick(),
	})
	return true, nil
}

func (f *fakeStore) ListReactions(ctx context.Context, messageId int64) ([]*entity.Reaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return lo.Filter(f.reactions, func(r *entity.Reaction, _ int) bool {
		return r.MessageId == messageId
	}), nil
}

func (f *fakeStore) ToggleFavorite(ctx context.Context, messageId int64, userId string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	before := len(f.favorites)
	f.favorites = lo.Filter(f.favorites, func(fav *entity.Favorite, _ int) bool {
		return !(fav.MessageId == messageId && fav.UserId == userId)
	})
	if len(f.favorites) < before {
		return false, nil
	}
	f.favorites = append(f.favorites, &entity.Favorite{
		MessageId: messageId,
		UserId:    userId,
		CreatedAt: f.tick(),
	})
	return true, nil
}

func (f *fakeStore) ListFavorites(ctx context.Context, messageId int64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var userIds []string
	for _, fav := range f.favorites {
		if fav.MessageId == messageId {
			userIds = append(userIds, fav.UserId)
		}
	}
	return userIds, nil
}

// ========== PinStore ==========

func (f *fakeStore) ListPins(ctx context.Context, conversationId int64) ([]*entity.Pin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pins := lo.Filter(f.pins, func(p *entity.Pin, _ int) bool {
		return p.ConversationId == conversationId
	})
	for i := 0; i < len(pins); i++ {
		for j := i + 1; j < len(pins); j++ {
			if pins[j].PinnedAt < pins[i].PinnedAt ||
				(pins[j].PinnedAt == pins[i].PinnedAt && pins[j].Id < pins[i].Id) {
				pins[i], pins[j] = pins[j], pins[i]
			}
		}
	}
	return pins, nil
}

func (f *fakeStore) AddPin(ctx context.Context, pin *entity.Pin, limit int) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var current []*entity.Pin
	for _, p := range f.pins {
		if p.ConversationId == pin.ConversationId {
			if p.MessageId == pin.MessageId {
				return nil, gorm.ErrDuplicatedKey
			}
			current = append(current, p)
		}
	}
	for i := 0; i < len(current); i++ {
		for j := i + 1; j < len(current); j++ {
			if current[j].PinnedAt < current[i].PinnedAt ||
				(current[j].PinnedAt == current[i].PinnedAt && current[j].Id < current[i].Id) {
				current[i], current[j] = current[j], current[i]
			}
		}
	}

	f.nextPinId++
	pin.Id = f.nextPinId
	if pin.PinnedAt == 0 {
		pin.PinnedAt = f.tick()
	}
	f.pins = append(f.pins, pin)

	var evicted []int64
	overflow := len(current) + 1 - limit
	for i := 0; i < overflow && i < len(current); i++ {
		evicted = append(evicted, current[i].Id)
	}
	if len(evicted) > 0 {
		f.pins = lo.Filter(f.pins, func(p *entity.Pin, _ int) bool {
			return !lo.Contains(evicted, p.Id)
		})
	}
	return evicted, nil
}

func (f *fakeStore) RemovePin(ctx context.Context, conversationId, messageId int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	before := len(f.pins)
	f.pins = lo.Filter(f.pins, func(p *entity.Pin, _ int) bool {
		return !(p.ConversationId == conversationId && p.MessageId == messageId)
	})
	return len(f.pins) < before, nil
}

// fakePusher records every broadcast the services issue. Room
// membership is declared by the test; RoomBroadcastEach renders per
// declared member.
type fakePusher struct {
	mu    sync.Mutex
	rooms map[string][]string // room -> userIds

	pushes   []pushRecord
	attaches []attachRecord
	detaches []attachRecord
}

type pushRecord struct {
	Room    string // empty for direct user pushes
	UserId  string // empty for plain room broadcasts
	Event   string
	Payload interface{}
}

type attachRecord struct {
	ConversationId int64
	UserId         string
}

func newFakePusher() *fakePusher {
	return &fakePusher{rooms: make(map[string][]string)}
}

func (p *fakePusher) joinRoom(room, userId string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rooms[room] = append(p.rooms[room], userId)
}

func (p *fakePusher) RoomBroadcast(ctx context.Context, room, event string, payload interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushes = append(p.pushes, pushRecord{Room: room, Event: event, Payload: payload})
}

func (p *fakePusher) RoomBroadcastEach(ctx context.Context, room, event string, render func(viewerId string) interface{}) {
	p.mu.Lock()
	members := append([]string(nil), p.rooms[room]...)
	p.mu.Unlock()
	for _, userId := range members {
		payload := render(userId)
		if payload == nil {
			continue
		}
		p.mu.Lock()
		p.pushes = append(p.pushes, pushRecord{Room: room, UserId: userId, Event: event, Payload: payload})
		p.mu.Unlock()
	}
}

func (p *fakePusher) PushToUser(ctx context.Context, userId, event string, payload interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushes = append(p.pushes, pushRecord{UserId: userId, Event: event, Payload: payload})
}

func (p *fakePusher) AttachToConversation(ctx context.Context, conversationId int64, userId string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attaches = append(p.attaches, attachRecord{ConversationId: conversationId, UserId: userId})
}

func (p *fakePusher) DetachFromConversation(ctx context.Context, conversationId int64, userId string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.detaches = append(p.detaches, attachRecord{ConversationId: conversationId, UserId: userId})
}

func (p *fakePusher) eventsFor(userId string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var events []string
	for _, rec := range p.pushes {
		if rec.UserId == userId {
			events = append(events, rec.Event)
		}
	}
	return events
}

func (p *fakePusher) records(event string) []pushRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []pushRecord
	for _, rec := range p.pushes {
		if rec.Event == event {
			out = append(out, rec)
		}
	}
	return out
}
