package constant

import "fmt"

// Conversation kinds
const (
	ConversationDirect = "direct"
	ConversationGroup  = "group"
)

// Membership roles
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Capability keys, independently grantable to admins
const (
	CapManageMembers    = "manage-members"
	CapManageSettings   = "manage-settings"
	CapModerateMessages = "moderate-messages"
)

// Hard limits
const (
	// MaxContentLength is the message content ceiling, in runes
	MaxContentLength = 4000

	// MaxPinsPerConversation is the live pin ceiling; the oldest pin
	// by pin time (lowest id on ties) is evicted on overflow
	MaxPinsPerConversation = 5

	// SelfEditWindowMillis is how long an author may edit their own
	// message after creation. Moderator edits are not bounded.
	SelfEditWindowMillis = 24 * 60 * 60 * 1000
)

// Room naming: conversation:<id> for membership-scoped broadcast,
// call:<conversationId> for call-scoped broadcast
const (
	conversationRoomFmt = "conversation:%d"
	callRoomFmt         = "call:%d"
)

// ConversationRoom returns the broadcast room name for a conversation
func ConversationRoom(conversationId int64) string {
	return fmt.Sprintf(conversationRoomFmt, conversationId)
}

// CallRoom returns the broadcast room name for a conversation's call
func CallRoom(conversationId int64) string {
	return fmt.Sprintf(callRoomFmt, conversationId)
}

// Redis key patterns (without prefix, use RedisKey() to get full key)
const (
	redisKeyOnline = "online:%s" // online:{user_id}
)

// redisKeyPrefix is the global prefix for all Redis keys
var redisKeyPrefix = "parley:"

// InitRedisKeyPrefix initializes the Redis key prefix from config
func InitRedisKeyPrefix(prefix string) {
	if prefix != "" {
		redisKeyPrefix = prefix
	}
}

// GetRedisKeyPrefix returns the current Redis key prefix
func GetRedisKeyPrefix() string {
	return redisKeyPrefix
}

// RedisKeyOnline returns the online-presence key pattern with prefix
func RedisKeyOnline() string { return redisKeyPrefix + redisKeyOnline }
