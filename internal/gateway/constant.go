package gateway

import "time"

// Inbound event names. Outbound events live in pkg/constant so
// services can emit them without importing the gateway.
const (
	EventRead        = "read"
	EventTypingStart = "typing-start"
	EventTypingStop  = "typing-stop"

	EventMessageCreate   = "message-create"
	EventMessageUpdate   = "message-update"
	EventMessageDelete   = "message-delete"
	EventMessageReact    = "message-react"
	EventMessageFavorite = "message-favorite"
	EventMessageForward  = "message-forward"

	EventPinAdd    = "pin-add"
	EventPinRemove = "pin-remove"

	EventConversationCreate = "conversation-create"
	EventConversationUpdate = "conversation-update"
	EventMemberAdd          = "member-add"
	EventMemberRemove       = "member-remove"
	EventRoleChange         = "role-change"

	EventCallStart = "call-start"
	EventCallJoin  = "call-join"
	EventCallLeave = "call-leave"
)

// Timeout defaults, used when the config leaves them zero
const (
	// WriteWait is time allowed to write a message to the peer
	WriteWait = 10 * time.Second

	// PongWait is time allowed to read the next pong message from the peer
	PongWait = 30 * time.Second

	// PingPeriod is period between pings. Must be less than PongWait
	PingPeriod = (PongWait * 9) / 10

	// MaxMessageSize is maximum message size allowed from peer
	MaxMessageSize = 51200
)

// Query parameter keys for the connection handshake
const (
	QueryToken    = "token"
	QueryUserId   = "user_id"
	QueryDeviceId = "device_id"
)
