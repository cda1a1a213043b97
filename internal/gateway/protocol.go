package gateway

import "encoding/json"

// WSRequest represents a WebSocket request message
type WSRequest struct {
	Event       string          `json:"event"`        // Event name
	OperationId string          `json:"operation_id"` // Client trace Id, echoed back
	SendId      string          `json:"send_id"`      // Sender user Id
	Data        json.RawMessage `json:"data"`         // Event payload
}

// WSResponse represents a WebSocket response or server push
type WSResponse struct {
	Event       string          `json:"event"`                  // Event name (echo back, or push event)
	OperationId string          `json:"operation_id,omitempty"` // Trace Id (echo back)
	ErrCode     int             `json:"err_code"`               // Error code, 0 = success
	ErrMsg      string          `json:"err_msg,omitempty"`      // Error message
	Data        json.RawMessage `json:"data,omitempty"`         // Payload
}

// ReadReq marks a conversation read up to now
type ReadReq struct {
	ConversationId int64 `json:"conversation_id"`
}

// TypingReq relays a typing indicator
type TypingReq struct {
	ConversationId int64 `json:"conversation_id"`
}

// TypingPush is the relayed typing payload
type TypingPush struct {
	ConversationId int64  `json:"conversation_id"`
	UserId         string `json:"user_id"`
	Typing         bool   `json:"typing"`
}

// MessageUpdateReq edits a message's content
type MessageUpdateReq struct {
	MessageId int64  `json:"message_id"`
	Content   string `json:"content"`
}

// MessageDeleteReq deletes a message
type MessageDeleteReq struct {
	MessageId int64 `json:"message_id"`
}

// MessageReactReq toggles a reaction
type MessageReactReq struct {
	MessageId int64  `json:"message_id"`
	Emoji     string `json:"emoji"`
}

// MessageFavoriteReq toggles the viewer's favorite flag
type MessageFavoriteReq struct {
	MessageId int64 `json:"message_id"`
}

// PinReq pins or unpins a message
type PinReq struct {
	ConversationId int64 `json:"conversation_id"`
	MessageId      int64 `json:"message_id"`
}

// ConversationUpdateReq changes conversation settings
type ConversationUpdateReq struct {
	ConversationId int64   `json:"conversation_id"`
	Title          *string `json:"title,omitempty"`
	Description    *string `json:"description,omitempty"`
	Private        *bool   `json:"private,omitempty"`
}

// MemberReq adds or removes a member
type MemberReq struct {
	ConversationId int64  `json:"conversation_id"`
	UserId         string `json:"user_id"`
}

// RoleChangeReq changes a member's role
type RoleChangeReq struct {
	ConversationId int64           `json:"conversation_id"`
	UserId         string          `json:"user_id"`
	Role           string          `json:"role"`
	Capabilities   map[string]bool `json:"capabilities,omitempty"`
}

// CallJoinReq joins or starts a call
type CallJoinReq struct {
	ConversationId int64 `json:"conversation_id"`
	Muted          bool  `json:"muted"`
	Sharing        bool  `json:"sharing"`
}

// CallLeaveReq leaves a call
type CallLeaveReq struct {
	ConversationId int64 `json:"conversation_id"`
}

// CallStateReq updates the sender's in-call state. Nil fields are
// left unchanged.
type CallStateReq struct {
	ConversationId int64 `json:"conversation_id"`
	Muted          *bool `json:"muted,omitempty"`
	Sharing        *bool `json:"sharing,omitempty"`
}

// CallRelayReq carries an opaque signaling payload. With a target the
// payload goes to that user's connections only; without one it goes
// to everyone else in the call.
type CallRelayReq struct {
	ConversationId int64           `json:"conversation_id"`
	TargetUserId   string          `json:"target_user_id,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// CallRelayPush is the relayed signaling payload
type CallRelayPush struct {
	ConversationId int64           `json:"conversation_id"`
	FromUserId     string          `json:"from_user_id"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// PresencePush announces a user's derived presence
type PresencePush struct {
	UserId     string `json:"user_id"`
	Online     bool   `json:"online"`
	LastSeenAt int64  `json:"last_seen_at,omitempty"`
}
