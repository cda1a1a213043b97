package constant

// Outbound event names. Every broadcast names the mutation kind with
// one of these; clients key their handlers on them.
const (
	EventConversationList    = "conversation-list"
	EventConversationCreated = "conversation-created"
	EventConversationUpdated = "conversation-updated"
	EventConversationPins    = "conversation-pins"
	EventMemberAdded         = "conversation-member-added"
	EventMemberRemoved       = "conversation-member-removed"
	EventMemberUpdated       = "conversation-member-updated"
	EventMessageCreated      = "message-created"
	EventMessageUpdated      = "message-updated"
	EventMessageDeleted      = "message-deleted"
	EventPresenceUpdate      = "presence-update"
	EventTyping              = "typing"
)

// Call signaling event names. The relay events carry opaque payloads;
// the engine never inspects them.
const (
	EventCallIncoming   = "call-incoming"
	EventCallUserJoined = "call-user-joined"
	EventCallUserLeft   = "call-user-left"
	EventCallState      = "call-state"
	EventCallOffer      = "call-offer"
	EventCallAnswer     = "call-answer"
	EventCallIce        = "call-ice"
	EventCallSignal     = "call-signal"
	EventCallAudio      = "call-audio"
	EventCallAccept     = "call-accept"
	EventCallReject     = "call-reject"
	EventCallBusy       = "call-busy"
)
