package entity

// Pin represents a pinned message in a conversation. At most
// MaxPinsPerConversation live pins exist per conversation; the oldest
// by pinned_at (lowest id on ties) is evicted on overflow.
type Pin struct {
	Id             int64  `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	ConversationId int64  `json:"conversation_id" gorm:"column:conversation_id;uniqueIndex:uk_conv_msg"`
	MessageId      int64  `json:"message_id" gorm:"column:message_id;uniqueIndex:uk_conv_msg"`
	PinnedBy       string `json:"pinned_by" gorm:"column:pinned_by"`
	PinnedAt       int64  `json:"pinned_at" gorm:"column:pinned_at"`
}

// TableName returns the table name for Pin
func (Pin) TableName() string {
	return "conversation_pins"
}

// PinnedMessage is one pin rendered for a viewer, message included,
// because the favorite flag inside is per-viewer
type PinnedMessage struct {
	Id       int64        `json:"id"`
	PinnedBy string       `json:"pinned_by"`
	PinnedAt int64        `json:"pinned_at"`
	Message  *MessageInfo `json:"message"`
}
