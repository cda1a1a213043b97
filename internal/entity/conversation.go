package entity

// Conversation represents a conversation. A direct conversation
// carries the unique key of its member pair so at most one row can
// exist per pair.
type Conversation struct {
	Id          int64   `json:"id" gorm:"column:id;primaryKey"`
	Kind        string  `json:"kind" gorm:"column:kind"`
	Title       string  `json:"title" gorm:"column:title"`
	Description string  `json:"description" gorm:"column:description"`
	Private     bool    `json:"private" gorm:"column:private"`
	DirectKey   *string `json:"-" gorm:"column:direct_key;uniqueIndex"`
	CreatorId   string  `json:"creator_id" gorm:"column:creator_id"`
	CreatedAt   int64   `json:"created_at" gorm:"column:created_at;autoCreateTime:milli"`
	UpdatedAt   int64   `json:"updated_at" gorm:"column:updated_at;autoUpdateTime:milli"`
}

// TableName returns the table name for Conversation
func (Conversation) TableName() string {
	return "conversations"
}

// IsDirect checks if the conversation is a direct conversation
func (c *Conversation) IsDirect() bool {
	return c.Kind == "direct"
}

// MessagePreview is the last-message summary embedded in a
// conversation list entry
type MessagePreview struct {
	Id        int64   `json:"id"`
	SenderId  string  `json:"sender_id"`
	Content   *string `json:"content"`
	Deleted   bool    `json:"deleted"`
	CreatedAt int64   `json:"created_at"`
}

// ConversationListItem is one member's personalized view of a
// conversation: unread count and preview are per-viewer, as are role,
// capabilities and the notification flag.
type ConversationListItem struct {
	Id                   int64           `json:"id"`
	Kind                 string          `json:"kind"`
	Title                string          `json:"title"`
	Description          string          `json:"description"`
	Private              bool            `json:"private"`
	CreatorId            string          `json:"creator_id"`
	MemberCount          int64           `json:"member_count"`
	UnreadCount          int64           `json:"unread_count"`
	LastMessage          *MessagePreview `json:"last_message,omitempty"`
	Role                 string          `json:"role"`
	Capabilities         map[string]bool `json:"capabilities"`
	NotificationsEnabled bool            `json:"notifications_enabled"`
	UpdatedAt            int64           `json:"updated_at"`
}
