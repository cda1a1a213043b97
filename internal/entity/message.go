package entity

import "encoding/json"

// Attachment is one uploaded file referenced by a message. Storage
// and the URL scheme belong to the media collaborator.
type Attachment struct {
	Url  string `json:"url"`
	Name string `json:"name,omitempty"`
	Mime string `json:"mime,omitempty"`
	Size int64  `json:"size,omitempty"`
}

// ReplySnapshot is the immutable copy of a parent message captured at
// reply time. Later edits or deletes of the parent never touch it.
type ReplySnapshot struct {
	MessageId   int64        `json:"message_id"`
	SenderId    string       `json:"sender_id"`
	SenderName  string       `json:"sender_name"`
	Content     *string      `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// ForwardOrigin is the immutable snapshot of where a forwarded
// message came from
type ForwardOrigin struct {
	MessageId      int64  `json:"message_id"`
	ConversationId int64  `json:"conversation_id"`
	SenderId       string `json:"sender_id"`
	SenderName     string `json:"sender_name"`
	SentAt         int64  `json:"sent_at"`
}

// Message represents a message. Content goes nil on soft delete;
// attachments are retained for audit.
type Message struct {
	Id              int64   `json:"id" gorm:"column:id;primaryKey"`
	ConversationId  int64   `json:"conversation_id" gorm:"column:conversation_id;index"`
	SenderId        string  `json:"sender_id" gorm:"column:sender_id"`
	Content         *string `json:"content" gorm:"column:content"`
	Attachments     *string `json:"-" gorm:"column:attachments;type:json"`
	ParentId        *int64  `json:"parent_id" gorm:"column:parent_id"`
	ParentSnapshot  *string `json:"-" gorm:"column:parent_snapshot;type:json"`
	ForwardSnapshot *string `json:"-" gorm:"column:forward_snapshot;type:json"`
	EditedAt        *int64  `json:"edited_at" gorm:"column:edited_at"`
	DeletedAt       *int64  `json:"deleted_at" gorm:"column:deleted_at"`
	CreatedAt       int64   `json:"created_at" gorm:"column:created_at"`
	UpdatedAt       int64   `json:"updated_at" gorm:"column:updated_at"`
}

// TableName returns the table name for Message
func (Message) TableName() string {
	return "messages"
}

// IsDeleted checks if the message was soft-deleted
func (m *Message) IsDeleted() bool {
	return m.DeletedAt != nil
}

// GetAttachments decodes the attachment list
func (m *Message) GetAttachments() []Attachment {
	if m.Attachments == nil {
		return nil
	}
	var list []Attachment
	if err := json.Unmarshal([]byte(*m.Attachments), &list); err != nil {
		return nil
	}
	return list
}

// SetAttachments encodes the attachment list
func (m *Message) SetAttachments(list []Attachment) {
	if len(list) == 0 {
		m.Attachments = nil
		return
	}
	data, err := json.Marshal(list)
	if err != nil {
		return
	}
	s := string(data)
	m.Attachments = &s
}

// GetParentSnapshot decodes the reply snapshot
func (m *Message) GetParentSnapshot() *ReplySnapshot {
	if m.ParentSnapshot == nil {
		return nil
	}
	var snap ReplySnapshot
	if err := json.Unmarshal([]byte(*m.ParentSnapshot), &snap); err != nil {
		return nil
	}
	return &snap
}

// SetParentSnapshot encodes the reply snapshot
func (m *Message) SetParentSnapshot(snap *ReplySnapshot) {
	if snap == nil {
		m.ParentSnapshot = nil
		return
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return
	}
	s := string(data)
	m.ParentSnapshot = &s
}

// GetForwardSnapshot decodes the forward-origin snapshot
func (m *Message) GetForwardSnapshot() *ForwardOrigin {
	if m.ForwardSnapshot == nil {
		return nil
	}
	var origin ForwardOrigin
	if err := json.Unmarshal([]byte(*m.ForwardSnapshot), &origin); err != nil {
		return nil
	}
	return &origin
}

// SetForwardSnapshot encodes the forward-origin snapshot
func (m *Message) SetForwardSnapshot(origin *ForwardOrigin) {
	if origin == nil {
		m.ForwardSnapshot = nil
		return
	}
	data, err := json.Marshal(origin)
	if err != nil {
		return
	}
	s := string(data)
	m.ForwardSnapshot = &s
}

// ToPreview converts the message to a list-entry preview
func (m *Message) ToPreview() *MessagePreview {
	return &MessagePreview{
		Id:        m.Id,
		SenderId:  m.SenderId,
		Content:   m.Content,
		Deleted:   m.IsDeleted(),
		CreatedAt: m.CreatedAt,
	}
}

// Reaction represents one (message, user, emoji) reaction
type Reaction struct {
	Id        int64  `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	MessageId int64  `json:"message_id" gorm:"column:message_id;uniqueIndex:uk_msg_user_emoji"`
	UserId    string `json:"user_id" gorm:"column:user_id;uniqueIndex:uk_msg_user_emoji"`
	Emoji     string `json:"emoji" gorm:"column:emoji;uniqueIndex:uk_msg_user_emoji"`
	CreatedAt int64  `json:"created_at" gorm:"column:created_at;autoCreateTime:milli"`
}

// TableName returns the table name for Reaction
func (Reaction) TableName() string {
	return "message_reactions"
}

// Favorite represents one user's favorite flag on a message
type Favorite struct {
	Id        int64  `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	MessageId int64  `json:"message_id" gorm:"column:message_id;uniqueIndex:uk_msg_user"`
	UserId    string `json:"user_id" gorm:"column:user_id;uniqueIndex:uk_msg_user"`
	CreatedAt int64  `json:"created_at" gorm:"column:created_at;autoCreateTime:milli"`
}

// TableName returns the table name for Favorite
func (Favorite) TableName() string {
	return "message_favorites"
}

// ReactionSummary aggregates one emoji on a message for a viewer.
// Counts are always recomputed from the reaction set, never adjusted
// in place.
type ReactionSummary struct {
	Emoji   string `json:"emoji"`
	Count   int    `json:"count"`
	Reacted bool   `json:"reacted"`
}

// MessageInfo is a message rendered for one viewer: the reacted and
// favorite flags depend on who is looking.
type MessageInfo struct {
	Id             int64             `json:"id"`
	ConversationId int64             `json:"conversation_id"`
	SenderId       string            `json:"sender_id"`
	Content        *string           `json:"content"`
	Attachments    []Attachment      `json:"attachments,omitempty"`
	Parent         *ReplySnapshot    `json:"parent,omitempty"`
	Forward        *ForwardOrigin    `json:"forward,omitempty"`
	Reactions      []ReactionSummary `json:"reactions"`
	Favorite       bool              `json:"favorite"`
	EditedAt       *int64            `json:"edited_at,omitempty"`
	DeletedAt      *int64            `json:"deleted_at,omitempty"`
	CreatedAt      int64             `json:"created_at"`
}
