package entity

// Membership is the (conversation, user) relation carrying role and
// the stored permission value. Permissions is raw JSON as written by
// whoever promoted the member; the permission package normalizes it.
type Membership struct {
	Id                   int64   `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	ConversationId       int64   `json:"conversation_id" gorm:"column:conversation_id;uniqueIndex:uk_conv_user"`
	UserId               string  `json:"user_id" gorm:"column:user_id;uniqueIndex:uk_conv_user"`
	Role                 string  `json:"role" gorm:"column:role"`
	Permissions          *string `json:"permissions" gorm:"column:permissions;type:json"`
	NotificationsEnabled bool    `json:"notifications_enabled" gorm:"column:notifications_enabled"`
	LastReadAt           *int64  `json:"last_read_at" gorm:"column:last_read_at"`
	CreatedAt            int64   `json:"created_at" gorm:"column:created_at;autoCreateTime:milli"`
	UpdatedAt            int64   `json:"updated_at" gorm:"column:updated_at;autoUpdateTime:milli"`
}

// TableName returns the table name for Membership
func (Membership) TableName() string {
	return "conversation_members"
}

// RawPermissions returns the stored permission JSON, nil when absent
func (m *Membership) RawPermissions() []byte {
	if m.Permissions == nil {
		return nil
	}
	return []byte(*m.Permissions)
}

// MemberInfo represents one roster entry of a conversation, with
// capabilities re-derived from the stored role
type MemberInfo struct {
	UserId       string          `json:"user_id"`
	Nickname     string          `json:"nickname"`
	Avatar       string          `json:"avatar"`
	Color        string          `json:"color"`
	Status       string          `json:"status"`
	Role         string          `json:"role"`
	Capabilities map[string]bool `json:"capabilities"`
	JoinedAt     int64           `json:"joined_at"`
}
