package entity

// User represents a user identity. The auth collaborator owns
// credential fields; the core only reads display attributes and
// writes last_seen_at.
type User struct {
	Id         string `json:"id" gorm:"column:id;primaryKey"`
	Nickname   string `json:"nickname" gorm:"column:nickname"`
	Avatar     string `json:"avatar" gorm:"column:avatar"`
	Color      string `json:"color" gorm:"column:color"`
	Status     string `json:"status" gorm:"column:status"`
	LastSeenAt int64  `json:"last_seen_at" gorm:"column:last_seen_at"`
	CreatedAt  int64  `json:"created_at" gorm:"column:created_at;autoCreateTime:milli"`
	UpdatedAt  int64  `json:"updated_at" gorm:"column:updated_at;autoUpdateTime:milli"`
}

// TableName returns the table name for User
func (User) TableName() string {
	return "users"
}

// UserInfo represents the display attributes pushed with presence
// and roster payloads
type UserInfo struct {
	Id         string `json:"id"`
	Nickname   string `json:"nickname"`
	Avatar     string `json:"avatar"`
	Color      string `json:"color"`
	Status     string `json:"status"`
	Online     bool   `json:"online"`
	LastSeenAt int64  `json:"last_seen_at,omitempty"`
}

// ToUserInfo converts User to UserInfo
func (u *User) ToUserInfo() *UserInfo {
	return &UserInfo{
		Id:         u.Id,
		Nickname:   u.Nickname,
		Avatar:     u.Avatar,
		Color:      u.Color,
		Status:     u.Status,
		LastSeenAt: u.LastSeenAt,
	}
}
