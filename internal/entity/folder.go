package entity

// FolderConversation places a conversation into one of its owner's
// folders. Folder CRUD lives outside the core; the core only prunes
// these rows when a member is removed from a conversation, so a
// departed user's folders never reference a conversation they lost
// access to.
type FolderConversation struct {
	Id             int64  `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	FolderId       int64  `json:"folder_id" gorm:"column:folder_id;index"`
	UserId         string `json:"user_id" gorm:"column:user_id;index"`
	ConversationId int64  `json:"conversation_id" gorm:"column:conversation_id;index"`
	CreatedAt      int64  `json:"created_at" gorm:"column:created_at;autoCreateTime:milli"`
}

// TableName returns the table name for FolderConversation
func (FolderConversation) TableName() string {
	return "folder_conversations"
}
