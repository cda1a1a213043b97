package repository

import (
	"context"
	"errors"

	"github.com/parleyhq/parley/internal/entity"
	"github.com/parleyhq/parley/pkg/idgen"
	"gorm.io/gorm"
)

// MessageRepo is the repository for message, reaction and favorite
// operations
type MessageRepo struct {
	db *gorm.DB
}

// NewMessageRepo creates a new MessageRepo
func NewMessageRepo(db *gorm.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// CreateMessage creates a new message. Ids come from the flake
// generator so they stay time-ordered across instances, which the
// history keyset paging relies on.
func (r *MessageRepo) CreateMessage(ctx context.Context, msg *entity.Message) error {
	if msg.Id == 0 {
		id, err := idgen.NextID()
		if err != nil {
			return err
		}
		msg.Id = id
	}

	now := entity.NowUnixMilli()
	if msg.CreatedAt == 0 {
		msg.CreatedAt = now
	}
	msg.UpdatedAt = now
	return r.db.WithContext(ctx).Create(msg).Error
}

// GetMessage gets a message by id, nil when absent
func (r *MessageRepo) GetMessage(ctx context.Context, id int64) (*entity.Message, error) {
	var msg entity.Message
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&msg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &msg, nil
}

// LatestMessage gets the most recent message of a conversation, nil
// when the conversation is empty
func (r *MessageRepo) LatestMessage(ctx context.Context, conversationId int64) (*entity.Message, error) {
	var msg entity.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationId).
		Order("id DESC").
		First(&msg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &msg, nil
}

// CountMessagesAfter counts messages newer than the read position.
// A nil position counts every message.
func (r *MessageRepo) CountMessagesAfter(ctx context.Context, conversationId int64, since *int64) (int64, error) {
	q := r.db.WithContext(ctx).
		Model(&entity.Message{}).
		Where("conversation_id = ?", conversationId)
	if since != nil {
		q = q.Where("created_at > ?", *since)
	}

	var count int64
	err := q.Count(&count).Error
	return count, err
}

// ListHistory pulls messages before the given id (0 means from the
// newest), newest first. limit is capped at 100.
func (r *MessageRepo) ListHistory(ctx context.Context, conversationId int64, beforeId int64, limit int) ([]*entity.Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	q := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationId)
	if beforeId > 0 {
		q = q.Where("id < ?", beforeId)
	}

	var msgs []*entity.Message
	err := q.Order("id DESC").Limit(limit).Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// UpdateMessageContent applies an edit
func (r *MessageRepo) UpdateMessageContent(ctx context.Context, id int64, content string, editedAt int64) error {
	return r.db.WithContext(ctx).
		Model(&entity.Message{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"content":    content,
			"edited_at":  editedAt,
			"updated_at": entity.NowUnixMilli(),
		}).Error
}

// SoftDeleteMessage clears content and stamps deleted_at. The row and
// its attachments stay for audit.
func (r *MessageRepo) SoftDeleteMessage(ctx context.Context, id int64, deletedAt int64) error {
	return r.db.WithContext(ctx).
		Model(&entity.Message{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"content":    nil,
			"deleted_at": deletedAt,
			"updated_at": entity.NowUnixMilli(),
		}).Error
}

// ToggleReaction removes the (message, user, emoji) reaction if it
// exists, otherwise adds it. Returns whether the reaction is now
// present. Delete-then-insert inside one transaction keeps a double
// toggle from ever producing two rows.
func (r *MessageRepo) ToggleReaction(ctx context.Context, messageId int64, userId, emoji string) (bool, error) {
	added := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.
			Where("message_id = ? AND user_id = ? AND emoji = ?", messageId, userId, emoji).
			Delete(&entity.Reaction{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			return nil
		}

		added = true
		return tx.Create(&entity.Reaction{
			MessageId: messageId,
			UserId:    userId,
			Emoji:     emoji,
			CreatedAt: entity.NowUnixMilli(),
		}).Error
	})
	return added, err
}

// ListReactions lists every reaction on a message
func (r *MessageRepo) ListReactions(ctx context.Context, messageId int64) ([]*entity.Reaction, error) {
	var reactions []*entity.Reaction
	err := r.db.WithContext(ctx).
		Where("message_id = ?", messageId).
		Order("id ASC").
		Find(&reactions).Error
	if err != nil {
		return nil, err
	}
	return reactions, nil
}

// ToggleFavorite flips the viewer's favorite flag on a message.
// Returns whether the flag is now set.
func (r *MessageRepo) ToggleFavorite(ctx context.Context, messageId int64, userId string) (bool, error) {
	added := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.
			Where("message_id = ? AND user_id = ?", messageId, userId).
			Delete(&entity.Favorite{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			return nil
		}

		added = true
		return tx.Create(&entity.Favorite{
			MessageId: messageId,
			UserId:    userId,
			CreatedAt: entity.NowUnixMilli(),
		}).Error
	})
	return added, err
}

// ListFavorites lists the user ids that favorited a message
func (r *MessageRepo) ListFavorites(ctx context.Context, messageId int64) ([]string, error) {
	var userIds []string
	err := r.db.WithContext(ctx).
		Model(&entity.Favorite{}).
		Where("message_id = ?", messageId).
		Pluck("user_id", &userIds).Error
	if err != nil {
		return nil, err
	}
	return userIds, nil
}
