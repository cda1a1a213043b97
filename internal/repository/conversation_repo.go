package repository

import (
	"context"
	"errors"

	"github.com/parleyhq/parley/internal/entity"
	"github.com/parleyhq/parley/pkg/constant"
	"github.com/parleyhq/parley/pkg/idgen"
	"gorm.io/gorm"
)

// ConversationRepo is the repository for conversation operations
type ConversationRepo struct {
	db *gorm.DB
}

// NewConversationRepo creates a new ConversationRepo
func NewConversationRepo(db *gorm.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

// GetConversation gets a conversation by id, nil when absent
func (r *ConversationRepo) GetConversation(ctx context.Context, id int64) (*entity.Conversation, error) {
	var conv entity.Conversation
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&conv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &conv, nil
}

// CreateWithMembers creates a conversation and its initial
// memberships in one transaction, so a conversation can never exist
// without its owner row.
func (r *ConversationRepo) CreateWithMembers(ctx context.Context, conv *entity.Conversation, members []*entity.Membership) error {
	if conv.Id == 0 {
		id, err := idgen.NextID()
		if err != nil {
			return err
		}
		conv.Id = id
	}

	now := entity.NowUnixMilli()
	conv.CreatedAt = now
	conv.UpdatedAt = now

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(conv).Error; err != nil {
			return err
		}
		for _, m := range members {
			m.ConversationId = conv.Id
			m.CreatedAt = now
			m.UpdatedAt = now
			if err := tx.Create(m).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// FindOrCreateDirect returns the direct conversation for the pair,
// creating it when absent. The unique index on direct_key makes the
// create race-safe: the loser of a concurrent insert re-reads the
// winner's row.
func (r *ConversationRepo) FindOrCreateDirect(ctx context.Context, creatorId, peerId string) (*entity.Conversation, bool, error) {
	key := entity.DirectPairKey(creatorId, peerId)

	existing, err := r.getByDirectKey(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	conv := &entity.Conversation{
		Kind:      constant.ConversationDirect,
		Private:   true,
		DirectKey: &key,
		CreatorId: creatorId,
	}
	members := []*entity.Membership{
		{UserId: creatorId, Role: constant.RoleOwner, NotificationsEnabled: true},
		{UserId: peerId, Role: constant.RoleMember, NotificationsEnabled: true},
	}

	err = r.CreateWithMembers(ctx, conv, members)
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			existing, ferr := r.getByDirectKey(ctx, key)
			if ferr != nil {
				return nil, false, ferr
			}
			if existing != nil {
				return existing, false, nil
			}
		}
		return nil, false, err
	}

	return conv, true, nil
}

func (r *ConversationRepo) getByDirectKey(ctx context.Context, key string) (*entity.Conversation, error) {
	var conv entity.Conversation
	err := r.db.WithContext(ctx).Where("direct_key = ?", key).First(&conv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &conv, nil
}

// UpdateConversation updates conversation settings
func (r *ConversationRepo) UpdateConversation(ctx context.Context, id int64, updates map[string]interface{}) error {
	updates["updated_at"] = entity.NowUnixMilli()
	return r.db.WithContext(ctx).
		Model(&entity.Conversation{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// TouchConversation bumps updated_at so the conversation sorts first
// in every member's list
func (r *ConversationRepo) TouchConversation(ctx context.Context, id int64) error {
	return r.UpdateConversation(ctx, id, map[string]interface{}{})
}
