package repository

import (
	"context"
	"errors"

	"github.com/parleyhq/parley/internal/entity"
	"gorm.io/gorm"
)

// MembershipRepo is the repository for membership operations
type MembershipRepo struct {
	db *gorm.DB
}

// NewMembershipRepo creates a new MembershipRepo
func NewMembershipRepo(db *gorm.DB) *MembershipRepo {
	return &MembershipRepo{db: db}
}

// GetMembership gets the membership row, nil when the user is not a
// member. Absence is the authorization failure signal used by every
// other component.
func (r *MembershipRepo) GetMembership(ctx context.Context, conversationId int64, userId string) (*entity.Membership, error) {
	var m entity.Membership
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ?", conversationId, userId).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

// ListMemberships lists all memberships of a conversation
func (r *MembershipRepo) ListMemberships(ctx context.Context, conversationId int64) ([]*entity.Membership, error) {
	var members []*entity.Membership
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationId).
		Find(&members).Error
	if err != nil {
		return nil, err
	}
	return members, nil
}

// ListUserMemberships lists all memberships of a user
func (r *MembershipRepo) ListUserMemberships(ctx context.Context, userId string) ([]*entity.Membership, error) {
	var members []*entity.Membership
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userId).
		Find(&members).Error
	if err != nil {
		return nil, err
	}
	return members, nil
}

// AddMembership creates a membership row
func (r *MembershipRepo) AddMembership(ctx context.Context, m *entity.Membership) error {
	now := entity.NowUnixMilli()
	m.CreatedAt = now
	m.UpdatedAt = now
	return r.db.WithContext(ctx).Create(m).Error
}

// UpdateMemberRole updates role and stored permissions in one write
func (r *MembershipRepo) UpdateMemberRole(ctx context.Context, conversationId int64, userId, role string, permissions *string) error {
	return r.db.WithContext(ctx).
		Model(&entity.Membership{}).
		Where("conversation_id = ? AND user_id = ?", conversationId, userId).
		Updates(map[string]interface{}{
			"role":        role,
			"permissions": permissions,
			"updated_at":  entity.NowUnixMilli(),
		}).Error
}

// SetLastReadAt records the viewer's read position
func (r *MembershipRepo) SetLastReadAt(ctx context.Context, conversationId int64, userId string, ts int64) error {
	return r.db.WithContext(ctx).
		Model(&entity.Membership{}).
		Where("conversation_id = ? AND user_id = ?", conversationId, userId).
		Updates(map[string]interface{}{
			"last_read_at": ts,
			"updated_at":   entity.NowUnixMilli(),
		}).Error
}

// RemoveMembership deletes the membership and prunes the conversation
// from the removed user's folders in the same transaction
func (r *MembershipRepo) RemoveMembership(ctx context.Context, conversationId int64, userId string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("conversation_id = ? AND user_id = ?", conversationId, userId).
			Delete(&entity.Membership{}).Error; err != nil {
			return err
		}
		return tx.
			Where("conversation_id = ? AND user_id = ?", conversationId, userId).
			Delete(&entity.FolderConversation{}).Error
	})
}

// CountMembers counts the members of a conversation
func (r *MembershipRepo) CountMembers(ctx context.Context, conversationId int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&entity.Membership{}).
		Where("conversation_id = ?", conversationId).
		Count(&count).Error
	return count, err
}
