package repository

import (
	"context"
	"errors"

	"github.com/parleyhq/parley/internal/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PinRepo is the repository for conversation pins
type PinRepo struct {
	db *gorm.DB
}

// NewPinRepo creates a new PinRepo
func NewPinRepo(db *gorm.DB) *PinRepo {
	return &PinRepo{db: db}
}

// ListPins lists the live pins of a conversation, oldest pin first
// (lowest id on equal pin time)
func (r *PinRepo) ListPins(ctx context.Context, conversationId int64) ([]*entity.Pin, error) {
	var pins []*entity.Pin
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationId).
		Order("pinned_at ASC, id ASC").
		Find(&pins).Error
	if err != nil {
		return nil, err
	}
	return pins, nil
}

// AddPin inserts a pin and enforces the ceiling in one transaction,
// evicting the oldest pins by pin time (lowest id on ties) until the
// conversation is back at the limit. The row lock on the
// conversation's pins serializes concurrent inserts so eviction is
// deterministic regardless of arrival order. Returns the evicted pin
// ids. A duplicate (conversation, message) pin returns
// gorm.ErrDuplicatedKey untouched.
func (r *PinRepo) AddPin(ctx context.Context, pin *entity.Pin, limit int) ([]int64, error) {
	var evicted []int64

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current []*entity.Pin
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("conversation_id = ?", pin.ConversationId).
			Order("pinned_at ASC, id ASC").
			Find(&current).Error; err != nil {
			return err
		}

		if pin.PinnedAt == 0 {
			pin.PinnedAt = entity.NowUnixMilli()
		}
		if err := tx.Create(pin).Error; err != nil {
			return err
		}

		overflow := len(current) + 1 - limit
		for i := 0; i < overflow && i < len(current); i++ {
			evicted = append(evicted, current[i].Id)
		}
		if len(evicted) > 0 {
			if err := tx.Where("id IN ?", evicted).Delete(&entity.Pin{}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return evicted, nil
}

// RemovePin deletes the pin of a message, reporting whether it existed
func (r *PinRepo) RemovePin(ctx context.Context, conversationId, messageId int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("conversation_id = ? AND message_id = ?", conversationId, messageId).
		Delete(&entity.Pin{})
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
