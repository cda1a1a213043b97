package repository

import (
	"context"
	"errors"

	"github.com/parleyhq/parley/internal/entity"
	"gorm.io/gorm"
)

// UserRepo is the repository for user operations
type UserRepo struct {
	db *gorm.DB
}

// NewUserRepo creates a new UserRepo
func NewUserRepo(db *gorm.DB) *UserRepo {
	return &UserRepo{db: db}
}

// GetUser gets a user by id, nil when absent
func (r *UserRepo) GetUser(ctx context.Context, id string) (*entity.User, error) {
	var user entity.User
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// GetUsers gets users by ids, keyed by id; absent ids are omitted
func (r *UserRepo) GetUsers(ctx context.Context, ids []string) (map[string]*entity.User, error) {
	if len(ids) == 0 {
		return map[string]*entity.User{}, nil
	}

	var users []*entity.User
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error
	if err != nil {
		return nil, err
	}

	result := make(map[string]*entity.User, len(users))
	for _, u := range users {
		result[u.Id] = u
	}
	return result, nil
}

// TouchLastSeen persists the last-seen timestamp. Called only when an
// identity's final live connection goes away.
func (r *UserRepo) TouchLastSeen(ctx context.Context, userId string, ts int64) error {
	return r.db.WithContext(ctx).
		Model(&entity.User{}).
		Where("id = ?", userId).
		Update("last_seen_at", ts).Error
}
