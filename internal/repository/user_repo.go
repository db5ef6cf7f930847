package repository

import (
	"context"
	"errors"

	"campuspay/internal/model"

	"gorm.io/gorm"
)

var ErrUserNotFound = errors.New("用户不存在")

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, user *model.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// UpdatePayoutsEnabled 按收款账户引用回写出款开关，返回受影响的用户数
func (r *UserRepository) UpdatePayoutsEnabled(ctx context.Context, tx *gorm.DB, accountRef string, enabled bool) (int64, error) {
	if tx == nil {
		tx = r.db
	}
	// 使用 map 更新，false 零值也会写入
	result := tx.WithContext(ctx).
		Model(&model.User{}).
		Where("payout_account_ref = ?", accountRef).
		Updates(map[string]interface{}{"payouts_enabled": enabled})
	return result.RowsAffected, result.Error
}
