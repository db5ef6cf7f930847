package repository

import (
	"context"

	"campuspay/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type BlockRepository struct {
	db *gorm.DB
}

func NewBlockRepository(db *gorm.DB) *BlockRepository {
	return &BlockRepository{db: db}
}

// Block 记录 blocker 拉黑 blocked，重复拉黑不报错
func (r *BlockRepository) Block(ctx context.Context, blockerID, blockedID string) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.BlockedUser{BlockerUserID: blockerID, BlockedUserID: blockedID}).Error
}

// IsBlockedPair 两人之间任意方向存在拉黑关系即返回 true
func (r *BlockRepository) IsBlockedPair(ctx context.Context, userA, userB string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.BlockedUser{}).
		Where("(blocker_user_id = ? AND blocked_user_id = ?) OR (blocker_user_id = ? AND blocked_user_id = ?)",
			userA, userB, userB, userA).
		Count(&count).Error
	return count > 0, err
}
