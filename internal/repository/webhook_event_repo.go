package repository

import (
	"context"
	"errors"
	"time"

	"campuspay/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrWebhookEventNotFound = errors.New("回调事件不存在")

type WebhookEventRepository struct {
	db *gorm.DB
}

func NewWebhookEventRepository(db *gorm.DB) *WebhookEventRepository {
	return &WebhookEventRepository{db: db}
}

// Record 登记一次回调投递，返回该 event_id 的当前记录
//
// 首次投递插入新行；重复投递返回已有行，调用方根据 ProcessedAt 判断是否已处理
func (r *WebhookEventRepository) Record(ctx context.Context, evt *model.WebhookEvent) (*model.WebhookEvent, error) {
	db := r.db.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(evt).Error; err != nil {
		return nil, err
	}

	var current model.WebhookEvent
	if err := db.Where("event_id = ?", evt.EventID).First(&current).Error; err != nil {
		return nil, err
	}
	return &current, nil
}

// MarkProcessed 标记事件处理完成，tx 非空时与账本更新同事务提交
func (r *WebhookEventRepository) MarkProcessed(ctx context.Context, tx *gorm.DB, eventID, outcome string) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Model(&model.WebhookEvent{}).
		Where("event_id = ?", eventID).
		Updates(map[string]interface{}{
			"outcome":          outcome,
			"processing_error": "",
			"processed_at":     time.Now().UTC(),
		}).Error
}

// MarkUnprocessed 记录本次处理结果但不置 processed_at，重投时会再次处理
func (r *WebhookEventRepository) MarkUnprocessed(ctx context.Context, eventID, outcome, reason string) error {
	if runes := []rune(reason); len(runes) > 500 {
		reason = string(runes[:500])
	}
	return r.db.WithContext(ctx).
		Model(&model.WebhookEvent{}).
		Where("event_id = ?", eventID).
		Updates(map[string]interface{}{
			"outcome":          outcome,
			"processing_error": reason,
		}).Error
}

func (r *WebhookEventRepository) GetByEventID(ctx context.Context, eventID string) (*model.WebhookEvent, error) {
	var evt model.WebhookEvent
	err := r.db.WithContext(ctx).Where("event_id = ?", eventID).First(&evt).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWebhookEventNotFound
		}
		return nil, err
	}
	return &evt, nil
}
