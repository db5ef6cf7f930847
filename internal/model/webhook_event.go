package model

import (
	"time"

	"gorm.io/datatypes"
)

// 回调处理结果
const (
	WebhookOutcomeUpdated          = "updated"
	WebhookOutcomeFallbackUpdated  = "fallback_updated"
	WebhookOutcomeInserted         = "inserted"
	WebhookOutcomeAlreadySettled   = "already_settled"
	WebhookOutcomeDuplicatePayment = "duplicate_payment"
	WebhookOutcomeUnmatched        = "unmatched"
	WebhookOutcomeDeferred         = "deferred"
	WebhookOutcomePending          = "pending"
	WebhookOutcomeAccountUpdated   = "account_updated"
	WebhookOutcomeIgnored          = "ignored"
	WebhookOutcomeDuplicate        = "duplicate"
	WebhookOutcomeError            = "error"
)

// WebhookEvent 已验签的回调事件日志，event_id 唯一
//
// processed_at 非空表示已处理完成，重复投递直接确认；deferred / error 的事件不置 processed_at，
// 处理方重投时会再次处理
type WebhookEvent struct {
	ID              string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	EventID         string         `gorm:"type:varchar(255);uniqueIndex;not null" json:"event_id"`
	EventType       string         `gorm:"type:varchar(64);index;not null" json:"event_type"`
	ObjectRef       string         `gorm:"type:varchar(255);index" json:"object_ref"`
	Payload         datatypes.JSON `json:"payload"`
	Outcome         string         `gorm:"type:varchar(32)" json:"outcome"`
	ProcessingError string         `gorm:"type:varchar(500)" json:"processing_error,omitempty"`
	ProcessedAt     *time.Time     `json:"processed_at"`
	CreatedAt       time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (WebhookEvent) TableName() string {
	return "webhook_event"
}
