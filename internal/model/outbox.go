package model

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// OutboxMessage 事务性发件箱，与业务状态变更在同一事务中写入，由 OutboxSender 投递到 Kafka
type OutboxMessage struct {
	ID         int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageKey string         `gorm:"type:varchar(255);not null" json:"message_key"`
	Topic      string         `gorm:"type:varchar(64);not null" json:"topic"`
	Payload    datatypes.JSON `gorm:"not null" json:"payload"`
	Status     string         `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount int            `gorm:"not null;default:0" json:"retry_count"`
	CreatedAt  time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_message"
}

// NewOutboxMessage 将 payload 序列化为 JSON 构造待发送消息
func NewOutboxMessage(topic, key string, payload interface{}) (*OutboxMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &OutboxMessage{
		MessageKey: key,
		Topic:      topic,
		Payload:    datatypes.JSON(data),
		Status:     OutboxStatusPending,
	}, nil
}

// AllModels 需要自动迁移的全部表
func AllModels() []interface{} {
	return []interface{}{
		&SettlementRecord{},
		&WebhookEvent{},
		&OutboxMessage{},
		&Job{},
		&User{},
		&BlockedUser{},
	}
}
