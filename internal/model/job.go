package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	JobStatusOpen       = "open"
	JobStatusInProgress = "in_progress"
	JobStatusCompleted  = "completed"
	JobStatusCancelled  = "cancelled"
)

// Job 任务（只读协作方）
//
// 任务状态由上层在付款方确认扣款完成后再改为 completed，结算链路不修改任务
type Job struct {
	ID               string          `gorm:"type:varchar(64);primaryKey" json:"id"`
	Title            string          `gorm:"type:varchar(255);not null" json:"title"`
	PriceAmount      decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"price_amount"`
	PriceCurrency    string          `gorm:"type:varchar(3);not null;default:USD" json:"price_currency"`
	Status           string          `gorm:"type:varchar(20);index;not null" json:"status"`
	PostedByUserID   string          `gorm:"type:varchar(64);index;not null" json:"posted_by_user_id"`
	AssignedToUserID *string         `gorm:"type:varchar(64);index" json:"assigned_to_user_id"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Job) TableName() string {
	return "jobs"
}

// AssignedTo 已分配的接单人，未分配返回空串
func (j *Job) AssignedTo() string {
	if j.AssignedToUserID == nil {
		return ""
	}
	return *j.AssignedToUserID
}
