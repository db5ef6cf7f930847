package model

import "time"

// User 用户资料（协作方），结算链路只读收款设置和封禁标记，回调会回写 payouts_enabled
type User struct {
	ID               string    `gorm:"type:varchar(64);primaryKey" json:"id"`
	Username         string    `gorm:"type:varchar(64)" json:"username"`
	Email            string    `gorm:"type:varchar(255)" json:"email"`
	PayoutAccountRef string    `gorm:"type:varchar(255);index" json:"payout_account_ref"`
	PayoutsEnabled   bool      `gorm:"not null;default:false" json:"payouts_enabled"`
	Banned           bool      `gorm:"not null;default:false" json:"banned"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

// CanReceivePayouts 收款账户已开通且可以出款
func (u *User) CanReceivePayouts() bool {
	return u.PayoutsEnabled && u.PayoutAccountRef != ""
}

// BlockedUser 拉黑关系，任意一方拉黑对方即视为双方互相屏蔽
type BlockedUser struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	BlockerUserID string    `gorm:"type:varchar(64);not null;uniqueIndex:uk_block_pair,priority:1" json:"blocker_user_id"`
	BlockedUserID string    `gorm:"type:varchar(64);not null;uniqueIndex:uk_block_pair,priority:2;index" json:"blocked_user_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (BlockedUser) TableName() string {
	return "blocked_users"
}
