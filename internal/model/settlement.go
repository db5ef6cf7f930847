package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	SettlementStatusProcessing = "processing"
	SettlementStatusSucceeded  = "succeeded"
	SettlementStatusFailed     = "failed"
	SettlementStatusRefunded   = "refunded"
)

// ValidStatusTransitions 结算状态机
//
// succeeded 为终态，任何事件都不能再改写；failed 可以重新发起（processing）
// 或被迟到的成功事件覆盖（succeeded）。refunded 预留，当前链路不会写入
var ValidStatusTransitions = map[string][]string{
	SettlementStatusProcessing: {SettlementStatusSucceeded, SettlementStatusFailed},
	SettlementStatusFailed:     {SettlementStatusSucceeded, SettlementStatusProcessing},
}

func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidStatusTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// SettlementRecord 结算记录，一个 (job_id, payer_id) 对应一行
//
// 金额字段均为最小货币单位。total / platform_fee / payer / payee / currency 创建后不可变；
// processor_fee_minor 在回调对账前为 NULL，此时 net_amount_minor 基于预估手续费
type SettlementRecord struct {
	ID                         string              `gorm:"type:varchar(36);primaryKey" json:"id"`
	SettlementNo               string              `gorm:"type:varchar(64);uniqueIndex;not null" json:"settlement_no"`
	JobID                      string              `gorm:"type:varchar(64);not null;uniqueIndex:uk_job_payer,priority:1" json:"job_id"`
	PayerID                    string              `gorm:"type:varchar(64);not null;uniqueIndex:uk_job_payer,priority:2;index:idx_payer" json:"payer_id"`
	PayeeID                    string              `gorm:"type:varchar(64);not null;index:idx_payee" json:"payee_id"`
	TotalAmountMinor           int64               `gorm:"not null" json:"total_amount_minor"`
	PlatformFeePercent         decimal.Decimal     `gorm:"type:decimal(5,2);not null" json:"platform_fee_percent"`
	PlatformFeeMinor           int64               `gorm:"not null" json:"platform_fee_minor"`
	EstimatedProcessorFeeMinor int64               `gorm:"not null" json:"estimated_processor_fee_minor"`
	ProcessorFeeMinor          *int64              `json:"processor_fee_minor"`
	ProcessorFeePercent        decimal.NullDecimal `gorm:"type:decimal(7,4)" json:"processor_fee_percent"`
	NetAmountMinor             int64               `gorm:"not null" json:"net_amount_minor"`
	Currency                   string              `gorm:"type:varchar(3);not null" json:"currency"`
	ExternalChargeRef          string              `gorm:"type:varchar(255);uniqueIndex;not null" json:"external_charge_ref"`
	Status                     string              `gorm:"type:varchar(20);index;not null" json:"status"`
	FailureMessage             string              `gorm:"type:varchar(500)" json:"failure_message,omitempty"`
	CompletedAt                *time.Time          `json:"completed_at"`
	CreatedAt                  time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt                  time.Time           `gorm:"autoUpdateTime;index" json:"updated_at"`
}

func (SettlementRecord) TableName() string {
	return "settlement_record"
}

// TerminalStatuses 终态集合，进入后任何回调都不能再改写
var TerminalStatuses = []string{SettlementStatusSucceeded, SettlementStatusRefunded}

func (r *SettlementRecord) IsTerminal() bool {
	for _, s := range TerminalStatuses {
		if r.Status == s {
			return true
		}
	}
	return false
}

// FeeReconciled 是否已写入处理方回调的真实手续费
func (r *SettlementRecord) FeeReconciled() bool {
	return r.ProcessorFeeMinor != nil
}

// EffectiveProcessorFee 真实手续费优先，否则取预估值
func (r *SettlementRecord) EffectiveProcessorFee() int64 {
	if r.ProcessorFeeMinor != nil {
		return *r.ProcessorFeeMinor
	}
	return r.EstimatedProcessorFeeMinor
}

func (r *SettlementRecord) IsParty(userID string) bool {
	return userID != "" && (userID == r.PayerID || userID == r.PayeeID)
}
