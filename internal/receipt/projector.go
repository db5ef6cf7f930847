// Package receipt 把结算记录投影成付款方 / 收款方两种回执视图，只读不修改
package receipt

import (
	"time"

	"campuspay/internal/fee"
	"campuspay/internal/model"
	"campuspay/internal/policy"
)

const (
	LabelAmountPaid     = "amount_paid"
	LabelAmountReceived = "amount_received"
)

// Receipt 面向某一方的回执
//
// 付款方看到的主金额是实付总额，收款方看到的是到账净额；两者都带费用明细
type Receipt struct {
	SettlementID   string      `json:"settlement_id"`
	SettlementNo   string      `json:"settlement_no"`
	JobID          string      `json:"job_id"`
	Role           policy.Role `json:"role"`
	CounterpartyID string      `json:"counterparty_id"`
	Status         string      `json:"status"`
	Currency       string      `json:"currency"`
	AmountLabel    string      `json:"amount_label"`
	AmountMinor    int64       `json:"amount_minor"`
	AmountDisplay  string      `json:"amount_display"`
	Breakdown      Breakdown   `json:"breakdown"`
	FailureMessage string      `json:"failure_message,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	CompletedAt    *time.Time  `json:"completed_at,omitempty"`
}

type Breakdown struct {
	TotalAmountMinor      int64  `json:"total_amount_minor"`
	PlatformFeeMinor      int64  `json:"platform_fee_minor"`
	PlatformFeePercent    string `json:"platform_fee_percent"`
	ProcessorFeeMinor     int64  `json:"processor_fee_minor"`
	ProcessorFeeEstimated bool   `json:"processor_fee_estimated"`
	ProcessorFeePercent   string `json:"processor_fee_percent,omitempty"`
	NetAmountMinor        int64  `json:"net_amount_minor"`

	TotalDisplay        string `json:"total_display"`
	PlatformFeeDisplay  string `json:"platform_fee_display"`
	ProcessorFeeDisplay string `json:"processor_fee_display"`
	NetDisplay          string `json:"net_display"`
}

// Project 按查看者角色生成回执，查看者不是任何一方时返回 ErrForbidden 且不带任何字段
func Project(rec *model.SettlementRecord, viewerID string) (*Receipt, error) {
	role, err := policy.RoleOf(rec, viewerID)
	if err != nil {
		return nil, err
	}

	r := &Receipt{
		SettlementID:   rec.ID,
		SettlementNo:   rec.SettlementNo,
		JobID:          rec.JobID,
		Role:           role,
		Status:         rec.Status,
		Currency:       rec.Currency,
		Breakdown:      breakdownOf(rec),
		FailureMessage: rec.FailureMessage,
		CreatedAt:      rec.CreatedAt,
		CompletedAt:    rec.CompletedAt,
	}

	switch role {
	case policy.RolePayer:
		r.CounterpartyID = rec.PayeeID
		r.AmountLabel = LabelAmountPaid
		r.AmountMinor = rec.TotalAmountMinor
	case policy.RolePayee:
		r.CounterpartyID = rec.PayerID
		r.AmountLabel = LabelAmountReceived
		r.AmountMinor = rec.NetAmountMinor
	}
	r.AmountDisplay = fee.FormatMinor(r.AmountMinor, rec.Currency)
	return r, nil
}

func breakdownOf(rec *model.SettlementRecord) Breakdown {
	processorFee := rec.EffectiveProcessorFee()
	b := Breakdown{
		TotalAmountMinor:      rec.TotalAmountMinor,
		PlatformFeeMinor:      rec.PlatformFeeMinor,
		PlatformFeePercent:    rec.PlatformFeePercent.StringFixed(2),
		ProcessorFeeMinor:     processorFee,
		ProcessorFeeEstimated: !rec.FeeReconciled(),
		NetAmountMinor:        rec.NetAmountMinor,

		TotalDisplay:        fee.FormatMinor(rec.TotalAmountMinor, rec.Currency),
		PlatformFeeDisplay:  fee.FormatMinor(rec.PlatformFeeMinor, rec.Currency),
		ProcessorFeeDisplay: fee.FormatMinor(processorFee, rec.Currency),
		NetDisplay:          fee.FormatMinor(rec.NetAmountMinor, rec.Currency),
	}
	if rec.ProcessorFeePercent.Valid {
		b.ProcessorFeePercent = rec.ProcessorFeePercent.Decimal.StringFixed(4)
	}
	return b
}

// Snapshot 对账后的中性账本快照，随回调确认一起返回，便于排查
type Snapshot struct {
	SettlementID        string    `json:"settlement_id"`
	ExternalChargeRef   string    `json:"external_charge_ref"`
	JobID               string    `json:"job_id"`
	PayerID             string    `json:"payer_id"`
	TotalAmountMinor    int64     `json:"total_amount_minor"`
	PlatformFeeMinor    int64     `json:"platform_fee_minor"`
	ProcessorFeeMinor   *int64    `json:"processor_fee_minor"`
	ProcessorFeePercent string    `json:"processor_fee_percent,omitempty"`
	NetAmountMinor      int64     `json:"net_amount_minor"`
	Currency            string    `json:"currency"`
	Status              string    `json:"status"`
	UpdatedAt           time.Time `json:"updated_at"`
}

func SnapshotOf(rec *model.SettlementRecord) *Snapshot {
	if rec == nil {
		return nil
	}
	s := &Snapshot{
		SettlementID:      rec.ID,
		ExternalChargeRef: rec.ExternalChargeRef,
		JobID:             rec.JobID,
		PayerID:           rec.PayerID,
		TotalAmountMinor:  rec.TotalAmountMinor,
		PlatformFeeMinor:  rec.PlatformFeeMinor,
		ProcessorFeeMinor: rec.ProcessorFeeMinor,
		NetAmountMinor:    rec.NetAmountMinor,
		Currency:          rec.Currency,
		Status:            rec.Status,
		UpdatedAt:         rec.UpdatedAt,
	}
	if rec.ProcessorFeePercent.Valid {
		s.ProcessorFeePercent = rec.ProcessorFeePercent.Decimal.StringFixed(4)
	}
	return s
}
