// Package processor 外部支付处理方（基于 stripe-go）的客户端、回调签名校验与事件解析
package processor

import (
	"bytes"
	"encoding/json"
)

// PaymentIntent 状态
const (
	IntentRequiresPaymentMethod = "requires_payment_method"
	IntentRequiresConfirmation  = "requires_confirmation"
	IntentRequiresAction        = "requires_action"
	IntentProcessing            = "processing"
	IntentRequiresCapture       = "requires_capture"
	IntentSucceeded             = "succeeded"
	IntentCanceled              = "canceled"
)

// 元数据键：创建扣款时写入，回调时作为兜底匹配键
const (
	MetaJobID   = "job_id"
	MetaPayerID = "payer_user_id"
	MetaPayeeID = "payee_user_id"
)

type Metadata map[string]string

func (m Metadata) JobID() string   { return m[MetaJobID] }
func (m Metadata) PayerID() string { return m[MetaPayerID] }
func (m Metadata) PayeeID() string { return m[MetaPayeeID] }

// HasSettlementKey 是否带有 (job_id, payer_user_id) 兜底匹配键
func (m Metadata) HasSettlementKey() bool {
	return m.JobID() != "" && m.PayerID() != ""
}

type PaymentIntent struct {
	ID                   string            `json:"id"`
	Amount               int64             `json:"amount"`
	Currency             string            `json:"currency"`
	Status               string            `json:"status"`
	ClientSecret         string            `json:"client_secret"`
	ApplicationFeeAmount int64             `json:"application_fee_amount"`
	Metadata             Metadata          `json:"metadata"`
	LatestCharge         ChargeRef         `json:"latest_charge"`
	Charges              *ChargeList       `json:"charges,omitempty"`
	LastPaymentError     *LastPaymentError `json:"last_payment_error,omitempty"`
}

// AwaitingPayment 付款方尚未完成支付，可以复用 client_secret
func (pi *PaymentIntent) AwaitingPayment() bool {
	switch pi.Status {
	case IntentRequiresPaymentMethod, IntentRequiresConfirmation, IntentRequiresAction:
		return true
	}
	return false
}

// FirstCharge 优先取 latest_charge，旧版 API 回退到 charges.data[0]
func (pi *PaymentIntent) FirstCharge() ChargeRef {
	if pi.LatestCharge.ID != "" {
		return pi.LatestCharge
	}
	if pi.Charges != nil && len(pi.Charges.Data) > 0 {
		c := pi.Charges.Data[0]
		return ChargeRef{ID: c.ID, Expanded: &c}
	}
	return ChargeRef{}
}

// FailureMessage 处理方返回的失败原因
func (pi *PaymentIntent) FailureMessage() string {
	if pi.LastPaymentError == nil {
		return ""
	}
	return pi.LastPaymentError.Message
}

type LastPaymentError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ChargeList struct {
	Data []Charge `json:"data"`
}

type Charge struct {
	ID                   string                `json:"id"`
	Amount               int64                 `json:"amount"`
	ApplicationFeeAmount int64                 `json:"application_fee_amount"`
	Currency             string                `json:"currency"`
	Status               string                `json:"status"`
	PaymentIntent        string                `json:"payment_intent"`
	BalanceTransaction   BalanceTransactionRef `json:"balance_transaction"`
	Metadata             Metadata              `json:"metadata"`
	FailureMessage       string                `json:"failure_message"`
}

// BalanceTransaction 资金流水，fee 为处理方实际收取的手续费，是唯一可信的手续费来源
type BalanceTransaction struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Fee      int64  `json:"fee"`
	Net      int64  `json:"net"`
	Currency string `json:"currency"`
}

type Account struct {
	ID             string `json:"id"`
	PayoutsEnabled bool   `json:"payouts_enabled"`
	ChargesEnabled bool   `json:"charges_enabled"`
}

// ChargeRef 可展开字段：可能是字符串 id，也可能是完整的 charge 对象
type ChargeRef struct {
	ID       string
	Expanded *Charge
}

func (r *ChargeRef) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		return nil
	}
	if data[0] == '"' {
		return json.Unmarshal(data, &r.ID)
	}
	var c Charge
	if err := json.Unmarshal(data, &c); err != nil {
		return err
	}
	r.ID = c.ID
	r.Expanded = &c
	return nil
}

func (r ChargeRef) MarshalJSON() ([]byte, error) {
	if r.Expanded != nil {
		return json.Marshal(r.Expanded)
	}
	if r.ID == "" {
		return []byte("null"), nil
	}
	return json.Marshal(r.ID)
}

// BalanceTransactionRef 可展开字段：字符串 id 或完整的 balance_transaction 对象
type BalanceTransactionRef struct {
	ID       string
	Expanded *BalanceTransaction
}

func (r *BalanceTransactionRef) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		return nil
	}
	if data[0] == '"' {
		return json.Unmarshal(data, &r.ID)
	}
	var bt BalanceTransaction
	if err := json.Unmarshal(data, &bt); err != nil {
		return err
	}
	r.ID = bt.ID
	r.Expanded = &bt
	return nil
}

func (r BalanceTransactionRef) MarshalJSON() ([]byte, error) {
	if r.Expanded != nil {
		return json.Marshal(r.Expanded)
	}
	if r.ID == "" {
		return []byte("null"), nil
	}
	return json.Marshal(r.ID)
}

func isNull(data []byte) bool {
	data = bytes.TrimSpace(data)
	return len(data) == 0 || bytes.Equal(data, []byte("null"))
}
