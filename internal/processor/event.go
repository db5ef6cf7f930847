package processor

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EventKind 关心的事件类型，其余类型统一归为 KindUnhandled
type EventKind string

const (
	KindChargeSucceeded        EventKind = "charge.succeeded"
	KindPaymentIntentSucceeded EventKind = "payment_intent.succeeded"
	KindPaymentIntentFailed    EventKind = "payment_intent.payment_failed"
	KindAccountUpdated         EventKind = "account.updated"
	KindUnhandled              EventKind = "unhandled"
)

var ErrMalformedEvent = errors.New("事件格式错误")

// Event 已验签的处理方事件
//
// Payload 是封闭的联合类型，只可能是下面四种具体类型之一或 Unhandled
type Event struct {
	ID      string
	Type    string
	Created time.Time
	Payload Payload
}

func (e *Event) Kind() EventKind {
	if e.Payload == nil {
		return KindUnhandled
	}
	return e.Payload.Kind()
}

type Payload interface {
	Kind() EventKind
	sealed()
}

type ChargeSucceeded struct {
	Charge Charge
}

type PaymentIntentSucceeded struct {
	Intent PaymentIntent
}

type PaymentIntentFailed struct {
	Intent PaymentIntent
}

type AccountUpdated struct {
	Account Account
}

// Unhandled 不处理的事件类型，直接确认
type Unhandled struct {
	Type string
}

func (ChargeSucceeded) Kind() EventKind        { return KindChargeSucceeded }
func (PaymentIntentSucceeded) Kind() EventKind { return KindPaymentIntentSucceeded }
func (PaymentIntentFailed) Kind() EventKind    { return KindPaymentIntentFailed }
func (AccountUpdated) Kind() EventKind         { return KindAccountUpdated }
func (Unhandled) Kind() EventKind              { return KindUnhandled }

func (ChargeSucceeded) sealed()        {}
func (PaymentIntentSucceeded) sealed() {}
func (PaymentIntentFailed) sealed()    {}
func (AccountUpdated) sealed()         {}
func (Unhandled) sealed()              {}

type rawEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// ParseEvent 解析回调事件，必须在验签之后调用
//
// 每种事件类型校验自己的必填字段，缺失时返回 ErrMalformedEvent，
// 调用方不需要再做可选字段判空
func ParseEvent(payload []byte) (*Event, error) {
	var raw rawEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if raw.ID == "" || raw.Type == "" {
		return nil, fmt.Errorf("%w: 缺少 id 或 type", ErrMalformedEvent)
	}

	event := &Event{
		ID:      raw.ID,
		Type:    raw.Type,
		Created: time.Unix(raw.Created, 0),
	}

	switch EventKind(raw.Type) {
	case KindChargeSucceeded:
		var c Charge
		if err := decodeObject(raw.Data.Object, &c); err != nil {
			return nil, err
		}
		if c.ID == "" {
			return nil, fmt.Errorf("%w: charge 缺少 id", ErrMalformedEvent)
		}
		event.Payload = ChargeSucceeded{Charge: c}

	case KindPaymentIntentSucceeded, KindPaymentIntentFailed:
		var pi PaymentIntent
		if err := decodeObject(raw.Data.Object, &pi); err != nil {
			return nil, err
		}
		if pi.ID == "" {
			return nil, fmt.Errorf("%w: payment_intent 缺少 id", ErrMalformedEvent)
		}
		if EventKind(raw.Type) == KindPaymentIntentSucceeded {
			event.Payload = PaymentIntentSucceeded{Intent: pi}
		} else {
			event.Payload = PaymentIntentFailed{Intent: pi}
		}

	case KindAccountUpdated:
		var acct Account
		if err := decodeObject(raw.Data.Object, &acct); err != nil {
			return nil, err
		}
		if acct.ID == "" {
			return nil, fmt.Errorf("%w: account 缺少 id", ErrMalformedEvent)
		}
		event.Payload = AccountUpdated{Account: acct}

	default:
		event.Payload = Unhandled{Type: raw.Type}
	}

	return event, nil
}

func decodeObject(data json.RawMessage, out interface{}) error {
	if isNull(data) {
		return fmt.Errorf("%w: 缺少 data.object", ErrMalformedEvent)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return nil
}
