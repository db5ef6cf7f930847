package processor

import (
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v76/webhook"
)

// DefaultTolerance 回调时间戳允许的最大偏差
const DefaultTolerance = 5 * time.Minute

var (
	ErrMissingSignature = errors.New("缺少签名头")
	ErrInvalidHeader    = errors.New("签名头格式错误")
	ErrNoValidSignature = errors.New("没有匹配的签名")
	ErrTimestampTooOld  = errors.New("签名时间戳超出允许范围")
	ErrMissingSecret    = errors.New("未配置回调密钥")
)

// ============================================================================
// 回调签名校验
// ============================================================================
//
// 签名头格式：t=<unix 时间戳>,v1=<hex 签名>[,v1=<hex 签名>...]
// 签名内容：HMAC-SHA256(secret, "<t>.<原始请求体>")，由 stripe-go 的 webhook 包计算和比较
//
// 【关键点】
//   - 必须对原始字节校验签名，不能先解析 JSON 再序列化
//   - 时间戳超出容忍范围视为重放，拒绝
//   - 密钥轮换期间处理方会同时携带多个 v1 签名，任意一个匹配即通过
//   - 只做验签，事件解析仍由 ParseEvent 完成，不受 SDK 的 API 版本校验影响
//
// ============================================================================

// VerifySignature 校验原始请求体的签名，tolerance <= 0 时不校验时间戳
func VerifySignature(payload []byte, header, secret string, tolerance time.Duration) error {
	if secret == "" {
		return ErrMissingSecret
	}
	if header == "" {
		return ErrMissingSignature
	}

	var err error
	if tolerance > 0 {
		err = webhook.ValidatePayloadWithTolerance(payload, header, secret, tolerance)
	} else {
		err = webhook.ValidatePayloadIgnoringTolerance(payload, header, secret)
	}
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, webhook.ErrTooOld):
		return fmt.Errorf("%w: %v", ErrTimestampTooOld, err)
	case errors.Is(err, webhook.ErrInvalidHeader):
		return fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	case errors.Is(err, webhook.ErrNotSigned):
		return fmt.Errorf("%w: %v", ErrMissingSignature, err)
	default:
		return fmt.Errorf("%w: %v", ErrNoValidSignature, err)
	}
}

// SignPayload 生成签名头，用于本地联调和测试
func SignPayload(payload []byte, secret string, ts time.Time) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: ts,
	}).Header
}
