// Package retry 统一的重试策略
//
// 替代各调用点各自手写的"失败-等待-再试一次"逻辑：
// 调用方声明 {MaxAttempts, Backoff}，由 Do 统一执行
package retry

import (
	"context"
	"time"
)

// Policy 重试策略
type Policy struct {
	MaxAttempts int           // 总尝试次数（含首次），<=1 表示不重试
	Backoff     time.Duration // 首次重试前的等待时间
	Multiplier  float64       // 每次重试后等待时间的放大倍数，<=1 表示固定间隔

	// Retryable 判断错误是否值得重试，为空时所有错误都重试
	Retryable func(error) bool
}

// Once 失败后等待 backoff 再试一次
func Once(backoff time.Duration) Policy {
	return Policy{MaxAttempts: 2, Backoff: backoff}
}

// Do 按策略执行 fn，attempt 从 1 开始
//
// 返回最后一次的错误；ctx 取消时立即返回 ctx.Err()
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	wait := p.Backoff
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if attempt == attempts || (p.Retryable != nil && !p.Retryable(err)) {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		if p.Multiplier > 1 {
			wait = time.Duration(float64(wait) * p.Multiplier)
		}
	}
	return err
}
