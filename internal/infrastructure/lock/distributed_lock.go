package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// 分布式锁实现
// ============================================================================
//
// 【为什么需要分布式锁？】
//
// 场景：发布人在两台设备上同时点击"付款"（或网络抖动导致重复提交）
//
// 如果没有分布式锁：
//   请求1: 查询结算记录=无 -> 创建 payment_intent A -> 写入记录(A)
//   请求2: 查询结算记录=无 -> 创建 payment_intent B -> 覆盖记录(B)
//   处理方侧出现两笔待支付的扣款，A 的回调只能靠兜底匹配
//
// 加了分布式锁：
//   请求1: 获取锁 -> 查询=无 -> 创建 A -> 写入记录(A) -> 释放锁
//   请求2: 等待... -> 获取锁 -> 查询=记录(A)，A 仍待支付 -> 复用 A 的 client_secret
//
// 【Redis 分布式锁原理】
//
// 加锁：SET key value NX EX timeout
//   - NX: 只有 key 不存在时才设置（保证互斥）
//   - EX: 设置过期时间（防止死锁）
//   - value: 锁持有者标识（释放时验证，防止误删别人的锁）
//
// 释放锁：使用 Lua 脚本保证原子性
//   - 先检查 value 是否是自己的
//   - 再删除 key
//
// ============================================================================

var (
	ErrLockFailed  = errors.New("获取分布式锁失败")
	ErrLockExpired = errors.New("锁已过期")
)

// DistributedLock 分布式锁
type DistributedLock struct {
	client     *redis.Client
	key        string        // 锁的 key
	value      string        // 锁的 value（用于验证锁的持有者）
	expiration time.Duration // 锁的过期时间
}

// NewDistributedLock 创建分布式锁
func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock 尝试获取锁（非阻塞）
//
// 【关键点】使用 SetNX 命令，只有当 key 不存在时才能设置成功
// 这保证了同一时刻只有一个客户端能获取到锁
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	// SET key value NX EX timeout
	// NX: 只有 key 不存在时才设置
	// EX: 设置过期时间，防止死锁（持有锁的进程崩溃时，锁会自动释放）
	success, err := l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
	if err != nil {
		return false, err
	}
	return success, nil
}

// Lock 阻塞式获取锁（带重试）
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		// 等待一段时间后重试
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
			// 继续重试
		}
	}
	return ErrLockFailed
}

// Unlock 释放锁
//
// 【关键点】使用 Lua 脚本保证"检查+删除"操作的原子性
//
// 为什么要检查 value？
//
//	场景：A 获取锁 -> A 处理超时，锁自动过期 -> B 获取锁 -> A 执行完毕，调用 Unlock
//	如果不检查 value，A 会把 B 的锁删掉！
//
//	使用 value 验证后：
//	A 的 Unlock 发现 value 不是自己的，不会删除，B 的锁安全
func (l *DistributedLock) Unlock(ctx context.Context) error {
	// Lua 脚本：检查 value 是否匹配，匹配则删除
	// 使用 Lua 脚本保证原子性，避免"检查-删除"之间的并发问题
	script := `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`
	n, err := l.client.Eval(ctx, script, []string{l.key}, l.value).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		// 锁已过期或已被他人持有，业务已完成，只需让调用方记录日志
		return ErrLockExpired
	}
	return nil
}

// ============================================================================
// 扣款锁
// ============================================================================

// NewChargeLock 创建扣款锁（按 任务+付款人 维度）
//
// 【设计思考】锁粒度选择 (job_id, payer_id)，与结算记录的唯一键一致：
// 同一任务的重复付款请求串行，不同任务之间互不影响
func NewChargeLock(client *redis.Client, jobID, payerID, owner string, ttl time.Duration) *DistributedLock {
	return NewDistributedLock(client, ChargeLockKey(jobID, payerID), owner, ttl)
}

func ChargeLockKey(jobID, payerID string) string {
	return fmt.Sprintf("settlement:lock:charge:%s:%s", jobID, payerID)
}

// RedisLocker 面向业务层的加锁入口
type RedisLocker struct {
	client        *redis.Client
	ttl           time.Duration
	retryInterval time.Duration
	maxRetries    int
}

func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{
		client:        client,
		ttl:           ttl,
		retryInterval: 100 * time.Millisecond,
		maxRetries:    30,
	}
}

// LockCharge 获取扣款锁，返回释放函数
func (l *RedisLocker) LockCharge(ctx context.Context, jobID, payerID, owner string) (func(context.Context) error, error) {
	chargeLock := NewChargeLock(l.client, jobID, payerID, owner, l.ttl)
	if err := chargeLock.Lock(ctx, l.retryInterval, l.maxRetries); err != nil {
		return nil, err
	}
	return chargeLock.Unlock, nil
}
