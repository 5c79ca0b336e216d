package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chatledger/internal/model"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// 分布式锁实现
// ============================================================================
//
// 【用在哪里？】
//
// 对账会整体重写一个周期的汇总（按流水重新聚合 + 覆盖）。
// 如果与流水的增删改交错：
//   写入: 写流水 ----------------------------> 汇总 +1
//   对账:           聚合(已含新流水) -> 覆盖
// 新流水被聚合计入一次，随后的增量又加一次，汇总永久多记。
//
// 所以流水写入（写流水 + 更新汇总）和对账按 (chat, 周期) 使用同一把锁：
// 两者对同一周期串行，不同周期互不影响。
//
// 【Redis 分布式锁原理】
//
// 加锁：SET key value NX EX timeout
//   - NX: 只有 key 不存在时才设置（保证互斥）
//   - EX: 设置过期时间（持有者崩溃后锁自动释放）
//   - value: 锁持有者标识（释放时验证，防止误删别人的锁）
//
// 释放锁：Lua 脚本中先比较 value 再删除
//
// ============================================================================

var (
	ErrLockFailed = errors.New("获取分布式锁失败")
	ErrNotHeld    = errors.New("锁不属于当前持有者或已过期")
)

// 检查 value 后删除，两步在 Redis 内原子执行
var unlockScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

// DistributedLock 分布式锁
type DistributedLock struct {
	client     *redis.Client
	key        string        // 锁的 key
	value      string        // 锁的 value（用于验证锁的持有者）
	expiration time.Duration // 锁的过期时间
}

func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock 尝试获取锁（非阻塞）
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
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
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

// Unlock 释放锁
//
// 【关键点】A 持锁超时、锁过期后被 B 获取，A 再调用 Unlock 时
// value 不匹配，不会删掉 B 的锁，此时返回 ErrNotHeld。
func (l *DistributedLock) Unlock(ctx context.Context) error {
	n, err := unlockScript.Run(ctx, l.client, []string{l.key}, l.value).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

// NewPeriodLock 周期锁（按 chat + 周期维度），流水写入和对账共用
//
// owner 标识持有者，每次加锁都应不同，便于排查是谁持有锁。
func NewPeriodLock(client *redis.Client, chatID int64, p model.Period, owner string) *DistributedLock {
	key := fmt.Sprintf("ledger:lock:period:%d:%s", chatID, p)
	return NewDistributedLock(client, key, owner, 60*time.Second)
}
