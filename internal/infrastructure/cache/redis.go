package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"chatledger/internal/config"
	"chatledger/internal/model"

	"github.com/go-redis/redis/v8"
)

// InitRedis 创建 Redis 客户端并检查连通性
func InitRedis(cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return client, nil
}

// ============================================================================
// 账本缓存
// ============================================================================
//
// 【统计缓存】
//
// 每个 chat 维护一个版本号 ledger:chat:{id}:ver，任何写操作成功后 INCR。
// 统计结果缓存在 ledger:stats:{id}:{ver}:{yyyy-mm}，版本变化后旧 key 不再命中，
// 靠 TTL 自然过期，不需要逐个删除。
//
// 【待对账周期】
//
// 汇总增量失败时把 "{chat_id}:{yyyy-mm}" 加入集合 ledger:reconcile:dirty，
// 由对账任务取出后重算。
//
// client 为 nil 时所有方法都是空操作，调用方不需要判断是否启用了 Redis。

const dirtyPeriodsKey = "ledger:reconcile:dirty"

type LedgerCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewLedgerCache(client *redis.Client, ttl time.Duration) *LedgerCache {
	return &LedgerCache{client: client, ttl: ttl}
}

func (c *LedgerCache) Enabled() bool {
	return c != nil && c.client != nil
}

func versionKey(chatID int64) string {
	return fmt.Sprintf("ledger:chat:%d:ver", chatID)
}

func statsKey(chatID, version int64, p model.Period) string {
	return fmt.Sprintf("ledger:stats:%d:%d:%s", chatID, version, p)
}

// Version 当前版本号，从未写过时为 0
func (c *LedgerCache) Version(ctx context.Context, chatID int64) (int64, error) {
	if !c.Enabled() {
		return 0, nil
	}
	v, err := c.client.Get(ctx, versionKey(chatID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

// BumpVersion 使该 chat 的全部统计缓存失效
func (c *LedgerCache) BumpVersion(ctx context.Context, chatID int64) error {
	if !c.Enabled() {
		return nil
	}
	return c.client.Incr(ctx, versionKey(chatID)).Err()
}

// GetStats 未命中时返回 (nil, false, nil)
func (c *LedgerCache) GetStats(ctx context.Context, chatID, version int64, p model.Period) ([]byte, bool, error) {
	if !c.Enabled() {
		return nil, false, nil
	}
	data, err := c.client.Get(ctx, statsKey(chatID, version, p)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (c *LedgerCache) SetStats(ctx context.Context, chatID, version int64, p model.Period, data []byte) error {
	if !c.Enabled() {
		return nil
	}
	return c.client.Set(ctx, statsKey(chatID, version, p), data, c.ttl).Err()
}

// DirtyPeriod 待重算的周期
type DirtyPeriod struct {
	ChatID int64
	Period model.Period
}

func (d DirtyPeriod) String() string {
	return fmt.Sprintf("%d:%s", d.ChatID, d.Period)
}

func parseDirtyPeriod(s string) (DirtyPeriod, error) {
	chatPart, periodPart, ok := strings.Cut(s, ":")
	if !ok {
		return DirtyPeriod{}, fmt.Errorf("待对账周期格式错误: %q", s)
	}
	chatID, err := strconv.ParseInt(chatPart, 10, 64)
	if err != nil {
		return DirtyPeriod{}, fmt.Errorf("待对账周期格式错误: %q", s)
	}
	t, err := time.Parse("2006-01", periodPart)
	if err != nil {
		return DirtyPeriod{}, fmt.Errorf("待对账周期格式错误: %q", s)
	}
	return DirtyPeriod{ChatID: chatID, Period: model.PeriodOf(t)}, nil
}

// MarkDirty 记录一个需要对账的周期，重复记录只保留一份
func (c *LedgerCache) MarkDirty(ctx context.Context, chatID int64, p model.Period) error {
	if !c.Enabled() {
		return nil
	}
	return c.client.SAdd(ctx, dirtyPeriodsKey, DirtyPeriod{ChatID: chatID, Period: p}.String()).Err()
}

// PopDirty 最多取出 n 个待对账周期，取出即从集合中移除
//
// 格式损坏的成员直接丢弃。
func (c *LedgerCache) PopDirty(ctx context.Context, n int) ([]DirtyPeriod, error) {
	if !c.Enabled() || n <= 0 {
		return nil, nil
	}
	members, err := c.client.SPopN(ctx, dirtyPeriodsKey, int64(n)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	out := make([]DirtyPeriod, 0, len(members))
	for _, m := range members {
		d, err := parseDirtyPeriod(m)
		if err != nil {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}
