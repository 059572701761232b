package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/RecoveryAshes/PriceHawk/internal/models"
	"github.com/RecoveryAshes/PriceHawk/internal/utils"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey Redis锁的键名
const DefaultRedisKey = "pricehawk:lock:scrape"

// 只删除值与令牌一致的锁
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock 跨主机的运行锁,SET NX 加过期时间
type RedisLock struct {
	rdb   *redis.Client
	key   string
	token string
	ttl   time.Duration
}

// NewRedisLock 连接Redis并创建锁
func NewRedisLock(ctx context.Context, redisURL, key string, ttl time.Duration) (*RedisLock, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("解析Redis地址失败: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("连接Redis失败: %w", err)
	}
	return newRedisLock(rdb, key, ttl), nil
}

func newRedisLock(rdb *redis.Client, key string, ttl time.Duration) *RedisLock {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &RedisLock{
		rdb:   rdb,
		key:   key,
		token: uuid.New().String(),
		ttl:   ttl,
	}
}

// Acquire 获取锁
func (l *RedisLock) Acquire(ctx context.Context) error {
	ok, err := l.rdb.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("获取Redis锁失败: %w", err)
	}
	if !ok {
		ttl, _ := l.rdb.TTL(ctx, l.key).Result()
		return fmt.Errorf("%w: %s (剩余 %s)", models.ErrLockHeld, l.key, ttl.Round(time.Second))
	}
	utils.Logger.Debug().Str("key", l.key).Dur("ttl", l.ttl).Msg("已获取Redis运行锁")
	return nil
}

// Release 释放锁并关闭连接
func (l *RedisLock) Release(ctx context.Context) error {
	defer l.rdb.Close()
	n, err := releaseScript.Run(ctx, l.rdb, []string{l.key}, l.token).Int()
	if err != nil {
		return fmt.Errorf("释放Redis锁失败: %w", err)
	}
	if n == 0 {
		utils.Warnf("Redis运行锁已过期或被其他任务持有: %s", l.key)
	}
	return nil
}
