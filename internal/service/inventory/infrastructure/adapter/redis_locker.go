// internal/service/inventory/infrastructure/adapter/redis_locker.go
package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"stockpile/internal/pkg/logger"
	"stockpile/internal/pkg/redis"
	"stockpile/internal/service/inventory/domain"
)

const unlockScriptName = "unlock_product"

// RedisProductLocker 是 domain.ProductLocker 的 Redis 实现。
// SET NX PX 拿租约，释放时用 Lua 比较 token 再删除，
// 避免租约过期后误删别人的锁。
type RedisProductLocker struct {
	client        *redis.Client
	leaseTTL      time.Duration
	retryInterval time.Duration
}

var _ domain.ProductLocker = (*RedisProductLocker)(nil)

// NewRedisProductLocker 创建 Redis 商品锁。构造时注册释放脚本。
func NewRedisProductLocker(client *redis.Client) (*RedisProductLocker, error) {
	if err := client.LoadScriptFromContent(unlockScriptName, unlockScript); err != nil {
		return nil, fmt.Errorf("failed to load unlock script: %w", err)
	}
	return &RedisProductLocker{
		client:        client,
		leaseTTL:      10 * time.Second,
		retryInterval: 20 * time.Millisecond,
	}, nil
}

// Acquire 阻塞轮询直到拿到 productID 的租约或 ctx 取消
func (l *RedisProductLocker) Acquire(ctx context.Context, productID int64) (func(), error) {
	lockKey := fmt.Sprintf("inventory:lock:{%d}", productID)
	token := uuid.New().String()

	for {
		ok, err := l.client.GetClient().SetNX(ctx, lockKey, token, l.leaseTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire redis lock: %w", err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retryInterval):
		}
	}

	release := func() {
		// 释放失败只记日志，租约到期后锁自然过期
		if _, err := l.client.RunScript(context.Background(), unlockScriptName, []string{lockKey}, token); err != nil {
			logger.Logger.Error().Err(err).Str("lock_key", lockKey).Msg("failed to release redis product lock")
		}
	}
	return release, nil
}

var unlockScript = `
-- KEYS[1]: 锁的 Key, 例如: inventory:lock:{42}
-- ARGV[1]: 加锁时生成的 token

-- 只有持有者本人可以释放锁
if redis.call('get', KEYS[1]) == ARGV[1] then
    return redis.call('del', KEYS[1])
else
    return 0
end
`
