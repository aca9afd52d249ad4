package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// 只有值匹配时才删除/续期，防止误删其他持有者的锁
var (
	releaseScript = goredis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`)
	renewScript = goredis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`)
)

// Lock 基于 SET NX PX 的简单锁
type Lock struct {
	c     *goredis.Client
	key   string
	value string
	ttl   time.Duration
}

func NewLock(c *goredis.Client, key string, ttl time.Duration) *Lock {
	return &Lock{c: c, key: key, value: uuid.NewString(), ttl: ttl}
}

func (l *Lock) Key() string { return l.key }

// TryAcquire 获取成功返回 true；已持有时视为续期
func (l *Lock) TryAcquire(ctx context.Context) (bool, error) {
	ok, err := l.c.SetNX(ctx, l.key, l.value, l.ttl).Result()
	if err != nil || ok {
		return ok, err
	}
	return l.Renew(ctx)
}

// Renew 仍持有时延长 TTL
func (l *Lock) Renew(ctx context.Context) (bool, error) {
	n, err := renewScript.Run(ctx, l.c, []string{l.key}, l.value, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Release 返回 false 表示锁已过期或被他人持有
func (l *Lock) Release(ctx context.Context) (bool, error) {
	n, err := releaseScript.Run(ctx, l.c, []string{l.key}, l.value).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
