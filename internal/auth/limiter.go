package auth

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	loginWindow      = 15 * time.Minute
	lockDuration     = 10 * time.Minute
	maxLoginAttempts = 5
)

type attemptState struct {
	count        int
	firstAttempt time.Time
	lockedUntil  time.Time
}

// MemoryLimiter はプロセス内でログイン失敗回数を管理します。
type MemoryLimiter struct {
	lock     sync.Mutex
	attempts map[string]*attemptState
	now      func() time.Time
}

// NewMemoryLimiter は MemoryLimiter を作成します。
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		attempts: make(map[string]*attemptState),
		now:      time.Now,
	}
}

// Check はロック中であれば残り時間を返します。
func (l *MemoryLimiter) Check(_ context.Context, key string) (time.Duration, error) {
	l.lock.Lock()
	defer l.lock.Unlock()

	state, ok := l.attempts[key]
	if !ok {
		return 0, nil
	}
	now := l.now()
	if now.After(state.lockedUntil) {
		return 0, nil
	}
	return state.lockedUntil.Sub(now), nil
}

// Fail は失敗を記録し、ロックまでの残り回数を返します。
func (l *MemoryLimiter) Fail(_ context.Context, key string) (int, error) {
	l.lock.Lock()
	defer l.lock.Unlock()

	now := l.now()
	state, ok := l.attempts[key]
	// ロック明けは Redis 実装と同じく新しいウィンドウから数え直す
	lockExpired := ok && !state.lockedUntil.IsZero() && !now.Before(state.lockedUntil)
	if !ok || lockExpired || now.Sub(state.firstAttempt) > loginWindow {
		state = &attemptState{firstAttempt: now}
		l.attempts[key] = state
	}

	state.count++
	if state.count >= maxLoginAttempts {
		state.lockedUntil = now.Add(lockDuration)
		state.count = maxLoginAttempts
	}

	remaining := maxLoginAttempts - state.count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Reset は記録を削除します。
func (l *MemoryLimiter) Reset(_ context.Context, key string) error {
	l.lock.Lock()
	defer l.lock.Unlock()
	delete(l.attempts, key)
	return nil
}

const (
	attemptKeyPrefix = "login:attempts:"
	lockKeyPrefix    = "login:lock:"
)

// RedisLimiter は複数インスタンス間でログイン失敗回数を共有します。
type RedisLimiter struct {
	rdb *redis.Client
}

// NewRedisLimiter は RedisLimiter を作成します。
func NewRedisLimiter(rdb *redis.Client) *RedisLimiter {
	return &RedisLimiter{rdb: rdb}
}

// Check はロックキーの残り TTL を返します。
func (l *RedisLimiter) Check(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := l.rdb.PTTL(ctx, lockKeyPrefix+key).Result()
	if err != nil {
		return 0, err
	}
	// キーが無い場合は -2、TTL 無しは -1
	if ttl <= 0 {
		return 0, nil
	}
	return ttl, nil
}

// Fail は失敗回数を加算し、上限に達したらロックキーを設定します。
func (l *RedisLimiter) Fail(ctx context.Context, key string) (int, error) {
	attemptKey := attemptKeyPrefix + key

	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, attemptKey)
	pipe.ExpireNX(ctx, attemptKey, loginWindow)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}

	count := int(incr.Val())
	if count < maxLoginAttempts {
		return maxLoginAttempts - count, nil
	}

	lock := l.rdb.TxPipeline()
	lock.Set(ctx, lockKeyPrefix+key, 1, lockDuration)
	lock.Del(ctx, attemptKey)
	if _, err := lock.Exec(ctx); err != nil {
		return 0, err
	}
	return 0, nil
}

// Reset は失敗回数とロックを削除します。
func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	return l.rdb.Del(ctx, attemptKeyPrefix+key, lockKeyPrefix+key).Err()
}
