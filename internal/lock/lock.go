package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	redis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"posledger/backend/internal/store"
)

// Locker serializes work on a key across processes. The returned release
// func is always non-nil and safe to call once.
type Locker interface {
	Obtain(ctx context.Context, key string) (release func(), err error)
}

type Noop struct{}

func (Noop) Obtain(_ context.Context, _ string) (func(), error) {
	return func() {}, nil
}

type RedisLocker struct {
	client *redislock.Client
	ttl    time.Duration
	retry  redislock.RetryStrategy
	logger logrus.FieldLogger
}

func NewRedisLocker(rdb *redis.Client, ttl time.Duration, logger logrus.FieldLogger) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RedisLocker{
		client: redislock.New(rdb),
		ttl:    ttl,
		retry:  redislock.LimitRetry(redislock.LinearBackoff(50*time.Millisecond), 10),
		logger: logger,
	}
}

func (l *RedisLocker) Obtain(ctx context.Context, key string) (func(), error) {
	lk, err := l.client.Obtain(ctx, "posledger:lock:"+key, l.ttl, &redislock.Options{RetryStrategy: l.retry})
	if errors.Is(err, redislock.ErrNotObtained) {
		return func() {}, fmt.Errorf("%w: %s is busy", store.ErrConflict, key)
	}
	if err != nil {
		return func() {}, err
	}
	return func() {
		// Detached so a cancelled request still frees the key.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := lk.Release(releaseCtx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			l.logger.WithFields(logrus.Fields{"module": "lock", "key": key}).Warnf("[lock] WARN: release failed: %v", err)
		}
	}, nil
}
