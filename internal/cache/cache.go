package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"
)

// Store is a byte-oriented TTL cache. A miss is (nil, false, nil).
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

type Noop struct{}

func (Noop) Get(_ context.Context, _ string) ([]byte, bool, error) {
	return nil, false, nil
}

func (Noop) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error {
	return nil
}

func (Noop) Delete(_ context.Context, _ ...string) error {
	return nil
}

type Loader[A any, T any] func(ctx context.Context, arg A) (T, error)

// ReadThrough wraps load so results are served from s when present and
// written back after a successful load. Cache failures degrade to a plain
// load; they are logged, never returned.
func ReadThrough[A any, T any](s Store, ttl time.Duration, key func(A) string, load Loader[A, T], logger logrus.FieldLogger) Loader[A, T] {
	if s == nil {
		return load
	}
	return func(ctx context.Context, arg A) (T, error) {
		k := key(arg)
		if raw, ok, err := s.Get(ctx, k); err != nil {
			warn(logger, "get", k, err)
		} else if ok {
			var cached T
			if err := json.Unmarshal(raw, &cached); err == nil {
				return cached, nil
			}
			warn(logger, "decode", k, err)
		}

		value, err := load(ctx, arg)
		if err != nil {
			return value, err
		}
		payload, err := json.Marshal(value)
		if err != nil {
			warn(logger, "encode", k, err)
			return value, nil
		}
		if err := s.Set(ctx, k, payload, ttl); err != nil {
			warn(logger, "set", k, err)
		}
		return value, nil
	}
}

func warn(logger logrus.FieldLogger, op string, key string, err error) {
	if logger == nil || err == nil {
		return
	}
	logger.WithFields(logrus.Fields{"module": "cache", "op": op, "key": key}).Warnf("[cache] WARN: %v", err)
}
