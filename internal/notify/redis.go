package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

var ErrUnavailable = errors.New("notification transport unavailable")

const DefaultChannel = "posledger:notifications"

// RedisPublisher publishes messages on a Redis pub/sub channel behind a
// circuit breaker. Five consecutive failures open the breaker for 30s.
type RedisPublisher struct {
	client  *redis.Client
	channel string
	cb      *gobreaker.CircuitBreaker
	logger  logrus.FieldLogger
}

func NewRedisPublisher(client *redis.Client, channel string, logger logrus.FieldLogger) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	settings := gobreaker.Settings{
		Name:        "notify-redis",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{"module": "notify", "breaker": name}).
				Warnf("[notify] WARN: circuit breaker %s -> %s", from.String(), to.String())
		},
	}
	return &RedisPublisher{
		client:  client,
		channel: channel,
		cb:      gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
	}
}

func (p *RedisPublisher) Publish(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = p.cb.Execute(func() (interface{}, error) {
		return nil, p.client.Publish(ctx, p.channel, payload).Err()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

func (p *RedisPublisher) State() gobreaker.State {
	return p.cb.State()
}

// LogPublisher writes messages to the log. Used when Redis is not configured.
type LogPublisher struct {
	logger logrus.FieldLogger
}

func NewLogPublisher(logger logrus.FieldLogger) *LogPublisher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, msg Message) error {
	p.logger.WithFields(logrus.Fields{
		"module":     "notify",
		"event":      msg.Event,
		"rule":       msg.RuleID,
		"audience":   msg.Audience,
		"recipients": msg.Recipients,
	}).Info("notification")
	return nil
}
