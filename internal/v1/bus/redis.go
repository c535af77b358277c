// Package bus wraps the shared Redis instance: pub/sub channels, the per-room
// presence hashes, and per-connection subscriber links.
package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/driftchat/driftchat/internal/v1/logging"
	"github.com/driftchat/driftchat/internal/v1/metrics"
)

// Service owns the process-wide publisher link. Concurrent publishes are
// serialized by the go-redis connection pool; callers share one Service.
type Service struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

// Client returns the underlying Redis client.
func (s *Service) Client() *redis.Client {
	if s == nil {
		return nil
	}
	return s.client
}

// NewService creates the shared publisher connection and verifies it.
func NewService(addr, password string) (*Service, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("redis").Set(stateVal)
		},
	}

	logging.Info(ctx, "Connected to Redis", zap.String("addr", addr))
	return &Service{
		client: rdb,
		cb:     gobreaker.NewCircuitBreaker(st),
	}, nil
}

// Publish sends a raw payload to a channel. Delivery is best-effort: failures
// are logged and counted, an open breaker drops the payload without error.
func (s *Service) Publish(ctx context.Context, channel string, payload []byte) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.Publish(ctx, channel, payload).Err()
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			metrics.BusPublishes.WithLabelValues("dropped").Inc()
			logging.Warn(ctx, "Redis circuit breaker open: dropping publish", zap.String("channel", channel))
			return nil
		}
		metrics.BusPublishes.WithLabelValues("error").Inc()
		logging.Error(ctx, "Redis publish failed", zap.String("channel", channel), zap.Error(err))
		return err
	}

	metrics.BusPublishes.WithLabelValues("ok").Inc()
	return nil
}

// HSet writes one field of a bus hash. Used for presence entries keyed by
// connection id; writes are idempotent so retries and races are harmless.
func (s *Service) HSet(ctx context.Context, key, field, value string) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.HSet(ctx, key, field, value).Err()
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			logging.Warn(ctx, "Redis circuit breaker open: skipping HSET", zap.String("key", key))
			return nil
		}
		logging.Error(ctx, "Redis HSET failed", zap.String("key", key), zap.String("field", field), zap.Error(err))
		return fmt.Errorf("failed to set hash field: %w", err)
	}
	return nil
}

// HDel removes fields of a bus hash.
func (s *Service) HDel(ctx context.Context, key string, fields ...string) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.HDel(ctx, key, fields...).Err()
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			logging.Warn(ctx, "Redis circuit breaker open: skipping HDEL", zap.String("key", key))
			return nil
		}
		logging.Error(ctx, "Redis HDEL failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("failed to delete hash field: %w", err)
	}
	return nil
}

// HGetAll reads a full bus hash.
func (s *Service) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	res, err := s.cb.Execute(func() (interface{}, error) {
		return s.client.HGetAll(ctx, key).Result()
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			logging.Warn(ctx, "Redis circuit breaker open: returning empty hash", zap.String("key", key))
			return map[string]string{}, nil
		}
		logging.Error(ctx, "Redis HGETALL failed", zap.String("key", key), zap.Error(err))
		return nil, fmt.Errorf("failed to read hash: %w", err)
	}
	return res.(map[string]string), nil
}

// Ping checks Redis connectivity. Used by health checks.
func (s *Service) Ping(ctx context.Context) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.Ping(ctx).Err()
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
		}
		return err
	}
	return nil
}

// Close shuts down the publisher connection.
func (s *Service) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Subscriber is one connection's independent subscriber link. Channels can be
// added and removed while the listen loop is running; frames on one channel
// are delivered in publish order.
type Subscriber struct {
	pubsub *redis.PubSub
}

// NewSubscriber opens a dedicated subscriber link with no initial channels.
func (s *Service) NewSubscriber(ctx context.Context) *Subscriber {
	return &Subscriber{pubsub: s.client.Subscribe(ctx)}
}

// Subscribe adds channels to the link.
func (sub *Subscriber) Subscribe(ctx context.Context, channels ...string) error {
	if len(channels) == 0 {
		return nil
	}
	return sub.pubsub.Subscribe(ctx, channels...)
}

// Unsubscribe removes channels from the link.
func (sub *Subscriber) Unsubscribe(ctx context.Context, channels ...string) error {
	if len(channels) == 0 {
		return nil
	}
	return sub.pubsub.Unsubscribe(ctx, channels...)
}

// Listen starts the delivery loop in a goroutine. It stops when the context
// is cancelled or the link is closed.
func (sub *Subscriber) Listen(ctx context.Context, handler func(channel string, payload []byte)) {
	ch := sub.pubsub.Channel()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handler(msg.Channel, []byte(msg.Payload))
			}
		}
	}()
}

// Close tears down the subscriber link; the listen loop drains and exits.
func (sub *Subscriber) Close() error {
	return sub.pubsub.Close()
}
