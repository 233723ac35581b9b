// Package quota keeps per-principal request counters in Redis.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"

	"github.com/vibast-solutions/ms-go-stats-gateway/app/metrics"
)

var ErrUnavailable = errors.New("quota store unavailable")

// errCallerDone marks a call abandoned by its caller. It is not a backend
// failure and never trips the breaker.
var errCallerDone = errors.New("caller context done")

// incrementScript increments the counter and sets its expiry on creation only,
// so a busy key never has its TTL extended.
var incrementScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
	redis.call('EXPIRE', KEYS[1], ARGV[1])
end
return n
`)

type Options struct {
	Timeout         time.Duration
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

type RedisStore struct {
	client  redis.UniversalClient
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker[int64]
}

func NewRedisStore(client redis.UniversalClient, opts Options) *RedisStore {
	failures := opts.BreakerFailures
	if failures == 0 {
		failures = 5
	}

	settings := gobreaker.Settings{
		Name:        "quota-store",
		MaxRequests: 1,
		Timeout:     opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, errCallerDone)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logrus.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Quota store circuit breaker changed state")
			if to == gobreaker.StateOpen {
				metrics.QuotaBreakerOpen.Set(1)
			} else {
				metrics.QuotaBreakerOpen.Set(0)
			}
		},
	}

	return &RedisStore{
		client:  client,
		timeout: opts.Timeout,
		breaker: gobreaker.NewCircuitBreaker[int64](settings),
	}
}

// IncrementAndGet atomically increments key and returns the new count. The
// expiry is set to ttl when the counter is created.
func (s *RedisStore) IncrementAndGet(ctx context.Context, key Key, ttl time.Duration) (int64, error) {
	seconds := int64(ttl / time.Second)
	if seconds < 1 {
		seconds = 1
	}

	return s.do(ctx, "increment", func(ctx context.Context) (int64, error) {
		return incrementScript.Run(ctx, s.client, []string{key.String()}, seconds).Int64()
	})
}

// Peek reads the counter without changing it. A missing key reads as 0.
func (s *RedisStore) Peek(ctx context.Context, key Key) (int64, error) {
	return s.do(ctx, "peek", func(ctx context.Context) (int64, error) {
		n, err := s.client.Get(ctx, key.String()).Int64()
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return n, err
	})
}

func (s *RedisStore) Ping(ctx context.Context) error {
	_, err := s.do(ctx, "ping", func(ctx context.Context) (int64, error) {
		return 0, s.client.Ping(ctx).Err()
	})
	return err
}

func (s *RedisStore) do(ctx context.Context, op string, fn func(ctx context.Context) (int64, error)) (int64, error) {
	n, err := s.breaker.Execute(func() (int64, error) {
		callCtx := ctx
		if s.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}
		n, err := fn(callCtx)
		if err != nil && ctx.Err() != nil {
			return 0, fmt.Errorf("%w: %w", errCallerDone, ctx.Err())
		}
		return n, err
	})
	if err != nil {
		if errors.Is(err, errCallerDone) {
			return 0, fmt.Errorf("%s: %w", op, ctx.Err())
		}
		metrics.QuotaStoreErrorsTotal.WithLabelValues(op).Inc()
		return 0, fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
	}
	return n, nil
}
