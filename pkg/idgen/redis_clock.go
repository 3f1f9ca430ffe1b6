package idgen

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Clock abstracts the time source for the id generator.
type Clock interface {
	// Now returns the current timestamp in milliseconds.
	Now() int64
}

// SystemClock uses the local system time.
type SystemClock struct{}

func (s *SystemClock) Now() int64 {
	return time.Now().UnixMilli()
}

// RedisClock reads time from a shared Redis so that nodes with skewed local
// clocks still issue ids from the same timeline.
type RedisClock struct {
	client  *redis.Client
	timeout time.Duration
}

// NewRedisClock wraps client. Each TIME call is bounded by timeout.
func NewRedisClock(client *redis.Client, timeout time.Duration) *RedisClock {
	if timeout <= 0 {
		timeout = 200 * time.Millisecond
	}
	return &RedisClock{
		client:  client,
		timeout: timeout,
	}
}

// Ping checks that Redis answers, so a misconfiguration surfaces at startup.
func (r *RedisClock) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Now returns Redis TIME in milliseconds, or the local clock when Redis is unreachable.
func (r *RedisClock) Now() int64 {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	res, err := r.client.Time(ctx).Result()
	if err != nil {
		return time.Now().UnixMilli()
	}
	return res.UnixMilli()
}
