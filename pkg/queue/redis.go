package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// BRPOP timeouts have one second resolution.
const popSlice = time.Second

// RedisQueue pops with BRPOP and broadcasts with PUBLISH. Producers LPUSH,
// so jobs are served oldest first.
type RedisQueue struct {
	client *redis.Client
}

func NewRedisQueue(url string) (*RedisQueue, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisQueue{client: redis.NewClient(opt)}, nil
}

// BlockingPop waits in slices of at most popSlice so a cancelled ctx is seen
// between them; an in-flight BRPOP is never abandoned with a job in hand.
func (q *RedisQueue) BlockingPop(ctx context.Context, name string, timeout time.Duration) ([]byte, bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}

		wait := time.Until(deadline)
		if wait <= 0 {
			return nil, false, nil
		}
		if wait > popSlice {
			wait = popSlice
		}

		res, err := q.client.BRPop(ctx, wait, name).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, false, fmt.Errorf("brpop %s: %w", name, err)
		}
		// [0] is the queue name, [1] the payload.
		if len(res) < 2 {
			continue
		}
		return []byte(res[1]), true, nil
	}
}

func (q *RedisQueue) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := q.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

func (q *RedisQueue) Push(ctx context.Context, name string, payload []byte) error {
	if err := q.client.LPush(ctx, name, payload).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w", name, err)
	}
	return nil
}

// Subscribe delivers payloads published on channel until ctx is done or the
// returned close function is called. The subscription is confirmed before
// Subscribe returns, so nothing published afterwards is missed.
func (q *RedisQueue) Subscribe(ctx context.Context, channel string) (<-chan []byte, func() error, error) {
	sub := q.client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	out := make(chan []byte)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			select {
			case out <- []byte(msg.Payload):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, sub.Close, nil
}

func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}
