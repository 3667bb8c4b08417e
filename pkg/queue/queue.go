// Package queue provides the blocking job queue and result broadcast used by the worker.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnknownBackend is returned by Open for an unsupported backend name.
var ErrUnknownBackend = errors.New("unknown queue backend")

// Queue is what the worker loop consumes from and publishes to.
type Queue interface {
	// BlockingPop waits up to timeout for one payload on the named queue.
	// ok is false when the wait timed out without a payload.
	BlockingPop(ctx context.Context, name string, timeout time.Duration) (payload []byte, ok bool, err error)
	// Publish broadcasts payload on channel. Delivery is best effort.
	Publish(ctx context.Context, channel string, payload []byte) error
	Ping(ctx context.Context) error
	Close() error
}

// Producer enqueues jobs.
type Producer interface {
	Push(ctx context.Context, name string, payload []byte) error
}

type Backend string

const (
	BackendRedis Backend = "redis"
	BackendAMQP  Backend = "amqp"
	BackendKafka Backend = "kafka"
)

type Config struct {
	Backend      Backend
	RedisURL     string
	AMQPURL      string
	KafkaBrokers []string
	KafkaGroupID string
}

// Conn is a queue that can also enqueue.
type Conn interface {
	Queue
	Producer
}

// Open connects to the configured backend. It does not ping.
func Open(cfg Config) (Conn, error) {
	switch Backend(strings.ToLower(string(cfg.Backend))) {
	case BackendRedis, "":
		return NewRedisQueue(cfg.RedisURL)
	case BackendAMQP:
		return NewAMQPQueue(cfg.AMQPURL)
	case BackendKafka:
		return NewKafkaQueue(cfg.KafkaBrokers, cfg.KafkaGroupID)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}
