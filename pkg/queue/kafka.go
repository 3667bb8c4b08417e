package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

const defaultKafkaGroup = "mood-tagger"

// KafkaQueue reads job topics through a consumer group and writes results to
// a topic named after the result channel.
type KafkaQueue struct {
	brokers []string
	groupID string
	writer  *kafka.Writer

	mu      sync.Mutex
	readers map[string]*kafka.Reader
}

func NewKafkaQueue(brokers []string, groupID string) (*KafkaQueue, error) {
	if len(brokers) == 0 {
		return nil, errors.New("no kafka brokers configured")
	}
	if groupID == "" {
		groupID = defaultKafkaGroup
	}
	return &KafkaQueue{
		brokers: brokers,
		groupID: groupID,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.LeastBytes{},
			AllowAutoTopicCreation: true,
		},
		readers: make(map[string]*kafka.Reader),
	}, nil
}

func (q *KafkaQueue) reader(topic string) *kafka.Reader {
	q.mu.Lock()
	defer q.mu.Unlock()

	r, ok := q.readers[topic]
	if !ok {
		r = kafka.NewReader(kafka.ReaderConfig{
			Brokers:  q.brokers,
			GroupID:  q.groupID,
			Topic:    topic,
			MinBytes: 1,
			MaxBytes: 10e6, // 10MB
			MaxWait:  time.Second,
		})
		q.readers[topic] = r
	}
	return r
}

// BlockingPop commits the offset as part of the read.
func (q *KafkaQueue) BlockingPop(ctx context.Context, name string, timeout time.Duration) ([]byte, bool, error) {
	readCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msg, err := q.reader(name).ReadMessage(readCtx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read %s: %w", name, err)
	}
	return msg.Value, true, nil
}

func (q *KafkaQueue) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := q.writer.WriteMessages(ctx, kafka.Message{Topic: channel, Value: payload}); err != nil {
		return fmt.Errorf("write %s: %w", channel, err)
	}
	return nil
}

func (q *KafkaQueue) Push(ctx context.Context, name string, payload []byte) error {
	return q.Publish(ctx, name, payload)
}

func (q *KafkaQueue) Ping(ctx context.Context) error {
	var lastErr error
	for _, broker := range q.brokers {
		conn, err := kafka.DialContext(ctx, "tcp", broker)
		if err != nil {
			lastErr = err
			continue
		}
		return conn.Close()
	}
	return fmt.Errorf("no kafka broker reachable: %w", lastErr)
}

func (q *KafkaQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	errs := []error{q.writer.Close()}
	for topic, r := range q.readers {
		errs = append(errs, r.Close())
		delete(q.readers, topic)
	}
	return errors.Join(errs...)
}
