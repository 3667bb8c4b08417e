package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

var errAMQPClosed = errors.New("amqp queue is closed")

// amqpSession is the part of a connection plus channel the queue uses.
type amqpSession interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	IsClosed() bool
	Close() error
}

type amqpConn struct {
	conn *amqp.Connection
	*amqp.Channel
}

func (c amqpConn) IsClosed() bool {
	return c.conn.IsClosed() || c.Channel.IsClosed()
}

func (c amqpConn) Close() error {
	return errors.Join(c.Channel.Close(), c.conn.Close())
}

func dialAMQP(url string) (amqpSession, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	// One unacknowledged delivery at a time.
	if err := channel.Qos(1, 0, false); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}
	return amqpConn{conn: conn, Channel: channel}, nil
}

// AMQPQueue consumes a durable RabbitMQ queue one message at a time and
// broadcasts results through a fanout exchange named after the channel.
// A dropped connection is dialled again by the next operation.
type AMQPQueue struct {
	url  string
	dial func(url string) (amqpSession, error)

	mu        sync.Mutex
	session   amqpSession
	closed    bool
	consumers map[string]<-chan amqp.Delivery
	exchanges map[string]bool
	declared  map[string]bool
}

func NewAMQPQueue(url string) (*AMQPQueue, error) {
	return newAMQPQueue(url, dialAMQP)
}

func newAMQPQueue(url string, dial func(string) (amqpSession, error)) (*AMQPQueue, error) {
	q := &AMQPQueue{url: url, dial: dial}
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, err := q.sessionLocked(); err != nil {
		return nil, err
	}
	return q, nil
}

// sessionLocked returns a live session, dialling a new one when the current
// one is gone. Declarations and consumers belong to a session and are reset
// with it. q.mu must be held.
func (q *AMQPQueue) sessionLocked() (amqpSession, error) {
	if q.closed {
		return nil, errAMQPClosed
	}
	if q.session != nil && !q.session.IsClosed() {
		return q.session, nil
	}
	if q.session != nil {
		_ = q.session.Close()
		q.session = nil
	}

	s, err := q.dial(q.url)
	if err != nil {
		return nil, err
	}
	q.session = s
	q.consumers = make(map[string]<-chan amqp.Delivery)
	q.exchanges = make(map[string]bool)
	q.declared = make(map[string]bool)
	return s, nil
}

func (q *AMQPQueue) declareQueue(s amqpSession, name string) error {
	if q.declared[name] {
		return nil
	}
	if _, err := s.QueueDeclare(
		name,  // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", name, err)
	}
	q.declared[name] = true
	return nil
}

func (q *AMQPQueue) consumer(name string) (<-chan amqp.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	s, err := q.sessionLocked()
	if err != nil {
		return nil, err
	}
	if d, ok := q.consumers[name]; ok {
		return d, nil
	}
	if err := q.declareQueue(s, name); err != nil {
		return nil, err
	}
	d, err := s.Consume(
		name,  // queue
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register consumer: %w", err)
	}
	q.consumers[name] = d
	return d, nil
}

func (q *AMQPQueue) dropConsumer(name string, deliveries <-chan amqp.Delivery) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.consumers[name] != deliveries {
		return
	}
	delete(q.consumers, name)
	delete(q.declared, name)
	if q.session != nil && q.session.IsClosed() {
		_ = q.session.Close()
		q.session = nil
	}
}

// BlockingPop acknowledges the delivery as soon as it is received, which
// gives it the same remove-on-pop semantics as a list pop.
func (q *AMQPQueue) BlockingPop(ctx context.Context, name string, timeout time.Duration) ([]byte, bool, error) {
	deliveries, err := q.consumer(name)
	if err != nil {
		return nil, false, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case d, ok := <-deliveries:
		if !ok {
			q.dropConsumer(name, deliveries)
			return nil, false, errors.New("amqp delivery channel closed")
		}
		if err := d.Ack(false); err != nil {
			return nil, false, fmt.Errorf("ack delivery: %w", err)
		}
		return d.Body, true, nil
	case <-timer.C:
		return nil, false, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

func (q *AMQPQueue) Publish(ctx context.Context, channel string, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	s, err := q.sessionLocked()
	if err != nil {
		return err
	}
	if !q.exchanges[channel] {
		if err := s.ExchangeDeclare(
			channel,  // name
			"fanout", // kind
			true,     // durable
			false,    // auto-deleted
			false,    // internal
			false,    // no-wait
			nil,      // arguments
		); err != nil {
			return fmt.Errorf("failed to declare exchange %s: %w", channel, err)
		}
		q.exchanges[channel] = true
	}

	err = s.PublishWithContext(ctx,
		channel, // exchange
		"",      // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        payload,
			Timestamp:   time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	return nil
}

func (q *AMQPQueue) Push(ctx context.Context, name string, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	s, err := q.sessionLocked()
	if err != nil {
		return err
	}
	if err := q.declareQueue(s, name); err != nil {
		return err
	}
	err = s.PublishWithContext(ctx,
		"",    // exchange
		name,  // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         payload,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue on %s: %w", name, err)
	}
	return nil
}

// Ping reports whether a session is usable, reconnecting if it was dropped.
func (q *AMQPQueue) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	_, err := q.sessionLocked()
	return err
}

func (q *AMQPQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	if q.session == nil {
		return nil
	}
	err := q.session.Close()
	q.session = nil
	return err
}
