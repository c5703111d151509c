package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"github.com/unclebandit/campaign-dispatch/internal/model"
)

// Delayed tasks wait in bucket queues whose TTL is set per queue, so
// messages expire in the order they were queued and one long campaign
// never holds back another. A task parks in the longest bucket that does
// not exceed its remaining delay; when it comes back through the work
// queue still early, it is parked again for what is left. Each hop at
// least halves the remaining delay.
const (
	minDelayBucket = time.Second
	maxDelayBucket = minDelayBucket << 17 // about 36h
)

// delayBucket returns the longest bucket not exceeding d, or 0 when d is
// shorter than the smallest one.
func delayBucket(d time.Duration) time.Duration {
	if d < minDelayBucket {
		return 0
	}
	b := minDelayBucket
	for b < maxDelayBucket && 2*b <= d {
		b *= 2
	}
	return b
}

// AMQPTransport delivers tasks through RabbitMQ.
type AMQPTransport struct {
	conn     *amqp.Connection
	mu       sync.Mutex // guards pub
	pub      *amqp.Channel
	queue    string
	prefetch int
	logger   *zap.Logger
	now      func() time.Time
}

// DialAMQP connects to the broker and declares the work and delay queues.
func DialAMQP(url, queue string, prefetch int, logger *zap.Logger) (*AMQPTransport, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefetch < 1 {
		prefetch = 1
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	t := &AMQPTransport{conn: conn, pub: ch, queue: queue, prefetch: prefetch, logger: logger, now: time.Now}
	if err := t.declare(ch); err != nil {
		conn.Close()
		return nil, err
	}
	return t, nil
}

func (t *AMQPTransport) delayQueue(bucket time.Duration) string {
	return t.queue + ".delay." + strconv.FormatInt(bucket.Milliseconds(), 10)
}

func (t *AMQPTransport) declare(ch *amqp.Channel) error {
	if _, err := ch.QueueDeclare(
		t.queue, // name
		true,    // durable
		false,   // delete when unused
		false,   // exclusive
		false,   // no-wait
		nil,     // arguments
	); err != nil {
		return fmt.Errorf("declare queue %s: %w", t.queue, err)
	}
	for b := minDelayBucket; b <= maxDelayBucket; b *= 2 {
		name := t.delayQueue(b)
		if _, err := ch.QueueDeclare(name, true, false, false, false, amqp.Table{
			"x-message-ttl":             b.Milliseconds(),
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": t.queue,
		}); err != nil {
			return fmt.Errorf("declare queue %s: %w", name, err)
		}
	}
	return nil
}

// publishing builds the message for task and the queue it goes to.
func (t *AMQPTransport) publishing(task model.SendTask) (string, amqp.Publishing, error) {
	body, err := json.Marshal(task)
	if err != nil {
		return "", amqp.Publishing{}, fmt.Errorf("encode task: %w", err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    task.BatchID + ":" + strconv.Itoa(task.Index),
		Body:         body,
	}
	if b := delayBucket(task.Delay); b > 0 {
		return t.delayQueue(b), msg, nil
	}
	return t.queue, msg, nil
}

// early reports whether task must wait in a bucket again, and returns it
// with the delay that remains.
func (t *AMQPTransport) early(task model.SendTask) (model.SendTask, bool) {
	task.Delay = task.RunAt.Sub(t.now())
	return task, delayBucket(task.Delay) > 0
}

func (t *AMQPTransport) Publish(ctx context.Context, task model.SendTask) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, msg, err := t.publishing(task)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.pub.Publish("", key, false, false, msg); err != nil {
		return fmt.Errorf("publish task %s: %w", msg.MessageId, err)
	}
	return nil
}

// Consume runs prefetch workers on a dedicated channel. Tasks are acked
// after fn returns; an error requeues the task.
func (t *AMQPTransport) Consume(ctx context.Context, fn DeliveryFunc) error {
	ch, err := t.conn.Channel()
	if err != nil {
		return fmt.Errorf("open consumer channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(t.prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	msgs, err := ch.Consume(
		t.queue,
		"",
		false, // autoAck = false for reliability
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}

	closed := ch.NotifyClose(make(chan *amqp.Error, 1))

	var wg sync.WaitGroup
	for i := 0; i < t.prefetch; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range msgs {
				t.deliver(ctx, d, fn)
			}
		}()
	}

	select {
	case <-ctx.Done():
		err = ctx.Err()
	case amqpErr := <-closed:
		if amqpErr != nil {
			err = fmt.Errorf("consumer channel closed: %w", amqpErr)
		}
	}
	// Closing the channel ends msgs; unacked deliveries go back to the queue.
	ch.Close()
	wg.Wait()
	return err
}

func (t *AMQPTransport) deliver(ctx context.Context, d amqp.Delivery, fn DeliveryFunc) {
	var task model.SendTask
	if err := json.Unmarshal(d.Body, &task); err != nil {
		t.logger.Error("invalid task payload", zap.String("message_id", d.MessageId), zap.Error(err))
		d.Ack(false)
		return
	}
	if parked, ok := t.early(task); ok {
		if err := t.Publish(ctx, parked); err != nil {
			if ctx.Err() == nil {
				t.logger.Warn("task requeued", zap.String("message_id", d.MessageId), zap.Error(err))
				d.Nack(false, true)
			}
			return
		}
		d.Ack(false)
		return
	}
	if err := fn(ctx, task); err != nil {
		if ctx.Err() != nil {
			return
		}
		t.logger.Warn("task requeued", zap.String("message_id", d.MessageId), zap.Error(err))
		d.Nack(false, true)
		return
	}
	d.Ack(false)
}

// Durable is true: tasks stay on the broker across restarts.
func (t *AMQPTransport) Durable() bool { return true }

func (t *AMQPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pub.Close()
	return t.conn.Close()
}

var _ Transport = (*AMQPTransport)(nil)
