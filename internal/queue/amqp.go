package queue

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

const retryHeader = "x-retry-count"

// AMQPQueue publishes and consumes JSON payloads on durable RabbitMQ queues
// named after the topic.
type AMQPQueue struct {
	conn       *amqp.Connection
	mu         sync.Mutex
	ch         *amqp.Channel
	maxRetries int
	logger     *zap.Logger
}

var _ Queue = (*AMQPQueue)(nil)

func DialAMQP(url string, maxRetries int, logger *zap.Logger) (*AMQPQueue, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	return &AMQPQueue{conn: conn, ch: ch, maxRetries: maxRetries, logger: logger.Named("amqp")}, nil
}

func declare(ch *amqp.Channel, topic string) error {
	_, err := ch.QueueDeclare(
		topic, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	return err
}

func (q *AMQPQueue) publish(topic string, body []byte, retry int32) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := declare(q.ch, topic); err != nil {
		return fmt.Errorf("declare %s: %w", topic, err)
	}
	return q.ch.Publish("", topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Headers:      amqp.Table{retryHeader: retry},
		Body:         body,
	})
}

func (q *AMQPQueue) Publish(topic string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", topic, err)
	}
	return q.publish(topic, body, 0)
}

// Subscribe consumes topic on its own channel with manual acks. A failed
// delivery is republished with an incremented retry header until maxRetries.
func (q *AMQPQueue) Subscribe(topic string, handler func(payload any) error) error {
	ch, err := q.conn.Channel()
	if err != nil {
		return fmt.Errorf("open consumer channel: %w", err)
	}
	if err := declare(ch, topic); err != nil {
		ch.Close()
		return fmt.Errorf("declare %s: %w", topic, err)
	}
	msgs, err := ch.Consume(
		topic,
		"",
		false, // autoAck = false for reliability
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		return fmt.Errorf("register consumer: %w", err)
	}

	go func() {
		defer ch.Close()
		for d := range msgs {
			q.handle(topic, d, handler)
		}
	}()
	return nil
}

func (q *AMQPQueue) handle(topic string, d amqp.Delivery, handler func(payload any) error) {
	err := handler(json.RawMessage(d.Body))
	if err == nil {
		_ = d.Ack(false)
		return
	}

	retry := retryCount(d.Headers)
	if int(retry) < q.maxRetries {
		if perr := q.publish(topic, d.Body, retry+1); perr != nil {
			q.logger.Error("requeue failed", zap.String("topic", topic), zap.Error(perr))
			_ = d.Nack(false, true)
			return
		}
		q.logger.Warn("delivery failed, requeued",
			zap.String("topic", topic), zap.Int32("retry", retry+1), zap.Error(err))
		_ = d.Ack(false)
		return
	}
	q.logger.Error("delivery dropped after retries", zap.String("topic", topic), zap.Int32("retry", retry), zap.Error(err))
	_ = d.Ack(false)
}

func retryCount(h amqp.Table) int32 {
	switch v := h[retryHeader].(type) {
	case int32:
		return v
	case int64:
		return int32(v)
	case int:
		return int32(v)
	case int16:
		return int32(v)
	default:
		return 0
	}
}

func (q *AMQPQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.ch.Close(); err != nil {
		q.conn.Close()
		return err
	}
	return q.conn.Close()
}
