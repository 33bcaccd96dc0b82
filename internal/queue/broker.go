// Package queue implements the RabbitMQ broker adapter described in
// SPEC_FULL.md component C6: durable MAIN/DLQ queues, QoS prefetch=1 per
// consumer, and a short-lived channel for each republish.
package queue

import (
	"fmt"
	"log"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Broker owns the top-level AMQP connection and the queue topology. Each
// consumer loop opens its own channel off this connection, matching the
// original implementation's thread-local lazy-reopen publisher pattern
// translated to one channel per goroutine.
type Broker struct {
	conn      *amqp.Connection
	mainQueue string
	dlq       string
	logger    *log.Logger
}

// Dial connects to RabbitMQ and declares both durable queues.
func Dial(url, mainQueue, dlq string, logger *log.Logger) (*Broker, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "[queue] ", log.LstdFlags)
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	b := &Broker{conn: conn, mainQueue: mainQueue, dlq: dlq, logger: logger}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open setup channel: %w", err)
	}
	defer ch.Close()

	if err := b.declareQueues(ch); err != nil {
		conn.Close()
		return nil, err
	}

	return b, nil
}

func (b *Broker) declareQueues(ch *amqp.Channel) error {
	for _, name := range []string{b.mainQueue, b.dlq} {
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", name, err)
		}
	}
	return nil
}

// Close closes the underlying AMQP connection.
func (b *Broker) Close() error {
	return b.conn.Close()
}

// Channel opens a fresh channel with QoS prefetch=1. Each consumer loop
// calls this once and keeps the channel for consuming and acking, so a
// single goroutine never contends with another for the same channel.
// Republishing goes through PublishMainMessage/PublishDLQMessage, which
// open their own channel per publish.
func (b *Broker) Channel() (*amqp.Channel, error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	return ch, nil
}

// Consume registers a consumer on the given channel for the named queue,
// with autoAck disabled so the caller controls ack/nack.
func (b *Broker) Consume(ch *amqp.Channel, queueName, consumerTag string) (<-chan amqp.Delivery, error) {
	msgs, err := ch.Consume(queueName, consumerTag, false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", queueName, err)
	}
	return msgs, nil
}

// PublishMain publishes a persistent message to the main work queue.
func (b *Broker) PublishMain(ch *amqp.Channel, body []byte) error {
	return b.publish(ch, b.mainQueue, body)
}

// PublishDLQ publishes a persistent message to the dead-letter queue.
func (b *Broker) PublishDLQ(ch *amqp.Channel, body []byte) error {
	return b.publish(ch, b.dlq, body)
}

// PublishMainMessage opens its own short-lived channel and publishes to the
// main work queue, closing the channel before returning. This is the
// signature internal/pipeline depends on (via the pipeline.Publisher
// interface) so a requeue or retry publish doesn't need a live *amqp.Channel
// of its own — the orchestrator's consumer-loop channel is reserved for
// consuming and acking, not for republishing.
func (b *Broker) PublishMainMessage(body []byte) error {
	ch, err := b.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()
	return b.PublishMain(ch, body)
}

// PublishDLQMessage is PublishMainMessage's dead-letter-queue counterpart.
func (b *Broker) PublishDLQMessage(body []byte) error {
	ch, err := b.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()
	return b.PublishDLQ(ch, body)
}

func (b *Broker) publish(ch *amqp.Channel, queueName string, body []byte) error {
	err := ch.Publish("", queueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", queueName, err)
	}
	return nil
}

// MainQueueName returns the configured main queue name.
func (b *Broker) MainQueueName() string { return b.mainQueue }

// DLQName returns the configured dead-letter queue name.
func (b *Broker) DLQName() string { return b.dlq }
