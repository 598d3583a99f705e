// Package relay queues WhatsApp order summaries for the messaging worker.
package relay

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/example/quickdrop-slots/internal/domain/order"
)

// amqpChannel is the part of *amqp091.Channel the publisher needs.
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

type Publisher struct {
	ch    amqpChannel
	queue string
	log   *zap.Logger
}

// Dial connects to RabbitMQ and declares queue as durable.
func Dial(url, queue string, log *zap.Logger) (*Publisher, *amqp091.Connection, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("declare %s: %w", queue, err)
	}
	return New(ch, queue, log), conn, nil
}

func New(ch amqpChannel, queue string, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{ch: ch, queue: queue, log: log}
}

// Publish sends m as a persistent JSON message on the relay queue.
func (p *Publisher) Publish(ctx context.Context, m order.RelayMessage) error {
	body, err := json.Marshal(m)
	if err != nil {
		return err
	}

	msg := amqp091.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp091.Persistent,
		Headers: amqp091.Table{
			"message_type":     "JSON",
			"requeue_strategy": "DROP",
		},
	}
	if err := p.ch.PublishWithContext(ctx, "", p.queue, false, false, msg); err != nil {
		p.log.Error("relay publish failed",
			zap.String("queue", p.queue), zap.String("order_id", m.OrderID), zap.Error(err))
		return fmt.Errorf("publish to %s: %w", p.queue, err)
	}

	p.log.Info("relay message queued", zap.String("queue", p.queue), zap.String("order_id", m.OrderID))
	return nil
}

func (p *Publisher) Close() error {
	return p.ch.Close()
}
