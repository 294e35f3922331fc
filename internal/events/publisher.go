// Package events publishes dataset-change notifications over AMQP so other
// services (exporters, notifiers) can react to syncs and writes without
// polling the mirror.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

const (
	routingSyncCompleted      = "sync.completed"
	routingTransactionMutated = "transaction.mutated"

	publishTimeout = 5 * time.Second
)

// Publisher emits events on a direct exchange, one routing key per event
// type. A nil *Publisher is valid and drops everything, so wiring stays
// unconditional in callers.
type Publisher struct {
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
}

// NewPublisher connects and declares the exchange and its queues.
func NewPublisher(url, exchange string) (*Publisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	p := &Publisher{conn: conn, channel: channel, exchange: exchange}
	if err := p.setup(); err != nil {
		p.Close()
		return nil, fmt.Errorf("setup exchange and queues: %w", err)
	}
	return p, nil
}

func (p *Publisher) setup() error {
	err := p.channel.ExchangeDeclare(
		p.exchange,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	for _, key := range []string{routingSyncCompleted, routingTransactionMutated} {
		queue := p.exchange + "." + key
		if _, err := p.channel.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", queue, err)
		}
		if err := p.channel.QueueBind(queue, key, p.exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", queue, err)
		}
	}
	return nil
}

// PublishSyncCompleted announces an applied sync.
func (p *Publisher) PublishSyncCompleted(ctx context.Context, cursor int64, applied int) error {
	if p == nil {
		return nil
	}
	body, err := NewSyncCompletedMessage(cursor, applied).ToJSON()
	if err != nil {
		return fmt.Errorf("marshal sync message: %w", err)
	}
	if err := p.publish(ctx, routingSyncCompleted, body); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Published sync event",
		"cursor", cursor,
		"applied", applied)
	return nil
}

// PublishTransactionMutated announces a confirmed write.
func (p *Publisher) PublishTransactionMutated(ctx context.Context, action, id string) error {
	if p == nil {
		return nil
	}
	body, err := NewTransactionMutatedMessage(action, id).ToJSON()
	if err != nil {
		return fmt.Errorf("marshal mutation message: %w", err)
	}
	if err := p.publish(ctx, routingTransactionMutated, body); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Published mutation event",
		"action", action,
		"id", id)
	return nil
}

func (p *Publisher) publish(ctx context.Context, key string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err := p.channel.PublishWithContext(
		ctx,
		p.exchange,
		key,
		false, // mandatory
		false, // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
