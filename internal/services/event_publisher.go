package services

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// EventPublisher owns one AMQP connection and channel for booking events and
// re-dials lazily after the broker drops them
type EventPublisher struct {
	url    string
	queue  string
	logger *logrus.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewEventPublisher connects to the broker and declares the durable queue
func NewEventPublisher(url, queue string, logger *logrus.Logger) (*EventPublisher, error) {
	p := &EventPublisher{url: url, queue: queue, logger: logger}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.connectLocked(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *EventPublisher) connectLocked() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("rabbitmq dial failed: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("rabbitmq channel open failed: %w", err)
	}

	// Durable so events survive broker restarts
	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("rabbitmq queue declare failed: %w", err)
	}

	p.conn = conn
	p.channel = ch
	return nil
}

// PublishWithContext publishes on the shared channel, reconnecting once if
// the channel was closed
func (p *EventPublisher) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel == nil || p.channel.IsClosed() {
		p.logger.WithField("queue", p.queue).Warn("RabbitMQ channel closed, reconnecting")
		p.closeLocked()
		if err := p.connectLocked(); err != nil {
			return err
		}
	}

	if err := p.channel.PublishWithContext(ctx, exchange, key, mandatory, immediate, msg); err != nil {
		return fmt.Errorf("rabbitmq publish failed: %w", err)
	}
	return nil
}

func (p *EventPublisher) closeLocked() {
	if p.channel != nil {
		_ = p.channel.Close()
		p.channel = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

// Close releases the broker connection
func (p *EventPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked()
	return nil
}
