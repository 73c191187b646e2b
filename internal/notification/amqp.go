package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPNotifier publishes messages to a durable topic exchange for a mailer
// worker to deliver. The routing key is derived from the message kind, so
// email_otp is published as email.otp.
type AMQPNotifier struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       channel
	exchange string
	now      func() time.Time
	logger   *slog.Logger
}

// NewAMQPNotifier opens a channel on conn and declares exchange.
func NewAMQPNotifier(conn *amqp.Connection, exchange string, logger *slog.Logger) (*AMQPNotifier, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	n, err := newAMQPNotifier(ch, exchange, logger)
	if err != nil {
		ch.Close()
		return nil, err
	}
	n.conn = conn
	return n, nil
}

func newAMQPNotifier(ch channel, exchange string, logger *slog.Logger) (*AMQPNotifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := declare(ch, exchange); err != nil {
		return nil, err
	}
	return &AMQPNotifier{ch: ch, exchange: exchange, now: time.Now, logger: logger}, nil
}

// Send publishes message as JSON. A failed publish reopens the channel once
// and retries when the notifier owns a connection.
func (n *AMQPNotifier) Send(ctx context.Context, message Message) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	key := RoutingKey(message.Kind)
	publishing := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    n.now(),
		Type:         message.Kind,
		Body:         payload,
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	err = n.ch.PublishWithContext(ctx, n.exchange, key, false, false, publishing)
	if err != nil && n.conn != nil && !n.conn.IsClosed() {
		n.logger.Warn("amqp publish failed, reopening channel", "exchange", n.exchange, "error", err)
		if reopenErr := n.reopen(); reopenErr != nil {
			return fmt.Errorf("publish notification: %w", err)
		}
		err = n.ch.PublishWithContext(ctx, n.exchange, key, false, false, publishing)
	}
	if err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}

	n.logger.Info("notification queued", "exchange", n.exchange, "routing_key", key, "destination", message.Destination)
	return nil
}

// Close releases the channel. The connection belongs to the caller.
func (n *AMQPNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ch.Close()
}

func (n *AMQPNotifier) reopen() error {
	ch, err := n.conn.Channel()
	if err != nil {
		return err
	}
	if err := declare(ch, n.exchange); err != nil {
		ch.Close()
		return err
	}
	_ = n.ch.Close()
	n.ch = ch
	return nil
}

func declare(ch channel, exchange string) error {
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %q: %w", exchange, err)
	}
	return nil
}

// RoutingKey maps a message kind to its topic routing key.
func RoutingKey(kind string) string {
	return strings.ReplaceAll(kind, "_", ".")
}
