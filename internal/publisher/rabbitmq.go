package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"mp_harvester/internal/domain"
)

// RabbitMQ publishes item events to a durable direct exchange.
type RabbitMQ struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	exchange   string
	routingKey string
	logger     *slog.Logger
}

type Config struct {
	URL        string
	Exchange   string
	RoutingKey string
	QueueName  string
}

// NewRabbitMQ connects, declares the topology and puts the channel in confirm
// mode so each publish waits for the broker to take the message.
func NewRabbitMQ(cfg Config, logger *slog.Logger) (*RabbitMQ, error) {
	logger = logger.With("component", "publisher")

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	r := &RabbitMQ{
		conn:       conn,
		exchange:   cfg.Exchange,
		routingKey: cfg.RoutingKey,
		logger:     logger,
	}
	if r.channel, err = conn.Channel(); err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := r.declare(cfg.QueueName); err != nil {
		_ = r.Close()
		return nil, err
	}
	if err := r.channel.Confirm(false); err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("enable confirms: %w", err)
	}

	logger.Info("connected to rabbitmq",
		"exchange", cfg.Exchange,
		"queue", cfg.QueueName,
		"routing_key", cfg.RoutingKey,
	)
	return r, nil
}

// declare sets up a durable direct exchange and, when queue is set, a durable
// queue bound to it with the routing key. Without a queue, consumers bind
// their own.
func (r *RabbitMQ) declare(queue string) error {
	if err := r.channel.ExchangeDeclare(r.exchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", r.exchange, err)
	}
	if queue == "" {
		return nil
	}

	q, err := r.channel.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}
	if err := r.channel.QueueBind(q.Name, r.routingKey, r.exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", q.Name, err)
	}
	return nil
}

// PublishMaterialized sends one ItemMessage for a newly written file.
func (r *RabbitMQ) PublishMaterialized(ctx context.Context, res domain.RetrievalResult) error {
	msg := NewItemMessage(res, time.Now())

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	confirm, err := r.channel.PublishWithDeferredConfirmWithContext(
		ctx,
		r.exchange,
		r.routingKey,
		false,
		false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			MessageId:    msg.ID,
			Type:         msg.Action,
			Body:         body,
			Timestamp:    msg.Timestamp,
		},
	)
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("wait for confirm: %w", err)
	}
	if !acked {
		return fmt.Errorf("message %s nacked by broker", msg.ID)
	}

	r.logger.Debug("published item",
		"source", msg.Source,
		"item_id", msg.ItemID,
		"message_id", msg.ID,
	)

	return nil
}

func (r *RabbitMQ) Close() error {
	var errs []error
	if r.channel != nil {
		if err := r.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("close channel: %w", err))
		}
	}
	if r.conn != nil {
		if err := r.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
	}
	return errors.Join(errs...)
}
