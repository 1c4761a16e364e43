package events

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

// AMQPConfig holds broker settings.
type AMQPConfig struct {
	URL        string
	Exchange   string
	RoutingKey string
}

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes events as persistent JSON messages to a topic exchange.
type AMQPPublisher struct {
	cfg     AMQPConfig
	conn    *amqp.Connection
	mu      sync.Mutex
	channel amqpChannel
	logger  *slog.Logger
}

// DialAMQP connects to the broker and declares the events exchange.
func DialAMQP(cfg AMQPConfig, logger *slog.Logger) (*AMQPPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := amqp.DialConfig(cfg.URL, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		cfg.Exchange, // name
		"topic",      // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	logger.Info("event broker connected", slog.String("exchange", cfg.Exchange))
	return &AMQPPublisher{cfg: cfg, conn: conn, channel: ch, logger: logger}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.PublishWithContext(
		ctx,
		p.cfg.Exchange,
		p.routingKey(event),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    event.Timestamp,
			MessageId:    event.JobID + ":" + event.Type,
			Type:         event.Type,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debug("event published", slog.String("type", event.Type), slog.Int("body_size", len(body)))
	return nil
}

// routingKey maps "job.started" to "<routing_key>.started".
func (p *AMQPPublisher) routingKey(event Event) string {
	return p.cfg.RoutingKey + "." + strings.TrimPrefix(event.Type, "job.")
}

// Close closes the channel and the connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			p.logger.Error("failed to close broker channel", slog.Any("error", err))
		}
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
