package messaging

import (
	"fmt"
	"sync"

	"github.com/erp/stockledger/internal/infrastructure/config"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// RabbitMQ owns the broker connection and the confirm-mode channel used for publishing
type RabbitMQ struct {
	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *zap.Logger
}

// Dial connects to the broker, declares the topic exchange and puts the
// channel into confirm mode
func Dial(cfg config.RabbitMQConfig, logger *zap.Logger) (*RabbitMQ, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		cfg.Exchange, // name
		"topic",      // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", cfg.Exchange, err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	logger.Info("connected to RabbitMQ", zap.String("exchange", cfg.Exchange))
	return &RabbitMQ{conn: conn, channel: ch, logger: logger}, nil
}

// Channel returns the publishing channel
func (r *RabbitMQ) Channel() *amqp.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.channel
}

// Healthy reports whether the connection is open
func (r *RabbitMQ) Healthy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conn != nil && !r.conn.IsClosed()
}

// Close closes the channel and the connection
func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.channel != nil {
		if err := r.channel.Close(); err != nil {
			r.logger.Warn("failed to close channel", zap.Error(err))
		}
	}
	if r.conn != nil && !r.conn.IsClosed() {
		if err := r.conn.Close(); err != nil {
			return fmt.Errorf("failed to close connection: %w", err)
		}
	}
	r.logger.Info("RabbitMQ connection closed")
	return nil
}
