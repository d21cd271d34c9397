package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/harbormq/harbor-go/supervisor"
)

var (
	// ErrNoChannel is returned while the worker has no usable channel,
	// typically during a broker outage.
	ErrNoChannel = errors.New("workers: no channel available")
)

// Producer publishes messages on the channel most recently delivered by the
// supervisor. Publishing while disconnected fails with ErrNoChannel; callers
// are expected to retry once the supervisor has reconnected.
type Producer struct {
	exchange    string
	contentType string
	mandatory   bool
	logger      *slog.Logger

	mu sync.RWMutex
	ch supervisor.Channel
}

// ProducerOption configures the Producer.
type ProducerOption func(*Producer)

// WithContentType sets the content type stamped on published messages.
func WithContentType(contentType string) ProducerOption {
	return func(p *Producer) {
		p.contentType = contentType
	}
}

// WithMandatory sets the mandatory flag on publishes.
func WithMandatory(mandatory bool) ProducerOption {
	return func(p *Producer) {
		p.mandatory = mandatory
	}
}

// WithProducerLogger sets the logger.
func WithProducerLogger(logger *slog.Logger) ProducerOption {
	return func(p *Producer) {
		p.logger = logger
	}
}

// NewProducer creates a producer targeting the given exchange.
func NewProducer(exchange string, options ...ProducerOption) *Producer {
	p := &Producer{
		exchange:    exchange,
		contentType: "application/json",
		logger:      slog.Default(),
	}

	for _, opt := range options {
		opt(p)
	}

	return p
}

// HandleChannel adopts a fresh channel.
func (p *Producer) HandleChannel(ch supervisor.Channel) {
	p.mu.Lock()
	p.ch = ch
	p.mu.Unlock()
	p.logger.Debug("producer channel refreshed", "exchange", p.exchange)
}

// HandleDisconnect discards the stale channel.
func (p *Producer) HandleDisconnect(err error) {
	p.mu.Lock()
	p.ch = nil
	p.mu.Unlock()
	p.logger.Warn("producer lost channel", "exchange", p.exchange, "error", err)
}

// Publish sends body to the producer's exchange under routingKey.
func (p *Producer) Publish(ctx context.Context, routingKey string, body []byte) error {
	p.mu.RLock()
	ch := p.ch
	p.mu.RUnlock()

	if ch == nil {
		return ErrNoChannel
	}

	err := ch.PublishWithContext(ctx, p.exchange, routingKey, p.mandatory, false, amqp.Publishing{
		ContentType: p.contentType,
		MessageId:   uuid.NewString(),
		Timestamp:   time.Now(),
		Body:        body,
	})
	if err != nil {
		return fmt.Errorf("workers: publish to %s/%s: %w", p.exchange, routingKey, err)
	}
	return nil
}
