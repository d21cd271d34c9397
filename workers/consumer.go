package workers

import (
	"context"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/harbormq/harbor-go/supervisor"
)

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, delivery amqp.Delivery) error

// Consumer consumes a queue on whatever channel the supervisor last
// delivered. Each channel delivery declares the queue and starts a fresh
// consume loop on its own goroutine; a disconnect notice stops the loop.
type Consumer struct {
	queue         string
	handler       MessageHandler
	prefetchCount int
	autoAck       bool
	consumerTag   string
	logger        *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// ConsumerOption configures the Consumer.
type ConsumerOption func(*Consumer)

// WithPrefetchCount sets the prefetch count.
func WithPrefetchCount(count int) ConsumerOption {
	return func(c *Consumer) {
		c.prefetchCount = count
	}
}

// WithAutoAck enables automatic acknowledgment.
func WithAutoAck(autoAck bool) ConsumerOption {
	return func(c *Consumer) {
		c.autoAck = autoAck
	}
}

// WithConsumerTag sets the consumer tag.
func WithConsumerTag(tag string) ConsumerOption {
	return func(c *Consumer) {
		c.consumerTag = tag
	}
}

// WithConsumerLogger sets the logger.
func WithConsumerLogger(logger *slog.Logger) ConsumerOption {
	return func(c *Consumer) {
		c.logger = logger
	}
}

// NewConsumer creates a consumer for the given queue.
func NewConsumer(queue string, handler MessageHandler, options ...ConsumerOption) *Consumer {
	c := &Consumer{
		queue:         queue,
		handler:       handler,
		prefetchCount: 10,
		logger:        slog.Default(),
	}

	for _, opt := range options {
		opt(c)
	}

	return c
}

// HandleChannel stops any running consume loop and starts one on the fresh
// channel. The queue declaration and subscription happen on the loop's own
// goroutine so the supervisor is never held up.
func (c *Consumer) HandleChannel(ch supervisor.Channel) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	go c.consume(ctx, ch)
}

// HandleDisconnect stops the consume loop; the channel it was using is gone.
func (c *Consumer) HandleDisconnect(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.logger.Warn("consumer lost channel", "queue", c.queue, "error", err)
}

// Stop halts consumption until the next channel delivery.
func (c *Consumer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (c *Consumer) consume(ctx context.Context, ch supervisor.Channel) {
	if _, err := ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		c.logger.Error("queue declare failed", "queue", c.queue, "error", err)
		return
	}
	if err := ch.Qos(c.prefetchCount, 0, false); err != nil {
		c.logger.Error("qos failed", "queue", c.queue, "error", err)
		return
	}

	deliveries, err := ch.Consume(c.queue, c.consumerTag, c.autoAck, false, false, false, nil)
	if err != nil {
		c.logger.Error("consume failed", "queue", c.queue, "error", err)
		return
	}

	c.logger.Info("consuming", "queue", c.queue, "prefetchCount", c.prefetchCount)

	for {
		select {
		case <-ctx.Done():
			return
		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("delivery channel closed", "queue", c.queue)
				return
			}
			c.dispatch(ctx, delivery)
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, delivery amqp.Delivery) {
	err := c.handler(ctx, delivery)
	if err != nil {
		c.logger.Error("message handler failed",
			"queue", c.queue,
			"messageId", delivery.MessageId,
			"error", err)
	}

	if c.autoAck {
		return
	}
	if err != nil {
		if nackErr := delivery.Nack(false, true); nackErr != nil {
			c.logger.Error("nack failed", "queue", c.queue, "error", nackErr)
		}
		return
	}
	if ackErr := delivery.Ack(false); ackErr != nil {
		c.logger.Error("ack failed", "queue", c.queue, "error", ackErr)
	}
}
