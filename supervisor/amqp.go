package supervisor

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Channel is the subset of *amqp.Channel handed to workers. Ownership of a
// Channel transfers to the worker on delivery; the worker must treat it as
// invalid after any disconnect notice.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Qos(prefetchCount, prefetchSize int, global bool) error
	Close() error
}

// Connection abstracts the broker connection so the supervisor can be tested
// without a running broker. *amqp.Connection satisfies it through amqpDialer.
type Connection interface {
	Channel() (Channel, error)
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	IsClosed() bool
	Close() error
}

// Dialer opens broker connections.
type Dialer interface {
	Dial(url string) (Connection, error)
}

type amqpDialer struct{}

func (amqpDialer) Dial(url string) (Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return &amqpConnection{conn}, nil
}

// amqpConnection adapts *amqp.Connection to the Connection interface. Only
// Channel needs wrapping for the return type; the rest is promoted.
type amqpConnection struct {
	*amqp.Connection
}

func (c *amqpConnection) Channel() (Channel, error) {
	return c.Connection.Channel()
}
