package workers

import (
	"context"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestConsumer(t *testing.T) {
	t.Run("NewConsumer applies defaults and options", func(t *testing.T) {
		c := NewConsumer("work", nil,
			WithPrefetchCount(25),
			WithAutoAck(true),
			WithConsumerTag("worker-1"),
			WithConsumerLogger(testLogger()),
		)

		assert.Equal(t, "work", c.queue)
		assert.Equal(t, 25, c.prefetchCount)
		assert.True(t, c.autoAck)
		assert.Equal(t, "worker-1", c.consumerTag)
	})

	t.Run("channel delivery starts consuming and dispatches messages", func(t *testing.T) {
		deliveries := make(chan amqp.Delivery, 1)
		ch := &mockChannel{}
		ch.On("QueueDeclare", "work", true, false, false, false, amqp.Table(nil)).
			Return(amqp.Queue{Name: "work"}, nil)
		ch.On("Qos", 10, 0, false).Return(nil)
		ch.On("Consume", "work", "", true, false, false, false, amqp.Table(nil)).
			Return((<-chan amqp.Delivery)(deliveries), nil)

		handled := make(chan amqp.Delivery, 1)
		c := NewConsumer("work", func(ctx context.Context, d amqp.Delivery) error {
			handled <- d
			return nil
		}, WithAutoAck(true), WithConsumerLogger(testLogger()))

		c.HandleChannel(ch)
		deliveries <- amqp.Delivery{MessageId: "m1", Body: []byte("payload")}

		select {
		case d := <-handled:
			assert.Equal(t, "m1", d.MessageId)
		case <-time.After(time.Second):
			t.Fatal("handler was not invoked")
		}
		ch.AssertExpectations(t)
		c.Stop()
	})

	t.Run("acks on handler success and nacks on failure", func(t *testing.T) {
		deliveries := make(chan amqp.Delivery, 2)
		ch := &mockChannel{}
		ch.On("QueueDeclare", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(amqp.Queue{Name: "work"}, nil)
		ch.On("Qos", mock.Anything, mock.Anything, mock.Anything).Return(nil)
		ch.On("Consume", mock.Anything, mock.Anything, false, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return((<-chan amqp.Delivery)(deliveries), nil)

		acker := &mockAcknowledger{}
		acked := make(chan struct{}, 1)
		nacked := make(chan struct{}, 1)
		acker.On("Ack", uint64(1), false).Run(func(mock.Arguments) { acked <- struct{}{} }).Return(nil)
		acker.On("Nack", uint64(2), false, true).Run(func(mock.Arguments) { nacked <- struct{}{} }).Return(nil)

		c := NewConsumer("work", func(ctx context.Context, d amqp.Delivery) error {
			if d.DeliveryTag == 2 {
				return assert.AnError
			}
			return nil
		}, WithConsumerLogger(testLogger()))

		c.HandleChannel(ch)
		deliveries <- amqp.Delivery{Acknowledger: acker, DeliveryTag: 1}
		deliveries <- amqp.Delivery{Acknowledger: acker, DeliveryTag: 2}

		for _, done := range []chan struct{}{acked, nacked} {
			select {
			case <-done:
			case <-time.After(time.Second):
				t.Fatal("acknowledgment not seen")
			}
		}
		acker.AssertExpectations(t)
		c.Stop()
	})

	t.Run("disconnect stops the consume loop", func(t *testing.T) {
		deliveries := make(chan amqp.Delivery)
		ch := &mockChannel{}
		ch.On("QueueDeclare", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(amqp.Queue{Name: "work"}, nil)
		ch.On("Qos", mock.Anything, mock.Anything, mock.Anything).Return(nil)
		ch.On("Consume", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return((<-chan amqp.Delivery)(deliveries), nil)

		c := NewConsumer("work", func(ctx context.Context, d amqp.Delivery) error { return nil },
			WithAutoAck(true), WithConsumerLogger(testLogger()))

		c.HandleChannel(ch)
		c.HandleDisconnect(assert.AnError)

		c.mu.Lock()
		assert.Nil(t, c.cancel)
		c.mu.Unlock()
	})

	t.Run("a failed queue declare aborts the loop", func(t *testing.T) {
		declared := make(chan struct{})
		ch := &mockChannel{}
		ch.On("QueueDeclare", "work", true, false, false, false, amqp.Table(nil)).
			Run(func(mock.Arguments) { close(declared) }).
			Return(amqp.Queue{}, assert.AnError)

		c := NewConsumer("work", func(ctx context.Context, d amqp.Delivery) error { return nil },
			WithConsumerLogger(testLogger()))

		c.HandleChannel(ch)

		select {
		case <-declared:
		case <-time.After(time.Second):
			t.Fatal("queue was never declared")
		}
		time.Sleep(20 * time.Millisecond)
		ch.AssertNotCalled(t, "Consume", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		c.Stop()
	})
}
