package workers

import (
	"context"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestRPCServer(t *testing.T) {
	t.Run("replies to the ReplyTo queue with the correlation id", func(t *testing.T) {
		deliveries := make(chan amqp.Delivery, 1)
		ch := &mockChannel{}
		ch.On("QueueDeclare", "rpc.echo", true, false, false, false, amqp.Table(nil)).
			Return(amqp.Queue{Name: "rpc.echo"}, nil)
		ch.On("Consume", "rpc.echo", "", false, false, false, false, amqp.Table(nil)).
			Return((<-chan amqp.Delivery)(deliveries), nil)

		replied := make(chan struct{})
		ch.On("PublishWithContext", mock.Anything, "", "replies.client-1", false, false,
			mock.MatchedBy(func(msg amqp.Publishing) bool {
				return msg.CorrelationId == "corr-42" && string(msg.Body) == "pong"
			})).
			Run(func(mock.Arguments) { close(replied) }).
			Return(nil)

		acker := &mockAcknowledger{}
		acker.On("Ack", uint64(7), false).Return(nil)

		server := NewRPCServer("rpc.echo", func(ctx context.Context, req amqp.Delivery) ([]byte, error) {
			return []byte("pong"), nil
		}, WithRPCLogger(testLogger()))

		server.HandleChannel(ch)
		deliveries <- amqp.Delivery{
			Acknowledger:  acker,
			DeliveryTag:   7,
			ReplyTo:       "replies.client-1",
			CorrelationId: "corr-42",
			Body:          []byte("ping"),
		}

		select {
		case <-replied:
		case <-time.After(time.Second):
			t.Fatal("no reply was published")
		}
		server.HandleDisconnect(nil)
	})

	t.Run("handler failure nacks the request without a reply", func(t *testing.T) {
		deliveries := make(chan amqp.Delivery, 1)
		ch := &mockChannel{}
		ch.On("QueueDeclare", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(amqp.Queue{Name: "rpc.echo"}, nil)
		ch.On("Consume", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return((<-chan amqp.Delivery)(deliveries), nil)

		acker := &mockAcknowledger{}
		nacked := make(chan struct{})
		acker.On("Nack", uint64(8), false, false).
			Run(func(mock.Arguments) { close(nacked) }).
			Return(nil)

		server := NewRPCServer("rpc.echo", func(ctx context.Context, req amqp.Delivery) ([]byte, error) {
			return nil, assert.AnError
		}, WithRPCLogger(testLogger()))

		server.HandleChannel(ch)
		deliveries <- amqp.Delivery{
			Acknowledger:  acker,
			DeliveryTag:   8,
			ReplyTo:       "replies.client-1",
			CorrelationId: "corr-43",
		}

		select {
		case <-nacked:
		case <-time.After(time.Second):
			t.Fatal("request was not nacked")
		}
		ch.AssertNotCalled(t, "PublishWithContext", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		server.HandleDisconnect(nil)
	})

	t.Run("requests without ReplyTo are processed silently", func(t *testing.T) {
		deliveries := make(chan amqp.Delivery, 1)
		ch := &mockChannel{}
		ch.On("QueueDeclare", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(amqp.Queue{Name: "rpc.echo"}, nil)
		ch.On("Consume", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return((<-chan amqp.Delivery)(deliveries), nil)

		acker := &mockAcknowledger{}
		acked := make(chan struct{})
		acker.On("Ack", uint64(9), false).
			Run(func(mock.Arguments) { close(acked) }).
			Return(nil)

		server := NewRPCServer("rpc.echo", func(ctx context.Context, req amqp.Delivery) ([]byte, error) {
			return []byte("ignored"), nil
		}, WithRPCLogger(testLogger()))

		server.HandleChannel(ch)
		deliveries <- amqp.Delivery{Acknowledger: acker, DeliveryTag: 9}

		select {
		case <-acked:
		case <-time.After(time.Second):
			t.Fatal("request was not acked")
		}
		ch.AssertNotCalled(t, "PublishWithContext", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		server.HandleDisconnect(nil)
	})
}
