package workers

import (
	"context"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/harbormq/harbor-go/supervisor"
)

// RPCHandler produces a reply body for a request delivery.
type RPCHandler func(ctx context.Context, request amqp.Delivery) ([]byte, error)

// RPCServer serves request/reply traffic on a queue: each request is passed
// to the handler and the reply is published to the request's ReplyTo queue
// with its CorrelationId echoed back. Requests without a ReplyTo are
// processed but produce no reply.
type RPCServer struct {
	queue       string
	handler     RPCHandler
	contentType string
	logger      *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// RPCOption configures the RPCServer.
type RPCOption func(*RPCServer)

// WithRPCContentType sets the content type of replies.
func WithRPCContentType(contentType string) RPCOption {
	return func(s *RPCServer) {
		s.contentType = contentType
	}
}

// WithRPCLogger sets the logger.
func WithRPCLogger(logger *slog.Logger) RPCOption {
	return func(s *RPCServer) {
		s.logger = logger
	}
}

// NewRPCServer creates an RPC server for the given request queue.
func NewRPCServer(queue string, handler RPCHandler, options ...RPCOption) *RPCServer {
	s := &RPCServer{
		queue:       queue,
		handler:     handler,
		contentType: "application/json",
		logger:      slog.Default(),
	}

	for _, opt := range options {
		opt(s)
	}

	return s
}

// HandleChannel restarts the serve loop on the fresh channel.
func (s *RPCServer) HandleChannel(ch supervisor.Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	go s.serve(ctx, ch)
}

// HandleDisconnect stops the serve loop.
func (s *RPCServer) HandleDisconnect(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.logger.Warn("rpc server lost channel", "queue", s.queue, "error", err)
}

func (s *RPCServer) serve(ctx context.Context, ch supervisor.Channel) {
	if _, err := ch.QueueDeclare(s.queue, true, false, false, false, nil); err != nil {
		s.logger.Error("queue declare failed", "queue", s.queue, "error", err)
		return
	}

	deliveries, err := ch.Consume(s.queue, "", false, false, false, false, nil)
	if err != nil {
		s.logger.Error("consume failed", "queue", s.queue, "error", err)
		return
	}

	s.logger.Info("serving rpc", "queue", s.queue)

	for {
		select {
		case <-ctx.Done():
			return
		case delivery, ok := <-deliveries:
			if !ok {
				return
			}
			s.respond(ctx, ch, delivery)
		}
	}
}

func (s *RPCServer) respond(ctx context.Context, ch supervisor.Channel, request amqp.Delivery) {
	reply, err := s.handler(ctx, request)
	if err != nil {
		s.logger.Error("rpc handler failed",
			"queue", s.queue,
			"correlationId", request.CorrelationId,
			"error", err)
		if nackErr := request.Nack(false, false); nackErr != nil {
			s.logger.Error("nack failed", "queue", s.queue, "error", nackErr)
		}
		return
	}

	if request.ReplyTo != "" {
		err = ch.PublishWithContext(ctx, "", request.ReplyTo, false, false, amqp.Publishing{
			ContentType:   s.contentType,
			CorrelationId: request.CorrelationId,
			Body:          reply,
		})
		if err != nil {
			s.logger.Error("reply publish failed",
				"queue", s.queue,
				"replyTo", request.ReplyTo,
				"error", err)
		}
	}

	if ackErr := request.Ack(false); ackErr != nil {
		s.logger.Error("ack failed", "queue", s.queue, "error", ackErr)
	}
}
