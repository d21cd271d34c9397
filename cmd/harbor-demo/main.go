// Command harbor-demo wires a supervised broker connection to a producer, a
// consumer and an RPC echo endpoint. It creates the workers before the first
// connect so they are fed channels as soon as the broker is reachable, then
// publishes a heartbeat until interrupted.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/harbormq/harbor-go/config"
	"github.com/harbormq/harbor-go/health"
	"github.com/harbormq/harbor-go/metrics"
	"github.com/harbormq/harbor-go/supervisor"
	"github.com/harbormq/harbor-go/workers"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "harbor-demo:", err)
		os.Exit(1)
	}
}

func run() error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger.Info("starting", "broker", cfg.Redacted())

	collector, err := metrics.NewStateCollector(prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}

	sup := supervisor.New(cfg.URI(),
		supervisor.WithLogger(logger),
		supervisor.WithReconnectDelay(cfg.ReconnectDelay),
		supervisor.WithRequestTimeout(cfg.RequestTimeout),
		supervisor.WithStateListener(collector),
	)
	sup.Start()
	defer sup.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Workers are registered before the first connect attempt; the
	// supervisor feeds each a channel once connected.
	// Default exchange: heartbeats are routed straight to the consumer's queue.
	producer := workers.NewProducer("", workers.WithProducerLogger(logger))
	if _, err := sup.CreateWorker(ctx, "heartbeat-producer", func() supervisor.Worker {
		return producer
	}); err != nil {
		return err
	}

	if _, err := sup.CreateWorker(ctx, "heartbeat-consumer", func() supervisor.Worker {
		return workers.NewConsumer("demo.heartbeats", func(ctx context.Context, d amqp.Delivery) error {
			logger.Info("heartbeat received", "messageId", d.MessageId, "body", string(d.Body))
			return nil
		}, workers.WithConsumerLogger(logger))
	}); err != nil {
		return err
	}

	if _, err := sup.CreateWorker(ctx, "echo-endpoint", func() supervisor.Worker {
		return workers.NewRPCServer("demo.echo", func(ctx context.Context, req amqp.Delivery) ([]byte, error) {
			return req.Body, nil
		}, workers.WithRPCLogger(logger))
	}); err != nil {
		return err
	}

	sup.Connect()

	checker := health.NewSupervisorChecker(sup, logger)
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		case <-ticker.C:
			err := producer.Publish(ctx, "demo.heartbeats", []byte(time.Now().Format(time.RFC3339)))
			switch {
			case errors.Is(err, workers.ErrNoChannel):
				logger.Warn("broker unavailable, heartbeat skipped")
			case err != nil:
				logger.Error("heartbeat publish failed", "error", err)
			}

			result := checker.Check(ctx)
			logger.Info("health", "status", result.Status, "message", result.Message)
		}
	}
}
