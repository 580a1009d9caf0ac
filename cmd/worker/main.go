package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/earthman-shop/checkout/internal/messaging"
	"github.com/earthman-shop/checkout/internal/notifier"
	"github.com/earthman-shop/checkout/internal/telemetry"
	"github.com/earthman-shop/checkout/internal/worker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	shutdownTracer, err := telemetry.InitTracerProvider(context.Background(), "worker", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	kafkaBrokers := os.Getenv("KAFKA_BROKERS")
	if kafkaBrokers == "" {
		logger.Error("KAFKA_BROKERS environment variable is required")
		os.Exit(1)
	}

	emailServiceURL := os.Getenv("EMAIL_SERVICE_URL")
	if emailServiceURL == "" {
		logger.Error("EMAIL_SERVICE_URL environment variable is required")
		os.Exit(1)
	}

	staffEmail := os.Getenv("STAFF_EMAIL")
	if staffEmail == "" {
		logger.Error("STAFF_EMAIL environment variable is required")
		os.Exit(1)
	}

	brokers := strings.Split(kafkaBrokers, ",")
	paidConsumer := messaging.NewConsumer(brokers, "order.paid", "notification-worker")
	defer func() { _ = paidConsumer.Close() }()
	failedConsumer := messaging.NewConsumer(brokers, "order.payment_failed", "notification-worker")
	defer func() { _ = failedConsumer.Close() }()

	httpClient := &http.Client{
		Timeout: 10 * time.Second,
	}

	emails := notifier.NewEmailNotifier(emailServiceURL, staffEmail, httpClient, logger)
	handler := worker.NewNotificationHandler(emails, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		logger.Info("shutting down")
		cancel()
	}()

	logger.Info("starting notification worker", "brokers", brokers)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return paidConsumer.Consume(groupCtx, handler.HandleOrderPaid)
	})
	group.Go(func() error {
		return failedConsumer.Consume(groupCtx, handler.HandlePaymentFailed)
	})

	if err := group.Wait(); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			logger.Info("consumers stopped")
			return
		}
		logger.Error("consumer error", "error", err)
		os.Exit(1)
	}
}
