package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/earthman-shop/checkout/internal/cart"
	"github.com/earthman-shop/checkout/internal/catalog"
	"github.com/earthman-shop/checkout/internal/domain"
	"github.com/earthman-shop/checkout/internal/messaging"
	"github.com/earthman-shop/checkout/internal/notifier"
	"github.com/earthman-shop/checkout/internal/orders"
	"github.com/earthman-shop/checkout/internal/payment"
	"github.com/earthman-shop/checkout/internal/telemetry"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "checkout", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider("checkout", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize meter provider", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(ctx) }()

	postgresURL := requireEnv(logger, "POSTGRES_URL")

	db, err := telemetry.OpenDB("postgres", postgresURL, "checkout")
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	redisAddr := requireEnv(logger, "REDIS_ADDR")
	emailServiceURL := requireEnv(logger, "EMAIL_SERVICE_URL")
	staffEmail := requireEnv(logger, "STAFF_EMAIL")

	brokers := strings.Split(requireEnv(logger, "KAFKA_BROKERS"), ",")
	paidProducer := messaging.NewProducer(brokers, "order.paid")
	defer func() { _ = paidProducer.Close() }()
	failedProducer := messaging.NewProducer(brokers, "order.payment_failed")
	defer func() { _ = failedProducer.Close() }()

	httpClient := &http.Client{
		Timeout:   10 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	card := payment.NewCardProvider(
		requireEnv(logger, "CARD_API_URL"),
		requireEnv(logger, "CARD_SECRET_KEY"),
		requireEnv(logger, "CARD_WEBHOOK_SECRET"),
		httpClient,
	)
	wallet := payment.NewWalletProvider(
		requireEnv(logger, "WALLET_API_URL"),
		requireEnv(logger, "WALLET_CLIENT_ID"),
		requireEnv(logger, "WALLET_CLIENT_SECRET"),
		requireEnv(logger, "WALLET_WEBHOOK_SECRET"),
		requireEnv(logger, "WALLET_RETURN_URL"),
		requireEnv(logger, "WALLET_CANCEL_URL"),
		httpClient,
	)

	repo := orders.NewRepository(db)
	carts := cart.NewRedisStore(redisAddr)
	prices := catalog.NewStore(db)
	emails := notifier.NewEmailNotifier(emailServiceURL, staffEmail, httpClient, logger)

	lifecycleGateways := map[domain.PaymentMethod]payment.Gateway{
		domain.PaymentMethodCard:   card,
		domain.PaymentMethodWallet: wallet,
	}
	handlerGateways := map[string]payment.Gateway{
		payment.ProviderCard:   card,
		payment.ProviderWallet: wallet,
	}

	lifecycle := orders.NewLifecycle(repo, carts, prices, emails, lifecycleGateways, logger)
	gate := orders.NewGate(repo, carts, emails, paidProducer, failedProducer, logger)
	handler := orders.NewHandler(lifecycle, gate, repo, handlerGateways, logger)
	cartHandler := cart.NewHandler(carts, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /orders", telemetry.WithHTTPRoute(handler.HandleCreate))
	mux.HandleFunc("GET /orders", telemetry.WithHTTPRoute(handler.HandleList))
	mux.HandleFunc("GET /orders/{reference}", telemetry.WithHTTPRoute(handler.HandleGet))
	mux.HandleFunc("PATCH /orders/{reference}/fulfillment", telemetry.WithHTTPRoute(handler.HandleUpdateFulfillment))
	mux.HandleFunc("POST /payments/card/confirm", telemetry.WithHTTPRoute(handler.HandleConfirmCard))
	mux.HandleFunc("POST /payments/wallet/execute", telemetry.WithHTTPRoute(handler.HandleExecuteWallet))
	mux.HandleFunc("POST /webhooks/{provider}", telemetry.WithHTTPRoute(handler.HandleWebhook))
	mux.HandleFunc("GET /cart/{session}", telemetry.WithHTTPRoute(cartHandler.HandleGet))
	mux.HandleFunc("PUT /cart/{session}", telemetry.WithHTTPRoute(cartHandler.HandlePut))
	mux.HandleFunc("DELETE /cart/{session}", telemetry.WithHTTPRoute(cartHandler.HandleDelete))
	mux.Handle("GET /metrics", metricsHandler)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8081"
	}

	server := &http.Server{
		Addr: ":" + port,
		Handler: otelhttp.NewHandler(mux, "checkout",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				if r.Pattern != "" {
					return r.Pattern
				}
				return r.Method + " " + r.URL.Path
			}),
		),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting checkout service", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}

func requireEnv(logger *slog.Logger, name string) string {
	value := os.Getenv(name)
	if value == "" {
		logger.Error(name + " environment variable is required")
		os.Exit(1)
	}
	return value
}
