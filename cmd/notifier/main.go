package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hotelna-core/internal/application/identity"
	"github.com/hotelna-core/internal/application/notification"
	"github.com/hotelna-core/internal/config"
	"github.com/hotelna-core/internal/infrastructure/awscfg"
	"github.com/hotelna-core/internal/infrastructure/broker"
	"github.com/hotelna-core/internal/infrastructure/dynamo"
	"github.com/hotelna-core/internal/infrastructure/expo"
	"github.com/hotelna-core/internal/infrastructure/rpc"
	"github.com/hotelna-core/internal/infrastructure/smtp"
	"github.com/hotelna-core/internal/infrastructure/sns"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading from environment")
	}

	cfg := config.Load()
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", "notifier"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	awsCfg, err := awscfg.Load(ctx, cfg, "")
	if err != nil {
		log.Fatalf("aws config: %v", err)
	}
	snsCfg, err := awscfg.Load(ctx, cfg, cfg.SNSRegion)
	if err != nil {
		log.Fatalf("aws config for sns: %v", err)
	}
	dynamoClient := dynamo.NewClient(awsCfg, cfg.AWSEndpointURL)

	transport, err := broker.Dial(cfg.BrokerURL, cfg.WorkerConcurrency)
	if err != nil {
		log.Fatalf("broker: %v", err)
	}
	q := cfg.Queues
	if err := transport.DeclareQueues(q.IdentityRequest, q.IdentityResponse, q.Email, q.SMS, q.Push, q.Notifications); err != nil {
		log.Fatalf("declare queues: %v", err)
	}

	// The requester outlives the consumers: draining handlers may still look
	// up recipients.
	requester := rpc.NewRequester(transport, q.IdentityRequest, q.IdentityResponse, cfg.RPCTimeout)
	listenCtx, stopListening := context.WithCancel(context.Background())
	listenDone := make(chan struct{})
	go func() {
		defer close(listenDone)
		if err := requester.Listen(listenCtx, transport); err != nil {
			slog.Error("identity reply listener stopped", "err", err)
		}
	}()

	metrics := notification.NewMetrics()
	router := notification.NewRouter(notification.RouterDeps{
		Mailer:       smtp.NewMailer(cfg),
		SMS:          sns.NewSender(snsCfg, cfg.SNSSenderID),
		Push:         expo.NewClient(cfg.ExpoAccessToken, cfg.ExpoBaseURL),
		Tokens:       dynamo.NewPushTokenRepo(dynamoClient, cfg.DynamoTables.PushTokens),
		Directory:    identity.NewClient(requester),
		Metrics:      metrics,
		Attempts:     cfg.DeliveryAttempts,
		Backoff:      500 * time.Millisecond,
		ReceiptDelay: cfg.PushReceiptDelay,
	})

	reg := prometheus.NewRegistry()
	reg.MustRegister(metrics.PrometheusCollectors()...)
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "notifier",
			Name:      "identity_requests_pending",
			Help:      "Identity lookups awaiting a reply.",
		}, func() float64 { return float64(requester.Pending()) }),
	)
	mux := chi.NewRouter()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Get("/health-check/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message":"pong"}`))
	})
	metricsSrv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("metrics server error: %v", err)
		}
	}()

	consumeCtx, stopConsuming := context.WithCancel(ctx)
	defer stopConsuming()
	served := make(chan error, 1)
	go func() {
		served <- router.Serve(consumeCtx, transport, notification.Queues{
			Notifications: q.Notifications,
			Email:         q.Email,
			SMS:           q.SMS,
			Push:          q.Push,
		}, cfg.WorkerConcurrency)
	}()
	if cfg.PushReceiptDelay > 0 {
		go router.CheckReceipts(consumeCtx, min(cfg.PushReceiptDelay, time.Minute))
	}
	slog.Info("notifier started", "concurrency", cfg.WorkerConcurrency, "metrics_port", cfg.MetricsPort)

	drained := false
	select {
	case <-ctx.Done():
	case err := <-transport.Lost():
		slog.Error("shutting down after broker loss", "err", err)
	case err := <-served:
		slog.Error("consumers stopped", "err", err)
		drained = true
	}

	slog.Info("shutting down")
	stopConsuming()
	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if !drained {
		select {
		case <-served:
		case <-drainCtx.Done():
			slog.Warn("handlers did not drain in time")
		}
	}

	requester.Close()
	stopListening()
	<-listenDone
	if err := metricsSrv.Shutdown(drainCtx); err != nil {
		slog.Error("metrics shutdown", "err", err)
	}
	if err := transport.Close(); err != nil {
		slog.Error("close broker", "err", err)
	}
	slog.Info("notifier stopped")
}
