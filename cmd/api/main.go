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

	"github.com/hotelna-core/internal/application/auth"
	"github.com/hotelna-core/internal/application/chat"
	"github.com/hotelna-core/internal/application/identity"
	"github.com/hotelna-core/internal/application/onboarding"
	"github.com/hotelna-core/internal/application/verification"
	"github.com/hotelna-core/internal/config"
	"github.com/hotelna-core/internal/infrastructure/awscfg"
	"github.com/hotelna-core/internal/infrastructure/broker"
	"github.com/hotelna-core/internal/infrastructure/dynamo"
	jwtinfra "github.com/hotelna-core/internal/infrastructure/jwt"
	"github.com/hotelna-core/internal/infrastructure/rpc"
	s3infra "github.com/hotelna-core/internal/infrastructure/s3"
	"github.com/hotelna-core/internal/pkg/presence"
	transporthttp "github.com/hotelna-core/internal/transport/http"
	appmiddleware "github.com/hotelna-core/internal/transport/http/middleware"
	"github.com/joho/godotenv"
	"golang.org/x/time/rate"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading from environment")
	}

	cfg := config.Load()
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", "api"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	awsCfg, err := awscfg.Load(ctx, cfg, "")
	if err != nil {
		log.Fatalf("aws config: %v", err)
	}

	// Bootstrap DynamoDB tables (creates them if they don't exist).
	dynamoClient := dynamo.NewClient(awsCfg, cfg.AWSEndpointURL)
	dynamo.Bootstrap(ctx, dynamoClient, cfg.DynamoTables)

	userRepo := dynamo.NewUserRepo(dynamoClient, cfg.DynamoTables.Users)
	tokenRepo := dynamo.NewPushTokenRepo(dynamoClient, cfg.DynamoTables.PushTokens)

	jwtProvider, err := jwtinfra.NewProvider(cfg)
	if err != nil {
		log.Fatalf("jwt provider: %v", err)
	}

	s3Store := s3infra.NewStore(
		s3infra.NewClient(awsCfg, cfg.AWSEndpointURL),
		cfg.S3BucketName, cfg.AWSRegion, cfg.S3PublicBaseURL,
	)

	transport, err := broker.Dial(cfg.BrokerURL, cfg.WorkerConcurrency)
	if err != nil {
		log.Fatalf("broker: %v", err)
	}
	q := cfg.Queues
	if err := transport.DeclareQueues(q.IdentityRequest, q.IdentityResponse, q.Email, q.SMS, q.Push, q.Notifications); err != nil {
		log.Fatalf("declare queues: %v", err)
	}

	codes := verification.NewStore(
		dynamo.NewVerificationRepo(dynamoClient, cfg.DynamoTables.VerificationCodes),
		verification.PolicyFromConfig(cfg.OTP),
	)
	authSvc := auth.NewService(auth.ServiceDeps{
		UserRepo:    userRepo,
		Codes:       codes,
		Publisher:   transport,
		JWTProvider: jwtProvider,
		EmailQueue:  q.Email,
		SMSQueue:    q.SMS,
	})
	onboardingSvc := onboarding.NewService(onboarding.ServiceDeps{
		Users:      userRepo,
		Hotels:     dynamo.NewHotelRepo(dynamoClient, cfg.DynamoTables.Hotels),
		Images:     dynamo.NewImageRepo(dynamoClient, cfg.DynamoTables.Images),
		Objects:    s3Store,
		Publisher:  transport,
		EmailQueue: q.Email,
	})

	online := presence.NewRegistry()
	hub := chat.NewHub(online, 32)
	relay := chat.NewRelay(chat.RelayDeps{
		Presence:    online,
		Realtime:    hub,
		Publisher:   transport,
		NotifyQueue: q.Notifications,
	})

	// 5 requests/second, burst of 10.
	limiter := appmiddleware.NewRateLimiter(rate.Limit(5), 10)
	defer limiter.Stop()

	router := transporthttp.NewRouter(cfg, &transporthttp.Deps{
		Auth:       authSvc,
		Onboarding: onboardingSvc,
		PushTokens: identity.NewTokenService(tokenRepo),
		Relay:      relay,
		Hub:        hub,
		Verifier:   jwtProvider,
		Limiter:    limiter,
	})

	responder := rpc.NewResponder(transport, transport, q.IdentityRequest, q.IdentityResponse,
		cfg.WorkerConcurrency, identity.NewLookupHandler(userRepo, tokenRepo))
	responderDone := make(chan error, 1)
	go func() { responderDone <- responder.Serve(ctx) }()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	srv.RegisterOnShutdown(func() {
		slog.Info("closing realtime streams", "online", online.Len())
		hub.Close()
	})

	go func() {
		slog.Info("server starting", "port", cfg.AppPort, "env", cfg.AppEnv)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-transport.Lost():
		slog.Error("shutting down after broker loss", "err", err)
		stop()
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("forced http shutdown", "err", err)
	}
	select {
	case <-responderDone:
	case <-shutdownCtx.Done():
		slog.Warn("identity responder did not drain in time")
	}
	if err := transport.Close(); err != nil {
		slog.Error("close broker", "err", err)
	}
	slog.Info("server stopped")
}
