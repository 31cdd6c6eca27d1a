package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"campusmarket/internal/events"
	"campusmarket/internal/usertoken"
	"campusmarket/internal/util"
	"campusmarket/pkg/market"
	"campusmarket/pkg/storage"
	"campusmarket/services/marketplace/internal/app"
	"campusmarket/services/marketplace/internal/config"
	"campusmarket/services/marketplace/internal/identity"
	"campusmarket/services/marketplace/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger("marketplace", cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	latency, err := latencyFromConfig(cfg)
	if err != nil {
		log.Fatalf("failed to parse latency: %v", err)
	}
	jwtLeeway, err := config.ParseDuration(cfg.JWTLeeway)
	if err != nil {
		log.Fatalf("failed to parse jwt leeway: %v", err)
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	var tokenVerifier *usertoken.Verifier
	if cfg.IdentityJWKSURL != "" {
		tokenVerifier, err = usertoken.NewVerifier(ctx, usertoken.Config{
			JWKSURL:    cfg.IdentityJWKSURL,
			Issuer:     cfg.JWTIssuer,
			Audience:   cfg.JWTAudience,
			Leeway:     jwtLeeway,
			HTTPClient: &http.Client{Timeout: 5 * time.Second},
		})
		if err != nil {
			log.Fatalf("failed to init jwks verifier: %v", err)
		}
	}

	publisher, err := newPublisher(cfg)
	if err != nil {
		log.Fatalf("failed to init event publisher: %v", err)
	}
	appCore, err := app.New(ctx, app.Config{
		SubstrateConfig: app.SubstrateConfig{
			Backend:        cfg.StoreBackend,
			DatabaseURL:    cfg.DatabaseURL,
			RedisAddr:      cfg.RedisAddr,
			RedisPassword:  cfg.RedisPassword,
			RedisKeyPrefix: cfg.RedisKeyPrefix,
			Minio: storage.MinioConfig{
				Endpoint:  cfg.MinioEndpoint,
				AccessKey: cfg.MinioAccessKey,
				SecretKey: cfg.MinioSecretKey,
				Bucket:    cfg.MinioBucket,
				UseSSL:    cfg.MinioUseSSL,
				Prefix:    cfg.MinioPrefix,
			},
		},
		Seed:    cfg.SeedEnabled(),
		Latency: latency,
		Events:  publisher,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}
	defer appCore.Close()

	httpServer, err := server.New(server.Config{
		App:                       appCore,
		Identity:                  identity.NewClient(cfg.IdentityServiceURL),
		TokenVerifier:             tokenVerifier,
		RedisAddr:                 cfg.RedisAddr,
		RedisPassword:             cfg.RedisPassword,
		BidRateLimitPerMinute:     cfg.BidRateLimitPerMinute,
		MessageRateLimitPerMinute: cfg.MessageRateLimitPerMinute,
		TrustedProxies:            trusted,
		CORSAllowedOrigins:        cfg.CORSAllowedOrigins,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}
	defer httpServer.Close()

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", "err", err)
		}
	}()

	logger.Info("marketplace server listening",
		"addr", addr,
		"store", cfg.StoreBackend,
		"events", events.Mode(publisher),
		"jwks", tokenVerifier != nil,
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
	}
}

// newPublisher prefers the broker, then a Redis stream, then the no-op publisher.
func newPublisher(cfg config.FileConfig) (events.Publisher, error) {
	if cfg.AMQPURL == "" && cfg.EventsStream != "" {
		return events.NewRedisStreamPublisher(events.RedisStreamConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			Stream:   cfg.EventsStream,
			MaxLen:   cfg.EventsStreamMaxLen,
		})
	}
	return events.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange), nil
}

// latencyFromConfig keeps the default campus-network delay unless either
// bound is configured.
func latencyFromConfig(cfg config.FileConfig) (market.Latency, error) {
	if cfg.LatencyMin == "" && cfg.LatencyJitter == "" {
		return market.DefaultLatency(), nil
	}
	minDelay, err := config.ParseDuration(cfg.LatencyMin)
	if err != nil {
		return market.Latency{}, err
	}
	jitter, err := config.ParseDuration(cfg.LatencyJitter)
	if err != nil {
		return market.Latency{}, err
	}
	return market.Latency{Min: minDelay, Jitter: jitter}, nil
}
