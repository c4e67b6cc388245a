package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gitlab.com/hearthline/api/telephony-engine/internal/callrouting"
	"gitlab.com/hearthline/api/telephony-engine/internal/classifier"
	"gitlab.com/hearthline/api/telephony-engine/internal/config"
	"gitlab.com/hearthline/api/telephony-engine/internal/delivery"
	"gitlab.com/hearthline/api/telephony-engine/internal/events"
	"gitlab.com/hearthline/api/telephony-engine/internal/ingest"
	"gitlab.com/hearthline/api/telephony-engine/internal/jobs"
	"gitlab.com/hearthline/api/telephony-engine/internal/normalizer"
	"gitlab.com/hearthline/api/telephony-engine/internal/observer"
	"gitlab.com/hearthline/api/telephony-engine/internal/outbound"
	"gitlab.com/hearthline/api/telephony-engine/internal/provider"
	"gitlab.com/hearthline/api/telephony-engine/internal/relay"
	"gitlab.com/hearthline/api/telephony-engine/internal/resolver"
	"gitlab.com/hearthline/api/telephony-engine/internal/skip"
	"gitlab.com/hearthline/api/telephony-engine/internal/storage"
	"gitlab.com/hearthline/api/telephony-engine/internal/webhook"
	"gitlab.com/hearthline/api/telephony-engine/pkg/logger"
	"gitlab.com/hearthline/api/telephony-engine/pkg/utils"
	"go.uber.org/zap"
)

func main() {
	// Set timezone to UTC
	time.Local = time.UTC

	// Load configuration
	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logger.Initialize(cfg.LogLevel); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	metricsEnabled := cfg.Metrics.Enabled
	observer.SetMetricsEnabled(metricsEnabled)

	logger.Log.Info("Starting telephony engine",
		zap.String("environment", cfg.Environment),
		zap.Int("port", cfg.Server.Port),
		zap.String("nats_url", cfg.NATS.URL),
	)

	// Initialize repositories
	repo, err := initPostgresRepo(cfg.Database.PostgresDSN, cfg.Database.PostgresAutoMigrate)
	if err != nil {
		logger.Log.Fatal("Failed to initialize Postgres repository", zap.Error(err))
	}

	// Initialize domain event publisher
	natsClient, publisher, err := initPublisher(cfg)
	if err != nil {
		logger.Log.Fatal("Failed to initialize event publisher", zap.Error(err))
	}

	// Initialize background job pool
	dispatcher, err := jobs.NewDispatcher(cfg.Jobs, logger.Log)
	if err != nil {
		logger.Log.Fatal("Failed to initialize job dispatcher", zap.Error(err))
	}

	messenger, controller := initProviderClients(cfg)

	// The carrier lookup client is optional; without it the skip engine
	// falls back to stored line types.
	var carrierLookup provider.CarrierLookupClient
	if cfg.Carrier.LookupURL != "" {
		carrierLookup = provider.NewHTTPCarrierLookup(cfg.Providers.Telnyx.APIKey, cfg.Carrier.LookupURL, cfg.Carrier.Timeout)
	}

	// Engine services
	identity := resolver.New(repo, repo, repo, repo)
	scoring := classifier.NewHTTPScoringClient(cfg.Classifier)
	contentClassifier := classifier.New(scoring, cfg.Classifier)
	relayAllocator := relay.NewAllocator(repo, repo, messenger, publisher, cfg.Relay, cfg.AppURL)
	skipEngine := skip.NewEngine(repo, repo, repo, repo, repo, carrierLookup, cfg.Skip)
	deliveryEngine := delivery.NewEngine(repo, repo, repo, publisher, cfg.Cooldown)
	callRouter := callrouting.NewRouter(identity, repo, repo, repo, repo, controller, publisher, dispatcher)
	pipeline := ingest.NewPipeline(identity, contentClassifier, relayAllocator, repo, publisher)
	sender := outbound.NewSender(skipEngine, repo, messenger, publisher)

	// HTTP surface
	adapters := []normalizer.Adapter{
		normalizer.NewTelnyxAdapter(),
		normalizer.NewTwilioAdapter(),
		normalizer.NewBrokerAdapter(),
	}
	server := webhook.NewServer(":"+strconv.Itoa(cfg.Server.Port), adapters, pipeline, deliveryEngine, callRouter, logger.Log)
	server.RegisterAPIRoutes(webhook.NewAPIHandler(relayAllocator, sender, repo, repo))

	if metricsEnabled {
		server.RegisterMetricsHandler(promhttp.Handler())
		logger.Log.Info("Metrics endpoint enabled", zap.String("path", "/metrics"), zap.Int("port", cfg.Server.Port))
	} else {
		logger.Log.Info("Metrics endpoint disabled for environment", zap.String("environment", cfg.Environment))
	}

	server.Start()

	logger.Log.Info("Webhook endpoints available",
		zap.String("health", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port)),
		zap.String("readiness", fmt.Sprintf("http://localhost:%d/ready", cfg.Server.Port)),
	)

	// Wait for termination signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Log.Info("Received termination signal", zap.String("signal", sig.String()))

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	logger.Log.Info("Starting graceful shutdown", zap.Duration("timeout", 30*time.Second))

	var wg sync.WaitGroup
	wg.Add(3)

	// Stop the HTTP server first so no new webhooks arrive mid-teardown.
	utils.SafeGo(func() {
		defer wg.Done()
		logger.Log.Info("[shutdown] Stopping webhook server")
		start := time.Now()
		if err := server.Stop(shutdownCtx); err != nil {
			logger.Log.Error("[shutdown] Error stopping webhook server", zap.Error(err))
		} else {
			logger.Log.Info("[shutdown] Webhook server stopped",
				zap.Duration("duration", time.Since(start)))
		}
	})

	// Drain the background job pool.
	utils.SafeGo(func() {
		defer wg.Done()
		logger.Log.Info("[shutdown] Releasing job dispatcher")
		start := time.Now()
		dispatcher.Release()
		logger.Log.Info("[shutdown] Job dispatcher released",
			zap.Duration("duration", time.Since(start)))
	})

	// Close connections last.
	utils.SafeGo(func() {
		defer wg.Done()
		logger.Log.Info("[shutdown] Closing PostgreSQL connection")
		pgStart := time.Now()
		if err := repo.Close(shutdownCtx); err != nil {
			logger.Log.Error("[shutdown] Failed to close PostgreSQL connection", zap.Error(err))
		} else {
			logger.Log.Info("[shutdown] PostgreSQL connection closed",
				zap.Duration("duration", time.Since(pgStart)))
		}

		if natsClient != nil {
			logger.Log.Info("[shutdown] Closing NATS connection")
			natsClient.Close()
			logger.Log.Info("[shutdown] NATS connection closed")
		}
	})

	waitCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Log.Info("[shutdown] All components stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Log.Warn("[shutdown] Graceful shutdown timed out, forcing exit")
	}

	logger.Log.Info("Telephony engine shutdown complete")
}

// initPostgresRepo initializes the PostgreSQL repository.
func initPostgresRepo(dsn string, autoMigrate bool) (*storage.PostgresRepo, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	repo, err := storage.NewPostgresRepo(dsn, autoMigrate)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres repository: %w", err)
	}

	logger.Log.Info("Initialized PostgreSQL repository")
	return repo, nil
}

// initProviderClients selects the messaging and call-control implementation
// from config. Telnyx is the default; Twilio drives both when it is the only
// provider configured.
func initProviderClients(cfg *config.Config) (provider.MessagingClient, provider.CallController) {
	if cfg.Providers.Telnyx.APIKey == "" && cfg.Providers.Twilio.AccountSID != "" {
		twilio := provider.NewTwilioClient(cfg.Providers.Twilio.AccountSID, cfg.Providers.Twilio.AuthToken, cfg.Providers.Twilio.BaseURL, cfg.Providers.Timeout)
		logger.Log.Info("Using Twilio as the messaging provider")
		return twilio, twilio
	}
	telnyx := provider.NewTelnyxClient(cfg.Providers.Telnyx.APIKey, cfg.Providers.Telnyx.BaseURL, cfg.Providers.Timeout)
	return telnyx, telnyx
}

// initPublisher connects to NATS and builds the JetStream publisher. Without
// a NATS URL the engine still runs and domain events are dropped.
func initPublisher(cfg *config.Config) (*events.Client, events.Publisher, error) {
	if cfg.NATS.URL == "" {
		logger.Log.Warn("NATS URL not configured; domain events disabled")
		return nil, events.NopPublisher{}, nil
	}

	client, err := events.NewClient(cfg.NATS.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create NATS client: %w", err)
	}

	setupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	publisher, err := events.NewNatsPublisher(setupCtx, client, cfg.NATS.Stream, cfg.NATS.Subject)
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to create publisher: %w", err)
	}
	return client, publisher, nil
}
