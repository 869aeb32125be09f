package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/arcosum/lead-relay/internal/api/router"
	"github.com/arcosum/lead-relay/internal/archive"
	appconfig "github.com/arcosum/lead-relay/internal/config"
	"github.com/arcosum/lead-relay/internal/directory"
	"github.com/arcosum/lead-relay/internal/dispatch"
	"github.com/arcosum/lead-relay/internal/http/handlers"
	"github.com/arcosum/lead-relay/internal/messaging"
	"github.com/arcosum/lead-relay/internal/notify"
	"github.com/arcosum/lead-relay/internal/observability/metrics"
	"github.com/arcosum/lead-relay/internal/relay"
	"github.com/arcosum/lead-relay/internal/scoring"
	"github.com/arcosum/lead-relay/internal/session"
	"github.com/arcosum/lead-relay/pkg/logging"
)

func main() {
	// .env is optional; real deployments configure through the environment.
	_ = godotenv.Load()

	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting lead-relay API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	registry := prometheus.NewRegistry()
	relayMetrics := metrics.NewRelayMetrics(registry)

	sessions := session.NewStore(logger,
		session.WithInactivityWindow(cfg.InactivityWindow),
		session.WithWindowTurns(cfg.ActiveWindowTurns, cfg.IdleWindowTurns),
	)

	var transcripts *session.TranscriptStore
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Warn("redis unreachable, transcript mirror disabled", "error", err, "addr", cfg.RedisAddr)
		} else {
			transcripts = session.NewTranscriptStore(redisClient)
			logger.Info("transcript mirror enabled", "addr", cfg.RedisAddr)
		}
	}

	archiveStore, err := archive.NewStore(cfg.ArchivePath, cfg.ArchiveCapacity, logger, relayMetrics)
	if err != nil {
		logger.Error("failed to open conversation archive", "error", err)
		os.Exit(1)
	}

	recipients, err := directory.NewFileStore(cfg.RecipientsFile, logger)
	if err != nil {
		logger.Error("failed to load recipient directory", "error", err)
		os.Exit(1)
	}

	whatsapp := messaging.NewWhatsAppClient(messaging.WhatsAppConfig{
		AccessToken:   cfg.WhatsAppAccessToken,
		PhoneNumberID: cfg.WhatsAppPhoneNumberID,
		BaseURL:       cfg.WhatsAppAPIBaseURL,
	}, logger)

	emailSender := buildEmailSender(cfg, logger)

	dispatcher := dispatch.NewDispatcher(whatsapp, emailSender, cfg.DispatchSendTimeout, logger, relayMetrics)

	serviceCfg := relay.ServiceConfig{
		Sessions:        sessions,
		Transcripts:     transcripts,
		Dispatcher:      dispatcher,
		Directory:       recipients,
		Archive:         archiveStore,
		Replies:         whatsapp,
		NotifyThreshold: cfg.NotifyThreshold,
		TestingMode:     cfg.TestingMode,
		ScorerTimeout:   cfg.ScorerTimeout,
		Logger:          logger,
		Metrics:         relayMetrics,
	}
	// A typed nil must not become a non-nil Scorer interface.
	if scorer := scoring.NewOpenAIScorer(scoring.OpenAIConfig{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.OpenAIModel,
	}, logger); scorer != nil {
		serviceCfg.Scorer = scorer
	} else {
		logger.Warn("no scoring API key configured, every message will fail closed")
	}

	service, err := relay.NewService(serviceCfg)
	if err != nil {
		logger.Error("failed to build relay service", "error", err)
		os.Exit(1)
	}
	if cfg.TestingMode {
		logger.Warn("testing mode enabled: every qualified lead notifies regardless of score")
	}

	queue := relay.NewQueue(cfg.QueueBuffer, logger)
	workers := relay.NewWorkerPool(service, queue, cfg.WorkerCount, logger)

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	workers.Start(workerCtx)
	go service.RunSweeper(workerCtx, cfg.SweepInterval)

	routerCfg := &router.Config{
		Logger:         logger,
		Webhook:        handlers.NewWebhookHandler(cfg.WhatsAppVerifyToken, queue, logger, relayMetrics),
		Health:         handlers.NewHealthHandler(sessions, archiveStore, queue),
		Export:         handlers.NewExportHandler(archiveStore, logger),
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}
	r := router.New(routerCfg)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	// Stop ingesting, then let the workers drain what is already queued.
	workers.Stop()

	logger.Info("server stopped")
}

// buildEmailSender picks the configured email provider. Email is optional; a
// nil sender disables the channel in the dispatcher.
func buildEmailSender(cfg *appconfig.Config, logger *logging.Logger) notify.EmailSender {
	switch cfg.EmailProvider {
	case "sendgrid":
		sender := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger)
		if sender == nil {
			logger.Warn("sendgrid selected but no API key configured, email disabled")
			return nil
		}
		return sender
	case "ses":
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(cfg.AWSRegion),
		)
		if err != nil {
			logger.Warn("AWS config load failed, email disabled", "error", err)
			return nil
		}
		return notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail: cfg.SESFromEmail,
			FromName:  cfg.SESFromName,
		}, logger)
	case "stub":
		return notify.NewStubEmailSender(logger)
	case "":
		return nil
	default:
		logger.Warn("unknown email provider, email disabled", "provider", cfg.EmailProvider)
		return nil
	}
}
