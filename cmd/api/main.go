package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/cmms-omnibot/cmd/mainconfig"
	"github.com/wolfman30/cmms-omnibot/internal/api/router"
	"github.com/wolfman30/cmms-omnibot/internal/app/bootstrap"
	"github.com/wolfman30/cmms-omnibot/internal/cmms"
	appconfig "github.com/wolfman30/cmms-omnibot/internal/config"
	"github.com/wolfman30/cmms-omnibot/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/cmms-omnibot/internal/http/middleware"
	"github.com/wolfman30/cmms-omnibot/internal/messaging"
	"github.com/wolfman30/cmms-omnibot/internal/notify"
	"github.com/wolfman30/cmms-omnibot/internal/observability/metrics"
	"github.com/wolfman30/cmms-omnibot/internal/session"
	"github.com/wolfman30/cmms-omnibot/internal/webchat"
	"github.com/wolfman30/cmms-omnibot/internal/workflow"
	"github.com/wolfman30/cmms-omnibot/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting cmms bot API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsHandler, botMetrics := setupMetrics()

	awsCfg := loadAWSConfig(ctx, cfg, logger)
	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	runtime, err := bootstrap.BuildWorkflowRuntime(cfg, awsCfg, logger)
	if err != nil {
		logger.Error("failed to build workflow runtime", "error", err)
		os.Exit(1)
	}

	store, err := bootstrap.BuildSessionStore(cfg, redisClient, runtime.SharesSessions(), logger)
	if err != nil {
		logger.Error("failed to build session store", "error", err)
		os.Exit(1)
	}
	locker := session.NewLocker()
	reaper := session.NewReaper(store, locker, cfg.SessionIdleTimeout, botMetrics, logger)
	if err := reaper.Start(cfg.SessionReaperSchedule); err != nil {
		logger.Error("failed to start session reaper", "error", err)
		os.Exit(1)
	}

	records := cmms.NewClient(cfg.CMMSBaseURL, logger,
		cmms.WithTimeouts(cfg.CMMSTimeout, cfg.CMMSSubmitTimeout),
		cmms.WithLatencyObserver(botMetrics),
	)

	engines, err := bootstrap.BuildEngines(cfg, bootstrap.EngineDeps{
		Store:    store,
		Locker:   locker,
		Records:  records,
		Trigger:  runtime.Trigger,
		Observer: botMetrics,
	}, logger)
	if err != nil {
		logger.Error("failed to build conversation engines", "error", err)
		os.Exit(1)
	}

	whatsappHandler, err := messaging.NewHandler(cfg.TwilioWebhookSecret, engines.WhatsApp, botMetrics, logger)
	if err != nil {
		logger.Error("failed to build whatsapp handler", "error", err)
		os.Exit(1)
	}
	webchatHandler, err := webchat.NewHandler(engines.WebChat, bootstrap.BuildTranscriptStore(cfg, redisClient), botMetrics, logger)
	if err != nil {
		logger.Error("failed to build webchat handler", "error", err)
		os.Exit(1)
	}
	gatewayHandler, err := handlers.NewGatewayHandler(engines.Gateway, logger)
	if err != nil {
		logger.Error("failed to build gateway handler", "error", err)
		os.Exit(1)
	}

	notifier := bootstrap.BuildNotifier(cfg, awsCfg, webchat.NewSender(webchatHandler, logger), botMetrics, logger)
	deliverer, err := notify.NewWorkflowDeliverer(notifier)
	if err != nil {
		logger.Error("failed to build workflow deliverer", "error", err)
		os.Exit(1)
	}
	notifyHandler, err := handlers.NewNotifyHandler(notifier, logger)
	if err != nil {
		logger.Error("failed to build notify handler", "error", err)
		os.Exit(1)
	}

	deduper, closeDeduper, err := bootstrap.BuildDeduper(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build callback deduper", "error", err)
		os.Exit(1)
	}
	defer closeDeduper()
	workflowHandler, err := handlers.NewWorkflowHandler(deduper, deliverer, runtime.Runs, logger)
	if err != nil {
		logger.Error("failed to build workflow handler", "error", err)
		os.Exit(1)
	}

	var worker *workflow.Worker
	if runtime.InProcess {
		worker, err = workflow.NewWorker(engines.Inline, runtime.Queue, runtime.Runs, deliverer, logger,
			workflow.WithWorkerCount(cfg.WorkerCount),
		)
		if err != nil {
			logger.Error("failed to build in-process workflow worker", "error", err)
			os.Exit(1)
		}
		worker.Start(ctx)
		logger.Info("in-process workflow worker started", "workers", cfg.WorkerCount)
	}

	if cfg.AdminJWTSecret == "" {
		logger.Warn("ADMIN_JWT_SECRET not set; service routes will reject every request")
	}

	limiter := httpmiddleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	go limiter.Run(ctx)

	r := router.New(&router.Config{
		Logger:             logger,
		ServiceName:        cfg.ServiceName,
		WhatsApp:           whatsappHandler,
		WebChat:            webchatHandler,
		Gateway:            gatewayHandler,
		Workflows:          workflowHandler,
		Notify:             notifyHandler,
		MetricsHandler:     metricsHandler,
		ServiceAuthSecret:  cfg.AdminJWTSecret,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimiter:        limiter,
	})

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

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	cancel()
	reaper.Stop(shutdownCtx)
	if worker != nil {
		worker.Wait()
	}

	logger.Info("server exited")
}

// setupMetrics registers bot metrics on a private registry and returns the
// handler that serves it.
func setupMetrics() (http.Handler, *metrics.BotMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), metrics.NewBotMetrics(reg)
}

// loadAWSConfig returns nil when AWS is not needed or cannot be configured;
// the builders then fall back to in-process implementations.
func loadAWSConfig(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) *aws.Config {
	if cfg.UseMemoryQueue && cfg.SESFromEmail == "" {
		return nil
	}
	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Warn("aws config unavailable", "error", fmt.Errorf("load aws config: %w", err))
		return nil
	}
	return &awsCfg
}
