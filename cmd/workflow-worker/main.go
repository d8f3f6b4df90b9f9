package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wolfman30/cmms-omnibot/cmd/mainconfig"
	"github.com/wolfman30/cmms-omnibot/internal/app/bootstrap"
	"github.com/wolfman30/cmms-omnibot/internal/cmms"
	appconfig "github.com/wolfman30/cmms-omnibot/internal/config"
	"github.com/wolfman30/cmms-omnibot/internal/observability/metrics"
	"github.com/wolfman30/cmms-omnibot/internal/session"
	"github.com/wolfman30/cmms-omnibot/internal/workflow"
	"github.com/wolfman30/cmms-omnibot/pkg/logging"
)

const callbackTimeout = 10 * time.Second

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel).With("component", "workflow-worker")

	if strings.TrimSpace(cfg.WorkflowQueueURL) == "" {
		logger.Error("WORKFLOW_QUEUE_URL is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	queue, err := workflow.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.WorkflowQueueURL)
	if err != nil {
		logger.Error("failed to build queue", "error", err)
		os.Exit(1)
	}
	runs, err := bootstrap.BuildRunStore(cfg, &awsCfg, logger)
	if err != nil {
		logger.Error("failed to build run store", "error", err)
		os.Exit(1)
	}
	deliverer, err := workflow.NewCallbackClient(cfg.CallbackURL, cfg.AdminJWTSecret, callbackTimeout)
	if err != nil {
		logger.Error("failed to build callback client", "error", err)
		os.Exit(1)
	}

	// Sessions are shared with the API through Redis; a memory store here
	// would only see records, never the user's draft.
	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}
	store, err := bootstrap.BuildSessionStore(cfg, redisClient, true, logger)
	if err != nil {
		logger.Error("failed to build session store", "error", err)
		os.Exit(1)
	}
	botMetrics := metrics.NewBotMetrics(prometheus.DefaultRegisterer)

	records := cmms.NewClient(cfg.CMMSBaseURL, logger,
		cmms.WithTimeouts(cfg.CMMSTimeout, cfg.CMMSSubmitTimeout),
		cmms.WithLatencyObserver(botMetrics),
	)
	engines, err := bootstrap.BuildEngines(cfg, bootstrap.EngineDeps{
		Store:    store,
		Locker:   session.NewLocker(),
		Records:  records,
		Observer: botMetrics,
	}, logger)
	if err != nil {
		logger.Error("failed to build conversation engine", "error", err)
		os.Exit(1)
	}

	worker, err := workflow.NewWorker(engines.Inline, queue, runs, deliverer, logger,
		workflow.WithWorkerCount(cfg.WorkerCount),
	)
	if err != nil {
		logger.Error("failed to build worker", "error", err)
		os.Exit(1)
	}
	worker.Start(ctx)
	logger.Info("workflow worker started", "workers", cfg.WorkerCount, "queue_url", cfg.WorkflowQueueURL)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down workflow worker...")
	cancel()

	doneCtx, doneCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer doneCancel()

	waitCh := make(chan struct{})
	go func() {
		worker.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Info("workflow worker stopped")
	case <-doneCtx.Done():
		logger.Error("workflow worker shutdown timed out", "error", doneCtx.Err())
	}
}
