package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"

	appconfig "github.com/wolfman30/cmms-omnibot/internal/config"
	"github.com/wolfman30/cmms-omnibot/internal/events"
	"github.com/wolfman30/cmms-omnibot/internal/workflow"
	"github.com/wolfman30/cmms-omnibot/pkg/logging"
)

const memoryQueueBuffer = 256

// WorkflowRuntime bundles the delegation side of the bot.
type WorkflowRuntime struct {
	// Trigger starts a workflow run for delegated intents.
	Trigger workflow.Triggerer
	// Queue is set when records flow through a queue this process can drain.
	Queue workflow.Queue
	// Runs tracks run status for lookups and duplicate suppression.
	Runs workflow.RunStore
	// InProcess reports whether this process should run the worker itself.
	InProcess bool
}

// SharesSessions reports whether a separate worker process will load and
// save the same sessions as this one.
func (r *WorkflowRuntime) SharesSessions() bool {
	return r != nil && r.Queue != nil && !r.InProcess
}

// BuildWorkflowRuntime selects the trigger backend. Airflow runs are tracked
// outside this process. The queue backend uses SQS and DynamoDB unless
// USE_MEMORY_QUEUE is set or no queue URL is configured, in which case the
// API drains an in-memory queue itself.
func BuildWorkflowRuntime(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) (*WorkflowRuntime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	if cfg.WorkflowBackend == "airflow" {
		trigger, err := workflow.NewAirflowTrigger(workflow.AirflowConfig{
			BaseURL:  cfg.AirflowBaseURL,
			Username: cfg.AirflowUsername,
			Password: cfg.AirflowPassword,
			Timeout:  cfg.WorkflowTriggerTimeout,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: airflow trigger: %w", err)
		}
		logger.Info("workflow backend: airflow", "base_url", cfg.AirflowBaseURL)
		return &WorkflowRuntime{Trigger: trigger, Runs: workflow.NewMemoryRunStore()}, nil
	}

	if cfg.UseMemoryQueue || strings.TrimSpace(cfg.WorkflowQueueURL) == "" || awsCfg == nil {
		if !cfg.UseMemoryQueue {
			logger.Warn("WORKFLOW_QUEUE_URL not set; using in-memory workflow queue")
		}
		return buildMemoryRuntime(logger)
	}

	queue, err := workflow.NewSQSQueue(sqs.NewFromConfig(*awsCfg), cfg.WorkflowQueueURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: sqs queue: %w", err)
	}
	trigger, err := workflow.NewQueueTrigger(queue, logger)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: queue trigger: %w", err)
	}
	runs, err := BuildRunStore(cfg, awsCfg, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("workflow backend: sqs", "queue_url", cfg.WorkflowQueueURL)
	return &WorkflowRuntime{Trigger: trigger, Queue: queue, Runs: runs}, nil
}

func buildMemoryRuntime(logger *logging.Logger) (*WorkflowRuntime, error) {
	queue := workflow.NewMemoryQueue(memoryQueueBuffer)
	trigger, err := workflow.NewQueueTrigger(queue, logger)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: queue trigger: %w", err)
	}
	logger.Info("workflow backend: memory queue")
	return &WorkflowRuntime{
		Trigger:   trigger,
		Queue:     queue,
		Runs:      workflow.NewMemoryRunStore(),
		InProcess: true,
	}, nil
}

// BuildRunStore returns the DynamoDB run store when AWS is configured.
func BuildRunStore(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) (workflow.RunStore, error) {
	if awsCfg == nil || strings.TrimSpace(cfg.WorkflowRunsTable) == "" {
		return workflow.NewMemoryRunStore(), nil
	}
	runs, err := workflow.NewDynamoRunStore(dynamodb.NewFromConfig(*awsCfg), cfg.WorkflowRunsTable, logger)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: run store: %w", err)
	}
	return runs, nil
}

// BuildDeduper returns the Postgres-backed deduper when DATABASE_URL is set.
// The returned close func is never nil.
func BuildDeduper(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (events.Deduper, func(), error) {
	if logger == nil {
		logger = logging.Default()
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		logger.Warn("DATABASE_URL not set; workflow callbacks deduplicated in memory")
		return events.NewMemoryProcessedStore(), func() {}, nil
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, func() {}, fmt.Errorf("bootstrap: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, func() {}, fmt.Errorf("bootstrap: ping postgres: %w", err)
	}
	store, err := events.NewProcessedStore(pool)
	if err != nil {
		pool.Close()
		return nil, func() {}, err
	}
	return store, pool.Close, nil
}
