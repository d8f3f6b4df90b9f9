package workflow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wolfman30/cmms-omnibot/pkg/logging"
)

const (
	defaultWorkerCount    = 2
	defaultWaitSeconds    = 2
	defaultBatchSize      = 5
	maxWaitSeconds        = 20
	maxReceiveBatchSize   = 10
	deleteTimeout         = 5 * time.Second
	maxReceiveBackoff     = 5 * time.Second
	initialReceiveBackoff = time.Second
)

// Worker consumes queued records, runs them through a Processor and delivers
// the reply. Each record is claimed in the RunStore first so a redelivered
// message is processed once.
type Worker struct {
	processor Processor
	queue     Queue
	runs      RunStore
	deliverer Deliverer
	logger    *logging.Logger

	cfg workerConfig
	wg  sync.WaitGroup
}

type workerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
}

// WorkerOption customizes worker behavior.
type WorkerOption func(*workerConfig)

// WithWorkerCount sets the number of concurrent consumer goroutines.
func WithWorkerCount(count int) WorkerOption {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the long-poll wait duration.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(cfg *workerConfig) {
		if seconds < 0 {
			return
		}
		cfg.receiveWaitSecs = min(seconds, maxWaitSeconds)
	}
}

// WithReceiveBatchSize sets how many messages to fetch per poll.
func WithReceiveBatchSize(size int) WorkerOption {
	return func(cfg *workerConfig) {
		if size > 0 {
			cfg.receiveBatchSize = min(size, maxReceiveBatchSize)
		}
	}
}

// NewWorker wires a worker. deliverer may be nil, in which case replies are
// only recorded on the run.
func NewWorker(processor Processor, queue Queue, runs RunStore, deliverer Deliverer, logger *logging.Logger, opts ...WorkerOption) (*Worker, error) {
	if processor == nil {
		return nil, errors.New("workflow: processor is required")
	}
	if queue == nil {
		return nil, errors.New("workflow: queue is required")
	}
	if runs == nil {
		return nil, errors.New("workflow: run store is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	cfg := workerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Worker{
		processor: processor,
		queue:     queue,
		runs:      runs,
		deliverer: deliverer,
		logger:    logger,
		cfg:       cfg,
	}, nil
}

// Start launches worker goroutines until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until all worker goroutines exit.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("workflow worker started", "worker_id", workerID)

	backoff := initialReceiveBackoff
	for {
		if ctx.Err() != nil {
			w.logger.Debug("workflow worker stopping", "worker_id", workerID)
			return
		}

		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			w.logger.Error("failed to receive workflow records", "error", err, "worker_id", workerID)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxReceiveBackoff)
			continue
		}
		backoff = initialReceiveBackoff

		for _, msg := range messages {
			w.handleMessage(ctx, msg)
		}
	}
}

func (w *Worker) handleMessage(ctx context.Context, msg queueMessage) {
	rec, err := decodeRecord(msg.Body)
	if err != nil {
		w.logger.Error("dropping undecodable workflow record", "error", err, "msg_id", msg.ID)
		w.deleteMessage(msg.ReceiptHandle)
		return
	}
	logger := w.logger.With(
		"correlation_id", rec.CorrelationID,
		"workflow_id", rec.WorkflowID,
		"user_id", rec.Payload.UserID,
	)

	if err := w.runs.Claim(ctx, rec); err != nil {
		if errors.Is(err, ErrRunExists) {
			logger.Info("skipping duplicate workflow record")
			w.deleteMessage(msg.ReceiptHandle)
			return
		}
		// Leave the message for redelivery once the store is back.
		logger.Error("failed to claim workflow run", "error", err)
		return
	}

	reply, runErr := w.processor.ProcessTrigger(ctx, rec)
	if runErr != nil {
		logger.Error("workflow run failed", "error", runErr)
	}

	// A failed run can still carry an apology; the user hears back either way.
	if w.deliverer != nil && reply != "" {
		res := Result{
			CorrelationID: rec.CorrelationID,
			WorkflowID:    rec.WorkflowID,
			UserID:        rec.Payload.UserID,
			Channel:       rec.Payload.Channel,
			Message:       reply,
		}
		if err := w.deliverer.Deliver(ctx, res); err != nil {
			logger.Error("failed to deliver workflow reply", "error", err)
			if storeErr := w.runs.MarkFailed(ctx, rec.CorrelationID, "delivery: "+err.Error()); storeErr != nil {
				logger.Error("failed to record run failure", "error", storeErr)
			}
			w.deleteMessage(msg.ReceiptHandle)
			return
		}
	}

	if runErr != nil {
		if storeErr := w.runs.MarkFailed(ctx, rec.CorrelationID, runErr.Error()); storeErr != nil {
			logger.Error("failed to record run failure", "error", storeErr)
		}
		w.deleteMessage(msg.ReceiptHandle)
		return
	}

	if err := w.runs.MarkCompleted(ctx, rec.CorrelationID, reply); err != nil {
		logger.Error("failed to record run completion", "error", err)
	}
	logger.Info("workflow run completed")
	w.deleteMessage(msg.ReceiptHandle)
}

func (w *Worker) deleteMessage(receiptHandle string) {
	if receiptHandle == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), deleteTimeout)
	defer cancel()
	if err := w.queue.Delete(ctx, receiptHandle); err != nil {
		w.logger.Error("failed to delete workflow record", "error", err)
	}
}
