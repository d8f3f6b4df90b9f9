package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/wolfman30/cmms-omnibot/pkg/logging"
)

// QueueTrigger publishes records for the in-house Worker to run.
// Redelivered records are deduplicated by the worker's RunStore claim.
type QueueTrigger struct {
	queue  Queue
	logger *logging.Logger
}

// NewQueueTrigger creates a queue-backed trigger.
func NewQueueTrigger(queue Queue, logger *logging.Logger) (*QueueTrigger, error) {
	if queue == nil {
		return nil, errors.New("workflow: queue is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &QueueTrigger{queue: queue, logger: logger}, nil
}

// Trigger enqueues rec.
func (t *QueueTrigger) Trigger(ctx context.Context, rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	body, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	if err := t.queue.Send(ctx, body); err != nil {
		return fmt.Errorf("workflow: enqueue %s: %w", rec.CorrelationID, err)
	}
	t.logger.Debug("workflow record enqueued",
		"workflow_id", rec.WorkflowID,
		"correlation_id", rec.CorrelationID,
	)
	return nil
}
