package workflow

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"
)

const defaultMemoryQueueBuffer = 128

// MemoryQueue is an in-process queue used when USE_MEMORY_QUEUE is set.
// Delivery is at most once: received messages are gone, Delete is a no-op.
type MemoryQueue struct {
	ch  chan queueMessage
	seq atomic.Uint64
}

// NewMemoryQueue creates a queue holding up to buffer pending records.
func NewMemoryQueue(buffer int) *MemoryQueue {
	if buffer <= 0 {
		buffer = defaultMemoryQueueBuffer
	}
	return &MemoryQueue{ch: make(chan queueMessage, buffer)}
}

// Send enqueues body, blocking while the buffer is full.
func (q *MemoryQueue) Send(ctx context.Context, body string) error {
	id := "mem-" + strconv.FormatUint(q.seq.Add(1), 10)
	select {
	case q.ch <- queueMessage{ID: id, Body: body, ReceiptHandle: id}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive waits up to waitSeconds for the first message, then drains what is
// already buffered up to maxMessages. Zero waitSeconds waits until ctx is done.
func (q *MemoryQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error) {
	if maxMessages <= 0 {
		maxMessages = 1
	}

	var timeout <-chan time.Time
	if waitSeconds > 0 {
		timer := time.NewTimer(time.Duration(waitSeconds) * time.Second)
		defer timer.Stop()
		timeout = timer.C
	}

	var first queueMessage
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeout:
		return nil, nil
	case first = <-q.ch:
	}

	batch := []queueMessage{first}
	for len(batch) < maxMessages {
		select {
		case msg := <-q.ch:
			batch = append(batch, msg)
		default:
			return batch, nil
		}
	}
	return batch, nil
}

// Delete is a no-op.
func (q *MemoryQueue) Delete(context.Context, string) error {
	return nil
}

// Len reports how many records are waiting.
func (q *MemoryQueue) Len() int {
	return len(q.ch)
}
