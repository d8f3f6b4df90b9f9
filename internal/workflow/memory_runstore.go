package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryRunStore is a RunStore for local runs and tests.
type MemoryRunStore struct {
	mu   sync.RWMutex
	runs map[string]Run
}

var _ RunStore = (*MemoryRunStore)(nil)

func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{runs: make(map[string]Run)}
}

func (s *MemoryRunStore) Claim(_ context.Context, rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[rec.CorrelationID]; ok {
		return fmt.Errorf("%w: %s", ErrRunExists, rec.CorrelationID)
	}
	stamp := time.Now().UTC().Format(time.RFC3339Nano)
	s.runs[rec.CorrelationID] = Run{
		CorrelationID: rec.CorrelationID,
		WorkflowID:    rec.WorkflowID,
		UserID:        rec.Payload.UserID,
		Channel:       rec.Payload.Channel,
		Status:        RunStatusPending,
		CreatedAt:     stamp,
		UpdatedAt:     stamp,
	}
	return nil
}

func (s *MemoryRunStore) MarkCompleted(_ context.Context, correlationID, reply string) error {
	return s.update(correlationID, func(r *Run) {
		r.Status = RunStatusCompleted
		r.Reply = reply
		r.ErrorMessage = ""
	})
}

func (s *MemoryRunStore) MarkFailed(_ context.Context, correlationID, errMsg string) error {
	return s.update(correlationID, func(r *Run) {
		r.Status = RunStatusFailed
		r.ErrorMessage = errMsg
	})
}

func (s *MemoryRunStore) GetRun(_ context.Context, correlationID string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[correlationID]
	if !ok {
		return nil, ErrRunNotFound
	}
	return &run, nil
}

func (s *MemoryRunStore) update(correlationID string, apply func(*Run)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[correlationID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, correlationID)
	}
	apply(&run)
	run.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	s.runs[correlationID] = run
	return nil
}
