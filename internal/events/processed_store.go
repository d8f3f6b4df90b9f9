// Package events deduplicates externally delivered events such as workflow
// completion callbacks.
package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Deduper records which (source, event id) pairs were handled.
type Deduper interface {
	AlreadyProcessed(ctx context.Context, source, eventID string) (bool, error)
	// MarkProcessed returns true only for the first caller of a pair.
	MarkProcessed(ctx context.Context, source, eventID string) (bool, error)
}

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ProcessedStore keeps processed events in the processed_events table.
type ProcessedStore struct {
	db rowQuerier
}

var _ Deduper = (*ProcessedStore)(nil)

func NewProcessedStore(pool *pgxpool.Pool) (*ProcessedStore, error) {
	if pool == nil {
		return nil, errors.New("events: pgx pool required")
	}
	return &ProcessedStore{db: pool}, nil
}

func (s *ProcessedStore) AlreadyProcessed(ctx context.Context, source, eventID string) (bool, error) {
	var one int
	err := s.db.QueryRow(ctx,
		`SELECT 1 FROM processed_events WHERE provider = $1 AND event_id = $2`,
		source, eventID,
	).Scan(&one)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, pgx.ErrNoRows):
		return false, nil
	default:
		return false, fmt.Errorf("events: check %s/%s: %w", source, eventID, err)
	}
}

func (s *ProcessedStore) MarkProcessed(ctx context.Context, source, eventID string) (bool, error) {
	if strings.TrimSpace(eventID) == "" {
		return false, errors.New("events: event id required")
	}
	tag, err := s.db.Exec(ctx, `
		INSERT INTO processed_events (provider, event_id)
		VALUES ($1, $2)
		ON CONFLICT (provider, event_id) DO NOTHING
	`, source, eventID)
	if err != nil {
		return false, fmt.Errorf("events: mark %s/%s: %w", source, eventID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// MemoryProcessedStore is a Deduper for local runs without Postgres.
type MemoryProcessedStore struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

var _ Deduper = (*MemoryProcessedStore)(nil)

func NewMemoryProcessedStore() *MemoryProcessedStore {
	return &MemoryProcessedStore{seen: make(map[string]struct{})}
}

func (s *MemoryProcessedStore) AlreadyProcessed(_ context.Context, source, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[source+"\x00"+eventID]
	return ok, nil
}

func (s *MemoryProcessedStore) MarkProcessed(_ context.Context, source, eventID string) (bool, error) {
	if strings.TrimSpace(eventID) == "" {
		return false, errors.New("events: event id required")
	}
	key := source + "\x00" + eventID
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[key]; ok {
		return false, nil
	}
	s.seen[key] = struct{}{}
	return true, nil
}
