package webchat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	transcriptKeyPrefix   = "cmms:transcript:"
	defaultTranscriptTTL  = 24 * time.Hour
	defaultMaxTranscripts = 250
)

// Message is one line of a webchat transcript.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"` // "user" or "assistant"
	UserID    string    `json:"user_id"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind,omitempty"`
}

// TranscriptStore keeps the per-user chat history.
type TranscriptStore interface {
	Append(ctx context.Context, userID string, msg Message) error
	List(ctx context.Context, userID string, limit int64) ([]Message, error)
}

// RedisTranscriptStore keeps each transcript as a capped Redis list.
type RedisTranscriptStore struct {
	redis       *redis.Client
	tracer      trace.Tracer
	ttl         time.Duration
	maxMessages int64
}

// NewRedisTranscriptStore returns nil without a client. A non-positive ttl
// uses 24h.
func NewRedisTranscriptStore(client *redis.Client, ttl time.Duration) *RedisTranscriptStore {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = defaultTranscriptTTL
	}
	return &RedisTranscriptStore{
		redis:       client,
		tracer:      otel.Tracer("cmms.internal.webchat.transcript"),
		ttl:         ttl,
		maxMessages: defaultMaxTranscripts,
	}
}

// Append pushes msg onto the user's transcript and refreshes its TTL.
func (s *RedisTranscriptStore) Append(ctx context.Context, userID string, msg Message) error {
	if userID == "" {
		return errors.New("webchat: transcript user id required")
	}
	msg = stamp(userID, msg)

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("webchat: marshal transcript message: %w", err)
	}

	ctx, span := s.tracer.Start(ctx, "webchat.transcript.append")
	defer span.End()

	key := transcriptKey(userID)
	pipe := s.redis.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.Expire(ctx, key, s.ttl)
	pipe.LTrim(ctx, key, -s.maxMessages, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("webchat: append transcript: %w", err)
	}
	return nil
}

// List returns the newest limit messages in chronological order. A
// non-positive limit returns everything kept.
func (s *RedisTranscriptStore) List(ctx context.Context, userID string, limit int64) ([]Message, error) {
	if userID == "" {
		return nil, errors.New("webchat: transcript user id required")
	}

	ctx, span := s.tracer.Start(ctx, "webchat.transcript.list")
	defer span.End()

	start := int64(0)
	if limit > 0 {
		start = -limit
	}
	raw, err := s.redis.LRange(ctx, transcriptKey(userID), start, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []Message{}, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("webchat: list transcript: %w", err)
	}

	out := make([]Message, 0, len(raw))
	for _, item := range raw {
		var msg Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			span.RecordError(err)
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

func transcriptKey(userID string) string {
	return transcriptKeyPrefix + userID
}

// MemoryTranscriptStore is the in-process store used without Redis.
type MemoryTranscriptStore struct {
	mu          sync.Mutex
	messages    map[string][]Message
	maxMessages int
}

// NewMemoryTranscriptStore creates an empty store.
func NewMemoryTranscriptStore() *MemoryTranscriptStore {
	return &MemoryTranscriptStore{
		messages:    make(map[string][]Message),
		maxMessages: defaultMaxTranscripts,
	}
}

// Append adds msg, dropping the oldest lines past the cap.
func (s *MemoryTranscriptStore) Append(ctx context.Context, userID string, msg Message) error {
	if userID == "" {
		return errors.New("webchat: transcript user id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	list := append(s.messages[userID], stamp(userID, msg))
	if len(list) > s.maxMessages {
		list = list[len(list)-s.maxMessages:]
	}
	s.messages[userID] = list
	return nil
}

// List returns a copy of the newest limit messages.
func (s *MemoryTranscriptStore) List(ctx context.Context, userID string, limit int64) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.messages[userID]
	if limit > 0 && int64(len(list)) > limit {
		list = list[int64(len(list))-limit:]
	}
	return append([]Message{}, list...), nil
}

func stamp(userID string, msg Message) Message {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	msg.UserID = userID
	return msg
}
