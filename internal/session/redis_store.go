package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	sessionKeyPrefix = "cmms:session:"
	activeIndexKey   = "cmms:sessions:active"
	maxResetAttempts = 3
	anyVersion       = int64(-1)
)

// RedisStore persists sessions as JSON with optimistic locking via WATCH/MULTI.
// A sorted set of active sessions scored by last update lets the reaper find
// idle ones.
type RedisStore struct {
	redis  *redis.Client
	tracer trace.Tracer
	ttl    time.Duration
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore wraps client. Sessions expire after ttl without writes.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if client == nil {
		panic("session: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &RedisStore{
		redis:  client,
		tracer: otel.Tracer("cmms.internal.session.redis"),
		ttl:    ttl,
	}
}

func (s *RedisStore) Load(ctx context.Context, userID string) (*Session, error) {
	if userID == "" {
		return nil, errors.New("session: userID required")
	}
	ctx, span := s.tracer.Start(ctx, "session.load")
	defer span.End()
	span.SetAttributes(attribute.String("cmms.user_id", userID))

	data, err := s.redis.Get(ctx, sessionKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return New(userID), nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("session: load %s: %w: %w", userID, ErrUnavailable, err)
	}

	sess, ok := decodeSession(data)
	if !ok {
		// Unreadable payloads are replaced on the next save.
		fresh := New(userID)
		fresh.Version = versionOf(data)
		return fresh, nil
	}
	sess.UserID = userID
	return sess, nil
}

func (s *RedisStore) Save(ctx context.Context, sess *Session) error {
	if sess == nil || sess.UserID == "" {
		return errors.New("session: session with userID required")
	}
	ctx, span := s.tracer.Start(ctx, "session.save")
	defer span.End()
	span.SetAttributes(
		attribute.String("cmms.user_id", sess.UserID),
		attribute.String("cmms.state", string(sess.State)),
	)

	key := sessionKey(sess.UserID)
	next := sess.Clone()
	next.Version++
	next.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(next)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("session: encode %s: %w", sess.UserID, err)
	}

	err = s.redis.Watch(ctx, func(tx *redis.Tx) error {
		current, err := storedVersion(ctx, tx, key)
		if err != nil {
			return err
		}
		if current != sess.Version {
			return ErrConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			if next.Active() {
				pipe.ZAdd(ctx, activeIndexKey, redis.Z{
					Score:  float64(next.UpdatedAt.Unix()),
					Member: sess.UserID,
				})
			} else {
				pipe.ZRem(ctx, activeIndexKey, sess.UserID)
			}
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		sess.Version = next.Version
		sess.UpdatedAt = next.UpdatedAt
		return nil
	case errors.Is(err, ErrConflict), errors.Is(err, redis.TxFailedErr):
		span.RecordError(ErrConflict)
		return ErrConflict
	default:
		span.RecordError(err)
		return fmt.Errorf("session: save %s: %w: %w", sess.UserID, ErrUnavailable, err)
	}
}

func (s *RedisStore) Reset(ctx context.Context, userID string) error {
	ctx, span := s.tracer.Start(ctx, "session.reset")
	defer span.End()
	span.SetAttributes(attribute.String("cmms.user_id", userID))

	var err error
	for attempt := 0; attempt < maxResetAttempts; attempt++ {
		err = s.replaceIdle(ctx, userID, anyVersion)
		if !errors.Is(err, ErrConflict) {
			break
		}
	}
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func (s *RedisStore) Expire(ctx context.Context, userID string, version int64) error {
	ctx, span := s.tracer.Start(ctx, "session.expire")
	defer span.End()
	span.SetAttributes(
		attribute.String("cmms.user_id", userID),
		attribute.Int64("cmms.version", version),
	)

	err := s.replaceIdle(ctx, userID, version)
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// replaceIdle writes an idle session one version past the stored one and
// drops the user from the active index. expected is compared against the
// stored version unless it is anyVersion.
func (s *RedisStore) replaceIdle(ctx context.Context, userID string, expected int64) error {
	key := sessionKey(userID)
	err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
		current, err := storedVersion(ctx, tx, key)
		if err != nil {
			return err
		}
		if expected != anyVersion && current != expected {
			return ErrConflict
		}

		idle := New(userID)
		idle.Version = current + 1
		data, err := json.Marshal(idle)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			pipe.ZRem(ctx, activeIndexKey, userID)
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrConflict), errors.Is(err, redis.TxFailedErr):
		return ErrConflict
	default:
		return fmt.Errorf("session: reset %s: %w: %w", userID, ErrUnavailable, err)
	}
}

func (s *RedisStore) IdleSince(ctx context.Context, cutoff time.Time) ([]string, error) {
	ids, err := s.redis.ZRangeByScore(ctx, activeIndexKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("session: list idle: %w: %w", ErrUnavailable, err)
	}
	return ids, nil
}

func sessionKey(userID string) string {
	return sessionKeyPrefix + userID
}

func decodeSession(data []byte) (*Session, bool) {
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, false
	}
	if !sess.State.Valid() {
		return nil, false
	}
	return &sess, true
}

func storedVersion(ctx context.Context, tx *redis.Tx, key string) (int64, error) {
	raw, err := tx.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		return versionOf(raw), nil
	case errors.Is(err, redis.Nil):
		return 0, nil
	default:
		return 0, err
	}
}

func versionOf(data []byte) int64 {
	var head struct {
		Version int64 `json:"version"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return 0
	}
	return head.Version
}
