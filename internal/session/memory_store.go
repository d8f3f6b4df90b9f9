package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryStore keeps sessions in process memory. Suitable for single-instance
// deployments and tests.
type MemoryStore struct {
	mu    sync.Mutex
	cache *cache.Cache
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a store whose entries expire after ttl without writes.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &MemoryStore{
		cache: cache.New(ttl, janitorInterval),
	}
}

func (s *MemoryStore) Load(_ context.Context, userID string) (*Session, error) {
	if userID == "" {
		return nil, errors.New("session: userID required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if stored, ok := s.get(userID); ok {
		return stored.Clone(), nil
	}
	return New(userID), nil
}

func (s *MemoryStore) Save(_ context.Context, sess *Session) error {
	if sess == nil || sess.UserID == "" {
		return errors.New("session: session with userID required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.version(sess.UserID) != sess.Version {
		return ErrConflict
	}

	next := sess.Clone()
	next.Version++
	next.UpdatedAt = time.Now().UTC()
	s.cache.Set(sess.UserID, next, cache.DefaultExpiration)

	sess.Version = next.Version
	sess.UpdatedAt = next.UpdatedAt
	return nil
}

func (s *MemoryStore) Reset(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaceIdle(userID, s.version(userID))
	return nil
}

func (s *MemoryStore) Expire(_ context.Context, userID string, version int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.version(userID)
	if current != version {
		return ErrConflict
	}
	s.replaceIdle(userID, current)
	return nil
}

func (s *MemoryStore) IdleSince(_ context.Context, cutoff time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for userID, item := range s.cache.Items() {
		sess, ok := item.Object.(*Session)
		if !ok {
			continue
		}
		if sess.Active() && sess.UpdatedAt.Before(cutoff) {
			ids = append(ids, userID)
		}
	}
	return ids, nil
}

// replaceIdle must be called with mu held.
func (s *MemoryStore) replaceIdle(userID string, current int64) {
	idle := New(userID)
	idle.Version = current + 1
	s.cache.Set(userID, idle, cache.DefaultExpiration)
}

func (s *MemoryStore) version(userID string) int64 {
	if stored, ok := s.get(userID); ok {
		return stored.Version
	}
	return 0
}

func (s *MemoryStore) get(userID string) (*Session, bool) {
	x, found := s.cache.Get(userID)
	if !found {
		return nil, false
	}
	sess, ok := x.(*Session)
	return sess, ok
}
