package session

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnavailable means the backing store could not be reached. Callers may retry.
	ErrUnavailable = errors.New("session: store unavailable")
	// ErrConflict means the stored session changed since it was loaded.
	ErrConflict = errors.New("session: version conflict")
)

const (
	defaultSessionTTL = 24 * time.Hour
	janitorInterval   = 10 * time.Minute
)

// Store persists sessions keyed by user ID.
//
// Load never fails on a miss; it returns a fresh idle session with Version 0.
// Save is a compare-and-swap on Version: it fails with ErrConflict when the
// stored version differs from the one on the session, and on success bumps
// Version and UpdatedAt on the passed session.
//
// Reset and Expire never delete: they write an idle session one version past
// the stored one, so a writer still holding an older version gets
// ErrConflict instead of resurrecting the draft. Expire only does so when the
// stored version still equals version. IdleSince lists active sessions only.
type Store interface {
	Load(ctx context.Context, userID string) (*Session, error)
	Save(ctx context.Context, sess *Session) error
	Reset(ctx context.Context, userID string) error
	Expire(ctx context.Context, userID string, version int64) error
	IdleSince(ctx context.Context, cutoff time.Time) ([]string, error)
}
