package session

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/wolfman30/cmms-omnibot/pkg/logging"
)

const (
	defaultIdleTimeout    = 30 * time.Minute
	defaultReaperSchedule = "@every 1m"
	sweepTimeout          = 30 * time.Second
)

// ExpiryObserver receives the number of sessions expired per sweep.
type ExpiryObserver interface {
	ObserveSessionsExpired(count int)
}

// Reaper resets sessions that have been idle longer than the idle timeout.
// It takes the same per-user lock as message handling and skips users whose
// lock is held. Expiry is conditional on the loaded version, so a save from
// another replica between the reaper's load and reset wins.
type Reaper struct {
	store    Store
	locker   *Locker
	idle     time.Duration
	logger   *logging.Logger
	observer ExpiryObserver
	now      func() time.Time

	cron *cron.Cron
}

// NewReaper builds a reaper. observer may be nil.
func NewReaper(store Store, locker *Locker, idleTimeout time.Duration, observer ExpiryObserver, logger *logging.Logger) *Reaper {
	if store == nil {
		panic("session: store cannot be nil")
	}
	if locker == nil {
		panic("session: locker cannot be nil")
	}
	if idleTimeout <= 0 {
		idleTimeout = defaultIdleTimeout
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Reaper{
		store:    store,
		locker:   locker,
		idle:     idleTimeout,
		logger:   logger,
		observer: observer,
		now:      time.Now,
	}
}

// Sweep expires every idle session it can lock and returns how many it reset.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	cutoff := r.now().UTC().Add(-r.idle)
	ids, err := r.store.IdleSince(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	expired := 0
	var errs []error
	for _, userID := range ids {
		unlock, ok := r.locker.TryLock(userID)
		if !ok {
			continue
		}
		reset, err := r.expire(ctx, userID, cutoff)
		unlock()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if reset {
			expired++
		}
	}

	if expired > 0 {
		r.logger.Info("idle sessions expired", "count", expired, "idle_timeout", r.idle.String())
	}
	if r.observer != nil {
		r.observer.ObserveSessionsExpired(expired)
	}
	return expired, errors.Join(errs...)
}

func (r *Reaper) expire(ctx context.Context, userID string, cutoff time.Time) (bool, error) {
	sess, err := r.store.Load(ctx, userID)
	if err != nil {
		return false, err
	}
	// Touched after the index was read.
	if sess.Version > 0 && sess.UpdatedAt.After(cutoff) {
		return false, nil
	}
	// The version check catches saves from other processes, which the local
	// lock cannot see.
	err = r.store.Expire(ctx, userID, sess.Version)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrConflict):
		r.logger.Debug("session saved during sweep; not expired", "user_id", userID)
		return false, nil
	default:
		return false, err
	}
}

// Start schedules Sweep using a cron spec such as "@every 1m".
func (r *Reaper) Start(schedule string) error {
	if schedule == "" {
		schedule = defaultReaperSchedule
	}
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
		defer cancel()
		if _, err := r.Sweep(ctx); err != nil {
			r.logger.Warn("session sweep failed", "error", err)
		}
	})
	if err != nil {
		return err
	}
	r.cron = c
	c.Start()
	r.logger.Info("session reaper started", "schedule", schedule, "idle_timeout", r.idle.String())
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish or ctx to end.
func (r *Reaper) Stop(ctx context.Context) {
	if r.cron == nil {
		return
	}
	select {
	case <-r.cron.Stop().Done():
	case <-ctx.Done():
	}
}
