package store

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Purger removes expired sessions.
type Purger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// SessionJanitor periodically deletes expired sessions. With a Lock only the
// leading replica purges. Session validity never depends on it.
type SessionJanitor struct {
	Purger   Purger
	Interval time.Duration
	Lock     *LeaderLock
	Log      logrus.FieldLogger
	Now      func() time.Time
}

// RunOnce purges once if this replica may. It returns the number of sessions deleted.
func (j *SessionJanitor) RunOnce(ctx context.Context) (int64, error) {
	if j.Lock != nil {
		leader, err := j.Lock.Tick(ctx)
		if err != nil || !leader {
			return 0, err
		}
	}
	now := time.Now
	if j.Now != nil {
		now = j.Now
	}
	return j.Purger.PurgeExpired(ctx, now())
}

// Run purges every Interval until ctx is done, then releases the lock.
func (j *SessionJanitor) Run(ctx context.Context) {
	log := j.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	interval := j.Interval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		n, err := j.RunOnce(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			log.WithError(err).Warn("session purge failed")
		case n > 0:
			log.WithField("purged", n).Info("expired sessions purged")
		}
		select {
		case <-ctx.Done():
			if j.Lock != nil {
				releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				_ = j.Lock.Release(releaseCtx)
				cancel()
			}
			return
		case <-ticker.C:
		}
	}
}
