package store

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	valkey "github.com/valkey-io/valkey-go"
)

const defaultLeaderLockTTL = 30 * time.Second

const renewScript = `
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("expire", KEYS[1], ARGV[2])
	else
		return 0
	end
`

const releaseScript = `
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`

// LeaderLock elects a single replica for periodic work through a valkey key
// holding the leader's identity with a TTL.
type LeaderLock struct {
	client   valkey.Client
	key      string
	identity string
	ttl      time.Duration
	log      logrus.FieldLogger

	mu   sync.RWMutex
	held bool
}

// NewLeaderLock creates a lock on key. The identity defaults to hostname plus a random suffix.
func NewLeaderLock(client valkey.Client, key string, ttl time.Duration, log logrus.FieldLogger) *LeaderLock {
	if ttl < time.Second {
		ttl = defaultLeaderLockTTL
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	hostname, _ := os.Hostname()
	return &LeaderLock{
		client:   client,
		key:      key,
		identity: fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8]),
		ttl:      ttl,
		log:      log.WithField("lock", key),
	}
}

func (l *LeaderLock) Identity() string { return l.identity }

func (l *LeaderLock) IsLeader() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.held
}

// Holder returns the identity currently holding the lock, or "" when free.
func (l *LeaderLock) Holder(ctx context.Context) (string, error) {
	res := l.client.Do(ctx, l.client.B().Get().Key(l.key).Build())
	if err := res.Error(); err != nil {
		if valkey.IsValkeyNil(err) {
			return "", nil
		}
		return "", err
	}
	return res.ToString()
}

// Tick renews the lock when held and tries to take it otherwise. It reports
// whether this replica leads afterwards. Call it more often than the TTL.
func (l *LeaderLock) Tick(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held {
		res := l.client.Do(ctx, l.client.B().Eval().Script(renewScript).Numkeys(1).
			Key(l.key).Arg(l.identity).Arg(fmt.Sprintf("%d", int64(l.ttl.Seconds()))).Build())
		renewed, err := res.AsInt64()
		if err != nil {
			l.held = false
			return false, err
		}
		if renewed != 1 {
			l.held = false
			l.log.WithField("identity", l.identity).Info("lost leadership")
		}
		return l.held, nil
	}

	res := l.client.Do(ctx, l.client.B().Set().Key(l.key).Value(l.identity).Nx().Ex(l.ttl).Build())
	if err := res.Error(); err != nil {
		if valkey.IsValkeyNil(err) {
			return false, nil
		}
		return false, err
	}
	l.held = true
	l.log.WithField("identity", l.identity).Info("became leader")
	return true, nil
}

// Release gives the lock up if this replica holds it.
func (l *LeaderLock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		return nil
	}
	l.held = false
	return l.client.Do(ctx, l.client.B().Eval().Script(releaseScript).Numkeys(1).
		Key(l.key).Arg(l.identity).Build()).Error()
}
