package redis

import (
	"context"
	_ "embed"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/polytrend/internal/domain"
)

//go:embed scripts/release_lock.lua
var releaseLockLua string

// releaseTimeout bounds the release round trip; the caller's context is
// usually finished by the time a run lets go of its lock.
const releaseTimeout = 5 * time.Second

// LockManager is the cross-process run lock: SET NX PX to take it and a
// token-checked delete to give it back. An expired holder can never release
// a lock that someone else has since taken.
type LockManager struct {
	client  *Client
	release *redis.Script
}

func NewLockManager(c *Client) *LockManager {
	return &LockManager{client: c, release: redis.NewScript(releaseLockLua)}
}

// lease is one successful acquisition.
type lease struct {
	lm    *LockManager
	key   string
	token string
	once  sync.Once
}

func (l *lease) unlock() {
	l.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		_ = l.lm.release.Run(ctx, l.lm.client.rdb, []string{l.key}, l.token).Err()
	})
}

// Acquire returns domain.ErrLockHeld while another holder owns key. The
// returned func releases the lease and may be called any number of times.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	l := &lease{lm: lm, key: lm.client.key("lock", key), token: uuid.NewString()}

	acquired, err := lm.client.rdb.SetNX(ctx, l.key, l.token, ttl).Result()
	switch {
	case err != nil:
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	case !acquired:
		return nil, domain.ErrLockHeld
	}
	return l.unlock, nil
}

var _ domain.LockManager = (*LockManager)(nil)
