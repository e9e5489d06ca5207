package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/polytrend/internal/domain"
)

// LockManager is a process-local domain.LockManager. A lock whose TTL has
// passed may be taken over, matching the Redis implementation.
type LockManager struct {
	mu    sync.Mutex
	held  map[string]heldLock
	now   func() time.Time
	nextN uint64
}

type heldLock struct {
	token   uint64
	expires time.Time
}

// NewLockManager creates an empty LockManager.
func NewLockManager() *LockManager {
	return &LockManager{held: make(map[string]heldLock), now: time.Now}
}

// Acquire returns domain.ErrLockHeld while another live holder owns key.
func (lm *LockManager) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	now := lm.now()
	if h, ok := lm.held[key]; ok && now.Before(h.expires) {
		return nil, domain.ErrLockHeld
	}

	lm.nextN++
	token := lm.nextN
	lm.held[key] = heldLock{token: token, expires: now.Add(ttl)}

	var once sync.Once
	return func() {
		once.Do(func() {
			lm.mu.Lock()
			defer lm.mu.Unlock()
			if h, ok := lm.held[key]; ok && h.token == token {
				delete(lm.held, key)
			}
		})
	}, nil
}

var _ domain.LockManager = (*LockManager)(nil)
