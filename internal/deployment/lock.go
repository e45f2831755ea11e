package deployment

import "sync"

// LockManager holds one advisory lock per deploy target so that a second
// deploy for a target is rejected while the first is still running.
// Different targets never block each other.
type LockManager struct {
	mu    sync.Mutex             // guards locks
	locks map[string]*sync.Mutex // per-target locks
}

// NewLockManager creates a new lock manager
func NewLockManager() *LockManager {
	return &LockManager{
		locks: make(map[string]*sync.Mutex),
	}
}

// TryLock acquires the lock for targetName without blocking. It returns
// false if a deploy for the target already holds it.
func (lm *LockManager) TryLock(targetName string) bool {
	lm.mu.Lock()
	lock, exists := lm.locks[targetName]
	if !exists {
		lock = &sync.Mutex{}
		lm.locks[targetName] = lock
	}
	lm.mu.Unlock()

	return lock.TryLock()
}

// Unlock releases the lock for targetName. Unlocking a target that was
// never locked is a no-op.
func (lm *LockManager) Unlock(targetName string) {
	lm.mu.Lock()
	lock := lm.locks[targetName]
	lm.mu.Unlock()

	if lock != nil {
		lock.Unlock()
	}
}
