package toolchain

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// keyedMutex hands out one exclusive lock per key. Waiting for a lock honors cancellation.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*semaphore.Weighted
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*semaphore.Weighted)}
}

func (k *keyedMutex) slot(key string) *semaphore.Weighted {
	k.mu.Lock()
	defer k.mu.Unlock()

	sem, ok := k.locks[key]
	if !ok {
		sem = semaphore.NewWeighted(1)
		k.locks[key] = sem
	}
	return sem
}

// Lock blocks until the lock for key is held or ctx is done. The returned function
// releases the lock.
func (k *keyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	sem := k.slot(key)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { sem.Release(1) }, nil
}
