package openfinance

import (
	"context"
	"sync"
)

// UserLocker serializes sync passes per user. TryLock returns
// ErrSyncInProgress when another pass holds the lock.
type UserLocker interface {
	TryLock(ctx context.Context, userID int64) (unlock func(), err error)
}

// KeyedMutex is an in-process UserLocker.
type KeyedMutex struct {
	mu   sync.Mutex
	held map[int64]struct{}
}

var _ UserLocker = (*KeyedMutex)(nil)

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{held: make(map[int64]struct{})}
}

func (k *KeyedMutex) TryLock(_ context.Context, userID int64) (func(), error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if _, busy := k.held[userID]; busy {
		return nil, ErrSyncInProgress
	}
	k.held[userID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			k.mu.Lock()
			delete(k.held, userID)
			k.mu.Unlock()
		})
	}, nil
}
