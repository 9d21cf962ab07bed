package ledger

import (
	"context"
	"sync"
)

// LocalLocker is a keyed reader/writer lock for a single process. Idle keys are dropped.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	rw   sync.RWMutex
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*keyLock)}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	return l.acquire(ctx, key, true)
}

func (l *LocalLocker) RLock(ctx context.Context, key string) (func(), error) {
	return l.acquire(ctx, key, false)
}

func (l *LocalLocker) acquire(ctx context.Context, key string, exclusive bool) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	acquired := make(chan struct{})
	go func() {
		if exclusive {
			kl.rw.Lock()
		} else {
			kl.rw.RLock()
		}
		close(acquired)
	}()

	unlock := func() {
		if exclusive {
			kl.rw.Unlock()
		} else {
			kl.rw.RUnlock()
		}
		l.release(key, kl)
	}

	select {
	case <-acquired:
		return unlock, nil
	case <-ctx.Done():
		// The waiter still gets the lock eventually; hand it straight back.
		go func() {
			<-acquired
			unlock()
		}()
		return nil, ctx.Err()
	}
}

func (l *LocalLocker) release(key string, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

// Size reports how many keys are currently held or awaited.
func (l *LocalLocker) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
