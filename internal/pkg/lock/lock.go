package lock

import (
	"context"
	"sync"
)

// Locker serializes critical sections by key. The reservation engine takes a
// lock per (product, store) pair around every check-then-write sequence; the
// implementation decides whether that lock is process-local or distributed.
type Locker interface {
	// Acquire blocks until the key is held or ctx is done. The returned
	// function releases the lock and must be called exactly once.
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// KeyedMutex is the in-process Locker, suitable when a single service instance
// owns the reservation store (tests, embedded deployments).
type KeyedMutex struct {
	mu   sync.Mutex
	keys map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{keys: make(map[string]*keyLock)}
}

func (m *KeyedMutex) Acquire(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	kl, ok := m.keys[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		m.keys[key] = kl
	}
	kl.refs++
	m.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
	case <-ctx.Done():
		m.drop(key, kl)
		return nil, ctx.Err()
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			<-kl.ch
			m.drop(key, kl)
		})
	}
	return release, nil
}

func (m *KeyedMutex) drop(key string, kl *keyLock) {
	m.mu.Lock()
	kl.refs--
	if kl.refs == 0 {
		delete(m.keys, key)
	}
	m.mu.Unlock()
}
