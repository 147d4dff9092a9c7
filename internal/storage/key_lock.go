package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/delegation-service/internal/models"
)

// ErrLockTimeout is returned when a key lock could not be acquired in time
var ErrLockTimeout = errors.New("timed out waiting for address lock")

// KeyLocker serializes work on a single child address.
// The returned unlock func must be called exactly once.
type KeyLocker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

type keySlot struct {
	ch   chan struct{}
	refs int
}

// LocalKeyLocker provides per-key mutual exclusion within one process
type LocalKeyLocker struct {
	mu    sync.Mutex
	slots map[string]*keySlot
}

// NewLocalKeyLocker creates an in-process key locker
func NewLocalKeyLocker() *LocalKeyLocker {
	return &LocalKeyLocker{slots: make(map[string]*keySlot)}
}

// Lock blocks until key is free or ctx is done
func (l *LocalKeyLocker) Lock(ctx context.Context, key string) (func(), error) {
	key = models.AddressKey(key)

	l.mu.Lock()
	slot, ok := l.slots[key]
	if !ok {
		slot = &keySlot{ch: make(chan struct{}, 1)}
		l.slots[key] = slot
	}
	slot.refs++
	l.mu.Unlock()

	select {
	case slot.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, slot, false)
		return nil, ErrLockTimeout
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(key, slot, true) })
	}, nil
}

func (l *LocalKeyLocker) release(key string, slot *keySlot, held bool) {
	if held {
		<-slot.ch
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, key)
	}
}
