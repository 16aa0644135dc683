package service

import (
	"context"
	"sync"
)

// BookingLocker serialises transitions of one booking. Lock blocks until the
// lock is held or ctx is done and returns the release func.
type BookingLocker interface {
	Lock(ctx context.Context, bookingID string) (func(), error)
}

// LocalLocker is an in-process BookingLocker keyed by booking ID.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	ch   chan struct{}
	refs int
}

// NewLocalLocker creates a new LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*keyedLock)}
}

// Lock acquires the lock for bookingID.
func (l *LocalLocker) Lock(ctx context.Context, bookingID string) (func(), error) {
	l.mu.Lock()
	k, ok := l.locks[bookingID]
	if !ok {
		k = &keyedLock{ch: make(chan struct{}, 1)}
		l.locks[bookingID] = k
	}
	k.refs++
	l.mu.Unlock()

	select {
	case k.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(bookingID, k)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-k.ch
			l.release(bookingID, k)
		})
	}, nil
}

func (l *LocalLocker) release(bookingID string, k *keyedLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k.refs--
	if k.refs == 0 {
		delete(l.locks, bookingID)
	}
}

// Len returns the number of bookings with a held or awaited lock.
func (l *LocalLocker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
