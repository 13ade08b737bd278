package leaselock

import (
	"context"
	"sync"
)

// LocalLocker is a Locker for a single process. Leases never expire; TTL and
// renewal options are ignored.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

var _ Locker = (*LocalLocker)(nil)

func NewLocal() *LocalLocker {
	return &LocalLocker{locks: make(map[string]chan struct{})}
}

func (l *LocalLocker) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[key] = ch
	}
	return ch
}

func (l *LocalLocker) WithLease(ctx context.Context, key string, opts Options, fn func(ctx context.Context) error) error {
	ch := l.slot(key)
	if opts.Wait {
		select {
		case ch <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
	} else {
		select {
		case ch <- struct{}{}:
		default:
			return ErrBusy
		}
	}
	defer func() { <-ch }()
	return fn(ctx)
}
