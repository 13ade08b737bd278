package leaselock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLocalLocker_BusyWithoutWait(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	err := l.WithLease(ctx, ResourceKey("r1"), Options{}, func(ctx context.Context) error {
		inner := l.WithLease(ctx, ResourceKey("r1"), Options{}, func(context.Context) error { return nil })
		if !errors.Is(inner, ErrBusy) {
			t.Fatalf("expected ErrBusy, got %v", inner)
		}
		return l.WithLease(ctx, ResourceKey("r2"), Options{}, func(context.Context) error { return nil })
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLocalLocker_SerializesSameKey(t *testing.T) {
	l := NewLocal()
	var active, peak atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.WithLease(context.Background(), "k", Options{Wait: true}, func(context.Context) error {
				n := active.Add(1)
				if n > peak.Load() {
					peak.Store(n)
				}
				time.Sleep(time.Millisecond)
				active.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()
	if peak.Load() != 1 {
		t.Fatalf("expected at most one holder, saw %d", peak.Load())
	}
}

func TestLocalLocker_WaitHonoursContext(t *testing.T) {
	l := NewLocal()
	release := make(chan struct{})
	held := make(chan struct{})
	go func() {
		_ = l.WithLease(context.Background(), "k", Options{}, func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := l.WithLease(ctx, "k", Options{Wait: true}, func(context.Context) error { return nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestOptionsWithDefaults(t *testing.T) {
	o := Options{TTL: 10 * time.Second, RenewEvery: time.Minute}.withDefaults()
	if o.RenewEvery != 5*time.Second {
		t.Fatalf("expected renew every 5s, got %v", o.RenewEvery)
	}
	o = Options{}.withDefaults()
	if o.TTL != defaultTTL || o.WaitInterval != 250*time.Millisecond {
		t.Fatalf("unexpected defaults %+v", o)
	}
}
