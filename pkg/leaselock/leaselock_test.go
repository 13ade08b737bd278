package leaselock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeLocks keeps app_locks rows in memory and answers the lock statements.
type fakeLocks struct {
	mu      sync.Mutex
	holders map[string]string
	expires map[string]time.Time
	// stolen makes every renewal report a lost lease.
	stolen bool
}

func newFakeLocks() *fakeLocks {
	return &fakeLocks{holders: map[string]string{}, expires: map[string]time.Time{}}
}

type fakeRow struct {
	key string
	err error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*string) = r.key
	return nil
}

func (f *fakeLocks) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	f.mu.Lock()
	defer f.mu.Unlock()

	key, token, ttl := args[0].(string), args[1].(string), args[2].(int64)
	now := time.Now()
	switch sql {
	case tryAcquireSQL:
		holder, held := f.holders[key]
		if held && holder != token && f.expires[key].After(now) {
			return fakeRow{err: pgx.ErrNoRows}
		}
	case renewSQL:
		if f.stolen || f.holders[key] != token {
			return fakeRow{err: pgx.ErrNoRows}
		}
	}
	f.holders[key] = token
	f.expires[key] = now.Add(time.Duration(ttl) * time.Millisecond)
	return fakeRow{key: key}
}

func (f *fakeLocks) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key, token := args[0].(string), args[1].(string)
	if f.holders[key] == token {
		delete(f.holders, key)
		delete(f.expires, key)
		return pgconn.NewCommandTag("DELETE 1"), nil
	}
	return pgconn.NewCommandTag("DELETE 0"), nil
}

func TestClient_BusyUntilReleased(t *testing.T) {
	db := newFakeLocks()
	c := NewWithConn(db)
	ctx := context.Background()
	key := ResourceKey("w1")

	err := c.WithLease(ctx, key, Options{TTL: time.Minute}, func(ctx context.Context) error {
		_, err := c.Acquire(ctx, key, Options{TTL: time.Minute})
		if !errors.Is(err, ErrBusy) {
			t.Fatalf("expected ErrBusy, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, held := db.holders[key]; held {
		t.Fatal("lease not released")
	}

	lease, err := c.Acquire(ctx, key, Options{TTL: time.Minute})
	if err != nil {
		t.Fatalf("expected lease after release, got %v", err)
	}
	_ = lease.Release(ctx)
}

func TestClient_TakesOverExpiredLease(t *testing.T) {
	db := newFakeLocks()
	db.holders["k"] = "someone-else"
	db.expires["k"] = time.Now().Add(-time.Second)

	lease, err := NewWithConn(db).Acquire(context.Background(), "k", Options{TTL: time.Minute})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer lease.Release(context.Background())
	if db.holders["k"] != lease.Token {
		t.Fatalf("lease held by %q, want %q", db.holders["k"], lease.Token)
	}
}

func TestClient_LostLeaseCancelsWork(t *testing.T) {
	db := newFakeLocks()
	db.stolen = true
	c := NewWithConn(db)

	opts := Options{TTL: 2 * time.Second, RenewEvery: 20 * time.Millisecond}
	err := c.WithLease(context.Background(), "k", opts, func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
			return nil
		}
	})
	if !errors.Is(err, ErrLost) {
		t.Fatalf("expected ErrLost, got %v", err)
	}
}
