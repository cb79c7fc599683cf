package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"lanerunner/internal/lane"
	"lanerunner/internal/storage"
	"lanerunner/pkg/logx"
)

// plainStore hides the Swapper implementation of the wrapped store.
type plainStore struct{ storage.Store }

func stores() map[string]func() storage.Store {
	return map[string]func() storage.Store{
		"cas":       storage.NewMemory,
		"read-back": func() storage.Store { return plainStore{storage.NewMemory()} },
	}
}

func TestAcquireRelease(t *testing.T) {
	t.Parallel()

	for name, mk := range stores() {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			m := New(mk(), time.Minute, logx.Nop())

			ok, err := m.Acquire(ctx, "a")
			if err != nil || !ok {
				t.Fatalf("first Acquire = %v %v", ok, err)
			}
			if ok, _ := m.Acquire(ctx, "a"); ok {
				t.Fatalf("second Acquire succeeded while held")
			}
			if ok, _ := m.Acquire(ctx, "b"); !ok {
				t.Fatalf("other lane blocked")
			}
			if locked, _ := m.IsLocked(ctx, "a"); !locked {
				t.Fatalf("IsLocked = false while held")
			}
			if err := m.Release(ctx, "a"); err != nil {
				t.Fatalf("Release: %v", err)
			}
			if ok, _ := m.Acquire(ctx, "a"); !ok {
				t.Fatalf("Acquire after Release failed")
			}
		})
	}
}

func TestExpiredLeaseIsTakenOver(t *testing.T) {
	t.Parallel()

	for name, mk := range stores() {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			now := time.Unix(1_700_000_000, 0)
			m := New(mk(), 2*time.Minute, logx.Nop())
			m.SetClock(func() time.Time { return now })

			if ok, _ := m.Acquire(ctx, "a"); !ok {
				t.Fatal("Acquire failed")
			}
			now = now.Add(119 * time.Second)
			if ok, _ := m.Acquire(ctx, "a"); ok {
				t.Fatal("lease taken before expiry")
			}
			now = now.Add(time.Second)
			if ok, _ := m.Acquire(ctx, "a"); !ok {
				t.Fatal("expired lease not taken over")
			}
		})
	}
}

func TestCorruptLockIsReplaced(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := storage.NewMemory()
	_ = st.Put(ctx, lane.Key("a", lane.KindLock), []byte("garbage"))
	m := New(st, time.Minute, logx.Nop())
	if ok, err := m.Acquire(ctx, "a"); err != nil || !ok {
		t.Fatalf("Acquire over corrupt lock = %v %v", ok, err)
	}
}

func TestConcurrentAcquireHasOneWinner(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := New(storage.NewMemory(), time.Minute, logx.Nop())

	const n = 32
	var (
		wins  atomic.Int32
		wg    sync.WaitGroup
		start = make(chan struct{})
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if ok, err := m.Acquire(ctx, "a"); err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("winners = %d, want 1", wins.Load())
	}
}

func TestGuard(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := New(storage.NewMemory(), time.Minute, logx.Nop())

	g := NewGuard(m, "a")
	if err := g.Release(ctx); err != nil {
		t.Fatalf("Release before Acquire: %v", err)
	}
	if ok, _ := g.Acquire(ctx); !ok || !g.IsAcquired() {
		t.Fatal("guard Acquire failed")
	}

	other := NewGuard(m, "a")
	if ok, _ := other.Acquire(ctx); ok {
		t.Fatal("second guard acquired held lease")
	}
	// A guard that lost the race must not delete the holder's lease.
	_ = other.Release(ctx)
	if locked, _ := m.IsLocked(ctx, "a"); !locked {
		t.Fatal("losing guard released the lease")
	}

	_ = g.Release(ctx)
	if locked, _ := m.IsLocked(ctx, "a"); locked {
		t.Fatal("lease still held after guard Release")
	}
}

func TestGuardDisownKeepsLease(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := New(storage.NewMemory(), time.Minute, logx.Nop())
	g := NewGuard(m, "a")
	if ok, _ := g.Acquire(ctx); !ok {
		t.Fatal("Acquire failed")
	}
	g.Disown()
	_ = g.Release(ctx)
	if locked, _ := m.IsLocked(ctx, "a"); !locked {
		t.Fatal("disowned guard deleted the lease")
	}
}
