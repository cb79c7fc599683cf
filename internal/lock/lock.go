// Package lock implements the per-lane tick lease.
//
// A lease is a {token, expires_at} record in the store. Acquire succeeds only
// when no lease exists or the existing one has expired. Stores that
// implement storage.Swapper install the lease with compare-and-swap; plain
// stores fall back to write-then-read-back token confirmation.
package lock

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"lanerunner/internal/lane"
	"lanerunner/internal/storage"
	"lanerunner/pkg/logx"

	"github.com/google/uuid"
)

const DefaultTTL = 120 * time.Second

type Manager struct {
	st  storage.Store
	ttl atomic.Int64
	now func() time.Time
	log logx.Logger
}

func New(st storage.Store, ttl time.Duration, log logx.Logger) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &Manager{st: st, now: time.Now, log: log.With(logx.String("comp", "lock"))}
	m.SetTTL(ttl)
	return m
}

// SetClock replaces the time source (tests).
func (m *Manager) SetClock(now func() time.Time) {
	if now != nil {
		m.now = now
	}
}

// SetTTL changes the lease duration for future acquisitions.
func (m *Manager) SetTTL(ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m.ttl.Store(int64(ttl))
}

func (m *Manager) TTL() time.Duration { return time.Duration(m.ttl.Load()) }

// Acquire tries to take the lane's lease. It never blocks waiting for it.
func (m *Manager) Acquire(ctx context.Context, id string) (bool, error) {
	key := lane.Key(id, lane.KindLock)
	now := m.now()

	cur, present, err := m.st.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if present {
		held, err := lane.DecodeLock(cur)
		switch {
		case errors.Is(err, lane.ErrCorrupt):
			m.log.Warn("replacing corrupt lock", logx.Lane(id), logx.Err(err))
		case !held.Expired(now):
			m.log.Trace("lock busy", logx.Lane(id), logx.Time("expires_at", held.ExpiresAt))
			return false, nil
		default:
			m.log.Debug("taking over expired lock", logx.Lane(id), logx.Time("expired_at", held.ExpiresAt))
		}
	}

	cand := lane.Lock{Token: uuid.NewString(), ExpiresAt: now.Add(m.TTL())}
	b, err := lane.Encode(cand)
	if err != nil {
		return false, err
	}

	if sw, ok := m.st.(storage.Swapper); ok {
		var old []byte
		if present {
			old = cur
		}
		return sw.CompareAndSwap(ctx, key, old, b)
	}

	// No atomic primitive: write, then confirm our token survived.
	if err := m.st.Put(ctx, key, b); err != nil {
		return false, err
	}
	back, ok, err := m.st.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	got, err := lane.DecodeLock(back)
	if err != nil {
		return false, nil
	}
	return got.Token == cand.Token, nil
}

// Release deletes the lease unconditionally.
func (m *Manager) Release(ctx context.Context, id string) error {
	return m.st.Delete(ctx, lane.Key(id, lane.KindLock))
}

// IsLocked reports whether a live lease exists.
func (m *Manager) IsLocked(ctx context.Context, id string) (bool, error) {
	b, ok, err := m.st.Get(ctx, lane.Key(id, lane.KindLock))
	if err != nil || !ok {
		return false, err
	}
	l, err := lane.DecodeLock(b)
	if err != nil {
		return false, nil
	}
	return !l.Expired(m.now()), nil
}

// Guard ties one acquisition to a deferred release.
type Guard struct {
	m        *Manager
	id       string
	acquired bool
}

func NewGuard(m *Manager, id string) *Guard {
	return &Guard{m: m, id: id}
}

func (g *Guard) Acquire(ctx context.Context) (bool, error) {
	ok, err := g.m.Acquire(ctx, g.id)
	if err == nil && ok {
		g.acquired = true
	}
	return ok, err
}

// Release is a no-op unless Acquire succeeded; safe to call more than once.
func (g *Guard) Release(ctx context.Context) error {
	if !g.acquired {
		return nil
	}
	g.acquired = false
	if err := g.m.Release(ctx, g.id); err != nil {
		g.m.log.Warn("lock release failed", logx.Lane(g.id), logx.Err(err))
		return err
	}
	return nil
}

// Disown drops the claim without deleting the lease. Used when the lease
// may already belong to a newer run.
func (g *Guard) Disown() { g.acquired = false }

func (g *Guard) IsAcquired() bool { return g.acquired }
