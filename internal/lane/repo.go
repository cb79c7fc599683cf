package lane

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"lanerunner/internal/storage"
)

// ErrCorrupt reports a record that exists but cannot be decoded or violates
// its invariants.
var ErrCorrupt = errors.New("corrupt lane record")

// Repo reads and writes typed lane records. It holds no state of its own;
// every call goes to the store.
type Repo struct {
	st storage.Store
}

func NewRepo(st storage.Store) *Repo { return &Repo{st: st} }

func (r *Repo) Store() storage.Store { return r.st }

func getJSON[T any](ctx context.Context, st storage.Store, key string) (T, bool, error) {
	var v T
	b, ok, err := st.Get(ctx, key)
	if err != nil || !ok {
		return v, false, err
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return v, true, fmt.Errorf("%w: %s: %v", ErrCorrupt, key, err)
	}
	return v, true, nil
}

func putJSON(ctx context.Context, st storage.Store, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return st.Put(ctx, key, b)
}

// Encode returns the stored form of a record (used for compare-and-swap).
func Encode(v any) ([]byte, error) { return json.Marshal(v) }

// DecodeLock parses a stored lock.
func DecodeLock(b []byte) (Lock, error) {
	var l Lock
	if err := json.Unmarshal(b, &l); err != nil {
		return Lock{}, fmt.Errorf("%w: lock: %v", ErrCorrupt, err)
	}
	return l, nil
}

// LoadJob returns the lane's Job. A missing Job is (Job{}, false, nil);
// an undecodable or out-of-range one is ErrCorrupt.
func (r *Repo) LoadJob(ctx context.Context, id string) (Job, bool, error) {
	j, ok, err := getJSON[Job](ctx, r.st, Key(id, KindJob))
	if err != nil || !ok {
		return Job{}, ok, err
	}
	if err := j.validate(); err != nil {
		return Job{}, true, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return j, true, nil
}

func (r *Repo) SaveJob(ctx context.Context, id string, j Job) error {
	return putJSON(ctx, r.st, Key(id, KindJob), j)
}

func (r *Repo) DeleteJob(ctx context.Context, id string) error {
	return r.st.Delete(ctx, Key(id, KindJob))
}

// LoadRun returns the lane's RunState; a missing record is the zero state.
func (r *Repo) LoadRun(ctx context.Context, id string) (RunState, error) {
	rs, _, err := getJSON[RunState](ctx, r.st, Key(id, KindRun))
	return rs, err
}

func (r *Repo) SaveRun(ctx context.Context, id string, rs RunState) error {
	return putJSON(ctx, r.st, Key(id, KindRun), rs)
}

func (r *Repo) LoadResults(ctx context.Context, id string) (Results, error) {
	rs, _, err := getJSON[Results](ctx, r.st, Key(id, KindResults))
	return rs, err
}

func (r *Repo) SaveResults(ctx context.Context, id string, rs Results) error {
	return putJSON(ctx, r.st, Key(id, KindResults), rs)
}

func (r *Repo) ClearResults(ctx context.Context, id string) error {
	return r.st.Delete(ctx, Key(id, KindResults))
}

func (r *Repo) LoadCounter(ctx context.Context, id string) (DailyCounter, error) {
	c, _, err := getJSON[DailyCounter](ctx, r.st, Key(id, KindQuota))
	return c, err
}

func (r *Repo) SaveCounter(ctx context.Context, id string, c DailyCounter) error {
	return putJSON(ctx, r.st, Key(id, KindQuota), c)
}

func (r *Repo) LoadDeadline(ctx context.Context, id string) (TickDeadline, bool, error) {
	return getJSON[TickDeadline](ctx, r.st, Key(id, KindDeadline))
}

func (r *Repo) SaveDeadline(ctx context.Context, id string, d TickDeadline) error {
	return putJSON(ctx, r.st, Key(id, KindDeadline), d)
}

func (r *Repo) DeleteDeadline(ctx context.Context, id string) error {
	return r.st.Delete(ctx, Key(id, KindDeadline))
}

func (r *Repo) DeleteLock(ctx context.Context, id string) error {
	return r.st.Delete(ctx, Key(id, KindLock))
}

// Lanes returns the ids of every lane that has at least one record.
func (r *Repo) Lanes(ctx context.Context) ([]string, error) {
	keys, err := r.st.List(ctx, keyPrefix)
	if err != nil {
		return nil, err
	}
	seen := map[string]struct{}{}
	out := make([]string, 0, 4)
	for _, k := range keys {
		id, _, ok := parseKey(k)
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}
