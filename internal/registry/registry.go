package registry

import (
	"context"
	"errors"
	"sort"
	"sync"

	logx "gatebot/pkg/logx"
)

// Registry owns the durable user set. All access goes through its methods;
// nothing else touches the store. A single mutex gates every
// read-modify-write so a Record racing a broadcast-triggered Remove cannot
// silently lose a write.
type Registry struct {
	mu    sync.Mutex
	users map[int64]struct{}
	store Store
	log   logx.Logger
}

func New(store Store, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{
		users: make(map[int64]struct{}),
		store: store,
		log:   log,
	}
}

// Load initializes the set from the store. An absent artifact is a normal
// first run; corrupt or unreadable content is logged and replaced by an
// empty set. Load never fails the caller.
func (r *Registry) Load(ctx context.Context) {
	ids, found, err := r.store.Load(ctx)
	switch {
	case err != nil:
		if errors.Is(err, ErrCorrupt) {
			r.log.Warn("registry store corrupt; starting with empty set", logx.Err(err))
		} else {
			r.log.Error("registry load failed; starting with empty set", logx.Err(err))
		}
		ids = nil
	case !found:
		r.log.Info("registry store absent; assuming first run")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		r.users[id] = struct{}{}
	}
	r.log.Info("registry loaded", logx.Int("users", len(r.users)))
}

// Record inserts user if absent and persists the updated set. Recording an
// already-present user is a no-op with no write. The returned error is a
// persistence failure only; the in-memory insert has already happened.
func (r *Registry) Record(ctx context.Context, user int64) (added bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[user]; ok {
		return false, nil
	}
	r.users[user] = struct{}{}
	return true, r.persistLocked(ctx)
}

// Remove evicts the given users and persists the result. Empty input is a
// no-op with no write.
func (r *Registry) Remove(ctx context.Context, users []int64) error {
	if len(users) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	changed := false
	for _, id := range users {
		if _, ok := r.users[id]; ok {
			delete(r.users, id)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return r.persistLocked(ctx)
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}

func (r *Registry) Contains(user int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.users[user]
	return ok
}

// Snapshot returns a sorted copy of the current set. Sorting is for
// deterministic logs and tests; delivery order carries no meaning.
func (r *Registry) Snapshot() []int64 {
	r.mu.Lock()
	ids := make([]int64, 0, len(r.users))
	for id := range r.users {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *Registry) persistLocked(ctx context.Context) error {
	ids := make([]int64, 0, len(r.users))
	for id := range r.users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if err := r.store.Replace(ctx, ids); err != nil {
		r.log.Error("registry persist failed", logx.Err(err), logx.Int("users", len(ids)))
		return err
	}
	return nil
}
