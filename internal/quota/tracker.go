package quota

import (
	"context"
	"log/slog"
	"sync"
)

// Tracker exposes admission control on top of a Store. Every mutation is a
// read-modify-write inside one backend transaction, so trackers over the same
// record in other processes never over-admit. Within one process the cycle is
// also serialized by mu.
type Tracker struct {
	store *Store
	log   *slog.Logger

	// serializes read-modify-write cycles of this tracker
	mu sync.Mutex

	viewMu    sync.RWMutex
	view      UsageState
	listeners map[int]func(UsageState)
	nextID    int
}

// creates a tracker and loads the current view
func NewTracker(ctx context.Context, store *Store) *Tracker {
	t := &Tracker{
		store:     store,
		log:       store.log,
		listeners: make(map[int]func(UsageState)),
	}

	t.setView(store.Read(ctx))
	return t
}

// returns the configured maximums
func (t *Tracker) Limits() Limits {
	return t.store.Limits()
}

// admits one unit of kind if today's count is below its limit.
// returns false without touching storage when the limit is reached.
func (t *Tracker) TryIncrement(ctx context.Context, kind Kind) bool {
	if !kind.Valid() {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	limit := t.Limits().For(kind)
	var admitted bool

	t.mutate(ctx, func(state UsageState) (UsageState, bool) {
		admitted = state.Count(kind) < limit
		if !admitted {
			return state, false
		}

		return state.with(kind, state.Count(kind)+1), true
	})

	return admitted
}

// adds one unit of kind; the caller has already checked capacity.
// the count still never exceeds the limit.
func (t *Tracker) Increment(ctx context.Context, kind Kind) {
	if !kind.Valid() {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	limit := t.Limits().For(kind)

	t.mutate(ctx, func(state UsageState) (UsageState, bool) {
		n := min(state.Count(kind)+1, limit)
		return state.with(kind, n), n != state.Count(kind)
	})
}

// releases one unit of kind, never going below zero. used to compensate a
// reservation whose operation failed.
func (t *Tracker) Decrement(ctx context.Context, kind Kind) {
	if !kind.Valid() {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.mutate(ctx, func(state UsageState) (UsageState, bool) {
		n := max(state.Count(kind)-1, 0)
		return state.with(kind, n), n != state.Count(kind)
	})
}

// reports whether at least one image unit is left today
func (t *Tracker) CanGenerateImage(ctx context.Context) bool {
	return t.Remaining(ctx, KindImages) > 0
}

// returns the units of kind still available today
func (t *Tracker) Remaining(ctx context.Context, kind Kind) int {
	t.mu.Lock()
	state := t.current(ctx)
	t.mu.Unlock()

	t.setView(state)

	left := t.Limits().For(kind) - state.Count(kind)
	if left < 0 {
		return 0
	}

	return left
}

// returns the last observed usage, reset if the day has changed since
func (t *Tracker) Usage() UsageState {
	t.viewMu.RLock()
	view := t.view
	t.viewMu.RUnlock()

	return t.store.Normalize(view)
}

// re-reads the record and publishes it to listeners
func (t *Tracker) Refresh(ctx context.Context) UsageState {
	t.mu.Lock()
	state := t.current(ctx)
	t.mu.Unlock()

	t.setView(state)
	return state
}

// zeroes today's counts
func (t *Tracker) Reset(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	empty := t.store.Empty()
	if err := t.store.Write(ctx, empty); err != nil {
		return err
	}

	t.setView(empty)
	return nil
}

// refreshes the view whenever another writer changes the record.
// the returned func stops watching.
func (t *Tracker) Watch(ctx context.Context) (func(), error) {
	return t.store.kv.Subscribe(ctx, t.store.Keys(), func(string) {
		// the notifying writer may still hold its own tracker lock
		go t.Refresh(context.Background())
	})
}

// registers fn to be called with every new view; the returned func removes it
func (t *Tracker) OnChange(fn func(UsageState)) func() {
	t.viewMu.Lock()
	id := t.nextID
	t.nextID++
	t.listeners[id] = fn
	t.viewMu.Unlock()

	return func() {
		t.viewMu.Lock()
		delete(t.listeners, id)
		t.viewMu.Unlock()
	}
}

// reads the persisted truth; when storage fails the in-memory view stands in
func (t *Tracker) current(ctx context.Context) UsageState {
	state, err := t.store.Load(ctx)
	if err != nil {
		t.log.Warn("usage record unavailable, using in-memory view", "error", err)
		return t.Usage()
	}

	return state
}

// applies change to the stored record in one optimistic transaction, so
// trackers in other processes cannot interleave with it. when storage fails
// the change lands on the in-memory view instead.
func (t *Tracker) mutate(ctx context.Context, change func(UsageState) (UsageState, bool)) {
	state, err := t.store.Update(ctx, change)
	if err != nil {
		t.log.Warn("failed to persist usage record, using in-memory view", "error", err)

		next, _ := change(t.Usage())
		state = t.store.Normalize(next)
	}

	t.setView(state)
}

func (t *Tracker) setView(state UsageState) {
	t.viewMu.Lock()
	changed := t.view != state
	t.view = state

	var fns []func(UsageState)
	if changed {
		fns = make([]func(UsageState), 0, len(t.listeners))
		for _, fn := range t.listeners {
			fns = append(fns, fn)
		}
	}
	t.viewMu.Unlock()

	for _, fn := range fns {
		fn(state)
	}
}
