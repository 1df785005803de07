package quota

import (
	"context"
	"sync"
	"time"

	"codeberg.org/lessonforge/server/internal/kv"
	"codeberg.org/lessonforge/server/internal/logger"
	"github.com/patrickmn/go-cache"
)

// prefix of every usage namespace
const namespacePrefix = "lessonforge:"

// hands out one watched Tracker per client, dropping idle ones after ttl.
// entries taken with Hold survive expiry until every hold is released.
type Ledger struct {
	backend kv.Store
	limits  Limits
	opts    []StoreOption
	cache   *cache.Cache
	mu      sync.Mutex

	// guards pinned and every entry's holds; never taken before mu
	pinMu  sync.Mutex
	pinned map[string]*ledgerEntry
}

type ledgerEntry struct {
	tracker *Tracker
	unwatch func()
	once    sync.Once
	holds   int
}

func (e *ledgerEntry) stop() {
	e.once.Do(func() {
		if e.unwatch != nil {
			e.unwatch()
		}
	})
}

// creates a ledger; idle trackers are swept every ttl/2
func NewLedger(backend kv.Store, limits Limits, ttl time.Duration, opts ...StoreOption) *Ledger {
	l := &Ledger{
		backend: backend,
		limits:  limits,
		opts:    opts,
		cache:   cache.New(ttl, ttl/2),
		pinned:  make(map[string]*ledgerEntry),
	}

	l.cache.OnEvicted(func(_ string, v any) {
		entry, ok := v.(*ledgerEntry)
		if !ok {
			return
		}

		l.pinMu.Lock()
		held := entry.holds > 0
		l.pinMu.Unlock()

		if !held {
			entry.stop()
		}
	})

	return l
}

// returns the configured maximums
func (l *Ledger) Limits() Limits {
	return l.limits
}

// returns the tracker for clientID, creating and watching it on first use
func (l *Ledger) For(ctx context.Context, clientID string) *Tracker {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.entry(ctx, clientID).tracker
}

// like For, but the tracker keeps its watch and stays the one handed out for
// clientID until release is called, however long it sits idle
func (l *Ledger) Hold(ctx context.Context, clientID string) (*Tracker, func()) {
	l.mu.Lock()
	entry := l.entry(ctx, clientID)

	l.pinMu.Lock()
	entry.holds++
	l.pinned[clientID] = entry
	l.pinMu.Unlock()
	l.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() { l.release(clientID, entry) })
	}

	return entry.tracker, release
}

func (l *Ledger) release(clientID string, entry *ledgerEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.pinMu.Lock()
	entry.holds--
	idle := entry.holds <= 0
	if idle && l.pinned[clientID] == entry {
		delete(l.pinned, clientID)
	}
	l.pinMu.Unlock()

	if !idle {
		return
	}

	// the cache let go of it while it was held
	if x, found := l.cache.Get(clientID); !found || x != any(entry) {
		entry.stop()
	}
}

// caller holds mu
func (l *Ledger) entry(ctx context.Context, clientID string) *ledgerEntry {
	if x, found := l.cache.Get(clientID); found {
		entry := x.(*ledgerEntry)
		// touch to push the expiry forward
		l.cache.SetDefault(clientID, entry)
		return entry
	}

	l.pinMu.Lock()
	entry, held := l.pinned[clientID]
	l.pinMu.Unlock()

	if held {
		l.cache.SetDefault(clientID, entry)
		return entry
	}

	// an expired entry the janitor has not swept yet is evicted now, so its
	// watch stops before the replacement starts one
	l.cache.Delete(clientID)

	store := NewStore(l.backend, Namespace(clientID), l.limits, l.opts...)
	tracker := NewTracker(ctx, store)

	unwatch, err := tracker.Watch(context.Background())
	if err != nil {
		logger.Component("quota").Warn("failed to watch usage record, view refreshes on use only",
			"client_id", clientID,
			"error", err,
		)
	}

	entry = &ledgerEntry{tracker: tracker, unwatch: unwatch}
	l.cache.SetDefault(clientID, entry)
	return entry
}

// returns the storage namespace of a client's usage record
func Namespace(clientID string) string {
	return namespacePrefix + clientID
}

// returns the number of live trackers
func (l *Ledger) Size() int {
	return l.cache.ItemCount()
}

// stops every watch, held ones included, and empties the ledger
func (l *Ledger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key := range l.cache.Items() {
		l.cache.Delete(key) // triggers OnEvicted
	}

	l.pinMu.Lock()
	held := make([]*ledgerEntry, 0, len(l.pinned))
	for key, entry := range l.pinned {
		held = append(held, entry)
		delete(l.pinned, key)
	}
	l.pinMu.Unlock()

	for _, entry := range held {
		entry.stop()
	}
}
