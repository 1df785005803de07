package kv

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// shared state behind every handle of one memory store
type memoryBackend struct {
	mu     sync.RWMutex
	data   map[string]string
	subs   map[int]*memorySubscription
	nextID int
}

type memorySubscription struct {
	origin string
	keys   map[string]struct{}
	fn     ChangeFunc
}

// MemoryStore implements Store using in-memory storage. Handles created with
// Handle() share data but have distinct origins, so each one is notified only
// about writes made through the others (like two browser tabs).
type MemoryStore struct {
	backend *memoryBackend
	origin  string
}

// creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		backend: &memoryBackend{
			data: make(map[string]string),
			subs: make(map[int]*memorySubscription),
		},
		origin: uuid.NewString(),
	}
}

// returns another writer over the same data
func (s *MemoryStore) Handle() *MemoryStore {
	return &MemoryStore{
		backend: s.backend,
		origin:  uuid.NewString(),
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.backend.mu.RLock()
	defer s.backend.mu.RUnlock()

	v, ok := s.backend.data[key]
	return v, ok, nil
}

func (s *MemoryStore) SetMany(_ context.Context, values map[string]string) error {
	s.backend.mu.Lock()
	for k, v := range values {
		s.backend.data[k] = v
	}
	s.backend.mu.Unlock()

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}

	s.notify(keys)
	return nil
}

// runs fn under the write lock; fn must not call back into the store
func (s *MemoryStore) Update(_ context.Context, keys []string, fn UpdateFunc) error {
	s.backend.mu.Lock()

	current := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := s.backend.data[k]; ok {
			current[k] = v
		}
	}

	next, err := fn(current)
	if err != nil {
		s.backend.mu.Unlock()
		return err
	}

	changed := make([]string, 0, len(next))
	for k, v := range next {
		s.backend.data[k] = v
		changed = append(changed, k)
	}
	s.backend.mu.Unlock()

	s.notify(changed)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.backend.mu.Lock()
	for _, k := range keys {
		delete(s.backend.data, k)
	}
	s.backend.mu.Unlock()

	s.notify(keys)
	return nil
}

func (s *MemoryStore) Subscribe(_ context.Context, keys []string, fn ChangeFunc) (func(), error) {
	sub := &memorySubscription{
		origin: s.origin,
		keys:   make(map[string]struct{}, len(keys)),
		fn:     fn,
	}

	for _, k := range keys {
		sub.keys[k] = struct{}{}
	}

	s.backend.mu.Lock()
	id := s.backend.nextID
	s.backend.nextID++
	s.backend.subs[id] = sub
	s.backend.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.backend.mu.Lock()
			delete(s.backend.subs, id)
			s.backend.mu.Unlock()
		})
	}, nil
}

// calls subscribers of other origins outside the lock so they may read back
func (s *MemoryStore) notify(keys []string) {
	type call struct {
		fn  ChangeFunc
		key string
	}

	var calls []call

	s.backend.mu.RLock()
	for _, sub := range s.backend.subs {
		if sub.origin == s.origin {
			continue
		}

		for _, k := range keys {
			if _, ok := sub.keys[k]; ok {
				calls = append(calls, call{fn: sub.fn, key: k})
			}
		}
	}
	s.backend.mu.RUnlock()

	for _, c := range calls {
		c.fn(c.key)
	}
}
