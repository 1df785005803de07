package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"codeberg.org/lessonforge/server/internal/logger"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// pub/sub channel carrying "<origin>|<key>" for every write
const changeChannel = "lessonforge:kv:changes"

// optimistic transactions give up after this many conflicting writers
const maxUpdateAttempts = 32

// implements Store using Redis; writes are published so other processes
// (and other handles in this one) can refresh their view
type RedisStore struct {
	client *redis.Client
	origin string
	subs   *redisSubscriptions
}

// one pub/sub connection per process, shared by every handle; change
// messages are routed to subscribers by key
type redisSubscriptions struct {
	mu     sync.Mutex
	pubsub *redis.PubSub
	byKey  map[string]map[int]*redisSubscriber
	nextID int
	active int
}

type redisSubscriber struct {
	origin string
	fn     ChangeFunc
}

// creates a new Redis-backed store
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		origin: uuid.NewString(),
		subs:   &redisSubscriptions{byKey: make(map[string]map[int]*redisSubscriber)},
	}
}

// creates a new Redis-backed store from a URL
func NewRedisStoreFromURL(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("connected to redis")

	return NewRedisStore(client), nil
}

// returns another writer sharing the same connection
func (s *RedisStore) Handle() *RedisStore {
	return &RedisStore{client: s.client, origin: uuid.NewString(), subs: s.subs}
}

// returns the underlying Redis client for advanced operations
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// closes the redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}

	if err != nil {
		return "", false, fmt.Errorf("failed to get %s from redis: %w", key, err)
	}

	return v, true, nil
}

// writes all values in one MULTI/EXEC and publishes each changed key
func (s *RedisStore) SetMany(ctx context.Context, values map[string]string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for k, v := range values {
			pipe.Set(ctx, k, v, 0)
		}

		for k := range values {
			pipe.Publish(ctx, changeChannel, s.origin+"|"+k)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write to redis: %w", err)
	}

	return nil
}

// Update runs fn inside WATCH/MULTI so a concurrent write to any of keys
// aborts the transaction; the whole read-modify-write is then retried.
func (s *RedisStore) Update(ctx context.Context, keys []string, fn UpdateFunc) error {
	txf := func(tx *redis.Tx) error {
		values, err := tx.MGet(ctx, keys...).Result()
		if err != nil {
			return err
		}

		current := make(map[string]string, len(keys))
		for i, v := range values {
			if str, ok := v.(string); ok {
				current[keys[i]] = str
			}
		}

		next, err := fn(current)
		if err != nil || len(next) == 0 {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for k, v := range next {
				pipe.Set(ctx, k, v, 0)
			}

			for k := range next {
				pipe.Publish(ctx, changeChannel, s.origin+"|"+k)
			}

			return nil
		})
		return err
	}

	for range maxUpdateAttempts {
		err := s.client.Watch(ctx, txf, keys...)
		if err == nil {
			return nil
		}

		if !errors.Is(err, redis.TxFailedErr) {
			return fmt.Errorf("failed to update redis keys: %w", err)
		}
	}

	return fmt.Errorf("failed to update redis keys: %d conflicting attempts", maxUpdateAttempts)
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)

		for _, k := range keys {
			pipe.Publish(ctx, changeChannel, s.origin+"|"+k)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete from redis: %w", err)
	}

	return nil
}

// registers fn for changes to keys made by other origins. the first
// subscription opens the shared pub/sub connection and the last cancel
// closes it.
func (s *RedisStore) Subscribe(ctx context.Context, keys []string, fn ChangeFunc) (func(), error) {
	subs := s.subs

	subs.mu.Lock()
	defer subs.mu.Unlock()

	if subs.pubsub == nil {
		pubsub := s.client.Subscribe(ctx, changeChannel)

		// wait for the subscription confirmation so no write is missed after return
		if _, err := pubsub.Receive(ctx); err != nil {
			pubsub.Close() //nolint:errcheck,gosec // best-effort cleanup
			return nil, fmt.Errorf("failed to subscribe to redis changes: %w", err)
		}

		subs.pubsub = pubsub
		go subs.dispatch(pubsub.Channel())
	}

	id := subs.nextID
	subs.nextID++
	subs.active++

	sub := &redisSubscriber{origin: s.origin, fn: fn}
	for _, k := range keys {
		if subs.byKey[k] == nil {
			subs.byKey[k] = make(map[int]*redisSubscriber)
		}
		subs.byKey[k][id] = sub
	}

	var once sync.Once
	return func() {
		once.Do(func() { subs.remove(id, keys) })
	}, nil
}

func (r *redisSubscriptions) remove(id int, keys []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, k := range keys {
		delete(r.byKey[k], id)
		if len(r.byKey[k]) == 0 {
			delete(r.byKey, k)
		}
	}

	r.active--
	if r.active == 0 && r.pubsub != nil {
		r.pubsub.Close() //nolint:errcheck,gosec // best-effort cleanup
		r.pubsub = nil
	}
}

// delivers each change to the subscribers of its key; returns when the
// pub/sub connection is closed
func (r *redisSubscriptions) dispatch(ch <-chan *redis.Message) {
	for msg := range ch {
		origin, key, found := strings.Cut(msg.Payload, "|")
		if !found {
			continue
		}

		r.mu.Lock()
		fns := make([]ChangeFunc, 0, len(r.byKey[key]))
		for _, sub := range r.byKey[key] {
			if sub.origin != origin {
				fns = append(fns, sub.fn)
			}
		}
		r.mu.Unlock()

		for _, fn := range fns {
			fn(key)
		}
	}
}

// returns the number of live subscriptions sharing the connection
func (s *RedisStore) Subscriptions() int {
	s.subs.mu.Lock()
	defer s.subs.mu.Unlock()
	return s.subs.active
}
