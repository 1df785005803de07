// package kv provides the small key-value substrate that usage records live in.
// it mirrors browser-local storage semantics: string values, whole-value writes,
// and change notifications for writes made by *other* handles sharing the data.
package kv

import "context"

// called with the key that another writer changed
type ChangeFunc func(key string)

// receives the current values of the watched keys (missing keys are absent)
// and returns the values to write; a nil map writes nothing. it may run more
// than once when another writer gets in between.
type UpdateFunc func(current map[string]string) (map[string]string, error)

// defines the storage contract used by the quota store
type Store interface {
	// returns the value and whether the key exists
	Get(ctx context.Context, key string) (string, bool, error)

	// writes all values as one batch
	SetMany(ctx context.Context, values map[string]string) error

	// reads keys, applies fn and writes its result as one atomic step with
	// respect to every other writer of the same data
	Update(ctx context.Context, keys []string, fn UpdateFunc) error

	// removes keys; missing keys are not an error
	Delete(ctx context.Context, keys ...string) error

	// registers fn for external changes to any of keys; the returned func unsubscribes
	Subscribe(ctx context.Context, keys []string, fn ChangeFunc) (func(), error)
}
