package quota

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	apperrors "codeberg.org/lessonforge/server/internal/errors"
	"codeberg.org/lessonforge/server/internal/kv"
	"codeberg.org/lessonforge/server/internal/logger"
)

const (
	keyUsage             = "%s:usage:v2"
	keyLegacyDate        = "%s:date"
	keyLegacyGenerations = "%s:generation_count"
	keyLegacyImages      = "%s:image_count"
)

// reads and writes one owner's usage record
type Store struct {
	kv        kv.Store
	namespace string
	limits    Limits
	now       func() time.Time
	location  *time.Location
	log       *slog.Logger
}

type StoreOption func(*Store)

// overrides the clock used to decide what "today" is
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// sets the time zone in which the calendar day rolls over
func WithLocation(loc *time.Location) StoreOption {
	return func(s *Store) {
		if loc != nil {
			s.location = loc
		}
	}
}

// creates a usage store under namespace
func NewStore(backend kv.Store, namespace string, limits Limits, opts ...StoreOption) *Store {
	s := &Store{
		kv:        backend,
		namespace: namespace,
		limits:    limits,
		now:       time.Now,
		location:  time.Local,
		log:       logger.Component("quota").With("namespace", namespace),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// returns the configured maximums
func (s *Store) Limits() Limits {
	return s.limits
}

// returns every key the record occupies (canonical + legacy)
func (s *Store) Keys() []string {
	return []string{
		fmt.Sprintf(keyUsage, s.namespace),
		fmt.Sprintf(keyLegacyDate, s.namespace),
		fmt.Sprintf(keyLegacyGenerations, s.namespace),
		fmt.Sprintf(keyLegacyImages, s.namespace),
	}
}

// returns the current calendar day
func (s *Store) Today() string {
	return s.now().In(s.location).Format(dateLayout)
}

// returns a zeroed record for today
func (s *Store) Empty() UsageState {
	return UsageState{Date: s.Today()}
}

// returns today's usage; storage failures are logged and read as zero usage.
// a record from an earlier day reads as zero but is not rewritten here.
func (s *Store) Read(ctx context.Context) UsageState {
	state, err := s.Load(ctx)
	if err != nil {
		s.log.Warn("usage record unavailable, assuming zero usage", "error", err)
		return s.Empty()
	}

	return state
}

// like Read but reports storage failures to the caller
func (s *Store) Load(ctx context.Context) (UsageState, error) {
	keys := s.Keys()

	raw, ok, err := s.kv.Get(ctx, keys[0])
	if err != nil {
		return s.Empty(), fmt.Errorf("%w: %v", apperrors.ErrStorageAccess, err)
	}

	if state, parsed := s.parseRecord(raw, ok); parsed {
		return s.Normalize(state), nil
	}

	// legacy keys are only read when the canonical record is unusable
	values := make(map[string]string, len(keys)-1)
	for _, key := range keys[1:] {
		v, ok, err := s.kv.Get(ctx, key)
		if err != nil {
			return s.Empty(), fmt.Errorf("%w: %v", apperrors.ErrStorageAccess, err)
		}
		if ok {
			values[key] = v
		}
	}

	return s.Normalize(s.legacyState(values)), nil
}

// persists state and mirrors it into the legacy keys
func (s *Store) Write(ctx context.Context, state UsageState) error {
	values, err := s.encode(state)
	if err != nil {
		return err
	}

	if err := s.kv.SetMany(ctx, values); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrStorageAccess, err)
	}

	return nil
}

// Update reads today's state, applies fn and writes the result without any
// other writer of the backend getting in between. fn reports whether there is
// anything to write and may run more than once. The stored state is returned.
func (s *Store) Update(ctx context.Context, fn func(UsageState) (UsageState, bool)) (UsageState, error) {
	var result UsageState

	err := s.kv.Update(ctx, s.Keys(), func(current map[string]string) (map[string]string, error) {
		state := s.decode(current)

		next, write := fn(state)
		if !write {
			result = state
			return nil, nil
		}

		next = s.sanitize(next)
		if next.Date == "" {
			next.Date = s.Today()
		}

		result = next
		return s.encode(next)
	})
	if err != nil {
		return s.Empty(), fmt.Errorf("%w: %v", apperrors.ErrStorageAccess, err)
	}

	return result, nil
}

// the canonical record plus its legacy mirror
func (s *Store) encode(state UsageState) (map[string]string, error) {
	state = s.sanitize(state)
	if state.Date == "" {
		state.Date = s.Today()
	}

	record, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal usage record: %w", err)
	}

	return map[string]string{
		fmt.Sprintf(keyUsage, s.namespace):             string(record),
		fmt.Sprintf(keyLegacyDate, s.namespace):        state.Date,
		fmt.Sprintf(keyLegacyGenerations, s.namespace): strconv.Itoa(state.Generations),
		fmt.Sprintf(keyLegacyImages, s.namespace):      strconv.Itoa(state.Images),
	}, nil
}

// today's state from raw values of every record key
func (s *Store) decode(values map[string]string) UsageState {
	raw, ok := values[fmt.Sprintf(keyUsage, s.namespace)]
	if state, parsed := s.parseRecord(raw, ok); parsed {
		return s.Normalize(state)
	}

	return s.Normalize(s.legacyState(values))
}

// removes the record entirely
func (s *Store) Clear(ctx context.Context) error {
	if err := s.kv.Delete(ctx, s.Keys()...); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrStorageAccess, err)
	}

	return nil
}

// resets a record from another day to zero and clamps counts
func (s *Store) Normalize(state UsageState) UsageState {
	if state.Date != s.Today() {
		return s.Empty()
	}

	return s.sanitize(state)
}

// counts arrive as floats so that non-finite and fractional values can be caught
type rawRecord struct {
	Date        string   `json:"date"`
	Generations *float64 `json:"generations"`
	Images      *float64 `json:"images"`
}

func (s *Store) parseRecord(raw string, ok bool) (UsageState, bool) {
	if !ok || strings.TrimSpace(raw) == "" {
		return UsageState{}, false
	}

	var rec rawRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		s.log.Warn("corrupt usage record, falling back to legacy keys", "error", err)
		return UsageState{}, false
	}

	if rec.Date == "" {
		return UsageState{}, false
	}

	return UsageState{
		Date:        rec.Date,
		Generations: clampCount(deref(rec.Generations), s.limits.Generations),
		Images:      clampCount(deref(rec.Images), s.limits.Images),
	}, true
}

func (s *Store) legacyState(values map[string]string) UsageState {
	date := values[fmt.Sprintf(keyLegacyDate, s.namespace)]
	if date == "" {
		return s.Empty()
	}

	return UsageState{
		Date:        date,
		Generations: legacyCount(values[fmt.Sprintf(keyLegacyGenerations, s.namespace)], s.limits.Generations),
		Images:      legacyCount(values[fmt.Sprintf(keyLegacyImages, s.namespace)], s.limits.Images),
	}
}

// unparsable legacy counts read as zero
func legacyCount(raw string, limit int) int {
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0
	}

	return clampCount(f, limit)
}

func (s *Store) sanitize(state UsageState) UsageState {
	state.Generations = clampCount(float64(state.Generations), s.limits.Generations)
	state.Images = clampCount(float64(state.Images), s.limits.Images)
	return state
}

// maps any value onto [0, limit]; NaN and infinities count as zero
func clampCount(v float64, limit int) int {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}

	if v > float64(limit) {
		return limit
	}

	return int(math.Floor(v))
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}

	return *f
}
