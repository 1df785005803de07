package generation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"codeberg.org/lessonforge/server/internal/images"
	"codeberg.org/lessonforge/server/internal/lesson"
	"codeberg.org/lessonforge/server/internal/llm"
	"codeberg.org/lessonforge/server/internal/quota"
)

const (
	defaultDeadline    = 120 * time.Second
	defaultMaxSlides   = 12
	defaultDeckSlides  = 8
	defaultDaySlides   = 6
	defaultDays        = 5
	maxDays            = 10
	defaultTemperature = 0.4
	defaultAspectRatio = "16:9"

	maxConcurrentImages = defaultMaxSlides
)

// the slice of the quota tracker a generation needs
type QuotaGate interface {
	TryIncrement(ctx context.Context, kind quota.Kind) bool
	Increment(ctx context.Context, kind quota.Kind)
	Decrement(ctx context.Context, kind quota.Kind)
	Remaining(ctx context.Context, kind quota.Kind) int
}

// finds a displayable image for a slide prompt
type ImageFinder interface {
	Find(ctx context.Context, prompt, language string, exclude func(sourceURL string) bool) (*images.ResolvedImage, error)
}

type Config struct {
	TextModels  []string // primary first
	ImageModels []string
	Deadline    time.Duration
	MaxSlides   int
	Temperature float32
	AspectRatio string
}

// drives one generation request from quota reservation to commit or rollback
type Orchestrator struct {
	generator llm.Generator
	images    ImageFinder
	config    Config
	now       func() time.Time
	newID     func() string
	log       *slog.Logger
}

type DeckRequest struct {
	Topic        string
	GradeLevel   string
	Language     string
	Instructions string
	SlideCount   int
	ImageMode    lesson.ImageMode

	Quota   QuotaGate
	Exclude func(sourceURL string) bool // skips images already used by the caller
	Trace   *Attempt                    // optional
}

type BlueprintRequest struct {
	Topic        string
	GradeLevel   string
	Language     string
	Instructions string
	Days         int

	Quota QuotaGate
	Trace *Attempt
}

type DayOptions struct {
	SlideCount int
	ImageMode  lesson.ImageMode

	Quota   QuotaGate
	Exclude func(sourceURL string) bool
	Trace   *Attempt
}

// State is a step of the per-request generation state machine.
type State string

const (
	StateIdle            State = "idle"
	StateReservingQuota  State = "reserving-quota"
	StateCallingProvider State = "calling-provider"
	StateRetrying        State = "retrying"
	StatePostProcessing  State = "post-processing"
	StateCommitted       State = "committed"
	StateRolledBack      State = "rolled-back"
	StateBlocked         State = "blocked"
)

// Attempt records the states a request passed through and the retries it made.
type Attempt struct {
	mu      sync.Mutex
	states  []State
	retries []llm.RetryEvent
	model   string
}

func NewAttempt() *Attempt {
	return &Attempt{states: []State{StateIdle}}
}

func (a *Attempt) enter(s State) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.states = append(a.states, s)
}

func (a *Attempt) retried(e llm.RetryEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.retries = append(a.retries, e)
	a.states = append(a.states, StateRetrying)
}

func (a *Attempt) setModel(m string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.model = m
}

func (a *Attempt) States() []State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]State(nil), a.states...)
}

func (a *Attempt) Retries() []llm.RetryEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]llm.RetryEvent(nil), a.retries...)
}

// the state the request ended in
func (a *Attempt) Final() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.states) == 0 {
		return StateIdle
	}
	return a.states[len(a.states)-1]
}

// the model that produced the committed output
func (a *Attempt) Model() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.model
}
