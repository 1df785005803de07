package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	apperrors "codeberg.org/lessonforge/server/internal/errors"
	"codeberg.org/lessonforge/server/internal/images"
	"codeberg.org/lessonforge/server/internal/kv"
	"codeberg.org/lessonforge/server/internal/lesson"
	"codeberg.org/lessonforge/server/internal/llm"
	"codeberg.org/lessonforge/server/internal/quota"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// implements llm.Generator for testing
type mockGenerator struct {
	mu             sync.Mutex
	structuredFunc func(ctx context.Context, req llm.StructuredRequest) (*llm.StructuredResponse, error)
	imageFunc      func(ctx context.Context, req llm.ImageRequest) (*llm.ImageResponse, error)
	structuredCall int
	imageCalls     int
}

func (m *mockGenerator) GenerateStructured(ctx context.Context, req llm.StructuredRequest) (*llm.StructuredResponse, error) {
	m.mu.Lock()
	m.structuredCall++
	m.mu.Unlock()

	if m.structuredFunc != nil {
		return m.structuredFunc(ctx, req)
	}

	return deckResponse(3, true), nil
}

func (m *mockGenerator) GenerateImage(ctx context.Context, req llm.ImageRequest) (*llm.ImageResponse, error) {
	m.mu.Lock()
	m.imageCalls++
	m.mu.Unlock()

	if m.imageFunc != nil {
		return m.imageFunc(ctx, req)
	}

	return &llm.ImageResponse{Data: []byte("png"), MIMEType: "image/png", Model: "img"}, nil
}

// implements ImageFinder for testing
type mockFinder struct {
	mu       sync.Mutex
	findFunc func(ctx context.Context, prompt, language string, exclude func(string) bool) (*images.ResolvedImage, error)
	prompts  []string
}

func (m *mockFinder) Find(ctx context.Context, prompt, language string, exclude func(string) bool) (*images.ResolvedImage, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()

	if m.findFunc != nil {
		return m.findFunc(ctx, prompt, language, exclude)
	}

	src := "https://upload.wikimedia.org/" + strings.ReplaceAll(prompt, " ", "_") + ".jpg"
	return &images.ResolvedImage{SourceURL: src, ProxyURL: "/image-proxy?u=" + src}, nil
}

func deckResponse(slides int, withImages bool) *llm.StructuredResponse {
	deck := rawDeck{Title: "Volcanoes"}
	for i := 1; i <= slides; i++ {
		s := rawSlide{
			Title:   fmt.Sprintf("Slide %d", i),
			Content: []string{"• magma rises\n• pressure builds", "- eruption"},
		}
		if withImages {
			s.ImagePrompt = fmt.Sprintf("volcano photo %d", i)
		}
		deck.Slides = append(deck.Slides, s)
	}

	raw, _ := json.Marshal(deck)
	return &llm.StructuredResponse{JSON: raw, Model: "gemini-test", GroundingSources: []string{"https://example.org/volcano"}}
}

func newTestTracker(t *testing.T, limits quota.Limits) *quota.Tracker {
	t.Helper()
	store := quota.NewStore(kv.NewMemoryStore(), "lessonforge:test", limits)
	return quota.NewTracker(context.Background(), store)
}

func newTestOrchestrator(gen llm.Generator, finder ImageFinder) *Orchestrator {
	o := New(gen, finder, Config{TextModels: []string{"gemini-test"}, ImageModels: []string{"img"}})
	o.newID = func() string { return "fixed-id" }
	o.now = func() time.Time { return time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC) }
	return o
}

func TestGenerateDeck_Commits(t *testing.T) {
	ctx := context.Background()
	tracker := newTestTracker(t, quota.Limits{Generations: 5, Images: 20})
	trace := NewAttempt()

	deck, err := newTestOrchestrator(&mockGenerator{}, &mockFinder{}).GenerateDeck(ctx, DeckRequest{
		Topic:     "volcanoes",
		Language:  "en",
		ImageMode: lesson.ImageModeSearch,
		Quota:     tracker,
		Trace:     trace,
	})
	require.NoError(t, err)

	assert.Equal(t, "fixed-id", deck.ID)
	assert.Equal(t, "Volcanoes", deck.Title)
	assert.Equal(t, "gemini-test", deck.Model)
	assert.Equal(t, []string{"https://example.org/volcano"}, deck.Sources)
	require.Len(t, deck.Slides, 3)

	// bullets split and stripped
	assert.Equal(t, []string{"magma rises", "pressure builds", "eruption"}, deck.Slides[0].Content)
	assert.Equal(t, "magma rises pressure builds eruption", deck.Slides[0].SpeakerNotes)

	for _, s := range deck.Slides {
		assert.Equal(t, lesson.ImageDone, s.ImageStatus)
		assert.True(t, strings.HasPrefix(s.ImageURL, "/image-proxy?u="))
	}

	usage := tracker.Refresh(ctx)
	assert.Equal(t, 1, usage.Generations)
	assert.Equal(t, 3, usage.Images)

	assert.Equal(t, []State{StateIdle, StateReservingQuota, StateCallingProvider, StatePostProcessing, StateCommitted}, trace.States())
	assert.Equal(t, "gemini-test", trace.Model())
}

func TestGenerateDeck_QuotaExceededMakesNoProviderCall(t *testing.T) {
	ctx := context.Background()
	tracker := newTestTracker(t, quota.Limits{Generations: 1, Images: 20})
	require.True(t, tracker.TryIncrement(ctx, quota.KindGenerations))

	gen := &mockGenerator{}
	trace := NewAttempt()

	deck, err := newTestOrchestrator(gen, &mockFinder{}).GenerateDeck(ctx, DeckRequest{Topic: "volcanoes", Quota: tracker, Trace: trace})

	assert.Nil(t, deck)
	assert.ErrorIs(t, err, apperrors.ErrQuotaExceeded)
	assert.Equal(t, 0, gen.structuredCall)
	assert.Equal(t, StateBlocked, trace.Final())
	assert.Equal(t, 1, tracker.Refresh(ctx).Generations)
}

func TestGenerateDeck_RollsBackOnProviderFailure(t *testing.T) {
	ctx := context.Background()
	tracker := newTestTracker(t, quota.Limits{Generations: 5, Images: 20})
	trace := NewAttempt()

	gen := &mockGenerator{
		structuredFunc: func(context.Context, llm.StructuredRequest) (*llm.StructuredResponse, error) {
			return nil, &apperrors.ProviderError{Provider: "gemini", Status: 401, Terminal: true, Err: errors.New("invalid api key")}
		},
	}

	_, err := newTestOrchestrator(gen, &mockFinder{}).GenerateDeck(ctx, DeckRequest{Topic: "volcanoes", Quota: tracker, Trace: trace})

	assert.True(t, apperrors.IsTerminal(err))
	assert.Equal(t, 0, tracker.Refresh(ctx).Generations)
	assert.Equal(t, StateRolledBack, trace.Final())
}

func TestGenerateDeck_RollsBackOnUnusableOutput(t *testing.T) {
	ctx := context.Background()
	tracker := newTestTracker(t, quota.Limits{Generations: 5, Images: 20})

	gen := &mockGenerator{
		structuredFunc: func(context.Context, llm.StructuredRequest) (*llm.StructuredResponse, error) {
			return &llm.StructuredResponse{JSON: []byte(`{"title":"x","slides":[]}`)}, nil
		},
	}

	_, err := newTestOrchestrator(gen, &mockFinder{}).GenerateDeck(ctx, DeckRequest{Topic: "volcanoes", Quota: tracker})

	assert.Error(t, err)
	assert.Equal(t, 0, tracker.Refresh(ctx).Generations)
}

func TestGenerateDeck_RecordsRetries(t *testing.T) {
	trace := NewAttempt()

	gen := &mockGenerator{
		structuredFunc: func(_ context.Context, req llm.StructuredRequest) (*llm.StructuredResponse, error) {
			req.OnRetry(llm.RetryEvent{Model: "gemini-test", Attempt: 1, Delay: time.Second})
			return deckResponse(1, false), nil
		},
	}

	_, err := newTestOrchestrator(gen, nil).GenerateDeck(context.Background(), DeckRequest{
		Topic: "volcanoes",
		Quota: newTestTracker(t, quota.DefaultLimits()),
		Trace: trace,
	})
	require.NoError(t, err)

	assert.Len(t, trace.Retries(), 1)
	assert.Contains(t, trace.States(), StateRetrying)
	assert.Equal(t, StateCommitted, trace.Final())
}

func TestGenerateDeck_DeadlineRollsBack(t *testing.T) {
	ctx := context.Background()
	tracker := newTestTracker(t, quota.Limits{Generations: 5, Images: 20})

	gen := &mockGenerator{
		structuredFunc: func(ctx context.Context, _ llm.StructuredRequest) (*llm.StructuredResponse, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}

	o := newTestOrchestrator(gen, nil)
	o.config.Deadline = 20 * time.Millisecond

	_, err := o.GenerateDeck(ctx, DeckRequest{Topic: "volcanoes", Quota: tracker})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, tracker.Refresh(ctx).Generations)
}

func TestGenerateDeck_ImageBudgetFromBatchStart(t *testing.T) {
	ctx := context.Background()
	tracker := newTestTracker(t, quota.Limits{Generations: 5, Images: 2})

	gen := &mockGenerator{
		structuredFunc: func(context.Context, llm.StructuredRequest) (*llm.StructuredResponse, error) {
			return deckResponse(4, true), nil
		},
	}
	finder := &mockFinder{}

	deck, err := newTestOrchestrator(gen, finder).GenerateDeck(ctx, DeckRequest{Topic: "volcanoes", Quota: tracker})
	require.NoError(t, err)

	var statuses []lesson.ImageStatus
	for _, s := range deck.Slides {
		statuses = append(statuses, s.ImageStatus)
	}

	assert.Equal(t, []lesson.ImageStatus{lesson.ImageDone, lesson.ImageDone, lesson.ImageLimitReached, lesson.ImageLimitReached}, statuses)
	assert.ElementsMatch(t, []string{"volcano photo 1", "volcano photo 2"}, finder.prompts)
	assert.Equal(t, 2, tracker.Refresh(ctx).Images)
}

func TestGenerateDeck_FailedImagesSpendBudgetButNotQuota(t *testing.T) {
	ctx := context.Background()
	tracker := newTestTracker(t, quota.Limits{Generations: 5, Images: 2})

	finder := &mockFinder{
		findFunc: func(_ context.Context, prompt, _ string, _ func(string) bool) (*images.ResolvedImage, error) {
			if prompt == "volcano photo 1" {
				return nil, fmt.Errorf("nothing usable: %w", apperrors.ErrAssetResolution)
			}
			return &images.ResolvedImage{SourceURL: "https://x/" + prompt, EmbeddedData: "data:image/png;base64,AA=="}, nil
		},
	}
	gen := &mockGenerator{
		structuredFunc: func(context.Context, llm.StructuredRequest) (*llm.StructuredResponse, error) {
			return deckResponse(3, true), nil
		},
	}

	deck, err := newTestOrchestrator(gen, finder).GenerateDeck(ctx, DeckRequest{Topic: "volcanoes", Quota: tracker})
	require.NoError(t, err)

	assert.Equal(t, lesson.ImageFailed, deck.Slides[0].ImageStatus)
	assert.Equal(t, lesson.ImageDone, deck.Slides[1].ImageStatus)
	assert.Equal(t, "data:image/png;base64,AA==", deck.Slides[1].ImageURL)
	assert.Equal(t, lesson.ImageLimitReached, deck.Slides[2].ImageStatus)

	usage := tracker.Refresh(ctx)
	assert.Equal(t, 1, usage.Images)
	assert.Equal(t, 1, usage.Generations)
}

func TestGenerateDeck_GeneratedImages(t *testing.T) {
	ctx := context.Background()
	tracker := newTestTracker(t, quota.Limits{Generations: 5, Images: 20})

	gen := &mockGenerator{
		structuredFunc: func(context.Context, llm.StructuredRequest) (*llm.StructuredResponse, error) {
			return deckResponse(3, true), nil
		},
		imageFunc: func(_ context.Context, req llm.ImageRequest) (*llm.ImageResponse, error) {
			switch req.Prompt {
			case "volcano photo 2":
				return &llm.ImageResponse{BlockReason: "SAFETY"}, fmt.Errorf("%w: SAFETY", apperrors.ErrContentBlocked)
			case "volcano photo 3":
				return &llm.ImageResponse{Text: "I can't draw that"}, errors.New("all 1 models failed")
			}
			assert.Equal(t, "16:9", req.AspectRatio)
			assert.Equal(t, []string{"img"}, req.Models)
			return &llm.ImageResponse{Data: []byte{1, 2, 3}, MIMEType: "image/jpeg"}, nil
		},
	}

	deck, err := newTestOrchestrator(gen, nil).GenerateDeck(ctx, DeckRequest{
		Topic:     "volcanoes",
		ImageMode: lesson.ImageModeGenerate,
		Quota:     tracker,
	})
	require.NoError(t, err)

	assert.Equal(t, lesson.ImageDone, deck.Slides[0].ImageStatus)
	assert.Equal(t, "data:image/jpeg;base64,AQID", deck.Slides[0].ImageURL)
	assert.Equal(t, lesson.ImageBlocked, deck.Slides[1].ImageStatus)
	assert.Equal(t, lesson.ImageFailed, deck.Slides[2].ImageStatus)
	assert.Equal(t, 1, tracker.Refresh(ctx).Images)
}

func TestGenerateDeck_NoImages(t *testing.T) {
	ctx := context.Background()
	tracker := newTestTracker(t, quota.Limits{Generations: 5, Images: 20})
	finder := &mockFinder{}

	deck, err := newTestOrchestrator(&mockGenerator{}, finder).GenerateDeck(ctx, DeckRequest{
		Topic:     "volcanoes",
		ImageMode: lesson.ImageModeNone,
		Quota:     tracker,
	})
	require.NoError(t, err)

	assert.Empty(t, finder.prompts)
	assert.Equal(t, lesson.ImageNone, deck.Slides[0].ImageStatus)
	assert.Equal(t, 0, tracker.Refresh(ctx).Images)
}

func TestGenerateDeck_ExcludesUsedImages(t *testing.T) {
	tracker := newTestTracker(t, quota.Limits{Generations: 5, Images: 20})
	seen := map[string]bool{"https://already/used.jpg": true}

	var mu sync.Mutex
	var usedExcluded, pickFree int
	finder := &mockFinder{
		findFunc: func(_ context.Context, prompt string, _ string, exclude func(string) bool) (*images.ResolvedImage, error) {
			skipUsed := exclude("https://already/used.jpg")
			free := !exclude("https://same/pick.jpg")

			mu.Lock()
			if skipUsed {
				usedExcluded++
			}
			if free {
				pickFree++
			}
			mu.Unlock()

			src := "https://same/pick.jpg"
			if !free {
				src = "https://other/" + strings.ReplaceAll(prompt, " ", "_") + ".jpg"
			}
			return &images.ResolvedImage{SourceURL: src, ProxyURL: "/image-proxy?u=" + src}, nil
		},
	}
	gen := &mockGenerator{
		structuredFunc: func(context.Context, llm.StructuredRequest) (*llm.StructuredResponse, error) {
			return deckResponse(2, true), nil
		},
	}

	deck, err := newTestOrchestrator(gen, finder).GenerateDeck(context.Background(), DeckRequest{
		Topic:   "volcanoes",
		Quota:   tracker,
		Exclude: func(src string) bool { return seen[src] },
	})
	require.NoError(t, err)

	// caller history is honored and a shared pick goes to one slide only
	assert.Equal(t, 2, usedExcluded)
	assert.Equal(t, 1, pickFree)
	assert.NotEqual(t, deck.Slides[0].ImageSource, deck.Slides[1].ImageSource)
}

func TestGenerateDeck_ImagesFetchedConcurrently(t *testing.T) {
	ctx := context.Background()
	tracker := newTestTracker(t, quota.Limits{Generations: 5, Images: 20})

	const delay = 200 * time.Millisecond
	finder := &mockFinder{
		findFunc: func(ctx context.Context, prompt, _ string, _ func(string) bool) (*images.ResolvedImage, error) {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			src := "https://upload.wikimedia.org/" + strings.ReplaceAll(prompt, " ", "_") + ".jpg"
			return &images.ResolvedImage{SourceURL: src, ProxyURL: "/image-proxy?u=" + src}, nil
		},
	}
	gen := &mockGenerator{
		structuredFunc: func(context.Context, llm.StructuredRequest) (*llm.StructuredResponse, error) {
			return deckResponse(6, true), nil
		},
	}

	start := time.Now()
	deck, err := newTestOrchestrator(gen, finder).GenerateDeck(ctx, DeckRequest{
		Topic:      "volcanoes",
		SlideCount: 6,
		Quota:      tracker,
	})
	elapsed := time.Since(start)
	require.NoError(t, err)

	for _, s := range deck.Slides {
		assert.Equal(t, lesson.ImageDone, s.ImageStatus)
	}
	assert.Equal(t, 6, tracker.Refresh(ctx).Images)

	// one image's worth of waiting, not six
	assert.Less(t, elapsed, 3*delay)
}

func TestGenerateDeck_RequiresTopic(t *testing.T) {
	gen := &mockGenerator{}
	_, err := newTestOrchestrator(gen, nil).GenerateDeck(context.Background(), DeckRequest{Quota: newTestTracker(t, quota.DefaultLimits())})

	assert.Error(t, err)
	assert.Equal(t, 0, gen.structuredCall)
}

func blueprintResponse() *llm.StructuredResponse {
	raw, _ := json.Marshal(rawBlueprint{Days: []rawDay{
		{Day: 1, Title: "What is a volcano", Focus: "structure", Objectives: []string{"name the parts"}},
		{Day: 1, Title: "Eruptions", Focus: "types", Objectives: []string{"1. compare eruption types"}},
		{Title: " "},
	}})
	return &llm.StructuredResponse{JSON: raw, Model: "gemini-test"}
}

func TestGenerateBlueprint(t *testing.T) {
	ctx := context.Background()
	tracker := newTestTracker(t, quota.Limits{Generations: 5, Images: 20})

	var prompt string
	gen := &mockGenerator{
		structuredFunc: func(_ context.Context, req llm.StructuredRequest) (*llm.StructuredResponse, error) {
			prompt = req.Prompt
			return blueprintResponse(), nil
		},
	}

	bp, err := newTestOrchestrator(gen, nil).GenerateBlueprint(ctx, BlueprintRequest{
		Topic:      "volcanoes",
		GradeLevel: "grade 6",
		Language:   "es",
		Days:       2,
		Quota:      tracker,
	})
	require.NoError(t, err)

	require.Len(t, bp.Days, 2)
	assert.Equal(t, 1, bp.Days[0].Day)
	assert.Equal(t, 2, bp.Days[1].Day)
	assert.Equal(t, []string{"compare eruption types"}, bp.Days[1].Objectives)
	assert.Equal(t, lesson.StatusPending, bp.Days[0].GenerationStatus)
	assert.Contains(t, prompt, "2 days")
	assert.Contains(t, prompt, `"es"`)
	assert.Equal(t, 1, tracker.Refresh(ctx).Generations)
}

func TestGenerateDay(t *testing.T) {
	ctx := context.Background()
	tracker := newTestTracker(t, quota.Limits{Generations: 5, Images: 20})

	bp := &lesson.LessonBlueprint{
		Topic: "volcanoes",
		Days: []lesson.DayPlan{
			{Day: 1, Title: "Structure", GenerationStatus: lesson.StatusPending},
			{Day: 2, Title: "Eruptions", GenerationStatus: lesson.StatusPending},
		},
	}

	var prompt string
	gen := &mockGenerator{
		structuredFunc: func(_ context.Context, req llm.StructuredRequest) (*llm.StructuredResponse, error) {
			prompt = req.Prompt
			return deckResponse(2, false), nil
		},
	}

	day, err := newTestOrchestrator(gen, nil).GenerateDay(ctx, bp, 1, DayOptions{Quota: tracker, ImageMode: lesson.ImageModeNone})
	require.NoError(t, err)

	assert.Equal(t, lesson.StatusDone, day.GenerationStatus)
	assert.Len(t, day.Slides, 2)
	assert.Equal(t, lesson.StatusDone, bp.Days[1].GenerationStatus)
	assert.Equal(t, lesson.StatusPending, bp.Days[0].GenerationStatus)
	assert.Contains(t, prompt, "day 1: Structure")
}

func TestGenerateDay_FailureRevertsToPending(t *testing.T) {
	ctx := context.Background()
	tracker := newTestTracker(t, quota.Limits{Generations: 5, Images: 20})

	bp := &lesson.LessonBlueprint{Topic: "volcanoes", Days: []lesson.DayPlan{{Day: 1, Title: "Structure", GenerationStatus: lesson.StatusPending}}}

	var during lesson.GenerationStatus
	gen := &mockGenerator{
		structuredFunc: func(context.Context, llm.StructuredRequest) (*llm.StructuredResponse, error) {
			during = bp.Days[0].GenerationStatus
			return nil, errors.New("model exploded")
		},
	}

	_, err := newTestOrchestrator(gen, nil).GenerateDay(ctx, bp, 0, DayOptions{Quota: tracker})

	assert.Error(t, err)
	assert.Equal(t, lesson.StatusLoading, during)
	assert.Equal(t, lesson.StatusPending, bp.Days[0].GenerationStatus)
	assert.Equal(t, 0, tracker.Refresh(ctx).Generations)
}

func TestGenerateDay_UnknownDay(t *testing.T) {
	_, err := newTestOrchestrator(&mockGenerator{}, nil).GenerateDay(context.Background(), &lesson.LessonBlueprint{}, 3, DayOptions{})

	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
