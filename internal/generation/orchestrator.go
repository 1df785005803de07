package generation

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	apperrors "codeberg.org/lessonforge/server/internal/errors"
	"codeberg.org/lessonforge/server/internal/images"
	"codeberg.org/lessonforge/server/internal/lesson"
	"codeberg.org/lessonforge/server/internal/llm"
	"codeberg.org/lessonforge/server/internal/logger"
	"codeberg.org/lessonforge/server/internal/quota"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

func New(generator llm.Generator, finder ImageFinder, config Config) *Orchestrator {
	if config.Deadline <= 0 {
		config.Deadline = defaultDeadline
	}
	if config.MaxSlides <= 0 {
		config.MaxSlides = defaultMaxSlides
	}
	if config.Temperature == 0 {
		config.Temperature = defaultTemperature
	}
	if config.AspectRatio == "" {
		config.AspectRatio = defaultAspectRatio
	}

	return &Orchestrator{
		generator: generator,
		images:    finder,
		config:    config,
		now:       time.Now,
		newID:     uuid.NewString,
		log:       logger.Component("generation"),
	}
}

func (o *Orchestrator) GenerateDeck(ctx context.Context, req DeckRequest) (*lesson.Presentation, error) {
	if strings.TrimSpace(req.Topic) == "" {
		return nil, fmt.Errorf("topic is required")
	}

	count := clampCount(req.SlideCount, defaultDeckSlides, o.config.MaxSlides)
	var deck *lesson.Presentation

	err := o.run(ctx, req.Quota, req.Trace, func(ctx context.Context, trace *Attempt) error {
		var raw rawDeck
		resp, err := o.structured(ctx, trace, buildDeckPrompt(req, count), deckSchema, &raw)
		if err != nil {
			return err
		}

		trace.enter(StatePostProcessing)

		slides := normalizeSlides(raw.Slides, count)
		if len(slides) == 0 {
			return fmt.Errorf("provider returned no slides")
		}

		title := strings.TrimSpace(raw.Title)
		if title == "" {
			title = req.Topic
		}

		o.fillImages(ctx, req.Quota, slides, req.ImageMode, req.Language, req.Exclude)

		deck = &lesson.Presentation{
			ID:        o.newID(),
			Title:     title,
			Topic:     req.Topic,
			Language:  req.Language,
			Slides:    slides,
			Sources:   resp.GroundingSources,
			Model:     resp.Model,
			CreatedAt: o.now(),
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return deck, nil
}

func (o *Orchestrator) GenerateBlueprint(ctx context.Context, req BlueprintRequest) (*lesson.LessonBlueprint, error) {
	if strings.TrimSpace(req.Topic) == "" {
		return nil, fmt.Errorf("topic is required")
	}

	days := clampCount(req.Days, defaultDays, maxDays)
	var bp *lesson.LessonBlueprint

	err := o.run(ctx, req.Quota, req.Trace, func(ctx context.Context, trace *Attempt) error {
		var raw rawBlueprint
		if _, err := o.structured(ctx, trace, buildBlueprintPrompt(req, days), blueprintSchema, &raw); err != nil {
			return err
		}

		trace.enter(StatePostProcessing)

		plans := normalizeDays(raw.Days, days)
		if len(plans) == 0 {
			return fmt.Errorf("provider returned no days")
		}

		bp = &lesson.LessonBlueprint{
			ID:         o.newID(),
			Topic:      req.Topic,
			GradeLevel: req.GradeLevel,
			Language:   req.Language,
			Days:       plans,
			CreatedAt:  o.now(),
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return bp, nil
}

// GenerateDay fills the slides of one blueprint day. The day moves to
// loading and ends done, or back to pending when generation fails. The
// caller must own bp for the duration of the call; concurrent generation of
// the same day is prevented by whoever hands out bp.
func (o *Orchestrator) GenerateDay(ctx context.Context, bp *lesson.LessonBlueprint, dayIndex int, opts DayOptions) (*lesson.DayPlan, error) {
	if bp == nil || dayIndex < 0 || dayIndex >= len(bp.Days) {
		return nil, fmt.Errorf("day %d: %w", dayIndex+1, apperrors.ErrNotFound)
	}

	day := &bp.Days[dayIndex]
	day.GenerationStatus = lesson.StatusLoading

	count := clampCount(opts.SlideCount, defaultDaySlides, o.config.MaxSlides)

	err := o.run(ctx, opts.Quota, opts.Trace, func(ctx context.Context, trace *Attempt) error {
		var raw rawDeck
		if _, err := o.structured(ctx, trace, buildDayPrompt(bp, *day, count), daySlidesSchema, &raw); err != nil {
			return err
		}

		trace.enter(StatePostProcessing)

		slides := normalizeSlides(raw.Slides, count)
		if len(slides) == 0 {
			return fmt.Errorf("provider returned no slides")
		}

		o.fillImages(ctx, opts.Quota, slides, opts.ImageMode, bp.Language, opts.Exclude)

		day.Slides = slides
		return nil
	})
	if err != nil {
		// a regenerated day keeps its earlier slides
		if len(day.Slides) > 0 {
			day.GenerationStatus = lesson.StatusDone
		} else {
			day.GenerationStatus = lesson.StatusPending
		}
		return nil, err
	}

	day.GenerationStatus = lesson.StatusDone
	out := *day
	return &out, nil
}

// run reserves one generation slot, calls fn under the deadline and commits,
// or releases the slot when fn fails.
func (o *Orchestrator) run(ctx context.Context, gate QuotaGate, trace *Attempt, fn func(ctx context.Context, trace *Attempt) error) (err error) {
	if gate == nil {
		return fmt.Errorf("no quota tracker for request")
	}
	if trace == nil {
		trace = NewAttempt()
	}

	trace.enter(StateReservingQuota)
	if !gate.TryIncrement(ctx, quota.KindGenerations) {
		trace.enter(StateBlocked)
		return fmt.Errorf("generation refused: %w", apperrors.ErrQuotaExceeded)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		// the request context may already be done; the release must still land
		gate.Decrement(context.WithoutCancel(ctx), quota.KindGenerations)
		trace.enter(StateRolledBack)
		o.log.Debug("generation rolled back", "error", err)
	}()

	ctx, cancel := context.WithTimeout(ctx, o.config.Deadline)
	defer cancel()

	if err = fn(ctx, trace); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("generation deadline of %s exceeded: %w", o.config.Deadline, err)
		}
		return err
	}

	committed = true
	trace.enter(StateCommitted)
	o.log.Info("generation committed", "model", trace.Model())

	return nil
}

// calls the structured collaborator and decodes its JSON into out
func (o *Orchestrator) structured(ctx context.Context, trace *Attempt, prompt string, schema *llm.Schema, out any) (*llm.StructuredResponse, error) {
	trace.enter(StateCallingProvider)

	resp, err := o.generator.GenerateStructured(ctx, llm.StructuredRequest{
		Prompt:       prompt,
		SystemPrompt: systemPrompt,
		Schema:       schema,
		Models:       o.config.TextModels,
		Temperature:  o.config.Temperature,
		OnRetry:      trace.retried,
	})
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(resp.JSON, out); err != nil {
		return nil, fmt.Errorf("failed to parse generated content: %w", err)
	}

	trace.setModel(resp.Model)
	return resp, nil
}

// fillImages runs the image batch. The budget is the remaining image quota
// at batch start and is handed out to slides in order; slides past it are
// marked limit_reached. Admitted slides fetch their images concurrently and
// only successful images are counted against the quota.
func (o *Orchestrator) fillImages(ctx context.Context, gate QuotaGate, slides []lesson.Slide, mode lesson.ImageMode, language string, exclude func(string) bool) {
	if mode == "" {
		mode = lesson.ImageModeSearch
	}
	if mode == lesson.ImageModeNone {
		return
	}

	budget := gate.Remaining(ctx, quota.KindImages)

	var admitted []int
	for i := range slides {
		if !slides[i].NeedsImage() {
			continue
		}

		if len(admitted) >= budget {
			slides[i].ImageStatus = lesson.ImageLimitReached
			continue
		}
		admitted = append(admitted, i)
	}

	if len(admitted) == 0 {
		return
	}

	// sources claimed by this batch; a candidate is claimed when first
	// considered so two slides never end up with the same picture
	var mu sync.Mutex
	used := make(map[string]struct{})
	skip := func(src string) bool {
		key := images.NormalizeURL(src)

		mu.Lock()
		defer mu.Unlock()

		if _, ok := used[key]; ok {
			return true
		}
		if exclude != nil && exclude(src) {
			return true
		}
		used[key] = struct{}{}
		return false
	}

	var g errgroup.Group
	g.SetLimit(maxConcurrentImages)

	for _, i := range admitted {
		slide := &slides[i]

		g.Go(func() error {
			var err error
			switch mode {
			case lesson.ImageModeGenerate:
				err = o.generateImage(ctx, slide)
			default:
				err = o.findImage(ctx, slide, language, skip)
			}

			if err != nil {
				if errors.Is(err, apperrors.ErrContentBlocked) {
					slide.ImageStatus = lesson.ImageBlocked
				} else {
					slide.ImageStatus = lesson.ImageFailed
				}
				o.log.Warn("slide image failed", "slide", i, "mode", mode, "error", err)
				return nil
			}

			slide.ImageStatus = lesson.ImageDone
			gate.Increment(ctx, quota.KindImages)
			return nil
		})
	}

	_ = g.Wait() //nolint:errcheck // every image failure is recorded on its slide
}

func (o *Orchestrator) findImage(ctx context.Context, slide *lesson.Slide, language string, exclude func(string) bool) error {
	if o.images == nil {
		return fmt.Errorf("image search is not configured")
	}

	img, err := o.images.Find(ctx, slide.ImagePrompt, language, exclude)
	if err != nil {
		return err
	}

	slide.ImageURL = img.Src()
	slide.ImageSource = img.SourceURL
	return nil
}

func (o *Orchestrator) generateImage(ctx context.Context, slide *lesson.Slide) error {
	resp, err := o.generator.GenerateImage(ctx, llm.ImageRequest{
		Prompt:      slide.ImagePrompt,
		Style:       slide.ImageStyle,
		AspectRatio: o.config.AspectRatio,
		Models:      o.config.ImageModels,
	})
	if err != nil {
		return err
	}

	if len(resp.Data) == 0 {
		if resp.BlockReason != "" {
			return fmt.Errorf("%w: %s", apperrors.ErrContentBlocked, resp.BlockReason)
		}
		return fmt.Errorf("no image returned")
	}

	mimeType := resp.MIMEType
	if mimeType == "" {
		mimeType = "image/png"
	}

	slide.ImageURL = "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(resp.Data)
	return nil
}
