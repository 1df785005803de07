package sessions

import (
	"strings"
	"sync"
	"time"

	"codeberg.org/lessonforge/server/internal/lesson"
	"github.com/patrickmn/go-cache"
)

const (
	presentationPrefix = "presentation:"
	blueprintPrefix    = "blueprint:"
	seenPrefix         = "seen:"
)

// manages generated presentations and blueprints in memory; records expire
// after ttl without access
type Manager struct {
	records *cache.Cache
	mu      sync.Mutex // serializes read-modify-write of records
	ttl     time.Duration
}

// returns a new session manager; expired records are swept every ttl/2
func NewManager(ttl time.Duration) *Manager {
	return &Manager{
		records: cache.New(ttl, ttl/2),
		ttl:     ttl,
	}
}

// partial update of one slide; nil fields are left alone
type SlideEdit struct {
	Title        *string          `json:"title,omitempty"`
	Content      []string         `json:"content,omitempty"`
	SpeakerNotes *string          `json:"speaker_notes,omitempty"`
	Overlays     []lesson.Overlay `json:"overlays,omitempty"`
	ImageURL     *string          `json:"image_url,omitempty"` // replacement image; empty clears it
	ImageSource  string           `json:"-"`                   // set by the server for found images
}

func (e SlideEdit) apply(s *lesson.Slide) {
	if e.Title != nil {
		s.Title = strings.TrimSpace(*e.Title)
	}
	if e.Content != nil {
		s.Content = append([]string(nil), e.Content...)
	}
	if e.SpeakerNotes != nil {
		s.SpeakerNotes = *e.SpeakerNotes
	}
	if e.Overlays != nil {
		s.Overlays = append([]lesson.Overlay(nil), e.Overlays...)
	}
	if e.ImageURL != nil {
		s.ImageURL = *e.ImageURL
		s.ImageSource = e.ImageSource
		s.ImageStatus = lesson.ImageNone
		if s.ImageURL != "" {
			s.ImageStatus = lesson.ImageDone
		}
	}
}

// stores a copy of p
func (m *Manager) SavePresentation(p *lesson.Presentation) {
	m.records.SetDefault(presentationPrefix+p.ID, p.Clone())
}

// retrieves a copy of the presentation
func (m *Manager) GetPresentation(id string) (*lesson.Presentation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.presentation(id)
	if err != nil {
		return nil, err
	}

	return p.Clone(), nil
}

// removes a presentation and its image history
func (m *Manager) DeletePresentation(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records.Delete(presentationPrefix + id)
	m.records.Delete(seenPrefix + id)
}

// applies edit to the slide at index and returns the updated slide
func (m *Manager) UpdateSlide(id string, index int, edit SlideEdit) (*lesson.Slide, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.presentation(id)
	if err != nil {
		return nil, err
	}

	if index < 0 || index >= len(p.Slides) {
		return nil, ErrSlideNotFound
	}

	edit.apply(&p.Slides[index])
	m.records.SetDefault(presentationPrefix+id, p)

	out := p.Slides[index].Clone()
	return &out, nil
}

func (m *Manager) presentation(id string) (*lesson.Presentation, error) {
	x, found := m.records.Get(presentationPrefix + id)
	if !found {
		return nil, ErrPresentationNotFound
	}
	return x.(*lesson.Presentation), nil
}

// stores a copy of bp
func (m *Manager) SaveBlueprint(bp *lesson.LessonBlueprint) {
	m.records.SetDefault(blueprintPrefix+bp.ID, bp.Clone())
}

func (m *Manager) GetBlueprint(id string) (*lesson.LessonBlueprint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bp, err := m.blueprint(id)
	if err != nil {
		return nil, err
	}

	return bp.Clone(), nil
}

func (m *Manager) DeleteBlueprint(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records.Delete(blueprintPrefix + id)
	m.records.Delete(seenPrefix + id)
}

// ClaimDay marks day n of the blueprint as loading and returns a private copy
// of the blueprint together with the day's index. A day that is already
// loading cannot be claimed again until FinishDay is called.
func (m *Manager) ClaimDay(id string, n int) (*lesson.LessonBlueprint, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bp, err := m.blueprint(id)
	if err != nil {
		return nil, -1, err
	}

	idx := bp.DayIndex(n)
	if idx < 0 {
		return nil, -1, ErrDayNotFound
	}

	if bp.Days[idx].GenerationStatus == lesson.StatusLoading {
		return nil, -1, ErrDayBusy
	}

	bp.Days[idx].GenerationStatus = lesson.StatusLoading
	m.records.SetDefault(blueprintPrefix+id, bp)

	return bp.Clone(), idx, nil
}

// stores the outcome of a claimed day; a failed generation passes the day
// with its reverted status
func (m *Manager) FinishDay(id string, idx int, day lesson.DayPlan) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bp, err := m.blueprint(id)
	if err != nil {
		return err
	}

	if idx < 0 || idx >= len(bp.Days) {
		return ErrDayNotFound
	}

	bp.Days[idx] = day.Clone()
	m.records.SetDefault(blueprintPrefix+id, bp)

	return nil
}

func (m *Manager) blueprint(id string) (*lesson.LessonBlueprint, error) {
	x, found := m.records.Get(blueprintPrefix + id)
	if !found {
		return nil, ErrBlueprintNotFound
	}
	return x.(*lesson.LessonBlueprint), nil
}

// returns the image history of a presentation or blueprint, creating it on first use
func (m *Manager) SeenImages(ownerID string) *SeenImages {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := seenPrefix + ownerID
	if x, found := m.records.Get(key); found {
		seen := x.(*SeenImages)
		m.records.SetDefault(key, seen)
		return seen
	}

	seen := NewSeenImages()
	m.records.SetDefault(key, seen)
	return seen
}

// returns the number of live records
func (m *Manager) Count() int {
	return m.records.ItemCount()
}
