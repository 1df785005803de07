package lesson

import "time"

// outcome of the image step for one slide
type ImageStatus string

const (
	ImageNone         ImageStatus = ""
	ImageDone         ImageStatus = "done"
	ImageFailed       ImageStatus = "failed"
	ImageBlocked      ImageStatus = "blocked"
	ImageLimitReached ImageStatus = "limit_reached"
)

// progress of a day's slide generation
type GenerationStatus string

const (
	StatusPending GenerationStatus = "pending"
	StatusLoading GenerationStatus = "loading"
	StatusDone    GenerationStatus = "done"
)

// how slide images are produced
type ImageMode string

const (
	ImageModeSearch   ImageMode = "search"
	ImageModeGenerate ImageMode = "generate"
	ImageModeNone     ImageMode = "none"
)

func (m ImageMode) Valid() bool {
	switch m {
	case ImageModeSearch, ImageModeGenerate, ImageModeNone:
		return true
	}
	return false
}

// manually placed label on top of a slide image, coordinates in percent
type Overlay struct {
	Label string  `json:"label"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
}

type Slide struct {
	Title        string      `json:"title"`
	Content      []string    `json:"content"`
	ImagePrompt  string      `json:"image_prompt,omitempty"`
	ImageStyle   string      `json:"image_style,omitempty"`
	ImageURL     string      `json:"image_url,omitempty"`
	ImageSource  string      `json:"image_source,omitempty"` // original location of a found image
	ImageStatus  ImageStatus `json:"image_status,omitempty"`
	SpeakerNotes string      `json:"speaker_notes,omitempty"`
	Overlays     []Overlay   `json:"overlays,omitempty"`
	Sources      []string    `json:"sources,omitempty"`
}

// reports whether the slide asks for an image that has not been produced yet
func (s Slide) NeedsImage() bool {
	return s.ImagePrompt != "" && s.ImageURL == ""
}

type Presentation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Topic     string    `json:"topic"`
	Language  string    `json:"language"`
	Slides    []Slide   `json:"slides"`
	Sources   []string  `json:"sources,omitempty"`
	Model     string    `json:"model,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type DayPlan struct {
	Day              int              `json:"day"`
	Title            string           `json:"title"`
	Focus            string           `json:"focus"`
	Objectives       []string         `json:"objectives"`
	GenerationStatus GenerationStatus `json:"generation_status"`
	Slides           []Slide          `json:"slides,omitempty"`
}

type LessonBlueprint struct {
	ID         string    `json:"id"`
	Topic      string    `json:"topic"`
	GradeLevel string    `json:"grade_level"`
	Language   string    `json:"language"`
	Days       []DayPlan `json:"days"`
	CreatedAt  time.Time `json:"created_at"`
}

// index of the day numbered n, or -1
func (b *LessonBlueprint) DayIndex(n int) int {
	for i, d := range b.Days {
		if d.Day == n {
			return i
		}
	}
	return -1
}

func (s Slide) Clone() Slide {
	s.Content = append([]string(nil), s.Content...)
	s.Overlays = append([]Overlay(nil), s.Overlays...)
	s.Sources = append([]string(nil), s.Sources...)
	return s
}

func cloneSlides(in []Slide) []Slide {
	if in == nil {
		return nil
	}
	out := make([]Slide, len(in))
	for i, s := range in {
		out[i] = s.Clone()
	}
	return out
}

func (d DayPlan) Clone() DayPlan {
	d.Objectives = append([]string(nil), d.Objectives...)
	d.Slides = cloneSlides(d.Slides)
	return d
}

// deep copy; stored records never share slices with callers
func (p *Presentation) Clone() *Presentation {
	out := *p
	out.Slides = cloneSlides(p.Slides)
	out.Sources = append([]string(nil), p.Sources...)
	return &out
}

func (b *LessonBlueprint) Clone() *LessonBlueprint {
	out := *b
	out.Days = make([]DayPlan, len(b.Days))
	for i, d := range b.Days {
		out.Days[i] = d.Clone()
	}
	return &out
}
