package sessions

import (
	"sync"

	"codeberg.org/lessonforge/server/internal/images"
	"codeberg.org/lessonforge/server/internal/lesson"
)

// SeenImages is the set of image sources already placed in one presentation
// or blueprint, so later searches pick different pictures.
type SeenImages struct {
	mu   sync.RWMutex
	urls map[string]struct{}
}

func NewSeenImages() *SeenImages {
	return &SeenImages{urls: make(map[string]struct{})}
}

// keys are normalized so query-string variants of one file match
func (s *SeenImages) Contains(sourceURL string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.urls[images.NormalizeURL(sourceURL)]
	return ok
}

func (s *SeenImages) Add(sourceURLs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range sourceURLs {
		if u != "" {
			s.urls[images.NormalizeURL(u)] = struct{}{}
		}
	}
}

// records every found image of the slides
func (s *SeenImages) AddSlides(slides []lesson.Slide) {
	for _, slide := range slides {
		if slide.ImageSource != "" {
			s.Add(slide.ImageSource)
		}
	}
}

func (s *SeenImages) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.urls)
}
