package sessions

import (
	"testing"
	"time"

	apperrors "codeberg.org/lessonforge/server/internal/errors"
	"codeberg.org/lessonforge/server/internal/lesson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPresentation() *lesson.Presentation {
	return &lesson.Presentation{
		ID:    "p1",
		Title: "Volcanoes",
		Slides: []lesson.Slide{
			{Title: "Intro", Content: []string{"a", "b"}, ImageURL: "/image-proxy?u=x", ImageSource: "https://x", ImageStatus: lesson.ImageDone},
			{Title: "Lava", Content: []string{"c"}},
		},
	}
}

func testBlueprint() *lesson.LessonBlueprint {
	return &lesson.LessonBlueprint{
		ID:    "b1",
		Topic: "volcanoes",
		Days: []lesson.DayPlan{
			{Day: 1, Title: "Structure", GenerationStatus: lesson.StatusPending},
			{Day: 2, Title: "Eruptions", GenerationStatus: lesson.StatusPending},
		},
	}
}

func TestManager_PresentationRoundTrip(t *testing.T) {
	m := NewManager(time.Hour)
	p := testPresentation()
	m.SavePresentation(p)

	// the stored copy is isolated from the caller's
	p.Slides[0].Title = "changed"

	got, err := m.GetPresentation("p1")
	require.NoError(t, err)
	assert.Equal(t, "Intro", got.Slides[0].Title)

	got.Slides[0].Content[0] = "mutated"
	again, err := m.GetPresentation("p1")
	require.NoError(t, err)
	assert.Equal(t, "a", again.Slides[0].Content[0])
}

func TestManager_PresentationNotFound(t *testing.T) {
	m := NewManager(time.Hour)

	_, err := m.GetPresentation("missing")

	assert.ErrorIs(t, err, ErrPresentationNotFound)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestManager_PresentationExpires(t *testing.T) {
	m := NewManager(20 * time.Millisecond)
	m.SavePresentation(testPresentation())

	time.Sleep(40 * time.Millisecond)

	_, err := m.GetPresentation("p1")
	assert.ErrorIs(t, err, ErrPresentationNotFound)
}

func TestManager_DeletePresentation(t *testing.T) {
	m := NewManager(time.Hour)
	m.SavePresentation(testPresentation())
	m.SeenImages("p1").Add("https://x")

	m.DeletePresentation("p1")

	_, err := m.GetPresentation("p1")
	assert.ErrorIs(t, err, ErrPresentationNotFound)
	assert.Equal(t, 0, m.SeenImages("p1").Len())
}

func TestManager_UpdateSlide(t *testing.T) {
	m := NewManager(time.Hour)
	m.SavePresentation(testPresentation())

	notes := "talk about magma"
	slide, err := m.UpdateSlide("p1", 1, SlideEdit{
		SpeakerNotes: &notes,
		Overlays:     []lesson.Overlay{{Label: "crater", X: 40, Y: 12}},
	})
	require.NoError(t, err)

	assert.Equal(t, "talk about magma", slide.SpeakerNotes)
	assert.Equal(t, []string{"c"}, slide.Content)

	got, err := m.GetPresentation("p1")
	require.NoError(t, err)
	assert.Equal(t, "crater", got.Slides[1].Overlays[0].Label)
}

func TestManager_UpdateSlideReplacesImage(t *testing.T) {
	m := NewManager(time.Hour)
	m.SavePresentation(testPresentation())

	replacement := "data:image/png;base64,AA=="
	slide, err := m.UpdateSlide("p1", 0, SlideEdit{ImageURL: &replacement})
	require.NoError(t, err)

	assert.Equal(t, replacement, slide.ImageURL)
	assert.Empty(t, slide.ImageSource)
	assert.Equal(t, lesson.ImageDone, slide.ImageStatus)

	empty := ""
	slide, err = m.UpdateSlide("p1", 0, SlideEdit{ImageURL: &empty})
	require.NoError(t, err)
	assert.Equal(t, lesson.ImageNone, slide.ImageStatus)
}

func TestManager_UpdateSlideOutOfRange(t *testing.T) {
	m := NewManager(time.Hour)
	m.SavePresentation(testPresentation())

	_, err := m.UpdateSlide("p1", 5, SlideEdit{})
	assert.ErrorIs(t, err, ErrSlideNotFound)

	_, err = m.UpdateSlide("nope", 0, SlideEdit{})
	assert.ErrorIs(t, err, ErrPresentationNotFound)
}

func TestManager_ClaimAndFinishDay(t *testing.T) {
	m := NewManager(time.Hour)
	m.SaveBlueprint(testBlueprint())

	bp, idx, err := m.ClaimDay("b1", 2)
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
	assert.Equal(t, lesson.StatusLoading, bp.Days[idx].GenerationStatus)

	// stored copy shows the day as loading
	stored, err := m.GetBlueprint("b1")
	require.NoError(t, err)
	assert.Equal(t, lesson.StatusLoading, stored.Days[1].GenerationStatus)

	_, _, err = m.ClaimDay("b1", 2)
	assert.ErrorIs(t, err, ErrDayBusy)

	day := bp.Days[idx]
	day.GenerationStatus = lesson.StatusDone
	day.Slides = []lesson.Slide{{Title: "Types of eruption"}}
	require.NoError(t, m.FinishDay("b1", idx, day))

	stored, err = m.GetBlueprint("b1")
	require.NoError(t, err)
	assert.Equal(t, lesson.StatusDone, stored.Days[1].GenerationStatus)
	assert.Len(t, stored.Days[1].Slides, 1)

	// a finished day can be regenerated
	_, _, err = m.ClaimDay("b1", 2)
	assert.NoError(t, err)
}

func TestManager_ClaimUnknownDay(t *testing.T) {
	m := NewManager(time.Hour)
	m.SaveBlueprint(testBlueprint())

	_, _, err := m.ClaimDay("b1", 9)
	assert.ErrorIs(t, err, ErrDayNotFound)

	_, _, err = m.ClaimDay("missing", 1)
	assert.ErrorIs(t, err, ErrBlueprintNotFound)
}

func TestManager_DeleteBlueprint(t *testing.T) {
	m := NewManager(time.Hour)
	m.SaveBlueprint(testBlueprint())

	m.DeleteBlueprint("b1")

	_, err := m.GetBlueprint("b1")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestSeenImages(t *testing.T) {
	m := NewManager(time.Hour)
	seen := m.SeenImages("p1")

	seen.Add("https://Upload.Wikimedia.org/a.jpg?width=800", "")
	seen.AddSlides([]lesson.Slide{{ImageSource: "https://images-assets.nasa.gov/b.jpg"}, {}})

	assert.True(t, seen.Contains("https://upload.wikimedia.org/a.jpg"))
	assert.True(t, seen.Contains("https://images-assets.nasa.gov/b.jpg#frag"))
	assert.False(t, seen.Contains("https://upload.wikimedia.org/c.jpg"))
	assert.Equal(t, 2, seen.Len())

	// same set for the same owner
	assert.Same(t, seen, m.SeenImages("p1"))
}
