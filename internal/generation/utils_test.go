package generation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitBullets(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"plain", []string{"one", "two"}, []string{"one", "two"}},
		{"newlines", []string{"one\ntwo\r\nthree"}, []string{"one", "two", "three"}},
		{"markers", []string{"• one", "- two", "* three", "– four"}, []string{"one", "two", "three", "four"}},
		{"inline bullets", []string{"one • two • three"}, []string{"one", "two", "three"}},
		{"numbering", []string{"1. one", "2) two", "3.5 litres"}, []string{"one", "two", "3.5 litres"}},
		{"blanks dropped", []string{"", "  ", "•", "one"}, []string{"one"}},
		{"hyphenated words kept", []string{"well-known fact"}, []string{"well-known fact"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, splitBullets(tt.in))
		})
	}
}

func TestNormalizeSlides(t *testing.T) {
	raw := []rawSlide{
		{Title: "  Intro ", Content: []string{"a"}, SpeakerNotes: "say hello"},
		{},
		{Title: "Second", Content: []string{"b\nc"}, ImagePrompt: " lava "},
		{Title: "Third"},
	}

	slides := normalizeSlides(raw, 2)

	assert.Len(t, slides, 2)
	assert.Equal(t, "Intro", slides[0].Title)
	assert.Equal(t, "say hello", slides[0].SpeakerNotes)
	assert.Equal(t, []string{"b", "c"}, slides[1].Content)
	assert.Equal(t, "lava", slides[1].ImagePrompt)
	assert.Equal(t, "b c", slides[1].SpeakerNotes)
}

func TestClampCount(t *testing.T) {
	assert.Equal(t, 8, clampCount(0, 8, 12))
	assert.Equal(t, 12, clampCount(40, 8, 12))
	assert.Equal(t, 5, clampCount(5, 8, 12))
}
