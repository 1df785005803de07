package generation

import (
	"strings"
	"unicode"

	"codeberg.org/lessonforge/server/internal/lesson"
)

var bulletPrefixes = []string{"•", "●", "▪", "‣", "◦", "- ", "* ", "– ", "— "}

// splitBullets flattens content lines that pack several bullets into one
// string and strips list markers from each.
func splitBullets(lines []string) []string {
	out := make([]string, 0, len(lines))

	for _, line := range lines {
		for _, part := range strings.Split(strings.ReplaceAll(line, "\r\n", "\n"), "\n") {
			// inline bullets: "first • second • third"
			for _, piece := range strings.Split(part, " • ") {
				if text := stripBullet(piece); text != "" {
					out = append(out, text)
				}
			}
		}
	}

	return out
}

func stripBullet(s string) string {
	s = strings.TrimSpace(s)

	for changed := true; changed; {
		changed = false
		for _, p := range bulletPrefixes {
			if strings.HasPrefix(s, p) {
				s = strings.TrimSpace(strings.TrimPrefix(s, p))
				changed = true
			}
		}
	}

	return stripNumbering(s)
}

// drops a leading "1." or "2)" list number
func stripNumbering(s string) string {
	i := 0
	for i < len(s) && i < 3 && s[i] >= '0' && s[i] <= '9' {
		i++
	}

	if i == 0 || i >= len(s) || (s[i] != '.' && s[i] != ')') {
		return s
	}

	rest := s[i+1:]
	if rest == "" || !unicode.IsSpace(rune(rest[0])) {
		return s
	}

	return strings.TrimSpace(rest)
}

// maps raw provider slides into lesson slides, dropping empty ones
func normalizeSlides(raw []rawSlide, limit int) []lesson.Slide {
	slides := make([]lesson.Slide, 0, len(raw))

	for _, r := range raw {
		content := splitBullets(r.Content)
		title := strings.TrimSpace(r.Title)

		if title == "" && len(content) == 0 {
			continue
		}

		notes := strings.TrimSpace(r.SpeakerNotes)
		if notes == "" {
			notes = strings.Join(content, " ")
		}

		slides = append(slides, lesson.Slide{
			Title:        title,
			Content:      content,
			ImagePrompt:  strings.TrimSpace(r.ImagePrompt),
			ImageStyle:   strings.TrimSpace(r.ImageStyle),
			SpeakerNotes: notes,
		})

		if limit > 0 && len(slides) == limit {
			break
		}
	}

	return slides
}

func normalizeDays(raw []rawDay, limit int) []lesson.DayPlan {
	days := make([]lesson.DayPlan, 0, len(raw))

	for _, r := range raw {
		title := strings.TrimSpace(r.Title)
		if title == "" {
			continue
		}

		days = append(days, lesson.DayPlan{
			Day:              len(days) + 1, // renumbered; models skip or repeat day numbers
			Title:            title,
			Focus:            strings.TrimSpace(r.Focus),
			Objectives:       splitBullets(r.Objectives),
			GenerationStatus: lesson.StatusPending,
		})

		if len(days) == limit {
			break
		}
	}

	return days
}

func clampCount(requested, def, ceiling int) int {
	if requested <= 0 {
		return def
	}
	if requested > ceiling {
		return ceiling
	}
	return requested
}
