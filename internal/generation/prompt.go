package generation

import (
	"fmt"
	"strings"

	"codeberg.org/lessonforge/server/internal/lesson"
	"codeberg.org/lessonforge/server/internal/llm"
)

const systemPrompt = `You are an experienced teacher who designs clear, engaging lesson material.

Rules:
- Every slide has a short title and 3 to 5 concise bullet points.
- Bullet points are plain text: no markdown, no numbering, no leading dashes.
- Speaker notes explain what the teacher says while the slide is shown.
- image_prompt describes one concrete, photographable subject that illustrates the slide
  (for example "salt dissolving in a glass of water"). Leave it empty for slides that
  need no picture, such as summaries or quizzes.
- Keep the content factually accurate and appropriate for the stated grade level.`

var slideSchema = &llm.Schema{
	Type: llm.TypeObject,
	Properties: map[string]*llm.Schema{
		"title":         {Type: llm.TypeString},
		"content":       {Type: llm.TypeArray, Items: &llm.Schema{Type: llm.TypeString}},
		"image_prompt":  {Type: llm.TypeString, Description: "concrete visual subject, empty when no image fits"},
		"image_style":   {Type: llm.TypeString, Description: "optional style such as diagram, photo or illustration"},
		"speaker_notes": {Type: llm.TypeString},
	},
	Required: []string{"title", "content"},
}

var deckSchema = &llm.Schema{
	Type: llm.TypeObject,
	Properties: map[string]*llm.Schema{
		"title":  {Type: llm.TypeString},
		"slides": {Type: llm.TypeArray, Items: slideSchema},
	},
	Required: []string{"title", "slides"},
}

var daySlidesSchema = &llm.Schema{
	Type: llm.TypeObject,
	Properties: map[string]*llm.Schema{
		"slides": {Type: llm.TypeArray, Items: slideSchema},
	},
	Required: []string{"slides"},
}

var blueprintSchema = &llm.Schema{
	Type: llm.TypeObject,
	Properties: map[string]*llm.Schema{
		"days": {
			Type: llm.TypeArray,
			Items: &llm.Schema{
				Type: llm.TypeObject,
				Properties: map[string]*llm.Schema{
					"day":        {Type: llm.TypeInteger},
					"title":      {Type: llm.TypeString},
					"focus":      {Type: llm.TypeString},
					"objectives": {Type: llm.TypeArray, Items: &llm.Schema{Type: llm.TypeString}},
				},
				Required: []string{"title", "focus", "objectives"},
			},
		},
	},
	Required: []string{"days"},
}

// raw provider shapes, mapped into lesson records during post-processing
type rawSlide struct {
	Title        string   `json:"title"`
	Content      []string `json:"content"`
	ImagePrompt  string   `json:"image_prompt"`
	ImageStyle   string   `json:"image_style"`
	SpeakerNotes string   `json:"speaker_notes"`
}

type rawDeck struct {
	Title  string     `json:"title"`
	Slides []rawSlide `json:"slides"`
}

type rawDay struct {
	Day        int      `json:"day"`
	Title      string   `json:"title"`
	Focus      string   `json:"focus"`
	Objectives []string `json:"objectives"`
}

type rawBlueprint struct {
	Days []rawDay `json:"days"`
}

func languageLine(language string) string {
	if language == "" || strings.HasPrefix(strings.ToLower(language), "en") {
		return "Write all text in English."
	}
	return fmt.Sprintf("Write all text in the language with code %q.", language)
}

func gradeLine(grade string) string {
	if grade == "" {
		return "Audience: general secondary school students."
	}
	return fmt.Sprintf("Audience: %s students.", grade)
}

func buildDeckPrompt(req DeckRequest, slides int) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Create a slide deck of exactly %d slides about: %s\n", slides, req.Topic)
	b.WriteString(gradeLine(req.GradeLevel))
	b.WriteString("\n")
	b.WriteString(languageLine(req.Language))
	b.WriteString("\n")

	if req.Instructions != "" {
		b.WriteString("\nAdditional instructions from the teacher:\n")
		b.WriteString(req.Instructions)
		b.WriteString("\n")
	}

	return b.String()
}

func buildBlueprintPrompt(req BlueprintRequest, days int) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Plan a teaching unit of %d days about: %s\n", days, req.Topic)
	b.WriteString(gradeLine(req.GradeLevel))
	b.WriteString("\n")
	b.WriteString(languageLine(req.Language))
	b.WriteString("\n")
	b.WriteString("Each day builds on the previous one. Give each day a title, a one-sentence focus and 2 to 4 learning objectives.\n")

	if req.Instructions != "" {
		b.WriteString("\nAdditional instructions from the teacher:\n")
		b.WriteString(req.Instructions)
		b.WriteString("\n")
	}

	return b.String()
}

func buildDayPrompt(bp *lesson.LessonBlueprint, day lesson.DayPlan, slides int) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Create exactly %d slides for day %d of a unit about: %s\n", slides, day.Day, bp.Topic)
	fmt.Fprintf(&b, "Day title: %s\nFocus: %s\n", day.Title, day.Focus)

	if len(day.Objectives) > 0 {
		b.WriteString("Learning objectives:\n")
		for _, o := range day.Objectives {
			fmt.Fprintf(&b, "- %s\n", o)
		}
	}

	// earlier days give the model continuity
	var earlier []string
	for _, d := range bp.Days {
		if d.Day < day.Day {
			earlier = append(earlier, fmt.Sprintf("day %d: %s", d.Day, d.Title))
		}
	}
	if len(earlier) > 0 {
		fmt.Fprintf(&b, "Already covered: %s\n", strings.Join(earlier, "; "))
	}

	b.WriteString(gradeLine(bp.GradeLevel))
	b.WriteString("\n")
	b.WriteString(languageLine(bp.Language))
	b.WriteString("\n")

	return b.String()
}
