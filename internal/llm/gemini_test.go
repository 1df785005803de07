package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	apperrors "codeberg.org/lessonforge/server/internal/errors"
	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
)

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []genai.Part{genai.Text(text)}},
		}},
	}
}

func newTestGemini(t *testing.T, handler http.HandlerFunc) *GeminiGenerator {
	t.Helper()

	config := GeminiConfig{APIKey: "test-key", Retry: instantPolicy(nil)}
	if handler != nil {
		srv := httptest.NewServer(handler)
		t.Cleanup(srv.Close)
		config.BaseURL = srv.URL
		config.HTTPClient = srv.Client()
	}

	return newGeminiGenerator(config)
}

func TestGemini_GenerateStructured(t *testing.T) {
	g := newTestGemini(t, nil)

	var got StructuredRequest
	g.generate = func(_ context.Context, model string, req StructuredRequest) (*genai.GenerateContentResponse, error) {
		got = req
		return textResponse("```json\n{\"title\":\"Volcanoes\"}\n```"), nil
	}

	resp, err := g.GenerateStructured(context.Background(), StructuredRequest{
		Prompt: "volcanoes",
		Models: []string{"gemini-2.5-flash"},
	})
	require.NoError(t, err)

	assert.JSONEq(t, `{"title":"Volcanoes"}`, string(resp.JSON))
	assert.Equal(t, "gemini-2.5-flash", resp.Model)
	assert.Equal(t, "volcanoes", got.Prompt)
}

func TestGemini_GenerateStructuredFallsBack(t *testing.T) {
	g := newTestGemini(t, nil)

	var mu sync.Mutex
	calls := map[string]int{}

	g.generate = func(_ context.Context, model string, _ StructuredRequest) (*genai.GenerateContentResponse, error) {
		mu.Lock()
		calls[model]++
		mu.Unlock()

		if model == "primary" {
			return nil, &googleapi.Error{Code: http.StatusServiceUnavailable, Message: "overloaded"}
		}
		return textResponse(`{"ok":true}`), nil
	}

	resp, err := g.GenerateStructured(context.Background(), StructuredRequest{Models: []string{"primary", "backup"}})
	require.NoError(t, err)

	assert.Equal(t, "backup", resp.Model)
	assert.Equal(t, 3, calls["primary"])
	assert.Equal(t, 1, calls["backup"])
}

func TestGemini_GenerateStructuredBlocked(t *testing.T) {
	g := newTestGemini(t, nil)

	calls := 0
	g.generate = func(context.Context, string, StructuredRequest) (*genai.GenerateContentResponse, error) {
		calls++
		return nil, &genai.BlockedError{PromptFeedback: &genai.PromptFeedback{BlockReason: genai.BlockReasonSafety}}
	}

	_, err := g.GenerateStructured(context.Background(), StructuredRequest{Models: []string{"a", "b"}})

	assert.ErrorIs(t, err, apperrors.ErrContentBlocked)
	assert.Equal(t, 1, calls)
}

func TestGemini_GenerateStructuredRejectsInvalidJSON(t *testing.T) {
	g := newTestGemini(t, nil)
	g.generate = func(context.Context, string, StructuredRequest) (*genai.GenerateContentResponse, error) {
		return textResponse("Sure! Here is your lesson."), nil
	}

	_, err := g.GenerateStructured(context.Background(), StructuredRequest{Models: []string{"a"}})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "not valid JSON")
}

func TestStructuredFromResponse_SafetyFinish(t *testing.T) {
	resp := textResponse(`{}`)
	resp.Candidates[0].FinishReason = genai.FinishReasonSafety

	_, err := structuredFromResponse(resp)

	assert.ErrorIs(t, err, apperrors.ErrContentBlocked)
}

func TestStructuredFromResponse_Empty(t *testing.T) {
	_, err := structuredFromResponse(&genai.GenerateContentResponse{})
	assert.Error(t, err)

	_, err = structuredFromResponse(nil)
	assert.Error(t, err)
}

func TestToGenaiSchema(t *testing.T) {
	s := &Schema{
		Type:     TypeObject,
		Required: []string{"slides"},
		Properties: map[string]*Schema{
			"slides": {
				Type:  TypeArray,
				Items: &Schema{Type: TypeObject, Properties: map[string]*Schema{"title": {Type: TypeString}}},
			},
			"count": {Type: TypeInteger},
			"kind":  {Type: TypeString, Enum: []string{"a", "b"}},
		},
	}

	out := toGenaiSchema(s)

	assert.Equal(t, genai.TypeObject, out.Type)
	assert.Equal(t, []string{"slides"}, out.Required)
	assert.Equal(t, genai.TypeArray, out.Properties["slides"].Type)
	assert.Equal(t, genai.TypeString, out.Properties["slides"].Items.Properties["title"].Type)
	assert.Equal(t, genai.TypeInteger, out.Properties["count"].Type)
	assert.Equal(t, []string{"a", "b"}, out.Properties["kind"].Enum)
	assert.Nil(t, toGenaiSchema(nil))
}

func imageReply(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func TestGemini_GenerateImage(t *testing.T) {
	png := []byte("\x89PNG fake")

	var captured map[string]any
	var path, key string

	g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		key = r.Header.Get("x-goog-api-key")
		_ = json.NewDecoder(r.Body).Decode(&captured)

		imageReply(w, map[string]any{
			"candidates": []any{map[string]any{
				"content": map[string]any{"parts": []any{
					map[string]any{"text": "here you go"},
					map[string]any{"inlineData": map[string]any{"mimeType": "image/png", "data": base64.StdEncoding.EncodeToString(png)}},
				}},
				"finishReason": "STOP",
			}},
		})
	})

	resp, err := g.GenerateImage(context.Background(), ImageRequest{
		Prompt: "a volcano erupting",
		Style:  "flat illustration",
		Models: []string{"img-model"},
	})
	require.NoError(t, err)

	assert.Equal(t, png, resp.Data)
	assert.Equal(t, "image/png", resp.MIMEType)
	assert.Equal(t, "img-model", resp.Model)
	assert.Equal(t, "/models/img-model:generateContent", path)
	assert.Equal(t, "test-key", key)

	config := captured["generationConfig"].(map[string]any)
	assert.Equal(t, []any{"TEXT", "IMAGE"}, config["responseModalities"])
	assert.Equal(t, "16:9", config["imageConfig"].(map[string]any)["aspectRatio"])

	contents := captured["contents"].([]any)
	prompt := contents[0].(map[string]any)["parts"].([]any)[0].(map[string]any)["text"].(string)
	assert.True(t, strings.Contains(prompt, "flat illustration"))
}

func TestGemini_GenerateImageBlocked(t *testing.T) {
	calls := 0
	g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		imageReply(w, map[string]any{"promptFeedback": map[string]any{"blockReason": "SAFETY"}})
	})

	resp, err := g.GenerateImage(context.Background(), ImageRequest{Prompt: "x", Models: []string{"a", "b"}})

	assert.ErrorIs(t, err, apperrors.ErrContentBlocked)
	require.NotNil(t, resp)
	assert.Equal(t, "SAFETY", resp.BlockReason)
	assert.Equal(t, 1, calls)
}

func TestGemini_GenerateImageSafetyFinish(t *testing.T) {
	g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		imageReply(w, map[string]any{"candidates": []any{map[string]any{"finishReason": "IMAGE_SAFETY"}}})
	})

	resp, err := g.GenerateImage(context.Background(), ImageRequest{Prompt: "x", Models: []string{"a"}})

	assert.ErrorIs(t, err, apperrors.ErrContentBlocked)
	assert.Equal(t, "IMAGE_SAFETY", resp.BlockReason)
}

func TestGemini_GenerateImageTextOnly(t *testing.T) {
	g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		imageReply(w, map[string]any{
			"candidates": []any{map[string]any{
				"content": map[string]any{"parts": []any{map[string]any{"text": "I cannot draw that."}}},
			}},
		})
	})

	resp, err := g.GenerateImage(context.Background(), ImageRequest{Prompt: "x", Models: []string{"a"}})

	require.Error(t, err)
	assert.False(t, errors.Is(err, apperrors.ErrContentBlocked))
	require.NotNil(t, resp)
	assert.Equal(t, "I cannot draw that.", resp.Text)
	assert.Empty(t, resp.Data)
}

func TestGemini_GenerateImageRetriesServerErrors(t *testing.T) {
	var mu sync.Mutex
	hits := map[string]int{}

	g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits[r.URL.Path]++
		mu.Unlock()

		if strings.Contains(r.URL.Path, "primary") {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		imageReply(w, map[string]any{
			"candidates": []any{map[string]any{
				"content": map[string]any{"parts": []any{
					map[string]any{"inlineData": map[string]any{"mimeType": "image/png", "data": base64.StdEncoding.EncodeToString([]byte("img"))}},
				}},
			}},
		})
	})

	var events []RetryEvent
	resp, err := g.GenerateImage(context.Background(), ImageRequest{
		Prompt:  "x",
		Models:  []string{"primary", "backup"},
		OnRetry: func(e RetryEvent) { events = append(events, e) },
	})
	require.NoError(t, err)

	assert.Equal(t, "backup", resp.Model)
	assert.Equal(t, 3, hits["/models/primary:generateContent"])
	assert.Len(t, events, 2)
}

func TestGemini_GenerateImageUnauthorizedIsTerminal(t *testing.T) {
	calls := 0
	g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := g.GenerateImage(context.Background(), ImageRequest{Prompt: "x", Models: []string{"a", "b"}})

	assert.True(t, apperrors.IsTerminal(err))
	assert.Equal(t, 1, calls)
}

func TestStripCodeFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripCodeFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripCodeFences("  {\"a\":1}  "))
	assert.Equal(t, `[1]`, stripCodeFences("```\n[1]\n```"))
}
