package blueprints

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"codeberg.org/lessonforge/server/internal/auth"
	apperrors "codeberg.org/lessonforge/server/internal/errors"
	"codeberg.org/lessonforge/server/internal/generation"
	"codeberg.org/lessonforge/server/internal/kv"
	"codeberg.org/lessonforge/server/internal/lesson"
	"codeberg.org/lessonforge/server/internal/quota"
	"codeberg.org/lessonforge/server/internal/sessions"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockGenerator struct {
	generateBlueprintFunc func(ctx context.Context, req generation.BlueprintRequest) (*lesson.LessonBlueprint, error)
	generateDayFunc       func(ctx context.Context, bp *lesson.LessonBlueprint, dayIndex int, opts generation.DayOptions) (*lesson.DayPlan, error)
}

func (m *mockGenerator) GenerateBlueprint(ctx context.Context, req generation.BlueprintRequest) (*lesson.LessonBlueprint, error) {
	return m.generateBlueprintFunc(ctx, req)
}

func (m *mockGenerator) GenerateDay(ctx context.Context, bp *lesson.LessonBlueprint, dayIndex int, opts generation.DayOptions) (*lesson.DayPlan, error) {
	return m.generateDayFunc(ctx, bp, dayIndex, opts)
}

type fixture struct {
	router   *gin.Engine
	ledger   *quota.Ledger
	sessions *sessions.Manager
}

func newFixture(t *testing.T, gen Generator) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ledger := quota.NewLedger(kv.NewMemoryStore(), quota.Limits{Generations: 5, Images: 10}, time.Hour)
	t.Cleanup(ledger.Close)

	mgr := sessions.NewManager(time.Hour)

	router := gin.New()
	router.Use(auth.ClientMiddleware())
	RegisterRoutes(router.Group("/api/v1"), gen, ledger, mgr)

	return &fixture{router: router, ledger: ledger, sessions: mgr}
}

func (f *fixture) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(auth.ClientIDHeader, "client-aaaa")

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func sampleBlueprint() *lesson.LessonBlueprint {
	return &lesson.LessonBlueprint{
		ID:       "bp-1",
		Topic:    "volcanoes",
		Language: "en",
		Days: []lesson.DayPlan{
			{Day: 1, Title: "Structure", GenerationStatus: lesson.StatusPending},
			{Day: 2, Title: "Eruptions", GenerationStatus: lesson.StatusPending},
		},
	}
}

func TestCreateHandler(t *testing.T) {
	gen := &mockGenerator{
		generateBlueprintFunc: func(ctx context.Context, req generation.BlueprintRequest) (*lesson.LessonBlueprint, error) {
			assert.Equal(t, "volcanoes", req.Topic)
			assert.Equal(t, 2, req.Days)
			require.True(t, req.Quota.TryIncrement(ctx, quota.KindGenerations))
			return sampleBlueprint(), nil
		},
	}
	f := newFixture(t, gen)

	w := f.do(http.MethodPost, "/api/v1/blueprints", CreateRequest{Topic: "volcanoes", Days: 2})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Blueprint.Days, 2)
	assert.Equal(t, 1, resp.Quota.Used.Generations)

	w = f.do(http.MethodGet, "/api/v1/blueprints/bp-1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCreateHandler_Validation(t *testing.T) {
	f := newFixture(t, &mockGenerator{})

	w := f.do(http.MethodPost, "/api/v1/blueprints", CreateRequest{Topic: "volcanoes", Days: 11})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPost, "/api/v1/blueprints", CreateRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGenerateDayHandler(t *testing.T) {
	gen := &mockGenerator{
		generateDayFunc: func(ctx context.Context, bp *lesson.LessonBlueprint, idx int, opts generation.DayOptions) (*lesson.DayPlan, error) {
			assert.Equal(t, 1, idx)
			assert.Equal(t, lesson.ImageModeNone, opts.ImageMode)
			assert.True(t, opts.Exclude("https://upload.wikimedia.org/used.jpg"))

			day := bp.Days[idx]
			day.GenerationStatus = lesson.StatusDone
			day.Slides = []lesson.Slide{{Title: "Types", ImageSource: "https://upload.wikimedia.org/new.jpg"}}
			return &day, nil
		},
	}
	f := newFixture(t, gen)
	f.sessions.SaveBlueprint(sampleBlueprint())
	f.sessions.SeenImages("bp-1").Add("https://upload.wikimedia.org/used.jpg")

	w := f.do(http.MethodPost, "/api/v1/blueprints/bp-1/days/2", DayRequest{ImageMode: lesson.ImageModeNone})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp DayResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, lesson.StatusDone, resp.Day.GenerationStatus)

	stored, err := f.sessions.GetBlueprint("bp-1")
	require.NoError(t, err)
	assert.Equal(t, lesson.StatusDone, stored.Days[1].GenerationStatus)
	assert.Equal(t, lesson.StatusPending, stored.Days[0].GenerationStatus)
	assert.True(t, f.sessions.SeenImages("bp-1").Contains("https://upload.wikimedia.org/new.jpg"))
}

func TestGenerateDayHandler_FailureReleasesDay(t *testing.T) {
	gen := &mockGenerator{
		generateDayFunc: func(ctx context.Context, bp *lesson.LessonBlueprint, idx int, opts generation.DayOptions) (*lesson.DayPlan, error) {
			bp.Days[idx].GenerationStatus = lesson.StatusPending
			return nil, apperrors.ErrQuotaExceeded
		},
	}
	f := newFixture(t, gen)
	f.sessions.SaveBlueprint(sampleBlueprint())

	w := f.do(http.MethodPost, "/api/v1/blueprints/bp-1/days/1", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	stored, err := f.sessions.GetBlueprint("bp-1")
	require.NoError(t, err)
	assert.Equal(t, lesson.StatusPending, stored.Days[0].GenerationStatus)

	// the day can be claimed again
	_, _, err = f.sessions.ClaimDay("bp-1", 1)
	assert.NoError(t, err)
}

func TestGenerateDayHandler_Busy(t *testing.T) {
	f := newFixture(t, &mockGenerator{})
	f.sessions.SaveBlueprint(sampleBlueprint())

	_, _, err := f.sessions.ClaimDay("bp-1", 1)
	require.NoError(t, err)

	w := f.do(http.MethodPost, "/api/v1/blueprints/bp-1/days/1", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "day_in_progress")
}

func TestGenerateDayHandler_NotFound(t *testing.T) {
	f := newFixture(t, &mockGenerator{})
	f.sessions.SaveBlueprint(sampleBlueprint())

	w := f.do(http.MethodPost, "/api/v1/blueprints/bp-1/days/7", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(http.MethodPost, "/api/v1/blueprints/missing/days/1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(http.MethodPost, "/api/v1/blueprints/bp-1/days/zero", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteHandler(t *testing.T) {
	f := newFixture(t, &mockGenerator{})
	f.sessions.SaveBlueprint(sampleBlueprint())

	w := f.do(http.MethodDelete, "/api/v1/blueprints/bp-1", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodGet, "/api/v1/blueprints/bp-1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
