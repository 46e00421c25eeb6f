package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ruralcast/ruralcast/internal/core"
	"github.com/ruralcast/ruralcast/internal/model"
	"github.com/ruralcast/ruralcast/internal/provider/httpapi"
	"github.com/ruralcast/ruralcast/internal/server"
)

func newTestRouter(t *testing.T) (http.Handler, *core.Catalog) {
	t.Helper()
	ctx := context.Background()

	store, err := core.OpenStore(t.TempDir(), "")
	require.NoError(t, err)
	require.NoError(t, store.Initialize(ctx))
	t.Cleanup(func() { store.Close() })

	catalog := core.NewCatalog(store.DB())
	require.NoError(t, catalog.PutLesson(ctx, &model.Lesson{ID: 42, Title: "Solar power", Content: "Panels convert light."}))
	_, err = catalog.PutVariant(ctx, model.ContentVariant{LessonID: 42, Tier: model.TierLow, Content: model.TextContent{Body: "Short notes."}})
	require.NoError(t, err)

	h := server.NewHandler(store, catalog, 1000, zap.NewNop())
	return server.Routes(h, zap.NewNop()), catalog
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, httpapi.Envelope) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env httpapi.Envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func TestSpeedTestPayload(t *testing.T) {
	h, _ := newTestRouter(t)
	rec, _ := do(t, h, http.MethodGet, "/api/speed-test?t=123", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1000, rec.Body.Len())
	assert.Equal(t, "no-cache, no-store, must-revalidate", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "no-cache", rec.Header().Get("Pragma"))
	assert.Equal(t, "0", rec.Header().Get("Expires"))
}

func TestHealth(t *testing.T) {
	h, _ := newTestRouter(t)
	rec, env := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)
}

func TestContentEndpoint(t *testing.T) {
	h, _ := newTestRouter(t)

	tests := []struct {
		name         string
		path         string
		wantStatus   int
		wantFallback bool
		wantCode     string
	}{
		{"exact low variant", "/api/lessons/42/content?bandwidth=low", http.StatusOK, false, ""},
		{"missing high falls back", "/api/lessons/42/content?bandwidth=high", http.StatusOK, true, ""},
		{"default is medium", "/api/lessons/42/content", http.StatusOK, true, ""},
		{"bad tier", "/api/lessons/42/content?bandwidth=ultra", http.StatusBadRequest, false, httpapi.CodeBadRequest},
		{"unknown lesson", "/api/lessons/7/content?bandwidth=low", http.StatusNotFound, false, httpapi.CodeLessonNotFound},
		{"bad id", "/api/lessons/abc/content", http.StatusBadRequest, false, httpapi.CodeBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := do(t, h, http.MethodGet, tt.path, "")
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.wantCode != "" {
				assert.False(t, env.Success)
				assert.Equal(t, tt.wantCode, env.Error)
				return
			}

			var resp httpapi.LessonContentResponse
			require.NoError(t, json.Unmarshal(env.Data, &resp))
			assert.Equal(t, tt.wantFallback, resp.Fallback)
			if tt.wantFallback {
				assert.Equal(t, []string{"low"}, resp.AvailableVariants)
			}

			var v model.ContentVariant
			require.NoError(t, json.Unmarshal(resp.Variant, &v))
			assert.Equal(t, model.ContentText, v.Content.Type())
		})
	}
}

func TestUpsertVariant(t *testing.T) {
	h, catalog := newTestRouter(t)

	rec, env := do(t, h, http.MethodPost, "/api/lessons/42/variants",
		`{"bandwidth_type":"high","content_type":"video","content_url":"https://cdn.example.org/solar.mp4","quality":"720p"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.True(t, env.Success)

	rec, _ = do(t, h, http.MethodPost, "/api/lessons/42/variants",
		`{"bandwidth_type":"high","content_type":"video","content_url":"https://cdn.example.org/solar.mp4","quality":"360p"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	v, err := catalog.Variant(context.Background(), 42, model.TierHigh)
	require.NoError(t, err)
	assert.Equal(t, "360p", v.Content.(model.VideoContent).Quality)

	rec, env = do(t, h, http.MethodPost, "/api/lessons/42/variants", `{"bandwidth_type":"high","content_type":"hologram"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, httpapi.CodeBadRequest, env.Error)

	rec, env = do(t, h, http.MethodPost, "/api/lessons/42/variants", `{"bandwidth_type":"medium","content_type":"audio"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "audio without url is rejected")

	rec, env = do(t, h, http.MethodPost, "/api/lessons/9/variants", `{"bandwidth_type":"low","content_type":"text","content_text":"x"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, httpapi.CodeLessonNotFound, env.Error)
}

func TestVariantLookupCodes(t *testing.T) {
	h, _ := newTestRouter(t)

	rec, env := do(t, h, http.MethodGet, "/api/lessons/42/variants/medium", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, httpapi.CodeVariantNotFound, env.Error)

	rec, env = do(t, h, http.MethodGet, "/api/lessons/42/variants", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var records []model.VariantRecord
	require.NoError(t, json.Unmarshal(env.Data, &records))
	require.Len(t, records, 1)
	assert.Equal(t, model.TierLow, records[0].BandwidthType)
}
