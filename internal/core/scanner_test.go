package core

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruralcast/ruralcast/internal/model"
)

func TestScanStore(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	scanner := NewScanner(store.DB(), nil)

	result, err := scanner.ScanStore(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.ErrorCount)
	assert.Zero(t, result.WarningCount)

	prefs := NewPreferences(store.DB())
	require.NoError(t, prefs.SetMode(ctx, model.ModeAudio, true))
	_, err = store.DB().ExecContext(ctx,
		`INSERT INTO preferences (key, value, updated_at) VALUES (?, 'sometimes', '')`, PrefKeyDataSaver)
	require.NoError(t, err)

	result, err = scanner.ScanStore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, result.TotalItems)
	assert.Equal(t, 1, result.WarningCount)
}

func TestScanCache(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	cache := NewOfflineCache(store.DB(), 0)
	scanner := NewScanner(store.DB(), cache)

	good, err := json.Marshal(&model.Selection{
		LessonID:      42,
		RequestedTier: model.TierLow,
		Variant:       model.ContentVariant{LessonID: 42, Tier: model.TierLow, Content: model.TextContent{Body: "hi"}},
	})
	require.NoError(t, err)
	misplaced, err := json.Marshal(&model.Selection{
		LessonID: 9,
		Variant:  model.ContentVariant{LessonID: 9, Tier: model.TierLow, Content: model.TextContent{Body: "x"}},
	})
	require.NoError(t, err)

	_, err = cache.Put(ctx, 42, good)
	require.NoError(t, err)
	_, err = cache.Put(ctx, 7, []byte("not json"))
	require.NoError(t, err)
	_, err = cache.Put(ctx, 8, misplaced)
	require.NoError(t, err)

	result, err := scanner.ScanCache(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, result.TotalItems)
	assert.Equal(t, 2, result.ErrorCount)

	var bad []int64
	for _, f := range result.Findings {
		if f.Severity == SeverityError {
			bad = append(bad, f.LessonID)
		}
	}
	assert.Equal(t, []int64{7, 8}, bad)
}

func TestScanCatalog(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	catalog := NewCatalog(store.DB())
	scanner := NewScanner(store.DB(), nil)

	require.NoError(t, catalog.PutLesson(ctx, &model.Lesson{ID: 1, Title: "Text only", Content: "body"}))
	require.NoError(t, catalog.PutLesson(ctx, &model.Lesson{ID: 2, Title: "Empty"}))
	require.NoError(t, catalog.PutLesson(ctx, &model.Lesson{ID: 3, Title: "Complete", Content: "body"}))
	_, err := catalog.PutVariant(ctx, model.ContentVariant{LessonID: 3, Tier: model.TierHigh, Content: model.VideoContent{URL: "https://cdn.example.org/3.mp4"}})
	require.NoError(t, err)

	result, err := scanner.ScanCatalog(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, result.TotalItems)
	assert.Equal(t, 1, result.WarningCount)
	assert.Equal(t, 1, result.ErrorCount)
}
