package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruralcast/ruralcast/internal/model"
)

func TestDashboardOverview(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	cache := NewOfflineCache(store.DB(), time.Hour)

	empty, err := NewDashboard(store.DB(), cache, nil, nil).GetOverview(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.BandwidthUnknown, empty.Level)
	assert.Equal(t, model.ModeText, empty.EffectiveMode)
	assert.Nil(t, empty.LastSample)

	require.NoError(t, NewCatalog(store.DB()).PutLesson(ctx, &model.Lesson{ID: 1, Title: "Intro"}))
	require.NoError(t, NewSampleLog(store.DB()).Record(ctx,
		model.BandwidthSample{SpeedMbps: speed(3), Method: model.MethodDownloadProbe, MeasuredAt: time.Now()},
		model.BandwidthMedium))
	_, err = cache.Put(ctx, 1, []byte(`{}`))
	require.NoError(t, err)

	o, err := NewDashboard(store.DB(), cache, nil, nil).GetOverview(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.BandwidthMedium, o.Level)
	assert.Equal(t, model.ModeAudio, o.EffectiveMode)
	assert.Equal(t, 1, o.Lessons)
	assert.Equal(t, 1, o.Cache.TotalEntries)
	assert.Equal(t, 1, o.Samples24h.Count)

	require.NoError(t, NewPreferences(store.DB()).SetDataSaver(ctx, true))
	o, err = NewDashboard(store.DB(), cache, nil, nil).GetOverview(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.ModeText, o.EffectiveMode)
}
