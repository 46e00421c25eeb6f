package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruralcast/ruralcast/internal/model"
)

// scriptedSampler returns the queued speeds in order, repeating the last one.
type scriptedSampler struct {
	mu     sync.Mutex
	speeds []float64
	calls  int
}

func (s *scriptedSampler) Measure(ctx context.Context) model.BandwidthSample {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.calls
	if i >= len(s.speeds) {
		i = len(s.speeds) - 1
	}
	s.calls++
	v := s.speeds[i]
	return model.BandwidthSample{SpeedMbps: &v, Method: model.MethodDownloadProbe, MeasuredAt: time.Now()}
}

// gatedSampler blocks until the gate closes, ignoring its context, and then
// reports a fast link.
type gatedSampler struct {
	entered chan struct{}
	gate    chan struct{}

	mu  sync.Mutex
	ctx context.Context
}

func newGatedSampler() *gatedSampler {
	return &gatedSampler{entered: make(chan struct{}, 1), gate: make(chan struct{})}
}

func (g *gatedSampler) Measure(ctx context.Context) model.BandwidthSample {
	g.mu.Lock()
	g.ctx = ctx
	g.mu.Unlock()
	g.entered <- struct{}{}
	<-g.gate
	v := 8.0
	return model.BandwidthSample{SpeedMbps: &v, Method: model.MethodDownloadProbe, MeasuredAt: time.Now()}
}

func (g *gatedSampler) canceled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ctx != nil && g.ctx.Err() != nil
}

type cancelingSampler struct{}

func (cancelingSampler) Measure(context.Context) model.BandwidthSample {
	v := FallbackSpeedMbps
	return model.BandwidthSample{SpeedMbps: &v, Method: model.MethodErrorFallback, MeasuredAt: time.Now(), Canceled: true}
}

// flakySource wraps a catalog and fails every call while offline is set.
type flakySource struct {
	*Catalog
	mu      sync.Mutex
	offline bool
}

var errNetwork = errors.New("network unreachable")

func (f *flakySource) setOffline(v bool) {
	f.mu.Lock()
	f.offline = v
	f.mu.Unlock()
}

func (f *flakySource) down() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.offline
}

func (f *flakySource) Lesson(ctx context.Context, id int64) (*model.Lesson, error) {
	if f.down() {
		return nil, errNetwork
	}
	return f.Catalog.Lesson(ctx, id)
}

func (f *flakySource) Variant(ctx context.Context, id int64, tier model.ContentTier) (*model.ContentVariant, error) {
	if f.down() {
		return nil, errNetwork
	}
	return f.Catalog.Variant(ctx, id, tier)
}

func (f *flakySource) Tiers(ctx context.Context, id int64) ([]model.ContentTier, error) {
	if f.down() {
		return nil, errNetwork
	}
	return f.Catalog.Tiers(ctx, id)
}

type sessionFixture struct {
	session *Session
	store   *Store
	source  *flakySource
	sampler *scriptedSampler
}

func newSessionFixture(t *testing.T, speeds ...float64) *sessionFixture {
	t.Helper()
	store := newTestStore(t)
	source := &flakySource{Catalog: NewCatalog(store.DB())}
	sampler := &scriptedSampler{speeds: speeds}

	ctx := context.Background()
	require.NoError(t, source.PutLesson(ctx, &model.Lesson{ID: 42, Title: "Water cycle", Content: "Raw lesson text."}))
	require.NoError(t, source.PutLesson(ctx, &model.Lesson{ID: 7, Title: "Crop rotation", Content: "Rotate crops."}))
	require.NoError(t, source.PutLesson(ctx, &model.Lesson{ID: 9, Title: "Irrigation", Content: "Drip lines."}))
	_, err := source.PutVariant(ctx, model.ContentVariant{LessonID: 42, Tier: model.TierLow, Content: model.TextContent{Body: "Water cycle in brief."}})
	require.NoError(t, err)
	_, err = source.PutVariant(ctx, model.ContentVariant{LessonID: 7, Tier: model.TierMedium, Content: model.AudioContent{URL: "https://cdn.example.org/7.mp3"}})
	require.NoError(t, err)

	classifier, err := NewClassifier(5, 1)
	require.NoError(t, err)

	session, err := NewSession(SessionConfig{
		Preferences:       NewPreferences(store.DB()),
		Cache:             NewOfflineCache(store.DB(), time.Hour),
		Samples:           NewSampleLog(store.DB()),
		Source:            source,
		Sampler:           sampler,
		Classifier:        classifier,
		Resolver:          NewResolver(false, time.Minute),
		CheckInterval:     time.Hour,
		RemeasureInterval: time.Hour,
	})
	require.NoError(t, err)
	require.NoError(t, session.Load(ctx))
	t.Cleanup(session.Close)

	return &sessionFixture{session: session, store: store, source: source, sampler: sampler}
}

func TestSessionAutoHighResolvesVideo(t *testing.T) {
	f := newSessionFixture(t, 6.0)
	f.session.Evaluate(context.Background(), TriggerInitial)

	assert.Equal(t, model.BandwidthHigh, f.session.Level())
	assert.Equal(t, model.ModeVideo, f.session.EffectiveMode())
}

func TestSessionLowBandwidthServesTextVariant(t *testing.T) {
	ctx := context.Background()
	f := newSessionFixture(t, 0.5)
	f.session.Evaluate(ctx, TriggerInitial)

	require.Equal(t, model.BandwidthLow, f.session.Level())
	require.Equal(t, model.ModeText, f.session.EffectiveMode())

	content, err := f.session.ContentFor(ctx, 42)
	require.NoError(t, err)
	assert.False(t, content.IsOffline)
	assert.False(t, content.Selection.Fallback)
	text, ok := content.Selection.Variant.Content.(model.TextContent)
	require.True(t, ok)
	assert.Equal(t, "Water cycle in brief.", text.Body)
}

func TestSessionServesCacheWhenOffline(t *testing.T) {
	ctx := context.Background()
	f := newSessionFixture(t, 2.0)
	f.session.Evaluate(ctx, TriggerInitial)
	require.Equal(t, model.ModeAudio, f.session.EffectiveMode())

	live, err := f.session.ContentFor(ctx, 7)
	require.NoError(t, err)
	require.False(t, live.IsOffline)

	f.source.setOffline(true)

	offline, err := f.session.ContentFor(ctx, 7)
	require.NoError(t, err)
	assert.True(t, offline.IsOffline)
	assert.False(t, offline.IsStale)
	require.NotNil(t, offline.CachedAt)
	assert.Equal(t, live.Selection.Variant.Content, offline.Selection.Variant.Content)
}

func TestSessionFetchErrorWithoutCache(t *testing.T) {
	f := newSessionFixture(t, 2.0)
	f.source.setOffline(true)

	_, err := f.session.ContentFor(context.Background(), 9)
	require.Error(t, err)

	var fetchErr *model.FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.True(t, fetchErr.Retryable())
	assert.Equal(t, int64(9), fetchErr.LessonID)
	assert.ErrorIs(t, err, errNetwork)
}

func TestSessionUnknownLessonIsTerminal(t *testing.T) {
	f := newSessionFixture(t, 2.0)
	_, err := f.session.ContentFor(context.Background(), 404)
	assert.ErrorIs(t, err, model.ErrLessonNotFound)

	var fetchErr *model.FetchError
	assert.False(t, errors.As(err, &fetchErr))
}

func TestSessionManualSuggestionDismissed(t *testing.T) {
	ctx := context.Background()
	f := newSessionFixture(t, 2.0, 6.0)

	require.NoError(t, f.session.SetMode(ctx, model.ModeAudio, true))
	f.session.Evaluate(ctx, TriggerInitial)

	var got []model.ModeSuggestion
	unsubscribe := f.session.OnSuggestion(func(s model.ModeSuggestion) { got = append(got, s) })
	defer unsubscribe()

	f.session.Evaluate(ctx, TriggerPeriodic)

	require.Len(t, got, 1)
	assert.Equal(t, model.ModeVideo, got[0].SuggestedMode)
	assert.Equal(t, model.ModeAudio, got[0].PreviousEffectiveMode)

	pending, ok := f.session.PendingSuggestion()
	require.True(t, ok)
	assert.Equal(t, got[0].ID, pending.ID)

	_, err := f.session.DismissSuggestion()
	require.NoError(t, err)
	assert.Equal(t, model.ModeAudio, f.session.EffectiveMode())

	// Same level again: no new suggestion.
	f.session.Evaluate(ctx, TriggerPeriodic)
	assert.Len(t, got, 1)
	_, ok = f.session.PendingSuggestion()
	assert.False(t, ok)
}

func TestSessionAcceptSuggestion(t *testing.T) {
	ctx := context.Background()
	f := newSessionFixture(t, 0.5, 6.0)

	require.NoError(t, f.session.SetMode(ctx, model.ModeText, true))
	f.session.Evaluate(ctx, TriggerInitial)
	f.session.Evaluate(ctx, TriggerPeriodic)

	sug, err := f.session.AcceptSuggestion(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.SuggestionAccepted, sug.State)
	assert.Equal(t, model.ModeVideo, f.session.EffectiveMode())

	pref, err := NewPreferences(f.store.DB()).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.ModeVideo, pref.SelectedMode)
	assert.False(t, pref.IsManual)
	require.NotNil(t, pref.LastBandwidthCheckAt)

	_, err = f.session.AcceptSuggestion(ctx)
	assert.ErrorIs(t, err, model.ErrNoSuggestion)
}

func TestSessionAutoChangesSilently(t *testing.T) {
	ctx := context.Background()
	f := newSessionFixture(t, 2.0, 6.0)

	calls := 0
	f.session.OnSuggestion(func(model.ModeSuggestion) { calls++ })

	f.session.Evaluate(ctx, TriggerInitial)
	assert.Equal(t, model.ModeAudio, f.session.EffectiveMode())
	f.session.Evaluate(ctx, TriggerPeriodic)
	assert.Equal(t, model.ModeVideo, f.session.EffectiveMode())
	assert.Zero(t, calls)
}

func TestSessionRemeasureNeverSuggests(t *testing.T) {
	ctx := context.Background()
	f := newSessionFixture(t, 2.0, 6.0)
	require.NoError(t, f.session.SetMode(ctx, model.ModeAudio, true))

	calls := 0
	f.session.OnSuggestion(func(model.ModeSuggestion) { calls++ })
	f.session.Evaluate(ctx, TriggerInitial)
	f.session.Evaluate(ctx, TriggerRemeasure)

	assert.Equal(t, model.BandwidthHigh, f.session.Level())
	assert.Zero(t, calls)
}

func TestSessionRemeasureKeepsSuggestionBaseline(t *testing.T) {
	ctx := context.Background()
	f := newSessionFixture(t, 2.0, 6.0, 6.0)
	require.NoError(t, f.session.SetMode(ctx, model.ModeAudio, true))

	var got []model.ModeSuggestion
	f.session.OnSuggestion(func(s model.ModeSuggestion) { got = append(got, s) })

	f.session.Evaluate(ctx, TriggerInitial)
	f.session.Evaluate(ctx, TriggerRemeasure)
	require.Equal(t, model.BandwidthHigh, f.session.Level())
	require.Empty(t, got)

	f.session.Evaluate(ctx, TriggerPeriodic)
	require.Len(t, got, 1)
	assert.Equal(t, model.ModeVideo, got[0].SuggestedMode)
	assert.Equal(t, model.ModeAudio, got[0].PreviousEffectiveMode)

	f.session.Evaluate(ctx, TriggerPeriodic)
	assert.Len(t, got, 1, "baseline advances on periodic checks")
}

func TestSessionSetModeClearsSuggestion(t *testing.T) {
	ctx := context.Background()
	f := newSessionFixture(t, 2.0, 6.0)
	require.NoError(t, f.session.SetMode(ctx, model.ModeAudio, true))
	f.session.Evaluate(ctx, TriggerInitial)
	f.session.Evaluate(ctx, TriggerPeriodic)
	_, ok := f.session.PendingSuggestion()
	require.True(t, ok)

	require.NoError(t, f.session.SetMode(ctx, model.ModeText, true))
	_, ok = f.session.PendingSuggestion()
	assert.False(t, ok)
	assert.Equal(t, model.ModeText, f.session.EffectiveMode())
}

func TestSessionUnsubscribe(t *testing.T) {
	ctx := context.Background()
	f := newSessionFixture(t, 2.0, 6.0)
	require.NoError(t, f.session.SetMode(ctx, model.ModeAudio, true))

	calls := 0
	unsubscribe := f.session.OnSuggestion(func(model.ModeSuggestion) { calls++ })
	unsubscribe()

	f.session.Evaluate(ctx, TriggerInitial)
	f.session.Evaluate(ctx, TriggerPeriodic)
	assert.Zero(t, calls)
	_, ok := f.session.PendingSuggestion()
	assert.True(t, ok)
}

func TestSessionDiscardsCanceledSample(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	prefs := NewPreferences(store.DB())
	session, err := NewSession(SessionConfig{
		Preferences: prefs,
		Cache:       NewOfflineCache(store.DB(), time.Hour),
		Source:      NewCatalog(store.DB()),
		Sampler:     cancelingSampler{},
	})
	require.NoError(t, err)

	session.Evaluate(ctx, TriggerPeriodic)

	assert.Equal(t, model.BandwidthUnknown, session.Level())
	assert.Nil(t, session.LastSample())
	pref, err := prefs.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, pref.LastBandwidthCheckAt)
}

func TestSessionDataSaver(t *testing.T) {
	ctx := context.Background()
	f := newSessionFixture(t, 6.0)
	require.NoError(t, f.session.SetMode(ctx, model.ModeVideo, true))
	f.session.Evaluate(ctx, TriggerInitial)
	require.Equal(t, model.ModeVideo, f.session.EffectiveMode())

	require.NoError(t, f.session.SetDataSaver(ctx, true))
	assert.Equal(t, model.ModeText, f.session.EffectiveMode())

	require.NoError(t, f.session.SetDataSaver(ctx, false))
	assert.Equal(t, model.ModeVideo, f.session.EffectiveMode())
}

func TestSessionStartMeasuresImmediately(t *testing.T) {
	f := newSessionFixture(t, 6.0)
	require.NoError(t, f.session.Start(context.Background()))

	require.Eventually(t, func() bool {
		return f.session.Level() == model.BandwidthHigh
	}, 2*time.Second, 10*time.Millisecond)
	f.session.Close()
}

func TestSessionCloseDiscardsOnDemandRecheck(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	prefs := NewPreferences(store.DB())
	sampler := newGatedSampler()
	session, err := NewSession(SessionConfig{
		Preferences: prefs,
		Cache:       NewOfflineCache(store.DB(), time.Hour),
		Source:      NewCatalog(store.DB()),
		Sampler:     sampler,
	})
	require.NoError(t, err)

	ran := make(chan bool, 1)
	go func() { ran <- session.RecheckNow(ctx) }()
	<-sampler.entered

	closed := make(chan struct{})
	go func() {
		session.Close()
		close(closed)
	}()

	require.Eventually(t, sampler.canceled, 2*time.Second, 5*time.Millisecond)
	select {
	case <-closed:
		t.Fatal("Close returned while a recheck was in flight")
	default:
	}

	close(sampler.gate)
	<-closed
	assert.True(t, <-ran)

	assert.Equal(t, model.BandwidthUnknown, session.Level())
	assert.Nil(t, session.LastSample())
	pref, err := prefs.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, pref.LastBandwidthCheckAt)

	assert.False(t, session.RecheckNow(ctx), "rechecks are rejected after Close")
}
