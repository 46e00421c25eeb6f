package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ruralcast/ruralcast/internal/model"
)

// SuggestionFunc observes newly created suggestions.
type SuggestionFunc func(model.ModeSuggestion)

// SessionConfig wires a Session.
type SessionConfig struct {
	Preferences       *Preferences
	Cache             *OfflineCache
	Samples           *SampleLog
	Source            VariantSource
	Sampler           Measurer
	Classifier        *Classifier
	Resolver          *Resolver
	CheckInterval     time.Duration
	RemeasureInterval time.Duration
	Logger            *zap.Logger
}

// Session is one learner's mode and network state on one device. It owns the
// scheduler and exposes the effective mode, suggestions and content lookup.
type Session struct {
	id         uuid.UUID
	prefs      *Preferences
	cache      *OfflineCache
	samples    *SampleLog
	selector   *Selector
	sampler    Measurer
	classifier *Classifier
	resolver   *Resolver
	slot       *SuggestionSlot
	scheduler  *Scheduler
	log        *zap.Logger

	mu         sync.RWMutex
	pref       model.ModePreference
	level      model.BandwidthLevel
	baseline   model.BandwidthLevel // compared by periodic checks; remeasure leaves it alone
	dataSaver  bool
	lastSample *model.BandwidthSample
	observers  map[int]SuggestionFunc
	nextObs    int
}

// NewSession creates a session. Call Start to load state and begin checks.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Preferences == nil || cfg.Cache == nil || cfg.Source == nil || cfg.Sampler == nil {
		return nil, errors.New("session requires preferences, cache, source and sampler")
	}
	if cfg.Classifier == nil {
		cfg.Classifier = DefaultClassifier()
	}
	if cfg.Resolver == nil {
		cfg.Resolver = NewResolver(false, DefaultSuggestionTimeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	id := uuid.New()
	s := &Session{
		id:         id,
		prefs:      cfg.Preferences,
		cache:      cfg.Cache,
		samples:    cfg.Samples,
		selector:   NewSelector(cfg.Source),
		sampler:    cfg.Sampler,
		classifier: cfg.Classifier,
		resolver:   cfg.Resolver,
		slot:       NewSuggestionSlot(),
		log:        cfg.Logger.With(zap.String("component", "session"), zap.String("session", id.String())),
		pref:       model.DefaultPreference(),
		level:      model.BandwidthUnknown,
		baseline:   model.BandwidthUnknown,
		observers:  make(map[int]SuggestionFunc),
	}
	s.scheduler = NewScheduler(s, cfg.Logger, cfg.CheckInterval, cfg.RemeasureInterval)
	return s, nil
}

// ID identifies the session in logs.
func (s *Session) ID() uuid.UUID { return s.id }

// Load reads persisted preferences without starting the scheduler.
func (s *Session) Load(ctx context.Context) error {
	pref, err := s.prefs.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load preferences: %w", err)
	}
	saver, err := s.prefs.DataSaver(ctx)
	if err != nil {
		return fmt.Errorf("failed to load data saver: %w", err)
	}

	s.mu.Lock()
	s.pref = pref
	s.dataSaver = saver
	s.mu.Unlock()
	return nil
}

// Start loads preferences and starts periodic reevaluation, which measures
// once immediately.
func (s *Session) Start(ctx context.Context) error {
	if err := s.Load(ctx); err != nil {
		return err
	}
	s.scheduler.Start(ctx)
	return nil
}

// Close stops the scheduler. An in-flight measurement is canceled and discarded.
func (s *Session) Close() {
	s.scheduler.Stop()
}

// Scheduler exposes the session's scheduler.
func (s *Session) Scheduler() *Scheduler { return s.scheduler }

// EffectiveMode returns the concrete mode to render now. Never AUTO.
func (s *Session) EffectiveMode() model.LearningMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.effectiveLocked()
}

func (s *Session) effectiveLocked() model.LearningMode {
	if s.dataSaver {
		return model.ModeText
	}
	return s.resolver.ResolveEffective(s.pref, s.level)
}

// Preference returns the current preference.
func (s *Session) Preference() model.ModePreference {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pref
}

// Level returns the last classified bandwidth level.
func (s *Session) Level() model.BandwidthLevel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.level
}

// LastSample returns the last accepted sample, if any.
func (s *Session) LastSample() *model.BandwidthSample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastSample == nil {
		return nil
	}
	cp := *s.lastSample
	return &cp
}

// DataSaver reports whether data saver is on.
func (s *Session) DataSaver() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dataSaver
}

// SetMode persists a mode choice and clears any pending suggestion.
func (s *Session) SetMode(ctx context.Context, mode model.LearningMode, isManual bool) error {
	if err := s.prefs.SetMode(ctx, mode, isManual); err != nil {
		return err
	}

	s.mu.Lock()
	s.pref.SelectedMode = mode
	s.pref.IsManual = isManual
	s.mu.Unlock()

	s.slot.Clear()
	s.log.Info("learning mode set",
		zap.String("mode", string(mode)),
		zap.Bool("manual", isManual))
	return nil
}

// SetDataSaver toggles data saver. While on, the effective mode is TEXT and
// no suggestions are raised. Turning it off rechecks bandwidth.
func (s *Session) SetDataSaver(ctx context.Context, on bool) error {
	if err := s.prefs.SetDataSaver(ctx, on); err != nil {
		return err
	}

	s.mu.Lock()
	s.dataSaver = on
	s.mu.Unlock()

	if on {
		s.slot.Clear()
	}
	s.log.Info("data saver changed", zap.Bool("on", on))

	if !on {
		s.scheduler.TriggerNow(ctx)
	}
	return nil
}

// OnSuggestion registers an observer and returns a function that removes it.
// Observers are called without any session lock held.
func (s *Session) OnSuggestion(fn SuggestionFunc) func() {
	s.mu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}

// PendingSuggestion returns the pending suggestion, if one is live.
func (s *Session) PendingSuggestion() (model.ModeSuggestion, bool) {
	return s.slot.Pending()
}

// AcceptSuggestion switches to the suggested mode as a non-manual choice.
func (s *Session) AcceptSuggestion(ctx context.Context) (model.ModeSuggestion, error) {
	sug, err := s.slot.Accept()
	if err != nil {
		return sug, err
	}
	if err := s.SetMode(ctx, sug.SuggestedMode, false); err != nil {
		return sug, err
	}
	s.log.Info("suggestion accepted", zap.String("mode", string(sug.SuggestedMode)))
	return sug, nil
}

// DismissSuggestion drops the pending suggestion. The effective mode is unchanged.
func (s *Session) DismissSuggestion() (model.ModeSuggestion, error) {
	return s.slot.Dismiss()
}

// ExpireSuggestion marks the pending suggestion expired.
func (s *Session) ExpireSuggestion() (model.ModeSuggestion, error) {
	return s.slot.Expire()
}

// RecheckNow measures on demand. It returns false if a measurement was
// already in flight.
func (s *Session) RecheckNow(ctx context.Context) bool {
	return s.scheduler.TriggerNow(ctx)
}

// Evaluate runs one measure-classify-resolve cycle. It implements Evaluator.
func (s *Session) Evaluate(ctx context.Context, trigger Trigger) {
	sample := s.sampler.Measure(ctx)
	if sample.Canceled || ctx.Err() != nil {
		s.log.Debug("measurement canceled, discarding sample", zap.String("trigger", string(trigger)))
		return
	}

	level := s.classifier.Classify(sample)

	s.mu.Lock()
	previous := s.level
	baseline := s.baseline
	pref := s.pref
	saver := s.dataSaver
	s.level = level
	if trigger != TriggerRemeasure {
		s.baseline = level
	}
	s.lastSample = &sample
	s.mu.Unlock()

	s.log.Info("bandwidth checked",
		zap.String("trigger", string(trigger)),
		zap.String("method", string(sample.Method)),
		zap.Float64("speed_mbps", sample.Speed()),
		zap.String("level", string(level)),
		zap.String("previous_level", string(previous)))

	if err := s.prefs.TouchLastCheck(ctx, sample.MeasuredAt); err != nil {
		s.log.Warn("failed to record bandwidth check time", zap.Error(err))
	} else {
		s.mu.Lock()
		at := sample.MeasuredAt
		s.pref.LastBandwidthCheckAt = &at
		s.mu.Unlock()
	}

	if s.samples != nil {
		if err := s.samples.Record(ctx, sample, level); err != nil {
			s.log.Warn("failed to record bandwidth sample", zap.Error(err))
		}
	}

	if trigger != TriggerPeriodic {
		return
	}
	if saver {
		s.log.Debug("data saver on, suggestions suppressed")
		return
	}

	sug := s.resolver.OnPeriodicSample(pref, baseline, level)
	if sug == nil {
		return
	}
	s.slot.Offer(sug)
	s.log.Info("mode suggestion raised",
		zap.String("suggested", string(sug.SuggestedMode)),
		zap.String("current", string(sug.PreviousEffectiveMode)))
	s.notify(*sug)
}

func (s *Session) notify(sug model.ModeSuggestion) {
	s.mu.RLock()
	fns := make([]SuggestionFunc, 0, len(s.observers))
	for _, fn := range s.observers {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn(sug)
	}
}

// ContentFor returns content for the lesson in the current effective mode.
// A successful fetch is cached. When the fetch fails for any reason other
// than an unknown lesson, the cached copy is served with IsOffline set; with
// nothing cached a *model.FetchError is returned.
func (s *Session) ContentFor(ctx context.Context, lessonID int64) (*model.LessonContent, error) {
	return s.ContentForMode(ctx, lessonID, s.EffectiveMode())
}

// ContentForMode is ContentFor with an explicit concrete mode.
func (s *Session) ContentForMode(ctx context.Context, lessonID int64, mode model.LearningMode) (*model.LessonContent, error) {
	if !mode.Concrete() {
		return nil, fmt.Errorf("%w: content needs a concrete mode, got %q", model.ErrInvalidMode, mode)
	}

	sel, fetchErr := s.selector.Select(ctx, lessonID, mode)
	if fetchErr == nil {
		payload, err := json.Marshal(sel)
		if err != nil {
			return nil, fmt.Errorf("failed to encode lesson content: %w", err)
		}
		if _, err := s.cache.Put(ctx, lessonID, payload); err != nil {
			s.log.Warn("failed to cache lesson content", zap.Int64("lesson_id", lessonID), zap.Error(err))
		}
		return &model.LessonContent{Selection: sel}, nil
	}

	if errors.Is(fetchErr, model.ErrLessonNotFound) {
		return nil, fetchErr
	}

	cached, err := s.cache.Get(ctx, lessonID)
	if err != nil {
		s.log.Warn("failed to read offline cache", zap.Int64("lesson_id", lessonID), zap.Error(err))
	}
	if cached == nil {
		return nil, &model.FetchError{LessonID: lessonID, Err: fetchErr}
	}

	var cachedSel model.Selection
	if err := json.Unmarshal(cached.Payload, &cachedSel); err != nil {
		s.log.Warn("cached lesson content is unreadable", zap.Int64("lesson_id", lessonID), zap.Error(err))
		return nil, &model.FetchError{LessonID: lessonID, Err: fetchErr}
	}

	cachedAt := cached.CachedAt
	stale := s.cache.IsStale(cached)
	s.log.Info("serving lesson from offline cache",
		zap.Int64("lesson_id", lessonID),
		zap.Duration("age", time.Since(cachedAt)),
		zap.Bool("stale", stale),
		zap.NamedError("fetch_error", fetchErr))

	return &model.LessonContent{
		Selection: &cachedSel,
		IsOffline: true,
		IsStale:   stale,
		CachedAt:  &cachedAt,
	}, nil
}
