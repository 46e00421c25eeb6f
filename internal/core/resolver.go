package core

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ruralcast/ruralcast/internal/model"
)

// DefaultSuggestionTimeout is how long a suggestion stays pending.
const DefaultSuggestionTimeout = 10 * time.Second

// ModeForLevel maps a level to the mode it supports. LOW and UNKNOWN map to TEXT.
func ModeForLevel(level model.BandwidthLevel) model.LearningMode {
	switch level {
	case model.BandwidthHigh:
		return model.ModeVideo
	case model.BandwidthMedium:
		return model.ModeAudio
	default:
		return model.ModeText
	}
}

// Resolver turns a preference and bandwidth level into an effective mode, and
// decides when a periodic sample is worth surfacing as a suggestion.
type Resolver struct {
	// SuggestInAuto raises suggestions even when the learner is in AUTO,
	// instead of switching the effective mode silently.
	SuggestInAuto bool
	Timeout       time.Duration
	now           func() time.Time
}

// NewResolver creates a resolver. A non-positive timeout uses the default.
func NewResolver(suggestInAuto bool, timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = DefaultSuggestionTimeout
	}
	return &Resolver{SuggestInAuto: suggestInAuto, Timeout: timeout, now: time.Now}
}

// ResolveEffective returns the concrete mode to render now. A concrete
// selected mode always wins; AUTO follows the level.
func (r *Resolver) ResolveEffective(pref model.ModePreference, level model.BandwidthLevel) model.LearningMode {
	if pref.SelectedMode.Concrete() {
		return pref.SelectedMode
	}
	return ModeForLevel(level)
}

// OnPeriodicSample compares the new level against the previous baseline level
// and returns a pending suggestion, or nil when nothing should be surfaced.
func (r *Resolver) OnPeriodicSample(pref model.ModePreference, previous, level model.BandwidthLevel) *model.ModeSuggestion {
	suggested := ModeForLevel(level)
	if previous != model.BandwidthUnknown && ModeForLevel(previous) == suggested {
		return nil
	}

	current := r.ResolveEffective(pref, previous)
	if suggested == current {
		return nil
	}

	if !pref.SelectedMode.Concrete() {
		if !r.SuggestInAuto {
			return nil
		}
		return r.newSuggestion(suggested, current, level)
	}

	if suggested.Richness() > current.Richness() {
		return r.newSuggestion(suggested, current, level)
	}

	// Downgrades only on a known level that actually dropped.
	if !level.Comparable() {
		return nil
	}
	if previous.Comparable() && level.Rank() >= previous.Rank() {
		return nil
	}
	return r.newSuggestion(suggested, current, level)
}

func (r *Resolver) newSuggestion(suggested, current model.LearningMode, level model.BandwidthLevel) *model.ModeSuggestion {
	now := r.now()
	return &model.ModeSuggestion{
		ID:                    uuid.New(),
		SuggestedMode:         suggested,
		PreviousEffectiveMode: current,
		Level:                 level,
		CreatedAt:             now,
		ExpiresAt:             now.Add(r.Timeout),
		State:                 model.SuggestionPending,
	}
}

// SuggestionSlot holds at most one pending suggestion.
type SuggestionSlot struct {
	mu      sync.Mutex
	current *model.ModeSuggestion
	now     func() time.Time
}

// NewSuggestionSlot creates an empty slot.
func NewSuggestionSlot() *SuggestionSlot {
	return &SuggestionSlot{now: time.Now}
}

// Offer makes s the pending suggestion, superseding any previous one.
func (sl *SuggestionSlot) Offer(s *model.ModeSuggestion) {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if sl.current != nil && sl.current.State == model.SuggestionPending {
		sl.current.State = model.SuggestionExpired
	}
	cp := *s
	sl.current = &cp
}

// Pending returns a copy of the pending suggestion. A suggestion past its
// expiry is moved to EXPIRED and not returned.
func (sl *SuggestionSlot) Pending() (model.ModeSuggestion, bool) {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if !sl.expireLocked() {
		return model.ModeSuggestion{}, false
	}
	return *sl.current, true
}

// Accept moves the pending suggestion to ACCEPTED and returns it.
func (sl *SuggestionSlot) Accept() (model.ModeSuggestion, error) {
	return sl.finish(model.SuggestionAccepted)
}

// Dismiss moves the pending suggestion to DISMISSED.
func (sl *SuggestionSlot) Dismiss() (model.ModeSuggestion, error) {
	return sl.finish(model.SuggestionDismissed)
}

// Expire moves the pending suggestion to EXPIRED.
func (sl *SuggestionSlot) Expire() (model.ModeSuggestion, error) {
	return sl.finish(model.SuggestionExpired)
}

// Clear drops the pending suggestion without recording a transition.
func (sl *SuggestionSlot) Clear() {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.current = nil
}

func (sl *SuggestionSlot) finish(state model.SuggestionState) (model.ModeSuggestion, error) {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if !sl.expireLocked() {
		return model.ModeSuggestion{}, model.ErrNoSuggestion
	}
	sl.current.State = state
	done := *sl.current
	sl.current = nil
	return done, nil
}

// expireLocked reports whether a live pending suggestion exists.
func (sl *SuggestionSlot) expireLocked() bool {
	if sl.current == nil || sl.current.State != model.SuggestionPending {
		return false
	}
	if !sl.current.ExpiresAt.IsZero() && !sl.now().Before(sl.current.ExpiresAt) {
		sl.current.State = model.SuggestionExpired
		sl.current = nil
		return false
	}
	return true
}
