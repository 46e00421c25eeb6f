// Package model defines the core domain models for ruralcast.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrLessonNotFound is terminal: the lesson does not exist and retrying will not help.
	ErrLessonNotFound = errors.New("lesson not found")
	// ErrVariantNotFound means the lesson exists but has no variant for the requested tier.
	ErrVariantNotFound = errors.New("variant not found")
	ErrInvalidMode     = errors.New("invalid learning mode")
	ErrInvalidTier     = errors.New("invalid bandwidth tier")
	ErrInvalidContent  = errors.New("invalid content")
	ErrNoSuggestion    = errors.New("no pending suggestion")
)

// FetchError reports a live content fetch that failed with nothing cached to fall back on.
// The caller may retry.
type FetchError struct {
	LessonID int64
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch lesson %d: %v", e.LessonID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Retryable is always true for fetch failures.
func (e *FetchError) Retryable() bool { return true }

// BandwidthLevel is the coarse measured network quality.
// LOW < MEDIUM < HIGH; UNKNOWN is not comparable to the others.
type BandwidthLevel string

const (
	BandwidthLow     BandwidthLevel = "LOW"
	BandwidthMedium  BandwidthLevel = "MEDIUM"
	BandwidthHigh    BandwidthLevel = "HIGH"
	BandwidthUnknown BandwidthLevel = "UNKNOWN"
)

// Rank orders comparable levels. UNKNOWN ranks 0.
func (l BandwidthLevel) Rank() int {
	switch l {
	case BandwidthLow:
		return 1
	case BandwidthMedium:
		return 2
	case BandwidthHigh:
		return 3
	default:
		return 0
	}
}

// Comparable reports whether the level takes part in the LOW < MEDIUM < HIGH order.
func (l BandwidthLevel) Comparable() bool {
	return l.Rank() > 0
}

// Describe returns a short human-readable label.
func (l BandwidthLevel) Describe() string {
	switch l {
	case BandwidthHigh:
		return "Fast connection"
	case BandwidthMedium:
		return "Moderate connection"
	case BandwidthLow:
		return "Slow connection"
	default:
		return "Unknown connection"
	}
}

// LearningMode selects how lesson content is delivered.
// AUTO is a meta-mode and always resolves to one of the concrete modes.
type LearningMode string

const (
	ModeAuto  LearningMode = "auto"
	ModeVideo LearningMode = "video"
	ModeAudio LearningMode = "audio"
	ModeText  LearningMode = "text"
)

// ParseMode accepts the mode names case-insensitively.
func ParseMode(s string) (LearningMode, error) {
	m := LearningMode(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case ModeAuto, ModeVideo, ModeAudio, ModeText:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

// Concrete reports whether the mode can be rendered directly.
func (m LearningMode) Concrete() bool {
	return m == ModeVideo || m == ModeAudio || m == ModeText
}

// Richness orders concrete modes by how much bandwidth they need.
func (m LearningMode) Richness() int {
	switch m {
	case ModeVideo:
		return 3
	case ModeAudio:
		return 2
	case ModeText:
		return 1
	default:
		return 0
	}
}

func (m LearningMode) Label() string {
	switch m {
	case ModeAuto:
		return "Auto"
	case ModeVideo:
		return "Video"
	case ModeAudio:
		return "Audio"
	case ModeText:
		return "Text"
	default:
		return string(m)
	}
}

func (m LearningMode) Description() string {
	switch m {
	case ModeAuto:
		return "Automatically adjust based on your connection"
	case ModeVideo:
		return "Full video lessons"
	case ModeAudio:
		return "Audio lessons with transcripts"
	case ModeText:
		return "Text-only lessons, lowest data use"
	default:
		return ""
	}
}

// SampleMethod records how a bandwidth sample was obtained.
type SampleMethod string

const (
	MethodNetworkHint   SampleMethod = "network-hint"
	MethodDownloadProbe SampleMethod = "download-probe"
	MethodErrorFallback SampleMethod = "error-fallback"
)

// ConnectionHint is a platform-provided connection quality estimate.
type ConnectionHint struct {
	Class        string   `json:"class,omitempty"`
	DownlinkMbps *float64 `json:"downlink_mbps,omitempty"`
	RTTMs        *float64 `json:"rtt_ms,omitempty"`
}

// BandwidthSample is a single immutable measurement.
type BandwidthSample struct {
	SpeedMbps         *float64      `json:"speed_mbps"`
	Method            SampleMethod  `json:"method"`
	MeasuredAt        time.Time     `json:"measured_at"`
	EffectiveTypeHint string        `json:"effective_type_hint,omitempty"`
	RTTMs             *float64      `json:"rtt_ms,omitempty"`
	DownloadTime      time.Duration `json:"download_time,omitempty"`
	// Canceled is set when the measurement was aborted by the caller's context.
	// Such samples must be discarded.
	Canceled bool `json:"-"`
}

// Speed returns the measured speed, or 0 when none was recorded.
func (s BandwidthSample) Speed() float64 {
	if s.SpeedMbps == nil {
		return 0
	}
	return *s.SpeedMbps
}

// ModePreference is the learner's persisted mode choice.
type ModePreference struct {
	SelectedMode         LearningMode `json:"selected_mode"`
	IsManual             bool         `json:"is_manual"`
	LastBandwidthCheckAt *time.Time   `json:"last_bandwidth_check_at,omitempty"`
}

// DefaultPreference is used before anything has been stored.
func DefaultPreference() ModePreference {
	return ModePreference{SelectedMode: ModeAuto}
}

// SuggestionState tracks a suggestion through its lifecycle.
type SuggestionState string

const (
	SuggestionPending   SuggestionState = "PENDING"
	SuggestionAccepted  SuggestionState = "ACCEPTED"
	SuggestionDismissed SuggestionState = "DISMISSED"
	SuggestionExpired   SuggestionState = "EXPIRED"
)

// ModeSuggestion is a transient proposal to change the effective mode. Never persisted.
type ModeSuggestion struct {
	ID                    uuid.UUID       `json:"id"`
	SuggestedMode         LearningMode    `json:"suggested_mode"`
	PreviousEffectiveMode LearningMode    `json:"previous_effective_mode"`
	Level                 BandwidthLevel  `json:"level"`
	CreatedAt             time.Time       `json:"created_at"`
	ExpiresAt             time.Time       `json:"expires_at"`
	State                 SuggestionState `json:"state"`
}

// IsUpgrade reports whether the suggestion offers a richer mode.
func (s ModeSuggestion) IsUpgrade() bool {
	return s.SuggestedMode.Richness() > s.PreviousEffectiveMode.Richness()
}

// ContentTier is the variant key derived from the effective mode.
type ContentTier string

const (
	TierLow    ContentTier = "low"
	TierMedium ContentTier = "medium"
	TierHigh   ContentTier = "high"
)

// AllTiers lists tiers from lightest to richest.
var AllTiers = []ContentTier{TierLow, TierMedium, TierHigh}

// ParseTier accepts low, medium or high.
func ParseTier(s string) (ContentTier, error) {
	t := ContentTier(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case TierLow, TierMedium, TierHigh:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTier, s)
}

// TierForMode maps a concrete mode onto its variant tier.
func TierForMode(m LearningMode) (ContentTier, error) {
	switch m {
	case ModeVideo:
		return TierHigh, nil
	case ModeAudio:
		return TierMedium, nil
	case ModeText:
		return TierLow, nil
	}
	return "", fmt.Errorf("%w: %q has no content tier", ErrInvalidMode, m)
}

// Lesson is the minimal lesson record the engine needs.
type Lesson struct {
	ID          int64  `json:"id" yaml:"id"`
	Title       string `json:"title" yaml:"title"`
	CourseTitle string `json:"course_title,omitempty" yaml:"course_title"`
	// Content is the lesson's raw text, served when no variant matches.
	Content string `json:"content" yaml:"content"`
}

// Selection is the result of choosing content for a lesson.
type Selection struct {
	LessonID      int64          `json:"lesson_id"`
	LessonTitle   string         `json:"lesson_title,omitempty"`
	RequestedTier ContentTier    `json:"requested_tier"`
	Variant       ContentVariant `json:"variant"`
	// Fallback is set when Variant is the synthetic text built from the lesson body.
	Fallback  bool          `json:"fallback"`
	Available []ContentTier `json:"available_variants,omitempty"`
}

// CachedLesson is the last successfully fetched content for a lesson.
type CachedLesson struct {
	LessonID int64     `json:"lesson_id"`
	Payload  []byte    `json:"payload"`
	CachedAt time.Time `json:"cachedAt"`
}

// Age returns how long ago the entry was written.
func (c CachedLesson) Age(now time.Time) time.Duration {
	return now.Sub(c.CachedAt)
}

// LessonContent is what the presentation layer receives.
type LessonContent struct {
	Selection *Selection `json:"content"`
	IsOffline bool       `json:"is_offline"`
	IsStale   bool       `json:"is_stale"`
	CachedAt  *time.Time `json:"cached_at,omitempty"`
}
