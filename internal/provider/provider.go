// Package provider defines lesson content sources and their registry.
// Sources are PLUGINS: the engine only sees the lookup methods.
package provider

import (
	"context"

	"github.com/ruralcast/ruralcast/internal/model"
)

// HealthState represents source availability.
// NOTE: HealthState is OBSERVATIONAL only, not decision authority.
type HealthState string

const (
	HealthStateHealthy     HealthState = "healthy"
	HealthStateDegraded    HealthState = "degraded"
	HealthStateUnavailable HealthState = "unavailable"
)

// Source serves lessons and content variants.
type Source interface {
	// ID returns unique identifier for this source instance.
	ID() string

	// Type returns source type (http, local).
	Type() string

	// DisplayName returns human-readable name.
	DisplayName() string

	// Lesson returns the lesson or model.ErrLessonNotFound.
	Lesson(ctx context.Context, lessonID int64) (*model.Lesson, error)

	// Variant returns the variant or model.ErrVariantNotFound when the lesson
	// exists without that tier. Transport failures return other errors.
	Variant(ctx context.Context, lessonID int64, tier model.ContentTier) (*model.ContentVariant, error)

	// Tiers lists tiers that have variants.
	Tiers(ctx context.Context, lessonID int64) ([]model.ContentTier, error)

	// CheckHealth returns current health state.
	CheckHealth(ctx context.Context) HealthState
}

// Registry manages source instances.
type Registry interface {
	Register(s Source) error
	Get(id string) (Source, bool)
	All() []Source
	Primary() Source
	SetPrimary(id string) error
}
