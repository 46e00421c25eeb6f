package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/ruralcast/ruralcast/internal/model"
)

// Selector picks the content variant matching an effective mode.
type Selector struct {
	source VariantSource
}

// NewSelector creates a selector over a variant source.
func NewSelector(source VariantSource) *Selector {
	return &Selector{source: source}
}

// Select returns the variant for the mode's tier. When the lesson exists but
// has no such variant, the lesson's raw text is returned as a synthetic text
// variant together with the tiers that do exist. Unknown lessons return
// model.ErrLessonNotFound. Any other error is a fetch failure.
func (s *Selector) Select(ctx context.Context, lessonID int64, mode model.LearningMode) (*model.Selection, error) {
	tier, err := model.TierForMode(mode)
	if err != nil {
		return nil, err
	}
	return s.SelectTier(ctx, lessonID, tier)
}

// SelectTier is Select keyed directly by tier.
func (s *Selector) SelectTier(ctx context.Context, lessonID int64, tier model.ContentTier) (*model.Selection, error) {
	lesson, err := s.source.Lesson(ctx, lessonID)
	if err != nil {
		return nil, err
	}

	sel := &model.Selection{
		LessonID:      lessonID,
		LessonTitle:   lesson.Title,
		RequestedTier: tier,
	}

	variant, err := s.source.Variant(ctx, lessonID, tier)
	switch {
	case err == nil:
		sel.Variant = *variant
		return sel, nil
	case errors.Is(err, model.ErrVariantNotFound):
		// handled below
	default:
		return nil, fmt.Errorf("failed to fetch variant: %w", err)
	}

	tiers, err := s.source.Tiers(ctx, lessonID)
	if err != nil {
		return nil, fmt.Errorf("failed to list variants: %w", err)
	}
	sel.Variant = model.TextFallback(lesson)
	sel.Fallback = true
	sel.Available = tiers
	return sel, nil
}
