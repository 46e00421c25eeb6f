package core

import (
	"fmt"
	"strings"

	"github.com/ruralcast/ruralcast/internal/model"
)

// Default band thresholds in Mbps.
const (
	DefaultHighThresholdMbps   = 5.0
	DefaultMediumThresholdMbps = 1.0
)

// hintLevels maps coarse connection classes onto levels directly.
var hintLevels = map[string]model.BandwidthLevel{
	"4g":        model.BandwidthHigh,
	"fast":      model.BandwidthHigh,
	"3g":        model.BandwidthMedium,
	"moderate":  model.BandwidthMedium,
	"2g":        model.BandwidthLow,
	"slow-2g":   model.BandwidthLow,
	"slow":      model.BandwidthLow,
	"very-slow": model.BandwidthLow,
}

// KnownHintClass reports whether class has an entry in the hint table.
func KnownHintClass(class string) bool {
	_, ok := hintLevels[strings.ToLower(strings.TrimSpace(class))]
	return ok
}

// LevelForHint maps a connection class to a level. Unknown classes are UNKNOWN.
func LevelForHint(class string) model.BandwidthLevel {
	if level, ok := hintLevels[strings.ToLower(strings.TrimSpace(class))]; ok {
		return level
	}
	return model.BandwidthUnknown
}

// Classifier maps samples onto bandwidth levels. It holds no state beyond
// its thresholds and is safe for concurrent use.
type Classifier struct {
	high   float64
	medium float64
}

// NewClassifier requires high > medium > 0.
func NewClassifier(highMbps, mediumMbps float64) (*Classifier, error) {
	if mediumMbps <= 0 {
		return nil, fmt.Errorf("medium threshold must be positive, got %v", mediumMbps)
	}
	if highMbps <= mediumMbps {
		return nil, fmt.Errorf("high threshold (%v) must exceed medium threshold (%v)", highMbps, mediumMbps)
	}
	return &Classifier{high: highMbps, medium: mediumMbps}, nil
}

// DefaultClassifier uses the 5 / 1 Mbps bands.
func DefaultClassifier() *Classifier {
	return &Classifier{high: DefaultHighThresholdMbps, medium: DefaultMediumThresholdMbps}
}

// Thresholds returns (high, medium).
func (c *Classifier) Thresholds() (float64, float64) {
	return c.high, c.medium
}

// Classify returns the level for a sample. Lower bounds are inclusive.
// A sample with no speed falls back to its connection class hint.
func (c *Classifier) Classify(sample model.BandwidthSample) model.BandwidthLevel {
	if sample.SpeedMbps == nil {
		if sample.EffectiveTypeHint != "" {
			return LevelForHint(sample.EffectiveTypeHint)
		}
		return model.BandwidthUnknown
	}
	return c.ClassifySpeed(*sample.SpeedMbps)
}

// ClassifySpeed classifies a raw Mbps value.
func (c *Classifier) ClassifySpeed(mbps float64) model.BandwidthLevel {
	switch {
	case mbps >= c.high:
		return model.BandwidthHigh
	case mbps >= c.medium:
		return model.BandwidthMedium
	default:
		return model.BandwidthLow
	}
}
