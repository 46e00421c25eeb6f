package model

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		in   string
		want LearningMode
		ok   bool
	}{
		{"auto", ModeAuto, true},
		{"VIDEO", ModeVideo, true},
		{" audio ", ModeAudio, true},
		{"text", ModeText, true},
		{"hologram", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if !tt.ok {
			assert.ErrorIs(t, err, ErrInvalidMode, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestTierForMode(t *testing.T) {
	tests := []struct {
		mode LearningMode
		want ContentTier
	}{
		{ModeVideo, TierHigh},
		{ModeAudio, TierMedium},
		{ModeText, TierLow},
	}
	for _, tt := range tests {
		got, err := TierForMode(tt.mode)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := TierForMode(ModeAuto)
	assert.ErrorIs(t, err, ErrInvalidMode)
}

func TestLevelOrdering(t *testing.T) {
	assert.Less(t, BandwidthLow.Rank(), BandwidthMedium.Rank())
	assert.Less(t, BandwidthMedium.Rank(), BandwidthHigh.Rank())
	assert.False(t, BandwidthUnknown.Comparable())
	assert.True(t, BandwidthLow.Comparable())
}

func TestSuggestionIsUpgrade(t *testing.T) {
	assert.True(t, ModeSuggestion{SuggestedMode: ModeVideo, PreviousEffectiveMode: ModeAudio}.IsUpgrade())
	assert.False(t, ModeSuggestion{SuggestedMode: ModeText, PreviousEffectiveMode: ModeAudio}.IsUpgrade())
}

func TestFetchErrorUnwraps(t *testing.T) {
	cause := errors.New("connection refused")
	var err error = &FetchError{LessonID: 3, Err: cause}

	assert.ErrorIs(t, err, cause)
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.True(t, fe.Retryable())
	assert.Contains(t, err.Error(), "lesson 3")
}

func TestVariantWireShape(t *testing.T) {
	mins := 14
	size := 52.5
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	v := ContentVariant{
		LessonID:  42,
		Tier:      TierHigh,
		Content:   VideoContent{URL: "https://cdn.example.org/42.mp4", SizeMB: &size, DurationMinutes: &mins, Quality: "720p"},
		CreatedAt: created,
	}

	data, err := json.Marshal(v)
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(data, &wire))
	assert.Equal(t, "high", wire["bandwidth_type"])
	assert.Equal(t, "video", wire["content_type"])
	assert.Equal(t, "https://cdn.example.org/42.mp4", wire["content_url"])
	assert.NotContains(t, wire, "content_text")

	var back ContentVariant
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, v.Content, back.Content)
	assert.True(t, created.Equal(back.CreatedAt))
}

func TestVariantRecordValidation(t *testing.T) {
	_, err := VariantRecord{LessonID: 1, BandwidthType: "ultra", ContentType: ContentText}.Variant()
	assert.ErrorIs(t, err, ErrInvalidTier)

	_, err = VariantRecord{LessonID: 1, BandwidthType: TierLow, ContentType: "hologram"}.Variant()
	assert.ErrorIs(t, err, ErrInvalidContent)

	v, err := VariantRecord{LessonID: 1, BandwidthType: TierMedium, ContentType: ContentAudio}.Variant()
	require.NoError(t, err)
	assert.ErrorIs(t, v.Validate(), ErrInvalidContent, "audio needs a url")

	v, err = VariantRecord{LessonID: 1, BandwidthType: TierLow, ContentType: ContentText, ContentText: "notes"}.Variant()
	require.NoError(t, err)
	assert.NoError(t, v.Validate())
}

func TestTextFallback(t *testing.T) {
	v := TextFallback(&Lesson{ID: 5, Title: "Wells", Content: "Dig deep."})
	assert.Equal(t, TierLow, v.Tier)
	assert.Equal(t, TextContent{Body: "Dig deep."}, v.Content)
}
