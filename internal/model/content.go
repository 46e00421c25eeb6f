package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ContentType is the kind of payload a variant carries.
type ContentType string

const (
	ContentVideo ContentType = "video"
	ContentAudio ContentType = "audio"
	ContentText  ContentType = "text"
	ContentPDF   ContentType = "pdf"
)

// ParseContentType accepts video, audio, text or pdf.
func ParseContentType(s string) (ContentType, error) {
	t := ContentType(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case ContentVideo, ContentAudio, ContentText, ContentPDF:
		return t, nil
	}
	return "", fmt.Errorf("%w: unknown content type %q", ErrInvalidContent, s)
}

// Content is one of VideoContent, AudioContent, TextContent or PDFContent.
type Content interface {
	Type() ContentType
	Validate() error
	isContent()
}

type VideoContent struct {
	URL             string
	SizeMB          *float64
	DurationMinutes *int
	Quality         string
}

type AudioContent struct {
	URL             string
	SizeMB          *float64
	DurationMinutes *int
	Quality         string
}

type TextContent struct {
	Body string
	// URL optionally points at a hosted copy of the text.
	URL string
}

type PDFContent struct {
	URL    string
	SizeMB *float64
}

func (VideoContent) Type() ContentType { return ContentVideo }
func (AudioContent) Type() ContentType { return ContentAudio }
func (TextContent) Type() ContentType  { return ContentText }
func (PDFContent) Type() ContentType   { return ContentPDF }

func (VideoContent) isContent() {}
func (AudioContent) isContent() {}
func (TextContent) isContent()  {}
func (PDFContent) isContent()   {}

func (c VideoContent) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("%w: video variant requires a url", ErrInvalidContent)
	}
	return nil
}

func (c AudioContent) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("%w: audio variant requires a url", ErrInvalidContent)
	}
	return nil
}

func (c TextContent) Validate() error {
	if c.Body == "" && c.URL == "" {
		return fmt.Errorf("%w: text variant requires a body or url", ErrInvalidContent)
	}
	return nil
}

func (c PDFContent) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("%w: pdf variant requires a url", ErrInvalidContent)
	}
	return nil
}

// ContentVariant is one representation of a lesson for a bandwidth tier.
// Keyed by (LessonID, Tier).
type ContentVariant struct {
	LessonID  int64
	Tier      ContentTier
	Content   Content
	CreatedAt time.Time
}

// Validate checks tier and payload.
func (v ContentVariant) Validate() error {
	if _, err := ParseTier(string(v.Tier)); err != nil {
		return err
	}
	if v.Content == nil {
		return fmt.Errorf("%w: variant has no content", ErrInvalidContent)
	}
	return v.Content.Validate()
}

// VariantRecord is the flat wire and storage shape of a ContentVariant.
type VariantRecord struct {
	LessonID        int64       `json:"lesson_id" yaml:"lesson_id"`
	BandwidthType   ContentTier `json:"bandwidth_type" yaml:"bandwidth_type"`
	ContentType     ContentType `json:"content_type" yaml:"content_type"`
	ContentURL      string      `json:"content_url,omitempty" yaml:"content_url"`
	ContentText     string      `json:"content_text,omitempty" yaml:"content_text"`
	SizeMB          *float64    `json:"size_mb,omitempty" yaml:"size_mb"`
	DurationMinutes *int        `json:"duration_minutes,omitempty" yaml:"duration_minutes"`
	Quality         string      `json:"quality,omitempty" yaml:"quality"`
	CreatedAt       *time.Time  `json:"created_at,omitempty" yaml:"-"`
}

// Record flattens the variant.
func (v ContentVariant) Record() VariantRecord {
	r := VariantRecord{LessonID: v.LessonID, BandwidthType: v.Tier}
	if !v.CreatedAt.IsZero() {
		t := v.CreatedAt
		r.CreatedAt = &t
	}
	switch c := v.Content.(type) {
	case VideoContent:
		r.ContentType = ContentVideo
		r.ContentURL, r.SizeMB, r.DurationMinutes, r.Quality = c.URL, c.SizeMB, c.DurationMinutes, c.Quality
	case AudioContent:
		r.ContentType = ContentAudio
		r.ContentURL, r.SizeMB, r.DurationMinutes, r.Quality = c.URL, c.SizeMB, c.DurationMinutes, c.Quality
	case TextContent:
		r.ContentType = ContentText
		r.ContentText, r.ContentURL = c.Body, c.URL
	case PDFContent:
		r.ContentType = ContentPDF
		r.ContentURL, r.SizeMB = c.URL, c.SizeMB
	}
	return r
}

// Variant rebuilds the typed variant from its flat record.
func (r VariantRecord) Variant() (ContentVariant, error) {
	tier, err := ParseTier(string(r.BandwidthType))
	if err != nil {
		return ContentVariant{}, err
	}
	ct, err := ParseContentType(string(r.ContentType))
	if err != nil {
		return ContentVariant{}, err
	}

	v := ContentVariant{LessonID: r.LessonID, Tier: tier}
	if r.CreatedAt != nil {
		v.CreatedAt = *r.CreatedAt
	}
	switch ct {
	case ContentVideo:
		v.Content = VideoContent{URL: r.ContentURL, SizeMB: r.SizeMB, DurationMinutes: r.DurationMinutes, Quality: r.Quality}
	case ContentAudio:
		v.Content = AudioContent{URL: r.ContentURL, SizeMB: r.SizeMB, DurationMinutes: r.DurationMinutes, Quality: r.Quality}
	case ContentText:
		v.Content = TextContent{Body: r.ContentText, URL: r.ContentURL}
	case ContentPDF:
		v.Content = PDFContent{URL: r.ContentURL, SizeMB: r.SizeMB}
	}
	return v, nil
}

func (v ContentVariant) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Record())
}

func (v *ContentVariant) UnmarshalJSON(data []byte) error {
	var r VariantRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	parsed, err := r.Variant()
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// TextFallback wraps a lesson's raw text as a synthetic low-tier text variant.
func TextFallback(l *Lesson) ContentVariant {
	return ContentVariant{
		LessonID: l.ID,
		Tier:     TierLow,
		Content:  TextContent{Body: l.Content},
	}
}
