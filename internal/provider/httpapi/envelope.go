package httpapi

import "encoding/json"

// Envelope is the JSON wrapper used by every backend response.
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
}

// LessonContentResponse is the body of the bandwidth-aware content endpoint.
type LessonContentResponse struct {
	LessonID          int64           `json:"lesson_id"`
	LessonTitle       string          `json:"lesson_title"`
	BandwidthType     string          `json:"bandwidth_type"`
	Fallback          bool            `json:"fallback"`
	AvailableVariants []string        `json:"available_variants,omitempty"`
	Variant           json.RawMessage `json:"variant"`
}
