package models

import (
	"time"
)

const (
	DefaultStyleID     = "planning-aerial"
	DefaultGranularity = 50
	DefaultPatternMode = "natural"
)

// RenderingState is the form and preview state of one browser session.
// Images are referenced by their key in the image store.
type RenderingState struct {
	SessionID     string    `json:"session_id"`
	SourceImage   string    `json:"source_image,omitempty"`
	SourceMime    string    `json:"source_mime,omitempty"`
	ResultImage   string    `json:"result_image,omitempty"`
	IsLoading     bool      `json:"is_loading"`
	Error         string    `json:"error,omitempty"`
	SelectedStyle string    `json:"selected_style"`
	Granularity   int       `json:"granularity"`
	PatternMode   string    `json:"pattern_mode"`
	HasKey        bool      `json:"has_key"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NewRenderingState returns the state a fresh session starts with
func NewRenderingState(sessionID string) *RenderingState {
	return &RenderingState{
		SessionID:     sessionID,
		SelectedStyle: DefaultStyleID,
		Granularity:   DefaultGranularity,
		PatternMode:   DefaultPatternMode,
		UpdatedAt:     time.Now(),
	}
}

// HasSource reports whether a fabric map has been uploaded
func (s *RenderingState) HasSource() bool {
	return s.SourceImage != ""
}

// HasResult reports whether a rendering is available for download
func (s *RenderingState) HasResult() bool {
	return s.ResultImage != ""
}
