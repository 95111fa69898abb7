package models

import (
	"time"
)

const (
	RenderStatusSucceeded = "succeeded"
	RenderStatusFailed    = "failed"
)

// RenderRecord is one row of render history
type RenderRecord struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	SessionID   string    `gorm:"index;size:36" json:"session_id"`
	StyleID     string    `gorm:"size:64" json:"style_id"`
	Granularity int       `json:"granularity"`
	PatternMode string    `gorm:"size:32" json:"pattern_mode"`
	Provider    string    `gorm:"size:32" json:"provider"`
	Model       string    `gorm:"size:128" json:"model"`
	Status      string    `gorm:"size:16;index" json:"status"`
	Error       string    `gorm:"type:text" json:"error,omitempty"`
	DurationMS  int64     `json:"duration_ms"`
	CreatedAt   time.Time `gorm:"index" json:"created_at"`
}
