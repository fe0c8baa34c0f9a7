package models

import "time"

// Export records one generated report archive.
type Export struct {
	ID           string    `json:"id"`
	Path         string    `json:"path"`
	SessionCount int       `json:"session_count"`
	TotalSeconds int64     `json:"total_seconds"`
	CreatedAt    time.Time `json:"created_at"`
}
