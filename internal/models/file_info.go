package models

import "time"

// FileInfo represents metadata about an uploaded log file.
type FileInfo struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	Compressed bool      `json:"compressed,omitempty"` // uploaded as .gz and expanded on disk
	UploadedAt time.Time `json:"uploadedAt"`
	Status     string    `json:"status"` // "uploaded", "parsing", "parsed", "error"
}
