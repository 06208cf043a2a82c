package model

import "time"

// ArtifactContentType is the MIME type of generated XLSX workbooks.
const ArtifactContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Artifact is one generated export file, kept in the registry so it can be
// downloaded after the producing job finished.
type Artifact struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Data        []byte    `json:"data"`
	CreatedAt   time.Time `json:"created_at"`
}
