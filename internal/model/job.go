package model

import "time"

// JobState represents the current state of a scrape job.
type JobState string

const (
	JobStateQueued      JobState = "queued"
	JobStateDiscovering JobState = "discovering"
	JobStateCrawling    JobState = "crawling"
	JobStateExtracting  JobState = "extracting"
	JobStateExporting   JobState = "exporting"
	JobStateCompleted   JobState = "completed"
	JobStateFailed      JobState = "failed"
)

// Terminal reports whether the state admits no further transitions.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// Mode is the crawl depth setting.
type Mode string

const (
	// ModeRealtime fetches the entry page plus a few high-value pages,
	// optimizing for latency.
	ModeRealtime Mode = "realtime"
	// ModeDeep runs a breadth-first same-origin traversal under a larger
	// page and wall-clock budget.
	ModeDeep Mode = "deep"
)

// ParseMode maps a request string onto a Mode, defaulting to realtime.
func ParseMode(s string) Mode {
	if s == string(ModeDeep) {
		return ModeDeep
	}
	return ModeRealtime
}

// JobInput is the tagged union of accepted job inputs: a site URL, or a
// company name with an optional geography hint.
type JobInput struct {
	URL         string `json:"url,omitempty"`
	CompanyName string `json:"company_name,omitempty"`
	Geography   string `json:"geography,omitempty"`
}

// IsURL reports whether the input is URL-shaped.
func (in JobInput) IsURL() bool { return in.URL != "" }

// IsName reports whether the input is name-shaped.
func (in JobInput) IsName() bool { return in.URL == "" && in.CompanyName != "" }

// Valid reports whether the input matches either accepted shape.
func (in JobInput) Valid() bool { return in.IsURL() || in.IsName() }

// ErrorInfo records which stage of a job failed and why.
type ErrorInfo struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

// Job is one discovery/crawl/extraction/export run. Result and Error are
// mutually exclusive; ArtifactRef is set only once State is completed.
type Job struct {
	ID          string            `json:"id"`
	Mode        Mode              `json:"mode"`
	State       JobState          `json:"state"`
	Input       JobInput          `json:"input"`
	Result      *ExtractedProfile `json:"result,omitempty"`
	Error       *ErrorInfo        `json:"error,omitempty"`
	ArtifactRef string            `json:"artifact_ref,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}
