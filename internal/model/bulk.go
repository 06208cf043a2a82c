package model

import "time"

// RowResult is the per-row outcome of a bulk run. Exactly one of Job or
// Error is set once the row reaches a terminal state.
type RowResult struct {
	RowIndex int        `json:"row_index"`
	Input    JobInput   `json:"input"`
	Job      *Job       `json:"job,omitempty"`
	Error    *ErrorInfo `json:"error,omitempty"`
}

// BulkJob is a batch of rows fanned out to independent job runs. Rows keep
// their input order regardless of completion order.
type BulkJob struct {
	ID          string      `json:"id"`
	Mode        Mode        `json:"mode"`
	Rows        []RowResult `json:"rows"`
	ArtifactRef string      `json:"artifact_ref,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// RowError is one entry in a bulk job's error report.
type RowError struct {
	RowIndex int    `json:"row_index"`
	Message  string `json:"message"`
}

// Errors collects the row-level failures, in row order.
func (b *BulkJob) Errors() []RowError {
	var errs []RowError
	for _, r := range b.Rows {
		if r.Error != nil {
			errs = append(errs, RowError{RowIndex: r.RowIndex, Message: r.Error.Message})
		}
	}
	return errs
}

// Profiles collects the successfully extracted profiles, in row order.
func (b *BulkJob) Profiles() []ExtractedProfile {
	var profiles []ExtractedProfile
	for _, r := range b.Rows {
		if r.Job != nil && r.Job.Result != nil {
			profiles = append(profiles, *r.Job.Result)
		}
	}
	return profiles
}
