package api

import (
	"time"

	"github.com/dataharvest/harvester/internal/model"
)

// jobResponse is the wire shape for a single scrape job. The extracted
// profile rides under "data" and the identifier under "job_id".
type jobResponse struct {
	JobID       string                  `json:"job_id"`
	State       model.JobState          `json:"state"`
	Mode        model.Mode              `json:"mode"`
	Data        *model.ExtractedProfile `json:"data,omitempty"`
	Error       *model.ErrorInfo        `json:"error,omitempty"`
	ArtifactRef string                  `json:"artifact_ref,omitempty"`
	CreatedAt   time.Time               `json:"created_at"`
	UpdatedAt   time.Time               `json:"updated_at"`
}

func newJobResponse(job *model.Job) jobResponse {
	return jobResponse{
		JobID:       job.ID,
		State:       job.State,
		Mode:        job.Mode,
		Data:        job.Result,
		Error:       job.Error,
		ArtifactRef: job.ArtifactRef,
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
	}
}

// rowResponse is the wire shape for one bulk row.
type rowResponse struct {
	RowIndex int              `json:"row_index"`
	Input    model.JobInput   `json:"input"`
	Job      *jobResponse     `json:"job,omitempty"`
	Error    *model.ErrorInfo `json:"error,omitempty"`
}

// bulkJobResponse is the wire shape for a bulk run: "rows" is the row count
// and "errors" the row-level failure report; per-row detail rides under
// "results".
type bulkJobResponse struct {
	JobID       string           `json:"job_id"`
	Mode        model.Mode       `json:"mode"`
	Rows        int              `json:"rows"`
	Errors      []model.RowError `json:"errors"`
	Results     []rowResponse    `json:"results"`
	ArtifactRef string           `json:"artifact_ref,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

func newBulkJobResponse(bulk *model.BulkJob) bulkJobResponse {
	results := make([]rowResponse, len(bulk.Rows))
	for i, row := range bulk.Rows {
		results[i] = rowResponse{
			RowIndex: row.RowIndex,
			Input:    row.Input,
			Error:    row.Error,
		}
		if row.Job != nil {
			jr := newJobResponse(row.Job)
			results[i].Job = &jr
		}
	}
	errs := bulk.Errors()
	if errs == nil {
		errs = []model.RowError{}
	}
	return bulkJobResponse{
		JobID:       bulk.ID,
		Mode:        bulk.Mode,
		Rows:        len(bulk.Rows),
		Errors:      errs,
		Results:     results,
		ArtifactRef: bulk.ArtifactRef,
		CreatedAt:   bulk.CreatedAt,
	}
}
