// Package store persists jobs, bulk runs, and export artifacts. Three
// backends share one interface: an in-process map for the default setup,
// SQLite for single-node persistence, and Postgres for shared deployments.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/dataharvest/harvester/internal/config"
	"github.com/dataharvest/harvester/internal/model"
)

// ErrNotFound reports a missing job, bulk job, or artifact.
var ErrNotFound = eris.New("not found")

// JobFilter specifies criteria for listing jobs.
type JobFilter struct {
	State  model.JobState `json:"state,omitempty"`
	Limit  int            `json:"limit,omitempty"`
	Offset int            `json:"offset,omitempty"`
}

// Store defines the persistence interface for the harvesting pipeline.
type Store interface {
	// Jobs
	CreateJob(ctx context.Context, mode model.Mode, input model.JobInput) (*model.Job, error)
	UpdateJobState(ctx context.Context, jobID string, state model.JobState) error
	CompleteJob(ctx context.Context, jobID string, result *model.ExtractedProfile, artifactRef string) error
	FailJob(ctx context.Context, jobID string, errInfo model.ErrorInfo) error
	GetJob(ctx context.Context, jobID string) (*model.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error)

	// Bulk jobs
	CreateBulkJob(ctx context.Context, bulk *model.BulkJob) error
	UpdateBulkJob(ctx context.Context, bulk *model.BulkJob) error
	GetBulkJob(ctx context.Context, bulkID string) (*model.BulkJob, error)

	// Artifact registry
	PutArtifact(ctx context.Context, artifact model.Artifact) error
	GetArtifact(ctx context.Context, artifactID string) (*model.Artifact, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open builds the Store named by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite":
		return NewSQLite(cfg.DatabaseURL)
	case "postgres":
		return NewPostgres(ctx, cfg.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}
