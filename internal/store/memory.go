package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/dataharvest/harvester/internal/model"
)

// MemoryStore implements Store with in-process maps. It is the default
// backend; everything is lost on restart.
type MemoryStore struct {
	mu        sync.RWMutex
	jobs      map[string]*model.Job
	bulkJobs  map[string]*model.BulkJob
	artifacts map[string]*model.Artifact
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		jobs:      make(map[string]*model.Job),
		bulkJobs:  make(map[string]*model.BulkJob),
		artifacts: make(map[string]*model.Artifact),
	}
}

func (s *MemoryStore) Migrate(context.Context) error { return nil }
func (s *MemoryStore) Close() error                  { return nil }

func (s *MemoryStore) CreateJob(_ context.Context, mode model.Mode, input model.JobInput) (*model.Job, error) {
	now := time.Now().UTC()
	job := &model.Job{
		ID:        uuid.NewString(),
		Mode:      mode,
		State:     model.JobStateQueued,
		Input:     input,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()

	clone := *job
	return &clone, nil
}

func (s *MemoryStore) UpdateJobState(_ context.Context, jobID string, state model.JobState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return eris.Wrapf(ErrNotFound, "job %s", jobID)
	}
	job.State = state
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) CompleteJob(_ context.Context, jobID string, result *model.ExtractedProfile, artifactRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return eris.Wrapf(ErrNotFound, "job %s", jobID)
	}
	job.State = model.JobStateCompleted
	job.Result = result
	job.Error = nil
	job.ArtifactRef = artifactRef
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) FailJob(_ context.Context, jobID string, errInfo model.ErrorInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return eris.Wrapf(ErrNotFound, "job %s", jobID)
	}
	job.State = model.JobStateFailed
	job.Error = &errInfo
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, jobID string) (*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, eris.Wrapf(ErrNotFound, "job %s", jobID)
	}
	clone := *job
	return &clone, nil
}

func (s *MemoryStore) ListJobs(_ context.Context, filter JobFilter) ([]model.Job, error) {
	s.mu.RLock()
	var jobs []model.Job
	for _, j := range s.jobs {
		if filter.State != "" && j.State != filter.State {
			continue
		}
		jobs = append(jobs, *j)
	}
	s.mu.RUnlock()

	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].CreatedAt.After(jobs[k].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(jobs) {
			return nil, nil
		}
		jobs = jobs[filter.Offset:]
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (s *MemoryStore) CreateBulkJob(_ context.Context, bulk *model.BulkJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *bulk
	s.bulkJobs[bulk.ID] = &clone
	return nil
}

func (s *MemoryStore) UpdateBulkJob(_ context.Context, bulk *model.BulkJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.bulkJobs[bulk.ID]; !ok {
		return eris.Wrapf(ErrNotFound, "bulk job %s", bulk.ID)
	}
	clone := *bulk
	s.bulkJobs[bulk.ID] = &clone
	return nil
}

func (s *MemoryStore) GetBulkJob(_ context.Context, bulkID string) (*model.BulkJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bulk, ok := s.bulkJobs[bulkID]
	if !ok {
		return nil, eris.Wrapf(ErrNotFound, "bulk job %s", bulkID)
	}
	clone := *bulk
	return &clone, nil
}

func (s *MemoryStore) PutArtifact(_ context.Context, artifact model.Artifact) error {
	s.mu.Lock()
	s.artifacts[artifact.ID] = &artifact
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetArtifact(_ context.Context, artifactID string) (*model.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.artifacts[artifactID]
	if !ok {
		return nil, eris.Wrapf(ErrNotFound, "artifact %s", artifactID)
	}
	clone := *a
	return &clone, nil
}
