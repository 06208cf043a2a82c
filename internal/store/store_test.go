package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dataharvest/harvester/internal/config"
	"github.com/dataharvest/harvester/internal/model"
)

// backends under test; sqlite runs against a temp file.
func testStores(t *testing.T) map[string]Store {
	t.Helper()

	sqliteStore, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, sqliteStore.Migrate(context.Background()))
	t.Cleanup(func() { sqliteStore.Close() })

	return map[string]Store{
		"memory": NewMemory(),
		"sqlite": sqliteStore,
	}
}

func TestJobLifecycle(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			job, err := s.CreateJob(ctx, model.ModeRealtime, model.JobInput{URL: "https://acme.com"})
			require.NoError(t, err)
			assert.NotEmpty(t, job.ID)
			assert.Equal(t, model.JobStateQueued, job.State)

			require.NoError(t, s.UpdateJobState(ctx, job.ID, model.JobStateCrawling))

			got, err := s.GetJob(ctx, job.ID)
			require.NoError(t, err)
			assert.Equal(t, model.JobStateCrawling, got.State)
			assert.Equal(t, "https://acme.com", got.Input.URL)

			profile := &model.ExtractedProfile{
				CompanyName:  "Acme",
				Website:      "https://acme.com/",
				Verification: model.StatusPartial,
			}
			require.NoError(t, s.CompleteJob(ctx, job.ID, profile, "artifact-1"))

			got, err = s.GetJob(ctx, job.ID)
			require.NoError(t, err)
			assert.Equal(t, model.JobStateCompleted, got.State)
			assert.Equal(t, "artifact-1", got.ArtifactRef)
			require.NotNil(t, got.Result)
			assert.Equal(t, "Acme", got.Result.CompanyName)
			assert.Nil(t, got.Error)
		})
	}
}

func TestJobFailure(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			job, err := s.CreateJob(ctx, model.ModeDeep, model.JobInput{CompanyName: "Acme"})
			require.NoError(t, err)

			require.NoError(t, s.FailJob(ctx, job.ID, model.ErrorInfo{
				Stage:   "crawling",
				Message: "entry page unreachable",
			}))

			got, err := s.GetJob(ctx, job.ID)
			require.NoError(t, err)
			assert.Equal(t, model.JobStateFailed, got.State)
			require.NotNil(t, got.Error)
			assert.Equal(t, "crawling", got.Error.Stage)
			assert.Nil(t, got.Result)
		})
	}
}

func TestJobNotFound(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := s.GetJob(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			assert.ErrorIs(t, s.UpdateJobState(ctx, "missing", model.JobStateCrawling), ErrNotFound)
			assert.ErrorIs(t, s.FailJob(ctx, "missing", model.ErrorInfo{}), ErrNotFound)
		})
	}
}

func TestListJobsFilter(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			a, err := s.CreateJob(ctx, model.ModeRealtime, model.JobInput{URL: "https://a.example"})
			require.NoError(t, err)
			_, err = s.CreateJob(ctx, model.ModeRealtime, model.JobInput{URL: "https://b.example"})
			require.NoError(t, err)

			require.NoError(t, s.UpdateJobState(ctx, a.ID, model.JobStateCompleted))

			all, err := s.ListJobs(ctx, JobFilter{})
			require.NoError(t, err)
			assert.Len(t, all, 2)

			done, err := s.ListJobs(ctx, JobFilter{State: model.JobStateCompleted})
			require.NoError(t, err)
			require.Len(t, done, 1)
			assert.Equal(t, a.ID, done[0].ID)

			one, err := s.ListJobs(ctx, JobFilter{Limit: 1})
			require.NoError(t, err)
			assert.Len(t, one, 1)
		})
	}
}

func TestBulkJobRoundTrip(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			bulk := &model.BulkJob{
				ID:   "bulk-1",
				Mode: model.ModeRealtime,
				Rows: []model.RowResult{
					{RowIndex: 0, Input: model.JobInput{URL: "https://acme.com"}},
					{RowIndex: 1, Input: model.JobInput{CompanyName: "Globex"}},
				},
				CreatedAt: time.Now().UTC().Truncate(time.Second),
			}
			require.NoError(t, s.CreateBulkJob(ctx, bulk))

			bulk.Rows[1].Error = &model.ErrorInfo{Stage: "input", Message: "not found"}
			bulk.ArtifactRef = "artifact-9"
			require.NoError(t, s.UpdateBulkJob(ctx, bulk))

			got, err := s.GetBulkJob(ctx, "bulk-1")
			require.NoError(t, err)
			require.Len(t, got.Rows, 2)
			assert.Equal(t, "artifact-9", got.ArtifactRef)
			assert.Equal(t, 1, got.Rows[1].RowIndex)
			require.NotNil(t, got.Rows[1].Error)
			assert.Equal(t, "not found", got.Rows[1].Error.Message)

			_, err = s.GetBulkJob(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestArtifactRoundTrip(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			artifact := model.Artifact{
				ID:          "artifact-1",
				Filename:    "companies.xlsx",
				ContentType: model.ArtifactContentType,
				Data:        []byte{0x50, 0x4b, 0x03, 0x04},
				CreatedAt:   time.Now().UTC().Truncate(time.Second),
			}
			require.NoError(t, s.PutArtifact(ctx, artifact))

			got, err := s.GetArtifact(ctx, "artifact-1")
			require.NoError(t, err)
			assert.Equal(t, "companies.xlsx", got.Filename)
			assert.Equal(t, artifact.Data, got.Data)

			_, err = s.GetArtifact(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.StoreConfig{Driver: "mongodb"})
	assert.Error(t, err)
}

func TestOpenMemoryDefault(t *testing.T) {
	s, err := Open(context.Background(), config.StoreConfig{})
	require.NoError(t, err)
	_, ok := s.(*MemoryStore)
	assert.True(t, ok)
}
