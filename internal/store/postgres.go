package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/dataharvest/harvester/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id           TEXT PRIMARY KEY,
	mode         TEXT NOT NULL,
	state        TEXT NOT NULL DEFAULT 'queued',
	input        JSONB NOT NULL,
	result       JSONB,
	error        JSONB,
	artifact_ref TEXT,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS bulk_jobs (
	id           TEXT PRIMARY KEY,
	mode         TEXT NOT NULL,
	rows         JSONB NOT NULL,
	artifact_ref TEXT,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS artifacts (
	id           TEXT PRIMARY KEY,
	filename     TEXT NOT NULL,
	content_type TEXT NOT NULL,
	data         BYTEA NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_jobs_state ON jobs(state);
CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at DESC);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) CreateJob(ctx context.Context, mode model.Mode, input model.JobInput) (*model.Job, error) {
	id := uuid.NewString()
	now := time.Now().UTC()

	inputJSON, err := json.Marshal(input)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal input")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO jobs (id, mode, state, input, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, string(mode), string(model.JobStateQueued), inputJSON, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert job")
	}

	return &model.Job{
		ID:        id,
		Mode:      mode,
		State:     model.JobStateQueued,
		Input:     input,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) UpdateJobState(ctx context.Context, jobID string, state model.JobState) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET state = $1, updated_at = $2 WHERE id = $3`,
		string(state), time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update job state %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "job %s", jobID)
	}
	return nil
}

func (s *PostgresStore) CompleteJob(ctx context.Context, jobID string, result *model.ExtractedProfile, artifactRef string) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal result")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET state = $1, result = $2, error = NULL, artifact_ref = $3, updated_at = $4 WHERE id = $5`,
		string(model.JobStateCompleted), resultJSON, artifactRef, time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete job %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "job %s", jobID)
	}
	return nil
}

func (s *PostgresStore) FailJob(ctx context.Context, jobID string, errInfo model.ErrorInfo) error {
	errJSON, err := json.Marshal(errInfo)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal error")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET state = $1, error = $2, updated_at = $3 WHERE id = $4`,
		string(model.JobStateFailed), errJSON, time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail job %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "job %s", jobID)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, mode, state, input, result, error, artifact_ref, created_at, updated_at FROM jobs WHERE id = $1`,
		jobID,
	)
	j, err := scanPgJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "job %s", jobID)
		}
		return nil, eris.Wrapf(err, "postgres: get job %s", jobID)
	}
	return j, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT id, mode, state, input, result, error, artifact_ref, created_at, updated_at FROM jobs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.State != "" {
		query += fmt.Sprintf(` AND state = $%d`, argIdx)
		args = append(args, string(filter.State))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanPgJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list jobs iterate")
}

func (s *PostgresStore) CreateBulkJob(ctx context.Context, bulk *model.BulkJob) error {
	rowsJSON, err := json.Marshal(bulk.Rows)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal bulk rows")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO bulk_jobs (id, mode, rows, artifact_ref, created_at) VALUES ($1, $2, $3, $4, $5)`,
		bulk.ID, string(bulk.Mode), rowsJSON, bulk.ArtifactRef, bulk.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert bulk job")
}

func (s *PostgresStore) UpdateBulkJob(ctx context.Context, bulk *model.BulkJob) error {
	rowsJSON, err := json.Marshal(bulk.Rows)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal bulk rows")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE bulk_jobs SET rows = $1, artifact_ref = $2 WHERE id = $3`,
		rowsJSON, bulk.ArtifactRef, bulk.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update bulk job %s", bulk.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "bulk job %s", bulk.ID)
	}
	return nil
}

func (s *PostgresStore) GetBulkJob(ctx context.Context, bulkID string) (*model.BulkJob, error) {
	var b model.BulkJob
	var mode string
	var rowsJSON []byte
	var artifactRef *string

	err := s.pool.QueryRow(ctx,
		`SELECT id, mode, rows, artifact_ref, created_at FROM bulk_jobs WHERE id = $1`,
		bulkID,
	).Scan(&b.ID, &mode, &rowsJSON, &artifactRef, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "bulk job %s", bulkID)
		}
		return nil, eris.Wrapf(err, "postgres: get bulk job %s", bulkID)
	}

	b.Mode = model.Mode(mode)
	if artifactRef != nil {
		b.ArtifactRef = *artifactRef
	}
	if err := json.Unmarshal(rowsJSON, &b.Rows); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal bulk rows")
	}
	return &b, nil
}

func (s *PostgresStore) PutArtifact(ctx context.Context, artifact model.Artifact) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO artifacts (id, filename, content_type, data, created_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET filename = $2, data = $4`,
		artifact.ID, artifact.Filename, artifact.ContentType, artifact.Data, artifact.CreatedAt,
	)
	return eris.Wrap(err, "postgres: put artifact")
}

func (s *PostgresStore) GetArtifact(ctx context.Context, artifactID string) (*model.Artifact, error) {
	var a model.Artifact
	err := s.pool.QueryRow(ctx,
		`SELECT id, filename, content_type, data, created_at FROM artifacts WHERE id = $1`,
		artifactID,
	).Scan(&a.ID, &a.Filename, &a.ContentType, &a.Data, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "artifact %s", artifactID)
		}
		return nil, eris.Wrapf(err, "postgres: get artifact %s", artifactID)
	}
	return &a, nil
}

func scanPgJob(row pgx.Row) (*model.Job, error) {
	var j model.Job
	var mode, state string
	var inputJSON []byte
	var resultJSON, errJSON []byte
	var artifactRef *string

	err := row.Scan(&j.ID, &mode, &state, &inputJSON, &resultJSON, &errJSON, &artifactRef, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}

	j.Mode = model.Mode(mode)
	j.State = model.JobState(state)
	if artifactRef != nil {
		j.ArtifactRef = *artifactRef
	}
	if err := json.Unmarshal(inputJSON, &j.Input); err != nil {
		return nil, eris.Wrap(err, "unmarshal input")
	}
	if len(resultJSON) > 0 && string(resultJSON) != "null" {
		j.Result = &model.ExtractedProfile{}
		if err := json.Unmarshal(resultJSON, j.Result); err != nil {
			return nil, eris.Wrap(err, "unmarshal result")
		}
	}
	if len(errJSON) > 0 {
		j.Error = &model.ErrorInfo{}
		if err := json.Unmarshal(errJSON, j.Error); err != nil {
			return nil, eris.Wrap(err, "unmarshal error")
		}
	}
	return &j, nil
}
