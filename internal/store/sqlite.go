package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/dataharvest/harvester/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		dsn = "harvester.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id           TEXT PRIMARY KEY,
	mode         TEXT NOT NULL,
	state        TEXT NOT NULL DEFAULT 'queued',
	input        TEXT NOT NULL,
	result       TEXT,
	error        TEXT,
	artifact_ref TEXT,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS bulk_jobs (
	id           TEXT PRIMARY KEY,
	mode         TEXT NOT NULL,
	rows         TEXT NOT NULL,
	artifact_ref TEXT,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS artifacts (
	id           TEXT PRIMARY KEY,
	filename     TEXT NOT NULL,
	content_type TEXT NOT NULL,
	data         BLOB NOT NULL,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_jobs_state ON jobs(state);
CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateJob(ctx context.Context, mode model.Mode, input model.JobInput) (*model.Job, error) {
	id := uuid.NewString()
	now := time.Now().UTC()

	inputJSON, err := json.Marshal(input)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal input")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, mode, state, input, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, string(mode), string(model.JobStateQueued), string(inputJSON), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert job")
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

func (s *SQLiteStore) UpdateJobState(ctx context.Context, jobID string, state model.JobState) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET state = ?, updated_at = ? WHERE id = ?`,
		string(state), time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job state %s", jobID)
	}
	return checkRowsAffected(res, "job", jobID)
}

func (s *SQLiteStore) CompleteJob(ctx context.Context, jobID string, result *model.ExtractedProfile, artifactRef string) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal result")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET state = ?, result = ?, error = NULL, artifact_ref = ?, updated_at = ? WHERE id = ?`,
		string(model.JobStateCompleted), string(resultJSON), artifactRef, time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete job %s", jobID)
	}
	return checkRowsAffected(res, "job", jobID)
}

func (s *SQLiteStore) FailJob(ctx context.Context, jobID string, errInfo model.ErrorInfo) error {
	errJSON, err := json.Marshal(errInfo)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal error")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET state = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(model.JobStateFailed), string(errJSON), time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail job %s", jobID)
	}
	return checkRowsAffected(res, "job", jobID)
}

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, mode, state, input, result, error, artifact_ref, created_at, updated_at FROM jobs WHERE id = ?`,
		jobID,
	)
	return scanJob(row, jobID)
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT id, mode, state, input, result, error, artifact_ref, created_at, updated_at FROM jobs WHERE 1=1`
	var args []any

	if filter.State != "" {
		query += ` AND state = ?`
		args = append(args, string(filter.State))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanJob(rows, "")
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list jobs iterate")
}

func (s *SQLiteStore) CreateBulkJob(ctx context.Context, bulk *model.BulkJob) error {
	rowsJSON, err := json.Marshal(bulk.Rows)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal bulk rows")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO bulk_jobs (id, mode, rows, artifact_ref, created_at) VALUES (?, ?, ?, ?, ?)`,
		bulk.ID, string(bulk.Mode), string(rowsJSON), bulk.ArtifactRef, bulk.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert bulk job")
}

func (s *SQLiteStore) UpdateBulkJob(ctx context.Context, bulk *model.BulkJob) error {
	rowsJSON, err := json.Marshal(bulk.Rows)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal bulk rows")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE bulk_jobs SET rows = ?, artifact_ref = ? WHERE id = ?`,
		string(rowsJSON), bulk.ArtifactRef, bulk.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update bulk job %s", bulk.ID)
	}
	return checkRowsAffected(res, "bulk job", bulk.ID)
}

func (s *SQLiteStore) GetBulkJob(ctx context.Context, bulkID string) (*model.BulkJob, error) {
	var b model.BulkJob
	var mode, rowsJSON string
	var artifactRef sql.NullString

	err := s.db.QueryRowContext(ctx,
		`SELECT id, mode, rows, artifact_ref, created_at FROM bulk_jobs WHERE id = ?`,
		bulkID,
	).Scan(&b.ID, &mode, &rowsJSON, &artifactRef, &b.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "bulk job %s", bulkID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get bulk job %s", bulkID)
	}

	b.Mode = model.Mode(mode)
	b.ArtifactRef = artifactRef.String
	if err := json.Unmarshal([]byte(rowsJSON), &b.Rows); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal bulk rows")
	}
	return &b, nil
}

func (s *SQLiteStore) PutArtifact(ctx context.Context, artifact model.Artifact) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO artifacts (id, filename, content_type, data, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET filename = excluded.filename, data = excluded.data`,
		artifact.ID, artifact.Filename, artifact.ContentType, artifact.Data, artifact.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: put artifact")
}

func (s *SQLiteStore) GetArtifact(ctx context.Context, artifactID string) (*model.Artifact, error) {
	var a model.Artifact
	err := s.db.QueryRowContext(ctx,
		`SELECT id, filename, content_type, data, created_at FROM artifacts WHERE id = ?`,
		artifactID,
	).Scan(&a.ID, &a.Filename, &a.ContentType, &a.Data, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "artifact %s", artifactID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get artifact %s", artifactID)
	}
	return &a, nil
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanJob(row scannable, jobID string) (*model.Job, error) {
	var j model.Job
	var mode, state, inputJSON string
	var resultJSON, errJSON, artifactRef sql.NullString

	err := row.Scan(&j.ID, &mode, &state, &inputJSON, &resultJSON, &errJSON, &artifactRef, &j.CreatedAt, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "job %s", jobID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan job")
	}

	j.Mode = model.Mode(mode)
	j.State = model.JobState(state)
	j.ArtifactRef = artifactRef.String
	if err := json.Unmarshal([]byte(inputJSON), &j.Input); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal input")
	}
	if resultJSON.Valid && resultJSON.String != "null" {
		j.Result = &model.ExtractedProfile{}
		if err := json.Unmarshal([]byte(resultJSON.String), j.Result); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal result")
		}
	}
	if errJSON.Valid {
		j.Error = &model.ErrorInfo{}
		if err := json.Unmarshal([]byte(errJSON.String), j.Error); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal error")
		}
	}
	return &j, nil
}
