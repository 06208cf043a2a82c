package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/dataharvest/harvester/internal/config"
	"github.com/dataharvest/harvester/internal/model"
	"github.com/dataharvest/harvester/internal/session"
	"github.com/dataharvest/harvester/internal/store"
)

// stubRunner fabricates terminal jobs without running the real pipeline.
type stubRunner struct {
	store   store.Store
	failURL string
	lastIn  model.JobInput
}

func (r *stubRunner) Run(ctx context.Context, mode model.Mode, input model.JobInput) (*model.Job, error) {
	r.lastIn = input
	job, err := r.store.CreateJob(ctx, mode, input)
	if err != nil {
		return nil, err
	}
	if input.URL != "" && input.URL == r.failURL {
		errInfo := model.ErrorInfo{Stage: "crawling", Message: "fetch failed"}
		if err := r.store.FailJob(ctx, job.ID, errInfo); err != nil {
			return nil, err
		}
		return r.store.GetJob(ctx, job.ID)
	}

	profile := model.ExtractedProfile{
		CompanyName:  input.CompanyName,
		Website:      input.URL,
		Verification: model.StatusPartial,
		ScrapedAt:    time.Now().UTC(),
	}
	if profile.CompanyName == "" {
		profile.CompanyName = "Resolved Co"
	}
	if profile.Website == "" {
		profile.Website = "https://resolved.example/"
	}

	artifactID := uuid.NewString()
	err = r.store.PutArtifact(ctx, model.Artifact{
		ID:          artifactID,
		Filename:    "company_test.xlsx",
		ContentType: model.ArtifactContentType,
		Data:        []byte("stub workbook"),
	})
	if err != nil {
		return nil, err
	}
	if err := r.store.CompleteJob(ctx, job.ID, &profile, artifactID); err != nil {
		return nil, err
	}
	return r.store.GetJob(ctx, job.ID)
}

func (r *stubRunner) RunBulk(ctx context.Context, mode model.Mode, inputs []model.JobInput) (*model.BulkJob, error) {
	rows := make([]model.RowResult, len(inputs))
	for i, in := range inputs {
		rows[i] = model.RowResult{RowIndex: i, Input: in}
		job, err := r.Run(ctx, mode, in)
		if err != nil {
			return nil, err
		}
		rows[i].Job = job
	}
	bulk := &model.BulkJob{
		ID:        uuid.NewString(),
		Mode:      mode,
		Rows:      rows,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.store.CreateBulkJob(ctx, bulk); err != nil {
		return nil, err
	}
	return bulk, nil
}

func newTestServer(t *testing.T) (*Server, *stubRunner) {
	t.Helper()
	st := store.NewMemory()
	runner := &stubRunner{store: st}
	srv := NewServer(runner, st, session.NewManager(), config.ServerConfig{})
	return srv, runner
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeJob(t *testing.T, rec *httptest.ResponseRecorder) jobResponse {
	t.Helper()
	var job jobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	return job
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestScrapeURL(t *testing.T) {
	srv, runner := newTestServer(t)
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/scrape/url", map[string]string{
		"url":  "https://acme.example/",
		"mode": "deep",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	job := decodeJob(t, rec)
	assert.Equal(t, model.JobStateCompleted, job.State)
	assert.Equal(t, model.ModeDeep, job.Mode)
	require.NotNil(t, job.Data)
	assert.Equal(t, "https://acme.example/", job.Data.Website)
	assert.NotEmpty(t, job.ArtifactRef)
	assert.Equal(t, "https://acme.example/", runner.lastIn.URL)

	// Wire contract: identifier under job_id, profile under data.
	assert.Contains(t, rec.Body.String(), `"job_id"`)
	assert.Contains(t, rec.Body.String(), `"data"`)
	assert.NotContains(t, rec.Body.String(), `"result"`)
}

func TestScrapeURLMissingURL(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/scrape/url", map[string]string{"mode": "realtime"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScrapeURLFailedJob(t *testing.T) {
	srv, runner := newTestServer(t)
	runner.failURL = "https://down.example/"

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/scrape/url", map[string]string{
		"url": "https://down.example/",
	})

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	job := decodeJob(t, rec)
	assert.Equal(t, model.JobStateFailed, job.State)
	require.NotNil(t, job.Error)
	assert.Equal(t, "crawling", job.Error.Stage)
}

func TestScrapeName(t *testing.T) {
	srv, runner := newTestServer(t)
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/scrape/name", map[string]string{
		"company_name": "Acme Corp",
		"geography":    "Germany",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	job := decodeJob(t, rec)
	assert.Equal(t, model.JobStateCompleted, job.State)
	assert.Equal(t, "Acme Corp", runner.lastIn.CompanyName)
	assert.Equal(t, "Germany", runner.lastIn.Geography)
}

func TestScrapeAppendsToSession(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/session/start", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var started map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	sessionID := started["session_id"]
	require.NotEmpty(t, sessionID)

	rec = doJSON(t, h, http.MethodPost, "/api/scrape/url", map[string]string{
		"url":        "https://acme.example/",
		"session_id": sessionID,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/session/"+sessionID+"/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Count    int                      `json:"count"`
		Profiles []model.ExtractedProfile `json:"profiles"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, 1, got.Count)
	assert.Equal(t, "https://acme.example/", got.Profiles[0].Website)
}

func TestSessionExportAndEnd(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/session/start", nil)
	var started map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	sessionID := started["session_id"]

	rec = doJSON(t, h, http.MethodPost, "/api/scrape/url", map[string]string{
		"url":        "https://acme.example/",
		"session_id": sessionID,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/session/"+sessionID+"/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.ArtifactContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")

	wb, err := xlsx.OpenReaderAt(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	require.NoError(t, err)
	require.Len(t, wb.Sheets, 1)
	assert.Equal(t, 2, len(wb.Sheets[0].Rows)) // header + one profile

	rec = doJSON(t, h, http.MethodPost, "/api/session/"+sessionID+"/end", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/session/"+sessionID+"/", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionAddEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/session/start", nil)
	var started map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	sessionID := started["session_id"]

	rec = doJSON(t, h, http.MethodPost, "/api/session/"+sessionID+"/add/url", map[string]string{
		"url": "https://acme.example/",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var added struct {
		Count int          `json:"count"`
		Job   *jobResponse `json:"job"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &added))
	assert.Equal(t, 1, added.Count)
	require.NotNil(t, added.Job)
	assert.Equal(t, model.JobStateCompleted, added.Job.State)

	rec = doJSON(t, h, http.MethodPost, "/api/session/"+sessionID+"/add/name", map[string]string{
		"company_name": "Beta GmbH",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &added))
	assert.Equal(t, 2, added.Count)

	rec = doJSON(t, h, http.MethodPost, "/api/session/"+uuid.NewString()+"/add/url", map[string]string{
		"url": "https://acme.example/",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/session/nope/", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetJob(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/scrape/url", map[string]string{"url": "https://acme.example/"})
	job := decodeJob(t, rec)

	rec = doJSON(t, h, http.MethodGet, "/api/jobs/"+job.JobID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeJob(t, rec)
	assert.Equal(t, job.JobID, got.JobID)
	assert.Equal(t, model.JobStateCompleted, got.State)

	rec = doJSON(t, h, http.MethodGet, "/api/jobs/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDownloadByJobID(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/scrape/url", map[string]string{"url": "https://acme.example/"})
	job := decodeJob(t, rec)
	require.NotEmpty(t, job.ArtifactRef)

	// By job ID and by raw artifact ID.
	for _, ref := range []string{job.JobID, job.ArtifactRef} {
		rec = doJSON(t, h, http.MethodGet, "/api/download/"+ref, nil)
		require.Equal(t, http.StatusOK, rec.Code, "ref %s", ref)
		assert.Equal(t, model.ArtifactContentType, rec.Header().Get("Content-Type"))
		assert.Equal(t, "stub workbook", rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodGet, "/api/download/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBulkJSON(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/bulk", bulkRequest{
		Mode: "realtime",
		Inputs: []model.JobInput{
			{URL: "https://a.example/"},
			{CompanyName: "Beta GmbH", Geography: "Austria"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var bulk bulkJobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bulk))
	assert.Equal(t, 2, bulk.Rows, "rows is the row count")
	require.NotNil(t, bulk.Errors, "errors is always present")
	assert.Empty(t, bulk.Errors)
	require.Len(t, bulk.Results, 2)
	assert.Equal(t, 0, bulk.Results[0].RowIndex)
	assert.Equal(t, "https://a.example/", bulk.Results[0].Input.URL)
	assert.Equal(t, "Beta GmbH", bulk.Results[1].Input.CompanyName)
	assert.Contains(t, rec.Body.String(), `"job_id"`)

	rec = doJSON(t, h, http.MethodGet, "/api/bulk/"+bulk.JobID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBulkEmptyInputs(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/bulk", bulkRequest{Mode: "realtime"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBulkUploadCSV(t *testing.T) {
	srv, _ := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("mode", "deep"))
	fw, err := mw.CreateFormFile("file", "companies.csv")
	require.NoError(t, err)
	_, err = fmt.Fprint(fw, "URL,Company,Geography\nhttps://a.example/,,\n,Beta GmbH,Austria\n")
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/bulk", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var bulk bulkJobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bulk))
	assert.Equal(t, 2, bulk.Rows)
	assert.Equal(t, model.ModeDeep, bulk.Mode)
	require.Len(t, bulk.Results, 2)
	assert.Equal(t, "https://a.example/", bulk.Results[0].Input.URL)
	assert.Equal(t, "Beta GmbH", bulk.Results[1].Input.CompanyName)
}

func TestBulkUploadRejectsUnknownType(t *testing.T) {
	srv, _ := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "companies.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte("not a spreadsheet"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/bulk", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, strings.ToLower(rec.Body.String()), "unsupported")
}
