package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/dataharvest/harvester/internal/export"
	"github.com/dataharvest/harvester/internal/model"
	"github.com/dataharvest/harvester/internal/session"
	"github.com/dataharvest/harvester/internal/store"
)

const maxUploadBytes = 16 << 20

type scrapeURLRequest struct {
	URL       string `json:"url"`
	Mode      string `json:"mode"`
	SessionID string `json:"session_id"`
}

type scrapeNameRequest struct {
	CompanyName string `json:"company_name"`
	Geography   string `json:"geography"`
	Mode        string `json:"mode"`
	SessionID   string `json:"session_id"`
}

type bulkRequest struct {
	Mode   string           `json:"mode"`
	Inputs []model.JobInput `json:"inputs"`
}

func (s *Server) scrapeURL(w http.ResponseWriter, r *http.Request) {
	var req scrapeURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	s.runJob(w, r, model.ParseMode(req.Mode), model.JobInput{URL: req.URL}, req.SessionID)
}

func (s *Server) scrapeName(w http.ResponseWriter, r *http.Request) {
	var req scrapeNameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.CompanyName) == "" {
		writeError(w, http.StatusBadRequest, "company_name is required")
		return
	}

	s.runJob(w, r, model.ParseMode(req.Mode), model.JobInput{
		CompanyName: req.CompanyName,
		Geography:   req.Geography,
	}, req.SessionID)
}

// addSessionURL scrapes a URL and appends the resulting profile to the
// session named in the path.
func (s *Server) addSessionURL(w http.ResponseWriter, r *http.Request) {
	var req scrapeURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	s.addToSession(w, r, model.ParseMode(req.Mode), model.JobInput{URL: req.URL})
}

// addSessionName resolves and scrapes a company by name and appends the
// resulting profile to the session named in the path.
func (s *Server) addSessionName(w http.ResponseWriter, r *http.Request) {
	var req scrapeNameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.CompanyName) == "" {
		writeError(w, http.StatusBadRequest, "company_name is required")
		return
	}
	s.addToSession(w, r, model.ParseMode(req.Mode), model.JobInput{
		CompanyName: req.CompanyName,
		Geography:   req.Geography,
	})
}

func (s *Server) addToSession(w http.ResponseWriter, r *http.Request, mode model.Mode, input model.JobInput) {
	sessionID := chi.URLParam(r, "session_id")
	if _, err := s.sessions.Count(sessionID); err != nil {
		writeSessionError(w, err)
		return
	}

	job, err := s.runner.Run(r.Context(), mode, input)
	if err != nil && job == nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if job.State == model.JobStateFailed {
		writeJSON(w, http.StatusUnprocessableEntity, newJobResponse(job))
		return
	}

	if err := s.sessions.Add(sessionID, *job.Result); err != nil {
		writeSessionError(w, err)
		return
	}
	count, err := s.sessions.Count(sessionID)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"count":      count,
		"job":        newJobResponse(job),
	})
}

// runJob executes the job synchronously and returns the terminal job record.
// Failures are reported with 422: the request was well-formed but the company
// could not be harvested.
func (s *Server) runJob(w http.ResponseWriter, r *http.Request, mode model.Mode, input model.JobInput, sessionID string) {
	job, err := s.runner.Run(r.Context(), mode, input)
	if err != nil && job == nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if job.State == model.JobStateFailed {
		writeJSON(w, http.StatusUnprocessableEntity, newJobResponse(job))
		return
	}

	if sessionID != "" && job.Result != nil {
		if err := s.sessions.Add(sessionID, *job.Result); err != nil {
			zap.L().Warn("api: session add failed",
				zap.String("session_id", sessionID),
				zap.Error(err),
			)
		}
	}
	writeJSON(w, http.StatusOK, newJobResponse(job))
}

// runBulk accepts either a JSON body with explicit inputs or a multipart
// upload of a .csv/.xlsx file under the "file" field.
func (s *Server) runBulk(w http.ResponseWriter, r *http.Request) {
	var mode model.Mode
	var inputs []model.JobInput

	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		var err error
		mode, inputs, err = s.parseBulkUpload(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	} else {
		var req bulkRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		mode = model.ParseMode(req.Mode)
		inputs = req.Inputs
	}

	if len(inputs) == 0 {
		writeError(w, http.StatusBadRequest, "no input rows")
		return
	}

	bulk, err := s.runner.RunBulk(r.Context(), mode, inputs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, newBulkJobResponse(bulk))
}

func (s *Server) parseBulkUpload(r *http.Request) (model.Mode, []model.JobInput, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return "", nil, errors.New("invalid multipart form")
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return "", nil, errors.New("file field is required")
	}
	defer file.Close() //nolint:errcheck

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if ext != ".csv" && ext != ".xlsx" {
		return "", nil, fmt.Errorf("unsupported file type %q", ext)
	}

	// The XLSX reader needs a seekable file on disk.
	tmp, err := os.CreateTemp("", "bulk-*"+ext)
	if err != nil {
		return "", nil, errors.New("failed to buffer upload")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck
	defer tmp.Close()           //nolint:errcheck

	if _, err := io.Copy(tmp, io.LimitReader(file, maxUploadBytes)); err != nil {
		return "", nil, errors.New("failed to buffer upload")
	}

	inputs, err := export.ReadInputFile(tmp.Name())
	if err != nil {
		return "", nil, err
	}
	return model.ParseMode(r.FormValue("mode")), inputs, nil
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.store.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, newJobResponse(job))
}

func (s *Server) getBulkJob(w http.ResponseWriter, r *http.Request) {
	bulkID := chi.URLParam(r, "bulk_id")
	bulk, err := s.store.GetBulkJob(r.Context(), bulkID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "bulk job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, newBulkJobResponse(bulk))
}

// download serves an export workbook. The ref may be a job ID, a bulk job ID,
// or a bare artifact ID; jobs resolve through their artifact reference.
func (s *Server) download(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")

	artifactID := ref
	if job, err := s.store.GetJob(r.Context(), ref); err == nil {
		if job.ArtifactRef == "" {
			writeError(w, http.StatusConflict, "job has no artifact yet")
			return
		}
		artifactID = job.ArtifactRef
	} else if bulk, err := s.store.GetBulkJob(r.Context(), ref); err == nil {
		if bulk.ArtifactRef == "" {
			writeError(w, http.StatusConflict, "bulk job has no artifact yet")
			return
		}
		artifactID = bulk.ArtifactRef
	}

	artifact, err := s.store.GetArtifact(r.Context(), artifactID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "artifact not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	serveArtifact(w, artifact.ContentType, artifact.Filename, artifact.Data)
}

func (s *Server) startSession(w http.ResponseWriter, _ *http.Request) {
	id := s.sessions.Start()
	writeJSON(w, http.StatusCreated, map[string]string{"session_id": id})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	profiles, err := s.sessions.Snapshot(sessionID)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"count":      len(profiles),
		"profiles":   profiles,
	})
}

func (s *Server) exportSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	profiles, err := s.sessions.Snapshot(sessionID)
	if err != nil {
		writeSessionError(w, err)
		return
	}

	data, err := export.WriteProfiles(profiles)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	serveArtifact(w, model.ArtifactContentType, fmt.Sprintf("session_%.8s.xlsx", sessionID), data)
}

func (s *Server) endSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	profiles, err := s.sessions.End(sessionID)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"count":      len(profiles),
	})
}

func writeSessionError(w http.ResponseWriter, err error) {
	if errors.Is(err, session.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func serveArtifact(w http.ResponseWriter, contentType, filename string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if _, err := w.Write(data); err != nil {
		zap.L().Error("api: write artifact", zap.Error(err))
	}
}
